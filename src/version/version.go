package version

// Version is the compose-backup release string. Overridden at build time with
// -ldflags "-X compose-backup/src/version.Version=...".
var Version = "0.3.0-dev"
