// Package config resolves the settings compose-backup needs before any work
// begins: the rclone remote, the remote folder, and the optional failure
// notification endpoint, plus a handful of tuning knobs.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kballard/go-shellquote"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Recognized keys. They are read from flags, the environment, or a KEY=VALUE file.
const (
	KeyRemoteName   = "RCLONE_REMOTE_NAME"
	KeyRemoteFolder = "RCLONE_REMOTE_FOLDER"
	KeyFailNotify   = "FAIL_NOTIFY_URL"
	KeyHostnameFile = "HOST_HOSTNAME_FILE"
	KeyImage        = "BACKUP_IMAGE"
	KeyRcloneFlags  = "RCLONE_FLAGS"
	KeySelfServices = "BACKUP_SELF_SERVICES"
)

const (
	DefaultHostnameFile = "/etc/host_hostname"
	DefaultImage        = "ubuntu"
	DefaultSelfService  = "docker-backup"

	// DefaultEnvFileName is looked up next to the compose file when no
	// explicit env file is given.
	DefaultEnvFileName = "compose-backup.env"
)

// flagKeys maps command-line flag names onto config keys.
var flagKeys = map[string]string{
	"remote-name":   KeyRemoteName,
	"remote-folder": KeyRemoteFolder,
	"notify-url":    KeyFailNotify,
	"hostname-file": KeyHostnameFile,
	"image":         KeyImage,
}

// Config is the resolved configuration for one run. It is passed explicitly
// to every component that needs it.
type Config struct {
	RemoteName    string
	RemoteFolder  string
	FailNotifyURL string
	HostnameFile  string
	Image         string
	RcloneFlags   []string
	SelfServices  []string
}

// ConfigError reports a missing or invalid configuration value.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	switch {
	case e.Field != "" && e.Err != nil:
		return fmt.Sprintf("config: %s: %v", e.Field, e.Err)
	case e.Field != "":
		return fmt.Sprintf("config: %s is not set", e.Field)
	default:
		return fmt.Sprintf("config: %v", e.Err)
	}
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Options controls where Load looks for values.
type Options struct {
	// EnvFile is an explicit KEY=VALUE file. It must exist when set.
	EnvFile string
	// DefaultEnvFile is read when present and EnvFile is empty.
	DefaultEnvFile string
	// Flags, when non-nil, override environment and file values for the
	// flags listed in flagKeys that were set on the command line.
	Flags *pflag.FlagSet
}

// Load resolves the configuration. On a ConfigError the partially resolved
// Config is still returned so the caller can reach the failure endpoint when
// that value was available.
func Load(opts Options) (Config, error) {
	v := viper.New()
	v.SetDefault(KeyHostnameFile, DefaultHostnameFile)
	v.SetDefault(KeyImage, DefaultImage)
	v.SetDefault(KeySelfServices, DefaultSelfService)
	for _, key := range []string{KeyRemoteName, KeyRemoteFolder, KeyFailNotify, KeyHostnameFile, KeyImage, KeyRcloneFlags, KeySelfServices} {
		// BindEnv only fails without a key argument.
		_ = v.BindEnv(key)
	}

	if opts.Flags != nil {
		for flag, key := range flagKeys {
			if f := opts.Flags.Lookup(flag); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, &ConfigError{Field: key, Err: err}
				}
			}
		}
	}

	if err := readEnvFile(v, opts); err != nil {
		return Config{}, err
	}

	cfg := Config{
		RemoteName:    strings.TrimSpace(v.GetString(KeyRemoteName)),
		RemoteFolder:  strings.Trim(strings.TrimSpace(v.GetString(KeyRemoteFolder)), "/"),
		FailNotifyURL: strings.TrimSpace(v.GetString(KeyFailNotify)),
		HostnameFile:  v.GetString(KeyHostnameFile),
		Image:         v.GetString(KeyImage),
		SelfServices:  splitList(v.GetString(KeySelfServices)),
	}

	if raw := v.GetString(KeyRcloneFlags); raw != "" {
		words, err := shellquote.Split(raw)
		if err != nil {
			return cfg, &ConfigError{Field: KeyRcloneFlags, Err: err}
		}
		cfg.RcloneFlags = words
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks that the mandatory fields are present.
func (c Config) Validate() error {
	if c.RemoteName == "" {
		return &ConfigError{Field: KeyRemoteName}
	}
	if c.RemoteFolder == "" {
		return &ConfigError{Field: KeyRemoteFolder}
	}
	if c.Image == "" {
		return &ConfigError{Field: KeyImage}
	}
	return nil
}

func readEnvFile(v *viper.Viper, opts Options) error {
	path := opts.EnvFile
	if path == "" {
		if opts.DefaultEnvFile == "" {
			return nil
		}
		if _, err := os.Stat(opts.DefaultEnvFile); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return &ConfigError{Err: fmt.Errorf("stat env file: %w", err)}
		}
		path = opts.DefaultEnvFile
	}

	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return &ConfigError{Err: fmt.Errorf("read env file %s: %w", filepath.Clean(path), err)}
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
