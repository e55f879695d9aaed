package dockerapi

import "context"

// ArchiveRequest asks the runtime to produce one compressed archive of
// Source inside StagingDir.
type ArchiveRequest struct {
	// Source is a runtime volume name or an absolute host directory.
	Source string
	// StagingDir is a host directory the runtime may write into.
	StagingDir string
	// ArchiveName is the file name to create inside StagingDir.
	ArchiveName string
}

// Client is a narrow interface over the container runtime. Keep it small
// so it stays mockable.
type Client interface {
	// Version reports the runtime server version.
	Version(ctx context.Context) (string, error)
	// ListVolumes returns the names of all volumes the runtime knows about,
	// in the runtime's own order.
	ListVolumes(ctx context.Context) ([]string, error)
	// Archive mounts Source read-only and StagingDir writable and writes a
	// gzipped tarball of Source's contents to StagingDir/ArchiveName.
	Archive(ctx context.Context, req ArchiveRequest) error
}
