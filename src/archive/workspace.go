package archive

import (
	"net/url"
	"path/filepath"

	"compose-backup/src/resolve"
)

const (
	// ArtifactName is the packaged file synced to the remote.
	ArtifactName = "backup.zip"

	ManifestName  = "manifest.json"
	ChecksumsName = "checksums.txt"

	// TargetDirSuffix ends every per-target staging directory name.
	TargetDirSuffix = "_backup"

	archiveSuffix = ".tar.gz"
)

// Workspace is the local staging area of one run. Every target gets its own
// subdirectory, so concurrent archive jobs never share a directory.
type Workspace struct {
	Root string
}

// StageName is the filesystem-safe name of a target. Volume names are used
// as is; bind paths are percent-encoded whole, which keeps them distinct from
// any volume name since Docker forbids '%' in volume names.
func StageName(t resolve.Target) string {
	if t.Kind == resolve.KindBind {
		return url.PathEscape(t.ID)
	}
	return t.ID
}

// ArchiveName is the file name of a target's archive.
func ArchiveName(t resolve.Target) string {
	return StageName(t) + archiveSuffix
}

// TargetDir is the staging subdirectory holding a target's archive.
func (w Workspace) TargetDir(t resolve.Target) string {
	return filepath.Join(w.Root, StageName(t)+TargetDirSuffix)
}

// ArchivePath is the full path of a target's archive.
func (w Workspace) ArchivePath(t resolve.Target) string {
	return filepath.Join(w.TargetDir(t), ArchiveName(t))
}

func (w Workspace) ArtifactPath() string  { return filepath.Join(w.Root, ArtifactName) }
func (w Workspace) ManifestPath() string  { return filepath.Join(w.Root, ManifestName) }
func (w Workspace) ChecksumsPath() string { return filepath.Join(w.Root, ChecksumsName) }
