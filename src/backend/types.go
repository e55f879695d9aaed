package backend

import (
	"time"
)

// Entry is one artifact stored at a remote destination.
type Entry struct {
	Kind    string    // current|retained
	Name    string    // file name on the remote
	RunTag  string    // run that displaced the artifact, retained only
	Size    int64     // bytes
	ModTime time.Time // as reported by the remote
	Path    string    // full remote path
}

// Kind constants used for filtering.
const (
	KindAll      = "all"
	KindCurrent  = "current"
	KindRetained = "retained"
)

// StorageBackend lists artifacts kept for one project destination.
type StorageBackend interface {
	List(kind string) ([]Entry, error)
}
