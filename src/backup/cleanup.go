package backup

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"compose-backup/src/archive"
	"compose-backup/src/resolve"
)

// Cleanup removes the staging output of a run: each target's staging
// directory, the packaged artifact, the manifest and checksums. The workspace
// root and its lock file stay. Missing paths are ignored, so Cleanup can run
// any number of times. Callers hold the workspace lock.
func Cleanup(ws archive.Workspace, targets []resolve.Target) error {
	if ws.Root == "" {
		return nil
	}
	var errs []error
	for _, t := range targets {
		errs = append(errs, removeAll(ws.TargetDir(t)))
	}
	for _, p := range []string{ws.ArtifactPath(), ws.ManifestPath(), ws.ChecksumsPath()} {
		errs = append(errs, removeFile(p))
	}
	return errors.Join(errs...)
}

// sweepStale removes staging output left behind by an interrupted run.
func sweepStale(ws archive.Workspace) ([]string, error) {
	entries, err := os.ReadDir(ws.Root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var removed []string
	var errs []error
	for _, e := range entries {
		name := e.Name()
		stale := (e.IsDir() && strings.HasSuffix(name, archive.TargetDirSuffix)) ||
			name == archive.ArtifactName || name == archive.ManifestName || name == archive.ChecksumsName
		if !stale {
			continue
		}
		if err := os.RemoveAll(filepath.Join(ws.Root, name)); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, name)
	}
	return removed, errors.Join(errs...)
}

func removeAll(path string) error {
	if err := os.RemoveAll(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
