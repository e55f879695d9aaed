// Package packager bundles a staging directory into the single artifact
// that is shipped to the remote.
package packager

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	pg "compose-backup/src/util/progress"
)

// PackagingError reports a failure assembling the artifact.
type PackagingError struct {
	Path string
	Err  error
}

func (e *PackagingError) Error() string {
	return fmt.Sprintf("package %s: %v", e.Path, e.Err)
}

func (e *PackagingError) Unwrap() error { return e.Err }

// Artifact is the packaged output of a run.
type Artifact struct {
	Path string
	Size int64
	// Members are the archive entry names, relative to the staging root.
	Members []string
	// Targets lists the backup target identifiers the artifact was built from.
	Targets []string
}

// Packager writes staging content into a zip archive.
type Packager struct {
	Logger zerolog.Logger
	// Progress, when set, receives per-file progress lines.
	Progress io.Writer
	// Exclude lists extra absolute paths that must never be packaged.
	Exclude []string
}

func New(logger zerolog.Logger) *Packager {
	return &Packager{Logger: logger.With().Str("component", "packager").Logger()}
}

// Package walks stagingDir and stores every regular file in destination
// under its path relative to stagingDir. destination itself is never
// included, even when it lives inside stagingDir.
func (p *Packager) Package(stagingDir, destination string) (Artifact, error) {
	root, err := filepath.Abs(stagingDir)
	if err != nil {
		return Artifact{}, &PackagingError{Path: destination, Err: err}
	}
	dest, err := filepath.Abs(destination)
	if err != nil {
		return Artifact{}, &PackagingError{Path: destination, Err: err}
	}

	files, err := p.collect(root, dest)
	if err != nil {
		return Artifact{}, &PackagingError{Path: dest, Err: err}
	}

	if err := p.write(dest, files); err != nil {
		_ = os.Remove(dest)
		return Artifact{}, &PackagingError{Path: dest, Err: err}
	}

	info, err := os.Stat(dest)
	if err != nil {
		return Artifact{}, &PackagingError{Path: dest, Err: err}
	}
	members := make([]string, 0, len(files))
	for _, f := range files {
		members = append(members, f.name)
	}
	p.Logger.Info().
		Str("artifact", dest).
		Int("files", len(members)).
		Str("size", humanize.IBytes(uint64(info.Size()))).
		Msg("artifact packaged")
	return Artifact{Path: dest, Size: info.Size(), Members: members}, nil
}

type member struct {
	path string
	name string
	info fs.FileInfo
}

func (p *Packager) collect(root, dest string) ([]member, error) {
	skip := map[string]struct{}{dest: {}}
	for _, e := range p.Exclude {
		if abs, err := filepath.Abs(e); err == nil {
			skip[abs] = struct{}{}
		}
	}

	var files []member
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if _, ok := skip[path]; ok {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, member{path: path, name: filepath.ToSlash(rel), info: info})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].name < files[j].name })
	return files, nil
}

func (p *Packager) write(dest string, files []member) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	for _, m := range files {
		if err := p.add(zw, m); err != nil {
			zw.Close()
			return fmt.Errorf("add %s: %w", m.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return out.Close()
}

func (p *Packager) add(zw *zip.Writer, m member) error {
	hdr, err := zip.FileInfoHeader(m.info)
	if err != nil {
		return err
	}
	hdr.Name = m.name
	hdr.Method = zip.Deflate
	// Target archives are already gzipped.
	if strings.HasSuffix(m.name, ".gz") {
		hdr.Method = zip.Store
	}
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	f, err := os.Open(m.path)
	if err != nil {
		return err
	}
	defer f.Close()

	var r io.Reader = f
	if p.Progress != nil {
		r = pg.NewReader(f, m.info.Size(), m.name, p.Progress)
	}
	_, err = io.Copy(w, r)
	return err
}
