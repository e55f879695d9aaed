package rclone

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"

	"compose-backup/src/backend"
	"compose-backup/src/destination"
	"compose-backup/src/rclone"
)

type listFunc func(context.Context, *rclone.Syncer, string) ([]rclone.Object, error)

var listObjects listFunc = func(ctx context.Context, s *rclone.Syncer, dir string) ([]rclone.Object, error) {
	return s.List(ctx, dir)
}

// runTagRegexp matches the suffix rclone inserts before the extension of a
// displaced artifact.
var runTagRegexp = regexp.MustCompile(`-([0-9]{14})(\.[^-]*)?$`)

type Backend struct {
	ctx    context.Context
	syncer *rclone.Syncer
	dest   destination.Destination
}

func New(ctx context.Context, syncer *rclone.Syncer, dest destination.Destination) (*Backend, error) {
	if syncer == nil {
		return nil, errors.New("rclone syncer is required")
	}
	if dest.Remote == "" {
		return nil, errors.New("rclone destination must not be empty")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return &Backend{ctx: ctx, syncer: syncer, dest: dest}, nil
}

func (b *Backend) List(kind string) ([]backend.Entry, error) {
	kinds := []string{backend.KindCurrent, backend.KindRetained}
	if kind != "" && kind != backend.KindAll {
		kinds = []string{kind}
	}

	var entries []backend.Entry
	for _, k := range kinds {
		var dir string
		switch k {
		case backend.KindCurrent:
			dir = b.dest.Current()
		case backend.KindRetained:
			dir = b.dest.Retained()
		default:
			return nil, fmt.Errorf("rclone backend: unsupported kind %s", k)
		}
		objs, err := listObjects(b.ctx, b.syncer, dir)
		if err != nil {
			return nil, err
		}
		for _, o := range objs {
			if o.IsDir {
				continue
			}
			e := backend.Entry{
				Kind:    k,
				Name:    o.Name,
				Size:    o.Size,
				ModTime: o.ModTime,
				Path:    dir + o.Path,
			}
			if k == backend.KindRetained {
				e.RunTag = ParseRunTag(o.Name)
			}
			entries = append(entries, e)
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.RunTag != b.RunTag {
			return a.RunTag < b.RunTag
		}
		return a.Name < b.Name
	})

	if len(entries) == 0 {
		return []backend.Entry{}, nil
	}
	return entries, nil
}

// ParseRunTag extracts the run tag from a retained artifact name, or ""
// when the name carries none.
func ParseRunTag(name string) string {
	if m := runTagRegexp.FindStringSubmatch(name); len(m) >= 2 {
		return m[1]
	}
	return ""
}

// SetListForTest allows tests to stub out remote listing.
func SetListForTest(fn listFunc) func() {
	prev := listObjects
	listObjects = fn
	return func() { listObjects = prev }
}
