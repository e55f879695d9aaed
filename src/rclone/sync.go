package rclone

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"compose-backup/src/destination"
	"compose-backup/src/util/command"
)

// SyncError reports a failed transfer to the remote.
type SyncError struct {
	Remote string
	Err    error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync to %s: %v", e.Remote, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// Suffix returns the suffix given to artifacts displaced by run runTag.
func Suffix(runTag string) string { return "-" + runTag }

// SuffixedName inserts suffix before the extension of name, matching
// rclone's --suffix-keep-extension. Multi-part extensions such as .tar.gz
// are kept whole.
func SuffixedName(name, suffix string) string {
	base, ext := splitExt(name)
	return base + suffix + ext
}

func splitExt(name string) (string, string) {
	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)
	if ext == ".gz" || ext == ".bz2" || ext == ".xz" || ext == ".zst" {
		if inner := path.Ext(base); inner == ".tar" {
			base = strings.TrimSuffix(base, inner)
			ext = inner + ext
		}
	}
	return base, ext
}

// Object is one entry from `rclone lsjson`.
type Object struct {
	Path    string    `json:"Path"`
	Name    string    `json:"Name"`
	Size    int64     `json:"Size"`
	ModTime time.Time `json:"ModTime"`
	IsDir   bool      `json:"IsDir"`
}

// ProgressFlags make rclone log transfer stats to stderr while copying.
var ProgressFlags = []string{"--stats", "5s", "--stats-one-line", "--stats-log-level", "NOTICE"}

// Syncer pushes artifacts to an rclone remote, keeping displaced copies.
type Syncer struct {
	Runner command.Runner
	Binary string
	// Flags are appended to every transfer invocation.
	Flags []string
	// Progress asks rclone for periodic one-line transfer stats on stderr.
	Progress bool
	Logger   zerolog.Logger
}

// NewSyncer returns a Syncer invoking bin through runner.
func NewSyncer(runner command.Runner, bin string, flags []string, logger zerolog.Logger) *Syncer {
	if bin == "" {
		bin = "rclone"
	}
	return &Syncer{
		Runner: runner,
		Binary: bin,
		Flags:  flags,
		Logger: logger.With().Str("component", "rclone").Logger(),
	}
}

// SyncArgs builds the copy invocation. Any file at the destination that would
// be replaced is moved to the retained namespace with the run's suffix.
func (s *Syncer) SyncArgs(artifact string, dest destination.Destination, runTag string) []string {
	args := []string{
		"copy", artifact, dest.Current(),
		"--backup-dir", dest.Retained(),
		"--suffix", Suffix(runTag),
		"--suffix-keep-extension",
	}
	if s.Progress {
		args = append(args, ProgressFlags...)
	}
	return append(args, s.Flags...)
}

// Sync uploads artifact to dest. runTag must be unique per run.
func (s *Syncer) Sync(ctx context.Context, artifact string, dest destination.Destination, runTag string) error {
	if runTag == "" {
		return &SyncError{Remote: dest.Current(), Err: fmt.Errorf("run tag must not be empty")}
	}
	name := path.Base(artifact)
	log := s.Logger.With().Str("remote", dest.Current()).Logger()

	if existing, err := s.Exists(ctx, dest.Current(), name); err != nil {
		log.Warn().Err(err).Msg("could not check remote destination")
	} else if existing {
		log.Info().
			Str("retained_as", dest.Retained()+SuffixedName(name, Suffix(runTag))).
			Msg("existing artifact will be retained")
	}

	if _, err := s.Runner.Run(ctx, s.Binary, s.SyncArgs(artifact, dest, runTag)...); err != nil {
		return &SyncError{Remote: dest.Current(), Err: err}
	}
	log.Info().Str("artifact", name).Msg("artifact synced")
	return nil
}

// Exists reports whether name is present directly under dir on the remote.
func (s *Syncer) Exists(ctx context.Context, dir, name string) (bool, error) {
	objs, err := s.List(ctx, dir)
	if err != nil {
		return false, err
	}
	for _, o := range objs {
		if !o.IsDir && o.Name == name {
			return true, nil
		}
	}
	return false, nil
}

// List returns the files under dir sorted by name. A missing directory yields
// an empty list.
func (s *Syncer) List(ctx context.Context, dir string) ([]Object, error) {
	res, err := s.Runner.Run(ctx, s.Binary, "lsjson", "--files-only", dir)
	if err != nil {
		if isDirNotFound(res.Stderr) || isDirNotFound(err.Error()) {
			return nil, nil
		}
		return nil, fmt.Errorf("rclone: list %s: %w", dir, err)
	}
	var objs []Object
	if err := json.Unmarshal([]byte(res.Stdout), &objs); err != nil {
		return nil, fmt.Errorf("rclone: parse lsjson output: %w", err)
	}
	sort.Slice(objs, func(i, j int) bool { return objs[i].Name < objs[j].Name })
	return objs, nil
}

func isDirNotFound(s string) bool {
	return strings.Contains(strings.ToLower(s), "directory not found")
}
