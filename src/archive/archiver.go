// Package archive turns resolved backup targets into per-target compressed
// archives inside a staging workspace.
package archive

import (
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"compose-backup/src/dockerapi"
	"compose-backup/src/resolve"
)

// ArchiveError reports a target whose extraction failed. It is fatal to
// the whole run.
type ArchiveError struct {
	Target resolve.Target
	Err    error
}

func (e *ArchiveError) Error() string {
	return fmt.Sprintf("archive %s %s: %v", e.Target.Kind, e.Target.ID, e.Err)
}

func (e *ArchiveError) Unwrap() error { return e.Err }

// Staged describes one finished target archive.
type Staged struct {
	Target resolve.Target
	Path   string
	Size   int64
}

// Archiver produces target archives through the container runtime.
type Archiver struct {
	Client    dockerapi.Client
	Workspace Workspace
	Logger    zerolog.Logger
	// OnStart is called before a target's staging directory is created.
	OnStart func(resolve.Target)
}

// New returns an Archiver staging into ws.
func New(client dockerapi.Client, ws Workspace, logger zerolog.Logger) *Archiver {
	return &Archiver{
		Client:    client,
		Workspace: ws,
		Logger:    logger.With().Str("component", "archiver").Logger(),
	}
}

// Archive stages a single target. Managed volumes and bind paths both go
// through the runtime; the bind path is simply mounted as the source.
func (a *Archiver) Archive(ctx context.Context, t resolve.Target) (Staged, error) {
	if a.OnStart != nil {
		a.OnStart(t)
	}
	dir := a.Workspace.TargetDir(t)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Staged{}, &ArchiveError{Target: t, Err: err}
	}

	log := a.Logger.With().Str("kind", string(t.Kind)).Str("target", t.ID).Logger()
	log.Info().Str("service", t.Service).Msg("archiving")

	req := dockerapi.ArchiveRequest{Source: t.ID, StagingDir: dir, ArchiveName: ArchiveName(t)}
	if err := a.Client.Archive(ctx, req); err != nil {
		return Staged{}, &ArchiveError{Target: t, Err: err}
	}

	path := a.Workspace.ArchivePath(t)
	info, err := os.Stat(path)
	if err != nil {
		return Staged{}, &ArchiveError{Target: t, Err: fmt.Errorf("archive not produced: %w", err)}
	}
	if !info.Mode().IsRegular() {
		return Staged{}, &ArchiveError{Target: t, Err: fmt.Errorf("archive %s is not a regular file", path)}
	}
	log.Info().Str("size", humanize.IBytes(uint64(info.Size()))).Msg("archived")
	return Staged{Target: t, Path: path, Size: info.Size()}, nil
}

// ArchiveAll stages every target, running up to concurrency jobs at once.
// The first failure cancels the remaining jobs and is returned.
func (a *Archiver) ArchiveAll(ctx context.Context, targets []resolve.Target, concurrency int) ([]Staged, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	staged := make([]Staged, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, t := range targets {
		if gctx.Err() != nil {
			break
		}
		i, t := i, t
		g.Go(func() error {
			// A slot may free up only because another job failed.
			if gctx.Err() != nil {
				return nil
			}
			s, err := a.Archive(gctx, t)
			if err != nil {
				return err
			}
			staged[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return staged, nil
}
