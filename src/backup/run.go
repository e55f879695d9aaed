// Package backup drives one backup run of a compose project: configuration,
// volume resolution, archiving, packaging, remote sync, failure notification,
// and cleanup.
package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/rs/zerolog"

	"compose-backup/src/archive"
	"compose-backup/src/compose"
	"compose-backup/src/config"
	"compose-backup/src/destination"
	"compose-backup/src/dockerapi"
	"compose-backup/src/lock"
	"compose-backup/src/notify"
	"compose-backup/src/packager"
	"compose-backup/src/resolve"
)

// RunTagLayout formats the run tag used to name retained artifacts.
const RunTagLayout = "20060102150405"

// Syncer pushes the packaged artifact to its remote destination.
type Syncer interface {
	Sync(ctx context.Context, artifact string, dest destination.Destination, runTag string) error
}

// Notifier reports a failed run.
type Notifier interface {
	Notify(ctx context.Context, p notify.Payload)
}

// Options describe one run.
type Options struct {
	ComposeFile string
	// StagingDir is the directory that holds the run's workspace,
	// WorkspaceDir(StagingDir). It defaults to DefaultStagingDir(ComposeFile).
	StagingDir  string
	Concurrency int
	DryRun      bool
	// Progress receives packaging progress lines when set.
	Progress io.Writer
}

// WorkDirName is the directory created inside the staging directory. Runs
// only ever write, sweep and clean up below it.
const WorkDirName = ".compose-backup"

// DefaultStagingDir is the staging directory used when none is configured:
// the compose project directory.
func DefaultStagingDir(composeFile string) string {
	return filepath.Dir(composeFile)
}

// WorkspaceDir is the workspace root owned by runs staging in stagingDir.
func WorkspaceDir(stagingDir string) string {
	return filepath.Join(stagingDir, WorkDirName)
}

// cleanup is replaced in tests to observe the lock state during cleanup.
var cleanup = Cleanup

// Runner wires the stages together. The factories receive the loaded
// configuration so that each component is built from explicit values.
type Runner struct {
	LoadConfig  func() (config.Config, error)
	NewClient   func(config.Config) dockerapi.Client
	NewSyncer   func(config.Config) Syncer
	NewNotifier func(url string) Notifier
	Hostname    func(overrideFile string) (string, error)
	Clock       clock.Clock
	Logger      zerolog.Logger
}

// run holds the state of a single invocation.
type run struct {
	*Runner
	opts   Options
	log    zerolog.Logger
	result RunResult
	cfg    config.Config
	client dockerapi.Client
	host   string
	proj   string
	ws     archive.Workspace
	lk     *lock.Lock
}

// Run executes the pipeline and always returns a RunResult. Staging output is
// removed on every exit path once archiving has begun.
func (r *Runner) Run(ctx context.Context, opts Options) RunResult {
	clk := r.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	composeFile, err := filepath.Abs(opts.ComposeFile)
	if err == nil {
		opts.ComposeFile = composeFile
	}
	if opts.StagingDir == "" {
		opts.StagingDir = DefaultStagingDir(opts.ComposeFile)
	}
	// Docker only accepts absolute host paths as bind sources.
	if stagingDir, err := filepath.Abs(opts.StagingDir); err == nil {
		opts.StagingDir = stagingDir
	}

	rn := &run{Runner: r, opts: opts, ws: archive.Workspace{Root: WorkspaceDir(opts.StagingDir)}}
	rn.result = RunResult{
		Stage:  StageInit,
		RunID:  uuid.NewString(),
		RunTag: clk.Now().UTC().Format(RunTagLayout),
		DryRun: opts.DryRun,
	}
	rn.log = r.Logger.With().
		Str("component", "backup").
		Str("run_id", rn.result.RunID).
		Str("run_tag", rn.result.RunTag).
		Logger()
	rn.log.Info().Str("compose_file", opts.ComposeFile).Bool("dry_run", opts.DryRun).Msg("backup run started")

	start := clk.Now()
	err = rn.execute(ctx, clk)
	if err != nil {
		rn.fail(ctx, err)
	}
	rn.release()
	if err != nil {
		rn.log.Debug().Str("state", string(rn.result.State())).Msg("run ended")
		return rn.result
	}
	rn.result.Status = StatusSuccess
	rn.result.Stage = StageDone
	rn.log.Info().
		Int("targets", len(rn.result.Targets)).
		Str("destination", rn.result.Destination).
		Str("state", string(rn.result.State())).
		Dur("took", clk.Now().Sub(start).Round(time.Millisecond)).
		Msg("backup run finished")
	return rn.result
}

func (rn *run) execute(ctx context.Context, clk clock.Clock) error {
	cfg, err := rn.LoadConfig()
	rn.cfg = cfg
	if err != nil {
		return &StageError{Stage: StageConfigLoaded, Err: err}
	}
	rn.client = rn.NewClient(cfg)
	rn.advance(StageConfigLoaded)

	dest, res, err := rn.resolve(ctx)
	if err != nil {
		return &StageError{Stage: StageInventoryResolved, Err: err}
	}
	rn.result.Targets = res.Targets
	rn.result.Skipped = res.Skipped
	rn.result.Destination = dest.Current()
	rn.logPlan(res)
	rn.advance(StageInventoryResolved)

	if rn.opts.DryRun {
		rn.log.Info().Msg("dry run, stopping before archiving")
		return nil
	}

	ws := rn.ws
	lk, err := lock.Acquire(ws.Root)
	if err != nil {
		return &StageError{Stage: StageArchived, Err: err}
	}
	rn.lk = lk
	if removed, sweepErr := sweepStale(ws); sweepErr != nil {
		rn.log.Warn().Err(sweepErr).Msg("could not remove stale staging output")
	} else if len(removed) > 0 {
		rn.log.Warn().Strs("removed", removed).Msg("removed staging output of an interrupted run")
	}

	archiver := archive.New(rn.client, ws, rn.log)
	staged, err := archiver.ArchiveAll(ctx, res.Targets, rn.opts.Concurrency)
	if err != nil {
		return &StageError{Stage: StageArchived, Err: err}
	}
	rn.advance(StageArchived)

	m := archive.Manifest{
		RunID:       rn.result.RunID,
		RunTag:      rn.result.RunTag,
		Project:     rn.proj,
		Host:        rn.host,
		ComposeFile: rn.opts.ComposeFile,
		CreatedAt:   clk.Now().UTC(),
	}
	if err := archive.WriteManifest(ws, m, staged); err != nil {
		return &StageError{Stage: StagePackaged, Err: &packager.PackagingError{Path: ws.ManifestPath(), Err: err}}
	}
	pk := packager.New(rn.log)
	pk.Progress = rn.opts.Progress
	pk.Exclude = []string{lk.Path}
	artifact, err := pk.Package(ws.Root, ws.ArtifactPath())
	if err != nil {
		return &StageError{Stage: StagePackaged, Err: err}
	}
	artifact.Targets = res.IDs()
	rn.log.Debug().Str("artifact", artifact.Path).Strs("targets", artifact.Targets).Msg("artifact ready")
	rn.advance(StagePackaged)

	if err := rn.NewSyncer(rn.cfg).Sync(ctx, artifact.Path, dest, rn.result.RunTag); err != nil {
		return &StageError{Stage: StageSynced, Err: err}
	}
	rn.advance(StageSynced)
	return nil
}

func (rn *run) resolve(ctx context.Context) (destination.Destination, resolve.Result, error) {
	hostname := rn.Hostname
	if hostname == nil {
		hostname = destination.Hostname
	}
	host, err := hostname(rn.cfg.HostnameFile)
	if err != nil {
		return destination.Destination{}, resolve.Result{}, err
	}
	proj, err := destination.ProjectName(rn.opts.ComposeFile)
	if err != nil {
		return destination.Destination{}, resolve.Result{}, err
	}
	rn.host, rn.proj = host, proj
	dest, err := destination.New(rn.cfg.RemoteName, rn.cfg.RemoteFolder, host, proj)
	if err != nil {
		return destination.Destination{}, resolve.Result{}, err
	}

	decl, err := compose.Read(rn.opts.ComposeFile)
	if err != nil {
		return destination.Destination{}, resolve.Result{}, err
	}
	inventory, err := rn.client.ListVolumes(ctx)
	if err != nil {
		return destination.Destination{}, resolve.Result{}, fmt.Errorf("list volumes: %w", err)
	}
	res := resolve.Resolve(decl, inventory, filepath.Dir(rn.opts.ComposeFile), resolve.Options{
		SelfServices: rn.cfg.SelfServices,
		VolumeNames:  decl.VolumeNames,
	})
	return dest, res, nil
}

func (rn *run) logPlan(res resolve.Result) {
	for _, t := range res.Targets {
		ev := rn.log.Info().Str("kind", string(t.Kind)).Str("target", t.ID).Str("service", t.Service)
		if t.RelPath != "" {
			ev = ev.Str("rel_path", t.RelPath)
		}
		ev.Msg("backup target")
	}
	for _, s := range res.Skipped {
		rn.log.Debug().Str("service", s.Service).Str("spec", s.Spec).Str("reason", string(s.Reason)).Msg("volume skipped")
	}
	for _, a := range res.Ambiguous {
		rn.log.Warn().Str("token", a.Token).Strs("matches", a.Matches).Str("chosen", a.Chosen).Msg("ambiguous volume match")
	}
}

func (rn *run) advance(s Stage) {
	rn.result.Stage = s
	rn.log.Debug().Str("stage", string(s)).Msg("stage reached")
}

func (rn *run) fail(ctx context.Context, err error) {
	var se *StageError
	if !errors.As(err, &se) {
		se = &StageError{Stage: rn.result.Stage, Err: err}
	}
	rn.result.Status = StatusFailed
	rn.result.Stage = se.Stage
	rn.result.Err = se
	rn.log.Error().Err(se.Err).Str("stage", string(se.Stage)).Msg("backup run failed")

	var n Notifier = notify.New(rn.cfg.FailNotifyURL, rn.Logger)
	if rn.NewNotifier != nil {
		n = rn.NewNotifier(rn.cfg.FailNotifyURL)
	}
	// The run context may already be cancelled; the notifier bounds itself.
	n.Notify(context.WithoutCancel(ctx), notify.Payload{
		Message: notify.Message,
		Reason:  se.Err.Error(),
		Stage:   string(se.Stage),
		Host:    rn.host,
		Project: rn.proj,
		RunID:   rn.result.RunID,
	})
}

// release removes staging output and then drops the staging lock. It only
// acts once the lock was taken, so a run blocked on the lock never touches
// another run's files, and a run waiting for the lock never sees ours.
func (rn *run) release() {
	if rn.lk == nil {
		return
	}
	if err := cleanup(rn.ws, rn.result.Targets); err != nil {
		rn.log.Warn().Err(err).Str("staging_dir", rn.ws.Root).Msg("cleanup incomplete")
	} else {
		rn.result.Cleaned = true
		rn.log.Debug().Str("stage", string(StageCleaned)).Str("staging_dir", rn.ws.Root).Msg("staging cleaned")
	}
	if err := rn.lk.Release(); err != nil {
		rn.log.Warn().Err(err).Msg("release staging lock")
	}
	rn.lk = nil
}
