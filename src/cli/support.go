package cli

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"compose-backup/src/backup"
	"compose-backup/src/config"
	"compose-backup/src/destination"
	"compose-backup/src/dockerapi"
	"compose-backup/src/rclone"
	"compose-backup/src/util/command"
)

type commandRunnerFunc func(zerolog.Logger, time.Duration) command.Runner

var newCommandRunner commandRunnerFunc = func(logger zerolog.Logger, timeout time.Duration) command.Runner {
	return command.NewExecRunner(logger, timeout)
}

// SetCommandRunnerForTest replaces the runner used for docker and rclone
// invocations. The returned function restores the previous runner.
func SetCommandRunnerForTest(fn func(zerolog.Logger, time.Duration) command.Runner) func() {
	prev := newCommandRunner
	newCommandRunner = fn
	return func() { newCommandRunner = prev }
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// newBackupRunner wires the production components for one backup run.
func newBackupRunner(cmd *cobra.Command, g globalOptions, composeFile string) *backup.Runner {
	logger := newLogger(cmd.ErrOrStderr(), g)
	runner := newCommandRunner(logger, g.CommandTimeout)
	progress, _ := cmd.Flags().GetBool("progress")
	return &backup.Runner{
		LoadConfig: func() (config.Config, error) {
			return config.Load(configOptions(cmd, g, composeFile))
		},
		NewClient: func(cfg config.Config) dockerapi.Client {
			return dockerapi.NewDocker(runner, cfg.Image)
		},
		NewSyncer: func(cfg config.Config) backup.Syncer {
			syncRunner := runner
			if er, ok := runner.(*command.ExecRunner); ok && progress {
				syncRunner = er.WithStream(cmd.ErrOrStderr())
			}
			s := rclone.NewSyncer(syncRunner, "rclone", cfg.RcloneFlags, logger)
			s.Progress = progress
			return s
		},
		Hostname: destination.Hostname,
		Logger:   logger,
	}
}

// loadDestination resolves the remote destination of composeFile without
// touching the runtime.
func loadDestination(cmd *cobra.Command, g globalOptions, composeFile string) (config.Config, destination.Destination, error) {
	cfg, err := config.Load(configOptions(cmd, g, composeFile))
	if err != nil {
		return cfg, destination.Destination{}, err
	}
	host, err := destination.Hostname(cfg.HostnameFile)
	if err != nil {
		return cfg, destination.Destination{}, err
	}
	proj, err := destination.ProjectName(composeFile)
	if err != nil {
		return cfg, destination.Destination{}, err
	}
	dest, err := destination.New(cfg.RemoteName, cfg.RemoteFolder, host, proj)
	return cfg, dest, err
}
