package cli

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"compose-backup/src/backup"
	"compose-backup/src/config"
)

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	EnvFile        string
	LogLevel       zerolog.Level
	LogFormat      string
	CommandTimeout time.Duration
}

// addGlobalFlags adds persistent flags to the root command. The config
// override flags are read by config.Load through viper.
func addGlobalFlags(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.String("env-file", "", "KEY=VALUE file with configuration (default: "+config.DefaultEnvFileName+" next to the compose file)")
	pf.String("log-level", "info", "Log level: trace|debug|info|warn|error")
	pf.String("log-format", "console", "Log format: console|json")
	pf.Duration("command-timeout", 0, "Deadline for each docker or rclone invocation (0 disables)")

	pf.String("remote-name", "", "rclone remote name (overrides "+config.KeyRemoteName+")")
	pf.String("remote-folder", "", "Folder on the remote (overrides "+config.KeyRemoteFolder+")")
	pf.String("notify-url", "", "Failure notification endpoint (overrides "+config.KeyFailNotify+")")
	pf.String("hostname-file", "", "Host identity file (overrides "+config.KeyHostnameFile+")")
	pf.String("image", "", "Image used for archive containers (overrides "+config.KeyImage+")")
}

// addRunFlags adds the flags only meaningful for a backup run.
func addRunFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("staging-dir", "", "Directory holding the .compose-backup workspace (default: the compose project directory)")
	f.Int("concurrency", 1, "Number of targets archived at once")
	f.Bool("dry-run", false, "Resolve and print the targets without archiving or syncing")
	f.Bool("progress", false, "Show packaging and transfer progress")
}

func getGlobalOptions(cmd *cobra.Command) (globalOptions, error) {
	pf := cmd.Root().PersistentFlags()
	envFile, _ := pf.GetString("env-file")
	levelStr, _ := pf.GetString("log-level")
	format, _ := pf.GetString("log-format")
	timeout, _ := pf.GetDuration("command-timeout")

	level, err := zerolog.ParseLevel(strings.ToLower(levelStr))
	if err != nil || level == zerolog.NoLevel {
		return globalOptions{}, &UsageError{Err: fmt.Errorf("invalid --log-level %q", levelStr)}
	}
	switch format {
	case "console", "json":
	default:
		return globalOptions{}, &UsageError{Err: fmt.Errorf("invalid --log-format %q", format)}
	}
	if timeout < 0 {
		return globalOptions{}, &UsageError{Err: fmt.Errorf("--command-timeout must not be negative")}
	}
	return globalOptions{EnvFile: envFile, LogLevel: level, LogFormat: format, CommandTimeout: timeout}, nil
}

func getRunOptions(cmd *cobra.Command, composeFile string) (backup.Options, error) {
	f := cmd.Flags()
	staging, _ := f.GetString("staging-dir")
	conc, _ := f.GetInt("concurrency")
	dry, _ := f.GetBool("dry-run")
	progress, _ := f.GetBool("progress")
	if conc < 1 {
		return backup.Options{}, &UsageError{Err: fmt.Errorf("--concurrency must be at least 1")}
	}
	opts := backup.Options{ComposeFile: composeFile, StagingDir: staging, Concurrency: conc, DryRun: dry}
	if progress {
		opts.Progress = cmd.ErrOrStderr()
	}
	return opts, nil
}

// newLogger builds the root logger writing to w.
func newLogger(w io.Writer, g globalOptions) zerolog.Logger {
	if g.LogFormat == "json" {
		return zerolog.New(w).Level(g.LogLevel).With().Timestamp().Logger()
	}
	cw := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: true}
	return zerolog.New(cw).Level(g.LogLevel).With().Timestamp().Logger()
}

// configOptions points config.Load at the env file for composeFile.
func configOptions(cmd *cobra.Command, g globalOptions, composeFile string) config.Options {
	opts := config.Options{EnvFile: g.EnvFile, Flags: cmd.Root().PersistentFlags()}
	if composeFile != "" {
		opts.DefaultEnvFile = filepath.Join(filepath.Dir(composeFile), config.DefaultEnvFileName)
	}
	return opts
}
