package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"compose-backup/src/backup"
)

// Exit codes returned by Execute.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitUsage   = 2
)

// UsageError marks a command line that could not be accepted.
type UsageError struct {
	Err error
}

func (e *UsageError) Error() string { return e.Err.Error() }

func (e *UsageError) Unwrap() error { return e.Err }

func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return &UsageError{Err: err}
		}
		return nil
	}
}

// NewRootCmd returns the root cobra command for the compose-backup CLI.
func NewRootCmd(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compose-backup [flags] COMPOSE_FILE",
		Short: "Back up the volumes of a docker compose project to an rclone remote",
		Long: `compose-backup archives every named volume and directory bind mount declared
in a compose file, packages the archives into one zip file and copies it to
<remote>:/<folder>/<host>/<project>/. The previous copy is kept under
<remote>:/<folder>-old/<host>/<project>/ with the run timestamp in its name.`,
		Args:          exactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackup(cmd, args[0])
		},
	}

	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &UsageError{Err: err}
	})

	addGlobalFlags(cmd)
	addRunFlags(cmd)

	cmd.AddCommand(newVersionCmd(stdout))
	cmd.AddCommand(newPlanCmd(stdout))
	cmd.AddCommand(newListCmd(stdout))
	cmd.AddCommand(newCheckCmd(stdout))

	return cmd
}

func runBackup(cmd *cobra.Command, composeFile string) error {
	g, err := getGlobalOptions(cmd)
	if err != nil {
		return err
	}
	opts, err := getRunOptions(cmd, composeFile)
	if err != nil {
		return err
	}
	runner := newBackupRunner(cmd, g, composeFile)
	res := runner.Run(cmd.Context(), opts)
	if res.DryRun && !res.Failed() {
		return renderPlan(cmd.OutOrStdout(), res.Targets, res.Skipped)
	}
	if res.Failed() {
		return res.Err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Backed up %d target(s) to %s (run %s)\n", len(res.Targets), res.Destination, res.RunTag)
	return nil
}

// ExitCode maps an error returned by the command tree onto a process exit
// code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ue *UsageError
	if errors.As(err, &ue) {
		return ExitUsage
	}
	return ExitFailure
}

// Execute runs the CLI with the process stdio. SIGINT and SIGTERM cancel the
// run; staging cleanup still happens before exit.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCmd(os.Stdout, os.Stderr)
	err := root.ExecuteContext(ctx)
	code := ExitCode(err)
	switch code {
	case ExitUsage:
		fmt.Fprintf(os.Stderr, "Error: %v\nRun '%s --help' for usage.\n", err, root.CommandPath())
	case ExitFailure:
		var se *backup.StageError
		if errors.As(err, &se) {
			fmt.Fprintf(os.Stderr, "Backup failed at %s: %v\n", se.Stage, se.Err)
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
	}
	return code
}
