package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"compose-backup/src/config"
	"compose-backup/src/dockerapi"
	"compose-backup/src/rclone"
)

func newCheckCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify that docker and a compatible rclone are available",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := getGlobalOptions(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cmd.ErrOrStderr(), g)
			runner := newCommandRunner(logger, g.CommandTimeout)
			ctx := commandContext(cmd)

			var errs []error
			docker := dockerapi.NewDocker(runner, config.DefaultImage)
			if v, err := docker.Version(ctx); err != nil {
				fmt.Fprintf(stdout, "docker: unavailable (%v)\n", err)
				errs = append(errs, err)
			} else {
				fmt.Fprintf(stdout, "docker: %s\n", v)
			}

			info, err := rclone.Detect(ctx, runner)
			switch {
			case err != nil:
				fmt.Fprintf(stdout, "rclone: unavailable (%v)\n", err)
				errs = append(errs, err)
			case !rclone.IsCompatible(info.Version):
				fmt.Fprintf(stdout, "rclone: %s at %s (requires %s or newer)\n", info.Version, info.Path, rclone.RequiredVersion)
				errs = append(errs, fmt.Errorf("rclone %s is older than required %s", info.Version, rclone.RequiredVersion))
			default:
				fmt.Fprintf(stdout, "rclone: %s at %s\n", info.Version, info.Path)
			}
			return errors.Join(errs...)
		},
	}
}
