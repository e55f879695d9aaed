package cli

import (
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"compose-backup/src/archive"
	"compose-backup/src/compose"
	"compose-backup/src/config"
	"compose-backup/src/dockerapi"
	"compose-backup/src/resolve"
)

func newPlanCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "plan COMPOSE_FILE",
		Short: "Show which volumes and bind mounts a backup would include",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := getGlobalOptions(cmd)
			if err != nil {
				return err
			}
			composeFile, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			// Only the image and self-service names matter here, so a
			// missing remote does not block planning.
			cfg, err := config.Load(configOptions(cmd, g, composeFile))
			if err != nil && cfg.Image == "" {
				return err
			}
			decl, err := compose.Read(composeFile)
			if err != nil {
				return err
			}
			logger := newLogger(cmd.ErrOrStderr(), g)
			client := dockerapi.NewDocker(newCommandRunner(logger, g.CommandTimeout), cfg.Image)
			inventory, err := client.ListVolumes(commandContext(cmd))
			if err != nil {
				return err
			}
			res := resolve.Resolve(decl, inventory, filepath.Dir(composeFile), resolve.Options{
				SelfServices: cfg.SelfServices,
				VolumeNames:  decl.VolumeNames,
			})
			for _, a := range res.Ambiguous {
				fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %q matches %d volumes, using %s\n", a.Token, len(a.Matches), a.Chosen)
			}
			return renderPlan(stdout, res.Targets, res.Skipped)
		},
	}
}

func renderPlan(w io.Writer, targets []resolve.Target, skipped []resolve.Skip) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tTARGET\tSERVICE\tARCHIVE")
	for _, t := range targets {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.Kind, t.ID, t.Service, archive.ArchiveName(t))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if len(skipped) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SKIPPED\tSERVICE\tREASON")
	for _, s := range skipped {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Spec, s.Service, s.Reason)
	}
	return tw.Flush()
}
