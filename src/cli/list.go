package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"compose-backup/src/backend"
	backendrclone "compose-backup/src/backend/rclone"
	"compose-backup/src/rclone"
)

func newListCmd(stdout io.Writer) *cobra.Command {
	var output, kind string
	cmd := &cobra.Command{
		Use:   "list COMPOSE_FILE",
		Short: "List the current and retained artifacts of a project on the remote",
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
			cfg, dest, err := loadDestination(cmd, g, composeFile)
			if err != nil {
				return err
			}
			logger := newLogger(cmd.ErrOrStderr(), g)
			syncer := rclone.NewSyncer(newCommandRunner(logger, g.CommandTimeout), "rclone", cfg.RcloneFlags, logger)
			be, err := backendrclone.New(commandContext(cmd), syncer, dest)
			if err != nil {
				return err
			}
			entries, err := be.List(strings.ToLower(kind))
			if err != nil {
				return err
			}
			switch output {
			case "json":
				enc := json.NewEncoder(stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			case "table", "":
				return renderTable(stdout, entries)
			default:
				return &UsageError{Err: fmt.Errorf("unsupported --output: %s", output)}
			}
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format: table|json")
	cmd.Flags().StringVar(&kind, "kind", backend.KindAll, "Artifacts to show: all|current|retained")
	return cmd
}

func renderTable(w io.Writer, entries []backend.Entry) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tNAME\tRUN TAG\tSIZE\tMODIFIED\tPATH")
	for _, e := range entries {
		mod := ""
		if !e.ModTime.IsZero() {
			mod = e.ModTime.UTC().Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", e.Kind, e.Name, e.RunTag, humanize.IBytes(uint64(e.Size)), mod, e.Path)
	}
	return tw.Flush()
}
