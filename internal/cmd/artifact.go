package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/runboard/internal/store"
)

func newArtifactCmd() *cobra.Command {
	artifactCmd := &cobra.Command{
		Use:     "artifact",
		Aliases: []string{"artifacts"},
		Short:   "Record and list run artifacts",
	}
	artifactCmd.AddCommand(newArtifactAddCmd(), newArtifactListCmd())
	return artifactCmd
}

func newArtifactAddCmd() *cobra.Command {
	var id, kind, path, by string
	cmd := &cobra.Command{
		Use:   "add <run-id>",
		Short: "Record an artifact descriptor",
		Long: `Record an artifact descriptor in the run. The id defaults to a generated
one and can be passed to "task complete --artifact" or "session complete".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, args[0], func(a *app) error {
				// Refuse to create a run directory for an unknown run.
				if _, err := a.cc.Sessions().GetSession(args[0]); err != nil {
					return err
				}
				if id == "" {
					id = store.NewRecordID("art")
				}
				art := &store.Artifact{
					ArtifactID: id,
					RunID:      args[0],
					Kind:       kind,
					Path:       path,
					CreatedBy:  by,
				}
				if err := a.cc.Store().WriteArtifact(art); err != nil {
					return err
				}
				return a.emit(art, func(w io.Writer) {
					fmt.Fprintf(w, "Recorded artifact %s\n", art.ArtifactID)
				})
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "artifact id (generated when empty)")
	cmd.Flags().StringVar(&kind, "kind", "", "artifact kind (e.g. report, patch)")
	cmd.Flags().StringVar(&path, "path", "", "workspace-relative path of the artifact")
	cmd.Flags().StringVar(&by, "by", "", "producing agent id")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

func newArtifactListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <run-id>",
		Short: "List artifact descriptors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, args[0], func(a *app) error {
				arts, err := a.cc.Store().ListArtifacts(args[0])
				if err != nil {
					return err
				}
				if arts == nil {
					arts = []*store.Artifact{}
				}
				return a.emit(arts, func(w io.Writer) {
					if len(arts) == 0 {
						fmt.Fprintln(w, a.styles.muted.Render("No artifacts."))
						return
					}
					fmt.Fprintln(w, a.styles.header.Render(fmt.Sprintf("%-40s %-10s %-14s %s", "ARTIFACT", "KIND", "BY", "PATH")))
					for _, art := range arts {
						fmt.Fprintf(w, "%-40s %-10s %-14s %s\n", art.ArtifactID, art.Kind, orDash(art.CreatedBy), orDash(art.Path))
					}
				})
			})
		},
	}
}
