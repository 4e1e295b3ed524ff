package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/petervdpas/livepad/internal/config"
	"github.com/petervdpas/livepad/internal/content"
	"github.com/petervdpas/livepad/internal/storage"
	"github.com/petervdpas/livepad/internal/util"
)

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "Inspect stored projects",
	Long:  `List, export and remove projects in the workspace database. Run these while the server is stopped.`,
}

// withDB opens the workspace database for one command.
func withDB(fn func(ctx context.Context, db *storage.DB) error) error {
	dir, cfgPath, err := workspace()
	if err != nil {
		return err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	db, err := openDB(dir, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(context.Background(), db)
}

var projectsListCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List projects",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(func(ctx context.Context, db *storage.DB) error {
			list, err := db.List(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOutput {
				return outputJSON(out, list)
			}
			if len(list) == 0 {
				fmt.Fprintln(out, "No projects.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSEQ\tPENDING\tUPDATED")
			for _, p := range list {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", p.ID, p.Seq, p.Pending, p.Modified.Local().Format("2006-01-02 15:04"))
			}
			return tw.Flush()
		})
	},
}

var projectsRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a project and its change log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(func(ctx context.Context, db *storage.DB) error {
			if err := db.Delete(ctx, args[0]); err != nil {
				return err
			}
			printSuccess(cmd.OutOrStdout(), "removed %s", args[0])
			return nil
		})
	},
}

var (
	exportOut   string
	exportForce bool
)

var projectsExportCmd = &cobra.Command{
	Use:   "export <id>",
	Short: "Write a project's current files to a folder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(func(ctx context.Context, db *storage.DB) error {
			p, err := db.Load(ctx, args[0])
			if err != nil {
				return err
			}
			tree, err := p.HeadTree()
			if err != nil {
				return err
			}
			dest := exportOut
			if dest == "" {
				dest = p.ID
			}
			store, err := content.NewStore(dest)
			if err != nil {
				return err
			}
			if _, err := store.WriteTree(ctx, tree, exportForce); err != nil {
				return err
			}
			printSuccess(cmd.OutOrStdout(), "exported %d file(s) to %s", len(tree.Files()), dest)
			return nil
		})
	},
}

var projectsImportCmd = &cobra.Command{
	Use:   "import <id> <folder>",
	Short: "Create a project from the text files in a folder",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := util.ValidateProjectID(args[0])
		if err != nil {
			return err
		}
		store, err := content.NewStore(args[1])
		if err != nil {
			return err
		}
		return withDB(func(ctx context.Context, db *storage.DB) error {
			tree, skipped, err := store.ReadTree(ctx)
			if err != nil {
				return err
			}
			if len(tree.Files()) == 0 {
				return fmt.Errorf("%s holds no text files", store.RootAbs())
			}
			if err := db.Create(ctx, id, tree); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, s := range skipped {
				fmt.Fprintf(out, "skipped %s (%s)\n", s.Path, s.Reason)
			}
			printSuccess(out, "imported %d file(s) into %s", len(tree.Files()), id)
			return nil
		})
	},
}

func init() {
	projectsExportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Destination folder (default: ./<id>)")
	projectsExportCmd.Flags().BoolVarP(&exportForce, "force", "f", false, "Overwrite existing files")
	projectsCmd.AddCommand(projectsListCmd, projectsRmCmd, projectsExportCmd, projectsImportCmd)
}
