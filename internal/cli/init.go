package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/petervdpas/livepad/internal/app"
	"github.com/petervdpas/livepad/internal/config"
	"github.com/petervdpas/livepad/internal/sitetemplates"
	"github.com/petervdpas/livepad/internal/storage"
	"github.com/petervdpas/livepad/internal/util"
)

var (
	initInteractive bool
	initForce       bool
	initSeed        string
	initTemplate    string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a workspace config and a starter project",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, cfgPath, err := workspace()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		if _, err := os.Stat(cfgPath); err == nil && !initForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", cfgPath)
		}

		cfg := config.Default()
		if initInteractive {
			cfg = app.PromptInteractive(cmd.InOrStdin(), out, dir, cfgPath, cfg)
		}
		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		printSuccess(out, "wrote %s", cfgPath)

		if initSeed == "" {
			return nil
		}
		id, err := util.ValidateProjectID(initSeed)
		if err != nil {
			return err
		}
		db, err := openDB(dir, cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := context.Background()
		if _, err := db.Load(ctx, id); err == nil {
			printSuccess(out, "project %s already exists", id)
			return nil
		} else if !errors.Is(err, storage.ErrNoProject) {
			return err
		}
		tree, err := sitetemplates.Tree(initTemplate)
		if err != nil {
			return err
		}
		if err := db.Create(ctx, id, tree); err != nil {
			return err
		}
		printSuccess(out, "created project %s from template %s", id, initTemplate)
		return nil
	},
}

func openDB(dir string, cfg config.Config) (*storage.DB, error) {
	dataDir := util.ResolvePath(dir, cfg.Paths.DataDir)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return storage.Open(util.ResolvePath(dataDir, cfg.Storage.Path))
}

func init() {
	initCmd.Flags().BoolVarP(&initInteractive, "interactive", "i", false, "Ask for each setting")
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite an existing config")
	initCmd.Flags().StringVar(&initSeed, "seed", "demo", "Create this project (empty skips)")
	initCmd.Flags().StringVarP(&initTemplate, "template", "t", sitetemplates.Default, "Starter template for the seeded project")
}
