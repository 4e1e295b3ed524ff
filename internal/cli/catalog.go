package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/petervdpas/livepad/internal/config"
	"github.com/petervdpas/livepad/internal/luaprefabs"
	"github.com/petervdpas/livepad/internal/sitetemplates"
	"github.com/petervdpas/livepad/internal/util"
)

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List the starter templates init can seed from",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := sitetemplates.List()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return outputJSON(out, list)
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TEMPLATE\tENTRY\tDESCRIPTION")
		for _, m := range list {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", m.Dir, m.Entry, m.Description)
		}
		return tw.Flush()
	},
}

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "Bundled Lua transform plugins",
}

var pluginsListCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List bundled plugins",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := luaprefabs.List()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return outputJSON(out, list)
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "PLUGIN\tSCRIPTS\tDESCRIPTION")
		for _, m := range list {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", m.Dir, strings.Join(m.ScriptNames, ","), m.Description)
		}
		return tw.Flush()
	},
}

var pluginsOverwrite bool

var pluginsInstallCmd = &cobra.Command{
	Use:   "install <plugin>",
	Short: "Copy a bundled plugin into the workspace plugin folder",
	Long:  `Copy a bundled plugin into the workspace plugin folder. A running server picks it up without a restart.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, cfgPath, err := workspace()
		if err != nil {
			return err
		}
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		dest := util.ResolvePath(util.ResolvePath(dir, cfg.Paths.DataDir), cfg.Lua.ScriptDir)

		written, err := luaprefabs.Install(args[0], dest, pluginsOverwrite)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		printSuccess(out, "installed %s into %s", strings.Join(written, ", "), dest)
		if !cfg.Lua.Enabled {
			fmt.Fprintln(out, "Lua plugins are disabled in", cfgPath)
		}
		return nil
	},
}

func init() {
	pluginsInstallCmd.Flags().BoolVarP(&pluginsOverwrite, "force", "f", false, "Replace existing scripts")
	pluginsCmd.AddCommand(pluginsListCmd, pluginsInstallCmd)
}
