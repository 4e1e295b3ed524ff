package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const configName = "livepad.json"

var (
	// Global flags
	workDir    string
	jsonOutput bool
)

// rootCmd is the root command for livepad.
var rootCmd = &cobra.Command{
	Use:     "livepad",
	Version: "dev",
	Short:   "Collaborative multi-file editor with live preview",
	Long: `livepad hosts projects that several people edit at once. Every file is
compiled into a browser-loadable executable as it changes, and the preview
follows the latest build.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
}

func SetVersion(v string) {
	if v == "" {
		return
	}
	rootCmd.Version = v
	rootCmd.SetVersionTemplate("{{.Version}}\n")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// workspace resolves the --dir flag and the config file inside it.
func workspace() (dir, cfgPath string, err error) {
	dir, err = filepath.Abs(workDir)
	if err != nil {
		return "", "", fmt.Errorf("invalid directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("create directory: %w", err)
	}
	return dir, filepath.Join(dir, configName), nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&workDir, "dir", "d", ".", "Workspace folder holding "+configName)
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	rootCmd.AddGroup(&cobra.Group{ID: "server", Title: "Server:"})
	rootCmd.AddGroup(&cobra.Group{ID: "projects", Title: "Projects:"})

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the livepad version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), rootCmd.Version)
		},
	}
	rootCmd.AddCommand(versionCmd)

	serveCmd.GroupID = "server"
	initCmd.GroupID = "server"
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(initCmd)

	projectsCmd.GroupID = "projects"
	templatesCmd.GroupID = "projects"
	pluginsCmd.GroupID = "projects"
	rootCmd.AddCommand(projectsCmd, templatesCmd, pluginsCmd)
}
