package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/petervdpas/livepad/internal/app"
	"github.com/petervdpas/livepad/internal/config"
	"github.com/petervdpas/livepad/internal/util"
)

var (
	serveAddr string
	serveOpen bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the livepad server",
	Long: `Start the HTTP server: the project API, participant websockets and the
live preview. A default config is written when the workspace has none.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, cfgPath, err := workspace()
		if err != nil {
			return err
		}
		cfg, created, err := config.Ensure(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if serveAddr != "" {
			cfg.Viewer.HTTPAddr = serveAddr
			if err := cfg.Validate(); err != nil {
				return err
			}
		}

		out := cmd.OutOrStdout()
		printBanner(out, dir, cfgPath)
		if created {
			printSuccess(out, "wrote default config")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return app.Run(ctx, app.Options{
			Dir:     dir,
			CfgPath: cfgPath,
			Cfg:     cfg,
			Version: rootCmd.Version,
			Ready: func(baseURL string) {
				home := baseURL + "/"
				fmt.Fprint(out, "🌐 Projects: ")
				_, _ = urlColor.Fprintln(out, home)
				_, _ = dimColor.Fprintln(out, "   Press Ctrl+C to stop")
				if serveOpen {
					if err := util.OpenURL(home); err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "open browser: %v\n", err)
					}
				}
			},
		})
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Override viewer.http_addr")
	serveCmd.Flags().BoolVar(&serveOpen, "open", false, "Open the project index in a browser")
}
