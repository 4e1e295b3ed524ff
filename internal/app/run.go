package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/petervdpas/livepad/internal/blob"
	"github.com/petervdpas/livepad/internal/config"
	"github.com/petervdpas/livepad/internal/log"
	luapkg "github.com/petervdpas/livepad/internal/lua"
	"github.com/petervdpas/livepad/internal/session"
	"github.com/petervdpas/livepad/internal/storage"
	"github.com/petervdpas/livepad/internal/transform"
	"github.com/petervdpas/livepad/internal/util"
	"github.com/petervdpas/livepad/internal/viewer"
	"github.com/petervdpas/livepad/internal/viewer/routes"
)

type Options struct {
	Dir     string // workspace folder holding the config
	CfgPath string
	Cfg     config.Config
	Version string

	// Ready is called with the base URL once the viewer accepts requests.
	Ready func(baseURL string)
}

// Run starts every service and blocks until ctx is cancelled.
func Run(ctx context.Context, opt Options) error {
	cfg := opt.Cfg

	logBuf := viewer.NewLogBuffer(cfg.Log.BufferSize)
	logFile := ""
	if cfg.Log.File != "" {
		logFile = util.ResolvePath(opt.Dir, cfg.Log.File)
	}
	if err := log.Setup(log.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   logFile,
		Tee:    logBuf,
	}); err != nil {
		return err
	}
	defer log.Sync()

	logBanner(opt.Dir, opt.CfgPath)

	dataDir := util.ResolvePath(opt.Dir, cfg.Paths.DataDir)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	// ── Viewer socket first, so an ephemeral port is known to the blob store
	srv, err := viewer.Listen(cfg.Viewer.HTTPAddr)
	if err != nil {
		return fmt.Errorf("viewer listen: %w", err)
	}
	baseURL := boundBaseURL(cfg, srv.Addr())

	// ── Storage
	db, err := storage.Open(util.ResolvePath(dataDir, cfg.Storage.Path))
	if err != nil {
		_ = srv.Shutdown(context.Background())
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()

	blobs := blob.NewStore(baseURL)

	// ── Lua transform plugins (optional)
	plugins := transform.NewRegistry()
	var lister routes.Plugins
	if cfg.Lua.Enabled {
		engine, luaErr := luapkg.NewEngine(cfg.Lua, dataDir, plugins)
		if luaErr != nil {
			log.Warn("LUA: engine failed to start: %v", luaErr)
		} else {
			defer engine.Close()
			lister = engine
		}
	}

	target, _ := transform.ParseTarget(cfg.Preview.Target)
	sessions := session.NewManager(session.Options{
		DB:      db,
		Blobs:   blobs,
		Plugins: plugins,
		Transform: transform.Options{
			CDN:             cfg.Preview.CDN,
			Target:          target,
			JSXImportSource: cfg.Preview.JSXImportSource,
			HighlightStyle:  cfg.Preview.HighlightStyle,
		},
		FetchTypes:   cfg.Preview.FetchTypes,
		HTTPClient:   &http.Client{Timeout: 15 * time.Second},
		CompactEvery: cfg.Storage.CompactEvery,
		BuildDelay:   time.Duration(cfg.Preview.BuildDelayMS) * time.Millisecond,
	})
	defer sessions.CloseAll()

	srv.Serve(viewer.Viewer{
		Sessions: sessions,
		DB:       db,
		Blobs:    blobs,
		Logs:     logBuf,
		Plugins:  lister,
		Entry:    cfg.Preview.Entry,
		BaseURL:  baseURL,
		Version:  opt.Version,
		Debug:    cfg.Viewer.Debug,
	})
	log.Info("📋 Projects: %s/api/projects", baseURL)

	if opt.Ready != nil {
		opt.Ready(baseURL)
	}

	<-ctx.Done()

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), util.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("VIEWER: shutdown: %v", err)
	}
	return nil
}

// boundBaseURL is cfg.BaseURL with the port the viewer actually bound.
func boundBaseURL(cfg config.Config, bound string) string {
	if cfg.Viewer.PublicURL != "" {
		return cfg.BaseURL()
	}
	host, _, _ := net.SplitHostPort(cfg.Viewer.HTTPAddr)
	_, port, err := net.SplitHostPort(bound)
	if err != nil {
		return cfg.BaseURL()
	}
	cfg.Viewer.HTTPAddr = net.JoinHostPort(host, port)
	return cfg.BaseURL()
}
