// Package viewer serves the HTTP surface: the project API, participant
// websockets, generated resources and the preview shell.
package viewer

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/petervdpas/livepad/internal/blob"
	"github.com/petervdpas/livepad/internal/log"
	"github.com/petervdpas/livepad/internal/sdk"
	"github.com/petervdpas/livepad/internal/session"
	"github.com/petervdpas/livepad/internal/storage"
	"github.com/petervdpas/livepad/internal/util"
	"github.com/petervdpas/livepad/internal/viewer/routes"
)

type Viewer struct {
	Sessions *session.Manager
	DB       *storage.DB // nil when projects live in memory only
	Blobs    *blob.Store
	Logs     *LogBuffer
	Plugins  routes.Plugins // nil when Lua is disabled

	Entry   string
	BaseURL string // canonical base URL, e.g. http://127.0.0.1:7777
	Version string
	Debug   bool
}

// Handler builds the request mux.
func Handler(v Viewer) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /blob/", v.Blobs) // also answers HEAD
	mux.Handle("GET /sdk/", http.StripPrefix("/sdk", sdk.Handler()))

	deps := routes.Deps{
		Sessions: v.Sessions,
		DB:       v.DB,
		Blobs:    v.Blobs,
		Plugins:  v.Plugins,
		Entry:    v.Entry,
		BaseURL:  v.BaseURL,
		Version:  v.Version,
	}
	// a nil *LogBuffer must stay a nil interface
	if v.Logs != nil {
		deps.Logs = v.Logs
	}
	routes.Register(mux, deps)

	if v.Debug {
		return logRequests(mux)
	}
	return mux
}

// Server runs the viewer until Shutdown.
type Server struct {
	srv *http.Server
	ln  net.Listener
}

// Listen binds addr without serving yet, so the bound port is known before
// the handler is built.
func Listen(addr string) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{ln: ln}, nil
}

// Serve starts serving v in the background.
func (s *Server) Serve(v Viewer) {
	if v.BaseURL == "" {
		v.BaseURL = "http://" + s.Addr()
	}
	s.srv = &http.Server{
		Handler:           Handler(v),
		ReadHeaderTimeout: util.WriteTimeout,
	}
	go func() {
		if err := s.srv.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("VIEWER: serve: %v", err)
		}
	}()
	log.Info("VIEWER: listening on %s (%s)", s.Addr(), v.BaseURL)
}

// Addr is the address actually bound.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Shutdown stops accepting requests and waits for active ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return s.ln.Close()
	}
	return s.srv.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE working behind the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack is needed by the websocket upgrader.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack unsupported")
	}
	return h.Hijack()
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Debug("VIEWER: %s %s %d %s", r.Method, r.URL.Path, rec.status, time.Since(start).Round(time.Microsecond))
	})
}
