// internal/viewer/routes/helpers.go

package routes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/petervdpas/livepad/internal/doc"
	"github.com/petervdpas/livepad/internal/log"
	"github.com/petervdpas/livepad/internal/pipeline"
	"github.com/petervdpas/livepad/internal/session"
	"github.com/petervdpas/livepad/internal/sitetemplates"
	"github.com/petervdpas/livepad/internal/storage"
	"github.com/petervdpas/livepad/internal/transform"
	"github.com/petervdpas/livepad/internal/util"
)

const maxBodyBytes = 8 << 20

func handleGet(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.HandleFunc("GET "+pattern, h)
}

// handlePost decodes the JSON body into T before calling h.
func handlePost[T any](mux *http.ServeMux, pattern string, h func(w http.ResponseWriter, r *http.Request, req T)) {
	mux.HandleFunc("POST "+pattern, func(w http.ResponseWriter, r *http.Request) {
		var req T
		if err := decodeJSON(r, &req); err != nil {
			http.Error(w, "bad json: "+err.Error(), http.StatusBadRequest)
			return
		}
		h(w, r, req)
	})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug("VIEWER: write json: %v", err)
	}
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, doc.ErrNotFound),
		errors.Is(err, pipeline.ErrNoFile),
		errors.Is(err, storage.ErrNoProject),
		errors.Is(err, sitetemplates.ErrUnknown):
		return http.StatusNotFound
	case errors.Is(err, doc.ErrExists):
		return http.StatusConflict
	case errors.Is(err, doc.ErrBadPath),
		errors.Is(err, doc.ErrIsDir),
		errors.Is(err, doc.ErrNotDir),
		errors.Is(err, session.ErrBadPath),
		errors.Is(err, util.ErrInvalidProjectID):
		return http.StatusBadRequest
	case errors.Is(err, transform.ErrSyntax),
		errors.Is(err, transform.ErrUnresolved),
		errors.Is(err, transform.ErrCycle):
		return http.StatusUnprocessableEntity
	case errors.Is(err, session.ErrClosed), errors.Is(err, pipeline.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error("VIEWER: %v", err)
	}
	http.Error(w, err.Error(), status)
}

// openSession returns the session named by the {id} path segment.
func openSession(w http.ResponseWriter, r *http.Request, d Deps) (*session.Session, bool) {
	s, err := d.Sessions.Open(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, fmt.Errorf("project %q: %w", r.PathValue("id"), err))
		return nil, false
	}
	return s, true
}

func queryPath(r *http.Request) string {
	return strings.TrimSpace(r.URL.Query().Get("path"))
}

func contextWithWriteTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), util.WriteTimeout)
}
