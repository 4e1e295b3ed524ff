package sdk

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServesMinifiedRuntime(t *testing.T) {
	require.Contains(t, Files(), "livepad-reload.js")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/livepad-reload.js", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/javascript; charset=utf-8", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, "EventSource")
	assert.NotContains(t, body, "livepad preview runtime", "comments are stripped")

	raw, err := rawFS.ReadFile("livepad-reload.js")
	require.NoError(t, err)
	assert.Less(t, len(body), len(raw))

	etag := rec.Header().Get("ETag")
	require.True(t, strings.HasPrefix(etag, `"`))
	req := httptest.NewRequest(http.MethodGet, "/livepad-reload.js", nil)
	req.Header.Set("If-None-Match", etag)
	rec = httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotModified, rec.Code)
}

func TestUnknownFile(t *testing.T) {
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope.js", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
