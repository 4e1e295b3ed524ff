package app

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petervdpas/livepad/internal/config"
)

func TestRunServesAndPersists(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Viewer.HTTPAddr = "127.0.0.1:0"
	cfg.Preview.FetchTypes = false
	cfg.Lua.Enabled = true

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, Options{
			Dir:     dir,
			CfgPath: filepath.Join(dir, "livepad.json"),
			Cfg:     cfg,
			Version: "test",
			Ready:   func(u string) { ready <- u },
		})
	}()

	var base string
	select {
	case base = <-ready:
	case err := <-done:
		t.Fatalf("run failed: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("viewer never became ready")
	}
	u, err := url.Parse(base)
	require.NoError(t, err)
	require.NoError(t, WaitTCP(u.Host, 5*time.Second))
	assert.NotEqual(t, "0", u.Port())

	resp, err := http.Post(base+"/api/projects", "application/json", strings.NewReader(`{"id":"demo"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(base + "/api/status")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), `"version":"test"`)

	resp, err = http.Get(base + "/api/plugins")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not stop")
	}

	assert.FileExists(t, filepath.Join(dir, cfg.Paths.DataDir, cfg.Storage.Path))
	assert.DirExists(t, filepath.Join(dir, cfg.Paths.DataDir, cfg.Lua.ScriptDir))
}

func TestBoundBaseURL(t *testing.T) {
	cfg := config.Default()
	cfg.Viewer.HTTPAddr = "0.0.0.0:0"
	assert.Equal(t, "http://127.0.0.1:41234", boundBaseURL(cfg, "[::]:41234"))

	cfg.Viewer.PublicURL = "https://pad.example.org/"
	assert.Equal(t, "https://pad.example.org", boundBaseURL(cfg, "[::]:41234"))
}

func TestPromptInteractive(t *testing.T) {
	in := strings.NewReader(strings.Join([]string{
		"127.0.0.1:9000", // addr
		"",               // public url
		"",               // data dir
		"home.html",      // entry
		"n",              // fetch types
		"abc",            // not a number
		"20",             // compact every
		"y",              // lua
		"",               // plugin folder
		"3",              // timeout
	}, "\n") + "\n")
	var out bytes.Buffer

	cfg := PromptInteractive(in, &out, "/w", "/w/livepad.json", config.Default())
	assert.Equal(t, "127.0.0.1:9000", cfg.Viewer.HTTPAddr)
	assert.Equal(t, "data", cfg.Paths.DataDir)
	assert.Equal(t, "home.html", cfg.Preview.Entry)
	assert.False(t, cfg.Preview.FetchTypes)
	assert.Equal(t, 20, cfg.Storage.CompactEvery)
	assert.True(t, cfg.Lua.Enabled)
	assert.Equal(t, "plugins", cfg.Lua.ScriptDir)
	assert.Equal(t, 3, cfg.Lua.TimeoutSeconds)
	assert.Contains(t, out.String(), "Please enter a number.")
}

func TestPromptInvalidFallsBack(t *testing.T) {
	in := strings.NewReader("not-an-addr\n")
	var out bytes.Buffer
	cfg := PromptInteractive(in, &out, "/w", "/w/livepad.json", config.Default())
	assert.Equal(t, config.Default(), cfg)
	assert.Contains(t, out.String(), "Keeping defaults")
}
