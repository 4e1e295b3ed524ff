package lua

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petervdpas/livepad/internal/config"
	"github.com/petervdpas/livepad/internal/luaprefabs"
	"github.com/petervdpas/livepad/internal/transform"
)

const upperPlugin = `--- Upper-cases text files
--- @extension txt
--- @media text/x-shout
function transform(path, source)
  livepad.log.info("shouting " .. path)
  return string.upper(source)
end
`

func writePlugin(t *testing.T, dir, name, src string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".lua"), []byte(src), 0o644))
}

func newEngine(t *testing.T, cfg config.Lua, reg *transform.Registry) *Engine {
	t.Helper()
	if cfg.ScriptDir == "" {
		cfg.ScriptDir = "plugins"
	}
	e, err := NewEngine(cfg, t.TempDir(), reg)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func call(t *testing.T, reg *transform.Registry, ext, path, src string, r transform.Resolver) (transform.Output, error) {
	t.Helper()
	x, ok := reg.Lookup(ext)
	require.True(t, ok, "no transform for .%s", ext)
	return x.Transform(context.Background(), transform.Input{Path: path, Source: src, Resolver: r})
}

func TestPluginRegistersExtension(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "plugins")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	writePlugin(t, dir, "shout", upperPlugin)

	reg := transform.NewRegistry()
	e, err := NewEngine(config.Lua{ScriptDir: "plugins", TimeoutSeconds: 2}, base, reg)
	require.NoError(t, err)
	defer e.Close()

	x, ok := reg.Lookup("txt")
	require.True(t, ok)
	assert.Equal(t, "text/x-shout", x.MediaType)

	out, err := call(t, reg, "txt", "notes.txt", "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, "HELLO", out.Code)

	plugins := e.Plugins()
	require.Len(t, plugins, 1)
	assert.Equal(t, PluginInfo{Name: "shout", Extension: "txt", MediaType: "text/x-shout", Description: "Upper-cases text files"}, plugins[0])
}

func TestPluginResolveRecordsDeps(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "plugins")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	writePlugin(t, dir, "tmpl", `--- @extension tmpl
function transform(path, source)
  local url, err = livepad.resolve("./data.json")
  if err then return nil, err end
  local missing = livepad.resolve("./gone.json")
  return source .. " " .. url .. " " .. tostring(missing)
end
`)
	reg := transform.NewRegistry()
	e, err := NewEngine(config.Lua{ScriptDir: "plugins"}, base, reg)
	require.NoError(t, err)
	defer e.Close()

	r := transform.ResolverFunc(func(p string) (string, error) {
		if p == "site/data.json" {
			return "blob:http://localhost/d", nil
		}
		return "", transform.ErrUnresolved
	})
	out, err := call(t, reg, "tmpl", "site/page.tmpl", "page", r)
	require.NoError(t, err)
	assert.Equal(t, "page blob:http://localhost/d nil", out.Code)
	assert.Equal(t, []string{"site/data.json", "site/gone.json"}, out.Deps)
}

func TestPluginCycleFailsCall(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "plugins")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	writePlugin(t, dir, "tmpl", `--- @extension tmpl
function transform(path, source)
  livepad.resolve("./self.tmpl")
  return source
end
`)
	reg := transform.NewRegistry()
	e, err := NewEngine(config.Lua{ScriptDir: "plugins"}, base, reg)
	require.NoError(t, err)
	defer e.Close()

	r := transform.ResolverFunc(func(string) (string, error) { return "", transform.ErrCycle })
	out, err := call(t, reg, "tmpl", "self.tmpl", "x", r)
	assert.ErrorIs(t, err, transform.ErrCycle)
	assert.Equal(t, []string{"self.tmpl"}, out.Deps)
}

func TestPluginNilReturnIsError(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "plugins")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	writePlugin(t, dir, "strict", `--- @extension strict
function transform(path, source)
  return nil, "bad input in " .. path
end
`)
	reg := transform.NewRegistry()
	e, err := NewEngine(config.Lua{ScriptDir: "plugins"}, base, reg)
	require.NoError(t, err)
	defer e.Close()

	_, err = call(t, reg, "strict", "a.strict", "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad input in a.strict")
}

func TestPluginTimeout(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "plugins")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	writePlugin(t, dir, "spin", `--- @extension spin
function transform(path, source)
  while true do end
end
`)
	reg := transform.NewRegistry()
	e, err := NewEngine(config.Lua{ScriptDir: "plugins", TimeoutSeconds: 1}, base, reg)
	require.NoError(t, err)
	defer e.Close()

	start := time.Now()
	_, err = call(t, reg, "spin", "a.spin", "", nil)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestSandboxHidesFileAccess(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "plugins")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	writePlugin(t, dir, "globals", `--- @extension globals
function transform(path, source)
  return tostring(io) .. " " .. tostring(os) .. " " .. tostring(require) .. " " .. tostring(dofile)
end
`)
	reg := transform.NewRegistry()
	e, err := NewEngine(config.Lua{ScriptDir: "plugins"}, base, reg)
	require.NoError(t, err)
	defer e.Close()

	out, err := call(t, reg, "globals", "a.globals", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "nil nil nil nil", out.Code)
}

func TestScriptWithoutEntryPointIsSkipped(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "plugins")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	writePlugin(t, dir, "broken", "--- @extension broken\nlocal x = 1\n")

	reg := transform.NewRegistry()
	e, err := NewEngine(config.Lua{ScriptDir: "plugins"}, base, reg)
	require.NoError(t, err)
	defer e.Close()

	_, ok := reg.Lookup("broken")
	assert.False(t, ok)
	assert.Empty(t, e.Plugins())
}

func TestHotReloadShadowsAndRestoresBuiltin(t *testing.T) {
	reg := transform.NewRegistry()
	builtin := transform.Extension{MediaType: "text/plain; charset=utf-8"}
	reg.Register("txt", builtin)

	e := newEngine(t, config.Lua{TimeoutSeconds: 2}, reg)

	changed := make(chan string, 8)
	cancel := reg.OnChange(func(ext string) { changed <- ext })
	defer cancel()

	writePlugin(t, e.Dir(), "shout", upperPlugin)
	require.Eventually(t, func() bool {
		x, _ := reg.Lookup("txt")
		return x.Transform != nil
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, "txt", <-changed)

	out, err := call(t, reg, "txt", "a.txt", "quiet", nil)
	require.NoError(t, err)
	assert.Equal(t, "QUIET", out.Code)

	require.NoError(t, os.Remove(filepath.Join(e.Dir(), "shout.lua")))
	require.Eventually(t, func() bool {
		x, ok := reg.Lookup("txt")
		return ok && x.Transform == nil
	}, 3*time.Second, 20*time.Millisecond)

	x, _ := reg.Lookup("txt")
	assert.Equal(t, builtin.MediaType, x.MediaType)
	assert.Empty(t, e.Plugins())
}

func TestExtractAnnotations(t *testing.T) {
	src := "--- Renders templates\n--- @extension TMPL\n--- @media text/html\nfunction transform() end\n--- @extension ignored\n"
	assert.Equal(t, "Renders templates", extractDescription(src))
	assert.Equal(t, "TMPL", extractAnnotation(src, "extension"))
	assert.Equal(t, "text/html", extractAnnotation(src, "media"))
	assert.Equal(t, "", extractAnnotation(src, "missing"))
	assert.True(t, detectEntryPoint(src, "transform"))
	assert.False(t, detectEntryPoint(src, "render"))
}

func TestPrefabPlugins(t *testing.T) {
	base := t.TempDir()
	for _, prefab := range []string{"csv", "tmpl"} {
		_, err := luaprefabs.Install(prefab, filepath.Join(base, "plugins"), false)
		require.NoError(t, err)
	}

	reg := transform.NewRegistry()
	e, err := NewEngine(config.Lua{ScriptDir: "plugins", TimeoutSeconds: 5}, base, reg)
	require.NoError(t, err)
	defer e.Close()
	require.Len(t, e.Plugins(), 2)

	x, ok := reg.Lookup("csv")
	require.True(t, ok)
	assert.Equal(t, "text/html", x.MediaType)

	out, err := call(t, reg, "csv", "data/people.csv", "name,quote\r\nAda,\"a <b>, c\"\n", nil)
	require.NoError(t, err)
	assert.Contains(t, out.Code, "<tr><th>name</th><th>quote</th></tr>")
	assert.Contains(t, out.Code, "<tr><td>Ada</td><td>a &lt;b&gt;, c</td></tr>")

	r := transform.ResolverFunc(func(p string) (string, error) {
		if p == "app.js" {
			return "blob:http://localhost/app", nil
		}
		return "", transform.ErrUnresolved
	})
	out, err = call(t, reg, "tmpl", "index.tmpl", `<script src="{{ ./app.js }}"></script>`, r)
	require.NoError(t, err)
	assert.Equal(t, `<script src="blob:http://localhost/app"></script>`, out.Code)
	assert.Equal(t, []string{"app.js"}, out.Deps)

	_, err = call(t, reg, "tmpl", "index.tmpl", `{{ ./missing.css }}`, r)
	assert.ErrorContains(t, err, "./missing.css")
}
