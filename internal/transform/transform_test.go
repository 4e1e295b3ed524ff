package transform

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapResolver resolves from a fixed table.
func mapResolver(urls map[string]string) Resolver {
	return ResolverFunc(func(p string) (string, error) {
		if u, ok := urls[p]; ok {
			return u, nil
		}
		return "", ErrUnresolved
	})
}

func run(t *testing.T, tr Transform, path, src string, urls map[string]string) (Output, error) {
	t.Helper()
	return tr(context.Background(), Input{Path: path, Source: src, Resolver: mapResolver(urls)})
}

func TestScriptRewritesSpecifiers(t *testing.T) {
	js := Script(api.LoaderJS, ScriptOptions{})
	out, err := run(t, js, "src/a.js", `import { b } from "./b.js"
import confetti from "canvas-confetti"
import * as remote from "https://example.com/lib.js"
export const a = b + 1
export const go = () => confetti(remote)
`, map[string]string{"src/b.js": "blob:http://localhost/b"})
	require.NoError(t, err)

	assert.Contains(t, out.Code, `"blob:http://localhost/b"`)
	assert.Contains(t, out.Code, `"https://esm.sh/canvas-confetti"`)
	assert.Contains(t, out.Code, `"https://example.com/lib.js"`)
	assert.NotContains(t, out.Code, `"./b.js"`)
	assert.Equal(t, []string{"src/b.js"}, out.Deps)
}

func TestScriptUnresolvedFailsTheFile(t *testing.T) {
	js := Script(api.LoaderJS, ScriptOptions{})
	out, err := run(t, js, "a.js", `import "./missing.js"`+"\n", nil)
	assert.ErrorIs(t, err, ErrUnresolved)
	assert.Equal(t, []string{"missing.js"}, out.Deps)
}

func TestScriptKeepsCycleErrors(t *testing.T) {
	js := Script(api.LoaderJS, ScriptOptions{})
	_, err := js(context.Background(), Input{
		Path:   "a.js",
		Source: `import "./b.js"` + "\n",
		Resolver: ResolverFunc(func(string) (string, error) {
			return "", ErrCycle
		}),
	})
	assert.ErrorIs(t, err, ErrCycle)
}

func TestTypeScriptIsTranspiled(t *testing.T) {
	ts := Script(api.LoaderTS, ScriptOptions{})
	out, err := run(t, ts, "main.ts", `import { randomColor } from "./math.ts"
const color: string = randomColor()
document.body.style.background = color
`, map[string]string{"math.ts": "blob:http://localhost/math"})
	require.NoError(t, err)
	assert.NotContains(t, out.Code, ": string")
	assert.Contains(t, out.Code, `"blob:http://localhost/math"`)
}

func TestTSXUsesAutomaticRuntime(t *testing.T) {
	tsx := Script(api.LoaderTSX, ScriptOptions{CDN: "https://cdn.test/"})
	out, err := run(t, tsx, "app.tsx", "export const App = () => <div>hi</div>\n", nil)
	require.NoError(t, err)
	assert.Contains(t, out.Code, `"https://cdn.test/react/jsx-runtime"`)
}

func TestScriptSyntaxError(t *testing.T) {
	js := Script(api.LoaderJS, ScriptOptions{})
	_, err := run(t, js, "a.js", "export const = ;", nil)
	assert.ErrorIs(t, err, ErrSyntax)
}

func TestCSSBindsImportsAndURLs(t *testing.T) {
	out, err := run(t, CSS(), "css/site.css", `@import "./base.css";
body { background: url(img/bg.png) }
.a { background: url("./x.png") }
.b { background: url(missing.png) }
.c { background: url(data:image/png;base64,AAAA) }
`, map[string]string{
		"css/base.css":   "blob:base",
		"css/img/bg.png": "blob:bg",
		"css/x.png":      "blob:x",
	})
	require.NoError(t, err)
	assert.Equal(t, `@import "blob:base";
body { background: url("blob:bg") }
.a { background: url("blob:x") }
.b { background: url("missing.png") }
.c { background: url("data:image/png;base64,AAAA") }
`, out.Code)

	deps := append([]string(nil), out.Deps...)
	sort.Strings(deps)
	assert.Equal(t, []string{"css/base.css", "css/img/bg.png", "css/missing.png", "css/x.png"}, deps)
}

func TestCSSStrictForDotReferences(t *testing.T) {
	_, err := run(t, CSS(), "a.css", `@import "./nope.css";`, nil)
	assert.ErrorIs(t, err, ErrUnresolved)
}

func TestHTMLBinding(t *testing.T) {
	tr := HTML(Script(api.LoaderJS, ScriptOptions{}))
	out, err := run(t, tr, "index.html", `<!doctype html>
<link rel="stylesheet" href="style.css">
<script src="./main.ts" type="module"></script>
<script type="module">
import { x } from "./math.ts"
console.log(x)
</script>
<style>body { background: url(./bg.png) }</style>
<a href="./about.html">about</a>
`, map[string]string{
		"style.css": "blob:style",
		"main.ts":   "blob:main",
		"math.ts":   "blob:math",
		"bg.png":    "blob:bg",
	})
	require.NoError(t, err)

	assert.Contains(t, out.Code, `<link rel="stylesheet" href="blob:style">`)
	assert.Contains(t, out.Code, `<script src="blob:main" type="module"></script>`)
	assert.Contains(t, out.Code, `"blob:math"`)
	assert.NotContains(t, out.Code, `"./math.ts"`)
	assert.Contains(t, out.Code, `url("blob:bg")`)
	assert.Contains(t, out.Code, `<a href="./about.html">about</a>`)
	assert.ElementsMatch(t, []string{"style.css", "main.ts", "math.ts", "bg.png"}, out.Deps)
}

func TestHTMLUnresolvedScript(t *testing.T) {
	tr := HTML(Script(api.LoaderJS, ScriptOptions{}))
	_, err := run(t, tr, "index.html", `<script src="./main.ts" type="module"></script>`, nil)
	assert.ErrorIs(t, err, ErrUnresolved)
}

func TestMarkdownRendersAndBinds(t *testing.T) {
	tr := Markdown("", Script(api.LoaderJS, ScriptOptions{}))
	out, err := run(t, tr, "docs/readme.md", "# Hello\n\n![logo](./logo.svg)\n\n```js\nconst a = 1\n```\n",
		map[string]string{"docs/logo.svg": "blob:logo"})
	require.NoError(t, err)
	assert.Contains(t, out.Code, "<title>readme.md</title>")
	assert.Contains(t, out.Code, "Hello</h1>")
	assert.Contains(t, out.Code, `src="blob:logo"`)
	assert.Contains(t, out.Code, "<pre")
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	var changed []string
	cancel := r.OnChange(func(ext string) { changed = append(changed, ext) })

	r.Register(".TS", Extension{MediaType: MediaJavaScript})
	e, ok := r.Lookup("ts")
	require.True(t, ok)
	assert.Equal(t, MediaJavaScript, e.MediaType)

	r.Unregister("ts")
	r.Unregister("ts")
	_, ok = r.Lookup("ts")
	assert.False(t, ok)
	assert.Equal(t, []string{"ts", "ts"}, changed)

	cancel()
	r.Register("css", Extension{})
	assert.Len(t, changed, 2)

	b := Builtins(Options{})
	assert.Subset(t, b.Extensions(), []string{"css", "html", "js", "jsx", "md", "mjs", "ts", "tsx"})
}

func TestTypeFetcher(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/canvas-confetti", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-TypeScript-Types", "/types/confetti.d.ts")
		_, _ = w.Write([]byte("export default {}"))
	})
	mux.HandleFunc("/types/confetti.d.ts", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("declare const confetti: any"))
	})
	mux.HandleFunc("/untyped", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("export default 1"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := NewTypeFetcher(srv.URL, srv.Client())
	defer f.Close()

	js := Script(api.LoaderJS, ScriptOptions{CDN: srv.URL, Types: f})
	out, err := run(t, js, "a.js", `import c from "canvas-confetti"
import u from "untyped"
c(u)
`, nil)
	require.NoError(t, err)
	assert.Contains(t, out.Code, srv.URL+"/canvas-confetti")

	f.Fetch("canvas-confetti") // already known
	f.Wait()

	typed, ok := f.Get("canvas-confetti")
	require.True(t, ok)
	assert.True(t, typed.Done)
	assert.Equal(t, "declare const confetti: any", typed.Declarations)
	assert.Equal(t, srv.URL+"/types/confetti.d.ts", typed.URL)

	untyped, ok := f.Get("untyped")
	require.True(t, ok)
	assert.NotEmpty(t, untyped.Err)
	assert.Len(t, f.All(), 2)
}

func TestChainPrefersFirstRegistry(t *testing.T) {
	plugins := NewRegistry()
	builtins := Builtins(Options{})
	chain := Chain{plugins, builtins}

	var changed []string
	cancel := chain.OnChange(func(ext string) { changed = append(changed, ext) })

	x, ok := chain.Lookup("txt")
	require.True(t, ok)
	assert.Nil(t, x.Transform)

	plugins.Register("txt", Extension{MediaType: "text/x-shout"})
	x, _ = chain.Lookup(".TXT")
	assert.Equal(t, "text/x-shout", x.MediaType)

	plugins.Unregister("txt")
	x, _ = chain.Lookup("txt")
	assert.Equal(t, MediaText, x.MediaType)

	plugins.Register("tmpl", Extension{})
	assert.Contains(t, chain.Extensions(), "tmpl")
	assert.Contains(t, chain.Extensions(), "tsx")

	cancel()
	builtins.Unregister("svg")
	assert.Equal(t, []string{"txt", "txt", "tmpl"}, changed)

	_, ok = Chain{nil, plugins}.Lookup("missing")
	assert.False(t, ok)
}

func TestParseTarget(t *testing.T) {
	got, ok := ParseTarget(" ES2022 ")
	require.True(t, ok)
	assert.Equal(t, api.ES2022, got)

	_, ok = ParseTarget("es3")
	assert.False(t, ok)
}
