package transform

import (
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

// Media types of the built-in extensions.
const (
	MediaJavaScript = "application/javascript; charset=utf-8"
	MediaCSS        = "text/css; charset=utf-8"
	MediaHTML       = "text/html; charset=utf-8"
	MediaJSON       = "application/json; charset=utf-8"
	MediaSVG        = "image/svg+xml"
	MediaText       = "text/plain; charset=utf-8"
)

// Options configures the built-in transforms.
type Options struct {
	CDN             string
	Types           *TypeFetcher
	Target          api.Target
	JSXImportSource string
	HighlightStyle  string
}

// Builtins returns a registry holding the built-in extensions.
func Builtins(opts Options) *Registry {
	r := NewRegistry()
	RegisterBuiltins(r, opts)
	return r
}

// RegisterBuiltins adds the built-in extensions to r.
func RegisterBuiltins(r *Registry, opts Options) {
	so := ScriptOptions{
		CDN:             opts.CDN,
		Types:           opts.Types,
		Target:          opts.Target,
		JSXImportSource: opts.JSXImportSource,
	}
	js := Script(api.LoaderJS, so)

	r.Register("js", Extension{MediaType: MediaJavaScript, Transform: js})
	r.Register("mjs", Extension{MediaType: MediaJavaScript, Transform: js})
	r.Register("jsx", Extension{MediaType: MediaJavaScript, Transform: Script(api.LoaderJSX, so)})
	r.Register("ts", Extension{MediaType: MediaJavaScript, Transform: Script(api.LoaderTS, so)})
	r.Register("mts", Extension{MediaType: MediaJavaScript, Transform: Script(api.LoaderTS, so)})
	r.Register("tsx", Extension{MediaType: MediaJavaScript, Transform: Script(api.LoaderTSX, so)})
	r.Register("css", Extension{MediaType: MediaCSS, Transform: CSS()})
	r.Register("html", Extension{MediaType: MediaHTML, Transform: HTML(js)})
	r.Register("htm", Extension{MediaType: MediaHTML, Transform: HTML(js)})
	r.Register("md", Extension{MediaType: MediaHTML, Transform: Markdown(opts.HighlightStyle, js)})
	r.Register("json", Extension{MediaType: MediaJSON})
	r.Register("svg", Extension{MediaType: MediaSVG})
	r.Register("txt", Extension{MediaType: MediaText})
}

var targetNames = map[string]api.Target{
	"es2015": api.ES2015, "es2016": api.ES2016, "es2017": api.ES2017,
	"es2018": api.ES2018, "es2019": api.ES2019, "es2020": api.ES2020,
	"es2021": api.ES2021, "es2022": api.ES2022, "es2023": api.ES2023,
	"es2024": api.ES2024, "esnext": api.ESNext,
}

// ParseTarget maps a language level such as "es2020" to its esbuild target.
func ParseTarget(name string) (api.Target, bool) {
	t, ok := targetNames[strings.ToLower(strings.TrimSpace(name))]
	return t, ok
}
