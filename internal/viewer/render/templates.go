// internal/viewer/render/templates.go

// Package render holds the server-rendered pages of the viewer.
package render

import (
	"embed"
	"fmt"
	"html"
	"html/template"
	"net/http"
	"strings"
	"sync"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var (
	tmpl    *template.Template
	once    sync.Once
	initErr error
)

func InitTemplates() error {
	once.Do(func() {
		funcs := template.FuncMap{
			"ago":      ago,
			"rfc3339":  func(t time.Time) string { return t.Format(time.RFC3339) },
			"isActive": func(active, key string) bool { return active == key },
			"trim":     strings.TrimSpace,

			// include renders a named template and returns HTML, since
			// {{template}} only takes a constant name.
			"include": func(name string, data any) template.HTML {
				if tmpl == nil {
					return template.HTML(`<pre class="err">templates not initialized</pre>`)
				}
				var b strings.Builder
				if err := tmpl.ExecuteTemplate(&b, name, data); err != nil {
					return template.HTML(`<pre class="err">` + html.EscapeString(err.Error()) + `</pre>`)
				}
				return template.HTML(b.String())
			},
		}

		var err error
		tmpl, err = template.New("root").Funcs(funcs).ParseFS(templateFS, "templates/*.html")
		if err != nil {
			initErr = err
			return
		}
	})
	return initErr
}

// Render executes the shared layout, which picks the page body via
// .ContentTmpl.
func Render(w http.ResponseWriter, data any) {
	RenderStandalone(w, "layout", data)
}

// RenderStandalone executes a named template without the layout.
func RenderStandalone(w http.ResponseWriter, name string, data any) {
	if err := InitTemplates(); err != nil {
		http.Error(w, fmt.Sprintf("template init error: %v", err), http.StatusInternalServerError)
		return
	}
	var b strings.Builder
	if err := tmpl.ExecuteTemplate(&b, name, data); err != nil {
		http.Error(w, fmt.Sprintf("template error: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(b.String()))
}

func ago(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
	return t.Local().Format("2006-01-02")
}
