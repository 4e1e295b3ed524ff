package routes

import (
	"mime"
	"net/http"
	"path"
	"strings"
)

// contentTypeForPath returns a browser-safe Content-Type for a raw project
// source. Sources are served as they were typed, so script dialects that
// browsers cannot execute are labelled as text.
func contentTypeForPath(rel string, data []byte) string {
	ext := strings.ToLower(path.Ext(rel))

	switch ext {
	case ".css":
		return "text/css; charset=utf-8"
	case ".js", ".mjs":
		return "text/javascript; charset=utf-8"
	case ".ts", ".tsx", ".jsx", ".md", ".lua":
		return "text/plain; charset=utf-8"
	case ".html", ".htm":
		return "text/html; charset=utf-8"
	case ".json":
		return "application/json; charset=utf-8"
	case ".svg":
		return "image/svg+xml"
	}

	if ext != "" {
		if mt := mime.TypeByExtension(ext); mt != "" {
			return mt
		}
	}

	return http.DetectContentType(data)
}
