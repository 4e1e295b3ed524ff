// Package modpath classifies and resolves module specifiers found in project
// files. Everything here is a pure function of its string inputs.
package modpath

import (
	"net/url"
	"path"
	"strings"
)

// Kind is the classification of a module specifier.
type Kind int

const (
	Bare Kind = iota
	Relative
	AbsoluteURL
)

func (k Kind) String() string {
	switch k {
	case Relative:
		return "relative"
	case AbsoluteURL:
		return "absolute-url"
	default:
		return "bare"
	}
}

// urlSchemes are the prefixes that mark a specifier as an absolute URL.
var urlSchemes = []string{"blob:", "http:", "https:"}

// resolveBase is the synthetic origin project paths are resolved against.
const resolveBase = "http://localhost/"

// Classify reports whether specifier is relative, an absolute URL or a bare
// module name.
func Classify(specifier string) Kind {
	if strings.HasPrefix(specifier, ".") {
		return Relative
	}
	if IsURL(specifier) {
		return AbsoluteURL
	}
	return Bare
}

// IsURL reports whether p starts with one of the known URL schemes.
func IsURL(p string) bool {
	for _, s := range urlSchemes {
		if strings.HasPrefix(p, s) {
			return true
		}
	}
	return false
}

// Normalize strips leading slashes.
func Normalize(p string) string {
	return strings.TrimLeft(p, "/")
}

// Resolve resolves rel against base as if base were a URL path and returns a
// project path without leading slash. When base is itself an absolute URL the
// result is the absolute URL string, so chains of blob-addressed files keep
// resolving their relative imports.
func Resolve(base, rel string) string {
	if IsURL(base) {
		return resolveAgainstURL(base, rel)
	}

	b, _ := url.Parse(resolveBase)
	bp, err := b.Parse(escapePath(base))
	if err != nil {
		return Normalize(path.Join(path.Dir(base), rel))
	}
	r, err := url.Parse(escapePath(rel))
	if err != nil {
		return Normalize(path.Join(path.Dir(base), rel))
	}
	return Normalize(bp.ResolveReference(r).Path)
}

func resolveAgainstURL(base, rel string) string {
	// blob:<inner-url> is opaque to net/url; resolve against the inner URL and
	// keep the scheme so the result stays an absolute URL.
	prefix := ""
	inner := base
	if strings.HasPrefix(base, "blob:") {
		prefix = "blob:"
		inner = strings.TrimPrefix(base, "blob:")
	}
	b, err := url.Parse(inner)
	if err != nil || !b.IsAbs() {
		return base
	}
	r, err := url.Parse(rel)
	if err != nil {
		return base
	}
	return prefix + b.ResolveReference(r).String()
}

// escapePath keeps characters such as '?' and '#' literal when a file path is
// parsed as a URL path.
func escapePath(p string) string {
	if !strings.ContainsAny(p, "?#%") {
		return p
	}
	return (&url.URL{Path: p}).EscapedPath()
}

// Extension returns the lower-cased extension of the last path segment,
// without the dot. "src/app.test.ts" yields "ts", "Makefile" yields "".
func Extension(p string) string {
	name := Name(p)
	i := strings.LastIndexByte(name, '.')
	if i <= 0 || i == len(name)-1 {
		return ""
	}
	return strings.ToLower(name[i+1:])
}

// Name returns the last segment of p.
func Name(p string) string {
	p = strings.TrimRight(p, "/")
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}

// Parent returns the directory part of p, "" for top level entries.
func Parent(p string) string {
	p = strings.TrimRight(Normalize(p), "/")
	i := strings.LastIndexByte(p, '/')
	if i < 0 {
		return ""
	}
	return p[:i]
}

// Join joins a directory and a name into a project path.
func Join(dir, name string) string {
	dir = strings.Trim(dir, "/")
	name = strings.Trim(name, "/")
	if dir == "" {
		return name
	}
	if name == "" {
		return dir
	}
	return dir + "/" + name
}

// Clean normalizes a user-supplied project path: backslashes become slashes,
// dot segments are collapsed and leading slashes removed. It returns "" for
// paths that escape the project root or are empty.
func Clean(p string) string {
	p = strings.TrimSpace(p)
	p = strings.ReplaceAll(p, `\`, "/")
	p = path.Clean("/" + p)
	p = Normalize(p)
	if p == "." {
		return ""
	}
	return p
}

// IsDescendant reports whether p lies strictly below dir.
func IsDescendant(p, dir string) bool {
	if dir == "" {
		return p != ""
	}
	return strings.HasPrefix(p, dir+"/")
}
