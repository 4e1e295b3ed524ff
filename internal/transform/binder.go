package transform

import (
	"errors"
	"fmt"
	"strings"

	"github.com/petervdpas/livepad/internal/modpath"
)

// DefaultCDN serves bare module specifiers.
const DefaultCDN = "https://esm.sh"

// binder rewrites the references found in one file and remembers which
// project paths it consulted.
type binder struct {
	in    Input
	cdn   string
	types *TypeFetcher

	deps []string
	seen map[string]bool
	err  error // first error, kept so callers can report it with its type
}

func newBinder(in Input, cdn string, types *TypeFetcher) *binder {
	if cdn == "" {
		cdn = DefaultCDN
	}
	return &binder{in: in, cdn: strings.TrimRight(cdn, "/"), types: types, seen: make(map[string]bool)}
}

// module binds a module specifier: relative ones to the executable of the
// file they name, absolute URLs unchanged, bare names to the CDN.
func (b *binder) module(specifier string) (string, error) {
	switch modpath.Classify(specifier) {
	case modpath.Relative:
		return b.relative(specifier)
	case modpath.AbsoluteURL:
		return specifier, nil
	default:
		if b.types != nil {
			b.types.Fetch(specifier)
		}
		return b.cdn + "/" + specifier, nil
	}
}

// relative resolves specifier against the file and returns its executable's
// address. A missing executable is ErrUnresolved.
func (b *binder) relative(specifier string) (string, error) {
	target := modpath.Resolve(b.in.Path, specifier)
	if modpath.IsURL(target) {
		return target, nil
	}
	b.dep(target)
	if b.in.Resolver == nil {
		return "", b.fail(fmt.Errorf("%s: import %q: %w", b.in.Path, specifier, ErrUnresolved))
	}
	url, err := b.in.Resolver.Resolve(target)
	if err != nil {
		if !errors.Is(err, ErrUnresolved) && !errors.Is(err, ErrCycle) {
			err = fmt.Errorf("%w: %v", ErrUnresolved, err)
		}
		return "", b.fail(fmt.Errorf("%s: import %q: %w", b.in.Path, specifier, err))
	}
	if url == "" {
		return "", b.fail(fmt.Errorf("%s: import %q: %w", b.in.Path, specifier, ErrUnresolved))
	}
	return url, nil
}

// asset binds a reference found in markup or a stylesheet. Dot-prefixed
// references must resolve. Plain names ("img/logo.png", "/style.css") are
// bound when they name a project file and left alone otherwise. Fragments
// and anything carrying a scheme are never touched.
func (b *binder) asset(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "",
		strings.HasPrefix(ref, "#"),
		strings.HasPrefix(ref, "//"),
		looksLikeScheme(ref):
		return ref, nil
	case modpath.Classify(ref) == modpath.Relative:
		return b.relative(ref)
	}

	target := modpath.Normalize(ref)
	if !strings.HasPrefix(ref, "/") {
		target = modpath.Resolve(b.in.Path, "./"+ref)
	}
	if i := strings.IndexAny(target, "?#"); i >= 0 {
		target = target[:i]
	}
	if modpath.IsURL(target) || b.in.Resolver == nil {
		return ref, nil
	}
	b.dep(target)
	url, err := b.in.Resolver.Resolve(target)
	if errors.Is(err, ErrCycle) {
		return "", b.fail(fmt.Errorf("%s: reference %q: %w", b.in.Path, ref, err))
	}
	if err != nil || url == "" {
		return ref, nil
	}
	return url, nil
}

// looksLikeScheme reports whether ref starts with a URL scheme such as
// "mailto:" or "javascript:".
func looksLikeScheme(ref string) bool {
	i := strings.IndexByte(ref, ':')
	if i <= 0 {
		return false
	}
	for j, c := range ref[:i] {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case j > 0 && (c >= '0' && c <= '9' || c == '+' || c == '-' || c == '.'):
		default:
			return false
		}
	}
	return !strings.Contains(ref[:i], "/")
}

func (b *binder) dep(p string) {
	if !b.seen[p] {
		b.seen[p] = true
		b.deps = append(b.deps, p)
	}
}

func (b *binder) fail(err error) error {
	if b.err == nil {
		b.err = err
	}
	return err
}
