package transform

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/css"
)

// CSS returns the stylesheet transform: @import targets and url()
// references are bound to executables.
func CSS() Transform {
	return func(ctx context.Context, in Input) (Output, error) {
		b := newBinder(in, "", nil)
		code, err := bindCSS(b, in.Source)
		if err != nil {
			return Output{Deps: b.deps}, err
		}
		return Output{Code: code, Deps: b.deps}, nil
	}
}

func bindCSS(b *binder, src string) (string, error) {
	l := css.NewLexer(parse.NewInputString(src))
	var out strings.Builder
	out.Grow(len(src))

	var inImport, inURL bool
	for {
		tt, data := l.Next()
		switch tt {
		case css.ErrorToken:
			if l.Err() == io.EOF {
				return out.String(), nil
			}
			return "", fmt.Errorf("%s: %w: %v", b.in.Path, ErrSyntax, l.Err())
		case css.WhitespaceToken, css.CommentToken:
			out.Write(data)
		case css.AtKeywordToken:
			inImport = strings.EqualFold(string(data), "@import")
			out.Write(data)
		case css.FunctionToken:
			inURL = strings.EqualFold(string(data), "url(")
			out.Write(data)
		case css.StringToken:
			if !inImport && !inURL {
				out.Write(data)
				continue
			}
			inImport, inURL = false, false
			u, err := b.asset(unquote(string(data)))
			if err != nil {
				return "", err
			}
			out.WriteString(quote(u))
		case css.URLToken:
			inImport = false
			u, err := b.asset(urlTokenValue(string(data)))
			if err != nil {
				return "", err
			}
			out.WriteString("url(" + quote(u) + ")")
		default:
			inImport, inURL = false, false
			out.Write(data)
		}
	}
}

// urlTokenValue extracts the reference from an unquoted url(...) token.
func urlTokenValue(tok string) string {
	if i := strings.IndexByte(tok, '('); i >= 0 {
		tok = tok[i+1:]
	}
	tok = strings.TrimSuffix(tok, ")")
	return unquote(strings.TrimSpace(tok))
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

var quoteReplacer = strings.NewReplacer(`"`, "%22", "\n", "%0A")

func quote(s string) string {
	return `"` + quoteReplacer.Replace(s) + `"`
}
