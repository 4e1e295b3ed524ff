package transform

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/html"
)

// boundAttrs lists, per tag, the attribute holding a reference to bind.
var boundAttrs = map[string]string{
	"script": "src",
	"link":   "href",
	"img":    "src",
	"source": "src",
	"audio":  "src",
	"video":  "src",
	"iframe": "src",
}

// HTML returns the markup transform. The content of inline module scripts
// goes through script, inline styles through the stylesheet binding, and
// src/href references are bound to executables.
func HTML(script Transform) Transform {
	return func(ctx context.Context, in Input) (Output, error) {
		b := newBinder(in, "", nil)
		code, err := bindHTML(ctx, b, in.Source, script)
		if err != nil {
			return Output{Deps: b.deps}, err
		}
		return Output{Code: code, Deps: b.deps}, nil
	}
}

func bindHTML(ctx context.Context, b *binder, src string, script Transform) (string, error) {
	l := html.NewLexer(parse.NewInputString(src))
	var out strings.Builder
	out.Grow(len(src))

	var (
		tag      string // start tag whose attributes are being read
		rawTag   string // script or style whose body comes next
		isModule bool
		hasSrc   bool
	)
	for {
		tt, data := l.Next()
		switch tt {
		case html.ErrorToken:
			if l.Err() == io.EOF {
				return out.String(), nil
			}
			return "", fmt.Errorf("%s: %w: %v", b.in.Path, ErrSyntax, l.Err())

		case html.StartTagToken:
			tag = string(l.Text())
			rawTag, isModule, hasSrc = "", false, false
			out.Write(data)

		case html.AttributeToken:
			key := string(l.AttrKey())
			val := unquote(string(l.AttrVal()))
			if tag == "script" && key == "type" {
				isModule = strings.EqualFold(strings.TrimSpace(val), "module")
			}
			if boundAttrs[tag] != key || l.AttrVal() == nil {
				out.Write(data)
				continue
			}
			if tag == "script" {
				hasSrc = true
			}
			u, err := b.asset(val)
			if err != nil {
				return "", err
			}
			writeAttr(&out, data, key, u)

		case html.StartTagCloseToken:
			if tag == "script" || tag == "style" {
				rawTag = tag
			}
			tag = ""
			out.Write(data)

		case html.StartTagVoidToken:
			tag = ""
			out.Write(data)

		case html.TextToken:
			body := string(data)
			switch {
			case rawTag == "script" && isModule && !hasSrc && script != nil:
				res, err := script(ctx, Input{Path: b.in.Path, Source: body, Resolver: b.in.Resolver})
				for _, d := range res.Deps {
					b.dep(d)
				}
				if err != nil {
					return "", b.fail(err)
				}
				out.WriteString("\n" + res.Code)
			case rawTag == "style":
				code, err := bindCSS(b, body)
				if err != nil {
					return "", err
				}
				out.WriteString(code)
			default:
				out.Write(data)
			}
			rawTag = ""

		default:
			rawTag = ""
			out.Write(data)
		}
	}
}

// writeAttr writes an attribute token with its value replaced, keeping the
// whitespace and spelling of the original key.
func writeAttr(out *strings.Builder, raw []byte, key, val string) {
	s := string(raw)
	i := strings.Index(strings.ToLower(s), key)
	if i < 0 {
		i = 0
	}
	out.WriteString(s[:i])
	out.WriteString(s[i : i+len(key)])
	out.WriteString(`="`)
	out.WriteString(attrEscaper.Replace(val))
	out.WriteString(`"`)
}

var attrEscaper = strings.NewReplacer(`&`, "&amp;", `"`, "&quot;")
