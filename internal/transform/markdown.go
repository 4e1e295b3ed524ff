package transform

import (
	"bytes"
	"context"
	"fmt"
	stdhtml "html"

	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/petervdpas/livepad/internal/modpath"
)

// Markdown renders a document to a standalone HTML page whose references
// are then bound like any other page. Fenced code is highlighted with
// the given chroma style.
func Markdown(style string, script Transform) Transform {
	if style == "" {
		style = "github"
	}
	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			highlighting.NewHighlighting(highlighting.WithStyle(style)),
		),
		goldmark.WithRendererOptions(html.WithUnsafe()),
	)

	return func(ctx context.Context, in Input) (Output, error) {
		var body bytes.Buffer
		if err := md.Convert([]byte(in.Source), &body); err != nil {
			return Output{}, fmt.Errorf("%s: render markdown: %w", in.Path, err)
		}
		page := "<!doctype html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>" +
			stdhtml.EscapeString(modpath.Name(in.Path)) +
			"</title>\n</head>\n<body>\n" + body.String() + "</body>\n</html>\n"

		b := newBinder(Input{Path: in.Path, Source: page, Resolver: in.Resolver}, "", nil)
		code, err := bindHTML(ctx, b, page, script)
		if err != nil {
			return Output{Deps: b.deps}, err
		}
		return Output{Code: code, Deps: b.deps}, nil
	}
}
