package transform

import (
	"context"
	"fmt"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

// ScriptOptions configures the JavaScript and TypeScript transforms.
type ScriptOptions struct {
	CDN             string
	Types           *TypeFetcher
	Target          api.Target // zero means ES2020
	JSXImportSource string     // zero means "react"
}

// Script returns a transform that compiles one module with the given esbuild
// loader and rewrites every import specifier it contains. Nothing is
// bundled: each import becomes an external reference to another
// executable, the CDN, or the URL it already was.
func Script(loader api.Loader, opts ScriptOptions) Transform {
	target := opts.Target
	if target == 0 {
		target = api.ES2020
	}
	jsxSource := opts.JSXImportSource
	if jsxSource == "" {
		jsxSource = "react"
	}

	return func(ctx context.Context, in Input) (Output, error) {
		if err := ctx.Err(); err != nil {
			return Output{}, err
		}
		b := newBinder(in, opts.CDN, opts.Types)

		result := api.Build(api.BuildOptions{
			Stdin: &api.StdinOptions{
				Contents:   in.Source,
				Sourcefile: in.Path,
				Loader:     loader,
			},
			Bundle:          true,
			Write:           false,
			Format:          api.FormatESModule,
			Platform:        api.PlatformBrowser,
			Target:          target,
			TreeShaking:     api.TreeShakingFalse,
			JSX:             api.JSXAutomatic,
			JSXImportSource: jsxSource,
			Charset:         api.CharsetUTF8,
			LogLevel:        api.LogLevelSilent,
			Plugins:         []api.Plugin{bindPlugin(b)},
		})

		if b.err != nil {
			return Output{Deps: b.deps}, b.err
		}
		if len(result.Errors) > 0 {
			return Output{Deps: b.deps}, buildError(in.Path, result.Errors)
		}
		if len(result.OutputFiles) == 0 {
			return Output{Deps: b.deps}, fmt.Errorf("%s: no output", in.Path)
		}
		return Output{Code: string(result.OutputFiles[0].Contents), Deps: b.deps}, nil
	}
}

// bindPlugin marks every import external after rewriting its path.
func bindPlugin(b *binder) api.Plugin {
	return api.Plugin{
		Name: "livepad-bind",
		Setup: func(build api.PluginBuild) {
			build.OnResolve(api.OnResolveOptions{Filter: ".*"}, func(args api.OnResolveArgs) (api.OnResolveResult, error) {
				if args.Kind == api.ResolveEntryPoint {
					return api.OnResolveResult{}, nil
				}
				url, err := b.module(args.Path)
				if err != nil {
					return api.OnResolveResult{}, err
				}
				return api.OnResolveResult{Path: url, External: true}, nil
			})
		},
	}
}

func buildError(path string, msgs []api.Message) error {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m.Location != nil {
			parts = append(parts, fmt.Sprintf("%d:%d: %s", m.Location.Line, m.Location.Column, m.Text))
		} else {
			parts = append(parts, m.Text)
		}
	}
	return fmt.Errorf("%s: %w: %s", path, ErrSyntax, strings.Join(parts, "; "))
}
