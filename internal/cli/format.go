package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
)

var (
	headerColor  = color.New(color.FgCyan, color.Bold)
	successColor = color.New(color.FgGreen)
	urlColor     = color.New(color.FgBlue, color.Underline)
	dimColor     = color.New(color.Faint)
)

// printBanner prints the serve header.
func printBanner(w io.Writer, dir, cfgPath string) {
	_, _ = headerColor.Fprintln(w, "╔════════════════════════════════════════════════════════╗")
	_, _ = headerColor.Fprintln(w, "║                        livepad                         ║")
	_, _ = headerColor.Fprintln(w, "╚════════════════════════════════════════════════════════╝")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Workspace:   %s\n", dir)
	fmt.Fprintf(w, "Config File: %s\n", cfgPath)
	fmt.Fprintln(w)
}

func printSuccess(w io.Writer, format string, args ...any) {
	_, _ = successColor.Fprintf(w, "✓ "+format+"\n", args...)
}

// outputJSON writes v as indented JSON.
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
