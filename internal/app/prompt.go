// internal/app/prompt.go
package app

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/petervdpas/livepad/internal/config"
)

// PromptInteractive walks through the main settings, offering cfg's values
// as defaults. An invalid result falls back to the defaults.
func PromptInteractive(r io.Reader, w io.Writer, dir, cfgPath string, cfg config.Config) config.Config {
	in := bufio.NewReader(r)

	fmt.Fprintln(w, "────────────────────────────────────────")
	fmt.Fprintln(w, "livepad interactive setup")
	fmt.Fprintf(w, " Folder      : %s\n", dir)
	fmt.Fprintf(w, " Config file : %s\n", cfgPath)
	fmt.Fprintln(w, "────────────────────────────────────────")
	fmt.Fprintln(w)

	cfg.Viewer.HTTPAddr = askString(in, w, "Viewer HTTP addr", cfg.Viewer.HTTPAddr)
	cfg.Viewer.PublicURL = askString(in, w, "Public URL (empty=from addr)", cfg.Viewer.PublicURL)
	cfg.Paths.DataDir = askString(in, w, "Data folder", cfg.Paths.DataDir)
	cfg.Preview.Entry = askString(in, w, "Preview entry file", cfg.Preview.Entry)
	cfg.Preview.FetchTypes = askBool(in, w, "Fetch type declarations", cfg.Preview.FetchTypes)
	cfg.Storage.CompactEvery = askInt(in, w, "Compact after N changes (0=never)", cfg.Storage.CompactEvery)

	cfg.Lua.Enabled = askBool(in, w, "Enable Lua transform plugins", cfg.Lua.Enabled)
	if cfg.Lua.Enabled {
		cfg.Lua.ScriptDir = askString(in, w, "Plugin folder", cfg.Lua.ScriptDir)
		cfg.Lua.TimeoutSeconds = askInt(in, w, "Plugin timeout seconds", cfg.Lua.TimeoutSeconds)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(w, "Invalid config: %v\nKeeping defaults.\n", err)
		return config.Default()
	}
	return cfg
}

func askString(in *bufio.Reader, w io.Writer, label, def string) string {
	fmt.Fprintf(w, "%s [%s]: ", label, def)
	s, _ := in.ReadString('\n')
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	return s
}

func askInt(in *bufio.Reader, w io.Writer, label string, def int) int {
	for {
		fmt.Fprintf(w, "%s [%d]: ", label, def)
		s, err := in.ReadString('\n')
		s = strings.TrimSpace(s)
		if s == "" {
			return def
		}
		if v, convErr := strconv.Atoi(s); convErr == nil {
			return v
		}
		if err != nil {
			return def
		}
		fmt.Fprintln(w, "Please enter a number.")
	}
}

func askBool(in *bufio.Reader, w io.Writer, label string, def bool) bool {
	defStr := "n"
	if def {
		defStr = "y"
	}
	for {
		fmt.Fprintf(w, "%s [y/n] (default=%s): ", label, defStr)
		s, err := in.ReadString('\n')
		s = strings.TrimSpace(strings.ToLower(s))
		if s == "" {
			return def
		}
		switch s {
		case "y", "yes", "true", "1":
			return true
		case "n", "no", "false", "0":
			return false
		}
		if err != nil {
			return def
		}
		fmt.Fprintln(w, "Please enter y or n.")
	}
}
