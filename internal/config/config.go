package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/petervdpas/livepad/internal/util"
)

type Config struct {
	Paths   Paths   `json:"paths"`
	Viewer  Viewer  `json:"viewer"`
	Storage Storage `json:"storage"`
	Preview Preview `json:"preview"`
	Lua     Lua     `json:"lua"`
	Log     Log     `json:"log"`
}

type Paths struct {
	DataDir string `json:"data_dir"`
}

type Viewer struct {
	HTTPAddr string `json:"http_addr"`

	// Public base URL of this server (e.g., "https://pad.example.org").
	// Generated resources are addressed below it. Empty means
	// "http://" + http_addr.
	PublicURL string `json:"public_url"`

	Debug bool `json:"debug"`
}

type Storage struct {
	// SQLite database holding project snapshots and the change log.
	// Relative to the data dir.
	Path string `json:"path"`

	// Fold the change log into a fresh snapshot after this many changes.
	CompactEvery int `json:"compact_every"`
}

type Preview struct {
	CDN             string `json:"cdn"`               // serves bare module specifiers
	Entry           string `json:"entry"`             // file loaded by /preview
	Target          string `json:"target"`            // esbuild language target, e.g. "es2020"
	JSXImportSource string `json:"jsx_import_source"` // automatic JSX runtime package
	HighlightStyle  string `json:"highlight_style"`   // chroma style for markdown code blocks
	FetchTypes      bool   `json:"fetch_types"`       // download type declarations of bare imports
	BuildDelayMS    int    `json:"build_delay_ms"`    // quiet time after an edit before rebuilding
}

type Lua struct {
	Enabled        bool   `json:"enabled"`
	ScriptDir      string `json:"script_dir"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	MaxMemoryMB    int    `json:"max_memory_mb"`
}

type Log struct {
	Level      string `json:"level"`
	Format     string `json:"format"`
	File       string `json:"file"`
	BufferSize int    `json:"buffer_size"` // lines kept for /api/logs
}

func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: "data",
		},
		Viewer: Viewer{
			HTTPAddr: "127.0.0.1:8787",
		},
		Storage: Storage{
			Path:         "livepad.db",
			CompactEvery: 500,
		},
		Preview: Preview{
			CDN:             "https://esm.sh",
			Entry:           "index.html",
			Target:          "es2020",
			JSXImportSource: "react",
			HighlightStyle:  "github",
			FetchTypes:      true,
			BuildDelayMS:    40,
		},
		Lua: Lua{
			Enabled:        false,
			ScriptDir:      "plugins",
			TimeoutSeconds: 5,
			MaxMemoryMB:    10,
		},
		Log: Log{
			Level:      "info",
			Format:     "console",
			BufferSize: 500,
		},
	}
}

var targets = map[string]bool{
	"es2015": true, "es2016": true, "es2017": true, "es2018": true, "es2019": true,
	"es2020": true, "es2021": true, "es2022": true, "es2023": true, "es2024": true, "esnext": true,
}

// Targets reports whether name is a supported preview.target.
func Targets(name string) bool { return targets[strings.ToLower(name)] }

func (c *Config) Validate() error {
	// Paths
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir is required")
	}

	// Viewer
	if strings.TrimSpace(c.Viewer.HTTPAddr) == "" {
		return errors.New("viewer.http_addr is required")
	}
	host, port, err := net.SplitHostPort(c.Viewer.HTTPAddr)
	if err != nil {
		return fmt.Errorf("viewer.http_addr: %w", err)
	}
	if host != "" && host != "localhost" && net.ParseIP(host) == nil {
		return errors.New("viewer.http_addr host must be an IP address or localhost")
	}
	if n, err := strconv.Atoi(port); err != nil || n < 0 || n > 65535 {
		return errors.New("viewer.http_addr port must be 0..65535")
	}
	if pu := strings.TrimSpace(c.Viewer.PublicURL); pu != "" {
		if err := validateBaseURL(pu); err != nil {
			return fmt.Errorf("viewer.public_url: %w", err)
		}
	}

	// Storage
	if strings.TrimSpace(c.Storage.Path) == "" {
		return errors.New("storage.path is required")
	}
	if c.Storage.CompactEvery < 0 {
		return errors.New("storage.compact_every must be >= 0")
	}

	// Preview
	if err := validateBaseURL(c.Preview.CDN); err != nil {
		return fmt.Errorf("preview.cdn: %w", err)
	}
	if strings.TrimSpace(c.Preview.Entry) == "" {
		return errors.New("preview.entry is required")
	}
	if !Targets(c.Preview.Target) {
		return fmt.Errorf("preview.target %q is not supported", c.Preview.Target)
	}
	if c.Preview.BuildDelayMS < 0 {
		return errors.New("preview.build_delay_ms must be >= 0")
	}

	// Lua
	if c.Lua.Enabled {
		if strings.TrimSpace(c.Lua.ScriptDir) == "" {
			return errors.New("lua.script_dir is required when lua is enabled")
		}
		if c.Lua.TimeoutSeconds < 1 || c.Lua.TimeoutSeconds > 60 {
			return errors.New("lua.timeout_seconds must be 1..60")
		}
		if c.Lua.MaxMemoryMB < 1 || c.Lua.MaxMemoryMB > 1024 {
			return errors.New("lua.max_memory_mb must be 1..1024")
		}
	}

	// Log
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q must be debug, info, warn or error", c.Log.Level)
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		return errors.New("log.format must be console or json")
	}
	if c.Log.BufferSize < 0 {
		return errors.New("log.buffer_size must be >= 0")
	}
	return nil
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("scheme must be http or https")
	}
	if u.Host == "" || u.Hostname() == "" {
		return errors.New("missing host")
	}
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 || n > 65535 {
			return errors.New("invalid port")
		}
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return errors.New("must not carry a query or fragment")
	}
	return nil
}

// BaseURL is the origin generated resources are served from.
func (c *Config) BaseURL() string {
	if pu := strings.TrimSpace(c.Viewer.PublicURL); pu != "" {
		return strings.TrimRight(pu, "/")
	}
	host, port, _ := net.SplitHostPort(c.Viewer.HTTPAddr)
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// Strip UTF-8 BOM if present (common when editing JSON on Windows).
	b = stripBOM(b)

	// Start from defaults so missing JSON fields remain initialized.
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadPartial reads a config file without validation, for tools that only
// need a few fields.
func LoadPartial(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	b = stripBOM(b)
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// stripBOM removes a UTF-8 byte order mark if present.
func stripBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	return util.WriteJSONFile(path, cfg)
}

// Ensure loads config if it exists; otherwise creates a default config file.
// Returns (cfg, createdNew, err).
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	if err := Save(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	return cfg, true, nil
}
