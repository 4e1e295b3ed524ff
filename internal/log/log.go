// Package log is the process-wide logger: zap underneath, printf-style
// helpers on top. Messages follow the "AREA: text" convention, e.g.
// log.Info("SYNC: opened %s", path).
package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	atomicLevel = zap.NewAtomicLevelAt(zap.InfoLevel)

	mu    sync.RWMutex
	base  *zap.Logger
	sugar *zap.SugaredLogger
)

func init() {
	if err := Setup(Options{}); err != nil {
		panic(fmt.Sprintf("failed to init logger: %v", err))
	}
}

// Options configures Setup.
type Options struct {
	Level  string    // debug, info, warn, error; empty keeps the current level
	Format string    // "console" (default) or "json"
	File   string    // optional file to append to instead of stderr
	Tee    io.Writer // optional second sink, always console-encoded
}

// Setup rebuilds the logger. It is safe to call more than once.
func Setup(opts Options) error {
	if opts.Level != "" {
		lvl, err := zapcore.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return fmt.Errorf("log level %q: %w", opts.Level, err)
		}
		atomicLevel.SetLevel(lvl)
	}

	out := zapcore.Lock(os.Stderr)
	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		out = zapcore.AddSync(f)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	switch opts.Format {
	case "", "console":
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	case "json":
		enc = zapcore.NewJSONEncoder(encCfg)
	default:
		return fmt.Errorf("log format %q: unknown", opts.Format)
	}

	cores := []zapcore.Core{zapcore.NewCore(enc, out, atomicLevel)}
	if opts.Tee != nil {
		teeCfg := zap.NewProductionEncoderConfig()
		teeCfg.TimeKey = "" // the log buffer stamps entries itself
		teeCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(teeCfg), zapcore.AddSync(opts.Tee), atomicLevel))
	}

	logger := zap.New(zapcore.NewTee(cores...))
	mu.Lock()
	base = logger
	sugar = logger.Sugar()
	mu.Unlock()
	return nil
}

// SetLevel changes the level of the running logger.
func SetLevel(level string) error {
	lvl, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		return err
	}
	atomicLevel.SetLevel(lvl)
	return nil
}

// Level returns the current level name.
func Level() string { return atomicLevel.Level().String() }

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}

func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = base.Sync()
}

func Debug(format string, args ...any) {
	current().Debugf(format, args...)
}

func Info(format string, args ...any) {
	current().Infof(format, args...)
}

func Warn(format string, args ...any) {
	current().Warnf(format, args...)
}

func Error(format string, args ...any) {
	current().Errorf(format, args...)
}
