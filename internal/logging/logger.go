// Package logging builds the process-wide zap logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls logger construction
type Config struct {
	Level string
	Dev   bool
	// File is the base path of the rotating log file; empty disables file output
	File      string
	MaxSizeMB int
	Keep      int
	// NoConsole drops stderr output, e.g. while a TUI owns the terminal
	NoConsole bool
}

// ConfigFromEnv reads LOG_LEVEL and LOG_DEV
func ConfigFromEnv() Config {
	dev := os.Getenv("LOG_DEV") == "1"
	lvl := os.Getenv("LOG_LEVEL")
	if lvl == "" {
		if dev {
			lvl = "debug"
		} else {
			lvl = "info"
		}
	}
	return Config{Level: lvl, Dev: dev}
}

// Merge fills empty fields of c from other. Environment wins over file config
// for the level.
func (c Config) Merge(other Config) Config {
	if c.Level == "" {
		c.Level = other.Level
	}
	if !c.Dev {
		c.Dev = other.Dev
	}
	if c.File == "" {
		c.File = other.File
	}
	if c.MaxSizeMB == 0 {
		c.MaxSizeMB = other.MaxSizeMB
	}
	if c.Keep == 0 {
		c.Keep = other.Keep
	}
	return c
}

// ParseLevel converts a level name to a zapcore.Level, defaulting to info
func ParseLevel(l string) zapcore.Level {
	switch strings.ToLower(l) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Init builds a logger writing to stderr and, when configured, to a
// size-rotated file. The returned closer flushes and releases the file.
func Init(cfg Config) (*zap.Logger, func() error, error) {
	if cfg.NoConsole {
		return build(cfg, nil, false)
	}
	return build(cfg, os.Stderr, isTerminal(os.Stderr))
}

func build(cfg Config, console io.Writer, color bool) (*zap.Logger, func() error, error) {
	lvl := zap.NewAtomicLevelAt(ParseLevel(cfg.Level))

	consoleCfg := zap.NewDevelopmentEncoderConfig()
	consoleCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	if color {
		consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	var cores []zapcore.Core
	if console != nil {
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), zapcore.AddSync(console), lvl))
	}

	closers := []io.Closer{}
	if cfg.File != "" {
		w, err := newRotatingWriter(cfg)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, w)

		fileCfg := zap.NewProductionEncoderConfig()
		fileCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileCfg), zapcore.AddSync(w), lvl))
	}

	opts := []zap.Option{zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.Dev {
		opts = append(opts, zap.AddCaller(), zap.Development())
	}
	logger := zap.New(zapcore.NewTee(cores...), opts...)

	closeFn := func() error {
		_ = logger.Sync()
		var firstErr error
		for _, c := range closers {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}
	return logger, closeFn, nil
}

func newRotatingWriter(cfg Config) (*rotatelogs.RotateLogs, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	size := cfg.MaxSizeMB
	if size <= 0 {
		size = 10
	}
	keep := cfg.Keep
	if keep <= 0 {
		keep = 3
	}

	w, err := rotatelogs.New(
		cfg.File+".%Y%m%d",
		rotatelogs.WithLinkName(cfg.File),
		rotatelogs.WithRotationSize(int64(size)*1024*1024),
		rotatelogs.WithRotationCount(uint(keep)),
	)
	if err != nil {
		return nil, fmt.Errorf("open rotating log %s: %w", cfg.File, err)
	}
	return w, nil
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
