// Package logging builds the process logger.
package logging

import (
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls the logger.
type Config struct {
	// Level is debug, info, warn or error.
	Level string

	// Format is "console" or "json".
	Format string

	// File, when set, receives logs instead of stderr. It is rotated by
	// size.
	File string

	// MaxSizeMB is the rotation threshold. Zero means 100.
	MaxSizeMB int

	// MaxBackups is the number of rotated files kept.
	MaxBackups int
}

// DefaultConfig logs info and above to stderr in console format.
func DefaultConfig() Config {
	return Config{Level: "info", Format: "console", MaxSizeMB: 100, MaxBackups: 3}
}

// ParseLevel maps a level name to a zap level.
func ParseLevel(s string) (zapcore.Level, error) {
	var lvl zapcore.Level
	if s == "" {
		return zapcore.InfoLevel, nil
	}
	if err := lvl.UnmarshalText([]byte(strings.ToLower(s))); err != nil {
		return lvl, errors.Wrapf(err, "log level %q", s)
	}
	return lvl, nil
}

// New builds a logger from cfg.
func New(cfg Config) (*zap.Logger, error) {
	lvl, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	switch strings.ToLower(cfg.Format) {
	case "json":
		enc = zapcore.NewJSONEncoder(encCfg)
	case "console", "":
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	default:
		return nil, errors.Newf("unknown log format %q", cfg.Format)
	}

	var sink zapcore.WriteSyncer
	if cfg.File != "" {
		size := cfg.MaxSizeMB
		if size <= 0 {
			size = 100
		}
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    size,
			MaxBackups: cfg.MaxBackups,
		})
	} else {
		sink = zapcore.Lock(os.Stderr)
	}

	return zap.New(zapcore.NewCore(enc, sink, lvl)), nil
}
