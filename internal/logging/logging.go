// Package logging builds the structured zap loggers used by every binary.
package logging

import (
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the structured logger handed to services.
type Logger interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)

	Infof(format string, args ...any)
	Errorf(format string, args ...any)

	With(fields ...zap.Field) Logger
	Named(name string) Logger

	Zap() *zap.Logger
	Sync() error
}

// Config selects the level, encoding and optional rotating file sink.
type Config struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	// File enables a lumberjack-rotated sink next to stdout.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "json",
		MaxSizeMB:  100,
		MaxAgeDays: 7,
		MaxBackups: 10,
	}
}

// ParseLevel maps a level name onto zap. Unknown names mean info.
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// New builds a logger writing to stdout and, when configured, to a rotated
// file.
func New(cfg Config) Logger {
	return newLogger(cfg, os.Stdout)
}

// NewStderr is New for command-line tools whose stdout carries results.
func NewStderr(cfg Config) Logger {
	return newLogger(cfg, os.Stderr)
}

func newLogger(cfg Config, stdout io.Writer) Logger {
	level := zap.NewAtomicLevelAt(ParseLevel(cfg.Level))

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if strings.EqualFold(cfg.Format, "console") {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	cores := []zapcore.Core{zapcore.NewCore(enc, zapcore.AddSync(stdout), level)}
	if cfg.File != "" {
		sink := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxAge:     cfg.MaxAgeDays,
			MaxBackups: cfg.MaxBackups,
			Compress:   cfg.Compress,
		}
		fileEnc := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
		cores = append(cores, zapcore.NewCore(fileEnc, zapcore.AddSync(sink), level))
	}

	return FromZap(zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1)))
}

// NewNop returns a logger that discards everything.
func NewNop() Logger {
	return FromZap(zap.NewNop())
}

// FromZap wraps an existing zap logger.
func FromZap(zl *zap.Logger) Logger {
	return &zapLogger{zl: zl, sl: zl.Sugar()}
}

type zapLogger struct {
	zl *zap.Logger
	sl *zap.SugaredLogger
}

func (l *zapLogger) Debug(msg string, fields ...zap.Field) { l.zl.Debug(msg, fields...) }
func (l *zapLogger) Info(msg string, fields ...zap.Field)  { l.zl.Info(msg, fields...) }
func (l *zapLogger) Warn(msg string, fields ...zap.Field)  { l.zl.Warn(msg, fields...) }
func (l *zapLogger) Error(msg string, fields ...zap.Field) { l.zl.Error(msg, fields...) }

func (l *zapLogger) Infof(format string, args ...any)  { l.sl.Infof(format, args...) }
func (l *zapLogger) Errorf(format string, args ...any) { l.sl.Errorf(format, args...) }

func (l *zapLogger) With(fields ...zap.Field) Logger { return FromZap(l.zl.With(fields...)) }
func (l *zapLogger) Named(name string) Logger        { return FromZap(l.zl.Named(name)) }

func (l *zapLogger) Zap() *zap.Logger { return l.zl }
func (l *zapLogger) Sync() error      { return l.zl.Sync() }

var _ Logger = (*zapLogger)(nil)
