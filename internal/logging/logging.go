// Package logging provides the zap-backed loggers used across coedit.
package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a wrapper of zap.SugaredLogger.
type Logger = *zap.SugaredLogger

var logLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)

// SetLogLevel sets the level of every logger created by this package with
// one of ["debug", "info", "warn", "error", "panic", "fatal"].
func SetLogLevel(level string) error {
	switch strings.ToLower(level) {
	case "debug":
		logLevel.SetLevel(zapcore.DebugLevel)
	case "info":
		logLevel.SetLevel(zapcore.InfoLevel)
	case "warn":
		logLevel.SetLevel(zapcore.WarnLevel)
	case "error":
		logLevel.SetLevel(zapcore.ErrorLevel)
	case "panic":
		logLevel.SetLevel(zapcore.PanicLevel)
	case "fatal":
		logLevel.SetLevel(zapcore.FatalLevel)
	default:
		return fmt.Errorf("invalid log level: %s", level)
	}
	return nil
}

// New creates a named logger.
func New(name string) Logger {
	return newLogger(name)
}

// NewNop returns a logger that discards everything. Tests use it.
func NewNop() Logger {
	return zap.NewNop().Sugar()
}

func newLogger(name string) Logger {
	return zap.New(
		zapcore.NewCore(
			zapcore.NewConsoleEncoder(humanEncoderConfig()),
			zapcore.Lock(zapcore.AddSync(os.Stdout)),
			logLevel,
		),
		zap.AddStacktrace(zap.ErrorLevel),
	).Named(name).Sugar()
}

func humanEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "T",
		LevelKey:       "L",
		NameKey:        "N",
		CallerKey:      "C",
		MessageKey:     "M",
		StacktraceKey:  "S",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeLevel:    zapcore.CapitalColorLevelEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}
