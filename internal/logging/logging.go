// Package logging builds the zap loggers used by the vole binaries.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the level, encoding and outputs of a logger.
type Config struct {
	Level   string
	JSON    bool
	Outputs []string
}

// NewConfig returns the console config: info level, ISO8601 timestamps,
// colored levels, no stack traces.
func NewConfig() zap.Config {
	return zap.Config{
		Level:    zap.NewAtomicLevelAt(zap.InfoLevel),
		Encoding: "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		DisableStacktrace: true,
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
	}
}

// New builds a named sugared logger from c.
func New(name string, c Config) (*zap.SugaredLogger, error) {
	zc := NewConfig()
	if lvl := strings.TrimSpace(c.Level); lvl != "" {
		l, err := zapcore.ParseLevel(lvl)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		zc.Level = zap.NewAtomicLevelAt(l)
	}
	if c.JSON {
		zc.Encoding = "json"
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	if len(c.Outputs) > 0 {
		zc.OutputPaths = c.Outputs
	}
	logger, err := zc.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar().Named(name), nil
}
