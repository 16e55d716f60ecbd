// Package logging builds the process logger from the log.level and
// log.style settings.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Styles understood by New.
const (
	StyleTerminal = "terminal"
	StyleJSON     = "json"
	StyleNoop     = "noop"
)

// New returns a logger at level ("debug", "info", ...) in the given style.
func New(level, style string) (*zap.Logger, error) {
	if style == StyleNoop {
		return zap.NewNop(), nil
	}

	lvl := zapcore.InfoLevel
	if level != "" {
		parsed, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		lvl = parsed
	}

	var cfg zap.Config
	switch style {
	case StyleJSON:
		cfg = zap.NewProductionConfig()
	case StyleTerminal, "":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	default:
		return nil, fmt.Errorf("unknown log style %q", style)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	return cfg.Build()
}
