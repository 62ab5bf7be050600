package logger

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New creates a new zap logger based on the configuration.
func New(cfg *Config) (*zap.Logger, error) {
	var config zap.Config

	if cfg.Level == "debug" {
		config = zap.NewDevelopmentConfig()
	} else {
		config = zap.NewProductionConfig()
	}

	if cfg.Level != "" && cfg.Level != "debug" {
		level, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		config.Level = zap.NewAtomicLevelAt(level)
	}

	// Set format based on configuration
	if cfg.Format == "console" {
		config.Encoding = "console"
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		config.DisableStacktrace = true
	} else {
		config.Encoding = "json"
	}

	config.EncoderConfig.LevelKey = "level"
	config.EncoderConfig.TimeKey = "time"
	config.EncoderConfig.MessageKey = "message"

	return config.Build()
}

// WithRayID returns a logger with the ray_id field set from the Fiber context.
func WithRayID(l *zap.Logger, c *fiber.Ctx) *zap.Logger {
	rid := c.Locals("ray_id")
	if str, ok := rid.(string); ok && str != "" {
		return l.With(zap.String("ray_id", str))
	}
	return l
}

// WithSession returns a logger tagged with a world session and participant.
func WithSession(l *zap.Logger, session, participant string) *zap.Logger {
	fields := []zap.Field{zap.String("session", session)}
	if participant != "" {
		fields = append(fields, zap.String("participant", participant))
	}
	return l.With(fields...)
}
