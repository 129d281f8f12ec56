package config

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Logger is the global logger instance
	Logger *zap.Logger
)

// InitLogger builds the global logger. LOG_LEVEL sets the level and
// LOG_FORMAT=console switches from JSON to the human readable encoder.
func InitLogger() error {
	config := zap.NewProductionConfig()

	// Customize the logging format
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.StacktraceKey = "" // Disable stacktrace by default

	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "console") {
		config.Encoding = "console"
		config.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	// Set log level based on environment
	config.Level = zap.NewAtomicLevelAt(LevelFromEnv(zapcore.InfoLevel))

	// Create the logger
	logger, err := config.Build(zap.AddCaller())
	if err != nil {
		return err
	}
	Logger = logger.Named("ringpool")

	// Replace the global logger
	zap.ReplaceGlobals(Logger)

	return nil
}

// LevelFromEnv parses LOG_LEVEL, returning fallback when unset or invalid
func LevelFromEnv(fallback zapcore.Level) zapcore.Level {
	raw := os.Getenv("LOG_LEVEL")
	if raw == "" {
		return fallback
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return fallback
	}
	return level
}

// GetLogger returns the global logger, creating a development one on first
// use when InitLogger was never called
func GetLogger() *zap.Logger {
	if Logger == nil {
		// If logger is not initialized, create a default logger
		Logger = zap.NewExample()
		zap.ReplaceGlobals(Logger)
	}
	return Logger
}

// Sync flushes any buffered log entries
func Sync() error {
	if Logger != nil {
		return Logger.Sync()
	}
	return nil
}
