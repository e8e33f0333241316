package infra

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel is shared by every handler NewLogger builds, so a config reload can change it.
var LogLevel = new(slog.LevelVar)

// NewLogger creates a new slog.Logger with log rotation support
func NewLogger(cfg *Config) *slog.Logger {
	SetLogLevel(cfg.Logging.Level)

	logDir := cfg.Logging.Dir
	if err := os.MkdirAll(logDir, 0755); err != nil {
		// Fallback to stderr if directory creation fails
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: LogLevel}))
	}

	// Setup lumberjack logger for file rotation
	fileLogger := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "app.log"),
		MaxSize:    10, // Megabytes
		MaxBackups: 3,
		MaxAge:     28, // Days
		Compress:   true,
	}

	// Console output is left to the hotkey prompt; the file gets everything.
	var writer io.Writer = fileLogger
	if os.Getenv("OPTGO_LOG_STDOUT") != "" {
		writer = io.MultiWriter(os.Stdout, fileLogger)
	}

	return slog.New(slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: LogLevel}))
}

// SetLogLevel maps a config level name onto LogLevel.
func SetLogLevel(name string) {
	var level slog.Level
	switch name {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	LogLevel.Set(level)
}
