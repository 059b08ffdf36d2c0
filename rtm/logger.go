package rtm

import (
	"io"
	"os"

	charmlog "github.com/charmbracelet/log"
)

// Logger is the structured logger used by the client.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Warn(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
}

type charmLogger struct {
	logger *charmlog.Logger
}

func (logger *charmLogger) Debug(msg string, keyvals ...any) { logger.logger.Debug(msg, keyvals...) }
func (logger *charmLogger) Info(msg string, keyvals ...any)  { logger.logger.Info(msg, keyvals...) }
func (logger *charmLogger) Warn(msg string, keyvals ...any)  { logger.logger.Warn(msg, keyvals...) }
func (logger *charmLogger) Error(msg string, keyvals ...any) { logger.logger.Error(msg, keyvals...) }

func parseLogLevel(level string) charmlog.Level {
	switch level {
	case "debug":
		return charmlog.DebugLevel
	case "info":
		return charmlog.InfoLevel
	case "warn":
		return charmlog.WarnLevel
	case "error":
		return charmlog.ErrorLevel
	default:
		return charmlog.InfoLevel
	}
}

// NewLogger returns a text Logger writing to output at level ("debug",
// "info", "warn" or "error"). A nil output writes to stderr.
func NewLogger(output io.Writer, level string) Logger {
	if output == nil {
		output = os.Stderr
	}
	return &charmLogger{logger: charmlog.NewWithOptions(output, charmlog.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05",
		Level:           parseLogLevel(level),
		Prefix:          "rtm",
	})}
}

// NewJSONLogger is NewLogger with JSON formatted records.
func NewJSONLogger(output io.Writer, level string) Logger {
	logger := NewLogger(output, level).(*charmLogger)
	logger.logger.SetFormatter(charmlog.JSONFormatter)
	return logger
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// NopLogger discards everything.
func NopLogger() Logger { return nopLogger{} }

func defaultLogger() Logger {
	return NewLogger(os.Stderr, "warn")
}
