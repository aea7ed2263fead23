package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

type contextKey string

const LoggerKey contextKey = "logger"

// InitLogger builds the process logger, reports config warnings through it and
// stores it in the returned context.
func InitLogger(ctx context.Context, logLevel string, jsonOutput bool, warnings []string) (context.Context, *zerolog.Logger) {
	log := NewLogger(logLevel, jsonOutput)
	for _, warn := range warnings {
		log.Warn().Msg(warn)
	}
	ctx = context.WithValue(ctx, LoggerKey, log)
	return ctx, log
}

// NewLogger creates a logger writing to stderr and sets the global log level.
// With jsonOutput the logger emits JSON lines, otherwise a colourised console format.
func NewLogger(logLevel string, jsonOutput bool) *zerolog.Logger {
	SetLevel(logLevel)

	var out io.Writer = os.Stderr
	if !jsonOutput {
		out = consoleWriter(os.Stderr)
	}

	logger := zerolog.New(out).With().Timestamp().Logger()

	return &logger
}

func consoleWriter(w io.Writer) zerolog.ConsoleWriter {
	output := zerolog.ConsoleWriter{Out: w, TimeFormat: "2006-01-02 15:04:05"}

	// Customize the output for each log level
	output.FormatLevel = func(i interface{}) string {
		var l string
		if ll, ok := i.(string); ok {
			switch ll {
			case "debug":
				l = colorize(ll, 36) // cyan
			case "info":
				l = colorize(ll, 34) // blue
			case "warn":
				l = colorize(ll, 33) // yellow
			case "error":
				l = colorize(ll, 31) // red
			case "fatal":
				l = colorize(ll, 35) // magenta
			case "panic":
				l = colorize(ll, 41) // white on red background
			default:
				l = colorize(ll, 37) // white
			}
		} else {
			if i == nil {
				l = colorize("???", 37) // white
			} else {
				lStr := strings.ToUpper(fmt.Sprintf("%s", i))
				if len(lStr) > 3 {
					lStr = lStr[:3]
				}
				l = lStr
			}
		}
		return fmt.Sprintf("| %s |", l)
	}
	return output
}

// SetLevel changes the global log level. Unknown levels fall back to info.
func SetLevel(logLevel string) zerolog.Level {
	level := getLogLevel(logLevel)
	zerolog.SetGlobalLevel(level)
	return level
}

// FromContext extracts the main logger from the context.
func FromContext(ctx context.Context) *zerolog.Logger {
	logger, ok := ctx.Value(LoggerKey).(*zerolog.Logger)
	if !ok {
		// Fallback to a default logger if none is found in the context.
		defaultLogger := zerolog.New(os.Stderr).With().Timestamp().Logger()
		defaultLogger.Error().Msg("Failed to extract logger from context")
		return &defaultLogger
	}
	return logger
}

// Helper function to get the log level
func getLogLevel(logLevel string) zerolog.Level {
	switch strings.ToLower(logLevel) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}

// Helper function to colorize text
func colorize(s string, color int) string {
	return fmt.Sprintf("\x1b[%dm%s\x1b[0m", color, s)
}
