package logger

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// New создаёт логгер с консольным выводом
func New(level string) zerolog.Logger {
	zerolog.SetGlobalLevel(ParseLevel(level))

	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "2006-01-02 15:04:05"}).
		With().
		Timestamp().
		Caller().
		Logger()
}

func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}
