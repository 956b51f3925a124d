package logging

import (
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

const (
	FormatText = "text"
	FormatJSON = "json"
)

// Init configures the standard logger. Unknown levels fall back to info.
func Init(level, format string) {
	InitWithOutput(level, format, os.Stderr)
}

// InitWithOutput configures the standard logger to write to out
func InitWithOutput(level, format string, out io.Writer) {
	log.SetLevel(ParseLevel(level))
	log.SetOutput(out)

	switch strings.ToLower(format) {
	case FormatJSON:
		log.SetFormatter(&log.JSONFormatter{})
	default:
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}

// ParseLevel maps a level name onto a logrus level
func ParseLevel(level string) log.Level {
	switch strings.ToLower(level) {
	case "error":
		return log.ErrorLevel
	case "warn", "warning":
		return log.WarnLevel
	case "debug":
		return log.DebugLevel
	case "trace":
		return log.TraceLevel
	default:
		return log.InfoLevel
	}
}
