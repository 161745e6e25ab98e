package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

type Level int

const (
	Error Level = iota
	Warn
	Info
	Debug
)

// LevelIds maps levels to their flag names.
var LevelIds = map[Level][]string{
	Error: {"error"},
	Warn:  {"warn"},
	Info:  {"info"},
	Debug: {"debug"},
}

type Format int

const (
	Text Format = iota
	JSON
)

var FormatIds = map[Format][]string{
	Text: {"text"},
	JSON: {"json"},
}

type Config struct {
	Level  Level
	Format Format
	Output io.Writer
}

type Logger struct {
	log zerolog.Logger
}

func NewLogger(config Config) *Logger {
	out := config.Output
	if out == nil {
		out = os.Stderr
	}

	if config.Format == Text {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	return &Logger{log: zerolog.New(out).Level(config.Level.zerolog()).With().Timestamp().Logger()}
}

// NewNop returns a logger that discards everything. Used by tests and library
// callers that do not configure logging.
func NewNop() *Logger {
	return &Logger{log: zerolog.Nop()}
}

// With returns a child logger that tags every entry with key=value.
func (l *Logger) With(key, value string) *Logger {
	return &Logger{log: l.log.With().Str(key, value).Logger()}
}

func (l *Logger) Debugf(format string, args ...any) {
	l.log.Debug().Msgf(format, args...)
}

func (l *Logger) Infof(format string, args ...any) {
	l.log.Info().Msgf(format, args...)
}

func (l *Logger) Warnf(format string, args ...any) {
	l.log.Warn().Msgf(format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	l.log.Error().Msgf(format, args...)
}

func (l Level) zerolog() zerolog.Level {
	switch l {
	case Error:
		return zerolog.ErrorLevel
	case Warn:
		return zerolog.WarnLevel
	case Debug:
		return zerolog.DebugLevel
	default:
		return zerolog.InfoLevel
	}
}
