package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

// New builds the process logger. Local runs get a human readable console
// writer, dev and prod emit JSON lines.
func New(env, level string) zerolog.Logger {
	return NewWithWriter(os.Stdout, env, level)
}

// NewWithWriter is New with an explicit output, used by tests and the CLI.
func NewWithWriter(w io.Writer, env, level string) zerolog.Logger {
	var out io.Writer = w
	switch strings.ToLower(env) {
	case envDev, envProd:
	default:
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).Level(parseLevel(level, env)).With().Timestamp().Logger()
}

func parseLevel(level, env string) zerolog.Level {
	if level != "" {
		if lvl, err := zerolog.ParseLevel(strings.ToLower(level)); err == nil {
			return lvl
		}
	}
	if strings.ToLower(env) == envProd {
		return zerolog.InfoLevel
	}
	return zerolog.DebugLevel
}

// Nop returns a disabled logger
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
