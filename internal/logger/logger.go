package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// New returns a logger configured for the given environment. Production
// logs at info level, everything else at debug.
func New(env string) zerolog.Logger {
	return NewWithWriter(env, os.Stdout)
}

func NewWithWriter(env string, w io.Writer) zerolog.Logger {
	level := zerolog.DebugLevel
	if env == "production" {
		level = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
