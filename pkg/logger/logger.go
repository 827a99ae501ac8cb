package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var zlog zerolog.Logger

// Init initializes the structured zerolog logger.
// Development mode gets pretty console output; everything else emits JSON.
func Init(env string) {
	var w io.Writer

	if env == "development" || env == "dev" || env == "local" {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	} else {
		w = os.Stdout
	}

	zlog = zerolog.New(w).With().
		Timestamp().
		Str("service", "inkwell-backend").
		Logger()

	zerolog.TimeFieldFormat = time.RFC3339
}

// GetLogger returns the global zerolog logger
func GetLogger() *zerolog.Logger {
	return &zlog
}

// WithRequestID returns a logger with request_id field
func WithRequestID(requestID string) zerolog.Logger {
	return zlog.With().Str("request_id", requestID).Logger()
}

// WithActor returns a logger with actor_id field
func WithActor(actorID string) zerolog.Logger {
	return zlog.With().Str("actor_id", actorID).Logger()
}

// WithScope returns a logger with edit_scope field
func WithScope(scopeKey string) zerolog.Logger {
	return zlog.With().Str("edit_scope", scopeKey).Logger()
}
