// Package logger builds the process logger and provides an HTTP middleware
// for logging server activity.
//
// Usage:
//
//	mux := http.NewServeMux()
//	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
//		w.Write([]byte("Hello, world!"))
//	})
//
//	l := logger.New(
//	    logger.WithLevel(zerolog.InfoLevel),
//	    logger.WithConsole(true),
//	)
//
//	// Wrap the mux with the Logger middleware
//	handler := l.Handler(mux)
//
//	http.ListenAndServe(":8080", handler)
//
// Each request produces one entry carrying the response status, latency,
// client IP, method and path. Entries are JSON unless console output is
// requested.
package logger

import (
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// responseWriter wraps http.ResponseWriter to capture the response status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code before delegating to the underlying ResponseWriter.
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Logger wraps a zerolog.Logger configured for the process.
type Logger struct {
	output  io.Writer
	level   zerolog.Level
	console bool
	zl      zerolog.Logger
}

type config func(*Logger)

// WithOutput sets the output destination for log entries. (default os.Stdout)
func WithOutput(output io.Writer) config {
	return config(func(l *Logger) {
		l.output = output
	})
}

// WithLevel sets the minimum level written. (default info)
func WithLevel(level zerolog.Level) config {
	return config(func(l *Logger) {
		l.level = level
	})
}

// WithConsole switches from JSON to human readable output.
func WithConsole(console bool) config {
	return config(func(l *Logger) {
		l.console = console
	})
}

// Zerolog returns the configured logger.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zl
}

// Handler wraps an http.Handler and logs every request once it has been
// served.
func (l *Logger) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{w, http.StatusOK}
		next.ServeHTTP(rw, r)

		ip, _, _ := net.SplitHostPort(r.RemoteAddr)

		var evt *zerolog.Event
		if rw.statusCode >= http.StatusInternalServerError {
			evt = l.zl.Error()
		} else {
			evt = l.zl.Info()
		}

		evt.Int("status", rw.statusCode).
			Dur("latency", time.Since(start)).
			Str("ip", ip).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request")
	})
}

// New creates a new Logger with optional configuration.
func New(cfgs ...config) *Logger {
	lgr := &Logger{
		output: os.Stdout,
		level:  zerolog.InfoLevel,
	}

	for _, cfg := range cfgs {
		cfg(lgr)
	}

	out := lgr.output
	if lgr.console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.DateTime}
	}
	lgr.zl = zerolog.New(out).Level(lgr.level).With().Timestamp().Logger()

	return lgr
}
