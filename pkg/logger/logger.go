// Package logger provides context-aware structured logging for the
// skill engine, built on logrus. A logger entry travels with the
// context so nested skill runs inherit the parent run's fields.
package logger

import (
	"context"
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	// G retrieves the logger entry carried by a context.
	G = GetLogger
	// L is the fallback entry used when a context carries no logger.
	L = logrus.NewEntry(newLogger())
)

type loggerKey struct{}

// WithLogger attaches a logger entry to the context.
func WithLogger(ctx context.Context, entry *logrus.Entry) context.Context {
	return context.WithValue(ctx, loggerKey{}, entry.WithContext(ctx))
}

// GetLogger returns the entry attached to ctx, or the global fallback.
func GetLogger(ctx context.Context) *logrus.Entry {
	if entry, ok := ctx.Value(loggerKey{}).(*logrus.Entry); ok {
		return entry
	}
	return L.WithContext(ctx)
}

func newLogger() *logrus.Logger {
	l := logrus.New()
	setFormat(l, "text")
	l.SetLevel(logrus.InfoLevel)
	return l
}

func setFormat(l *logrus.Logger, format string) {
	switch format {
	case "json":
		l.Formatter = &logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		}
	default:
		l.Formatter = &logrus.TextFormatter{
			TimestampFormat: time.RFC3339Nano,
			FullTimestamp:   true,
		}
	}
}

// SetLevel sets the level of the global logger. Unknown levels are an error.
func SetLevel(level string) error {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	L.Logger.SetLevel(parsed)
	return nil
}

// SetFormat switches the global logger between "text" and "json" output.
func SetFormat(format string) {
	setFormat(L.Logger, format)
}

// SetOutput redirects the global logger.
func SetOutput(w io.Writer) {
	L.Logger.SetOutput(w)
}
