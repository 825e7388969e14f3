// Package logging configures the process-wide logrus logger and hands out
// component-scoped entries.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var base = newLogger(os.Stdout)

func newLogger(out io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// Init applies level and format to the process logger. LOG_LEVEL overrides level.
func Init(level, format string) error {
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		level = env
	}
	if level == "" {
		level = "info"
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}
	base.SetLevel(lvl)

	switch strings.ToLower(format) {
	case "", "json":
		base.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	case "text":
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("unknown log format: %s (supported: json, text)", format)
	}
	return nil
}

// SetOutput redirects the process logger, e.g. to stderr for CLI commands
func SetOutput(w io.Writer) {
	base.SetOutput(w)
}

// New returns an entry tagged with the component name
func New(component string) *logrus.Entry {
	return base.WithField("component", component)
}

// Discard returns an entry that writes nowhere, for tests
func Discard() *logrus.Entry {
	l := newLogger(io.Discard)
	return logrus.NewEntry(l)
}
