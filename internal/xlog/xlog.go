// Package xlog is the engine's structured logger: a single package-level
// logrus.Logger, discarding output by default and switched to stderr by
// SetVerbose.
package xlog

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Fields is a convenience alias so callers outside this package don't
// need their own logrus import just to call WithFields.
type Fields = logrus.Fields

var log = newDiscardLogger()

func newDiscardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// SetVerbose switches logging to stderr (verbose=true) or back to
// discarding everything (verbose=false).
func SetVerbose(verbose bool) {
	if verbose {
		log.SetOutput(os.Stderr)
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetOutput(io.Discard)
		log.SetLevel(logrus.InfoLevel)
	}
}

// WithFields returns a logrus entry carrying the given structured fields,
// the call site then chains .Info/.Warn/.Error on it.
func WithFields(fields logrus.Fields) *logrus.Entry {
	return log.WithFields(fields)
}

// Info logs a plain message with no fields.
func Info(msg string) { log.Info(msg) }

// Warn logs a plain warning with no fields.
func Warn(msg string) { log.Warn(msg) }
