// Package logging centralizes logrus setup for both binaries, in the
// teacher's idiom of a single shared constructor rather than each
// command configuring the global logger ad hoc.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Options configures New.
type Options struct {
	Level  string // logrus level name, e.g. "info", "debug"
	Output io.Writer
	JSON   bool
}

// New builds a *logrus.Logger per Options, defaulting to stderr at
// info level with the text formatter, matching the teacher's
// plain-text-by-default / --json-opt-in convention.
func New(opts Options) *logrus.Logger {
	log := logrus.New()

	if opts.Output != nil {
		log.SetOutput(opts.Output)
	} else {
		log.SetOutput(os.Stderr)
	}

	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if opts.JSON {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return log
}
