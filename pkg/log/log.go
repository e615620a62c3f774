// Package log builds the logrus entries handed to every component.
package log

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// New returns the root entry writing text logs at level to out.
func New(level string, out io.Writer) (*logrus.Entry, error) {
	if out == nil {
		out = os.Stderr
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid log level %q", level)
	}
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(lvl)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return logrus.NewEntry(logger), nil
}

// Discard returns an entry that drops everything; used by tests.
func Discard() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

// Printf adapts entry to printf-style log callbacks such as Helm's action log func.
func Printf(entry *logrus.Entry) func(format string, v ...interface{}) {
	return func(format string, v ...interface{}) {
		entry.Debugf(format, v...)
	}
}
