package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// New builds a logrus logger. The dev environment gets human readable text,
// everything else emits JSON. An unknown level falls back to info.
func New(env, level string, out ...io.Writer) *logrus.Logger {
	l := logrus.New()
	if len(out) > 0 {
		l.SetOutput(io.MultiWriter(out...))
	} else {
		l.SetOutput(os.Stdout)
	}

	if strings.EqualFold(env, "dev") || strings.EqualFold(env, "development") {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{})
	}

	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	return l
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
