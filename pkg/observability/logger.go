package observability

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// NewLogger builds the process-wide logger. format is "json" or "text";
// level is one of debug, info, warn, error (unknown values mean info).
func NewLogger(level, format string) *logrus.Logger {
	log := logrus.New()

	switch strings.ToLower(level) {
	case "debug":
		log.SetLevel(logrus.DebugLevel)
	case "warn", "warning":
		log.SetLevel(logrus.WarnLevel)
	case "error":
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}

	if strings.EqualFold(format, "json") {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}

// Component returns a child logger tagged with the subsystem name.
func Component(log *logrus.Logger, name string) *logrus.Entry {
	return log.WithField("component", name)
}
