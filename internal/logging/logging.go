// Package logging configures the process-wide logger and hands out
// module-scoped entries so every line carries the subsystem it came from.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Init configures the global logger (call once at startup).
func Init(level logrus.Level, output io.Writer, forceColors bool) {
	if output == nil {
		output = os.Stderr
	}
	logrus.SetOutput(output)
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
		ForceColors:     forceColors,
	})
}

// Module returns an entry tagged with the given subsystem name.
func Module(name string) *logrus.Entry {
	return logrus.WithField("module", name)
}

// ParseLevel parses a log level string, accepting "silent" as an alias
// for suppressing everything below panic.
func ParseLevel(s string) (logrus.Level, error) {
	switch strings.ToLower(s) {
	case "silent", "none":
		return logrus.PanicLevel, nil
	case "warning":
		return logrus.WarnLevel, nil
	}
	level, err := logrus.ParseLevel(s)
	if err != nil {
		return logrus.InfoLevel, fmt.Errorf("invalid log level: %s", s)
	}
	return level, nil
}
