package main

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mkoba/scopecam/internal/logging"
)

// logEvents reports capture results to the operator through the log.
type logEvents struct{}

func (logEvents) PhotoSaved(path string) {
	logging.Module("capture").WithField("file", path).Info("Photo saved")
}

func (logEvents) RecordingStopped(path string, duration time.Duration) {
	logging.Module("capture").WithFields(logrus.Fields{
		"file":     path,
		"duration": duration.Round(time.Millisecond),
	}).Info("Recording saved")
}

func (logEvents) CaptureError(msg string) {
	logging.Module("capture").Error(msg)
}
