package webmonitor

import "time"

// Config defines the runtime configuration for the web monitor server.
type Config struct {
	Addr           string
	StatusInterval time.Duration
}

// DefaultConfig returns the default web monitor settings.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		StatusInterval: time.Second,
	}
}
