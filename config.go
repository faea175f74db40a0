package backlog

import "time"

// Config holds configuration for the Engine.
type Config struct {
	// Concurrency is the number of concurrent processor loops.
	Concurrency int

	// PollInterval bounds idle suspension: the worst-case pickup latency
	// when a wake pulse is missed.
	PollInterval time.Duration

	// ShutdownTimeout is the maximum time Stop waits for loops to drain.
	ShutdownTimeout time.Duration

	// DefaultMaxAttempts is the attempt ceiling of the default retry
	// policy. Individual operations may override the whole policy at
	// registration time.
	DefaultMaxAttempts int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:        10,
		PollInterval:       1 * time.Second,
		ShutdownTimeout:    30 * time.Second,
		DefaultMaxAttempts: 25,
	}
}
