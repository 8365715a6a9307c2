// Package config defines service configuration and its loading rules.
//
// Conventions:
// - New(ctx) returns defaults; Load(ctx) layers file and env on top.
// - All functions accept context.Context as the first parameter.
// - External errors are wrapped with this package's sentinels.
package config

import (
	"context"
	"runtime"
)

// Store backends supported by the service.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// EvalQueueSize bounds the in-memory evaluation queue.
	EvalQueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of consensus workers.
	WorkerCount int `koanf:"worker_count"`

	// EvalMaxRetries bounds retries when an evaluation loses a
	// concurrent update race.
	EvalMaxRetries int `koanf:"eval_max_retries"`

	// InflightSize bounds the tracker that collapses duplicate
	// evaluation triggers for the same video.
	InflightSize int `koanf:"inflight_size"`

	// StoreBackend selects the document store: memory or sqlite.
	StoreBackend string `koanf:"store_backend"`

	// SQLitePath locates the database file when StoreBackend is sqlite.
	SQLitePath string `koanf:"sqlite_path"`

	// StoreTimeoutMS bounds individual store operations.
	StoreTimeoutMS int `koanf:"store_timeout_ms"`

	// ReviewBatchSize is how many candidate videos the review picker
	// draws from when assigning the next video to a rater.
	ReviewBatchSize int `koanf:"review_batch_size"`

	// MaxListLimit caps GET /videos?limit.
	MaxListLimit int `koanf:"max_list_limit"`
}

// New returns a Config populated with defaults. Context is accepted first
// to satisfy the project-wide convention; it is currently unused.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:        "info",
		Addr:            ":9080",
		EvalQueueSize:   10_000,
		WorkerCount:     runtime.NumCPU() * 2,
		EvalMaxRetries:  5,
		InflightSize:    100_000,
		StoreBackend:    StoreMemory,
		SQLitePath:      "froth.db",
		StoreTimeoutMS:  5_000,
		ReviewBatchSize: 10,
		MaxListLimit:    25,
	}
}
