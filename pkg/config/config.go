// Package config holds the orchestrator daemon's tunables, with defaults
// matching the values named in the design notes and flags registered the
// way cmd/orchestratord wires cobra/pflag.
package config

import "time"

// Config carries every tunable the control plane's components read at
// startup. A single value is built once in main and threaded down to each
// component constructor, one struct covering every subsystem rather than
// per-package flag parsing.
type Config struct {
	NodeID      string
	BindAddr    string
	DataDir     string
	MetricsAddr string

	// Worker registry / transport
	WorkerAddr                 string
	WorkerTLS                  bool
	HeartbeatInterval          time.Duration
	MissedHeartbeatsBeforeDown int
	DispatchTimeout            time.Duration
	CancelGrace                time.Duration
	SendBufferMessages         int

	// Artifact cache
	ArtifactChunkBytes int

	// Job store / scheduler
	RetryBaseDelay    time.Duration
	RetryMultiplier   float64
	SchedulerInterval time.Duration
	FairnessWindow    time.Duration

	// Lifecycle retention
	LogRetention   time.Duration
	EventRetention time.Duration
}

// DefaultConfig returns the tunables the spec's design notes name as
// starting defaults.
func DefaultConfig() Config {
	return Config{
		BindAddr:                   "0.0.0.0:7420",
		DataDir:                    "./data",
		MetricsAddr:                "127.0.0.1:9090",
		WorkerAddr:                 "0.0.0.0:7421",
		WorkerTLS:                  false,
		HeartbeatInterval:          10 * time.Second,
		MissedHeartbeatsBeforeDown: 3,
		DispatchTimeout:            60 * time.Second,
		CancelGrace:                30 * time.Second,
		SendBufferMessages:         256,
		ArtifactChunkBytes:         64 * 1024, // 64 KiB
		RetryBaseDelay:             30 * time.Second,
		RetryMultiplier:            2.0,
		SchedulerInterval:          1 * time.Second,
		FairnessWindow:             60 * time.Second,
		LogRetention:               24 * time.Hour,
		EventRetention:             7 * 24 * time.Hour,
	}
}
