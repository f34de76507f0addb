package batch

import "time"

// Config configures the Engine.
type Config struct {
	MinBatchSize     int
	MaxBatchSize     int
	InitialBatchSize int

	MinTimeout     time.Duration
	MaxTimeout     time.Duration
	InitialTimeout time.Duration

	// Flush latency window driving adaptation.
	TargetLatencyLow  time.Duration
	TargetLatencyHigh time.Duration

	// MaxQueueSize bounds queued plus in-flight records.
	MaxQueueSize int

	// MaxRetries is the number of retries after the first failed write.
	MaxRetries   int
	RetryBackoff time.Duration

	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		MinBatchSize:      10,
		MaxBatchSize:      500,
		InitialBatchSize:  50,
		MinTimeout:        200 * time.Millisecond,
		MaxTimeout:        10 * time.Second,
		InitialTimeout:    time.Second,
		TargetLatencyLow:  100 * time.Millisecond,
		TargetLatencyHigh: 500 * time.Millisecond,
		MaxQueueSize:      10_000,
		MaxRetries:        3,
		RetryBackoff:      500 * time.Millisecond,
		WriteTimeout:      30 * time.Second,
		ShutdownTimeout:   30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MinBatchSize <= 0 {
		c.MinBatchSize = def.MinBatchSize
	}
	if c.MaxBatchSize < c.MinBatchSize {
		c.MaxBatchSize = max(def.MaxBatchSize, c.MinBatchSize)
	}
	if c.InitialBatchSize <= 0 {
		c.InitialBatchSize = def.InitialBatchSize
	}
	c.InitialBatchSize = min(max(c.InitialBatchSize, c.MinBatchSize), c.MaxBatchSize)

	if c.MinTimeout <= 0 {
		c.MinTimeout = def.MinTimeout
	}
	if c.MaxTimeout < c.MinTimeout {
		c.MaxTimeout = max(def.MaxTimeout, c.MinTimeout)
	}
	if c.InitialTimeout <= 0 {
		c.InitialTimeout = def.InitialTimeout
	}
	c.InitialTimeout = min(max(c.InitialTimeout, c.MinTimeout), c.MaxTimeout)

	if c.TargetLatencyHigh <= 0 {
		c.TargetLatencyHigh = def.TargetLatencyHigh
	}
	if c.TargetLatencyLow <= 0 || c.TargetLatencyLow > c.TargetLatencyHigh {
		c.TargetLatencyLow = min(def.TargetLatencyLow, c.TargetLatencyHigh)
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = def.MaxQueueSize
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = def.RetryBackoff
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	return c
}
