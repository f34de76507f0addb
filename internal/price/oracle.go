package price

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config configures Oracle.
type Config struct {
	RefreshInterval time.Duration
	// InitialPriceUSD is served until the first successful refresh. Zero means unknown,
	// which makes every USD metric zero.
	InitialPriceUSD float64
}

// DefaultConfig returns the default oracle configuration.
func DefaultConfig() Config {
	return Config{RefreshInterval: 5 * time.Second}
}

// Oracle holds the last successfully fetched rate. Reads never block.
type Oracle struct {
	cfg    Config
	source Source
	logger *zap.SugaredLogger

	bits      atomic.Uint64 // math.Float64bits of the rate
	updatedAt atomic.Int64  // unix nanos of the last success, 0 if none
	failures  atomic.Int64
}

// NewOracle creates an oracle over source.
func NewOracle(cfg Config, source Source, logger *zap.SugaredLogger) *Oracle {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultConfig().RefreshInterval
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	o := &Oracle{cfg: cfg, source: source, logger: logger}
	if cfg.InitialPriceUSD > 0 {
		o.bits.Store(math.Float64bits(cfg.InitialPriceUSD))
	}
	return o
}

// GetCurrentSolPriceUSD returns the last known rate, or 0 if none is known yet.
func (o *Oracle) GetCurrentSolPriceUSD() float64 {
	return math.Float64frombits(o.bits.Load())
}

// UpdatedAt returns the time of the last successful refresh.
func (o *Oracle) UpdatedAt() time.Time {
	ns := o.updatedAt.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Failures returns the number of failed refreshes.
func (o *Oracle) Failures() int64 {
	return o.failures.Load()
}

// Refresh fetches once. On failure the previous rate is kept.
func (o *Oracle) Refresh(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.RefreshInterval)
	defer cancel()

	usd, err := o.source.FetchSolPriceUSD(ctx)
	if err != nil {
		o.failures.Add(1)
		o.logger.Warnw("SOL price refresh failed, keeping last value",
			"last", o.GetCurrentSolPriceUSD(), "error", err)
		return err
	}

	o.bits.Store(math.Float64bits(usd))
	o.updatedAt.Store(time.Now().UnixNano())
	o.logger.Debugw("SOL price refreshed", "usd", usd)
	return nil
}

// Run refreshes immediately and then every RefreshInterval until ctx is done.
// Refresh errors never end the loop.
func (o *Oracle) Run(ctx context.Context) error {
	_ = o.Refresh(ctx)

	ticker := time.NewTicker(o.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_ = o.Refresh(ctx)
		}
	}
}
