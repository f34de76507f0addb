// Package graduation tracks bonding-curve progress per mint and fires a
// one-time signal when a curve completes.
package graduation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Config configures the Detector.
type Config struct {
	NearProgress  float64       // progress percentage entering NearGraduation
	GraduationSol float64       // SOL reserves at which a curve graduates
	Window        int           // progress samples kept per mint
	TrendBand     float64       // percentage points treated as noise
	TTL           time.Duration // idle time before a mint's state is evicted, 0 disables
	Capacity      uint64        // max tracked mints, 0 is unbounded
}

// DefaultConfig returns the default detector configuration.
func DefaultConfig() Config {
	return Config{
		NearProgress:  90,
		GraduationSol: 84.5,
		Window:        5,
		TrendBand:     1,
		TTL:           24 * time.Hour,
		Capacity:      100_000,
	}
}

// Detector holds per-mint graduation state.
// Graduated mints are remembered outside the evictable state store,
// so eviction never lets a graduation fire twice.
type Detector struct {
	cfg   Config
	mu    sync.Mutex // serializes Observe
	store *ttlcache.Cache[string, *State]

	setsMu     sync.Mutex
	candidates map[string]*State
	graduated  map[string]struct{}

	closeOnce sync.Once
}

// New creates a Detector and starts its expiry loop. Call Close to stop it.
func New(cfg Config) *Detector {
	def := DefaultConfig()
	if cfg.NearProgress <= 0 {
		cfg.NearProgress = def.NearProgress
	}
	if cfg.GraduationSol <= 0 {
		cfg.GraduationSol = def.GraduationSol
	}
	if cfg.Window < 2 {
		cfg.Window = def.Window
	}
	if cfg.TrendBand < 0 {
		cfg.TrendBand = def.TrendBand
	}

	opts := []ttlcache.Option[string, *State]{}
	if cfg.TTL > 0 {
		opts = append(opts, ttlcache.WithTTL[string, *State](cfg.TTL))
	}
	if cfg.Capacity > 0 {
		opts = append(opts, ttlcache.WithCapacity[string, *State](cfg.Capacity))
	}

	d := &Detector{
		cfg:        cfg,
		store:      ttlcache.New[string, *State](opts...),
		candidates: make(map[string]*State),
		graduated:  make(map[string]struct{}),
	}

	// Must not call back into the store.
	d.store.OnEviction(func(_ context.Context, _ ttlcache.EvictionReason, item *ttlcache.Item[string, *State]) {
		d.setsMu.Lock()
		defer d.setsMu.Unlock()
		if d.candidates[item.Key()] == item.Value() {
			delete(d.candidates, item.Key())
		}
	})

	go d.store.Start()
	return d
}

// Observe records one validated sample for mint and applies phase transitions.
func (d *Detector) Observe(mint string, solReserves, progress float64) Transition {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.isGraduated(mint) {
		return Transition{Mint: mint, From: PhaseGraduated, To: PhaseGraduated, Progress: progress, SolReserves: solReserves, Trend: TrendUnknown}
	}

	var state *State
	if item := d.store.Get(mint); item != nil {
		state = item.Value()
	} else {
		state = &State{Phase: PhaseTracking}
		d.store.Set(mint, state, ttlcache.DefaultTTL)
	}

	state.push(progress, d.cfg.Window)
	tr := Transition{
		Mint:        mint,
		From:        state.Phase,
		To:          state.Phase,
		Progress:    progress,
		SolReserves: solReserves,
		Trend:       classifyTrend(state.history, d.cfg.TrendBand),
	}

	switch {
	case solReserves >= d.cfg.GraduationSol:
		state.Phase = PhaseGraduated
		d.setsMu.Lock()
		d.graduated[mint] = struct{}{}
		delete(d.candidates, mint)
		d.setsMu.Unlock()
		d.store.Delete(mint)
	case state.Phase == PhaseTracking && progress >= d.cfg.NearProgress:
		state.Phase = PhaseNearGraduation
		d.setsMu.Lock()
		d.candidates[mint] = state
		d.setsMu.Unlock()
	}

	tr.To = state.Phase
	return tr
}

// Phase returns the current phase of mint, or false if it is not tracked.
func (d *Detector) Phase(mint string) (Phase, bool) {
	if d.isGraduated(mint) {
		return PhaseGraduated, true
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	item := d.store.Get(mint, ttlcache.WithDisableTouchOnHit[string, *State]())
	if item == nil {
		return "", false
	}
	return item.Value().Phase, true
}

// Trend classifies the recent progress movement of mint.
func (d *Detector) Trend(mint string) Trend {
	d.mu.Lock()
	defer d.mu.Unlock()
	item := d.store.Get(mint, ttlcache.WithDisableTouchOnHit[string, *State]())
	if item == nil {
		return TrendUnknown
	}
	return classifyTrend(item.Value().history, d.cfg.TrendBand)
}

// Candidates returns the mints currently near graduation, sorted.
func (d *Detector) Candidates() []string {
	d.setsMu.Lock()
	defer d.setsMu.Unlock()
	out := make([]string, 0, len(d.candidates))
	for mint := range d.candidates {
		out = append(out, mint)
	}
	sort.Strings(out)
	return out
}

// Tracked returns the number of mints with live state.
func (d *Detector) Tracked() int {
	return d.store.Len()
}

// GraduatedCount returns the number of mints that have graduated.
func (d *Detector) GraduatedCount() int {
	d.setsMu.Lock()
	defer d.setsMu.Unlock()
	return len(d.graduated)
}

// Close stops the expiry loop.
func (d *Detector) Close() {
	d.closeOnce.Do(d.store.Stop)
}

func (d *Detector) isGraduated(mint string) bool {
	d.setsMu.Lock()
	defer d.setsMu.Unlock()
	_, ok := d.graduated[mint]
	return ok
}
