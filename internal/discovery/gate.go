// Package discovery decides per event whether a mint is new and whether
// its trades qualify for persistence, and retries rejected discovery saves.
package discovery

import (
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"

	"curve-tracker/internal/domain"
	"curve-tracker/internal/events"
	"curve-tracker/internal/schedule"
)

// Sink accepts persistence records. Its methods must not call back into the Gate.
type Sink interface {
	Enqueue(rec *domain.PersistenceRecord) error
	// Discard removes queued records matching match.
	Discard(match func(*domain.PersistenceRecord) bool) int
}

// Status is the persistence status of a mint's discovery.
type Status string

// Discovery statuses.
const (
	StatusObserved  Status = "observed"  // seen, nothing qualified yet
	StatusPending   Status = "pending"   // discovery record queued or awaiting retry
	StatusPersisted Status = "persisted" // token row written
	StatusFailed    Status = "failed"    // retries exhausted, mint ignored
)

// trace is the part of a Record that outlives its eviction from the store.
type trace struct {
	status           Status
	thresholdCrossed bool
	firstSeenCap     float64
	firstSeenAt      time.Time
}

func (tr trace) record(mint string) *Record {
	return &Record{
		Mint:                  mint,
		FirstSeenMarketCapUSD: tr.firstSeenCap,
		FirstSeenAt:           tr.firstSeenAt,
		Status:                tr.status,
		ThresholdCrossed:      tr.thresholdCrossed,
	}
}

// Record is the per-mint discovery state.
type Record struct {
	Mint                  string
	FirstSeenMarketCapUSD float64
	FirstSeenAt           time.Time
	Attempts              int
	Status                Status
	ThresholdCrossed      bool

	pending *domain.PersistenceRecord
	retry   *schedule.Task
}

// Config configures the Gate.
type Config struct {
	SaveAll        bool
	ThresholdUSD   float64
	MaxRetries     int
	RetryBaseDelay time.Duration
	TTL            time.Duration // idle time before a mint's state is evicted, 0 disables
	Capacity       uint64        // max tracked mints, 0 is unbounded
}

// DefaultConfig returns the default gate configuration.
func DefaultConfig() Config {
	return Config{
		SaveAll:        false,
		ThresholdUSD:   8888,
		MaxRetries:     3,
		RetryBaseDelay: time.Second,
		TTL:            24 * time.Hour,
		Capacity:       100_000,
	}
}

// Decision reports what Evaluate did with one event.
type Decision struct {
	Discovered       bool                      // first observation of the mint
	ThresholdCrossed bool                      // first time the mint reached the threshold
	Qualified        bool                      // the event passed the persistence policy
	Record           *domain.PersistenceRecord // emitted record, nil if none
	EnqueueErr       error
}

// Stats is a snapshot of gate counters.
type Stats struct {
	Tracked           int
	Discovered        int64
	Qualified         int64
	Persisted         int64
	Retries           int64
	PermanentlyFailed int64
	DiscardedTrades   int64
}

// Gate owns the DiscoveryRecord store. Records are evicted by TTL and
// capacity; a compact trace per mint is kept so an evicted mint is never
// discovered twice and a failed mint stays failed.
type Gate struct {
	cfg    Config
	sink   Sink
	sched  *schedule.Scheduler
	pub    events.Publisher
	logger *zap.SugaredLogger

	mu      sync.Mutex
	store   *ttlcache.Cache[string, *Record]
	history map[string]trace
	stats   Stats

	now       func() time.Time
	closeOnce sync.Once
}

// New creates a Gate and starts its expiry loop. Call Close to stop it.
func New(cfg Config, sink Sink, sched *schedule.Scheduler, pub events.Publisher, logger *zap.SugaredLogger) *Gate {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = DefaultConfig().RetryBaseDelay
	}
	if sched == nil {
		sched = schedule.New()
	}
	if pub == nil {
		pub = events.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	opts := []ttlcache.Option[string, *Record]{}
	if cfg.TTL > 0 {
		opts = append(opts, ttlcache.WithTTL[string, *Record](cfg.TTL))
	}
	if cfg.Capacity > 0 {
		opts = append(opts, ttlcache.WithCapacity[string, *Record](cfg.Capacity))
	}

	g := &Gate{
		cfg:     cfg,
		sink:    sink,
		sched:   sched,
		pub:     pub,
		logger:  logger,
		store:   ttlcache.New[string, *Record](opts...),
		history: make(map[string]trace),
		now:     time.Now,
	}
	go g.store.Start()
	return g
}

// Qualifies applies the persistence policy to a market cap.
func (g *Gate) Qualifies(marketCapUSD float64) bool {
	return g.cfg.SaveAll || marketCapUSD >= g.cfg.ThresholdUSD
}

// Evaluate records the event against its mint and emits at most one persistence record.
func (g *Gate) Evaluate(ev *domain.TradeEvent, snap domain.PriceSnapshot, blockTimeMs int64) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	var d Decision
	rec := g.lookup(ev.Mint)
	if rec == nil {
		tr, seen := g.history[ev.Mint]
		switch {
		case seen && tr.status == StatusFailed:
			return d
		case seen:
			rec = tr.record(ev.Mint)
			g.store.Set(ev.Mint, rec, ttlcache.DefaultTTL)
		default:
			rec = &Record{
				Mint:                  ev.Mint,
				FirstSeenMarketCapUSD: snap.MarketCapUSD,
				FirstSeenAt:           g.now(),
				Status:                StatusObserved,
			}
			g.store.Set(ev.Mint, rec, ttlcache.DefaultTTL)
			g.remember(rec)
			g.stats.Discovered++
			d.Discovered = true
			g.pub.Publish(events.Event{
				Name:         events.TokenDiscovered,
				Mint:         ev.Mint,
				MarketCapUSD: snap.MarketCapUSD,
				PriceUSD:     snap.PriceUSD,
				Progress:     snap.Progress,
				Signature:    ev.Signature,
			})
		}
	}

	if snap.MarketCapUSD >= g.cfg.ThresholdUSD && !rec.ThresholdCrossed {
		rec.ThresholdCrossed = true
		g.remember(rec)
		d.ThresholdCrossed = true
		g.pub.Publish(events.Event{
			Name:         events.TokenThresholdCrossed,
			Mint:         ev.Mint,
			MarketCapUSD: snap.MarketCapUSD,
			PriceUSD:     snap.PriceUSD,
			Progress:     snap.Progress,
			Signature:    ev.Signature,
		})
	}

	if !g.Qualifies(snap.MarketCapUSD) {
		return d
	}
	d.Qualified = true
	g.stats.Qualified++

	trade := NewTrade(ev, snap, blockTimeMs)
	switch rec.Status {
	case StatusObserved:
		pr := newDiscoveryRecord(trade, rec.FirstSeenMarketCapUSD)
		g.setStatus(rec, StatusPending)
		rec.pending = pr
		d.Record = pr
		if err := g.sink.Enqueue(pr); err != nil {
			d.EnqueueErr = err
			g.failLocked(rec, err.Error())
		}
	case StatusPending:
		d.Record = newTradeRecord(trade, domain.PriorityLow)
		d.EnqueueErr = g.sink.Enqueue(d.Record)
	case StatusPersisted:
		d.Record = newTradeRecord(trade, domain.PriorityNormal)
		d.EnqueueErr = g.sink.Enqueue(d.Record)
	case StatusFailed:
	}
	return d
}

// OnPersisted finalizes discoveries written by the batch engine.
func (g *Gate) OnPersisted(records []*domain.PersistenceRecord) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, pr := range records {
		if pr.Kind != domain.RecordKindDiscovery {
			continue
		}
		rec := g.lookup(pr.Mint)
		if rec == nil {
			// Evicted while the write was in flight.
			if tr, ok := g.history[pr.Mint]; ok && tr.status == StatusPending {
				tr.status = StatusPersisted
				g.history[pr.Mint] = tr
				g.stats.Persisted++
			}
			continue
		}
		if rec.Status != StatusPending {
			continue
		}
		g.setStatus(rec, StatusPersisted)
		rec.Attempts = 0
		rec.pending = nil
		rec.retry.Cancel()
		rec.retry = nil
		g.stats.Persisted++
	}
}

// OnDropped marks a discovery permanently failed once the batch engine has
// exhausted its write retries. The engine is the only retry layer for records
// it accepted. Shutdown drops leave the discovery pending.
func (g *Gate) OnDropped(pr *domain.PersistenceRecord, reason string) {
	if pr.Kind != domain.RecordKindDiscovery || reason == events.ReasonShutdown {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	rec := g.lookup(pr.Mint)
	if rec == nil {
		tr, ok := g.history[pr.Mint]
		if !ok || tr.status != StatusPending {
			return
		}
		rec = tr.record(pr.Mint)
	} else if rec.Status != StatusPending {
		return
	}
	rec.Attempts = pr.Retries + 1
	g.giveUpLocked(rec, reason)
}

// failLocked counts a rejected enqueue and either schedules a retry or gives up.
func (g *Gate) failLocked(rec *Record, reason string) {
	rec.Attempts++
	if rec.Attempts > g.cfg.MaxRetries {
		g.giveUpLocked(rec, reason)
		return
	}

	delay := g.cfg.RetryBaseDelay << (rec.Attempts - 1)
	task, err := g.sched.After(delay, func() { g.retry(rec) })
	if err != nil {
		// Scheduler stopped: shutting down, the discovery stays pending.
		g.logger.Infow("discovery retry not scheduled", "mint", rec.Mint, "error", err)
		return
	}
	rec.retry = task
	g.logger.Infow("discovery retry scheduled", "mint", rec.Mint, "attempt", rec.Attempts, "delay", delay, "reason", reason)
}

// giveUpLocked marks the mint failed and discards its queued trades so no
// trade row is written for a token that has none.
func (g *Gate) giveUpLocked(rec *Record, reason string) {
	rec.retry.Cancel()
	rec.retry = nil
	rec.pending = nil
	g.setStatus(rec, StatusFailed)
	g.stats.PermanentlyFailed++

	mint := rec.Mint
	discarded := g.sink.Discard(func(pr *domain.PersistenceRecord) bool {
		return pr.Mint == mint && pr.Kind == domain.RecordKindTrade
	})
	g.stats.DiscardedTrades += int64(discarded)

	g.logger.Warnw("discovery permanently failed", "mint", mint, "attempts", rec.Attempts, "reason", reason, "discarded_trades", discarded)
	g.pub.Publish(events.Event{
		Name:     events.TokenDiscoveryFailed,
		Mint:     mint,
		Attempts: rec.Attempts,
		Reason:   reason,
	})
}

func (g *Gate) retry(rec *Record) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if tr, ok := g.history[rec.Mint]; !ok || tr.status != StatusPending || rec.pending == nil {
		return
	}
	// Evicted while waiting: reinstate the record, or carry the pending
	// save over to the one rebuilt from history.
	switch cur := g.lookup(rec.Mint); {
	case cur == nil:
		g.store.Set(rec.Mint, rec, ttlcache.DefaultTTL)
	case cur != rec:
		cur.Attempts, cur.pending = rec.Attempts, rec.pending
		rec = cur
	}
	rec.retry = nil
	g.stats.Retries++

	pr := *rec.pending
	pr.Retries = rec.Attempts
	rec.pending = &pr
	if err := g.sink.Enqueue(&pr); err != nil {
		g.failLocked(rec, err.Error())
	}
}

// Lookup returns a copy of the discovery state of mint.
func (g *Gate) Lookup(mint string) (Record, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	rec := g.lookup(mint)
	if rec == nil {
		tr, ok := g.history[mint]
		if !ok {
			return Record{}, false
		}
		return *tr.record(mint), true
	}
	out := *rec
	out.pending, out.retry = nil, nil
	return out, true
}

// Stats returns a snapshot of gate counters.
func (g *Gate) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.stats
	s.Tracked = g.store.Len()
	return s
}

// Close stops the expiry loop. Pending retries are owned by the scheduler.
func (g *Gate) Close() {
	g.closeOnce.Do(g.store.Stop)
}

func (g *Gate) setStatus(rec *Record, status Status) {
	rec.Status = status
	g.remember(rec)
}

func (g *Gate) remember(rec *Record) {
	g.history[rec.Mint] = trace{
		status:           rec.Status,
		thresholdCrossed: rec.ThresholdCrossed,
		firstSeenCap:     rec.FirstSeenMarketCapUSD,
		firstSeenAt:      rec.FirstSeenAt,
	}
}

func (g *Gate) lookup(mint string) *Record {
	item := g.store.Get(mint)
	if item == nil {
		return nil
	}
	return item.Value()
}
