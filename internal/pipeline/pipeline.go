// Package pipeline wires decoding, validation, pricing, graduation detection,
// gating and batch persistence behind a single ProcessMessage entry point.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"curve-tracker/internal/batch"
	"curve-tracker/internal/curve"
	"curve-tracker/internal/decoder"
	"curve-tracker/internal/discovery"
	"curve-tracker/internal/domain"
	"curve-tracker/internal/events"
	"curve-tracker/internal/graduation"
	"curve-tracker/internal/observability"
	"curve-tracker/internal/schedule"
	"curve-tracker/internal/storage"
)

// PriceOracle supplies the SOL/USD reference rate.
type PriceOracle interface {
	GetCurrentSolPriceUSD() float64
}

// Options carries the external collaborators of a Pipeline.
type Options struct {
	Store     storage.TokenStore
	Oracle    PriceOracle
	Publisher events.Publisher       // nil discards outward events
	Metrics   *observability.Metrics // nil registers against a private registry
	Logger    *zap.SugaredLogger
}

// Stats is a snapshot of pipeline counters and component state.
type Stats struct {
	Messages         int64
	InvalidMessages  int64
	EventsDecoded    int64
	DecodeFailures   int64
	Unsupported      int64
	ReservesRejected int64
	Faults           int64
	Graduations      int64
	RecordsEmitted   int64
	EnqueueFailures  int64

	TrackedMints int
	Candidates   int
	SolPriceUSD  float64

	Gate   discovery.Stats
	Engine batch.Stats
}

// Pipeline processes stream messages one at a time.
type Pipeline struct {
	cfg       Config
	decoder   *decoder.Decoder
	validator *curve.Validator
	calc      *curve.Calculator
	detector  *graduation.Detector
	gate      *discovery.Gate
	engine    *batch.Engine
	sched     *schedule.Scheduler
	oracle    PriceOracle
	pub       events.Publisher
	metrics   *observability.Metrics
	logger    *zap.SugaredLogger

	mu        sync.Mutex // serializes ProcessMessage
	closeOnce sync.Once

	messages         atomic.Int64
	invalid          atomic.Int64
	decoded          atomic.Int64
	decodeFailures   atomic.Int64
	unsupported      atomic.Int64
	reservesRejected atomic.Int64
	faults           atomic.Int64
	graduations      atomic.Int64
	recordsEmitted   atomic.Int64
	enqueueFailures  atomic.Int64
}

// New builds every stage and wires the gate to the batch engine.
// Call Run to start timed flushing and FlushAndClose to drain.
func New(cfg Config, opts Options) (*Pipeline, error) {
	if opts.Store == nil {
		return nil, errors.New("pipeline: store is required")
	}
	if opts.Oracle == nil {
		return nil, errors.New("pipeline: price oracle is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.Publisher == nil {
		opts.Publisher = events.Nop{}
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.NewMetrics("", prometheus.NewRegistry())
	}
	if err := cfg.Window.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	sched := schedule.New()
	engine := batch.New(cfg.Batch, batch.NewStoreWriter(opts.Store), sched, opts.Publisher,
		opts.Logger.Named("batch"))
	gate := discovery.New(cfg.Discovery, engine, sched, opts.Publisher, opts.Logger.Named("discovery"))
	engine.AddObserver(gate)

	p := &Pipeline{
		cfg:       cfg,
		decoder:   decoder.New(cfg.Decoder),
		validator: curve.NewValidator(cfg.Validator),
		calc:      curve.NewCalculator(cfg.Window),
		detector:  graduation.New(cfg.Graduation),
		gate:      gate,
		engine:    engine,
		sched:     sched,
		oracle:    opts.Oracle,
		pub:       opts.Publisher,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
	}
	p.registerGauges()
	return p, nil
}

func (p *Pipeline) registerGauges() {
	m := p.metrics
	m.GaugeFunc("batch", "queue_depth", "Records queued or in flight", func() float64 {
		s := p.engine.Stats()
		return float64(s.Queued + s.InFlight)
	})
	m.GaugeFunc("batch", "target_size", "Current adaptive batch size", func() float64 {
		return float64(p.engine.Stats().BatchSize)
	})
	m.GaugeFunc("batch", "target_timeout_seconds", "Current adaptive flush timeout", func() float64 {
		return p.engine.Stats().Timeout.Seconds()
	})
	m.GaugeFunc("graduation", "tracked_mints", "Mints with live graduation state", func() float64 {
		return float64(p.detector.Tracked())
	})
	m.GaugeFunc("graduation", "candidates", "Mints near graduation", func() float64 {
		return float64(len(p.detector.Candidates()))
	})
	m.GaugeFunc("discovery", "tracked_mints", "Mints with live discovery state", func() float64 {
		return float64(p.gate.Stats().Tracked)
	})
	m.GaugeFunc("price", "sol_usd", "Current SOL/USD reference rate", p.oracle.GetCurrentSolPriceUSD)
}

// Run flushes batches until ctx is done or FlushAndClose is called.
func (p *Pipeline) Run(ctx context.Context) error {
	return p.engine.Run(ctx)
}

// ProcessMessage runs one message to completion. Only an invalid message is
// reported as an error; per-event failures are counted and logged.
func (p *Pipeline) ProcessMessage(msg *domain.RawUpdateMessage) error {
	if err := msg.Validate(); err != nil {
		p.invalid.Add(1)
		p.metrics.MessagesRejected.Inc()
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	p.messages.Add(1)
	p.metrics.MessagesProcessed.Inc()
	p.metrics.UpdateHighestSlot(msg.Slot)

	res := p.decoder.DecodeMessage(msg)
	for _, f := range res.Failures {
		p.decodeFailures.Add(1)
		if f.IsUnsupported() {
			p.unsupported.Add(1)
		}
		p.metrics.DecodeFailures.WithLabelValues(string(f.Kind)).Inc()
		p.logger.Debugw("event decode failed", "signature", msg.Signature, "kind", f.Kind, "error", f)
	}

	blockTimeMs := msg.TimestampMs()
	for _, ev := range res.Events {
		p.decoded.Add(1)
		p.metrics.EventsDecoded.WithLabelValues(ev.Layout.String()).Inc()
		p.processEvent(ev, blockTimeMs)
	}

	p.metrics.MessageLatency.Observe(time.Since(start).Seconds())
	return nil
}

func (p *Pipeline) processEvent(ev *domain.TradeEvent, blockTimeMs int64) {
	defer func() {
		if r := recover(); r != nil {
			p.faults.Add(1)
			p.metrics.EventFaults.Inc()
			p.logger.Errorw("event processing panicked", "mint", ev.Mint, "signature", ev.Signature, "panic", r)
		}
	}()

	check := p.validator.Validate(ev.VirtualSolReserves, ev.VirtualTokenReserves)
	if !check.Valid {
		p.reservesRejected.Add(1)
		p.metrics.ReservesRejected.WithLabelValues(string(check.Reason)).Inc()
		p.logger.Debugw("reserves rejected", "mint", ev.Mint, "signature", ev.Signature, "reason", check.Reason)
		return
	}

	snap := p.calc.Snapshot(ev.VirtualSolReserves, ev.VirtualTokenReserves, p.oracle.GetCurrentSolPriceUSD())
	p.observeGraduation(ev, snap)

	d := p.gate.Evaluate(ev, snap, blockTimeMs)
	if d.Record != nil {
		p.recordsEmitted.Add(1)
	}
	if d.EnqueueErr != nil {
		p.enqueueFailures.Add(1)
		p.logger.Warnw("record not queued", "mint", ev.Mint, "signature", ev.Signature, "error", d.EnqueueErr)
	}
}

func (p *Pipeline) observeGraduation(ev *domain.TradeEvent, snap domain.PriceSnapshot) {
	if p.cfg.StrictGraduation {
		if r := p.validator.ValidateStrict(ev.VirtualSolReserves, ev.VirtualTokenReserves); !r.Valid {
			return
		}
	}

	tr := p.detector.Observe(ev.Mint, curve.LamportsToSol(ev.VirtualSolReserves), snap.Progress)
	switch {
	case tr.Graduated():
		p.graduations.Add(1)
		p.logger.Infow("token graduated", "mint", ev.Mint, "solReserves", tr.SolReserves,
			"marketCapUsd", snap.MarketCapUSD, "signature", ev.Signature)
		p.pub.Publish(events.Event{
			Name:         events.TokenGraduated,
			Mint:         ev.Mint,
			MarketCapUSD: snap.MarketCapUSD,
			PriceUSD:     snap.PriceUSD,
			Progress:     snap.Progress,
			SolReserves:  tr.SolReserves,
			Signature:    ev.Signature,
		})
	case tr.EnteredNearGraduation():
		p.logger.Infow("token near graduation", "mint", ev.Mint, "progress", snap.Progress, "trend", tr.Trend)
	}
}

// FlushAndClose drains the batch engine, then cancels pending retries and
// stops the state stores. The returned error reports records left unflushed.
func (p *Pipeline) FlushAndClose(ctx context.Context) error {
	err := batch.ErrClosed
	p.closeOnce.Do(func() {
		err = p.engine.FlushAndClose(ctx)
		if n := p.sched.Stop(); n > 0 {
			p.logger.Infow("cancelled pending retries", "count", n)
		}
		p.gate.Close()
		p.detector.Close()
	})
	return err
}

// Detector exposes the graduation detector for queries.
func (p *Pipeline) Detector() *graduation.Detector {
	return p.detector
}

// Gate exposes the discovery gate for queries.
func (p *Pipeline) Gate() *discovery.Gate {
	return p.gate
}

// Stats returns a snapshot of pipeline counters and component state.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Messages:         p.messages.Load(),
		InvalidMessages:  p.invalid.Load(),
		EventsDecoded:    p.decoded.Load(),
		DecodeFailures:   p.decodeFailures.Load(),
		Unsupported:      p.unsupported.Load(),
		ReservesRejected: p.reservesRejected.Load(),
		Faults:           p.faults.Load(),
		Graduations:      p.graduations.Load(),
		RecordsEmitted:   p.recordsEmitted.Load(),
		EnqueueFailures:  p.enqueueFailures.Load(),
		TrackedMints:     p.detector.Tracked(),
		Candidates:       len(p.detector.Candidates()),
		SolPriceUSD:      p.oracle.GetCurrentSolPriceUSD(),
		Gate:             p.gate.Stats(),
		Engine:           p.engine.Stats(),
	}
}
