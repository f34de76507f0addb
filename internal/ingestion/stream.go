// Package ingestion turns the program's live log stream into update
// messages for the pipeline.
package ingestion

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"curve-tracker/internal/domain"
	"curve-tracker/internal/solana"
)

// ErrStreamClosed is returned by Run when every subscription channel closed.
var ErrStreamClosed = errors.New("log stream closed")

// Handler consumes one update message. Messages are delivered one at a time.
type Handler func(msg *domain.RawUpdateMessage) error

// Config configures a StreamSource.
type Config struct {
	// Programs are subscribed separately, as some providers accept one address per subscription.
	Programs          []string
	BlockTimeTTL      time.Duration // how long a resolved slot time is cached
	BlockTimeCapacity uint64
	BlockTimeTimeout  time.Duration // per getBlockTime call, 0 disables the bound
}

// DefaultConfig returns the default configuration for the bonding-curve program.
func DefaultConfig() Config {
	return Config{
		Programs:          []string{"6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P"},
		BlockTimeTTL:      10 * time.Minute,
		BlockTimeCapacity: 10_000,
		BlockTimeTimeout:  2 * time.Second,
	}
}

// Stats is a snapshot of stream counters.
type Stats struct {
	Received          int64
	Failed            int64 // notifications of failed transactions
	HandlerErrors     int64
	BlockTimeFailures int64
	HighestSlot       uint64
}

// StreamSource subscribes to program logs and hands each notification to a Handler.
type StreamSource struct {
	cfg        Config
	stream     solana.LogStream
	blockTimes solana.BlockTimeSource
	logger     *zap.SugaredLogger

	slotTimes *ttlcache.Cache[uint64, int64]

	received          atomic.Int64
	failed            atomic.Int64
	handlerErrors     atomic.Int64
	blockTimeFailures atomic.Int64
	highestSlot       atomic.Uint64
}

// NewStreamSource creates a StreamSource. blockTimes may be nil, in which
// case messages carry no block time.
func NewStreamSource(cfg Config, stream solana.LogStream, blockTimes solana.BlockTimeSource, logger *zap.SugaredLogger) *StreamSource {
	def := DefaultConfig()
	if len(cfg.Programs) == 0 {
		cfg.Programs = def.Programs
	}
	if cfg.BlockTimeTTL <= 0 {
		cfg.BlockTimeTTL = def.BlockTimeTTL
	}
	if cfg.BlockTimeCapacity == 0 {
		cfg.BlockTimeCapacity = def.BlockTimeCapacity
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &StreamSource{
		cfg:        cfg,
		stream:     stream,
		blockTimes: blockTimes,
		logger:     logger,
		slotTimes: ttlcache.New[uint64, int64](
			ttlcache.WithTTL[uint64, int64](cfg.BlockTimeTTL),
			ttlcache.WithCapacity[uint64, int64](cfg.BlockTimeCapacity),
			ttlcache.WithDisableTouchOnHit[uint64, int64](),
		),
	}
}

// Run subscribes to every program and calls handle for each notification in
// arrival order until ctx is done or the stream closes. Handler errors are
// logged and counted, never fatal.
func (s *StreamSource) Run(ctx context.Context, handle Handler) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	merged := make(chan solana.LogNotification, 1000)
	var wg sync.WaitGroup
	for _, program := range s.cfg.Programs {
		ch, err := s.stream.SubscribeLogs(ctx, solana.LogsFilter{Mentions: []string{program}})
		if err != nil {
			return errors.Wrapf(err, "subscribe to %s", program)
		}
		s.logger.Infow("subscribed to program logs", "program", program)

		wg.Add(1)
		go func(ch <-chan solana.LogNotification) {
			defer wg.Done()
			for n := range ch {
				select {
				case merged <- n:
				case <-ctx.Done():
					return
				}
			}
		}(ch)
	}

	streamDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(streamDone)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n := <-merged:
			s.dispatch(ctx, n, handle)
		case <-streamDone:
			// Deliver whatever the forwarders queued before closing.
			for {
				select {
				case n := <-merged:
					s.dispatch(ctx, n, handle)
				default:
					return ErrStreamClosed
				}
			}
		}
	}
}

func (s *StreamSource) dispatch(ctx context.Context, n solana.LogNotification, handle Handler) {
	msg := s.Message(ctx, n)
	if err := handle(msg); err != nil {
		s.handlerErrors.Add(1)
		s.logger.Warnw("update message rejected", "signature", n.Signature, "slot", n.Slot, "error", err)
	}
}

// Message converts a notification into an update message. Failed transactions
// keep their error so the pipeline can skip them.
func (s *StreamSource) Message(ctx context.Context, n solana.LogNotification) *domain.RawUpdateMessage {
	s.received.Add(1)
	if n.Err != nil {
		s.failed.Add(1)
	}
	for {
		cur := s.highestSlot.Load()
		if n.Slot <= cur || s.highestSlot.CompareAndSwap(cur, n.Slot) {
			break
		}
	}

	return &domain.RawUpdateMessage{
		Transaction: &domain.TransactionPayload{Logs: n.Logs, Err: n.Err},
		Slot:        n.Slot,
		BlockTime:   s.blockTime(ctx, n.Slot),
		Signature:   n.Signature,
	}
}

// blockTime resolves the time of slot, returning 0 when it is unknown.
func (s *StreamSource) blockTime(ctx context.Context, slot uint64) int64 {
	if s.blockTimes == nil || slot == 0 {
		return 0
	}
	if item := s.slotTimes.Get(slot); item != nil {
		return item.Value()
	}

	if s.cfg.BlockTimeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.BlockTimeTimeout)
		defer cancel()
	}
	bt, err := s.blockTimes.GetBlockTime(ctx, slot)
	if err != nil {
		s.blockTimeFailures.Add(1)
		s.logger.Debugw("block time unavailable", "slot", slot, "error", err)
		return 0
	}
	if bt > 0 {
		s.slotTimes.Set(slot, bt, ttlcache.DefaultTTL)
	}
	return bt
}

// Stats returns a snapshot of stream counters.
func (s *StreamSource) Stats() Stats {
	return Stats{
		Received:          s.received.Load(),
		Failed:            s.failed.Load(),
		HandlerErrors:     s.handlerErrors.Load(),
		BlockTimeFailures: s.blockTimeFailures.Load(),
		HighestSlot:       s.highestSlot.Load(),
	}
}
