// Package batch turns a stream of persistence records into adaptively sized,
// retried batch writes with bounded memory.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"curve-tracker/internal/domain"
	"curve-tracker/internal/events"
	"curve-tracker/internal/schedule"
)

var (
	// ErrQueueFull is returned when a record is rejected because the queue is at its bound.
	ErrQueueFull = errors.New("batch queue full")
	// ErrClosed is returned after FlushAndClose has been called.
	ErrClosed = errors.New("batch engine closed")
)

// Writer persists one batch. It must be idempotent on record natural keys.
type Writer interface {
	Write(ctx context.Context, job *domain.BatchJob) error
}

// Observer is notified of record outcomes from the flush goroutine.
// Callbacks run without engine locks held and may call Enqueue.
type Observer interface {
	OnPersisted(records []*domain.PersistenceRecord)
	OnDropped(rec *domain.PersistenceRecord, reason string)
}

// Stats is a snapshot of engine state and counters.
type Stats struct {
	Queued       int
	InFlight     int
	RetryPending bool
	BatchSize    int
	Timeout      time.Duration
	LastLatency  time.Duration

	Enqueued         int64
	Replaced         int64
	Persisted        int64
	Dropped          int64
	DroppedQueueFull int64
	DroppedRetries   int64
	Discarded        int64
	Unflushed        int64
	BatchesProcessed int64
	BatchesFailed    int64
	Retries          int64
}

// Engine queues records and flushes them through a Writer, one batch at a time.
type Engine struct {
	cfg    Config
	writer Writer
	sched  *schedule.Scheduler
	pub    events.Publisher
	logger *zap.SugaredLogger

	mu        sync.Mutex
	queue     *queue
	inFlight  int              // records popped and not yet persisted or dropped
	held      *domain.BatchJob // failed batch awaiting retry
	heldDue   bool
	heldTask  *schedule.Task
	batchSize int
	timeout   time.Duration
	closed    bool
	draining  bool
	observers []Observer
	stats     Stats

	flushMu sync.Mutex
	kick    chan struct{}
	closing chan struct{}
	runDone chan struct{}
	running atomic.Bool
}

// New creates an Engine. Call Run to start timed flushing.
func New(cfg Config, writer Writer, sched *schedule.Scheduler, pub events.Publisher, logger *zap.SugaredLogger) *Engine {
	cfg = cfg.withDefaults()
	if sched == nil {
		sched = schedule.New()
	}
	if pub == nil {
		pub = events.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Engine{
		cfg:       cfg,
		writer:    writer,
		sched:     sched,
		pub:       pub,
		logger:    logger,
		queue:     newQueue(),
		batchSize: cfg.InitialBatchSize,
		timeout:   cfg.InitialTimeout,
		kick:      make(chan struct{}, 1),
		closing:   make(chan struct{}),
		runDone:   make(chan struct{}),
	}
}

// AddObserver registers o for record outcomes.
func (e *Engine) AddObserver(o Observer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, o)
}

// Enqueue queues rec without blocking. A record whose ID is already queued
// replaces the queued payload. Returns ErrQueueFull or ErrClosed on rejection.
func (e *Engine) Enqueue(rec *domain.PersistenceRecord) error {
	if rec == nil || rec.ID == "" {
		return errors.New("enqueue: record has no id")
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if !e.queue.contains(rec.ID) && e.queue.len()+e.inFlight >= e.cfg.MaxQueueSize {
		e.stats.Dropped++
		e.stats.DroppedQueueFull++
		e.mu.Unlock()

		e.logger.Debugw("record rejected, queue full", "record", rec.ID, "mint", rec.Mint, "kind", rec.Kind)
		e.pub.Publish(events.Event{
			Name:     events.ItemDropped,
			Mint:     rec.Mint,
			RecordID: rec.ID,
			Reason:   events.ReasonQueueFull,
		})
		return ErrQueueFull
	}

	if e.queue.push(rec) {
		e.stats.Replaced++
	} else {
		e.stats.Enqueued++
	}
	ready := e.batchReadyLocked()
	e.mu.Unlock()

	if ready {
		e.signal()
	}
	return nil
}

// Discard removes queued records matching match, including those of a batch
// held for retry, and returns how many it removed. A batch currently being
// written is not touched. Discarded records are neither persisted nor dropped.
func (e *Engine) Discard(match func(*domain.PersistenceRecord) bool) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := e.queue.remove(match)
	if e.held != nil {
		kept := e.held.Records[:0]
		for _, rec := range e.held.Records {
			if !match(rec) {
				kept = append(kept, rec)
			}
		}
		removed := len(e.held.Records) - len(kept)
		e.held.Records = kept
		e.inFlight -= removed
		n += removed
		if len(kept) == 0 {
			e.heldTask.Cancel()
			e.held, e.heldDue, e.heldTask = nil, false, nil
		}
	}
	e.stats.Discarded += int64(n)
	return n
}

// Run flushes when a batch fills up or the current timeout elapses.
// It returns when ctx is done or FlushAndClose is called.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return errors.New("batch engine already running")
	}
	defer close(e.runDone)

	timer := time.NewTimer(e.currentTimeout())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.closing:
			return nil
		case <-e.kick:
		case <-timer.C:
		}

		for {
			n, err := e.Flush(ctx)
			if err != nil || n == 0 || !e.batchReady() {
				break
			}
		}
		timer.Reset(e.currentTimeout())
	}
}

// Flush writes at most one batch: the held failed batch when its retry is due,
// otherwise up to the current batch size from the queue. It returns the number
// of records persisted.
func (e *Engine) Flush(ctx context.Context) (int, error) {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	job := e.nextJob()
	if job == nil {
		return 0, nil
	}

	start := time.Now()
	wctx, cancel := context.WithTimeout(ctx, e.cfg.WriteTimeout)
	err := e.write(wctx, job)
	cancel()
	latency := time.Since(start)

	if err != nil {
		e.fail(job, err)
		return 0, fmt.Errorf("write batch %s: %w", job.ID, err)
	}
	e.complete(job, latency)
	return len(job.Records), nil
}

// FlushAndClose stops accepting records and flushes until the queue is empty
// or the shutdown timeout elapses. Records left over are counted as unflushed,
// reported as dropped and returned as an error.
func (e *Engine) FlushAndClose(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.closed = true
	e.draining = true
	task := e.heldTask
	e.heldTask = nil
	e.mu.Unlock()

	task.Cancel()
	close(e.closing)
	if e.running.Load() {
		<-e.runDone
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.ShutdownTimeout)
	defer cancel()

	for e.pending() > 0 && ctx.Err() == nil {
		if _, err := e.Flush(ctx); err != nil {
			select {
			case <-ctx.Done():
			case <-time.After(e.cfg.RetryBackoff):
			}
		}
	}

	leftovers := e.takeAll()
	if len(leftovers) == 0 {
		e.logger.Infow("batch engine drained", "persisted", e.Stats().Persisted)
		return nil
	}

	e.logger.Errorw("batch engine closed with unflushed records", "records", len(leftovers), "error", ctx.Err())
	e.reportDropped(leftovers, events.ReasonShutdown, nil)
	return fmt.Errorf("%d records unflushed at shutdown", len(leftovers))
}

// Stats returns a snapshot of engine state and counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.stats
	s.Queued = e.queue.len()
	s.InFlight = e.inFlight
	s.RetryPending = e.held != nil
	s.BatchSize = e.batchSize
	s.Timeout = e.timeout
	return s
}

func (e *Engine) nextJob() *domain.BatchJob {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.held != nil {
		if !e.heldDue && !e.draining {
			return nil
		}
		job := e.held
		e.held, e.heldDue, e.heldTask = nil, false, nil
		return job
	}

	records := e.queue.pop(e.batchSize)
	if len(records) == 0 {
		return nil
	}
	e.inFlight += len(records)
	return &domain.BatchJob{ID: uuid.NewString(), Records: records}
}

func (e *Engine) write(ctx context.Context, job *domain.BatchJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("writer panic: %v", r)
		}
	}()
	return e.writer.Write(ctx, job)
}

func (e *Engine) complete(job *domain.BatchJob, latency time.Duration) {
	n := len(job.Records)

	e.mu.Lock()
	e.inFlight -= n
	e.stats.Persisted += int64(n)
	e.stats.BatchesProcessed++
	e.stats.LastLatency = latency
	e.adaptLocked(latency)
	observers := append([]Observer(nil), e.observers...)
	e.mu.Unlock()

	for _, o := range observers {
		o.OnPersisted(job.Records)
	}
	e.pub.Publish(events.Event{
		Name:      events.BatchProcessed,
		BatchID:   job.ID,
		Count:     n,
		Attempts:  job.Attempts + 1,
		LatencyMs: latency.Milliseconds(),
	})
}

func (e *Engine) fail(job *domain.BatchJob, err error) {
	job.Attempts++
	n := len(job.Records)

	e.mu.Lock()
	if job.Attempts > e.cfg.MaxRetries {
		e.inFlight -= n
		e.stats.Dropped += int64(n)
		e.stats.DroppedRetries += int64(n)
		e.stats.BatchesFailed++
		e.mu.Unlock()

		e.logger.Errorw("batch dropped after retries", "batch", job.ID, "records", n, "attempts", job.Attempts, "error", err)
		e.pub.Publish(events.Event{
			Name:     events.BatchFailed,
			BatchID:  job.ID,
			Count:    n,
			Attempts: job.Attempts,
			Error:    err.Error(),
		})
		e.reportDropped(job.Records, events.ReasonRetriesExhausted, err)
		return
	}

	for _, rec := range job.Records {
		rec.Retries = job.Attempts
	}
	e.held = job
	e.heldDue = false
	e.stats.Retries++
	draining := e.draining
	e.mu.Unlock()

	delay := e.cfg.RetryBackoff << (job.Attempts - 1)
	e.logger.Warnw("batch write failed, retrying", "batch", job.ID, "records", n, "attempt", job.Attempts, "delay", delay, "error", err)
	if draining {
		return
	}

	task, serr := e.sched.After(delay, e.markRetryDue)
	if serr != nil {
		e.markRetryDue()
		return
	}
	e.mu.Lock()
	if e.held == job {
		e.heldTask = task
	}
	e.mu.Unlock()
}

func (e *Engine) markRetryDue() {
	e.mu.Lock()
	if e.held != nil {
		e.heldDue = true
	}
	e.mu.Unlock()
	e.signal()
}

// adaptLocked resizes batch size and timeout from the last flush latency.
func (e *Engine) adaptLocked(latency time.Duration) {
	switch {
	case latency > e.cfg.TargetLatencyHigh:
		e.batchSize = max(e.cfg.MinBatchSize, e.batchSize*4/5)
		e.timeout = max(e.cfg.MinTimeout, e.timeout*4/5)
	case latency < e.cfg.TargetLatencyLow:
		e.batchSize = min(e.cfg.MaxBatchSize, max(e.batchSize+1, e.batchSize*6/5))
		e.timeout = min(e.cfg.MaxTimeout, e.timeout*6/5)
	}
}

func (e *Engine) reportDropped(records []*domain.PersistenceRecord, reason string, err error) {
	e.mu.Lock()
	observers := append([]Observer(nil), e.observers...)
	e.mu.Unlock()

	var errText string
	if err != nil {
		errText = err.Error()
	}
	for _, rec := range records {
		e.pub.Publish(events.Event{
			Name:     events.ItemDropped,
			Mint:     rec.Mint,
			RecordID: rec.ID,
			Attempts: rec.Retries,
			Reason:   reason,
			Error:    errText,
		})
		for _, o := range observers {
			o.OnDropped(rec, reason)
		}
	}
}

func (e *Engine) takeAll() []*domain.PersistenceRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.queue.drain()
	if e.held != nil {
		e.inFlight -= len(e.held.Records)
		out = append(e.held.Records, out...)
		e.held = nil
	}
	e.stats.Unflushed += int64(len(out))
	return out
}

func (e *Engine) pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := e.queue.len()
	if e.held != nil {
		n += len(e.held.Records)
	}
	return n
}

func (e *Engine) batchReady() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.batchReadyLocked()
}

func (e *Engine) batchReadyLocked() bool {
	return e.held == nil && e.queue.len() >= e.batchSize
}

func (e *Engine) currentTimeout() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.timeout
}

func (e *Engine) signal() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}
