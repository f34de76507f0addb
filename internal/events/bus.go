// Package events carries the pipeline's outward signals to subscribers
// such as loggers, metrics and the Kafka sink.
package events

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Handler consumes published events.
type Handler func(ev Event)

// Bus fans events out to subscribers synchronously, in subscription order.
// A panicking handler is logged and does not affect the others.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Name][]Handler
	all      []Handler
	logger   *zap.SugaredLogger
	now      func() time.Time
}

// NewBus creates an empty Bus.
func NewBus(logger *zap.SugaredLogger) *Bus {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Bus{
		handlers: make(map[Name][]Handler),
		logger:   logger,
		now:      time.Now,
	}
}

// Subscribe registers h for the given names, or for every event when none are given.
func (b *Bus) Subscribe(h Handler, names ...Name) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(names) == 0 {
		b.all = append(b.all, h)
		return
	}
	for _, n := range names {
		b.handlers[n] = append(b.handlers[n], h)
	}
}

// Publish delivers ev to its subscribers. A zero Time is stamped with now.
func (b *Bus) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = b.now()
	}

	b.mu.RLock()
	targets := make([]Handler, 0, len(b.handlers[ev.Name])+len(b.all))
	targets = append(targets, b.handlers[ev.Name]...)
	targets = append(targets, b.all...)
	b.mu.RUnlock()

	for _, h := range targets {
		b.deliver(h, ev)
	}
}

func (b *Bus) deliver(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Errorw("event handler panicked", "event", ev.Name, "panic", r)
		}
	}()
	h(ev)
}
