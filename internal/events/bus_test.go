package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func TestBus_PublishRoutesByName(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t).Sugar())

	var graduated, all []Event
	bus.Subscribe(func(ev Event) { graduated = append(graduated, ev) }, TokenGraduated)
	bus.Subscribe(func(ev Event) { all = append(all, ev) })

	bus.Publish(Event{Name: TokenDiscovered, Mint: "m1"})
	bus.Publish(Event{Name: TokenGraduated, Mint: "m1"})

	assert.Len(t, graduated, 1)
	assert.Equal(t, "m1", graduated[0].Mint)
	assert.Len(t, all, 2)
	assert.False(t, all[0].Time.IsZero())
}

func TestBus_PanickingHandlerIsIsolated(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t).Sugar())

	delivered := 0
	bus.Subscribe(func(Event) { panic("boom") })
	bus.Subscribe(func(Event) { delivered++ })

	assert.NotPanics(t, func() { bus.Publish(Event{Name: ItemDropped}) })
	assert.Equal(t, 1, delivered)
}

func TestBus_KeepsExplicitTime(t *testing.T) {
	bus := NewBus(nil)
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	var got Event
	bus.Subscribe(func(ev Event) { got = ev })
	bus.Publish(Event{Name: BatchProcessed, Time: ts})

	assert.Equal(t, ts, got.Time)
}
