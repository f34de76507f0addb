package observability

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"curve-tracker/internal/events"
)

func TestMetrics_CountsBusEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("", reg)
	bus := events.NewBus(zaptest.NewLogger(t).Sugar())
	m.Subscribe(bus)

	bus.Publish(events.Event{Name: events.TokenDiscovered, Mint: "a"})
	bus.Publish(events.Event{Name: events.TokenDiscovered, Mint: "b"})
	bus.Publish(events.Event{Name: events.TokenGraduated, Mint: "a"})
	bus.Publish(events.Event{Name: events.TokenThresholdCrossed, Mint: "a"})
	bus.Publish(events.Event{Name: events.TokenDiscoveryFailed, Mint: "b"})
	bus.Publish(events.Event{Name: events.BatchProcessed, Count: 7, LatencyMs: 120})
	bus.Publish(events.Event{Name: events.BatchFailed, Count: 3})
	bus.Publish(events.Event{Name: events.ItemDropped, Reason: events.ReasonQueueFull})
	bus.Publish(events.Event{Name: events.ItemDropped, Reason: events.ReasonQueueFull})
	bus.Publish(events.Event{Name: events.ItemDropped, Reason: events.ReasonShutdown})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.TokensDiscovered))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TokensGraduated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ThresholdCrossed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DiscoveryFailed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BatchesProcessed))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.RecordsPersisted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BatchesFailed))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ItemsDropped.WithLabelValues(events.ReasonQueueFull)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ItemsDropped.WithLabelValues(events.ReasonShutdown)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.BatchLatency))
}

func TestMetrics_HighestSlotAndGaugeFunc(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)

	m.UpdateHighestSlot(100)
	m.UpdateHighestSlot(90)
	m.UpdateHighestSlot(120)
	assert.Equal(t, 120.0, testutil.ToFloat64(m.HighestSlotSeen))

	depth := 5.0
	m.GaugeFunc("batch", "queue_depth", "Queued records", func() float64 { return depth })
	depth = 9

	mfs, err := reg.Gather()
	require.NoError(t, err)
	var found bool
	for _, mf := range mfs {
		if mf.GetName() == "test_batch_queue_depth" {
			found = true
			assert.Equal(t, 9.0, mf.GetMetric()[0].GetGauge().GetValue())
		}
	}
	assert.True(t, found)
}

func TestNewHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("", reg)
	m.MessagesProcessed.Inc()

	var unhealthy atomic.Bool
	srv := httptest.NewServer(NewHandler(reg, func() error {
		if unhealthy.Load() {
			return errors.New("stream stalled")
		}
		return nil
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "curve_tracker_ingestion_messages_processed_total 1")

	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	unhealthy.Store(true)
	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, string(body), "stream stalled")
}
