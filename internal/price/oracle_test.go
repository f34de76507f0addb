package price

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type scriptedSource struct {
	mu     sync.Mutex
	prices []float64 // 0 means fail
	calls  int
}

func (s *scriptedSource) FetchSolPriceUSD(context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i >= len(s.prices) {
		i = len(s.prices) - 1
	}
	if s.prices[i] == 0 {
		return 0, errors.New("unavailable")
	}
	return s.prices[i], nil
}

func (s *scriptedSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestOracle_KeepsStaleValueOnFailure(t *testing.T) {
	src := &scriptedSource{prices: []float64{150, 0, 160}}
	o := NewOracle(Config{RefreshInterval: time.Second}, src, zaptest.NewLogger(t).Sugar())

	assert.Equal(t, 0.0, o.GetCurrentSolPriceUSD())
	assert.True(t, o.UpdatedAt().IsZero())

	require.NoError(t, o.Refresh(context.Background()))
	assert.Equal(t, 150.0, o.GetCurrentSolPriceUSD())
	assert.False(t, o.UpdatedAt().IsZero())

	require.Error(t, o.Refresh(context.Background()))
	assert.Equal(t, 150.0, o.GetCurrentSolPriceUSD())
	assert.Equal(t, int64(1), o.Failures())

	require.NoError(t, o.Refresh(context.Background()))
	assert.Equal(t, 160.0, o.GetCurrentSolPriceUSD())
}

func TestOracle_InitialPrice(t *testing.T) {
	o := NewOracle(Config{InitialPriceUSD: 120}, &scriptedSource{prices: []float64{0}}, nil)
	assert.Equal(t, 120.0, o.GetCurrentSolPriceUSD())

	_ = o.Refresh(context.Background())
	assert.Equal(t, 120.0, o.GetCurrentSolPriceUSD())
}

func TestOracle_Run(t *testing.T) {
	src := &scriptedSource{prices: []float64{100, 0, 0, 110}}
	o := NewOracle(Config{RefreshInterval: 10 * time.Millisecond}, src, zaptest.NewLogger(t).Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	require.Eventually(t, func() bool { return o.GetCurrentSolPriceUSD() == 110 }, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, src.Calls(), 4)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestHTTPSource(t *testing.T) {
	var mu sync.Mutex
	var status int
	var body string
	respond := func(s int, b string) {
		mu.Lock()
		status, body = s, b
		mu.Unlock()
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL, WithTimeout(time.Second))

	respond(http.StatusOK, `{"solana":{"usd":172.35}}`)
	usd, err := src.FetchSolPriceUSD(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 172.35, usd)

	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `oops`},
		{"rate limited", http.StatusTooManyRequests, ``},
		{"bad json", http.StatusOK, `{"solana":`},
		{"missing field", http.StatusOK, `{}`},
		{"negative", http.StatusOK, `{"solana":{"usd":-1}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			respond(tt.status, tt.body)
			_, err := src.FetchSolPriceUSD(context.Background())
			assert.Error(t, err)
		})
	}
}

func TestNewHTTPSource_DefaultURL(t *testing.T) {
	assert.Equal(t, DefaultURL, NewHTTPSource("").url)
}
