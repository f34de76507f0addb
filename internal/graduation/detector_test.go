package graduation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDetector(t *testing.T, cfg Config) *Detector {
	t.Helper()
	d := New(cfg)
	t.Cleanup(d.Close)
	return d
}

func TestDetector_GraduatesOnce(t *testing.T) {
	d := newDetector(t, DefaultConfig())

	tr := d.Observe("mintA", 84.0, 98.2)
	assert.False(t, tr.Graduated())
	assert.Equal(t, PhaseNearGraduation, tr.To)

	tr = d.Observe("mintA", 85.0, 100)
	assert.True(t, tr.Graduated())
	assert.Equal(t, PhaseNearGraduation, tr.From)
	assert.Equal(t, PhaseGraduated, tr.To)

	tr = d.Observe("mintA", 86.0, 100)
	assert.False(t, tr.Graduated())
	assert.Equal(t, PhaseGraduated, tr.From)

	phase, ok := d.Phase("mintA")
	require.True(t, ok)
	assert.Equal(t, PhaseGraduated, phase)
	assert.Equal(t, 1, d.GraduatedCount())
	assert.Empty(t, d.Candidates())
}

func TestDetector_GraduatesFromTracking(t *testing.T) {
	d := newDetector(t, DefaultConfig())

	tr := d.Observe("mintA", 84.5, 99)
	assert.Equal(t, PhaseTracking, tr.From)
	assert.True(t, tr.Graduated())
}

func TestDetector_NearGraduation(t *testing.T) {
	d := newDetector(t, DefaultConfig())

	tr := d.Observe("mintB", 50, 36.4)
	assert.Equal(t, PhaseTracking, tr.To)
	assert.False(t, tr.EnteredNearGraduation())

	tr = d.Observe("mintB", 80, 90.9)
	assert.True(t, tr.EnteredNearGraduation())

	tr = d.Observe("mintB", 81, 92.7)
	assert.False(t, tr.EnteredNearGraduation())
	assert.Equal(t, PhaseNearGraduation, tr.To)

	d.Observe("mintA", 82, 94.5)
	assert.Equal(t, []string{"mintA", "mintB"}, d.Candidates())
	assert.Equal(t, 2, d.Tracked())
}

func TestDetector_Trend(t *testing.T) {
	d := newDetector(t, DefaultConfig())

	assert.Equal(t, TrendUnknown, d.Trend("mint"))
	d.Observe("mint", 40, 18)
	assert.Equal(t, TrendUnknown, d.Trend("mint"))

	d.Observe("mint", 41, 20)
	assert.Equal(t, TrendRising, d.Trend("mint"))

	d.Observe("mint", 40.5, 18.5)
	assert.Equal(t, TrendStable, d.Trend("mint"))

	d.Observe("mint", 39, 16)
	assert.Equal(t, TrendFalling, d.Trend("mint"))
}

func TestClassifyTrend(t *testing.T) {
	tests := []struct {
		name    string
		history []float64
		want    Trend
	}{
		{"empty", nil, TrendUnknown},
		{"single", []float64{10}, TrendUnknown},
		{"within band", []float64{10, 30, 10.9}, TrendStable},
		{"rising", []float64{10, 11.5}, TrendRising},
		{"falling", []float64{10, 20, 8.5}, TrendFalling},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyTrend(tt.history, 1))
		})
	}
}

func TestState_WindowIsBounded(t *testing.T) {
	s := &State{Phase: PhaseTracking}
	for i := 1; i <= 8; i++ {
		s.push(float64(i), 5)
	}
	assert.Equal(t, []float64{4, 5, 6, 7, 8}, s.History())
}

func TestDetector_EvictionDoesNotRefireGraduation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Capacity = 2
	d := newDetector(t, cfg)

	require.True(t, d.Observe("grad", 85, 100).Graduated())

	// Churn enough mints to evict anything still stored.
	for _, m := range []string{"a", "b", "c", "d"} {
		d.Observe(m, 40, 18)
	}

	tr := d.Observe("grad", 86, 100)
	assert.False(t, tr.Graduated())
	assert.Equal(t, PhaseGraduated, tr.To)
	assert.LessOrEqual(t, d.Tracked(), 2)
}

func TestDetector_EvictionDropsCandidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Capacity = 1
	d := newDetector(t, cfg)

	d.Observe("near", 80, 91)
	require.Equal(t, []string{"near"}, d.Candidates())

	d.Observe("other", 40, 18)

	require.Eventually(t, func() bool {
		return len(d.Candidates()) == 0
	}, time.Second, 10*time.Millisecond)

	_, ok := d.Phase("near")
	assert.False(t, ok)
}

func TestDetector_TTLExpiry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TTL = 20 * time.Millisecond
	d := newDetector(t, cfg)

	d.Observe("idle", 80, 91)
	require.Eventually(t, func() bool {
		_, ok := d.Phase("idle")
		return !ok && len(d.Candidates()) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
