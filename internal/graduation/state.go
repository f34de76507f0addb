package graduation

// Phase is the graduation lifecycle phase of a mint.
type Phase string

// Graduation phases. Graduated is terminal.
const (
	PhaseTracking       Phase = "tracking"
	PhaseNearGraduation Phase = "near_graduation"
	PhaseGraduated      Phase = "graduated"
)

// Trend classifies recent progress movement.
type Trend string

// Trend values.
const (
	TrendRising  Trend = "rising"
	TrendFalling Trend = "falling"
	TrendStable  Trend = "stable"
	TrendUnknown Trend = "unknown"
)

// State is the per-mint graduation state.
type State struct {
	Phase   Phase
	history []float64 // most recent progress samples, oldest first
}

func (s *State) push(progress float64, window int) {
	if len(s.history) == window {
		copy(s.history, s.history[1:])
		s.history = s.history[:window-1]
	}
	s.history = append(s.history, progress)
}

// History returns a copy of the progress window.
func (s *State) History() []float64 {
	out := make([]float64, len(s.history))
	copy(out, s.history)
	return out
}

// classifyTrend compares the first and last sample against a noise band.
func classifyTrend(history []float64, band float64) Trend {
	if len(history) < 2 {
		return TrendUnknown
	}
	delta := history[len(history)-1] - history[0]
	switch {
	case delta > band:
		return TrendRising
	case delta < -band:
		return TrendFalling
	default:
		return TrendStable
	}
}

// Transition describes the effect of one observation.
type Transition struct {
	Mint        string
	From        Phase
	To          Phase
	Progress    float64
	SolReserves float64 // SOL
	Trend       Trend
}

// Graduated reports whether this observation fired the one-time graduation.
func (t Transition) Graduated() bool {
	return t.From != PhaseGraduated && t.To == PhaseGraduated
}

// EnteredNearGraduation reports whether the mint just became a graduation candidate.
func (t Transition) EnteredNearGraduation() bool {
	return t.From == PhaseTracking && t.To == PhaseNearGraduation
}
