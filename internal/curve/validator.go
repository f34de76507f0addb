package curve

// Reason explains a validation outcome.
type Reason string

// Validation reason codes.
const (
	ReasonOK             Reason = "ok"
	ReasonZeroSol        Reason = "zero_sol"
	ReasonZeroToken      Reason = "zero_token"
	ReasonRatioOutOfBand Reason = "ratio_out_of_band"
	ReasonSolOutOfRange  Reason = "sol_out_of_range"
)

// ValidatorConfig bounds plausible reserve pairs.
type ValidatorConfig struct {
	// MinRatio and MaxRatio bound lamports per token base unit.
	// The band only catches byte misalignment, it is not an economic check.
	MinRatio float64
	MaxRatio float64

	// MinSol and MaxSol are the operating band for strict checks, in SOL.
	MinSol float64
	MaxSol float64
}

// DefaultValidatorConfig returns the default plausibility bounds.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		MinRatio: 1e-12,
		MaxRatio: 1e12,
		MinSol:   25,
		MaxSol:   90,
	}
}

// Result is the outcome of a validation.
type Result struct {
	Valid  bool
	Reason Reason
}

// Validator rejects implausible reserve pairs.
type Validator struct {
	cfg ValidatorConfig
}

// NewValidator creates a Validator. Zero fields fall back to defaults.
func NewValidator(cfg ValidatorConfig) *Validator {
	def := DefaultValidatorConfig()
	if cfg.MinRatio <= 0 {
		cfg.MinRatio = def.MinRatio
	}
	if cfg.MaxRatio <= 0 {
		cfg.MaxRatio = def.MaxRatio
	}
	if cfg.MinSol <= 0 && cfg.MaxSol <= 0 {
		cfg.MinSol, cfg.MaxSol = def.MinSol, def.MaxSol
	}
	return &Validator{cfg: cfg}
}

// Validate performs the lenient check used before any economic calculation.
func (v *Validator) Validate(solReserves, tokenReserves uint64) Result {
	if solReserves == 0 {
		return Result{Reason: ReasonZeroSol}
	}
	if tokenReserves == 0 {
		return Result{Reason: ReasonZeroToken}
	}
	ratio := float64(solReserves) / float64(tokenReserves)
	if ratio < v.cfg.MinRatio || ratio > v.cfg.MaxRatio {
		return Result{Reason: ReasonRatioOutOfBand}
	}
	return Result{Valid: true, Reason: ReasonOK}
}

// ValidateStrict additionally requires SOL reserves inside the curve's operating band.
func (v *Validator) ValidateStrict(solReserves, tokenReserves uint64) Result {
	res := v.Validate(solReserves, tokenReserves)
	if !res.Valid {
		return res
	}
	sol := LamportsToSol(solReserves)
	if sol < v.cfg.MinSol || sol > v.cfg.MaxSol {
		return Result{Reason: ReasonSolOutOfRange}
	}
	return res
}
