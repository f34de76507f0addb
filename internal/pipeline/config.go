package pipeline

import (
	"curve-tracker/internal/batch"
	"curve-tracker/internal/curve"
	"curve-tracker/internal/decoder"
	"curve-tracker/internal/discovery"
	"curve-tracker/internal/graduation"
)

// Config aggregates the configuration of every pipeline stage.
type Config struct {
	Decoder    decoder.Config
	Validator  curve.ValidatorConfig
	Window     curve.ProgressWindow
	Graduation graduation.Config
	Discovery  discovery.Config
	Batch      batch.Config

	// StrictGraduation feeds the graduation detector only samples inside the
	// curve's SOL operating band. Persistence always uses the lenient check.
	StrictGraduation bool
}

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig() Config {
	return Config{
		Decoder:          decoder.DefaultConfig(),
		Validator:        curve.DefaultValidatorConfig(),
		Window:           curve.DefaultProgressWindow,
		Graduation:       graduation.DefaultConfig(),
		Discovery:        discovery.DefaultConfig(),
		Batch:            batch.DefaultConfig(),
		StrictGraduation: true,
	}
}
