package storage

import (
	"errors"
	"fmt"

	"curve-tracker/internal/domain"
)

// Storage errors.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
)

// ValidateDiscovery checks the fields required to key a token row.
func ValidateDiscovery(d *domain.TokenDiscovery) error {
	if d == nil {
		return fmt.Errorf("%w: nil discovery", ErrInvalidInput)
	}
	if d.Mint == "" {
		return fmt.Errorf("%w: discovery without mint", ErrInvalidInput)
	}
	if d.FirstTrade != nil && d.FirstTrade.Mint != d.Mint {
		return fmt.Errorf("%w: first trade mint %s does not match %s", ErrInvalidInput, d.FirstTrade.Mint, d.Mint)
	}
	return nil
}

// ValidateTrade checks the fields required to key a trade row.
func ValidateTrade(t *domain.Trade) error {
	if t == nil {
		return fmt.Errorf("%w: nil trade", ErrInvalidInput)
	}
	if t.Signature == "" || t.Mint == "" {
		return fmt.Errorf("%w: trade requires signature and mint", ErrInvalidInput)
	}
	return nil
}
