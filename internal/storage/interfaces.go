package storage

import (
	"context"

	"curve-tracker/internal/domain"
)

// Stats holds row counters for the statistics surface.
type Stats struct {
	Tokens int64
	Trades int64
}

// TokenStore persists discovered tokens and their trades.
// All writes are idempotent on their natural keys so retried batches never duplicate rows.
type TokenStore interface {
	// UpsertTokenDiscovery writes the token row keyed by mint. The first-seen fields of an
	// existing row are preserved; the latest metrics replace the stored ones.
	// If d.FirstTrade is set it is inserted as by InsertTrade.
	UpsertTokenDiscovery(ctx context.Context, d *domain.TokenDiscovery) error

	// InsertTrade writes a trade keyed by (signature, mint). Existing keys are left unchanged.
	InsertTrade(ctx context.Context, t *domain.Trade) error

	// GetToken returns the token row for mint. Returns ErrNotFound if not exists.
	GetToken(ctx context.Context, mint string) (*domain.TokenDiscovery, error)

	// GetTradesByMint returns the trades of a mint ordered by timestamp ASC.
	GetTradesByMint(ctx context.Context, mint string) ([]*domain.Trade, error)

	// GetStats returns row counters.
	GetStats(ctx context.Context) (Stats, error)
}

// BulkTradeInserter is implemented by stores that can write many trades in one round trip.
// Semantics match InsertTrade applied to each trade.
type BulkTradeInserter interface {
	InsertTradesBulk(ctx context.Context, trades []*domain.Trade) error
}
