package batch

import (
	"context"
	"fmt"

	"curve-tracker/internal/domain"
	"curve-tracker/internal/storage"
)

// StoreWriter writes batches to a storage.TokenStore.
// Discoveries go first so a token row exists before its later trades.
type StoreWriter struct {
	store storage.TokenStore
	bulk  storage.BulkTradeInserter // nil when the store has no bulk path
}

// NewStoreWriter creates a StoreWriter over store.
func NewStoreWriter(store storage.TokenStore) *StoreWriter {
	w := &StoreWriter{store: store}
	if b, ok := store.(storage.BulkTradeInserter); ok {
		w.bulk = b
	}
	return w
}

var _ Writer = (*StoreWriter)(nil)

// Write persists every record of job. Store writes are idempotent, so a partial
// failure is retried as a whole.
func (w *StoreWriter) Write(ctx context.Context, job *domain.BatchJob) error {
	var trades []*domain.Trade
	for _, rec := range job.Records {
		switch rec.Kind {
		case domain.RecordKindDiscovery:
			if err := w.store.UpsertTokenDiscovery(ctx, rec.Discovery); err != nil {
				return fmt.Errorf("upsert discovery %s: %w", rec.Mint, err)
			}
		case domain.RecordKindTrade:
			trades = append(trades, rec.Trade)
		default:
			return fmt.Errorf("record %s: unknown kind %q", rec.ID, rec.Kind)
		}
	}

	if len(trades) == 0 {
		return nil
	}
	if w.bulk != nil {
		if err := w.bulk.InsertTradesBulk(ctx, trades); err != nil {
			return fmt.Errorf("insert %d trades: %w", len(trades), err)
		}
		return nil
	}
	for _, t := range trades {
		if err := w.store.InsertTrade(ctx, t); err != nil {
			return fmt.Errorf("insert trade %s: %w", t.Signature, err)
		}
	}
	return nil
}
