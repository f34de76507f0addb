package batch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"curve-tracker/internal/domain"
	"curve-tracker/internal/storage"
	"curve-tracker/internal/storage/memory"
)

// tradeOnlyStore hides the bulk path of the memory store.
type tradeOnlyStore struct {
	storage.TokenStore
	inserts int
}

func (s *tradeOnlyStore) InsertTrade(ctx context.Context, t *domain.Trade) error {
	s.inserts++
	return s.TokenStore.InsertTrade(ctx, t)
}

func writerJob() *domain.BatchJob {
	trade := func(sig string) *domain.Trade {
		return &domain.Trade{Signature: sig, Mint: "mint", Timestamp: 1}
	}
	return &domain.BatchJob{
		ID: "job",
		Records: []*domain.PersistenceRecord{
			{ID: "t1", Kind: domain.RecordKindTrade, Mint: "mint", Trade: trade("s2")},
			{ID: "d", Kind: domain.RecordKindDiscovery, Mint: "mint", Discovery: &domain.TokenDiscovery{
				Mint: "mint", FirstSeenMarketCapUSD: 9000, FirstTrade: trade("s1"),
			}},
			{ID: "t2", Kind: domain.RecordKindTrade, Mint: "mint", Trade: trade("s3")},
		},
	}
}

func TestStoreWriter_Bulk(t *testing.T) {
	store := memory.NewTokenStore()
	w := NewStoreWriter(store)
	require.NotNil(t, w.bulk)

	require.NoError(t, w.Write(context.Background(), writerJob()))
	// idempotent on retry
	require.NoError(t, w.Write(context.Background(), writerJob()))

	stats, err := store.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, storage.Stats{Tokens: 1, Trades: 3}, stats)
}

func TestStoreWriter_PerRecordFallback(t *testing.T) {
	store := &tradeOnlyStore{TokenStore: memory.NewTokenStore()}
	w := NewStoreWriter(store)
	require.Nil(t, w.bulk)

	require.NoError(t, w.Write(context.Background(), writerJob()))
	assert.Equal(t, 2, store.inserts)

	trades, err := store.GetTradesByMint(context.Background(), "mint")
	require.NoError(t, err)
	assert.Len(t, trades, 3)
}

func TestStoreWriter_Errors(t *testing.T) {
	w := NewStoreWriter(memory.NewTokenStore())

	job := &domain.BatchJob{Records: []*domain.PersistenceRecord{
		{ID: "bad", Kind: domain.RecordKindTrade, Trade: &domain.Trade{Mint: "m"}},
	}}
	assert.ErrorIs(t, w.Write(context.Background(), job), storage.ErrInvalidInput)

	job = &domain.BatchJob{Records: []*domain.PersistenceRecord{{ID: "x", Kind: "other"}}}
	assert.Error(t, w.Write(context.Background(), job))
}
