package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"curve-tracker/internal/domain"
	"curve-tracker/internal/storage"
)

type tradeKey struct {
	signature string
	mint      string
}

// TokenStore is an in-memory implementation of storage.TokenStore.
type TokenStore struct {
	mu     sync.RWMutex
	tokens map[string]*domain.TokenDiscovery // keyed by mint
	trades map[tradeKey]*domain.Trade
	now    func() time.Time
}

// NewTokenStore creates a new in-memory token store.
func NewTokenStore() *TokenStore {
	return &TokenStore{
		tokens: make(map[string]*domain.TokenDiscovery),
		trades: make(map[tradeKey]*domain.Trade),
		now:    time.Now,
	}
}

// Compile-time interface checks.
var (
	_ storage.TokenStore        = (*TokenStore)(nil)
	_ storage.BulkTradeInserter = (*TokenStore)(nil)
)

// UpsertTokenDiscovery inserts or refreshes the token row and records its first trade.
func (s *TokenStore) UpsertTokenDiscovery(_ context.Context, d *domain.TokenDiscovery) error {
	if err := storage.ValidateDiscovery(d); err != nil {
		return err
	}
	if d.FirstTrade != nil {
		if err := storage.ValidateTrade(d.FirstTrade); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row := *d
	row.FirstTrade = nil
	if existing, ok := s.tokens[d.Mint]; ok {
		row.FirstSeenMarketCapUSD = existing.FirstSeenMarketCapUSD
		row.DiscoveredAt = existing.DiscoveredAt
		row.Signature = existing.Signature
		row.Slot = existing.Slot
	}
	s.tokens[d.Mint] = &row

	if d.FirstTrade != nil {
		s.insertTradeLocked(d.FirstTrade)
	}
	return nil
}

// InsertTrade records a trade once per (signature, mint).
func (s *TokenStore) InsertTrade(_ context.Context, t *domain.Trade) error {
	if err := storage.ValidateTrade(t); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertTradeLocked(t)
	return nil
}

// InsertTradesBulk records all trades atomically; nothing is written if any trade is invalid.
func (s *TokenStore) InsertTradesBulk(_ context.Context, trades []*domain.Trade) error {
	for _, t := range trades {
		if err := storage.ValidateTrade(t); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range trades {
		s.insertTradeLocked(t)
	}
	return nil
}

func (s *TokenStore) insertTradeLocked(t *domain.Trade) {
	k := tradeKey{t.Signature, t.Mint}
	if _, exists := s.trades[k]; exists {
		return
	}
	c := *t
	s.trades[k] = &c
}

// GetToken returns the token row for mint.
func (s *TokenStore) GetToken(_ context.Context, mint string) (*domain.TokenDiscovery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.tokens[mint]
	if !ok {
		return nil, storage.ErrNotFound
	}
	c := *row
	return &c, nil
}

// GetTradesByMint returns trades of mint ordered by timestamp, then signature.
func (s *TokenStore) GetTradesByMint(_ context.Context, mint string) ([]*domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Trade
	for k, t := range s.trades {
		if k.mint != mint {
			continue
		}
		c := *t
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].Signature < out[j].Signature
	})
	return out, nil
}

// GetStats returns row counters.
func (s *TokenStore) GetStats(_ context.Context) (storage.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return storage.Stats{Tokens: int64(len(s.tokens)), Trades: int64(len(s.trades))}, nil
}
