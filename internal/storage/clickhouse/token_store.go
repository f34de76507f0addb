package clickhouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"curve-tracker/internal/domain"
	"curve-tracker/internal/storage"
)

// TokenStore implements storage.TokenStore using ClickHouse.
// Both tables are ReplacingMergeTree, so every read goes through FINAL.
type TokenStore struct {
	conn *Conn
	now  func() time.Time
}

// NewTokenStore creates a new TokenStore.
func NewTokenStore(conn *Conn) *TokenStore {
	return &TokenStore{conn: conn, now: time.Now}
}

// Compile-time interface checks.
var (
	_ storage.TokenStore        = (*TokenStore)(nil)
	_ storage.BulkTradeInserter = (*TokenStore)(nil)
)

const tradeColumns = `signature, mint, direction, sol_amount, token_amount, user_address,
	virtual_sol_reserves, virtual_token_reserves, price_sol, price_usd, market_cap_usd,
	progress, layout, slot, ts`

const tokenColumns = `mint, first_seen_market_cap_usd, market_cap_usd, price_sol, price_usd, progress,
	virtual_sol_reserves, virtual_token_reserves, signature, slot, discovered_at`

// UpsertTokenDiscovery appends a new version of the token row carrying over the
// first-seen fields of the current version.
func (s *TokenStore) UpsertTokenDiscovery(ctx context.Context, d *domain.TokenDiscovery) error {
	if err := storage.ValidateDiscovery(d); err != nil {
		return err
	}

	row := *d
	existing, err := s.GetToken(ctx, d.Mint)
	switch {
	case err == nil:
		row.FirstSeenMarketCapUSD = existing.FirstSeenMarketCapUSD
		row.Signature = existing.Signature
		row.Slot = existing.Slot
		row.DiscoveredAt = existing.DiscoveredAt
	case !errors.Is(err, storage.ErrNotFound):
		return err
	}

	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO tokens ("+tokenColumns+", updated_at)")
	if err != nil {
		return fmt.Errorf("preparing token batch: %w", err)
	}
	err = batch.Append(
		row.Mint, row.FirstSeenMarketCapUSD, row.MarketCapUSD, row.PriceSol, row.PriceUSD, row.Progress,
		row.VirtualSolReserves, row.VirtualTokenReserves, row.Signature, row.Slot, row.DiscoveredAt,
		s.now(),
	)
	if err != nil {
		return fmt.Errorf("appending token row: %w", err)
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("upserting token %s: %w", d.Mint, err)
	}

	if d.FirstTrade != nil {
		return s.InsertTradesBulk(ctx, []*domain.Trade{d.FirstTrade})
	}
	return nil
}

// InsertTrade appends a trade row.
func (s *TokenStore) InsertTrade(ctx context.Context, t *domain.Trade) error {
	return s.InsertTradesBulk(ctx, []*domain.Trade{t})
}

// InsertTradesBulk sends all trades in one batch. Repeated keys collapse on merge.
func (s *TokenStore) InsertTradesBulk(ctx context.Context, trades []*domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	for _, t := range trades {
		if err := storage.ValidateTrade(t); err != nil {
			return err
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO trades ("+tradeColumns+")")
	if err != nil {
		return fmt.Errorf("preparing trade batch: %w", err)
	}
	for _, t := range trades {
		err := batch.Append(
			t.Signature, t.Mint, string(t.Direction), t.SolAmount, t.TokenAmount, t.User,
			t.VirtualSolReserves, t.VirtualTokenReserves, t.PriceSol, t.PriceUSD, t.MarketCapUSD,
			t.Progress, uint16(t.Layout), t.Slot, t.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("appending trade row: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("sending %d trades: %w", len(trades), err)
	}
	return nil
}

// GetToken returns the latest version of the token row.
func (s *TokenStore) GetToken(ctx context.Context, mint string) (*domain.TokenDiscovery, error) {
	var d domain.TokenDiscovery
	err := s.conn.QueryRow(ctx, "SELECT "+tokenColumns+" FROM tokens FINAL WHERE mint = ?", mint).Scan(
		&d.Mint, &d.FirstSeenMarketCapUSD, &d.MarketCapUSD, &d.PriceSol, &d.PriceUSD, &d.Progress,
		&d.VirtualSolReserves, &d.VirtualTokenReserves, &d.Signature, &d.Slot, &d.DiscoveredAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("querying token %s: %w", mint, err)
	}
	return &d, nil
}

// GetTradesByMint returns trades of mint ordered by timestamp ASC.
func (s *TokenStore) GetTradesByMint(ctx context.Context, mint string) ([]*domain.Trade, error) {
	rows, err := s.conn.Query(ctx,
		"SELECT "+tradeColumns+" FROM trades FINAL WHERE mint = ? ORDER BY ts ASC, signature ASC", mint)
	if err != nil {
		return nil, fmt.Errorf("querying trades of %s: %w", mint, err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

// GetStats counts distinct tokens and trades.
func (s *TokenStore) GetStats(ctx context.Context) (storage.Stats, error) {
	var tokens, trades uint64
	if err := s.conn.QueryRow(ctx, "SELECT count() FROM tokens FINAL").Scan(&tokens); err != nil {
		return storage.Stats{}, fmt.Errorf("counting tokens: %w", err)
	}
	if err := s.conn.QueryRow(ctx, "SELECT count() FROM trades FINAL").Scan(&trades); err != nil {
		return storage.Stats{}, fmt.Errorf("counting trades: %w", err)
	}
	return storage.Stats{Tokens: int64(tokens), Trades: int64(trades)}, nil
}

func scanTrades(rows driver.Rows) ([]*domain.Trade, error) {
	var out []*domain.Trade
	for rows.Next() {
		var t domain.Trade
		var direction string
		var layout uint16
		err := rows.Scan(
			&t.Signature, &t.Mint, &direction, &t.SolAmount, &t.TokenAmount, &t.User,
			&t.VirtualSolReserves, &t.VirtualTokenReserves, &t.PriceSol, &t.PriceUSD, &t.MarketCapUSD,
			&t.Progress, &layout, &t.Slot, &t.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning trade row: %w", err)
		}
		t.Direction = domain.Direction(direction)
		t.Layout = domain.Layout(layout)
		out = append(out, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating trade rows: %w", err)
	}
	return out, nil
}
