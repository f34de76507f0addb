package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"curve-tracker/internal/domain"
	"curve-tracker/internal/storage"
)

// TokenStore implements storage.TokenStore using PostgreSQL.
type TokenStore struct {
	pool *Pool
}

// NewTokenStore creates a new TokenStore.
func NewTokenStore(pool *Pool) *TokenStore {
	return &TokenStore{pool: pool}
}

// Compile-time interface checks.
var (
	_ storage.TokenStore        = (*TokenStore)(nil)
	_ storage.BulkTradeInserter = (*TokenStore)(nil)
)

// First-seen columns are never part of the update set.
const upsertTokenQuery = `
	INSERT INTO tokens (
		mint, first_seen_market_cap_usd, market_cap_usd, price_sol, price_usd, progress,
		virtual_sol_reserves, virtual_token_reserves, signature, slot, discovered_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (mint) DO UPDATE SET
		market_cap_usd = EXCLUDED.market_cap_usd,
		price_sol = EXCLUDED.price_sol,
		price_usd = EXCLUDED.price_usd,
		progress = EXCLUDED.progress,
		virtual_sol_reserves = EXCLUDED.virtual_sol_reserves,
		virtual_token_reserves = EXCLUDED.virtual_token_reserves,
		updated_at = now()
`

const insertTradeQuery = `
	INSERT INTO trades (
		signature, mint, direction, sol_amount, token_amount, user_address,
		virtual_sol_reserves, virtual_token_reserves, price_sol, price_usd, market_cap_usd,
		progress, layout, slot, ts
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	ON CONFLICT (signature, mint) DO NOTHING
`

func tradeArgs(t *domain.Trade) []any {
	return []any{
		t.Signature, t.Mint, string(t.Direction), int64(t.SolAmount), int64(t.TokenAmount), t.User,
		int64(t.VirtualSolReserves), int64(t.VirtualTokenReserves), t.PriceSol, t.PriceUSD, t.MarketCapUSD,
		t.Progress, int16(t.Layout), int64(t.Slot), t.Timestamp,
	}
}

// UpsertTokenDiscovery writes the token row and its first trade in one transaction.
func (s *TokenStore) UpsertTokenDiscovery(ctx context.Context, d *domain.TokenDiscovery) error {
	if err := storage.ValidateDiscovery(d); err != nil {
		return err
	}
	if d.FirstTrade != nil {
		if err := storage.ValidateTrade(d.FirstTrade); err != nil {
			return err
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, upsertTokenQuery,
		d.Mint, d.FirstSeenMarketCapUSD, d.MarketCapUSD, d.PriceSol, d.PriceUSD, d.Progress,
		int64(d.VirtualSolReserves), int64(d.VirtualTokenReserves), d.Signature, int64(d.Slot), d.DiscoveredAt,
	)
	if err != nil {
		return fmt.Errorf("upsert token %s: %w", d.Mint, err)
	}

	if d.FirstTrade != nil {
		if _, err := tx.Exec(ctx, insertTradeQuery, tradeArgs(d.FirstTrade)...); err != nil {
			return fmt.Errorf("insert first trade of %s: %w", d.Mint, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// InsertTrade writes a trade. An existing (signature, mint) is a no-op.
func (s *TokenStore) InsertTrade(ctx context.Context, t *domain.Trade) error {
	if err := storage.ValidateTrade(t); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, insertTradeQuery, tradeArgs(t)...); err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// InsertTradesBulk queues all inserts in one pgx batch inside a transaction.
func (s *TokenStore) InsertTradesBulk(ctx context.Context, trades []*domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, t := range trades {
		if err := storage.ValidateTrade(t); err != nil {
			return err
		}
		batch.Queue(insertTradeQuery, tradeArgs(t)...)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	br := tx.SendBatch(ctx, batch)
	for range trades {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("insert trade in bulk: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetToken returns the token row for mint. Returns storage.ErrNotFound if absent.
func (s *TokenStore) GetToken(ctx context.Context, mint string) (*domain.TokenDiscovery, error) {
	query := `
		SELECT mint, first_seen_market_cap_usd, market_cap_usd, price_sol, price_usd, progress,
			virtual_sol_reserves, virtual_token_reserves, signature, slot, discovered_at
		FROM tokens
		WHERE mint = $1
	`

	var d domain.TokenDiscovery
	var solRes, tokRes, slot int64
	err := s.pool.QueryRow(ctx, query, mint).Scan(
		&d.Mint, &d.FirstSeenMarketCapUSD, &d.MarketCapUSD, &d.PriceSol, &d.PriceUSD, &d.Progress,
		&solRes, &tokRes, &d.Signature, &slot, &d.DiscoveredAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get token: %w", err)
	}
	d.VirtualSolReserves = uint64(solRes)
	d.VirtualTokenReserves = uint64(tokRes)
	d.Slot = uint64(slot)
	return &d, nil
}

// GetTradesByMint returns the trades of mint ordered by timestamp ASC.
func (s *TokenStore) GetTradesByMint(ctx context.Context, mint string) ([]*domain.Trade, error) {
	query := `
		SELECT signature, mint, direction, sol_amount, token_amount, user_address,
			virtual_sol_reserves, virtual_token_reserves, price_sol, price_usd, market_cap_usd,
			progress, layout, slot, ts
		FROM trades
		WHERE mint = $1
		ORDER BY ts ASC, signature ASC
	`

	rows, err := s.pool.Query(ctx, query, mint)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []*domain.Trade
	for rows.Next() {
		var t domain.Trade
		var direction string
		var solAmt, tokAmt, solRes, tokRes, slot int64
		var layout int16
		err := rows.Scan(
			&t.Signature, &t.Mint, &direction, &solAmt, &tokAmt, &t.User,
			&solRes, &tokRes, &t.PriceSol, &t.PriceUSD, &t.MarketCapUSD,
			&t.Progress, &layout, &slot, &t.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.Direction = domain.Direction(direction)
		t.SolAmount = uint64(solAmt)
		t.TokenAmount = uint64(tokAmt)
		t.VirtualSolReserves = uint64(solRes)
		t.VirtualTokenReserves = uint64(tokRes)
		t.Layout = domain.Layout(layout)
		t.Slot = uint64(slot)
		out = append(out, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trades: %w", err)
	}
	return out, nil
}

// GetStats returns row counters.
func (s *TokenStore) GetStats(ctx context.Context) (storage.Stats, error) {
	var st storage.Stats
	err := s.pool.QueryRow(ctx, `SELECT (SELECT count(*) FROM tokens), (SELECT count(*) FROM trades)`).
		Scan(&st.Tokens, &st.Trades)
	if err != nil {
		return storage.Stats{}, fmt.Errorf("get stats: %w", err)
	}
	return st, nil
}
