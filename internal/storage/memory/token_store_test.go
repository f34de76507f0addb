package memory

import (
	"context"
	"errors"
	"testing"

	"curve-tracker/internal/domain"
	"curve-tracker/internal/storage"
)

func testTrade(sig, mint string, ts int64) *domain.Trade {
	return &domain.Trade{
		Signature:            sig,
		Mint:                 mint,
		Direction:            domain.DirectionBuy,
		SolAmount:            1_000_000_000,
		TokenAmount:          25_000_000_000,
		VirtualSolReserves:   40_000_000_000,
		VirtualTokenReserves: 700_000_000_000_000,
		MarketCapUSD:         9000,
		Layout:               domain.LayoutFull,
		Timestamp:            ts,
	}
}

func TestTokenStore_UpsertPreservesFirstSeen(t *testing.T) {
	store := NewTokenStore()
	ctx := context.Background()

	first := &domain.TokenDiscovery{
		Mint:                  "mint1",
		FirstSeenMarketCapUSD: 5000,
		MarketCapUSD:          9000,
		Signature:             "sig1",
		DiscoveredAt:          1000,
		FirstTrade:            testTrade("sig1", "mint1", 1000),
	}
	if err := store.UpsertTokenDiscovery(ctx, first); err != nil {
		t.Fatalf("UpsertTokenDiscovery failed: %v", err)
	}

	second := &domain.TokenDiscovery{
		Mint:                  "mint1",
		FirstSeenMarketCapUSD: 9500,
		MarketCapUSD:          12000,
		Signature:             "sig9",
		DiscoveredAt:          9000,
	}
	if err := store.UpsertTokenDiscovery(ctx, second); err != nil {
		t.Fatalf("second UpsertTokenDiscovery failed: %v", err)
	}

	got, err := store.GetToken(ctx, "mint1")
	if err != nil {
		t.Fatalf("GetToken failed: %v", err)
	}
	if got.FirstSeenMarketCapUSD != 5000 || got.DiscoveredAt != 1000 || got.Signature != "sig1" {
		t.Errorf("first-seen fields overwritten: %+v", got)
	}
	if got.MarketCapUSD != 12000 {
		t.Errorf("MarketCapUSD = %f, want 12000", got.MarketCapUSD)
	}

	trades, _ := store.GetTradesByMint(ctx, "mint1")
	if len(trades) != 1 || trades[0].Signature != "sig1" {
		t.Errorf("expected first trade persisted, got %d trades", len(trades))
	}
}

func TestTokenStore_InsertTradeIdempotent(t *testing.T) {
	store := NewTokenStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := store.InsertTrade(ctx, testTrade("sig1", "mint1", 2000)); err != nil {
			t.Fatalf("InsertTrade failed: %v", err)
		}
	}
	if err := store.InsertTradesBulk(ctx, []*domain.Trade{
		testTrade("sig1", "mint1", 2000),
		testTrade("sig0", "mint1", 1000),
		testTrade("sig1", "mint2", 2000),
	}); err != nil {
		t.Fatalf("InsertTradesBulk failed: %v", err)
	}

	stats, _ := store.GetStats(ctx)
	if stats.Trades != 3 {
		t.Errorf("Trades = %d, want 3", stats.Trades)
	}

	trades, _ := store.GetTradesByMint(ctx, "mint1")
	if len(trades) != 2 || trades[0].Signature != "sig0" {
		t.Errorf("unexpected order: %+v", trades)
	}
}

func TestTokenStore_InvalidInput(t *testing.T) {
	store := NewTokenStore()
	ctx := context.Background()

	if err := store.InsertTrade(ctx, &domain.Trade{Mint: "m"}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
	if err := store.UpsertTokenDiscovery(ctx, &domain.TokenDiscovery{}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}

	bulk := []*domain.Trade{testTrade("ok", "m", 1), {Mint: "m"}}
	if err := store.InsertTradesBulk(ctx, bulk); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
	if stats, _ := store.GetStats(ctx); stats.Trades != 0 {
		t.Errorf("bulk insert must be atomic, got %d trades", stats.Trades)
	}

	if _, err := store.GetToken(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
