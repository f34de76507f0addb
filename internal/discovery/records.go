package discovery

import (
	"curve-tracker/internal/domain"
	"curve-tracker/internal/idhash"
)

// NewTrade normalizes a decoded event and its snapshot into a storable trade.
func NewTrade(ev *domain.TradeEvent, snap domain.PriceSnapshot, blockTimeMs int64) *domain.Trade {
	return &domain.Trade{
		Signature:            ev.Signature,
		Mint:                 ev.Mint,
		Direction:            ev.Direction,
		SolAmount:            ev.SolAmount,
		TokenAmount:          ev.TokenAmount,
		User:                 ev.User,
		VirtualSolReserves:   ev.VirtualSolReserves,
		VirtualTokenReserves: ev.VirtualTokenReserves,
		PriceSol:             snap.PriceSol,
		PriceUSD:             snap.PriceUSD,
		MarketCapUSD:         snap.MarketCapUSD,
		Progress:             snap.Progress,
		Layout:               ev.Layout,
		Slot:                 ev.Slot,
		Timestamp:            ev.TimestampMs(blockTimeMs),
	}
}

func newDiscoveryRecord(trade *domain.Trade, firstSeenMarketCap float64) *domain.PersistenceRecord {
	return &domain.PersistenceRecord{
		ID:       idhash.DiscoveryRecordID(trade.Mint),
		Kind:     domain.RecordKindDiscovery,
		Mint:     trade.Mint,
		Priority: domain.PriorityHigh,
		Discovery: &domain.TokenDiscovery{
			Mint:                  trade.Mint,
			FirstSeenMarketCapUSD: firstSeenMarketCap,
			MarketCapUSD:          trade.MarketCapUSD,
			PriceSol:              trade.PriceSol,
			PriceUSD:              trade.PriceUSD,
			Progress:              trade.Progress,
			VirtualSolReserves:    trade.VirtualSolReserves,
			VirtualTokenReserves:  trade.VirtualTokenReserves,
			Signature:             trade.Signature,
			Slot:                  trade.Slot,
			DiscoveredAt:          trade.Timestamp,
			FirstTrade:            trade,
		},
	}
}

func newTradeRecord(trade *domain.Trade, priority domain.Priority) *domain.PersistenceRecord {
	return &domain.PersistenceRecord{
		ID:       idhash.TradeRecordID(trade.Signature, trade.Mint),
		Kind:     domain.RecordKindTrade,
		Mint:     trade.Mint,
		Priority: priority,
		Trade:    trade,
	}
}
