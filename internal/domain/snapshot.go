package domain

// PriceSnapshot holds metrics derived from one event's reserves.
// It is recomputed per event and only persisted embedded in a record.
type PriceSnapshot struct {
	PriceSol     float64 // SOL per token
	PriceUSD     float64 // USD per token
	MarketCapUSD float64 // PriceUSD * fixed total supply
	Progress     float64 // bonding curve completion, 0..100
}
