package domain

// Direction is the side of a bonding-curve trade.
type Direction string

// Trade directions.
const (
	DirectionBuy     Direction = "buy"
	DirectionSell    Direction = "sell"
	DirectionUnknown Direction = "unknown"
)

// Layout identifies which binary event layout an event was decoded from.
type Layout int

// Known event layouts, named by their byte size.
const (
	LayoutFull    Layout = 225
	LayoutCompact Layout = 113
)

// Size returns the byte length of the layout.
func (l Layout) Size() int {
	return int(l)
}

func (l Layout) String() string {
	switch l {
	case LayoutFull:
		return "full"
	case LayoutCompact:
		return "compact"
	default:
		return "unsupported"
	}
}

// TradeEvent is a single decoded trade against a bonding curve.
// Amount and user fields are zero for the compact layout.
type TradeEvent struct {
	Mint                 string    // base58 mint address
	Direction            Direction // inferred from log text
	SolAmount            uint64    // lamports
	TokenAmount          uint64    // token base units (6 decimals)
	User                 string    // base58 user address, empty if not carried
	VirtualSolReserves   uint64    // lamports
	VirtualTokenReserves uint64    // token base units
	Layout               Layout
	Timestamp            *int64 // on-chain Unix seconds (nullable)

	// Message context
	Signature  string
	Slot       uint64
	EventIndex int // index of the marker line within the message logs
}

// TimestampMs returns the best known event time in milliseconds.
// The on-chain timestamp wins over the block time.
func (e *TradeEvent) TimestampMs(blockTimeMs int64) int64 {
	if e.Timestamp != nil && *e.Timestamp > 0 {
		return *e.Timestamp * 1000
	}
	return blockTimeMs
}
