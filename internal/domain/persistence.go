package domain

// Trade is the normalized trade payload written to storage.
// Natural key: (Signature, Mint).
type Trade struct {
	Signature            string
	Mint                 string
	Direction            Direction
	SolAmount            uint64
	TokenAmount          uint64
	User                 string
	VirtualSolReserves   uint64
	VirtualTokenReserves uint64
	PriceSol             float64
	PriceUSD             float64
	MarketCapUSD         float64
	Progress             float64
	Layout               Layout
	Slot                 uint64
	Timestamp            int64 // milliseconds
}

// TokenDiscovery is the normalized discovery payload written to storage.
// Natural key: Mint. FirstTrade is the trade that made the token qualify.
type TokenDiscovery struct {
	Mint                  string
	FirstSeenMarketCapUSD float64
	MarketCapUSD          float64
	PriceSol              float64
	PriceUSD              float64
	Progress              float64
	VirtualSolReserves    uint64
	VirtualTokenReserves  uint64
	Signature             string
	Slot                  uint64
	DiscoveredAt          int64 // milliseconds
	FirstTrade            *Trade
}

// RecordKind distinguishes persistence payloads.
type RecordKind string

// Record kinds.
const (
	RecordKindDiscovery RecordKind = "discovery"
	RecordKindTrade     RecordKind = "trade"
)

// Priority is the queue tier of a record. Lower values are flushed first.
type Priority int

// Priority tiers.
const (
	PriorityHigh Priority = iota
	PriorityNormal
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// PersistenceRecord is a queued write. Exactly one of Discovery or Trade is set,
// according to Kind.
type PersistenceRecord struct {
	ID        string // deterministic, see idhash
	Kind      RecordKind
	Mint      string
	Priority  Priority
	Retries   int
	Discovery *TokenDiscovery
	Trade     *Trade
}

// BatchJob is the unit of work of one flush cycle.
type BatchJob struct {
	ID       string
	Records  []*PersistenceRecord
	Attempts int // failed write attempts so far
}
