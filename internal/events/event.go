package events

import "time"

// Name identifies an outward event.
type Name string

// Outward event names.
const (
	TokenDiscovered       Name = "token:discovered"
	TokenGraduated        Name = "token:graduated"
	TokenThresholdCrossed Name = "token:thresholdCrossed"
	TokenDiscoveryFailed  Name = "token:discoveryFailed"
	BatchProcessed        Name = "batch:processed"
	BatchFailed           Name = "batch:failed"
	ItemDropped           Name = "item:dropped"
)

// Drop reasons carried by ItemDropped.
const (
	ReasonQueueFull        = "queue_full"
	ReasonRetriesExhausted = "retries_exhausted"
	ReasonShutdown         = "shutdown"
)

// Event is the minimal identifying payload of an outward signal.
type Event struct {
	Name Name      `json:"name"`
	Time time.Time `json:"time"`

	Mint         string  `json:"mint,omitempty"`
	MarketCapUSD float64 `json:"marketCapUsd,omitempty"`
	PriceUSD     float64 `json:"priceUsd,omitempty"`
	Progress     float64 `json:"progress,omitempty"`
	SolReserves  float64 `json:"solReserves,omitempty"`
	Signature    string  `json:"signature,omitempty"`

	BatchID   string `json:"batchId,omitempty"`
	RecordID  string `json:"recordId,omitempty"`
	Count     int    `json:"count,omitempty"`
	Attempts  int    `json:"attempts,omitempty"`
	LatencyMs int64  `json:"latencyMs,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Publisher accepts outward events. Implementations must not block the caller for long.
type Publisher interface {
	Publish(ev Event)
}

// Nop discards all events.
type Nop struct{}

func (Nop) Publish(Event) {}
