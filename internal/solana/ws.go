package solana

import "context"

// LogStream delivers program log notifications.
type LogStream interface {
	// SubscribeLogs subscribes to logs of transactions matching filter.
	// The channel is closed when the stream is closed.
	SubscribeLogs(ctx context.Context, filter LogsFilter) (<-chan LogNotification, error)

	// Close closes the stream.
	Close() error
}

// LogsFilter selects transactions for a logs subscription.
type LogsFilter struct {
	// Mentions filters logs that mention any of these program IDs. Empty means all.
	Mentions []string
}

// LogNotification is one transaction's logs.
type LogNotification struct {
	Signature string
	Slot      uint64
	Logs      []string
	Err       interface{} // non-nil when the transaction failed
}
