package domain

import "errors"

// ErrInvalidMessage is returned when a stream message does not satisfy the input contract.
var ErrInvalidMessage = errors.New("invalid update message")

// TransactionPayload is the transaction part of a stream update.
type TransactionPayload struct {
	Logs []string    // ordered program log lines
	Err  interface{} // non-nil when the transaction failed on chain
}

// RawUpdateMessage is a single update delivered by the stream session.
// The pipeline treats it as read-only.
type RawUpdateMessage struct {
	Transaction *TransactionPayload // nil for updates without a transaction
	Slot        uint64
	BlockTime   int64 // Unix seconds, 0 when unknown
	Signature   string
}

// Validate checks the fixed input shape. A message without a transaction is valid
// and simply carries nothing to decode.
func (m *RawUpdateMessage) Validate() error {
	if m == nil {
		return ErrInvalidMessage
	}
	if m.Signature == "" {
		return errors.Join(ErrInvalidMessage, errors.New("missing signature"))
	}
	return nil
}

// HasLogs reports whether the message carries a successful transaction with log lines.
func (m *RawUpdateMessage) HasLogs() bool {
	return m.Transaction != nil && m.Transaction.Err == nil && len(m.Transaction.Logs) > 0
}

// TimestampMs returns the block time in milliseconds, or 0 if unknown.
func (m *RawUpdateMessage) TimestampMs() int64 {
	if m.BlockTime <= 0 {
		return 0
	}
	return m.BlockTime * 1000
}
