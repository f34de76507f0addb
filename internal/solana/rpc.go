package solana

import (
	"context"
	"fmt"
)

// BlockTimeSource resolves the production time of a slot.
type BlockTimeSource interface {
	// GetBlockTime returns the Unix time of slot in seconds, or 0 if unavailable.
	GetBlockTime(ctx context.Context, slot uint64) (int64, error)
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}
