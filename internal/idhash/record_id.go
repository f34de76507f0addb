package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"curve-tracker/internal/domain"
)

// DiscoveryRecordID computes the deterministic identifier of a discovery record.
// Formula: SHA256(discovery|mint)
// Returns hex-encoded hash (64 characters).
func DiscoveryRecordID(mint string) string {
	return hash(fmt.Sprintf("%s|%s", domain.RecordKindDiscovery, mint))
}

// TradeRecordID computes the deterministic identifier of a trade record.
// Formula: SHA256(trade|signature|mint)
// Returns hex-encoded hash (64 characters).
func TradeRecordID(signature, mint string) string {
	return hash(fmt.Sprintf("%s|%s|%s", domain.RecordKindTrade, signature, mint))
}

func hash(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}
