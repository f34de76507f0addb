package decoder

import (
	"encoding/binary"

	"curve-tracker/internal/domain"
)

// Full layout (225 bytes):
// discriminator(8) | mint(32) | solAmount(8) | tokenAmount(8) | isBuy(1) | user(32) |
// timestamp(8) | virtualSolReserves(8) | virtualTokenReserves(8) | trailing fields(112)
const (
	fullMintOffset         = 8
	fullSolAmountOffset    = 40
	fullTokenAmountOffset  = 48
	fullUserOffset         = 57
	fullTimestampOffset    = 89
	fullVirtualSolOffset   = 97
	fullVirtualTokenOffset = 105
)

// Compact layout (113 bytes):
// discriminator(8) | mint(32) | virtualTokenReserves(8) | virtualSolReserves(8) | trailing fields(57)
const (
	compactMintOffset         = 8
	compactVirtualTokenOffset = 40
	compactVirtualSolOffset   = 48
)

// layoutForSize maps a payload length to a known layout.
func layoutForSize(n int) (domain.Layout, bool) {
	switch n {
	case domain.LayoutFull.Size():
		return domain.LayoutFull, true
	case domain.LayoutCompact.Size():
		return domain.LayoutCompact, true
	default:
		return 0, false
	}
}

// readUint64LE reads a little-endian uint64 from data at offset.
func readUint64LE(data []byte, offset int) uint64 {
	if offset+8 > len(data) {
		return 0
	}
	return binary.LittleEndian.Uint64(data[offset:])
}

// readAddress returns the 32 raw bytes at offset.
func readAddress(data []byte, offset int) []byte {
	if offset+32 > len(data) {
		return nil
	}
	return data[offset : offset+32]
}
