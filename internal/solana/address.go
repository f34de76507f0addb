package solana

import (
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// AddressLength is the byte length of a Solana public key.
const AddressLength = 32

// Address validation errors.
var (
	ErrAddressLength = errors.New("address must be 32 bytes")
	ErrAddressZero   = errors.New("address is all zeros")
	ErrAddressEncode = errors.New("address is not valid base58")
)

// EncodeAddress validates a raw 32-byte key and returns its base58 form.
func EncodeAddress(raw []byte) (string, error) {
	if len(raw) != AddressLength {
		return "", fmt.Errorf("%w: got %d", ErrAddressLength, len(raw))
	}
	if isZero(raw) {
		return "", ErrAddressZero
	}
	addr := base58.Encode(raw)
	if err := ValidateAddress(addr); err != nil {
		return "", err
	}
	return addr, nil
}

// ValidateAddress checks that a textual address decodes to a non-zero 32-byte key.
func ValidateAddress(addr string) error {
	if addr == "" {
		return ErrAddressEncode
	}
	decoded, err := base58.Decode(addr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAddressEncode, err)
	}
	if len(decoded) != AddressLength {
		return fmt.Errorf("%w: got %d", ErrAddressLength, len(decoded))
	}
	if isZero(decoded) {
		return ErrAddressZero
	}
	return nil
}

// IsOnCurve reports whether a 32-byte key is a valid ed25519 point.
// Program-derived addresses are off curve; keypair addresses are on curve.
func IsOnCurve(raw []byte) bool {
	if len(raw) != AddressLength {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(raw)
	return err == nil
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
