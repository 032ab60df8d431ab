// Package solana validates Solana account addresses.
package solana

import (
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// AddressLength is the decoded size of a Solana public key.
const AddressLength = 32

// ErrInvalidAddress is returned for strings that are not base58 32-byte keys.
var ErrInvalidAddress = errors.New("invalid solana address")

// DecodeAddress decodes a base58 address into its 32 bytes.
func DecodeAddress(s string) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidAddress)
	}
	b, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(b) != AddressLength {
		return nil, fmt.Errorf("%w: decoded %d bytes, want %d", ErrInvalidAddress, len(b), AddressLength)
	}
	return b, nil
}

// ValidateAddress reports whether s is a well-formed address.
// Program-derived addresses are valid even though they are off the curve.
func ValidateAddress(s string) error {
	_, err := DecodeAddress(s)
	return err
}

// IsOnCurve reports whether s decodes to an ed25519 point, i.e. a key that
// can sign. Program-derived addresses are off the curve.
func IsOnCurve(s string) bool {
	b, err := DecodeAddress(s)
	if err != nil {
		return false
	}
	_, err = new(edwards25519.Point).SetBytes(b)
	return err == nil
}
