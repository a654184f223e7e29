package solana

import (
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// PublicKeyLength is the size of a decoded Solana address.
const PublicKeyLength = 32

// ErrOffCurve is returned for addresses that are not ed25519 public keys,
// such as program-derived addresses.
var ErrOffCurve = errors.New("address is not on the ed25519 curve")

// DecodeAddress decodes a base58 address and checks its length.
func DecodeAddress(addr string) ([]byte, error) {
	if addr == "" {
		return nil, errors.New("address is empty")
	}
	b, err := base58.Decode(addr)
	if err != nil {
		return nil, fmt.Errorf("decode base58: %w", err)
	}
	if len(b) != PublicKeyLength {
		return nil, fmt.Errorf("address must be %d bytes, got %d", PublicKeyLength, len(b))
	}
	return b, nil
}

// ValidateAddress reports whether addr is a well-formed Solana address.
func ValidateAddress(addr string) error {
	_, err := DecodeAddress(addr)
	return err
}

// ValidateWalletAddress additionally requires addr to be a point on the
// ed25519 curve, i.e. an address some keypair can sign for.
func ValidateWalletAddress(addr string) error {
	b, err := DecodeAddress(addr)
	if err != nil {
		return err
	}
	if _, err := new(edwards25519.Point).SetBytes(b); err != nil {
		return ErrOffCurve
	}
	return nil
}
