package model

import (
	"encoding/hex"
	"errors"
	"strings"
)

// AddressLength is the byte length of an account address.
const AddressLength = 20

// Address identifies an account: a player wallet, an operator key, the
// race escrow, or the treasury. The zero value is the null address.
type Address [AddressLength]byte

// NullAddress is returned by signature recovery on malformed input.
var NullAddress = Address{}

var ErrInvalidAddress = errors.New("model: invalid address")

// IsNull reports whether the address is the null (all-zero) address.
func (a Address) IsNull() bool {
	return a == NullAddress
}

// Hex returns the 0x-prefixed lowercase hex encoding.
func (a Address) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

func (a Address) String() string {
	return a.Hex()
}

// MarshalText implements encoding.TextMarshaler, so Address works as a
// JSON value and as a JSON map key.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAddress decodes a 0x-prefixed (or bare) 40-char hex string.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if len(s) != AddressLength*2 {
		return Address{}, ErrInvalidAddress
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Address{}, ErrInvalidAddress
	}
	var a Address
	copy(a[:], raw)
	return a, nil
}

// BytesToAddress converts raw bytes to an Address, keeping the rightmost
// 20 bytes when the input is longer.
func BytesToAddress(b []byte) Address {
	var a Address
	if len(b) > AddressLength {
		b = b[len(b)-AddressLength:]
	}
	copy(a[AddressLength-len(b):], b)
	return a
}
