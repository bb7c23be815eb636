// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package insteon

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Address is a 3 byte INSTEON device address, kept in wire order.
type Address [3]byte

// ParseAddress parses a device address. Accepted forms are "1A.D0.F4",
// "1AD0F4", "1a:d0:f4" and "1A-D0-F4".
func ParseAddress(s string) (Address, error) {
	var a Address

	clean := strings.NewReplacer(".", "", ":", "", "-", "").Replace(strings.TrimSpace(s))
	if len(clean) != 6 {
		return a, fmt.Errorf("invalid address %q: expected 3 hex bytes", s)
	}

	if _, err := hex.Decode(a[:], []byte(clean)); err != nil {
		return a, fmt.Errorf("invalid address %q: %w", s, err)
	}

	return a, nil
}

// AddressFromUint32 converts a legacy numeric device id. The low three bytes
// are taken big-endian and the top byte is dropped.
func AddressFromUint32(id uint32) Address {
	return Address{byte(id >> 16), byte(id >> 8), byte(id)}
}

// Uint32 returns the legacy numeric form of the address.
func (a Address) Uint32() uint32 {
	return uint32(a[0])<<16 | uint32(a[1])<<8 | uint32(a[2])
}

// String returns the dotted form, e.g. "1A.D0.F4".
func (a Address) String() string {
	return fmt.Sprintf("%02X.%02X.%02X", a[0], a[1], a[2])
}

// MarshalText implements encoding.TextMarshaler
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
