// Package iprange encodes IPv4 and IPv6 addresses and networks as fixed-width
// 16-byte big-endian ranges.
//
// IPv4 addresses are zero-extended into the low 32 bits of the 16-byte space,
// and IPv4-mapped IPv6 literals (::ffff:a.b.c.d) are unmapped first, so both
// spellings of an IPv4 address produce the same key. Byte-wise comparison of
// two keys equals numeric comparison, which lets both families share one
// ordered index.
package iprange

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"lukechampine.com/uint128"
)

// ErrInvalidAddress is matched by every AddressError.
var ErrInvalidAddress = errors.New("invalid ip address")

// AddressError reports malformed address or network text.
type AddressError struct {
	Input string
	Err   error
}

func (e *AddressError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("invalid ip address %q", e.Input)
	}
	return fmt.Sprintf("invalid ip address %q: %v", e.Input, e.Err)
}

func (e *AddressError) Unwrap() error { return e.Err }

// Is reports ErrInvalidAddress as the error class.
func (e *AddressError) Is(target error) bool { return target == ErrInvalidAddress }

// Key is a 16-byte big-endian unsigned integer.
type Key [16]byte

// Encode canonicalizes addr into the shared 16-byte space.
func Encode(addr netip.Addr) Key {
	var k Key
	addr = addr.WithZone("").Unmap()
	if addr.Is4() {
		b := addr.As4()
		copy(k[12:], b[:])
		return k
	}
	return Key(addr.As16())
}

// FromUint128 builds a key from its numeric value.
func FromUint128(u uint128.Uint128) Key {
	var k Key
	u.PutBytesBE(k[:])
	return k
}

// Uint128 returns the numeric value of the key.
func (k Key) Uint128() uint128.Uint128 {
	return uint128.FromBytesBE(k[:])
}

// Compare returns -1, 0 or 1.
func (k Key) Compare(other Key) int {
	return bytes.Compare(k[:], other[:])
}

// Bytes returns a copy of the key suitable for a BLOB column.
func (k Key) Bytes() []byte {
	b := make([]byte, len(k))
	copy(b, k[:])
	return b
}

// Hex returns the lowercase hex form used in SQL blob literals and unhex().
func (k Key) Hex() string {
	return hex.EncodeToString(k[:])
}

// IsIPv4 reports whether the key lies in the zero-extended IPv4 block.
// The deprecated IPv4-compatible IPv6 block (::/96) decodes as IPv4 too.
func (k Key) IsIPv4() bool {
	for _, b := range k[:12] {
		if b != 0 {
			return false
		}
	}
	return true
}

// Addr decodes the key back into an address.
func (k Key) Addr() netip.Addr {
	if k.IsIPv4() {
		return netip.AddrFrom4([4]byte(k[12:]))
	}
	return netip.AddrFrom16(k)
}

func (k Key) String() string {
	return k.Addr().String()
}

// Range is an inclusive [Start, End] interval of keys.
type Range struct {
	Start Key
	End   Key
}

// Contains reports whether k lies inside the range.
func (r Range) Contains(k Key) bool {
	return r.Start.Compare(k) <= 0 && k.Compare(r.End) <= 0
}

func (r Range) String() string {
	return r.Start.String() + "-" + r.End.String()
}

// FromPrefix returns the range covered by a network prefix.
func FromPrefix(p netip.Prefix) Range {
	p = p.Masked()
	addr, bits := p.Addr(), p.Bits()
	if addr.Is4In6() && bits >= 96 {
		addr, bits = addr.Unmap(), bits-96
	}

	width := 128
	if addr.Is4() {
		width = 32
	}

	start := Encode(addr).Uint128()
	host := uint128.Max.Rsh(uint(128 - (width - bits)))
	return Range{Start: FromUint128(start), End: FromUint128(start.Or(host))}
}

// ParseAddr parses a single IPv4 or IPv6 literal.
func ParseAddr(s string) (Key, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return Key{}, &AddressError{Input: s, Err: err}
	}
	return Encode(addr), nil
}

// Parse accepts an address or a CIDR network. A bare address yields a
// single-key range.
func Parse(s string) (Range, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Range{}, &AddressError{Input: s}
	}

	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return Range{}, &AddressError{Input: s, Err: err}
		}
		return FromPrefix(p), nil
	}

	k, err := ParseAddr(s)
	if err != nil {
		return Range{}, err
	}
	return Range{Start: k, End: k}, nil
}
