package iprange

import (
	"errors"
	"net/netip"
	"testing"
)

func TestParseSingleAddresses(t *testing.T) {
	tests := []struct {
		input string
		hex   string
	}{
		{"1.2.3.4", "00000000000000000000000001020304"},
		{"::ffff:1.2.3.4", "00000000000000000000000001020304"},
		{"0.0.0.0", "00000000000000000000000000000000"},
		{"255.255.255.255", "000000000000000000000000ffffffff"},
		{"2001:db8::1", "20010db8000000000000000000000001"},
		{"ffff:ffff:ffff:ffff:ffff:ffff:ffff:ffff", "ffffffffffffffffffffffffffffffff"},
	}

	for _, tt := range tests {
		r, err := Parse(tt.input)
		if err != nil {
			t.Errorf("Parse(%q) failed: %v", tt.input, err)
			continue
		}
		if r.Start != r.End {
			t.Errorf("Parse(%q) should be a single key, got %s", tt.input, r)
		}
		if got := r.Start.Hex(); got != tt.hex {
			t.Errorf("Parse(%q) = %s, want %s", tt.input, got, tt.hex)
		}
	}
}

func TestParseNetworks(t *testing.T) {
	tests := []struct {
		input string
		start string
		end   string
	}{
		{"1.0.0.0/24", "1.0.0.0", "1.0.0.255"},
		{"1.0.0.77/24", "1.0.0.0", "1.0.0.255"},
		{"0.0.0.0/0", "0.0.0.0", "255.255.255.255"},
		{"8.8.8.8/32", "8.8.8.8", "8.8.8.8"},
		{"::ffff:10.0.0.0/104", "10.0.0.0", "10.255.255.255"},
		{"2001:db8::/32", "2001:db8::", "2001:db8:ffff:ffff:ffff:ffff:ffff:ffff"},
		{"2600::/128", "2600::", "2600::"},
		{"::/0", "::", "ffff:ffff:ffff:ffff:ffff:ffff:ffff:ffff"},
	}

	for _, tt := range tests {
		r, err := Parse(tt.input)
		if err != nil {
			t.Errorf("Parse(%q) failed: %v", tt.input, err)
			continue
		}
		start, _ := ParseAddr(tt.start)
		end, _ := ParseAddr(tt.end)
		if r.Start != start || r.End != end {
			t.Errorf("Parse(%q) = %s, want %s-%s", tt.input, r, tt.start, tt.end)
		}
		if r.Start.Compare(r.End) > 0 {
			t.Errorf("Parse(%q) start after end", tt.input)
		}
	}
}

func TestIPv4SortsBeforeIPv6(t *testing.T) {
	v4, _ := Parse("255.255.255.0/24")
	v6, _ := Parse("2001:db8::/32")
	if v4.End.Compare(v6.Start) >= 0 {
		t.Errorf("IPv4 range %s should sort before IPv6 range %s", v4, v6)
	}
}

func TestRoundTrip(t *testing.T) {
	inputs := []string{"1.2.3.4", "192.168.0.1", "2001:db8::dead:beef", "fe80::1"}
	for _, in := range inputs {
		addr := netip.MustParseAddr(in)
		k := Encode(addr)
		if got := FromUint128(k.Uint128()); got != k {
			t.Errorf("numeric round trip of %s changed key: %s", in, got.Hex())
		}
		if k.Addr().String() != addr.String() {
			t.Errorf("Addr() = %s, want %s", k.Addr(), addr)
		}
	}
}

func TestParseInvalid(t *testing.T) {
	inputs := []string{"", "not-an-ip", "1.2.3", "1.2.3.4/33", "2001:db8::/129", "300.1.1.1"}
	for _, in := range inputs {
		_, err := Parse(in)
		if err == nil {
			t.Errorf("Parse(%q) should fail", in)
			continue
		}
		if !errors.Is(err, ErrInvalidAddress) {
			t.Errorf("Parse(%q) error should match ErrInvalidAddress, got %v", in, err)
		}
		var addrErr *AddressError
		if !errors.As(err, &addrErr) || addrErr.Input != in {
			t.Errorf("Parse(%q) should return *AddressError with input, got %v", in, err)
		}
	}
}

func TestRangeContains(t *testing.T) {
	r, _ := Parse("10.0.0.0/8")
	inside, _ := ParseAddr("10.20.30.40")
	outside, _ := ParseAddr("11.0.0.0")
	if !r.Contains(inside) {
		t.Error("10.20.30.40 should be inside 10.0.0.0/8")
	}
	if r.Contains(outside) {
		t.Error("11.0.0.0 should be outside 10.0.0.0/8")
	}
}
