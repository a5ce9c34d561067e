package iprange

import (
	"errors"
	"testing"
)

func mustParse(t *testing.T, s string) Range {
	t.Helper()
	r, err := Parse(s)
	if err != nil {
		t.Fatalf("Parse(%q): %v", s, err)
	}
	return r
}

func TestSequenceAcceptsAdjacentRanges(t *testing.T) {
	var seq Sequence
	for _, cidr := range []string{"1.0.0.0/24", "1.0.1.0/24", "1.0.2.0/23", "2001:db8::/32"} {
		if err := seq.Add(mustParse(t, cidr)); err != nil {
			t.Fatalf("Add(%s) failed: %v", cidr, err)
		}
	}
	if seq.Count() != 4 {
		t.Errorf("Count() = %d, want 4", seq.Count())
	}
}

func TestSequenceRejectsOverlap(t *testing.T) {
	var seq Sequence
	if err := seq.Add(mustParse(t, "1.0.0.0/16")); err != nil {
		t.Fatalf("first Add failed: %v", err)
	}
	err := seq.Add(mustParse(t, "1.0.5.0/24"))
	if !errors.Is(err, ErrOverlappingRanges) {
		t.Errorf("expected ErrOverlappingRanges, got %v", err)
	}
}

func TestSequenceRejectsUnsorted(t *testing.T) {
	var seq Sequence
	_ = seq.Add(mustParse(t, "2.0.0.0/24"))
	err := seq.Add(mustParse(t, "1.0.0.0/24"))
	if !errors.Is(err, ErrUnsortedRanges) {
		t.Errorf("expected ErrUnsortedRanges, got %v", err)
	}
}

func TestSequenceRejectsInverted(t *testing.T) {
	var seq Sequence
	a := mustParse(t, "1.0.0.0/24")
	err := seq.Add(Range{Start: a.End, End: a.Start})
	if !errors.Is(err, ErrInvertedRange) {
		t.Errorf("expected ErrInvertedRange, got %v", err)
	}
}
