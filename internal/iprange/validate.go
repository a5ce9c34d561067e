package iprange

import (
	"errors"
	"fmt"
)

var (
	// ErrOverlappingRanges is returned when two loaded ranges share keys.
	ErrOverlappingRanges = errors.New("ip ranges overlap")

	// ErrUnsortedRanges is returned when a sequence is not ordered by start.
	ErrUnsortedRanges = errors.New("ip ranges out of order")

	// ErrInvertedRange is returned when a range ends before it starts.
	ErrInvertedRange = errors.New("ip range start after end")
)

// Sequence checks ranges as they are streamed in ascending start order.
// The zero value is ready to use.
type Sequence struct {
	last  Range
	count int
}

// Add validates r against the previously added range.
func (s *Sequence) Add(r Range) error {
	if r.Start.Compare(r.End) > 0 {
		return fmt.Errorf("%w: %s", ErrInvertedRange, r)
	}

	if s.count > 0 {
		if r.Start.Compare(s.last.Start) < 0 {
			return fmt.Errorf("%w: %s follows %s", ErrUnsortedRanges, r, s.last)
		}
		if s.last.End.Compare(r.Start) >= 0 {
			return fmt.Errorf("%w: %s and %s", ErrOverlappingRanges, s.last, r)
		}
	}

	s.last = r
	s.count++
	return nil
}

// Count returns the number of ranges accepted so far.
func (s *Sequence) Count() int { return s.count }
