package store

import "fmt"

// Range is the accepted value window for a level register. Values outside
// it mark the device offline and are never persisted.
type Range struct {
	Min uint16
	Max uint16
}

// Percent validates value against the range and derives the fill
// percentage, rounding toward zero. It is a pure function.
func (r Range) Percent(value uint16) (int, error) {
	if value < r.Min || value > r.Max {
		return 0, fmt.Errorf("value out of range: %d (range: %d-%d)", value, r.Min, r.Max)
	}
	return int(uint32(value) * 100 / uint32(r.Max)), nil
}
