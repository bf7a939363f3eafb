package app

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

var ErrInvalidExpiry = errors.New("invalid expiry")

var expiryUnits = map[byte]time.Duration{
	's': time.Second,
	'm': time.Minute,
	'h': time.Hour,
	'd': 24 * time.Hour,
	'w': 7 * 24 * time.Hour,
}

// ParseExpiry reads a token lifetime such as "15m" or "7d": a positive
// decimal integer followed by exactly one of s, m, h, d or w. Nothing else
// is accepted, including signs, spaces, fractions and compound forms.
func ParseExpiry(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidExpiry, s)
	}

	unit, ok := expiryUnits[s[len(s)-1]]
	if !ok {
		return 0, fmt.Errorf("%w: %q: unit must be one of s, m, h, d, w", ErrInvalidExpiry, s)
	}

	digits := s[:len(s)-1]
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return 0, fmt.Errorf("%w: %q", ErrInvalidExpiry, s)
		}
	}

	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q: must be a positive integer", ErrInvalidExpiry, s)
	}
	if n > math.MaxInt64/int64(unit) {
		return 0, fmt.Errorf("%w: %q: too large", ErrInvalidExpiry, s)
	}
	return time.Duration(n) * unit, nil
}
