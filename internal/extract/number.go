package extract

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidNumber is returned for counters that are neither plain digits nor K/M/B abbreviated.
var ErrInvalidNumber = errors.New("invalid formatted number")

var suffixMultipliers = map[byte]float64{
	'K': 1e3,
	'M': 1e6,
	'B': 1e9,
}

// ParseAbbreviated converts engagement counters such as "1200", "12.3K" or "2M" to integers.
func ParseAbbreviated(raw string) (int64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidNumber, raw)
	}

	if isDigits(s) {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q: %v", ErrInvalidNumber, raw, err)
		}
		return n, nil
	}

	multiplier, ok := suffixMultipliers[s[len(s)-1]]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidNumber, raw)
	}

	mantissa := s[:len(s)-1]
	if !isDecimal(mantissa) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidNumber, raw)
	}
	f, err := strconv.ParseFloat(mantissa, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidNumber, raw)
	}

	return int64(math.Round(f * multiplier)), nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// isDecimal accepts digits with at most one dot, e.g. "12.3" or "5".
func isDecimal(s string) bool {
	whole, frac, hasDot := strings.Cut(s, ".")
	if whole == "" || !isDigits(whole) {
		return false
	}
	return !hasDot || (frac != "" && isDigits(frac))
}
