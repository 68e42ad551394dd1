package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// USD is a fixed-point dollar amount in micro-dollars (1 USD = 1_000_000).
// Integer arithmetic keeps cap-enforcement and conservation exact;
// the on-chain contract uses 6-decimal USD values with the same scale.
type USD int64

// MicroPerDollar is the fixed-point scale for USD amounts.
const MicroPerDollar = 1_000_000

// Dollars builds a USD amount from a whole-dollar value.
func Dollars(d int64) USD {
	return USD(d * MicroPerDollar)
}

// Cents builds a USD amount from a cent value.
func Cents(c int64) USD {
	return USD(c * MicroPerDollar / 100)
}

// String formats the amount as "$1234.56". Fractions below a cent are
// truncated for display only; the underlying value is never rounded.
func (u USD) String() string {
	neg := ""
	v := int64(u)
	if v < 0 {
		neg = "-"
		v = -v
	}
	return fmt.Sprintf("%s$%d.%02d", neg, v/MicroPerDollar, (v%MicroPerDollar)/10_000)
}

// ParseUSD parses a decimal dollar string ("500", "0.0015", "$10.50")
// into micro-dollars without going through floating point. At most six
// fractional digits are accepted; more would silently lose precision.
func ParseUSD(s string) (USD, error) {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "$"))
	if s == "" {
		return 0, fmt.Errorf("parse usd: empty value")
	}

	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}

	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > 6 {
		return 0, fmt.Errorf("parse usd %q: more than 6 fractional digits", s)
	}

	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse usd %q: %w", s, err)
	}

	var f int64
	if frac != "" {
		f, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse usd %q: %w", s, err)
		}
		for i := len(frac); i < 6; i++ {
			f *= 10
		}
	}

	v := w*MicroPerDollar + f
	if neg {
		v = -v
	}
	return USD(v), nil
}

// Tokens is a token amount in whole base units.
type Tokens int64
