package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Amount is a currency amount in minor units (cents).
type Amount int64

// ParseAmount parses "350", "350.5" or "350.00" into minor units.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, Invalid("amount required")
	}
	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" || strings.HasPrefix(whole, "-") || strings.HasPrefix(whole, "+") {
		return 0, Invalid(fmt.Sprintf("invalid amount %q", s))
	}
	if hasFrac && (len(frac) == 0 || len(frac) > 2 || strings.ContainsAny(frac, "+-")) {
		return 0, Invalid(fmt.Sprintf("invalid amount %q: at most two decimals", s))
	}
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, Invalid(fmt.Sprintf("invalid amount %q", s))
	}
	var cents int64
	if hasFrac {
		if len(frac) == 1 {
			frac += "0"
		}
		cents, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, Invalid(fmt.Sprintf("invalid amount %q", s))
		}
	}
	if units > (math.MaxInt64-cents)/100 {
		return 0, Invalid(fmt.Sprintf("amount %q is too large", s))
	}
	return Amount(units*100 + cents), nil
}

func (a Amount) String() string {
	sign := ""
	v := int64(a)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// RemainderPolicy decides what happens to the cents left after an even split.
type RemainderPolicy string

const (
	// RemainderTruncate keeps every share at floor(amount/n); the remainder
	// is not paid out and is reported as rounding loss.
	RemainderTruncate RemainderPolicy = "truncate"
	// RemainderFirstRecipient adds the remainder to the first share.
	RemainderFirstRecipient RemainderPolicy = "first_recipient"
)

func (p RemainderPolicy) Valid() bool {
	return p == RemainderTruncate || p == RemainderFirstRecipient
}

// Split divides a into n shares. It returns the shares and the part of a
// that none of them carries.
func (a Amount) Split(n int, policy RemainderPolicy) ([]Amount, Amount) {
	if n <= 0 || a <= 0 {
		return nil, a
	}
	per := a / Amount(n)
	rem := a - per*Amount(n)
	shares := make([]Amount, n)
	for i := range shares {
		shares[i] = per
	}
	if policy == RemainderFirstRecipient && rem > 0 {
		shares[0] += rem
		rem = 0
	}
	return shares, rem
}
