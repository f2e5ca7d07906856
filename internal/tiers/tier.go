// Package tiers holds the subscription tier catalog: the fixed set of tiers,
// their ordering, and the entitlements compiled in for each one.
package tiers

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownTier is returned by Parse for strings outside the catalog.
var ErrUnknownTier = errors.New("unknown tier")

// Tier identifies a subscription level.
type Tier string

const (
	Free       Tier = "free"
	Basic      Tier = "basic"
	Pro        Tier = "pro"
	Enterprise Tier = "enterprise"
)

var order = []Tier{Free, Basic, Pro, Enterprise}

// All returns every tier from lowest to highest entitlement.
func All() []Tier {
	out := make([]Tier, len(order))
	copy(out, order)
	return out
}

// Parse converts user or storage input into a Tier. Matching is
// case-insensitive and ignores surrounding whitespace.
func Parse(raw string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(raw)))
	if t.Valid() {
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTier, raw)
}

// Valid reports whether t is one of the catalog tiers.
func (t Tier) Valid() bool {
	return t.Rank() >= 0
}

// Rank is the tier's position in the ordering, or -1 when t is not a catalog tier.
func (t Tier) Rank() int {
	for i, o := range order {
		if o == t {
			return i
		}
	}
	return -1
}

// Less reports whether t sits strictly below other.
func (t Tier) Less(other Tier) bool {
	return t.Rank() < other.Rank()
}

// Next returns the tier immediately above t. The second result is false for
// Enterprise, which has nothing above it.
func (t Tier) Next() (Tier, bool) {
	r := t.Rank()
	if r < 0 || r+1 >= len(order) {
		return "", false
	}
	return order[r+1], true
}

// DisplayName is the capitalised tier name used in user-facing messages.
func (t Tier) DisplayName() string {
	if t == "" {
		return ""
	}
	return strings.ToUpper(string(t[:1])) + string(t[1:])
}

// Max returns the higher of two tiers.
func Max(a, b Tier) Tier {
	if a.Less(b) {
		return b
	}
	return a
}
