package entitlements

import "strings"

// Tier is the service level a user has paid for.
type Tier string

const (
	TierBasic Tier = "basic"
	TierPro   Tier = "pro"
	TierElite Tier = "elite"
)

// Status is the local view of a provider subscription.
type Status string

const (
	StatusNone     Status = "none"
	StatusActive   Status = "active"
	StatusPastDue  Status = "past_due"
	StatusCanceled Status = "canceled"
)

// Tiers returns all sellable tiers ordered from lowest to highest.
func Tiers() []Tier {
	return []Tier{TierBasic, TierPro, TierElite}
}

// ParseTier normalizes a tier name. Unknown names report false.
func ParseTier(s string) (Tier, bool) {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case TierBasic:
		return TierBasic, true
	case TierPro:
		return TierPro, true
	case TierElite:
		return TierElite, true
	default:
		return "", false
	}
}

func (t Tier) Valid() bool {
	_, ok := ParseTier(string(t))
	return ok
}

// Rank orders tiers; unknown tiers rank below basic.
func (t Tier) Rank() int {
	switch t {
	case TierElite:
		return 3
	case TierPro:
		return 2
	case TierBasic:
		return 1
	default:
		return 0
	}
}

// ParseStatus normalizes a local status name. Unknown names report false.
func ParseStatus(s string) (Status, bool) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusNone:
		return StatusNone, true
	case StatusActive:
		return StatusActive, true
	case StatusPastDue:
		return StatusPastDue, true
	case StatusCanceled:
		return StatusCanceled, true
	default:
		return "", false
	}
}

// Entitled reports whether the status still grants the paid tier.
// past_due keeps access while the provider retries the charge.
func (s Status) Entitled() bool {
	return s == StatusActive || s == StatusPastDue
}

// Grants reports whether a user on tier/status may use a feature gated at required.
func Grants(tier Tier, status Status, required Tier) bool {
	if !status.Entitled() {
		return false
	}
	return tier.Rank() >= required.Rank()
}
