package billing

import (
	"strings"

	"github.com/ManuelReschke/tiergate/internal/pkg/entitlements"
)

// statusFromProvider maps a provider subscription status onto the local enum.
func statusFromProvider(status string) entitlements.Status {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active", "trialing":
		return entitlements.StatusActive
	case "past_due", "unpaid":
		return entitlements.StatusPastDue
	case "canceled", "incomplete_expired":
		return entitlements.StatusCanceled
	default:
		// incomplete, paused and anything newer than this code
		return entitlements.StatusNone
	}
}

// PriceTable maps tiers to provider price identifiers.
type PriceTable map[entitlements.Tier]string

// Lookup resolves a requested tier name to its tier and price id.
func (p PriceTable) Lookup(requested string) (entitlements.Tier, string, bool) {
	tier, ok := entitlements.ParseTier(requested)
	if !ok {
		return "", "", false
	}
	priceID := strings.TrimSpace(p[tier])
	if priceID == "" {
		return "", "", false
	}
	return tier, priceID, true
}

// Missing lists tiers without a configured price.
func (p PriceTable) Missing() []entitlements.Tier {
	var missing []entitlements.Tier
	for _, tier := range entitlements.Tiers() {
		if strings.TrimSpace(p[tier]) == "" {
			missing = append(missing, tier)
		}
	}
	return missing
}
