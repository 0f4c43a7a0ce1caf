package tier

import (
	"strings"
	"time"

	"github.com/gosimple/slug"
)

type Tier string

const (
	Free    Tier = "free"
	Weekly  Tier = "weekly"
	Monthly Tier = "monthly"
	Annual  Tier = "annual"
)

const (
	day = 24 * time.Hour

	// AnnualCreditLimit is the yearly allowance; it is metered monthly.
	AnnualCreditLimit = 1500
)

// Policy is the credit allowance for one period of a tier.
type Policy struct {
	Tier           Tier
	CreditLimit    int
	PeriodDuration time.Duration
}

func (p Policy) PeriodDurationMs() int64 {
	return p.PeriodDuration.Milliseconds()
}

var policies = map[Tier]Policy{
	Free:    {Tier: Free, CreditLimit: 5, PeriodDuration: 30 * day},
	Weekly:  {Tier: Weekly, CreditLimit: 20, PeriodDuration: 7 * day},
	Monthly: {Tier: Monthly, CreditLimit: 100, PeriodDuration: 30 * day},
	Annual:  {Tier: Annual, CreditLimit: monthlyEquivalent(AnnualCreditLimit), PeriodDuration: 30 * day},
}

// Resolve returns the policy for a tier. Unknown tiers resolve to Free.
func Resolve(t Tier) Policy {
	if p, ok := policies[Normalize(string(t))]; ok {
		return p
	}
	return policies[Free]
}

// CustomLimit is the per-subscription limit stored on tier change, nil when the tier default applies.
func CustomLimit(t Tier) *int {
	if Normalize(string(t)) != Annual {
		return nil
	}
	limit := monthlyEquivalent(AnnualCreditLimit)
	return &limit
}

// Normalize maps free-form tier names onto known tiers, falling back to Free.
func Normalize(raw string) Tier {
	switch Tier(slug.Make(strings.TrimSpace(raw))) {
	case Weekly:
		return Weekly
	case Monthly:
		return Monthly
	case Annual, "yearly", "year", "annually":
		return Annual
	default:
		return Free
	}
}

// ResolveProduct maps a billing product to a tier: explicit mapping, then product id keywords,
// then any active entitlement as monthly.
func ResolveProduct(productID string, entitlementIDs []string, mapping map[string]string) Tier {
	key := strings.ToLower(strings.TrimSpace(productID))
	if key != "" {
		if mapped, ok := mapping[key]; ok {
			return Normalize(mapped)
		}
	}

	switch {
	case strings.Contains(key, "annual"), strings.Contains(key, "yearly"):
		return Annual
	case strings.Contains(key, "weekly"):
		return Weekly
	case strings.Contains(key, "monthly"):
		return Monthly
	}

	for _, id := range entitlementIDs {
		if strings.TrimSpace(id) != "" {
			return Monthly
		}
	}
	return Free
}

func monthlyEquivalent(annual int) int {
	return (annual + 11) / 12
}
