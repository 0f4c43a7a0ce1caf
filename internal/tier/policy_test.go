package tier

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResolve(t *testing.T) {
	cases := []struct {
		tier   Tier
		limit  int
		period time.Duration
	}{
		{tier: Free, limit: 5, period: 30 * 24 * time.Hour},
		{tier: Weekly, limit: 20, period: 7 * 24 * time.Hour},
		{tier: Monthly, limit: 100, period: 30 * 24 * time.Hour},
		{tier: Annual, limit: 125, period: 30 * 24 * time.Hour},
		{tier: "platinum", limit: 5, period: 30 * 24 * time.Hour},
		{tier: "", limit: 5, period: 30 * 24 * time.Hour},
	}

	for _, tc := range cases {
		t.Run(string(tc.tier), func(t *testing.T) {
			p := Resolve(tc.tier)
			assert.Equal(t, tc.limit, p.CreditLimit)
			assert.Equal(t, tc.period, p.PeriodDuration)
			assert.Equal(t, tc.period.Milliseconds(), p.PeriodDurationMs())
		})
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	for i := 0; i < 3; i++ {
		assert.Equal(t, Resolve(Weekly), Resolve("WEEKLY"))
	}
}

func TestCustomLimit(t *testing.T) {
	limit := CustomLimit(Annual)
	if assert.NotNil(t, limit) {
		assert.Equal(t, 125, *limit)
	}
	assert.Nil(t, CustomLimit(Monthly))
	assert.Nil(t, CustomLimit(Free))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, Annual, Normalize(" Yearly "))
	assert.Equal(t, Weekly, Normalize("weekly"))
	assert.Equal(t, Free, Normalize("trial"))
}

func TestResolveProduct(t *testing.T) {
	mapping := map[string]string{"pro_sub_v2": "annual"}

	assert.Equal(t, Annual, ResolveProduct("PRO_SUB_V2", nil, mapping))
	assert.Equal(t, Weekly, ResolveProduct("app.weekly.499", nil, mapping))
	assert.Equal(t, Annual, ResolveProduct("app.yearly", nil, mapping))
	assert.Equal(t, Monthly, ResolveProduct("app.monthly", nil, mapping))
	assert.Equal(t, Monthly, ResolveProduct("legacy_sku", []string{"premium"}, mapping))
	assert.Equal(t, Free, ResolveProduct("legacy_sku", nil, mapping))
}
