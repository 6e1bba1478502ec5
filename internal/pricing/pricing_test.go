package pricing

import (
	"math"
	"testing"
)

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestCalculateCost(t *testing.T) {
	p := ModelPricing{InputPrice: 0.001, OutputPrice: 0.002}
	if got := p.CalculateCost(1000, 500); !approxEqual(got, 0.002) {
		t.Errorf("CalculateCost(1000, 500) = %f, want 0.002", got)
	}
	if got := p.CalculateCost(0, 0); got != 0 {
		t.Errorf("zero tokens should cost zero, got %f", got)
	}
}

func TestGetPricingExactMatch(t *testing.T) {
	p := GetPricing("gpt-4o")
	if p == nil {
		t.Fatal("gpt-4o should be priced")
	}
	if p.InputPrice != 0.0025 || p.OutputPrice != 0.01 {
		t.Errorf("gpt-4o prices = %f/%f, want 0.0025/0.01", p.InputPrice, p.OutputPrice)
	}
}

func TestGetPricingVersionedName(t *testing.T) {
	p := GetPricing("gpt-4o-2024-05-01")
	if p == nil || p.InputPrice != 0.0025 {
		t.Errorf("versioned name should resolve to gpt-4o, got %+v", p)
	}
}

func TestGetPricingLongestPrefixWins(t *testing.T) {
	// gpt-4o-mini-2024-07-18 must match gpt-4o-mini, not gpt-4o.
	p := GetPricing("gpt-4o-mini-2024-07-18")
	if p == nil || p.InputPrice != 0.00015 {
		t.Errorf("want gpt-4o-mini pricing, got %+v", p)
	}

	p = GetPricing("claude-3-5-sonnet-20241022")
	if p == nil || p.InputPrice != 0.003 {
		t.Errorf("want claude-3-5-sonnet pricing, got %+v", p)
	}
}

func TestGetPricingProviderPrefix(t *testing.T) {
	p := GetPricing("openai/gpt-4o")
	if p == nil || p.InputPrice != 0.0025 {
		t.Errorf("provider-prefixed name should resolve, got %+v", p)
	}
	p = GetPricing("openai/gpt-4o-2024-05-01")
	if p == nil || p.InputPrice != 0.0025 {
		t.Errorf("provider-prefixed versioned name should resolve, got %+v", p)
	}
}

func TestGetPricingUnknown(t *testing.T) {
	if p := GetPricing("unknown-model-xyz"); p != nil {
		t.Errorf("unknown model should have no pricing, got %+v", p)
	}
}

func TestEstimateCostKnown(t *testing.T) {
	cost := EstimateCost("gpt-4o-mini", 1000, 500)
	if cost == nil || !approxEqual(*cost, 0.00045) {
		t.Errorf("gpt-4o-mini 1000/500 = %v, want 0.00045", cost)
	}

	cost = EstimateCost("claude-3-opus", 5000, 1000)
	if cost == nil || !approxEqual(*cost, 0.15) {
		t.Errorf("claude-3-opus 5000/1000 = %v, want 0.15", cost)
	}
}

func TestEstimateCostUnknownIsNil(t *testing.T) {
	if cost := EstimateCost("unknown-model", 1000, 500); cost != nil {
		t.Errorf("unknown model cost should be nil, got %v", *cost)
	}
}

func TestSumCostsNilPropagates(t *testing.T) {
	a, b := 0.1, 0.2
	total := SumCosts([]*float64{&a, &b})
	if total == nil || !approxEqual(*total, 0.3) {
		t.Errorf("sum = %v, want 0.3", total)
	}

	total = SumCosts([]*float64{&a, nil, &b})
	if total != nil {
		t.Errorf("any nil event cost must make the total nil, got %v", *total)
	}
}

func TestFormatCost(t *testing.T) {
	cases := []struct {
		in   *float64
		want string
	}{
		{nil, "unknown"},
		{floatPtr(0.0025), "$0.0025"},
		{floatPtr(0.00015), "$0.0001"},
		{floatPtr(0.01), "$0.01"},
		{floatPtr(0.15), "$0.15"},
		{floatPtr(1.234), "$1.23"},
		{floatPtr(0.0), "$0.0000"},
	}
	for _, tc := range cases {
		if got := FormatCost(tc.in); got != tc.want {
			t.Errorf("FormatCost(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestAllPricesPositive(t *testing.T) {
	for model, p := range ModelPrices {
		if p.InputPrice <= 0 || p.OutputPrice <= 0 {
			t.Errorf("%s has non-positive price %+v", model, p)
		}
	}
}

func TestApproxTokensFallback(t *testing.T) {
	if n := approxTokens("abcdefgh"); n != 2 {
		t.Errorf("approxTokens(8 chars) = %d, want 2", n)
	}
	if n := approxTokens("a"); n != 1 {
		t.Errorf("short non-empty text should estimate at least one token, got %d", n)
	}
	if n := approxTokens(""); n != 0 {
		t.Errorf("empty text = %d tokens, want 0", n)
	}
}

func floatPtr(f float64) *float64 { return &f }
