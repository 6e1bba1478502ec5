// Package pricing estimates provider spend from token usage. Prices are
// per 1K tokens in USD. Unknown models estimate to nil so totals can
// distinguish "free" from "unpriced".
package pricing

import (
	"fmt"
	"sort"
	"strings"
)

// ModelPricing holds per-1K-token prices for one model family.
type ModelPricing struct {
	InputPrice  float64
	OutputPrice float64
}

// CalculateCost returns the USD cost of a single call.
func (p ModelPricing) CalculateCost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1000*p.InputPrice + float64(outputTokens)/1000*p.OutputPrice
}

// ModelPrices maps model family names to their prices. Versioned model
// names resolve by longest prefix, so "gpt-4o-2024-05-01" finds "gpt-4o".
var ModelPrices = map[string]ModelPricing{
	// OpenAI
	"gpt-4o":        {InputPrice: 0.0025, OutputPrice: 0.01},
	"gpt-4o-mini":   {InputPrice: 0.00015, OutputPrice: 0.0006},
	"gpt-4-turbo":   {InputPrice: 0.01, OutputPrice: 0.03},
	"gpt-4":         {InputPrice: 0.03, OutputPrice: 0.06},
	"gpt-3.5-turbo": {InputPrice: 0.0005, OutputPrice: 0.0015},

	// Anthropic
	"claude-3-5-sonnet": {InputPrice: 0.003, OutputPrice: 0.015},
	"claude-3-5-haiku":  {InputPrice: 0.0008, OutputPrice: 0.004},
	"claude-3-opus":     {InputPrice: 0.015, OutputPrice: 0.075},
	"claude-3-sonnet":   {InputPrice: 0.003, OutputPrice: 0.015},
	"claude-3-haiku":    {InputPrice: 0.00025, OutputPrice: 0.00125},

	// Google
	"gemini-1.5-pro":   {InputPrice: 0.00125, OutputPrice: 0.005},
	"gemini-1.5-flash": {InputPrice: 0.000075, OutputPrice: 0.0003},

	// Mistral
	"mistral-large": {InputPrice: 0.002, OutputPrice: 0.006},
	"mistral-small": {InputPrice: 0.0002, OutputPrice: 0.0006},
	"mixtral-8x7b":  {InputPrice: 0.0007, OutputPrice: 0.0007},
}

// GetPricing resolves a model name to its price entry. It strips provider
// routing prefixes ("openai/gpt-4o") and matches versioned names by longest
// known prefix. Returns nil for unknown models.
func GetPricing(model string) *ModelPricing {
	if idx := strings.LastIndex(model, "/"); idx >= 0 {
		model = model[idx+1:]
	}

	if p, ok := ModelPrices[model]; ok {
		return &p
	}

	// Longest prefix wins so "claude-3-5-sonnet-20241022" matches
	// "claude-3-5-sonnet", not "claude-3-5".
	var best string
	for name := range ModelPrices {
		if strings.HasPrefix(model, name) && len(name) > len(best) {
			best = name
		}
	}
	if best == "" {
		return nil
	}
	p := ModelPrices[best]
	return &p
}

// EstimateCost estimates the USD cost of one call, or nil when the model
// has no pricing entry.
func EstimateCost(model string, inputTokens, outputTokens int) *float64 {
	p := GetPricing(model)
	if p == nil {
		return nil
	}
	cost := p.CalculateCost(inputTokens, outputTokens)
	return &cost
}

// SumCosts totals per-event cost estimates. The total is nil if any event
// cost is nil, so a partially unpriced trajectory never reports a
// misleadingly low spend.
func SumCosts(costs []*float64) *float64 {
	total := 0.0
	for _, c := range costs {
		if c == nil {
			return nil
		}
		total += *c
	}
	return &total
}

// FormatCost renders a cost for logs. Sub-cent amounts keep four decimals.
func FormatCost(cost *float64) string {
	if cost == nil {
		return "unknown"
	}
	if *cost < 0.01 {
		return fmt.Sprintf("$%.4f", *cost)
	}
	return fmt.Sprintf("$%.2f", *cost)
}

// KnownModels returns all priced model families sorted, for CLI listings.
func KnownModels() []string {
	names := make([]string, 0, len(ModelPrices))
	for name := range ModelPrices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
