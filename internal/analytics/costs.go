package analytics

import "strings"

// localProvider serves models from the bundled sidecar; its inference is
// free.
const localProvider = "ollama"

// Pricing is the per-million-token rate for one model family.
type Pricing struct {
	PromptUSD     float64
	CompletionUSD float64
}

// defaultPricing maps model-name prefixes to published list prices in
// USD per million tokens. Longest prefix wins, so "gpt-4o-mini" takes
// its own rate instead of "gpt-4o"'s.
var defaultPricing = map[string]Pricing{
	"gpt-4o":            {PromptUSD: 2.50, CompletionUSD: 10.00},
	"gpt-4o-mini":       {PromptUSD: 0.15, CompletionUSD: 0.60},
	"gpt-4.1":           {PromptUSD: 2.00, CompletionUSD: 8.00},
	"gpt-4.1-mini":      {PromptUSD: 0.40, CompletionUSD: 1.60},
	"claude-opus-4":     {PromptUSD: 15.00, CompletionUSD: 75.00},
	"claude-sonnet-4":   {PromptUSD: 3.00, CompletionUSD: 15.00},
	"claude-3-5-sonnet": {PromptUSD: 3.00, CompletionUSD: 15.00},
	"claude-3-5-haiku":  {PromptUSD: 0.80, CompletionUSD: 4.00},
	"gemini-2.0-flash":  {PromptUSD: 0.10, CompletionUSD: 0.40},
	"gemini-1.5-pro":    {PromptUSD: 1.25, CompletionUSD: 5.00},
	"gemini-1.5-flash":  {PromptUSD: 0.075, CompletionUSD: 0.30},
	"grok-2":            {PromptUSD: 2.00, CompletionUSD: 10.00},
}

// CostModel prices LLM calls from a static prefix table. Models served
// by the local sidecar and models the table does not know cost zero.
type CostModel struct {
	table map[string]Pricing
}

// NewCostModel builds a model over the given table, or the built-in
// defaults when nil.
func NewCostModel(table map[string]Pricing) *CostModel {
	if table == nil {
		table = defaultPricing
	}
	return &CostModel{table: table}
}

// Cost returns the estimated USD cost of one call.
func (c *CostModel) Cost(provider, model string, promptTokens, completionTokens int) float64 {
	if provider == "" || provider == localProvider {
		return 0
	}
	pricing, ok := c.lookup(model)
	if !ok {
		return 0
	}
	return float64(promptTokens)/1e6*pricing.PromptUSD +
		float64(completionTokens)/1e6*pricing.CompletionUSD
}

// Rate exposes the matched pricing for a model, if any.
func (c *CostModel) Rate(model string) (Pricing, bool) {
	return c.lookup(model)
}

func (c *CostModel) lookup(model string) (Pricing, bool) {
	model = strings.ToLower(model)
	var (
		best      Pricing
		bestLen   = -1
		foundBest bool
	)
	for prefix, pricing := range c.table {
		if strings.HasPrefix(model, prefix) && len(prefix) > bestLen {
			best = pricing
			bestLen = len(prefix)
			foundBest = true
		}
	}
	return best, foundBest
}
