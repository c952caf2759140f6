package model

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Pricing defines input and output token costs for a model.
// Prices are in USD per 1M tokens.
type Pricing struct {
	InputPer1M  float64
	OutputPer1M float64
}

// Static pricing for the models the router serves. Keys are matched as
// name prefixes, longest first, so dated snapshots such as
// "claude-sonnet-4-20250514" share their family's price.
//
// Note: Prices subject to change. Update this map as providers adjust pricing.
var defaultPricing = map[string]Pricing{
	// Google Gemini
	"gemini-3-pro":          {InputPer1M: 2.00, OutputPer1M: 12.00},
	"gemini-3-flash":        {InputPer1M: 0.50, OutputPer1M: 3.00},
	"gemini-2.5-pro":        {InputPer1M: 1.25, OutputPer1M: 10.00},
	"gemini-2.5-flash":      {InputPer1M: 0.30, OutputPer1M: 2.50},
	"gemini-2.5-flash-lite": {InputPer1M: 0.10, OutputPer1M: 0.40},
	"gemini-2.0-flash":      {InputPer1M: 0.10, OutputPer1M: 0.40},
	"gemini-1.5-pro":        {InputPer1M: 1.25, OutputPer1M: 5.00},
	"gemini-1.5-flash":      {InputPer1M: 0.075, OutputPer1M: 0.30},

	// Anthropic Claude
	"claude-opus-4":     {InputPer1M: 15.00, OutputPer1M: 75.00},
	"claude-sonnet-4":   {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-haiku-4":    {InputPer1M: 1.00, OutputPer1M: 5.00},
	"claude-3-5-sonnet": {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-5-haiku":  {InputPer1M: 0.80, OutputPer1M: 4.00},
	"claude-3-opus":     {InputPer1M: 15.00, OutputPer1M: 75.00},
	"claude-3-haiku":    {InputPer1M: 0.25, OutputPer1M: 1.25},

	// OpenAI
	"gpt-4o":        {InputPer1M: 2.50, OutputPer1M: 10.00},
	"gpt-4o-mini":   {InputPer1M: 0.15, OutputPer1M: 0.60},
	"gpt-4.1":       {InputPer1M: 2.00, OutputPer1M: 8.00},
	"gpt-4.1-mini":  {InputPer1M: 0.40, OutputPer1M: 1.60},
	"gpt-4-turbo":   {InputPer1M: 10.00, OutputPer1M: 30.00},
	"gpt-3.5-turbo": {InputPer1M: 0.50, OutputPer1M: 1.50},
	"o3-mini":       {InputPer1M: 1.10, OutputPer1M: 4.40},
}

var (
	pricingMu sync.RWMutex
	pricing   = clonePricing(defaultPricing)
)

func clonePricing(src map[string]Pricing) map[string]Pricing {
	out := make(map[string]Pricing, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// SetPricing overrides or adds the price of a model family.
// Useful for custom deployments, enterprise pricing, or price updates.
func SetPricing(modelPrefix string, p Pricing) {
	pricingMu.Lock()
	defer pricingMu.Unlock()
	pricing[strings.ToLower(modelPrefix)] = p
}

// LookupPricing returns the price of the longest known prefix of modelName.
func LookupPricing(modelName string) (Pricing, bool) {
	m := strings.ToLower(strings.TrimPrefix(modelName, "models/"))

	pricingMu.RLock()
	defer pricingMu.RUnlock()

	best := ""
	for prefix := range pricing {
		if strings.HasPrefix(m, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return Pricing{}, false
	}
	return pricing[best], true
}

// EstimateCost returns the USD cost of usage on modelName. The boolean is
// false when the model has no known price.
//
// Calculation: (inputTokens * inputPrice + outputTokens * outputPrice) / 1M
func EstimateCost(modelName string, usage Usage) (float64, bool) {
	p, ok := LookupPricing(modelName)
	if !ok {
		return 0, false
	}
	in := float64(usage.InputTokens) / 1_000_000.0 * p.InputPer1M
	out := float64(usage.OutputTokens) / 1_000_000.0 * p.OutputPer1M
	return in + out, true
}

// CostTracker accumulates token usage and estimated cost across the LLM
// calls of one scope run. Safe for concurrent use.
type CostTracker struct {
	mu           sync.Mutex
	total        float64
	byModel      map[string]float64
	inputTokens  int
	outputTokens int
	calls        int
}

// NewCostTracker creates an empty tracker.
func NewCostTracker() *CostTracker {
	return &CostTracker{byModel: make(map[string]float64)}
}

// Record adds one call and returns its estimated cost. Calls on models
// without a known price count toward tokens but not cost.
func (ct *CostTracker) Record(modelName string, usage Usage) float64 {
	cost, _ := EstimateCost(modelName, usage)

	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.calls++
	ct.total += cost
	ct.byModel[modelName] += cost
	ct.inputTokens += usage.InputTokens
	ct.outputTokens += usage.OutputTokens
	return cost
}

// Total returns the cumulative estimated cost in USD.
func (ct *CostTracker) Total() float64 {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return ct.total
}

// Tokens returns cumulative input and output tokens.
func (ct *CostTracker) Tokens() (input, output int) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return ct.inputTokens, ct.outputTokens
}

// ByModel returns a copy of the per-model cost breakdown.
func (ct *CostTracker) ByModel() map[string]float64 {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	out := make(map[string]float64, len(ct.byModel))
	for k, v := range ct.byModel {
		out[k] = v
	}
	return out
}

// String returns a human-readable summary.
func (ct *CostTracker) String() string {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	models := make([]string, 0, len(ct.byModel))
	for m := range ct.byModel {
		models = append(models, m)
	}
	sort.Strings(models)
	return fmt.Sprintf("CostTracker{Calls: %d, TotalCost: $%.4f, InputTokens: %d, OutputTokens: %d, Models: %s}",
		ct.calls, ct.total, ct.inputTokens, ct.outputTokens, strings.Join(models, ","))
}
