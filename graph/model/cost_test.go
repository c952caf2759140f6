package model

import (
	"math"
	"sync"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestEstimateCost(t *testing.T) {
	tests := []struct {
		model string
		usage Usage
		want  float64
		ok    bool
	}{
		{"gpt-4o", Usage{InputTokens: 1_000_000, OutputTokens: 1_000_000}, 12.50, true},
		{"gpt-4o-mini", Usage{InputTokens: 1_000_000}, 0.15, true},
		{"claude-sonnet-4-20250514", Usage{InputTokens: 1000, OutputTokens: 500}, 0.0105, true},
		{"models/gemini-2.5-flash", Usage{OutputTokens: 2_000_000}, 5.00, true},
		{"unknown-model", Usage{InputTokens: 1000}, 0, false},
	}
	for _, tt := range tests {
		got, ok := EstimateCost(tt.model, tt.usage)
		if ok != tt.ok || !almostEqual(got, tt.want) {
			t.Errorf("EstimateCost(%s) = %v, %v; want %v, %v", tt.model, got, ok, tt.want, tt.ok)
		}
	}
}

func TestSetPricing(t *testing.T) {
	SetPricing("local-test-model", Pricing{InputPer1M: 1, OutputPer1M: 2})
	got, ok := EstimateCost("local-test-model-v2", Usage{InputTokens: 1_000_000, OutputTokens: 1_000_000})
	if !ok || !almostEqual(got, 3) {
		t.Errorf("custom pricing = %v, %v", got, ok)
	}
}

func TestCostTracker(t *testing.T) {
	ct := NewCostTracker()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ct.Record("gpt-4o", Usage{InputTokens: 100_000, OutputTokens: 10_000})
		}()
	}
	wg.Wait()
	ct.Record("mystery", Usage{InputTokens: 5})

	if !almostEqual(ct.Total(), 3.5) {
		t.Errorf("Total = %v, want 3.5", ct.Total())
	}
	in, out := ct.Tokens()
	if in != 1_000_005 || out != 100_000 {
		t.Errorf("Tokens = %d, %d", in, out)
	}
	if byModel := ct.ByModel(); byModel["mystery"] != 0 || !almostEqual(byModel["gpt-4o"], 3.5) {
		t.Errorf("ByModel = %v", byModel)
	}
}
