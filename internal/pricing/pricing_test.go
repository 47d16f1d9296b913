package pricing

import (
	"errors"
	"math"
	"testing"

	"github.com/anotherai-dev/anotherai-sub001/internal/catalog"
	"github.com/anotherai-dev/anotherai-sub001/internal/domain"
)

const perMillion = 1e-6

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-12
}

func TestComputeTextOnly(t *testing.T) {
	usage := &domain.Usage{PromptTokens: 1000, CompletionTokens: 500}
	pricing := &catalog.Pricing{
		PromptPerToken:     2 * perMillion,
		CompletionPerToken: 8 * perMillion,
	}
	if err := Compute(usage, pricing, true); err != nil {
		t.Fatalf("compute: %v", err)
	}
	if !approx(*usage.PromptCostUSD, 1000*2*perMillion) {
		t.Errorf("prompt cost = %v", *usage.PromptCostUSD)
	}
	if !approx(*usage.CompletionCostUSD, 500*8*perMillion) {
		t.Errorf("completion cost = %v", *usage.CompletionCostUSD)
	}
}

func TestComputeNoCostOnUnbilledFailure(t *testing.T) {
	usage := &domain.Usage{PromptTokens: 1000, CompletionTokens: 500}
	pricing := &catalog.Pricing{PromptPerToken: perMillion, CompletionPerToken: perMillion}
	if err := Compute(usage, pricing, false); err != nil {
		t.Fatalf("compute: %v", err)
	}
	if *usage.PromptCostUSD != 0 || *usage.CompletionCostUSD != 0 {
		t.Errorf("unbilled failure must cost zero: %v / %v",
			*usage.PromptCostUSD, *usage.CompletionCostUSD)
	}
}

func TestComputeCachedDiscount(t *testing.T) {
	usage := &domain.Usage{
		PromptTokens:       1000,
		PromptCachedTokens: 400,
		CompletionTokens:   0,
	}
	pricing := &catalog.Pricing{
		PromptPerToken:      10 * perMillion,
		CompletionPerToken:  10 * perMillion,
		CachedTokenDiscount: 0.75,
	}
	if err := Compute(usage, pricing, true); err != nil {
		t.Fatalf("compute: %v", err)
	}
	want := 600*10*perMillion + 400*0.25*10*perMillion
	if !approx(*usage.PromptCostUSD, want) {
		t.Errorf("prompt cost = %v, want %v", *usage.PromptCostUSD, want)
	}
}

func TestComputeTieredRates(t *testing.T) {
	pricing := &catalog.Pricing{
		PromptPerToken:     1.25 * perMillion,
		CompletionPerToken: 10 * perMillion,
		Tiers: []catalog.PriceTier{
			{ThresholdTokens: 200_000, PromptRate: 2.5 * perMillion, CompletionRate: 15 * perMillion},
		},
	}

	under := &domain.Usage{PromptTokens: 100_000, CompletionTokens: 100}
	if err := Compute(under, pricing, true); err != nil {
		t.Fatalf("compute: %v", err)
	}
	if !approx(*under.PromptCostUSD, 100_000*1.25*perMillion) {
		t.Errorf("under-threshold prompt cost = %v", *under.PromptCostUSD)
	}

	over := &domain.Usage{PromptTokens: 300_000, CompletionTokens: 100}
	if err := Compute(over, pricing, true); err != nil {
		t.Fatalf("compute: %v", err)
	}
	if !approx(*over.PromptCostUSD, 300_000*2.5*perMillion) {
		t.Errorf("over-threshold prompt cost = %v", *over.PromptCostUSD)
	}
	if !approx(*over.CompletionCostUSD, 100*15*perMillion) {
		t.Errorf("over-threshold completion cost = %v", *over.CompletionCostUSD)
	}
}

func TestComputeAudioPerSecond(t *testing.T) {
	pricing := &catalog.Pricing{
		PromptPerToken:     perMillion,
		CompletionPerToken: perMillion,
		AudioPerSecond:     0.0001,
	}

	withDuration := &domain.Usage{
		PromptTokens:               100,
		PromptAudioTokens:          50,
		PromptAudioDurationSeconds: 12.5,
	}
	if err := Compute(withDuration, pricing, true); err != nil {
		t.Fatalf("compute: %v", err)
	}
	want := 50*perMillion + 12.5*0.0001 // text tokens + audio seconds
	if !approx(*withDuration.PromptCostUSD, want) {
		t.Errorf("prompt cost = %v, want %v", *withDuration.PromptCostUSD, want)
	}

	// Per-second pricing with no duration cannot be priced.
	missing := &domain.Usage{PromptTokens: 100, PromptAudioTokens: 50}
	err := Compute(missing, pricing, true)
	var unpriceable *UnpriceableError
	if !errors.As(err, &unpriceable) {
		t.Fatalf("expected UnpriceableError, got %v", err)
	}
	if missing.PromptCostUSD != nil {
		t.Error("cost must stay unset on unpriceable runs")
	}
}

func TestComputeAudioPerToken(t *testing.T) {
	pricing := &catalog.Pricing{
		PromptPerToken:     perMillion,
		CompletionPerToken: perMillion,
		AudioPerToken:      40 * perMillion,
	}
	usage := &domain.Usage{PromptTokens: 100, PromptAudioTokens: 60}
	if err := Compute(usage, pricing, true); err != nil {
		t.Fatalf("compute: %v", err)
	}
	want := 40*perMillion + 60*40*perMillion
	if !approx(*usage.PromptCostUSD, want) {
		t.Errorf("prompt cost = %v, want %v", *usage.PromptCostUSD, want)
	}
}

func TestComputeImages(t *testing.T) {
	pricing := &catalog.Pricing{
		PromptPerToken:     perMillion,
		CompletionPerToken: perMillion,
		CostPerImage:       0.001,
		CostPerOutputImage: 0.01,
	}
	usage := &domain.Usage{
		PromptTokens:         10,
		CompletionTokens:     10,
		PromptImageCount:     3,
		CompletionImageCount: 1,
	}
	if err := Compute(usage, pricing, true); err != nil {
		t.Fatalf("compute: %v", err)
	}
	if !approx(*usage.PromptCostUSD, 10*perMillion+3*0.001) {
		t.Errorf("prompt cost = %v", *usage.PromptCostUSD)
	}
	if !approx(*usage.CompletionCostUSD, 10*perMillion+1*0.01) {
		t.Errorf("completion cost = %v", *usage.CompletionCostUSD)
	}

	noImagePrice := &catalog.Pricing{PromptPerToken: perMillion, CompletionPerToken: perMillion}
	err := Compute(&domain.Usage{PromptTokens: 10, PromptImageCount: 1}, noImagePrice, true)
	var unpriceable *UnpriceableError
	if !errors.As(err, &unpriceable) {
		t.Errorf("expected UnpriceableError, got %v", err)
	}
}

func TestTotalCost(t *testing.T) {
	usage := &domain.Usage{PromptTokens: 1000, CompletionTokens: 1000}
	pricing := &catalog.Pricing{PromptPerToken: perMillion, CompletionPerToken: 3 * perMillion}
	if err := Compute(usage, pricing, true); err != nil {
		t.Fatalf("compute: %v", err)
	}
	total := usage.TotalCostUSD()
	if total == nil || !approx(*total, 4000*perMillion) {
		t.Errorf("total = %v", total)
	}
}
