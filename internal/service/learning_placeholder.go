package service

import (
	"math/rand/v2"
	"sync"
)

// PlaceholderModel supplies the analytics that have no real algorithm yet.
// Results from it are estimates, not learned values.
type PlaceholderModel interface {
	// SpendGrowth returns the month-over-month spend factor.
	SpendGrowth() float64
	// PredictionConfidence returns the confidence (0-100) reported with predictions.
	PredictionConfidence() float64
	// VendorSavingsRate returns the share of vendor spend assumed negotiable.
	VendorSavingsRate() float64
}

// randomPlaceholder draws placeholder values from bounded random ranges.
type randomPlaceholder struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomPlaceholder creates the default placeholder model. A nil rng uses
// a randomly seeded generator.
func NewRandomPlaceholder(rng *rand.Rand) PlaceholderModel {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &randomPlaceholder{rng: rng}
}

func (p *randomPlaceholder) float() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng.Float64()
}

func (p *randomPlaceholder) SpendGrowth() float64 { return 0.95 + p.float()*0.15 }

func (p *randomPlaceholder) PredictionConfidence() float64 { return 70 + p.float()*20 }

func (p *randomPlaceholder) VendorSavingsRate() float64 { return 0.05 + p.float()*0.1 }

// FixedPlaceholder returns constant placeholder values.
type FixedPlaceholder struct {
	Growth     float64
	Confidence float64
	Savings    float64
}

func (f FixedPlaceholder) SpendGrowth() float64          { return f.Growth }
func (f FixedPlaceholder) PredictionConfidence() float64 { return f.Confidence }
func (f FixedPlaceholder) VendorSavingsRate() float64    { return f.Savings }
