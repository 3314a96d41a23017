package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/Strob0t/SpendPilot/internal/domain/agent"
	"github.com/Strob0t/SpendPilot/internal/domain/learning"
)

// Deviation from the peer benchmark that triggers a recommendation.
const benchmarkDeviationPercent = 20

// Patterns returns the current category patterns sorted by category.
func (s *LearningService) Patterns() []learning.Pattern {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]learning.Pattern, 0, len(s.patterns))
	for _, key := range sortedKeys(s.patterns) {
		out = append(out, s.patterns[key])
	}
	return out
}

// FraudSignals returns the signal catalog with current frequencies.
func (s *LearningService) FraudSignals() []learning.FraudSignal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]learning.FraudSignal, 0, len(fraudSignalCatalog))
	for _, spec := range fraudSignalCatalog {
		out = append(out, s.signals[spec.Type])
	}
	return out
}

// ObservationCount returns how many observations are retained.
func (s *LearningService) ObservationCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.observations)
}

// Benchmarks returns per-category benchmarks keyed by lower-cased category.
// The snapshot is served from the cache when one is configured.
func (s *LearningService) Benchmarks(ctx context.Context) map[string]learning.Benchmark {
	return cachedView(ctx, s, "benchmarks", func() map[string]learning.Benchmark {
		out := make(map[string]learning.Benchmark, len(s.benchmarks))
		for k, v := range s.benchmarks {
			out[k] = v
		}
		return out
	})
}

// Insights returns the retained insights, newest first.
func (s *LearningService) Insights(ctx context.Context) []learning.Insight {
	return cachedView(ctx, s, "insights", func() []learning.Insight {
		out := make([]learning.Insight, 0, len(s.insights))
		for i := len(s.insights) - 1; i >= 0; i-- {
			out = append(out, s.insights[i])
		}
		return out
	})
}

// cachedView returns the read model named view for this instance's current
// generation, building it under the read lock on a cache miss. Cache failures only cost
// a rebuild.
func cachedView[T any](ctx context.Context, s *LearningService, view string, build func() T) T {
	s.mu.RLock()
	gen := s.generation
	if s.cache == nil {
		defer s.mu.RUnlock()
		return build()
	}
	s.mu.RUnlock()

	key := fmt.Sprintf("learning.%s.%s.g%d", s.epoch, view, gen)
	if raw, ok, err := s.cache.Get(ctx, key); err == nil && ok {
		var v T
		if err := json.Unmarshal(raw, &v); err == nil {
			return v
		}
	} else if err != nil {
		slog.DebugContext(ctx, "learning cache get failed", "key", key, "error", err)
	}

	s.mu.RLock()
	v := build()
	s.mu.RUnlock()

	if raw, err := json.Marshal(v); err == nil {
		if err := s.cache.Set(ctx, key, raw, s.cfg.CacheTTL); err != nil {
			slog.DebugContext(ctx, "learning cache set failed", "key", key, "error", err)
		}
	}
	return v
}

// tenantCategorySpend returns the tenant's average amount and request count
// per category, keyed by lower-cased category.
func tenantCategorySpend(actx *agent.Context) map[string]agent.SpendingPattern {
	out := make(map[string]agent.SpendingPattern)
	if actx == nil {
		return out
	}
	for _, h := range actx.History {
		key := categoryKey(h.Category)
		if key == "" {
			continue
		}
		p := out[key]
		p.Category = h.Category
		p.AverageAmount = (p.AverageAmount*float64(p.Count) + h.Amount) / float64(p.Count+1)
		p.Count++
		out[key] = p
	}
	for _, p := range actx.SpendingPatterns {
		key := categoryKey(p.Category)
		if key == "" || p.AverageAmount <= 0 {
			continue
		}
		if p.Count == 0 {
			p.Count = out[key].Count
		}
		out[key] = p
	}
	return out
}

// SpendingRecommendations compares the tenant's category averages with the
// cross-company benchmarks and estimates savings where it spends more.
func (s *LearningService) SpendingRecommendations(ctx context.Context, tenantID string, actx *agent.Context) learning.SpendingReport {
	bench := s.Benchmarks(ctx)
	own := tenantCategorySpend(actx)

	report := learning.SpendingReport{
		Recommendations: []learning.SpendingRecommendation{},
		GeneratedAt:     s.now(),
	}
	for _, key := range sortedKeys(own) {
		mine := own[key]
		b, ok := bench[key]
		if !ok || b.AverageAmount <= 0 || b.CompanyCount < 2 {
			continue
		}
		dev := (mine.AverageAmount - b.AverageAmount) / b.AverageAmount * 100
		rec := learning.SpendingRecommendation{
			Category:         mine.Category,
			CompanyAverage:   mine.AverageAmount,
			BenchmarkAverage: b.AverageAmount,
			DeviationPercent: dev,
		}
		switch {
		case dev > benchmarkDeviationPercent:
			count := max(mine.Count, 1)
			rec.PotentialSavings = (mine.AverageAmount - b.AverageAmount) * float64(count)
			rec.Recommendation = fmt.Sprintf("%s spend is %.0f%% above the peer average of %s; renegotiate or consolidate vendors",
				mine.Category, dev, formatMoney(b.AverageAmount))
		case dev < -benchmarkDeviationPercent:
			rec.Recommendation = fmt.Sprintf("%s spend is %.0f%% below the peer average", mine.Category, -dev)
		default:
			rec.Recommendation = fmt.Sprintf("%s spend is in line with peers", mine.Category)
		}
		report.TotalPotentialSavings += rec.PotentialSavings
		report.Recommendations = append(report.Recommendations, rec)
	}

	slog.DebugContext(ctx, "spending recommendations built",
		"tenant", s.anon.Hash(tenantID),
		"count", len(report.Recommendations),
		"savings", report.TotalPotentialSavings,
	)
	return report
}

// DetectFraudRisk scores req against the signal catalog. Each matched signal
// adds its confidence weight times 100; the platform adjustment adds up to 10
// points from how often the matched signals occur across companies.
func (s *LearningService) DetectFraudRisk(ctx context.Context, tenantID string, req *agent.Request, actx *agent.Context) learning.FraudRisk {
	risk := learning.FraudRisk{MatchedSignals: []learning.SignalType{}}
	if req == nil {
		risk.Level = agent.RiskLow
		risk.Recommendation = "no request supplied"
		return risk
	}

	s.mu.RLock()
	signals := make(map[learning.SignalType]learning.FraudSignal, len(s.signals))
	for k, v := range s.signals {
		signals[k] = v
	}
	s.mu.RUnlock()

	at := req.SubmittedAt()
	var score, platform float64
	for _, spec := range fraudSignalCatalog {
		var hit bool
		switch spec.Type {
		case learning.SignalRoundAmount:
			hit = isRoundAmount(req.Payload.Amount)
		case learning.SignalWeekendSubmission:
			hit = isWeekend(at)
		case learning.SignalHighFrequency:
			if actx != nil && req.Payload.EmployeeID != "" {
				hit = countRecent(actx.History, req.Payload.EmployeeID, at, 24*time.Hour)+1 > highFrequencyLimit
			}
		}
		if !hit {
			continue
		}
		risk.MatchedSignals = append(risk.MatchedSignals, spec.Type)
		score += spec.Confidence * 100
		platform += signals[spec.Type].Frequency
	}
	if n := len(risk.MatchedSignals); n > 0 {
		risk.PlatformAdjustment = platform / float64(n) * 10
	}
	risk.Score = agent.ClampScore(score + risk.PlatformAdjustment)

	switch {
	case risk.Score >= 70:
		risk.Level = agent.RiskCritical
		risk.Recommendation = "block and investigate before any payment"
	case risk.Score >= 50:
		risk.Level = agent.RiskHigh
		risk.Recommendation = "require manual review"
	case risk.Score >= 25:
		risk.Level = agent.RiskMedium
		risk.Recommendation = "request supporting documentation"
	default:
		risk.Level = agent.RiskLow
		risk.Recommendation = "no additional checks needed"
	}

	slog.DebugContext(ctx, "fraud risk scored",
		"tenant", s.anon.Hash(tenantID),
		"request_id", req.ID,
		"score", risk.Score,
		"signals", len(risk.MatchedSignals),
	)
	return risk
}

// VendorOptimizations suggests consolidation or renegotiation for vendors the
// tenant buys from repeatedly, largest estimated savings first.
func (s *LearningService) VendorOptimizations(ctx context.Context, tenantID string, actx *agent.Context) []learning.VendorOptimization {
	out := []learning.VendorOptimization{}
	if actx == nil {
		return out
	}

	type acc struct {
		vendor, category string
		spend            float64
		count            int
	}
	byVendor := make(map[string]*acc)
	for _, h := range actx.History {
		v := strings.TrimSpace(h.Vendor)
		if v == "" {
			continue
		}
		key := strings.ToLower(v)
		a, ok := byVendor[key]
		if !ok {
			a = &acc{vendor: v, category: h.Category}
			byVendor[key] = a
		}
		a.spend += h.Amount
		a.count++
	}

	bench := s.Benchmarks(ctx)
	for _, key := range sortedKeys(byVendor) {
		a := byVendor[key]
		if a.count < 3 && a.spend < 1000 {
			continue
		}
		opt := learning.VendorOptimization{
			Vendor:           a.vendor,
			Category:         a.category,
			Spend:            a.spend,
			Transactions:     a.count,
			EstimatedSavings: a.spend * s.model.VendorSavingsRate(),
		}
		avg := a.spend / float64(a.count)
		if b, ok := bench[categoryKey(a.category)]; ok && b.AverageAmount > 0 && avg > b.AverageAmount*1.2 {
			opt.Suggestion = fmt.Sprintf("Average %s order %s exceeds the peer average of %s; renegotiate pricing",
				a.vendor, formatMoney(avg), formatMoney(b.AverageAmount))
		} else if a.count >= 3 {
			opt.Suggestion = fmt.Sprintf("%d purchases from %s; negotiate a volume discount", a.count, a.vendor)
		} else {
			opt.Suggestion = fmt.Sprintf("High spend with %s; compare alternative vendors", a.vendor)
		}
		out = append(out, opt)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].EstimatedSavings > out[j].EstimatedSavings })

	slog.DebugContext(ctx, "vendor optimizations built", "tenant", s.anon.Hash(tenantID), "count", len(out))
	return out
}

// PredictiveInsights projects next month's spend and summarises risks and
// opportunities for the tenant.
func (s *LearningService) PredictiveInsights(ctx context.Context, tenantID string, actx *agent.Context) learning.Prediction {
	if actx == nil {
		actx = &agent.Context{}
	}
	pred := learning.Prediction{
		SavingsOpportunities:    []string{},
		AutomationOpportunities: []string{},
	}

	var monthly float64
	for _, p := range actx.SpendingPatterns {
		monthly += p.MonthlyTotal
	}
	if monthly == 0 {
		monthly = actx.Budget.Spent
	}
	pred.NextMonthSpend = monthly * s.model.SpendGrowth()
	pred.Confidence = agent.ClampScore(s.model.PredictionConfidence())

	s.mu.RLock()
	var weighted, weights float64
	for _, sig := range s.signals {
		weighted += sig.Frequency * sig.Confidence
		weights += sig.Confidence
	}
	patterns := make([]learning.Pattern, 0, len(s.patterns))
	for _, key := range sortedKeys(s.patterns) {
		patterns = append(patterns, s.patterns[key])
	}
	s.mu.RUnlock()
	if weights > 0 {
		pred.FraudRisk = agent.ClampScore(weighted / weights * 100)
	}

	switch remaining := actx.Budget.Remaining; {
	case actx.Budget.Total <= 0:
	case remaining <= 0:
		pred.BudgetOverrunRisk = 100
	default:
		pred.BudgetOverrunRisk = agent.ClampScore(pred.NextMonthSpend / remaining * 50)
	}

	for _, rec := range s.SpendingRecommendations(ctx, tenantID, actx).Recommendations {
		if rec.PotentialSavings > 0 {
			pred.SavingsOpportunities = append(pred.SavingsOpportunities,
				fmt.Sprintf("%s: save up to %s", rec.Category, formatMoney(rec.PotentialSavings)))
		}
	}
	own := tenantCategorySpend(actx)
	for _, p := range patterns {
		if _, ok := own[categoryKey(p.Category)]; !ok || p.SuccessRate < 0.9 {
			continue
		}
		pred.AutomationOpportunities = append(pred.AutomationOpportunities,
			fmt.Sprintf("Auto-approve %s requests up to %s (%.0f%% success across companies)",
				p.Category, formatMoney(p.AmountMax), p.SuccessRate*100))
	}
	return pred
}
