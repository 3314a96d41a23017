package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/SpendPilot/internal/config"
	"github.com/Strob0t/SpendPilot/internal/domain/agent"
	"github.com/Strob0t/SpendPilot/internal/domain/learning"
	"github.com/Strob0t/SpendPilot/internal/port/cache"
)

type signalSpec struct {
	Type        learning.SignalType
	Description string
	Confidence  float64
}

// fraudSignalCatalog is the fixed set of platform-wide fraud heuristics.
var fraudSignalCatalog = []signalSpec{
	{learning.SignalRoundAmount, "Amount is a round multiple of $100", 0.3},
	{learning.SignalWeekendSubmission, "Submitted on a weekend", 0.2},
	{learning.SignalHighFrequency, "More than 5 submissions by one employee within 24 hours", 0.5},
}

const highFrequencyLimit = 5

// LearningService aggregates anonymized outcomes across tenants into
// patterns, fraud signals, benchmarks and insights.
type LearningService struct {
	cfg   config.Learning
	anon  *Anonymizer
	cache cache.Cache
	model PlaceholderModel
	now   func() time.Time
	// epoch is unique per instance; the L2 cache is shared across replicas
	// and restarts while generation counts from zero in each process.
	epoch string

	mu                sync.RWMutex
	observations      []learning.Observation
	patterns          map[string]learning.Pattern
	signals           map[learning.SignalType]learning.FraudSignal
	benchmarks        map[string]learning.Benchmark
	insights          []learning.Insight
	feedbackTotal     int
	feedbackIncorrect int
	generation        uint64
}

// NewLearningService creates the learning service. cache and model may be
// nil; a nil model uses the random placeholder.
func NewLearningService(cfg config.Learning, c cache.Cache, model PlaceholderModel) *LearningService {
	if model == nil {
		model = NewRandomPlaceholder(nil)
	}
	s := &LearningService{
		cfg:        cfg,
		anon:       NewAnonymizer(cfg.AnonymizationKey),
		cache:      c,
		model:      model,
		now:        time.Now,
		epoch:      uuid.NewString(),
		patterns:   make(map[string]learning.Pattern),
		signals:    make(map[learning.SignalType]learning.FraudSignal),
		benchmarks: make(map[string]learning.Benchmark),
	}
	for _, spec := range fraudSignalCatalog {
		s.signals[spec.Type] = learning.FraudSignal{
			Type:        spec.Type,
			Description: spec.Description,
			Confidence:  spec.Confidence,
		}
	}
	return s
}

// IngestFeedback turns feedback carrying its original request into
// anonymized observations and re-aggregates. It returns how many were stored.
func (s *LearningService) IngestFeedback(ctx context.Context, feedbacks []agent.Feedback) int {
	now := s.now()
	obs := make([]learning.Observation, 0, len(feedbacks))
	incorrect := 0
	for i := range feedbacks {
		fb := &feedbacks[i]
		if fb.Request == nil {
			continue
		}
		if fb.ActualOutcome == agent.OutcomeIncorrect {
			incorrect++
		}
		obs = append(obs, s.observe(fb.Request, "", fb.ActualOutcome != agent.OutcomeIncorrect, fb.UserSatisfaction, now))
	}

	s.mu.Lock()
	s.feedbackTotal += len(obs)
	s.feedbackIncorrect += incorrect
	s.observations = append(s.observations, obs...)
	s.aggregateLocked(now)
	s.mu.Unlock()

	slog.InfoContext(ctx, "learning feedback ingested", "count", len(obs))
	return len(obs)
}

// IngestHistory adds a tenant's decided requests as observations.
func (s *LearningService) IngestHistory(ctx context.Context, tenantID string, history []agent.HistoricalRequest) int {
	now := s.now()
	obs := make([]learning.Observation, 0, len(history))
	for i := range history {
		h := &history[i]
		req := &agent.Request{
			TenantID:  tenantID,
			Payload:   agent.Payload{Amount: h.Amount, Category: h.Category, Vendor: h.Vendor, EmployeeID: h.EmployeeID},
			Timestamp: h.SubmittedAt,
		}
		o := s.observe(req, h.Decision, h.Decision == agent.DecisionApprove, 0, now)
		obs = append(obs, o)
	}

	s.mu.Lock()
	s.observations = append(s.observations, obs...)
	s.aggregateLocked(now)
	s.mu.Unlock()

	slog.InfoContext(ctx, "learning history ingested", "count", len(obs))
	return len(obs)
}

func (s *LearningService) observe(req *agent.Request, decision agent.Decision, ok bool, satisfaction int, now time.Time) learning.Observation {
	return learning.Observation{
		TenantHash:   s.anon.Hash(req.TenantID),
		EmployeeHash: s.anon.Hash(req.Payload.EmployeeID),
		Category:     strings.TrimSpace(req.Payload.Category),
		Vendor:       strings.TrimSpace(req.Payload.Vendor),
		Amount:       req.Payload.Amount,
		Decision:     decision,
		Successful:   ok,
		Satisfaction: satisfaction,
		SubmittedAt:  req.SubmittedAt().UTC(),
		IngestedAt:   now.UTC(),
	}
}

// Aggregate purges expired observations and rebuilds every read model.
func (s *LearningService) Aggregate(ctx context.Context) {
	s.mu.Lock()
	s.aggregateLocked(s.now())
	n := len(s.observations)
	s.mu.Unlock()
	slog.DebugContext(ctx, "learning aggregation finished", "observations", n)
}

// aggregateLocked must be called with s.mu held.
func (s *LearningService) aggregateLocked(now time.Time) {
	s.purgeLocked(now)

	prevPatterns := s.patterns
	prevSignals := s.signals
	prevBenchmarks := s.benchmarks

	s.patterns = s.buildPatterns(now)
	s.signals = s.buildSignals(now)
	s.benchmarks = s.buildBenchmarks(now)
	s.generateInsights(now, prevPatterns, prevSignals, prevBenchmarks)
	s.generation++
}

// purgeLocked drops observations past the retention window, then the oldest
// ones beyond the hard cap.
func (s *LearningService) purgeLocked(now time.Time) {
	if s.cfg.Retention > 0 {
		cutoff := now.Add(-s.cfg.Retention)
		s.observations = slices.DeleteFunc(s.observations, func(o learning.Observation) bool {
			return o.SubmittedAt.Before(cutoff)
		})
	}
	if limit := s.cfg.MaxObservations; limit > 0 && len(s.observations) > limit {
		sort.SliceStable(s.observations, func(i, j int) bool {
			return s.observations[i].SubmittedAt.Before(s.observations[j].SubmittedAt)
		})
		s.observations = append(s.observations[:0:0], s.observations[len(s.observations)-limit:]...)
	}
}

func categoryKey(c string) string { return strings.ToLower(strings.TrimSpace(c)) }

func (s *LearningService) buildPatterns(now time.Time) map[string]learning.Pattern {
	minSamples := s.cfg.MinPatternSamples
	if minSamples <= 0 {
		minSamples = 5
	}

	type acc struct {
		name           string
		total, ok      int
		sum, low, high float64
		tenants        map[string]bool
	}
	groups := make(map[string]*acc)
	for i := range s.observations {
		o := &s.observations[i]
		key := categoryKey(o.Category)
		if key == "" {
			continue
		}
		g, found := groups[key]
		if !found {
			g = &acc{name: o.Category, tenants: make(map[string]bool)}
			groups[key] = g
		}
		g.total++
		if !o.Successful {
			continue
		}
		if g.ok == 0 || o.Amount < g.low {
			g.low = o.Amount
		}
		if o.Amount > g.high {
			g.high = o.Amount
		}
		g.ok++
		g.sum += o.Amount
		g.tenants[o.TenantHash] = true
	}

	out := make(map[string]learning.Pattern)
	for key, g := range groups {
		if g.ok < minSamples {
			continue
		}
		tenants := make([]string, 0, len(g.tenants))
		for t := range g.tenants {
			tenants = append(tenants, t)
		}
		sort.Strings(tenants)
		out[key] = learning.Pattern{
			ID:            "pattern." + strings.ReplaceAll(key, " ", "_"),
			Category:      g.name,
			AmountMin:     g.low,
			AmountMax:     g.high,
			AverageAmount: g.sum / float64(g.ok),
			Frequency:     g.ok,
			SuccessRate:   float64(g.ok) / float64(g.total),
			Tenants:       tenants,
			UpdatedAt:     now,
		}
	}
	return out
}

func (s *LearningService) buildSignals(now time.Time) map[learning.SignalType]learning.FraudSignal {
	frequent := s.highFrequencyIndex()
	total := len(s.observations)

	out := make(map[learning.SignalType]learning.FraudSignal, len(fraudSignalCatalog))
	for _, spec := range fraudSignalCatalog {
		matches := 0
		for i := range s.observations {
			o := &s.observations[i]
			var hit bool
			switch spec.Type {
			case learning.SignalRoundAmount:
				hit = isRoundAmount(o.Amount)
			case learning.SignalWeekendSubmission:
				hit = isWeekend(o.SubmittedAt)
			case learning.SignalHighFrequency:
				hit = frequent[i]
			}
			if hit {
				matches++
			}
		}
		sig := learning.FraudSignal{
			Type:         spec.Type,
			Description:  spec.Description,
			Confidence:   spec.Confidence,
			Matches:      matches,
			Observations: total,
			UpdatedAt:    now,
		}
		if total > 0 {
			sig.Frequency = float64(matches) / float64(total)
		}
		out[spec.Type] = sig
	}
	return out
}

// highFrequencyIndex marks observations whose employee submitted more than
// highFrequencyLimit times in the 24 hours up to and including it.
func (s *LearningService) highFrequencyIndex() map[int]bool {
	byEmployee := make(map[string][]int)
	for i := range s.observations {
		if h := s.observations[i].EmployeeHash; h != "" {
			byEmployee[h] = append(byEmployee[h], i)
		}
	}
	out := make(map[int]bool)
	for _, idx := range byEmployee {
		sort.Slice(idx, func(a, b int) bool {
			return s.observations[idx[a]].SubmittedAt.Before(s.observations[idx[b]].SubmittedAt)
		})
		lo := 0
		for hi := range idx {
			at := s.observations[idx[hi]].SubmittedAt
			for at.Sub(s.observations[idx[lo]].SubmittedAt) > 24*time.Hour {
				lo++
			}
			if hi-lo+1 > highFrequencyLimit {
				out[idx[hi]] = true
			}
		}
	}
	return out
}

func (s *LearningService) buildBenchmarks(now time.Time) map[string]learning.Benchmark {
	type acc struct {
		name      string
		amounts   []float64
		ok        int
		companies map[string]bool
	}
	groups := make(map[string]*acc)
	for i := range s.observations {
		o := &s.observations[i]
		key := categoryKey(o.Category)
		if key == "" {
			continue
		}
		g, found := groups[key]
		if !found {
			g = &acc{name: o.Category, companies: make(map[string]bool)}
			groups[key] = g
		}
		g.amounts = append(g.amounts, o.Amount)
		if o.Successful {
			g.ok++
		}
		g.companies[o.TenantHash] = true
	}

	out := make(map[string]learning.Benchmark, len(groups))
	for key, g := range groups {
		n := len(g.amounts)
		var sum float64
		for _, a := range g.amounts {
			sum += a
		}
		out[key] = learning.Benchmark{
			Category:      g.name,
			AverageAmount: sum / float64(n),
			MedianAmount:  median(g.amounts),
			ApprovalRate:  float64(g.ok) / float64(n),
			SampleSize:    n,
			CompanyCount:  len(g.companies),
			UpdatedAt:     now,
		}
	}
	return out
}

// generateInsights appends insights for read-model changes since the last
// pass and keeps only the newest MaxInsights.
func (s *LearningService) generateInsights(
	now time.Time,
	prevPatterns map[string]learning.Pattern,
	prevSignals map[learning.SignalType]learning.FraudSignal,
	prevBenchmarks map[string]learning.Benchmark,
) {
	var fresh []learning.Insight
	add := func(t learning.InsightType, category, title, desc, impact string, confidence float64) {
		fresh = append(fresh, learning.Insight{
			ID:          uuid.New().String(),
			Type:        t,
			Title:       title,
			Description: desc,
			Impact:      impact,
			Confidence:  agent.ClampScore(confidence),
			Category:    category,
			CreatedAt:   now,
		})
	}

	for _, key := range sortedKeys(s.patterns) {
		p := s.patterns[key]
		if _, seen := prevPatterns[key]; !seen {
			add(learning.InsightPattern, p.Category,
				p.Category+" spending pattern",
				fmt.Sprintf("%d successful requests between %s and %s across %d companies (%.0f%% success)",
					p.Frequency, formatMoney(p.AmountMin), formatMoney(p.AmountMax), len(p.Tenants), p.SuccessRate*100),
				"medium", 50+float64(p.Frequency)*2)
		}
		prev, seen := prevPatterns[key]
		if p.SuccessRate >= 0.95 && p.Frequency >= 10 && (!seen || prev.SuccessRate < 0.95 || prev.Frequency < 10) {
			add(learning.InsightOpportunity, p.Category,
				"Automate "+p.Category+" approvals",
				fmt.Sprintf("%.0f%% of %s requests up to %s succeed; they are candidates for automatic approval",
					p.SuccessRate*100, p.Category, formatMoney(p.AmountMax)),
				"high", p.SuccessRate*100)
		}
	}

	for _, spec := range fraudSignalCatalog {
		sig := s.signals[spec.Type]
		prev := prevSignals[spec.Type]
		if sig.Observations >= 20 && sig.Frequency > 0.25 && prev.Frequency <= 0.25 {
			add(learning.InsightFraud, "",
				"Rising fraud signal: "+string(spec.Type),
				fmt.Sprintf("%s in %.0f%% of %d recent requests", sig.Description, sig.Frequency*100, sig.Observations),
				"high", sig.Confidence*100)
		}
	}

	for _, key := range sortedKeys(s.benchmarks) {
		b := s.benchmarks[key]
		prev, seen := prevBenchmarks[key]
		if b.CompanyCount >= 3 && (!seen || prev.CompanyCount < 3) {
			add(learning.InsightBenchmark, b.Category,
				b.Category+" benchmark available",
				fmt.Sprintf("Companies spend %s on average (median %s) per %s request, %.0f%% approved",
					formatMoney(b.AverageAmount), formatMoney(b.MedianAmount), b.Category, b.ApprovalRate*100),
				"low", min(90, 40+float64(b.SampleSize)))
		}
	}

	if len(fresh) == 0 {
		return
	}
	s.insights = append(s.insights, fresh...)
	limit := s.cfg.MaxInsights
	if limit <= 0 {
		limit = 100
	}
	if over := len(s.insights) - limit; over > 0 {
		s.insights = append(s.insights[:0:0], s.insights[over:]...)
	}
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	v := slices.Clone(values)
	slices.Sort(v)
	mid := len(v) / 2
	if len(v)%2 == 0 {
		return (v[mid-1] + v[mid]) / 2
	}
	return v[mid]
}

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
