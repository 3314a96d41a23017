package service_test

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/SpendPilot/internal/config"
	"github.com/Strob0t/SpendPilot/internal/domain/agent"
	"github.com/Strob0t/SpendPilot/internal/domain/learning"
	"github.com/Strob0t/SpendPilot/internal/service"
)

// mapCache is an in-memory cache.Cache that counts hits.
type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
	hits int
	sets int
}

func newMapCache() *mapCache { return &mapCache{data: make(map[string][]byte)} }

func (c *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	if ok {
		c.hits++
	}
	return v, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	c.data[key] = value
	return nil
}

func (c *mapCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func learningConfig() config.Learning {
	cfg := config.Defaults().Learning
	cfg.AnonymizationKey = "test-key"
	return cfg
}

// recentDay returns the most recent past day with the given weekday at 10:00 UTC.
func recentDay(wd time.Weekday) time.Time {
	d := time.Now().UTC().AddDate(0, 0, -1)
	d = time.Date(d.Year(), d.Month(), d.Day(), 10, 0, 0, 0, time.UTC)
	for d.Weekday() != wd {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

func history(category string, amount float64, n int, at time.Time) []agent.HistoricalRequest {
	out := make([]agent.HistoricalRequest, n)
	for i := range out {
		out[i] = agent.HistoricalRequest{
			ID:          fmt.Sprintf("%s-%d", category, i),
			Category:    category,
			Amount:      amount,
			EmployeeID:  fmt.Sprintf("emp-%d", i),
			Decision:    agent.DecisionApprove,
			SubmittedAt: at.Add(time.Duration(i) * time.Minute),
		}
	}
	return out
}

func TestAnonymizer(t *testing.T) {
	a := service.NewAnonymizer("key-1")
	b := service.NewAnonymizer("key-2")

	h := a.Hash("tenant-42")
	if len(h) != 32 || strings.Contains(h, "tenant") {
		t.Fatalf("hash = %q", h)
	}
	if a.Hash("tenant-42") != h {
		t.Error("hash must be deterministic")
	}
	if b.Hash("tenant-42") == h {
		t.Error("hash must depend on the key")
	}
	if a.Hash("") != "" {
		t.Error("empty id stays empty")
	}
	long := service.NewAnonymizer(strings.Repeat("k", 100))
	if long.Hash("x") == "" {
		t.Error("oversized keys are truncated, not rejected")
	}
}

func TestLearning_PatternNeedsFiveSuccesses(t *testing.T) {
	ls := service.NewLearningService(learningConfig(), nil, service.FixedPlaceholder{})
	at := recentDay(time.Wednesday)

	ls.IngestHistory(context.Background(), "tenant-1", history("Software", 120, 4, at))
	if n := len(ls.Patterns()); n != 0 {
		t.Fatalf("patterns = %d, want none below five successes", n)
	}

	ls.IngestHistory(context.Background(), "tenant-2", history("Software", 180, 1, at))
	patterns := ls.Patterns()
	if len(patterns) != 1 {
		t.Fatalf("patterns = %d, want 1", len(patterns))
	}
	p := patterns[0]
	if p.Frequency != 5 || p.AmountMin != 120 || p.AmountMax != 180 || p.SuccessRate != 1 {
		t.Errorf("pattern = %+v", p)
	}
	if len(p.Tenants) != 2 {
		t.Fatalf("tenants = %v", p.Tenants)
	}
	for _, tenant := range p.Tenants {
		if strings.HasPrefix(tenant, "tenant-") {
			t.Errorf("tenant id %q stored without anonymization", tenant)
		}
	}
}

func TestLearning_FraudSignalFrequencies(t *testing.T) {
	ls := service.NewLearningService(learningConfig(), nil, service.FixedPlaceholder{})
	at := recentDay(time.Wednesday)

	var hist []agent.HistoricalRequest
	hist = append(hist, history("Travel", 200, 1, at)...)
	hist = append(hist, history("Travel", 300, 1, at)...)
	hist = append(hist, history("Travel", 150, 1, at)...)
	hist = append(hist, history("Travel", 275, 1, at)...)
	ls.IngestHistory(context.Background(), "tenant-1", hist)

	for _, sig := range ls.FraudSignals() {
		switch sig.Type {
		case learning.SignalRoundAmount:
			if sig.Matches != 2 || sig.Frequency != 0.5 {
				t.Errorf("round amount = %+v", sig)
			}
		case learning.SignalWeekendSubmission:
			if sig.Matches != 0 {
				t.Errorf("weekend = %+v", sig)
			}
		}
	}
}

func TestLearning_HighFrequencySignal(t *testing.T) {
	ls := service.NewLearningService(learningConfig(), nil, service.FixedPlaceholder{})
	at := recentDay(time.Tuesday)

	hist := history("Meals", 42, 7, at)
	for i := range hist {
		hist[i].EmployeeID = "emp-busy"
	}
	ls.IngestHistory(context.Background(), "tenant-1", hist)

	for _, sig := range ls.FraudSignals() {
		if sig.Type == learning.SignalHighFrequency && sig.Matches != 2 {
			t.Errorf("high frequency matches = %d, want 2 (6th and 7th submission)", sig.Matches)
		}
	}
}

func TestLearning_RetentionAndCap(t *testing.T) {
	cfg := learningConfig()
	cfg.MaxObservations = 3
	ls := service.NewLearningService(cfg, nil, service.FixedPlaceholder{})

	old := time.Now().AddDate(0, 0, -120)
	ls.IngestHistory(context.Background(), "tenant-1", history("Meals", 20, 2, old))
	if n := ls.ObservationCount(); n != 0 {
		t.Fatalf("observations past retention = %d, want 0", n)
	}

	ls.IngestHistory(context.Background(), "tenant-1", history("Meals", 20, 5, recentDay(time.Monday)))
	if n := ls.ObservationCount(); n != 3 {
		t.Fatalf("observations = %d, want capped at 3", n)
	}
}

func TestLearning_InsightsCapped(t *testing.T) {
	cfg := learningConfig()
	cfg.MaxInsights = 2
	ls := service.NewLearningService(cfg, nil, service.FixedPlaceholder{})
	at := recentDay(time.Thursday)

	var hist []agent.HistoricalRequest
	for _, c := range []string{"Meals", "Software", "Travel", "Training"} {
		hist = append(hist, history(c, 75, 5, at)...)
	}
	ls.IngestHistory(context.Background(), "tenant-1", hist)

	insights := ls.Insights(context.Background())
	if len(insights) != 2 {
		t.Fatalf("insights = %d, want 2", len(insights))
	}
	if insights[0].Type != learning.InsightPattern {
		t.Errorf("type = %s", insights[0].Type)
	}
	if st := ls.Stats(); st.Insights != 2 || st.Patterns != 4 {
		t.Errorf("stats = %+v", st)
	}
}

func TestLearning_IngestFeedback(t *testing.T) {
	ls := service.NewLearningService(learningConfig(), nil, service.FixedPlaceholder{})
	req := purchase("r1", 90, "Meals", "team lunch")
	req.Timestamp = time.Now()

	n := ls.IngestFeedback(context.Background(), []agent.Feedback{
		{RequestID: "r1", Request: req, ActualOutcome: agent.OutcomeIncorrect, UserSatisfaction: 2},
		{RequestID: "r2", ActualOutcome: agent.OutcomeCorrect, UserSatisfaction: 5},
	})
	if n != 1 {
		t.Fatalf("ingested = %d, want 1 (feedback without request is skipped)", n)
	}
	if st := ls.Stats(); st.FeedbackReceived != 1 || st.FeedbackAccuracy != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestDetectFraudRisk(t *testing.T) {
	ls := service.NewLearningService(learningConfig(), nil, service.FixedPlaceholder{})
	weekday := recentDay(time.Wednesday)
	saturday := recentDay(time.Saturday)

	busy := make([]agent.HistoricalRequest, 5)
	for i := range busy {
		busy[i] = agent.HistoricalRequest{ID: fmt.Sprintf("h%d", i), EmployeeID: "emp-1", Amount: 10,
			SubmittedAt: saturday.Add(-time.Duration(i+1) * time.Hour)}
	}

	tests := []struct {
		name    string
		amount  float64
		at      time.Time
		hist    []agent.HistoricalRequest
		score   float64
		level   agent.RiskLevel
		signals int
	}{
		{"clean", 87, weekday, nil, 0, agent.RiskLow, 0},
		{"round amount", 500, weekday, nil, 30, agent.RiskMedium, 1},
		{"weekend", 87, saturday, nil, 20, agent.RiskLow, 1},
		{"everything", 500, saturday, busy, 100, agent.RiskCritical, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := purchase("r", tt.amount, "Software", "license")
			req.Timestamp = tt.at
			risk := ls.DetectFraudRisk(context.Background(), "tenant-1", req, &agent.Context{History: tt.hist})
			if math.Abs(risk.Score-tt.score) > 1e-9 || risk.Level != tt.level || len(risk.MatchedSignals) != tt.signals {
				t.Fatalf("risk = %+v", risk)
			}
		})
	}
}

func TestDetectFraudRisk_PlatformAdjustment(t *testing.T) {
	ls := service.NewLearningService(learningConfig(), nil, service.FixedPlaceholder{})
	at := recentDay(time.Wednesday)
	var hist []agent.HistoricalRequest
	hist = append(hist, history("Travel", 200, 1, at)...)
	hist = append(hist, history("Travel", 150, 1, at)...)
	ls.IngestHistory(context.Background(), "tenant-9", hist)

	req := purchase("r", 400, "Travel", "flight")
	req.Timestamp = at
	risk := ls.DetectFraudRisk(context.Background(), "tenant-1", req, nil)
	if math.Abs(risk.PlatformAdjustment-5) > 1e-9 || math.Abs(risk.Score-35) > 1e-9 {
		t.Fatalf("risk = %+v, want adjustment 5 and score 35", risk)
	}
}

func TestSpendingRecommendations(t *testing.T) {
	ls := service.NewLearningService(learningConfig(), nil, service.FixedPlaceholder{})
	at := recentDay(time.Monday)
	ls.IngestHistory(context.Background(), "tenant-a", history("Software", 100, 3, at))
	ls.IngestHistory(context.Background(), "tenant-b", history("Software", 100, 3, at))

	actx := &agent.Context{History: []agent.HistoricalRequest{
		{ID: "x1", Category: "Software", Amount: 200},
		{ID: "x2", Category: "Software", Amount: 200},
		{ID: "x3", Category: "Unknown", Amount: 999},
	}}
	report := ls.SpendingRecommendations(context.Background(), "tenant-c", actx)
	if len(report.Recommendations) != 1 {
		t.Fatalf("recommendations = %+v", report.Recommendations)
	}
	rec := report.Recommendations[0]
	if rec.DeviationPercent != 100 || rec.PotentialSavings != 200 {
		t.Errorf("rec = %+v", rec)
	}
	if report.TotalPotentialSavings != 200 {
		t.Errorf("total = %v", report.TotalPotentialSavings)
	}
}

func TestVendorOptimizations(t *testing.T) {
	ls := service.NewLearningService(learningConfig(), nil, service.FixedPlaceholder{Savings: 0.1})
	actx := &agent.Context{History: []agent.HistoricalRequest{
		{ID: "1", Vendor: "Acme", Category: "Office Supplies", Amount: 100},
		{ID: "2", Vendor: "acme", Category: "Office Supplies", Amount: 100},
		{ID: "3", Vendor: "Acme", Category: "Office Supplies", Amount: 100},
		{ID: "4", Vendor: "BigCo", Category: "Equipment", Amount: 2000},
		{ID: "5", Vendor: "OneOff", Category: "Meals", Amount: 50},
	}}

	opts := ls.VendorOptimizations(context.Background(), "tenant-1", actx)
	if len(opts) != 2 {
		t.Fatalf("optimizations = %+v", opts)
	}
	if opts[0].Vendor != "BigCo" || math.Abs(opts[0].EstimatedSavings-200) > 1e-9 {
		t.Errorf("first = %+v", opts[0])
	}
	if opts[1].Transactions != 3 || !strings.Contains(opts[1].Suggestion, "volume discount") {
		t.Errorf("second = %+v", opts[1])
	}
}

func TestPredictiveInsights(t *testing.T) {
	ls := service.NewLearningService(learningConfig(), nil, service.FixedPlaceholder{Growth: 1.1, Confidence: 80})
	actx := &agent.Context{
		Budget:           agent.BudgetState{Total: 5000, Spent: 3900, Remaining: 1100},
		SpendingPatterns: []agent.SpendingPattern{{Category: "Software", AverageAmount: 250, MonthlyTotal: 1000, Count: 4}},
	}

	pred := ls.PredictiveInsights(context.Background(), "tenant-1", actx)
	if math.Abs(pred.NextMonthSpend-1100) > 1e-9 || pred.Confidence != 80 {
		t.Fatalf("prediction = %+v", pred)
	}
	if math.Abs(pred.BudgetOverrunRisk-50) > 1e-9 {
		t.Errorf("overrun risk = %v, want 50", pred.BudgetOverrunRisk)
	}
	if pred.SavingsOpportunities == nil || pred.AutomationOpportunities == nil {
		t.Error("opportunity lists must be non-nil")
	}
}

func TestLearning_ViewsServedFromCache(t *testing.T) {
	c := newMapCache()
	ls := service.NewLearningService(learningConfig(), c, service.FixedPlaceholder{})
	ls.IngestHistory(context.Background(), "tenant-1", history("Meals", 30, 5, recentDay(time.Friday)))

	first := ls.Insights(context.Background())
	second := ls.Insights(context.Background())
	if len(first) != len(second) || len(first) == 0 {
		t.Fatalf("insights %d vs %d", len(first), len(second))
	}
	if c.sets != 1 || c.hits != 1 {
		t.Fatalf("sets=%d hits=%d, want 1/1", c.sets, c.hits)
	}

	ls.Aggregate(context.Background())
	ls.Insights(context.Background())
	if c.sets != 2 {
		t.Errorf("a new aggregation must not reuse the old view (sets=%d)", c.sets)
	}
}

func TestLearning_SharedCacheIsolatesInstances(t *testing.T) {
	shared := newMapCache()
	ctx := context.Background()

	a := service.NewLearningService(learningConfig(), shared, service.FixedPlaceholder{})
	a.IngestHistory(ctx, "tenant-1", history("Software", 40, 3, recentDay(time.Monday)))
	if _, ok := a.Benchmarks(ctx)["software"]; !ok {
		t.Fatal("instance A should benchmark software")
	}

	// Same generation as A, as after a restart or on a second replica.
	b := service.NewLearningService(learningConfig(), shared, service.FixedPlaceholder{})
	b.IngestHistory(ctx, "tenant-2", history("Travel", 400, 3, recentDay(time.Monday)))
	got := b.Benchmarks(ctx)
	if _, ok := got["software"]; ok {
		t.Fatalf("instance B served A's read model: %v", got)
	}
	if _, ok := got["travel"]; !ok {
		t.Fatalf("instance B benchmarks = %v, want travel", got)
	}
	if shared.sets != 2 {
		t.Errorf("sets = %d, want one per instance", shared.sets)
	}
}

func TestLearning_StartRunsInitialAggregation(t *testing.T) {
	cfg := learningConfig()
	cfg.AggregationInterval = 0
	ls := service.NewLearningService(cfg, nil, service.FixedPlaceholder{})
	ls.Start(context.Background())
	if st := ls.Stats(); st.Generation != 1 {
		t.Fatalf("generation = %d, want 1 after the initial pass", st.Generation)
	}
}
