// Package learning defines the anonymized cross-tenant knowledge the
// learning service aggregates and the answers it gives.
//
// Tenant and employee identifiers in this package are always one-way hashes.
package learning

import (
	"time"

	"github.com/Strob0t/SpendPilot/internal/domain/agent"
)

// Observation is one anonymized fact ingested from feedback or history.
type Observation struct {
	TenantHash   string         `json:"tenant_hash"`
	EmployeeHash string         `json:"employee_hash,omitempty"`
	Category     string         `json:"category"`
	Vendor       string         `json:"vendor,omitempty"`
	Amount       float64        `json:"amount"`
	Decision     agent.Decision `json:"decision,omitempty"`
	Successful   bool           `json:"successful"`
	Satisfaction int            `json:"satisfaction,omitempty"`
	SubmittedAt  time.Time      `json:"submitted_at"`
	IngestedAt   time.Time      `json:"ingested_at"`
}

// Pattern is a category-level regularity extracted from successful outcomes.
type Pattern struct {
	ID            string    `json:"id"`
	Category      string    `json:"category"`
	AmountMin     float64   `json:"amount_min"`
	AmountMax     float64   `json:"amount_max"`
	AverageAmount float64   `json:"average_amount"`
	Frequency     int       `json:"frequency"`
	SuccessRate   float64   `json:"success_rate"`
	Tenants       []string  `json:"tenants"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// SignalType names a fraud heuristic in the fixed catalog.
type SignalType string

const (
	SignalRoundAmount       SignalType = "round_amount"
	SignalWeekendSubmission SignalType = "weekend_submission"
	SignalHighFrequency     SignalType = "high_frequency"
)

// FraudSignal is a named heuristic with its observed platform-wide frequency.
type FraudSignal struct {
	Type         SignalType `json:"type"`
	Description  string     `json:"description"`
	Confidence   float64    `json:"confidence"` // weight in [0,1]
	Frequency    float64    `json:"frequency"`  // share of observations that matched
	Matches      int        `json:"matches"`
	Observations int        `json:"observations"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Benchmark aggregates spend in one category across tenants.
type Benchmark struct {
	Category      string    `json:"category"`
	AverageAmount float64   `json:"average_amount"`
	MedianAmount  float64   `json:"median_amount"`
	ApprovalRate  float64   `json:"approval_rate"`
	SampleSize    int       `json:"sample_size"`
	CompanyCount  int       `json:"company_count"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// InsightType classifies generated insights.
type InsightType string

const (
	InsightPattern     InsightType = "pattern"
	InsightFraud       InsightType = "fraud"
	InsightBenchmark   InsightType = "benchmark"
	InsightOpportunity InsightType = "opportunity"
)

// Insight is a human-readable finding produced by an aggregation pass.
type Insight struct {
	ID          string      `json:"id"`
	Type        InsightType `json:"type"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Impact      string      `json:"impact"`
	Confidence  float64     `json:"confidence"`
	Category    string      `json:"category,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// SpendingRecommendation compares one tenant category to its benchmark.
type SpendingRecommendation struct {
	Category         string  `json:"category"`
	CompanyAverage   float64 `json:"company_average"`
	BenchmarkAverage float64 `json:"benchmark_average"`
	DeviationPercent float64 `json:"deviation_percent"`
	Recommendation   string  `json:"recommendation"`
	PotentialSavings float64 `json:"potential_savings"`
}

// SpendingReport is the answer to a spending-recommendation query.
type SpendingReport struct {
	Recommendations       []SpendingRecommendation `json:"recommendations"`
	TotalPotentialSavings float64                  `json:"total_potential_savings"`
	GeneratedAt           time.Time                `json:"generated_at"`
}

// FraudRisk is the answer to a fraud-risk query for a single request.
type FraudRisk struct {
	Score              float64         `json:"score"`
	Level              agent.RiskLevel `json:"level"`
	MatchedSignals     []SignalType    `json:"matched_signals"`
	PlatformAdjustment float64         `json:"platform_adjustment"`
	Recommendation     string          `json:"recommendation"`
}

// VendorOptimization suggests a cheaper way to buy from a vendor.
type VendorOptimization struct {
	Vendor           string  `json:"vendor"`
	Category         string  `json:"category"`
	Spend            float64 `json:"spend"`
	Transactions     int     `json:"transactions"`
	Suggestion       string  `json:"suggestion"`
	EstimatedSavings float64 `json:"estimated_savings"`
}

// Prediction is the answer to a predictive-insights query.
type Prediction struct {
	NextMonthSpend          float64  `json:"next_month_spend"`
	Confidence              float64  `json:"confidence"`
	FraudRisk               float64  `json:"fraud_risk"`
	BudgetOverrunRisk       float64  `json:"budget_overrun_risk"`
	SavingsOpportunities    []string `json:"savings_opportunities"`
	AutomationOpportunities []string `json:"automation_opportunities"`
}
