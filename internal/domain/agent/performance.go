package agent

import (
	"fmt"
	"time"

	"github.com/Strob0t/SpendPilot/internal/domain"
)

// Capabilities declares what an agent is able to decide. The orchestrator
// does not enforce them; each agent enforces its own limits.
type Capabilities struct {
	CanApprove          bool     `json:"can_approve"`
	CanExecutePayments  bool     `json:"can_execute_payments"`
	CanAnalyzeBudget    bool     `json:"can_analyze_budget"`
	CanDetectFraud      bool     `json:"can_detect_fraud"`
	CanPredictSpending  bool     `json:"can_predict_spending"`
	MaxAmount           float64  `json:"max_amount"` // 0 = no cap
	SupportedCategories []string `json:"supported_categories,omitempty"`
}

// Metrics is an agent's own view of its activity.
type Metrics struct {
	AgentID           string        `json:"agent_id"`
	TotalRequests     int           `json:"total_requests"`
	Approved          int           `json:"approved"`
	Denied            int           `json:"denied"`
	Escalated         int           `json:"escalated"`
	Analyzed          int           `json:"analyzed"`
	AverageConfidence float64       `json:"average_confidence"`
	AverageLatency    time.Duration `json:"average_latency"`
	FeedbackCount     int           `json:"feedback_count"`
	Accuracy          float64       `json:"accuracy"`
	LastUpdated       time.Time     `json:"last_updated"`
}

// Performance is the orchestrator's running quality metric for one agent.
type Performance struct {
	AgentID              string        `json:"agent_id"`
	SuccessRate          float64       `json:"success_rate"`
	AverageConfidence    float64       `json:"average_confidence"`
	AverageExecutionTime time.Duration `json:"average_execution_time"`
	TotalDecisions       int           `json:"total_decisions"`
	LastUpdated          time.Time     `json:"last_updated"`
}

// Outcome is the post-hoc correctness of a decision.
type Outcome string

const (
	OutcomeCorrect   Outcome = "correct"
	OutcomeIncorrect Outcome = "incorrect"
	OutcomePartial   Outcome = "partial"
)

// Credit converts an outcome into an accuracy weight.
func (o Outcome) Credit() float64 {
	switch o {
	case OutcomeCorrect:
		return 1
	case OutcomePartial:
		return 0.5
	}
	return 0
}

// Feedback is an outcome signal recorded after a decision was acted on.
// It never mutates past orchestration results. TenantID scopes the run
// record it may attach to.
type Feedback struct {
	RequestID        string    `json:"request_id"`
	TenantID         string    `json:"tenant_id,omitempty"`
	AgentID          string    `json:"agent_id,omitempty"`
	Request          *Request  `json:"request,omitempty"`
	ActualOutcome    Outcome   `json:"actual_outcome"`
	UserSatisfaction int       `json:"user_satisfaction"`
	Comments         string    `json:"comments,omitempty"`
	RecordedAt       time.Time `json:"recorded_at"`
}

// Validate requires the request and tenant ids and checks outcome and
// satisfaction ranges.
func (f *Feedback) Validate() error {
	if f.RequestID == "" {
		return fmt.Errorf("%w: request_id is required", domain.ErrValidation)
	}
	if f.TenantID == "" {
		return fmt.Errorf("%w: tenant_id is required", domain.ErrValidation)
	}
	switch f.ActualOutcome {
	case OutcomeCorrect, OutcomeIncorrect, OutcomePartial:
	default:
		return fmt.Errorf("%w: unknown outcome %q", domain.ErrValidation, f.ActualOutcome)
	}
	if f.UserSatisfaction < 1 || f.UserSatisfaction > 5 {
		return fmt.Errorf("%w: user_satisfaction must be between 1 and 5", domain.ErrValidation)
	}
	return nil
}
