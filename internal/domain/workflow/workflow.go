// Package workflow defines gated agent pipelines and the results the
// orchestrator produces from them.
package workflow

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/Strob0t/SpendPilot/internal/domain/agent"
)

var (
	ErrIDRequired       = errors.New("workflow id is required")
	ErrNoSteps          = errors.New("workflow must have at least one step")
	ErrNoRequestTypes   = errors.New("workflow must handle at least one request type")
	ErrStepMissingAgent = errors.New("step agent_id is required")
)

// Gate decides from the context and the responses collected so far whether
// a step runs. A nil Gate always runs.
type Gate func(actx *agent.Context, prior []agent.Response) bool

// Step is one stage of a workflow.
//
// When ApprovedBy names an agent that approved earlier in the same run, the
// step receives a copy of the request with Payload.Approved set.
type Step struct {
	Name       string
	AgentID    string
	Required   bool
	Gate       Gate
	Timeout    time.Duration // 0 = orchestrator default
	ApprovedBy string
}

// Label returns the step name, falling back to the agent id.
func (s *Step) Label() string {
	if s.Name != "" {
		return s.Name
	}
	return s.AgentID
}

// Workflow is an ordered pipeline bound to one or more request types.
type Workflow struct {
	ID           string
	Name         string
	Steps        []Step
	RequestTypes []agent.RequestType
}

// Handles reports whether the workflow accepts t.
func (w *Workflow) Handles(t agent.RequestType) bool {
	return slices.Contains(w.RequestTypes, t)
}

// Validate checks the workflow structure.
func (w *Workflow) Validate() error {
	if w.ID == "" {
		return ErrIDRequired
	}
	if len(w.Steps) == 0 {
		return ErrNoSteps
	}
	if len(w.RequestTypes) == 0 {
		return ErrNoRequestTypes
	}
	for i := range w.Steps {
		if w.Steps[i].AgentID == "" {
			return fmt.Errorf("step %d: %w", i, ErrStepMissingAgent)
		}
	}
	return nil
}

// Result is the aggregated outcome of one orchestration run.
type Result struct {
	RequestID       string           `json:"request_id"`
	WorkflowID      string           `json:"workflow_id,omitempty"`
	Success         bool             `json:"success"`
	FinalDecision   agent.Decision   `json:"final_decision"`
	Confidence      float64          `json:"confidence"`
	Reasoning       string           `json:"reasoning"`
	Responses       []agent.Response `json:"responses"`
	SkippedSteps    []string         `json:"skipped_steps,omitempty"`
	ExecutionTime   time.Duration    `json:"execution_time"`
	PaymentExecuted bool             `json:"payment_executed"`
	TotalCost       float64          `json:"total_cost"`
	CompletedAt     time.Time        `json:"completed_at"`
}

// BatchSummary aggregates a batch run. Approved+Denied+Escalated == Total.
type BatchSummary struct {
	Total              int           `json:"total"`
	Approved           int           `json:"approved"`
	Denied             int           `json:"denied"`
	Escalated          int           `json:"escalated"`
	TotalExecutionTime time.Duration `json:"total_execution_time"`
	PaymentsExecuted   int           `json:"payments_executed"`
	TotalPaid          float64       `json:"total_paid"`
	Chunks             int           `json:"chunks"`
}

// BatchResult holds per-request results in input order plus the summary.
type BatchResult struct {
	Results []Result     `json:"results"`
	Summary BatchSummary `json:"summary"`
}

// Add folds one result into the summary.
func (s *BatchSummary) Add(r *Result) {
	s.Total++
	s.TotalExecutionTime += r.ExecutionTime
	switch r.FinalDecision {
	case agent.DecisionApprove:
		s.Approved++
	case agent.DecisionDeny:
		s.Denied++
	default:
		s.Escalated++
	}
	if r.PaymentExecuted {
		s.PaymentsExecuted++
		s.TotalPaid += r.TotalCost
	}
}

// Analytics is a derived snapshot of orchestrator activity.
type Analytics struct {
	TotalRequests        int                    `json:"total_requests"`
	AgentCount           int                    `json:"agent_count"`
	AverageExecutionTime time.Duration          `json:"average_execution_time"`
	OverallSuccessRate   float64                `json:"overall_success_rate"`
	WorkflowUsage        map[string]int         `json:"workflow_usage"`
	DecisionCounts       map[agent.Decision]int `json:"decision_counts"`
	LearningEntries      int                    `json:"learning_entries"`
	FeedbackReceived     int                    `json:"feedback_received"`
}

// LearningEntry is the orchestrator's record of a finished run, kept for analytics.
type LearningEntry struct {
	RequestID     string            `json:"request_id"`
	TenantID      string            `json:"tenant_id"`
	RequestType   agent.RequestType `json:"request_type"`
	WorkflowID    string            `json:"workflow_id"`
	Category      string            `json:"category"`
	Amount        float64           `json:"amount"`
	FinalDecision agent.Decision    `json:"final_decision"`
	Confidence    float64           `json:"confidence"`
	Success       bool              `json:"success"`
	AgentIDs      []string          `json:"agent_ids"`
	Feedback      *agent.Feedback   `json:"feedback,omitempty"`
	RecordedAt    time.Time         `json:"recorded_at"`
}
