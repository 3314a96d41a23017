// Package agent defines the request, context and response types shared by
// every decision agent and the orchestrator.
package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/Strob0t/SpendPilot/internal/domain"
)

// RequestType selects the workflow a request runs through.
type RequestType string

const (
	TypeApproval       RequestType = "approval"
	TypePayment        RequestType = "payment"
	TypeReimbursement  RequestType = "reimbursement"
	TypeBudgetAnalysis RequestType = "budget_analysis"
)

// Valid reports whether t is one of the known request types.
func (t RequestType) Valid() bool {
	switch t {
	case TypeApproval, TypePayment, TypeReimbursement, TypeBudgetAnalysis:
		return true
	}
	return false
}

// Decision is an agent verdict.
type Decision string

const (
	DecisionApprove  Decision = "approve"
	DecisionDeny     Decision = "deny"
	DecisionEscalate Decision = "escalate"
	DecisionAnalyze  Decision = "analyze"
)

// Valid reports whether d is one of the four verdicts.
func (d Decision) Valid() bool {
	switch d {
	case DecisionApprove, DecisionDeny, DecisionEscalate, DecisionAnalyze:
		return true
	}
	return false
}

// RiskLevel is a coarse severity classification.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Valid reports whether r is a known risk level.
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// Severe reports whether r is high or critical.
func (r RiskLevel) Severe() bool {
	return r == RiskHigh || r == RiskCritical
}

// Priority is carried with a request. It is informational only: it does not
// change scheduling order.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// ErrorKind classifies why an agent refused or could not decide.
type ErrorKind string

const (
	KindPolicyViolation      ErrorKind = "policy_violation"
	KindValidationFailure    ErrorKind = "validation_failure"
	KindBudgetRisk           ErrorKind = "budget_risk"
	KindFraudSuspicion       ErrorKind = "fraud_suspicion"
	KindExecutionFailure     ErrorKind = "execution_failure"
	KindOrchestrationFailure ErrorKind = "orchestration_failure"
)

// Payload carries the business content of a request.
type Payload struct {
	Amount        float64           `json:"amount"`
	Currency      string            `json:"currency,omitempty"`
	Category      string            `json:"category"`
	Description   string            `json:"description"`
	Vendor        string            `json:"vendor,omitempty"`
	VendorEmail   string            `json:"vendor_email,omitempty"`
	EmployeeID    string            `json:"employee_id,omitempty"`
	Department    string            `json:"department,omitempty"`
	Justification string            `json:"justification,omitempty"`
	Urgency       string            `json:"urgency,omitempty"`
	ReceiptURL    string            `json:"receipt_url,omitempty"`
	HasReceipt    bool              `json:"has_receipt"`
	ExpenseDate   time.Time         `json:"expense_date,omitempty"`
	Approved      bool              `json:"approved"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Request is one unit of work submitted to the engine.
type Request struct {
	ID        string      `json:"id"`
	TenantID  string      `json:"tenant_id"`
	Type      RequestType `json:"type"`
	Payload   Payload     `json:"payload"`
	Priority  Priority    `json:"priority,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Validate checks the fields every workflow relies on.
func (r *Request) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: id is required", domain.ErrValidation)
	}
	if r.TenantID == "" {
		return fmt.Errorf("%w: tenant_id is required", domain.ErrValidation)
	}
	if !r.Type.Valid() {
		return fmt.Errorf("%w: unknown request type %q", domain.ErrValidation, r.Type)
	}
	return nil
}

// SubmittedAt returns the request timestamp, falling back to now.
func (r *Request) SubmittedAt() time.Time {
	if r.Timestamp.IsZero() {
		return time.Now()
	}
	return r.Timestamp
}

// BudgetState is the tenant's budget position for the current period.
type BudgetState struct {
	Total            float64            `json:"total"`
	Spent            float64            `json:"spent"`
	Remaining        float64            `json:"remaining"`
	PeriodStart      time.Time          `json:"period_start"`
	PeriodEnd        time.Time          `json:"period_end"`
	CategoryBudgets  map[string]float64 `json:"category_budgets,omitempty"`
	CategorySpending map[string]float64 `json:"category_spending,omitempty"`
}

// SpendingPattern summarises historical spend in one category.
type SpendingPattern struct {
	Category      string  `json:"category"`
	AverageAmount float64 `json:"average_amount"`
	MonthlyTotal  float64 `json:"monthly_total"`
	Count         int     `json:"count"`
}

// PolicyThresholds is the tenant's approval policy.
type PolicyThresholds struct {
	AutoApprovalLimit         float64            `json:"auto_approval_limit"`
	TransactionLimit          float64            `json:"transaction_limit"`
	DailyLimit                float64            `json:"daily_limit"`
	AllowedCategories         []string           `json:"allowed_categories,omitempty"`
	RequireJustificationAbove float64            `json:"require_justification_above"`
	CategoryLimits            map[string]float64 `json:"category_limits,omitempty"`
}

// CategoryAllowed reports whether category passes the allow list.
// An empty allow list permits everything.
func (p *PolicyThresholds) CategoryAllowed(category string) bool {
	if len(p.AllowedCategories) == 0 {
		return true
	}
	for _, c := range p.AllowedCategories {
		if strings.EqualFold(c, category) {
			return true
		}
	}
	return false
}

// HistoricalRequest is a previously decided request of the same tenant.
type HistoricalRequest struct {
	ID          string    `json:"id"`
	Category    string    `json:"category"`
	Description string    `json:"description"`
	Vendor      string    `json:"vendor,omitempty"`
	EmployeeID  string    `json:"employee_id,omitempty"`
	Department  string    `json:"department,omitempty"`
	Amount      float64   `json:"amount"`
	Decision    Decision  `json:"decision"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// TenantProfile holds tenant settings the agents read.
type TenantProfile struct {
	WalletID string `json:"wallet_id,omitempty"`
	Industry string `json:"industry,omitempty"`
	Size     string `json:"size,omitempty"`
}

// Context is the read-only snapshot handed to every agent for one request.
// Agents must not mutate it.
type Context struct {
	Budget           BudgetState         `json:"budget"`
	SpendingPatterns []SpendingPattern   `json:"spending_patterns,omitempty"`
	Policy           PolicyThresholds    `json:"policy"`
	History          []HistoricalRequest `json:"history,omitempty"`
	Tenant           TenantProfile       `json:"tenant"`
}

// PatternFor returns the spending pattern for category, if any.
func (c *Context) PatternFor(category string) (SpendingPattern, bool) {
	for _, p := range c.SpendingPatterns {
		if strings.EqualFold(p.Category, category) {
			return p, true
		}
	}
	return SpendingPattern{}, false
}

// CategoryAverage returns the average amount for category, preferring the
// spending pattern and falling back to history. Zero means unknown.
func (c *Context) CategoryAverage(category string) float64 {
	if p, ok := c.PatternFor(category); ok && p.AverageAmount > 0 {
		return p.AverageAmount
	}
	var sum float64
	var n int
	for _, h := range c.History {
		if strings.EqualFold(h.Category, category) {
			sum += h.Amount
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// Response is one agent's verdict.
type Response struct {
	RequestID        string        `json:"request_id"`
	AgentID          string        `json:"agent_id"`
	Decision         Decision      `json:"decision"`
	Confidence       float64       `json:"confidence"`
	Reasoning        string        `json:"reasoning"`
	RiskLevel        RiskLevel     `json:"risk_level"`
	SuggestedActions []string      `json:"suggested_actions,omitempty"`
	PaymentExecuted  bool          `json:"payment_executed,omitempty"`
	EstimatedCost    float64       `json:"estimated_cost,omitempty"`
	TransferID       string        `json:"transfer_id,omitempty"`
	ErrorKind        ErrorKind     `json:"error_kind,omitempty"`
	ProcessingTime   time.Duration `json:"processing_time"`
}

// Normalize clamps confidence to [0,100], replaces an unknown decision with
// escalate and an unknown risk level with medium.
func (r *Response) Normalize() {
	r.Confidence = ClampScore(r.Confidence)
	if !r.Decision.Valid() {
		r.Decision = DecisionEscalate
	}
	if !r.RiskLevel.Valid() {
		r.RiskLevel = RiskMedium
	}
}

// ErrorResponse is the response an agent returns instead of failing.
func ErrorResponse(requestID, agentID string, err error) Response {
	return Response{
		RequestID:        requestID,
		AgentID:          agentID,
		Decision:         DecisionEscalate,
		Confidence:       0,
		Reasoning:        "agent error: " + err.Error(),
		RiskLevel:        RiskHigh,
		SuggestedActions: []string{"manual_review"},
		ErrorKind:        KindOrchestrationFailure,
	}
}

// ClampScore limits v to [0,100].
func ClampScore(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}
