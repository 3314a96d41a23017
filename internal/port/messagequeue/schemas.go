package messagequeue

import "time"

// DecisionCompletedPayload is the schema for decisions.completed messages.
type DecisionCompletedPayload struct {
	RequestID       string    `json:"request_id"`
	TenantID        string    `json:"tenant_id"`
	RequestType     string    `json:"request_type"`
	Category        string    `json:"category,omitempty"`
	Amount          float64   `json:"amount"`
	WorkflowID      string    `json:"workflow_id"`
	FinalDecision   string    `json:"final_decision"`
	Confidence      float64   `json:"confidence"`
	Success         bool      `json:"success"`
	PaymentExecuted bool      `json:"payment_executed"`
	TotalCost       float64   `json:"total_cost"`
	Reasoning       string    `json:"reasoning,omitempty"`
	CompletedAt     time.Time `json:"completed_at"`
}

// PaymentPayload is the schema for payments.executed and payments.failed messages.
type PaymentPayload struct {
	RequestID   string  `json:"request_id"`
	TenantID    string  `json:"tenant_id"`
	AgentID     string  `json:"agent_id"`
	Amount      float64 `json:"amount"`
	Vendor      string  `json:"vendor"`
	TransferID  string  `json:"transfer_id,omitempty"`
	Error       string  `json:"error,omitempty"`
	FailureType string  `json:"failure_type,omitempty"`
}

// FeedbackSubmittedPayload is the schema for feedback.submitted messages.
// It mirrors agent.Feedback. TenantID may be omitted when the message
// carries the X-Tenant-ID header.
type FeedbackSubmittedPayload struct {
	RequestID        string `json:"request_id"`
	TenantID         string `json:"tenant_id,omitempty"`
	AgentID          string `json:"agent_id,omitempty"`
	ActualOutcome    string `json:"actual_outcome"`
	UserSatisfaction int    `json:"user_satisfaction"`
	Comments         string `json:"comments,omitempty"`
}
