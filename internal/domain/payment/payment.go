// Package payment defines payees, transfers and the payment audit log.
package payment

import (
	"time"
)

// Payee is a transfer recipient registered with the wallet provider.
type Payee struct {
	ID       string `json:"id"`
	WalletID string `json:"wallet_id"`
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
}

// PayeeRequest is the input for creating a payee.
type PayeeRequest struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// TransferRequest asks the provider to move funds from a wallet to a payee.
// Reference carries the originating request id for idempotent tracing.
type TransferRequest struct {
	WalletID  string  `json:"wallet_id"`
	PayeeID   string  `json:"payee_id"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
	Reference string  `json:"reference"`
	Memo      string  `json:"memo,omitempty"`
}

// Transfer is the provider's record of an issued transfer.
type Transfer struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Amount    float64   `json:"amount"`
	Reference string    `json:"reference"`
	CreatedAt time.Time `json:"created_at"`
}

// AttemptStatus is the outcome of one payment attempt.
type AttemptStatus string

const (
	AttemptSucceeded AttemptStatus = "succeeded"
	AttemptFailed    AttemptStatus = "failed"
)

// Attempt is one logged execution attempt, successful or not.
type Attempt struct {
	ID          string        `json:"id"`
	TenantID    string        `json:"tenant_id"`
	RequestID   string        `json:"request_id"`
	AgentID     string        `json:"agent_id"`
	Amount      float64       `json:"amount"`
	Vendor      string        `json:"vendor"`
	PayeeID     string        `json:"payee_id,omitempty"`
	TransferID  string        `json:"transfer_id,omitempty"`
	Status      AttemptStatus `json:"status"`
	Error       string        `json:"error,omitempty"`
	FailureType FailureType   `json:"failure_type,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// FailureType classifies provider error messages.
type FailureType string

const (
	FailureInsufficientFunds FailureType = "insufficient_funds"
	FailurePayee             FailureType = "payee_issue"
	FailureNetwork           FailureType = "network"
	FailurePolicy            FailureType = "policy"
	FailureUnknown           FailureType = "unknown"
)

// ScheduleStatus tracks a deferred payment.
type ScheduleStatus string

const (
	SchedulePending  ScheduleStatus = "pending"
	ScheduleExecuted ScheduleStatus = "executed"
	ScheduleFailed   ScheduleStatus = "failed"
)

// Scheduled is a payment deferred to ExecuteAt.
type Scheduled struct {
	ID        string         `json:"id"`
	TenantID  string         `json:"tenant_id"`
	RequestID string         `json:"request_id"`
	WalletID  string         `json:"wallet_id"`
	Request   []byte         `json:"-"` // JSON-encoded agent.Request
	ExecuteAt time.Time      `json:"execute_at"`
	Status    ScheduleStatus `json:"status"`
	Error     string         `json:"error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// BatchOutcome is one entry of a serialized payment batch.
type BatchOutcome struct {
	RequestID  string  `json:"request_id"`
	Executed   bool    `json:"executed"`
	TransferID string  `json:"transfer_id,omitempty"`
	Amount     float64 `json:"amount"`
	Error      string  `json:"error,omitempty"`
}

// BatchReport summarises a serialized payment batch.
type BatchReport struct {
	Outcomes    []BatchOutcome `json:"outcomes"`
	Succeeded   int            `json:"succeeded"`
	Failed      int            `json:"failed"`
	TotalAmount float64        `json:"total_amount"`
}
