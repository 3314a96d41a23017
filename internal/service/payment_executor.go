package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/SpendPilot/internal/domain/agent"
	"github.com/Strob0t/SpendPilot/internal/domain/payment"
	"github.com/Strob0t/SpendPilot/internal/port/database"
	"github.com/Strob0t/SpendPilot/internal/port/messagequeue"
	paymentport "github.com/Strob0t/SpendPilot/internal/port/payment"
	"github.com/Strob0t/SpendPilot/internal/resilience"
)

const defaultCurrency = "USD"

// PaymentExecutor performs transfers through the payment provider and keeps
// the attempt log. Provider calls share one concurrency pool and breaker.
type PaymentExecutor struct {
	provider paymentport.Provider
	store    database.Store
	queue    messagequeue.Queue
	pool     *resilience.Pool
	breaker  *resilience.Breaker
	ceiling  float64
	now      func() time.Time
}

// NewPaymentExecutor creates a PaymentExecutor. queue, pool and breaker may be nil.
func NewPaymentExecutor(
	provider paymentport.Provider,
	store database.Store,
	queue messagequeue.Queue,
	pool *resilience.Pool,
	breaker *resilience.Breaker,
	safetyCeiling float64,
) *PaymentExecutor {
	return &PaymentExecutor{
		provider: provider,
		store:    store,
		queue:    queue,
		pool:     pool,
		breaker:  breaker,
		ceiling:  safetyCeiling,
		now:      time.Now,
	}
}

// PaymentError is a failed payment with its classification.
type PaymentError struct {
	Type    payment.FailureType
	Stage   string
	Err     error
	Actions []string
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *PaymentError) Unwrap() error { return e.Err }

// Validate runs the pre-execution checks. A balance lookup failure is logged
// and does not block the attempt.
func (e *PaymentExecutor) Validate(ctx context.Context, req *agent.Request, walletID string) error {
	p := &req.Payload
	if walletID == "" {
		return &PaymentError{Type: payment.FailurePolicy, Stage: "validate",
			Err: errors.New("tenant has no wallet configured"), Actions: []string{"configure_wallet"}}
	}
	if len(strings.TrimSpace(p.Vendor)) < 2 {
		return &PaymentError{Type: payment.FailurePayee, Stage: "validate",
			Err: errors.New("vendor name is missing or too short"), Actions: []string{"verify_vendor_details"}}
	}
	if p.Amount <= 0 {
		return &PaymentError{Type: payment.FailurePolicy, Stage: "validate",
			Err: fmt.Errorf("amount %s must be positive", formatMoney(p.Amount)), Actions: []string{"correct_amount"}}
	}
	if e.ceiling > 0 && p.Amount > e.ceiling {
		return &PaymentError{Type: payment.FailurePolicy, Stage: "validate",
			Err:     fmt.Errorf("amount %s exceeds the payment safety ceiling %s", formatMoney(p.Amount), formatMoney(e.ceiling)),
			Actions: []string{"split_payment", "manual_review"}}
	}

	var exists bool
	err := e.call(ctx, func() error {
		var err error
		exists, err = e.provider.WalletExists(ctx, walletID)
		return err
	})
	if err != nil {
		return classifyPaymentError("validate", fmt.Errorf("check wallet: %w", err))
	}
	if !exists {
		return &PaymentError{Type: payment.FailurePolicy, Stage: "validate",
			Err: fmt.Errorf("wallet %s not found", walletID), Actions: []string{"configure_wallet"}}
	}

	var balance float64
	err = e.call(ctx, func() error {
		var err error
		balance, err = e.provider.Balance(ctx, walletID)
		return err
	})
	switch {
	case err != nil:
		slog.Warn("wallet balance unavailable, attempting payment anyway",
			"request_id", req.ID, "wallet_id", walletID, "error", err)
	case balance < p.Amount:
		return &PaymentError{Type: payment.FailureInsufficientFunds, Stage: "validate",
			Err:     fmt.Errorf("insufficient funds: balance %s, amount %s", formatMoney(balance), formatMoney(p.Amount)),
			Actions: failureActions(payment.FailureInsufficientFunds)}
	}
	return nil
}

// Execute validates and pays req from walletID. Every attempt is logged;
// a successful one marks the request completed.
func (e *PaymentExecutor) Execute(ctx context.Context, req *agent.Request, walletID, agentID string) (*payment.Transfer, error) {
	if err := e.Validate(ctx, req, walletID); err != nil {
		e.recordAttempt(ctx, req, agentID, "", nil, err)
		return nil, err
	}

	payee, err := e.ensurePayee(ctx, walletID, &req.Payload)
	if err != nil {
		perr := classifyPaymentError("payee", err)
		e.recordAttempt(ctx, req, agentID, "", nil, perr)
		return nil, perr
	}

	currency := req.Payload.Currency
	if currency == "" {
		currency = defaultCurrency
	}
	var tr *payment.Transfer
	err = e.call(ctx, func() error {
		var err error
		tr, err = e.provider.Transfer(ctx, payment.TransferRequest{
			WalletID:  walletID,
			PayeeID:   payee.ID,
			Amount:    req.Payload.Amount,
			Currency:  currency,
			Reference: req.ID,
			Memo:      req.Payload.Description,
		})
		return err
	})
	if err != nil {
		perr := classifyPaymentError("transfer", err)
		e.recordAttempt(ctx, req, agentID, payee.ID, nil, perr)
		return nil, perr
	}

	e.recordAttempt(ctx, req, agentID, payee.ID, tr, nil)
	if err := e.store.MarkRequestCompleted(ctx, req.TenantID, req.ID, tr.ID); err != nil {
		slog.Error("mark request completed failed", "request_id", req.ID, "transfer_id", tr.ID, "error", err)
	}
	slog.Info("payment executed", "request_id", req.ID, "agent_id", agentID,
		"transfer_id", tr.ID, "amount", req.Payload.Amount)
	return tr, nil
}

// ensurePayee creates a payee for the vendor, falling back to an existing
// payee matched by name or email.
func (e *PaymentExecutor) ensurePayee(ctx context.Context, walletID string, p *agent.Payload) (*payment.Payee, error) {
	var payee *payment.Payee
	createErr := e.call(ctx, func() error {
		var err error
		payee, err = e.provider.CreatePayee(ctx, walletID, payment.PayeeRequest{Name: p.Vendor, Email: p.VendorEmail})
		return err
	})
	if createErr == nil && payee != nil {
		return payee, nil
	}

	var payees []payment.Payee
	if err := e.call(ctx, func() error {
		var err error
		payees, err = e.provider.ListPayees(ctx, walletID)
		return err
	}); err != nil {
		return nil, fmt.Errorf("payee for vendor %q: create: %v: list: %w", p.Vendor, createErr, err)
	}
	for i := range payees {
		if strings.EqualFold(payees[i].Name, p.Vendor) ||
			(p.VendorEmail != "" && strings.EqualFold(payees[i].Email, p.VendorEmail)) {
			return &payees[i], nil
		}
	}
	return nil, fmt.Errorf("payee for vendor %q could not be created or found: %v", p.Vendor, createErr)
}

// Attempts lists the recorded payment attempts of one request, oldest first.
func (e *PaymentExecutor) Attempts(ctx context.Context, tenantID, requestID string) ([]payment.Attempt, error) {
	list, err := e.store.ListPaymentAttempts(ctx, tenantID, requestID)
	if err != nil {
		return nil, fmt.Errorf("list payment attempts: %w", err)
	}
	return list, nil
}

func (e *PaymentExecutor) call(ctx context.Context, fn func() error) error {
	return resilience.Guarded(ctx, e.pool, e.breaker, fn)
}

func (e *PaymentExecutor) recordAttempt(ctx context.Context, req *agent.Request, agentID, payeeID string, tr *payment.Transfer, failure error) {
	a := &payment.Attempt{
		ID:        uuid.New().String(),
		TenantID:  req.TenantID,
		RequestID: req.ID,
		AgentID:   agentID,
		Amount:    req.Payload.Amount,
		Vendor:    req.Payload.Vendor,
		PayeeID:   payeeID,
		Status:    payment.AttemptSucceeded,
		CreatedAt: e.now().UTC(),
	}
	if tr != nil {
		a.TransferID = tr.ID
	}
	var perr *PaymentError
	if failure != nil {
		a.Status = payment.AttemptFailed
		a.Error = failure.Error()
		a.FailureType = payment.FailureUnknown
		if errors.As(failure, &perr) {
			a.FailureType = perr.Type
		}
	}

	if err := e.store.RecordPaymentAttempt(ctx, a); err != nil {
		slog.Error("record payment attempt failed", "request_id", req.ID, "error", err)
	}
	e.publish(ctx, a)
}

func (e *PaymentExecutor) publish(ctx context.Context, a *payment.Attempt) {
	if e.queue == nil {
		return
	}
	subject := messagequeue.SubjectPaymentExecuted
	if a.Status == payment.AttemptFailed {
		subject = messagequeue.SubjectPaymentFailed
	}
	data, err := json.Marshal(messagequeue.PaymentPayload{
		RequestID:   a.RequestID,
		TenantID:    a.TenantID,
		AgentID:     a.AgentID,
		Amount:      a.Amount,
		Vendor:      a.Vendor,
		TransferID:  a.TransferID,
		Error:       a.Error,
		FailureType: string(a.FailureType),
	})
	if err != nil {
		slog.Error("marshal payment event", "error", err)
		return
	}
	if err := e.queue.Publish(ctx, subject, data); err != nil {
		slog.Warn("publish payment event failed", "subject", subject, "request_id", a.RequestID, "error", err)
	}
}

// classifyPaymentError wraps err in a PaymentError whose type is derived from
// the error message.
func classifyPaymentError(stage string, err error) *PaymentError {
	var perr *PaymentError
	if errors.As(err, &perr) {
		return perr
	}
	ft := ClassifyFailure(err.Error())
	if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, context.DeadlineExceeded) {
		ft = payment.FailureNetwork
	}
	return &PaymentError{Type: ft, Stage: stage, Err: err, Actions: failureActions(ft)}
}

// ProviderFault reports whether err indicates an unhealthy provider rather
// than a declined payment. The payment breaker counts only these.
func ProviderFault(err error) bool {
	switch ClassifyFailure(err.Error()) {
	case payment.FailureNetwork, payment.FailureUnknown:
		return true
	}
	return false
}

// ClassifyFailure maps a provider error message to a failure type.
func ClassifyFailure(msg string) payment.FailureType {
	m := strings.ToLower(msg)
	switch {
	case containsAny(m, "insufficient", "balance", "funds"):
		return payment.FailureInsufficientFunds
	case containsAny(m, "payee", "recipient", "beneficiary", "vendor"):
		return payment.FailurePayee
	case containsAny(m, "timeout", "timed out", "network", "connection", "unavailable", "circuit breaker", "eof"):
		return payment.FailureNetwork
	case containsAny(m, "policy", "limit", "compliance", "forbidden", "not allowed", "blocked"):
		return payment.FailurePolicy
	}
	return payment.FailureUnknown
}

func failureActions(ft payment.FailureType) []string {
	switch ft {
	case payment.FailureInsufficientFunds:
		return []string{"top_up_wallet", "retry_later"}
	case payment.FailurePayee:
		return []string{"verify_vendor_details", "manual_review"}
	case payment.FailureNetwork:
		return []string{"retry_payment"}
	case payment.FailurePolicy:
		return []string{"review_payment_policy", "manual_review"}
	}
	return []string{"manual_review"}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// failedPaymentResponse converts a payment error into a deny response.
func failedPaymentResponse(err error) agent.Response {
	perr := classifyPaymentError("execute", err)
	return agent.Response{
		Decision:         agent.DecisionDeny,
		Confidence:       90,
		Reasoning:        "Payment failed (" + string(perr.Type) + "): " + perr.Error(),
		RiskLevel:        agent.RiskHigh,
		SuggestedActions: perr.Actions,
		ErrorKind:        agent.KindExecutionFailure,
	}
}
