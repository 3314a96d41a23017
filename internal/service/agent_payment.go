package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/SpendPilot/internal/domain"
	"github.com/Strob0t/SpendPilot/internal/domain/agent"
	"github.com/Strob0t/SpendPilot/internal/domain/payment"
)

// PaymentExecutionAgent pays requests that were already approved.
type PaymentExecutionAgent struct {
	exec  *PaymentExecutor
	delay time.Duration
	stats *agentStats
	now   func() time.Time
}

// NewPaymentExecutionAgent creates the payment agent. delay is the pause
// between payments of a batch.
func NewPaymentExecutionAgent(exec *PaymentExecutor, delay time.Duration) *PaymentExecutionAgent {
	return &PaymentExecutionAgent{
		exec:  exec,
		delay: delay,
		stats: newAgentStats(AgentPaymentExecution),
		now:   time.Now,
	}
}

func (a *PaymentExecutionAgent) ID() string { return AgentPaymentExecution }

func (a *PaymentExecutionAgent) Capabilities() agent.Capabilities {
	return agent.Capabilities{CanExecutePayments: true}
}

func (a *PaymentExecutionAgent) Metrics() agent.Metrics { return a.stats.snapshot() }

func (a *PaymentExecutionAgent) UpdateLearning(fb agent.Feedback) { a.stats.recordFeedback(&fb) }

// ProcessRequest pays an approved request from the tenant wallet.
func (a *PaymentExecutionAgent) ProcessRequest(ctx context.Context, req *agent.Request, actx *agent.Context) agent.Response {
	return decide(a.ID(), req, a.stats, func() (agent.Response, error) {
		if actx == nil {
			actx = &agent.Context{}
		}
		return a.pay(ctx, req, actx.Tenant.WalletID), nil
	})
}

func (a *PaymentExecutionAgent) pay(ctx context.Context, req *agent.Request, walletID string) agent.Response {
	if !req.Payload.Approved {
		return agent.Response{
			Decision:         agent.DecisionDeny,
			Confidence:       95,
			Reasoning:        "Request has not been approved; payment was not executed",
			RiskLevel:        agent.RiskMedium,
			SuggestedActions: []string{"obtain_approval"},
			ErrorKind:        agent.KindPolicyViolation,
		}
	}

	tr, err := a.exec.Execute(ctx, req, walletID, a.ID())
	if err != nil {
		return failedPaymentResponse(err)
	}
	return agent.Response{
		Decision:        agent.DecisionApprove,
		Confidence:      95,
		Reasoning:       fmt.Sprintf("Paid %s to %s (transfer %s)", formatMoney(req.Payload.Amount), req.Payload.Vendor, tr.ID),
		RiskLevel:       agent.RiskLow,
		PaymentExecuted: true,
		EstimatedCost:   req.Payload.Amount,
		TransferID:      tr.ID,
	}
}

// ExecuteBatch pays the requests one after another with the configured
// pause between them. Requests not reached before ctx ends are reported as
// not executed.
func (a *PaymentExecutionAgent) ExecuteBatch(ctx context.Context, reqs []*agent.Request, actx *agent.Context) payment.BatchReport {
	var report payment.BatchReport
	for i, req := range reqs {
		if i > 0 && a.delay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(a.delay):
			}
		}

		var out payment.BatchOutcome
		if req != nil {
			out.RequestID = req.ID
			out.Amount = req.Payload.Amount
		}
		if err := ctx.Err(); err != nil {
			out.Error = "cancelled: " + err.Error()
			report.Outcomes = append(report.Outcomes, out)
			report.Failed++
			continue
		}

		resp := a.ProcessRequest(ctx, req, actx)
		out.Executed = resp.PaymentExecuted
		out.TransferID = resp.TransferID
		if resp.PaymentExecuted {
			report.Succeeded++
			report.TotalAmount += resp.EstimatedCost
		} else {
			report.Failed++
			out.Error = resp.Reasoning
		}
		report.Outcomes = append(report.Outcomes, out)
	}
	slog.Info("payment batch finished", "total", len(reqs), "succeeded", report.Succeeded, "failed", report.Failed)
	return report
}

// Attempts lists the recorded payment attempts of one request.
func (a *PaymentExecutionAgent) Attempts(ctx context.Context, tenantID, requestID string) ([]payment.Attempt, error) {
	return a.exec.Attempts(ctx, tenantID, requestID)
}

// SchedulePayment stores an approved request for execution at executeAt.
// Nothing is paid now.
func (a *PaymentExecutionAgent) SchedulePayment(ctx context.Context, req *agent.Request, actx *agent.Context, executeAt time.Time) (*payment.Scheduled, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: request is required", domain.ErrValidation)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if !req.Payload.Approved {
		return nil, fmt.Errorf("%w: only approved requests can be scheduled", domain.ErrValidation)
	}
	if !executeAt.After(a.now()) {
		return nil, fmt.Errorf("%w: execute_at must be in the future", domain.ErrValidation)
	}
	if actx == nil || actx.Tenant.WalletID == "" {
		return nil, fmt.Errorf("%w: tenant wallet is required", domain.ErrValidation)
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	s := &payment.Scheduled{
		ID:        uuid.New().String(),
		TenantID:  req.TenantID,
		RequestID: req.ID,
		WalletID:  actx.Tenant.WalletID,
		Request:   data,
		ExecuteAt: executeAt.UTC(),
		Status:    payment.SchedulePending,
		CreatedAt: a.now().UTC(),
	}
	if err := a.exec.store.CreateScheduledPayment(ctx, s); err != nil {
		return nil, fmt.Errorf("schedule payment: %w", err)
	}
	slog.Info("payment scheduled", "request_id", req.ID, "execute_at", s.ExecuteAt)
	return s, nil
}

// ExecuteDuePayments pays up to limit pending scheduled payments due at or
// before now and returns how many were paid.
func (a *PaymentExecutionAgent) ExecuteDuePayments(ctx context.Context, limit int) (int, error) {
	due, err := a.exec.store.ListDueScheduledPayments(ctx, a.now(), limit)
	if err != nil {
		return 0, fmt.Errorf("list due payments: %w", err)
	}

	paid := 0
	for i := range due {
		if err := ctx.Err(); err != nil {
			return paid, err
		}
		s := &due[i]
		status, msg := payment.ScheduleExecuted, ""

		var req agent.Request
		if err := json.Unmarshal(s.Request, &req); err != nil {
			status, msg = payment.ScheduleFailed, "decode request: "+err.Error()
		} else {
			resp := a.ProcessRequest(ctx, &req, &agent.Context{Tenant: agent.TenantProfile{WalletID: s.WalletID}})
			if resp.PaymentExecuted {
				paid++
			} else {
				status, msg = payment.ScheduleFailed, resp.Reasoning
			}
		}

		if err := a.exec.store.UpdateScheduledPaymentStatus(ctx, s.ID, status, msg); err != nil {
			slog.Error("update scheduled payment failed", "id", s.ID, "error", err)
		}
	}
	return paid, nil
}

// RunScheduler executes due payments every interval until ctx is done.
func (a *PaymentExecutionAgent) RunScheduler(ctx context.Context, interval time.Duration, batch int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("payment scheduler started", "interval", interval, "batch", batch)
	for {
		select {
		case <-ticker.C:
			n, err := a.ExecuteDuePayments(ctx, batch)
			if err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("scheduled payment sweep failed", "error", err)
			}
			if n > 0 {
				slog.Info("scheduled payments executed", "count", n)
			}
		case <-ctx.Done():
			slog.Info("payment scheduler stopped")
			return
		}
	}
}
