package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/Strob0t/SpendPilot/internal/config"
	"github.com/Strob0t/SpendPilot/internal/domain/agent"
	"github.com/Strob0t/SpendPilot/internal/port/messagequeue"
	"github.com/Strob0t/SpendPilot/internal/port/notifier"
)

// Alert sources, matched against config.Notifications.Events.
const (
	AlertDecisionEscalated = "decision.escalated"
	AlertPaymentFailed     = "payment.failed"
)

// AlertService tells finance staff about decisions that need a human and
// payments that did not go through. Delivery failures are logged only.
type AlertService struct {
	notifiers []notifier.Notifier
	enabled   map[string]bool
	minAmount float64
}

// NewAlertService creates an AlertService. An empty event list enables all sources.
func NewAlertService(notifiers []notifier.Notifier, cfg config.Notifications) *AlertService {
	enabled := make(map[string]bool, len(cfg.Events))
	for _, e := range cfg.Events {
		enabled[e] = true
	}
	return &AlertService{
		notifiers: notifiers,
		enabled:   enabled,
		minAmount: cfg.MinAmount,
	}
}

// Notify sends n to every notifier. Errors do not interrupt delivery to the others.
func (s *AlertService) Notify(ctx context.Context, n notifier.Notification) {
	if len(s.enabled) > 0 && !s.enabled[n.Source] {
		return
	}

	for _, provider := range s.notifiers {
		if err := provider.Send(ctx, n); err != nil {
			slog.WarnContext(ctx, "alert send failed",
				"provider", provider.Name(),
				"source", n.Source,
				"error", err,
			)
			continue
		}
		slog.DebugContext(ctx, "alert sent", "provider", provider.Name(), "source", n.Source)
	}
}

// NotifierCount returns the number of configured notifiers.
func (s *AlertService) NotifierCount() int {
	return len(s.notifiers)
}

// HandleDecision alerts on escalated decisions at or above the minimum amount.
func (s *AlertService) HandleDecision(ctx context.Context, _ string, data []byte) error {
	var ev messagequeue.DecisionCompletedPayload
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("unmarshal decision: %w", err)
	}
	if ev.FinalDecision != string(agent.DecisionEscalate) || ev.Amount < s.minAmount {
		return nil
	}

	msg := fmt.Sprintf("A %s request for %s was escalated for manual review.", ev.RequestType, formatMoney(ev.Amount))
	if ev.Reasoning != "" {
		msg += "\n" + ev.Reasoning
	}
	s.Notify(ctx, notifier.Notification{
		Title:   "Request needs review",
		Message: msg,
		Level:   notifier.LevelWarning,
		Source:  AlertDecisionEscalated,
		Fields: []notifier.Field{
			{Name: "Request", Value: ev.RequestID},
			{Name: "Tenant", Value: ev.TenantID},
			{Name: "Category", Value: orDash(ev.Category)},
			{Name: "Confidence", Value: strconv.FormatFloat(ev.Confidence, 'f', 0, 64)},
		},
	})
	return nil
}

// HandlePaymentFailed alerts on every failed payment attempt.
func (s *AlertService) HandlePaymentFailed(ctx context.Context, _ string, data []byte) error {
	var ev messagequeue.PaymentPayload
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("unmarshal payment: %w", err)
	}

	s.Notify(ctx, notifier.Notification{
		Title:   "Payment failed",
		Message: fmt.Sprintf("Payment of %s to %s failed: %s", formatMoney(ev.Amount), orDash(ev.Vendor), ev.Error),
		Level:   notifier.LevelError,
		Source:  AlertPaymentFailed,
		Fields: []notifier.Field{
			{Name: "Request", Value: ev.RequestID},
			{Name: "Tenant", Value: ev.TenantID},
			{Name: "Agent", Value: ev.AgentID},
			{Name: "Failure", Value: orDash(ev.FailureType)},
		},
	})
	return nil
}

// Start subscribes the alert handlers. With no notifiers it does nothing.
func (s *AlertService) Start(ctx context.Context, q messagequeue.Queue) (cancel func(), err error) {
	if q == nil || len(s.notifiers) == 0 {
		return func() {}, nil
	}

	cancelDecisions, err := q.Subscribe(ctx, messagequeue.SubjectDecisionCompleted, s.HandleDecision)
	if err != nil {
		return nil, fmt.Errorf("subscribe decisions: %w", err)
	}
	cancelPayments, err := q.Subscribe(ctx, messagequeue.SubjectPaymentFailed, s.HandlePaymentFailed)
	if err != nil {
		cancelDecisions()
		return nil, fmt.Errorf("subscribe payment failures: %w", err)
	}
	return func() {
		cancelDecisions()
		cancelPayments()
	}, nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
