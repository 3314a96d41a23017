// Package database defines the database store port (interface).
package database

import (
	"context"
	"time"

	"github.com/Strob0t/SpendPilot/internal/domain/payment"
)

// Store is the port interface for the records the decision core writes.
// Tenant, user and policy data are read by the caller and handed in through
// the agent context; the core never queries them itself.
type Store interface {
	// Requests
	MarkRequestCompleted(ctx context.Context, tenantID, requestID, transferID string) error

	// Payment attempts
	RecordPaymentAttempt(ctx context.Context, a *payment.Attempt) error
	ListPaymentAttempts(ctx context.Context, tenantID, requestID string) ([]payment.Attempt, error)

	// Scheduled payments
	CreateScheduledPayment(ctx context.Context, s *payment.Scheduled) error
	ListDueScheduledPayments(ctx context.Context, before time.Time, limit int) ([]payment.Scheduled, error)
	UpdateScheduledPaymentStatus(ctx context.Context, id string, status payment.ScheduleStatus, errMsg string) error
}
