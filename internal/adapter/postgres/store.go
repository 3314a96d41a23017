package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/SpendPilot/internal/domain/payment"
)

// claimTTL is how long a due scheduled payment stays reserved for the
// process that listed it before another replica may pick it up.
const claimTTL = 5 * time.Minute

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// --- Requests ---

// MarkRequestCompleted records the transfer that settled a request. Marking
// the same request twice keeps the first transfer.
func (s *Store) MarkRequestCompleted(ctx context.Context, tenantID, requestID, transferID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO completed_requests (tenant_id, request_id, transfer_id)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (tenant_id, request_id) DO NOTHING`,
		tenantID, requestID, transferID)
	if err != nil {
		return fmt.Errorf("mark request %s completed: %w", requestID, err)
	}
	return nil
}

// --- Payment attempts ---

func (s *Store) RecordPaymentAttempt(ctx context.Context, a *payment.Attempt) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO payment_attempts
		   (id, tenant_id, request_id, agent_id, amount, vendor, payee_id, transfer_id, status, error, failure_type, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		a.ID, a.TenantID, a.RequestID, a.AgentID, a.Amount, a.Vendor, a.PayeeID, a.TransferID,
		string(a.Status), a.Error, string(a.FailureType), a.CreatedAt)
	if err != nil {
		return fmt.Errorf("record payment attempt for %s: %w", a.RequestID, err)
	}
	return nil
}

func (s *Store) ListPaymentAttempts(ctx context.Context, tenantID, requestID string) ([]payment.Attempt, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id::text, tenant_id, request_id, agent_id, amount::float8, vendor, payee_id, transfer_id, status, error, failure_type, created_at
		 FROM payment_attempts WHERE tenant_id = $1 AND request_id = $2 ORDER BY created_at`,
		tenantID, requestID)
	if err != nil {
		return nil, fmt.Errorf("list payment attempts: %w", err)
	}
	defer rows.Close()

	var out []payment.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment attempt: %w", err)
		}
		out = append(out, a)
	}
	return orEmpty(out), rows.Err()
}

func scanAttempt(row scannable) (payment.Attempt, error) {
	var a payment.Attempt
	var status, failure string
	err := row.Scan(&a.ID, &a.TenantID, &a.RequestID, &a.AgentID, &a.Amount, &a.Vendor, &a.PayeeID,
		&a.TransferID, &status, &a.Error, &failure, &a.CreatedAt)
	a.Status = payment.AttemptStatus(status)
	a.FailureType = payment.FailureType(failure)
	return a, err
}

// --- Scheduled payments ---

func (s *Store) CreateScheduledPayment(ctx context.Context, sp *payment.Scheduled) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO scheduled_payments (id, tenant_id, request_id, wallet_id, request, execute_at, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sp.ID, sp.TenantID, sp.RequestID, sp.WalletID, sp.Request, sp.ExecuteAt, string(sp.Status), sp.CreatedAt)
	if err != nil {
		return wrapErr(err, "scheduled payment for request "+sp.RequestID)
	}
	return nil
}

// ListDueScheduledPayments claims up to limit pending payments due at or
// before before. Rows claimed by another replica within claimTTL are skipped.
func (s *Store) ListDueScheduledPayments(ctx context.Context, before time.Time, limit int) ([]payment.Scheduled, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`UPDATE scheduled_payments SET claimed_until = now() + make_interval(secs => $3), updated_at = now()
		 WHERE id IN (
		   SELECT id FROM scheduled_payments
		   WHERE status = 'pending' AND execute_at <= $1
		     AND (claimed_until IS NULL OR claimed_until < now())
		   ORDER BY execute_at
		   LIMIT $2
		   FOR UPDATE SKIP LOCKED)
		 RETURNING id::text, tenant_id, request_id, wallet_id, request, execute_at, status, error, created_at`,
		before, limit, claimTTL.Seconds())
	if err != nil {
		return nil, fmt.Errorf("list due scheduled payments: %w", err)
	}
	defer rows.Close()

	var out []payment.Scheduled
	for rows.Next() {
		var sp payment.Scheduled
		var status string
		if err := rows.Scan(&sp.ID, &sp.TenantID, &sp.RequestID, &sp.WalletID, &sp.Request,
			&sp.ExecuteAt, &status, &sp.Error, &sp.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan scheduled payment: %w", err)
		}
		sp.Status = payment.ScheduleStatus(status)
		out = append(out, sp)
	}
	return orEmpty(out), rows.Err()
}

func (s *Store) UpdateScheduledPaymentStatus(ctx context.Context, id string, status payment.ScheduleStatus, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE scheduled_payments SET status = $2, error = $3, claimed_until = NULL, updated_at = now()
		 WHERE id = $1`,
		id, string(status), errMsg)
	return execExpectOne(tag, err, "update scheduled payment "+id)
}
