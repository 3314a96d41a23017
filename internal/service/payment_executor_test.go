package service_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/SpendPilot/internal/domain/agent"
	"github.com/Strob0t/SpendPilot/internal/domain/payment"
	"github.com/Strob0t/SpendPilot/internal/port/messagequeue"
	"github.com/Strob0t/SpendPilot/internal/resilience"
	"github.com/Strob0t/SpendPilot/internal/service"
)

// fakeProvider is an in-memory payment provider.
type fakeProvider struct {
	mu          sync.Mutex
	wallets     map[string]float64
	payees      []payment.Payee
	transfers   []payment.TransferRequest
	createErr   error
	transferErr error
	balanceErr  error
	walletErr   error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{wallets: map[string]float64{"wallet-1": 1_000_000}}
}

func (p *fakeProvider) WalletExists(_ context.Context, walletID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.walletErr != nil {
		return false, p.walletErr
	}
	_, ok := p.wallets[walletID]
	return ok, nil
}

func (p *fakeProvider) Balance(_ context.Context, walletID string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.balanceErr != nil {
		return 0, p.balanceErr
	}
	return p.wallets[walletID], nil
}

func (p *fakeProvider) CreatePayee(_ context.Context, walletID string, req payment.PayeeRequest) (*payment.Payee, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createErr != nil {
		return nil, p.createErr
	}
	py := payment.Payee{ID: fmt.Sprintf("payee-%d", len(p.payees)+1), WalletID: walletID, Name: req.Name, Email: req.Email}
	p.payees = append(p.payees, py)
	return &py, nil
}

func (p *fakeProvider) ListPayees(_ context.Context, _ string) ([]payment.Payee, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]payment.Payee(nil), p.payees...), nil
}

func (p *fakeProvider) Transfer(_ context.Context, req payment.TransferRequest) (*payment.Transfer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.transferErr != nil {
		return nil, p.transferErr
	}
	p.transfers = append(p.transfers, req)
	return &payment.Transfer{
		ID:        fmt.Sprintf("tr-%d", len(p.transfers)),
		Status:    "completed",
		Amount:    req.Amount,
		Reference: req.Reference,
		CreatedAt: time.Now(),
	}, nil
}

func (p *fakeProvider) transferCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.transfers)
}

// memStore is an in-memory database.Store.
type memStore struct {
	mu        sync.Mutex
	completed map[string]string
	attempts  []payment.Attempt
	scheduled []payment.Scheduled
}

func newMemStore() *memStore {
	return &memStore{completed: make(map[string]string)}
}

func (m *memStore) MarkRequestCompleted(_ context.Context, _, requestID, transferID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed[requestID] = transferID
	return nil
}

func (m *memStore) RecordPaymentAttempt(_ context.Context, a *payment.Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, *a)
	return nil
}

func (m *memStore) ListPaymentAttempts(_ context.Context, tenantID, requestID string) ([]payment.Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []payment.Attempt
	for _, a := range m.attempts {
		if a.TenantID == tenantID && a.RequestID == requestID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memStore) CreateScheduledPayment(_ context.Context, s *payment.Scheduled) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scheduled = append(m.scheduled, *s)
	return nil
}

func (m *memStore) ListDueScheduledPayments(_ context.Context, before time.Time, limit int) ([]payment.Scheduled, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []payment.Scheduled
	for _, s := range m.scheduled {
		if s.Status == payment.SchedulePending && !s.ExecuteAt.After(before) {
			out = append(out, s)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) UpdateScheduledPaymentStatus(_ context.Context, id string, status payment.ScheduleStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.scheduled {
		if m.scheduled[i].ID == id {
			m.scheduled[i].Status = status
			m.scheduled[i].Error = errMsg
			return nil
		}
	}
	return errors.New("not found")
}

// recordingQueue captures published messages.
type recordingQueue struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
	handlers map[string]messagequeue.Handler
}

func (q *recordingQueue) Publish(_ context.Context, subject string, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.subjects = append(q.subjects, subject)
	q.payloads = append(q.payloads, data)
	return nil
}

func (q *recordingQueue) Subscribe(_ context.Context, subject string, h messagequeue.Handler) (func(), error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.handlers == nil {
		q.handlers = make(map[string]messagequeue.Handler)
	}
	q.handlers[subject] = h
	return func() {}, nil
}

func (q *recordingQueue) Drain() error      { return nil }
func (q *recordingQueue) Close() error      { return nil }
func (q *recordingQueue) IsConnected() bool { return true }

func (q *recordingQueue) count(subject string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, s := range q.subjects {
		if s == subject {
			n++
		}
	}
	return n
}

func approvedRequest(id string, amount float64) *agent.Request {
	return &agent.Request{
		ID:       id,
		TenantID: "tenant-1",
		Type:     agent.TypePayment,
		Payload: agent.Payload{
			Amount:      amount,
			Category:    "Software",
			Description: "Annual license for the engineering team",
			Vendor:      "Acme Software",
			VendorEmail: "billing@acme.test",
			Approved:    true,
		},
	}
}

func newExecutor(p *fakeProvider, st *memStore, q *recordingQueue) *service.PaymentExecutor {
	var queue messagequeue.Queue
	if q != nil {
		queue = q
	}
	return service.NewPaymentExecutor(p, st, queue, resilience.NewPool(2), resilience.NewBreaker(3, time.Minute), 100_000)
}

func TestPaymentExecutor_Success(t *testing.T) {
	p := newFakeProvider()
	st := newMemStore()
	q := &recordingQueue{}
	exec := newExecutor(p, st, q)

	tr, err := exec.Execute(context.Background(), approvedRequest("req-1", 250), "wallet-1", service.AgentPaymentExecution)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if tr.Reference != "req-1" {
		t.Errorf("reference = %q, want req-1", tr.Reference)
	}
	if st.completed["req-1"] != tr.ID {
		t.Errorf("request not marked completed with transfer %s", tr.ID)
	}
	if len(st.attempts) != 1 || st.attempts[0].Status != payment.AttemptSucceeded {
		t.Fatalf("attempts = %+v", st.attempts)
	}
	if q.count(messagequeue.SubjectPaymentExecuted) != 1 {
		t.Errorf("expected one payments.executed event")
	}
}

func TestPaymentExecutor_ValidationFailures(t *testing.T) {
	tests := []struct {
		name     string
		wallet   string
		mutate   func(r *agent.Request)
		setup    func(p *fakeProvider)
		wantType payment.FailureType
	}{
		{name: "no wallet", wallet: "", wantType: payment.FailurePolicy},
		{name: "unknown wallet", wallet: "wallet-x", wantType: payment.FailurePolicy},
		{name: "short vendor", wallet: "wallet-1", mutate: func(r *agent.Request) { r.Payload.Vendor = "A" }, wantType: payment.FailurePayee},
		{name: "zero amount", wallet: "wallet-1", mutate: func(r *agent.Request) { r.Payload.Amount = 0 }, wantType: payment.FailurePolicy},
		{name: "above ceiling", wallet: "wallet-1", mutate: func(r *agent.Request) { r.Payload.Amount = 150_000 }, wantType: payment.FailurePolicy},
		{name: "insufficient balance", wallet: "wallet-1", setup: func(p *fakeProvider) { p.wallets["wallet-1"] = 10 }, wantType: payment.FailureInsufficientFunds},
		{name: "wallet lookup fails", wallet: "wallet-1", setup: func(p *fakeProvider) { p.walletErr = errors.New("connection refused") }, wantType: payment.FailureNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newFakeProvider()
			if tt.setup != nil {
				tt.setup(p)
			}
			st := newMemStore()
			req := approvedRequest("req-v", 500)
			if tt.mutate != nil {
				tt.mutate(req)
			}
			_, err := newExecutor(p, st, nil).Execute(context.Background(), req, tt.wallet, "agent")
			var perr *service.PaymentError
			if !errors.As(err, &perr) {
				t.Fatalf("expected PaymentError, got %v", err)
			}
			if perr.Type != tt.wantType {
				t.Errorf("type = %s, want %s", perr.Type, tt.wantType)
			}
			if p.transferCount() != 0 {
				t.Error("no transfer expected")
			}
			if len(st.attempts) != 1 || st.attempts[0].Status != payment.AttemptFailed {
				t.Errorf("expected one failed attempt, got %+v", st.attempts)
			}
		})
	}
}

func TestPaymentExecutor_BalanceErrorDoesNotBlock(t *testing.T) {
	p := newFakeProvider()
	p.balanceErr = errors.New("balance endpoint down")
	if _, err := newExecutor(p, newMemStore(), nil).Execute(context.Background(), approvedRequest("req-b", 100), "wallet-1", "agent"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if p.transferCount() != 1 {
		t.Error("transfer expected despite balance failure")
	}
}

func TestPaymentExecutor_ExistingPayeeFallback(t *testing.T) {
	p := newFakeProvider()
	p.payees = []payment.Payee{{ID: "payee-existing", WalletID: "wallet-1", Name: "acme software"}}
	p.createErr = errors.New("payee already exists")

	if _, err := newExecutor(p, newMemStore(), nil).Execute(context.Background(), approvedRequest("req-p", 100), "wallet-1", "agent"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := p.transfers[0].PayeeID; got != "payee-existing" {
		t.Errorf("payee = %s, want payee-existing", got)
	}
}

func TestPaymentExecutor_TransferFailurePublishesFailed(t *testing.T) {
	p := newFakeProvider()
	p.transferErr = errors.New("insufficient funds in source wallet")
	q := &recordingQueue{}
	st := newMemStore()

	_, err := newExecutor(p, st, q).Execute(context.Background(), approvedRequest("req-f", 100), "wallet-1", "agent")
	var perr *service.PaymentError
	if !errors.As(err, &perr) || perr.Type != payment.FailureInsufficientFunds {
		t.Fatalf("err = %v", err)
	}
	if q.count(messagequeue.SubjectPaymentFailed) != 1 {
		t.Error("expected payments.failed event")
	}
	if _, done := st.completed["req-f"]; done {
		t.Error("failed payment must not complete the request")
	}
}

func TestPaymentExecutor_OpenBreakerIsNetworkFailure(t *testing.T) {
	p := newFakeProvider()
	p.walletErr = errors.New("boom")
	exec := service.NewPaymentExecutor(p, newMemStore(), nil, nil, resilience.NewBreaker(1, time.Hour), 0)

	_, _ = exec.Execute(context.Background(), approvedRequest("req-1", 10), "wallet-1", "agent")
	_, err := exec.Execute(context.Background(), approvedRequest("req-2", 10), "wallet-1", "agent")
	var perr *service.PaymentError
	if !errors.As(err, &perr) || perr.Type != payment.FailureNetwork {
		t.Fatalf("err = %v, want network failure from open breaker", err)
	}
}

func TestClassifyFailure(t *testing.T) {
	tests := []struct {
		msg  string
		want payment.FailureType
	}{
		{"Insufficient balance", payment.FailureInsufficientFunds},
		{"payee not found", payment.FailurePayee},
		{"request timed out", payment.FailureNetwork},
		{"blocked by compliance", payment.FailurePolicy},
		{"teapot", payment.FailureUnknown},
	}
	for _, tt := range tests {
		if got := service.ClassifyFailure(tt.msg); got != tt.want {
			t.Errorf("ClassifyFailure(%q) = %s, want %s", tt.msg, got, tt.want)
		}
	}
}

func TestProviderFault(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{"wallet API error 503: service unavailable", true},
		{"unexpected teapot", true},
		{"wallet API error 402: insufficient funds", false},
		{"recipient rejected", false},
		{"blocked by compliance", false},
	}
	for _, tt := range tests {
		if got := service.ProviderFault(errors.New(tt.msg)); got != tt.want {
			t.Errorf("ProviderFault(%q) = %v, want %v", tt.msg, got, tt.want)
		}
	}
}

func TestPaymentAgent_RequiresApproval(t *testing.T) {
	p := newFakeProvider()
	a := service.NewPaymentExecutionAgent(newExecutor(p, newMemStore(), nil), 0)
	req := approvedRequest("req-u", 100)
	req.Payload.Approved = false

	resp := a.ProcessRequest(context.Background(), req, &agent.Context{Tenant: agent.TenantProfile{WalletID: "wallet-1"}})
	if resp.Decision != agent.DecisionDeny || resp.Confidence != 95 {
		t.Fatalf("got %s/%v, want deny/95", resp.Decision, resp.Confidence)
	}
	if resp.PaymentExecuted || p.transferCount() != 0 {
		t.Error("unapproved request must not be paid")
	}
}

func TestPaymentAgent_PaysApproved(t *testing.T) {
	p := newFakeProvider()
	a := service.NewPaymentExecutionAgent(newExecutor(p, newMemStore(), nil), 0)

	resp := a.ProcessRequest(context.Background(), approvedRequest("req-ok", 300), &agent.Context{Tenant: agent.TenantProfile{WalletID: "wallet-1"}})
	if resp.Decision != agent.DecisionApprove || !resp.PaymentExecuted {
		t.Fatalf("got %+v", resp)
	}
	if resp.EstimatedCost != 300 || resp.TransferID == "" {
		t.Errorf("cost=%v transfer=%q", resp.EstimatedCost, resp.TransferID)
	}
}

func TestPaymentAgent_FailureDenies(t *testing.T) {
	p := newFakeProvider()
	p.transferErr = errors.New("network unavailable")
	a := service.NewPaymentExecutionAgent(newExecutor(p, newMemStore(), nil), 0)

	resp := a.ProcessRequest(context.Background(), approvedRequest("req-x", 300), &agent.Context{Tenant: agent.TenantProfile{WalletID: "wallet-1"}})
	if resp.Decision != agent.DecisionDeny || resp.ErrorKind != agent.KindExecutionFailure {
		t.Fatalf("got %s/%s", resp.Decision, resp.ErrorKind)
	}
	if !strings.Contains(resp.Reasoning, string(payment.FailureNetwork)) {
		t.Errorf("reasoning %q should name the failure type", resp.Reasoning)
	}
}

func TestPaymentAgent_ExecuteBatch(t *testing.T) {
	p := newFakeProvider()
	a := service.NewPaymentExecutionAgent(newExecutor(p, newMemStore(), nil), time.Millisecond)
	unapproved := approvedRequest("req-3", 50)
	unapproved.Payload.Approved = false

	report := a.ExecuteBatch(context.Background(),
		[]*agent.Request{approvedRequest("req-1", 100), approvedRequest("req-2", 200), unapproved},
		&agent.Context{Tenant: agent.TenantProfile{WalletID: "wallet-1"}})

	if report.Succeeded != 2 || report.Failed != 1 {
		t.Fatalf("succeeded=%d failed=%d", report.Succeeded, report.Failed)
	}
	if report.TotalAmount != 300 {
		t.Errorf("total = %v, want 300", report.TotalAmount)
	}
	if len(report.Outcomes) != 3 || report.Outcomes[2].Executed {
		t.Errorf("outcomes = %+v", report.Outcomes)
	}
}

func TestPaymentAgent_ExecuteBatchCancelled(t *testing.T) {
	a := service.NewPaymentExecutionAgent(newExecutor(newFakeProvider(), newMemStore(), nil), 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := a.ExecuteBatch(ctx, []*agent.Request{approvedRequest("req-1", 100)}, &agent.Context{Tenant: agent.TenantProfile{WalletID: "wallet-1"}})
	if report.Failed != 1 || !strings.Contains(report.Outcomes[0].Error, "cancelled") {
		t.Fatalf("report = %+v", report)
	}
}

func TestPaymentAgent_ScheduleAndExecuteDue(t *testing.T) {
	p := newFakeProvider()
	st := newMemStore()
	a := service.NewPaymentExecutionAgent(newExecutor(p, st, nil), 0)
	actx := &agent.Context{Tenant: agent.TenantProfile{WalletID: "wallet-1"}}

	s, err := a.SchedulePayment(context.Background(), approvedRequest("req-s", 120), actx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("SchedulePayment: %v", err)
	}
	if s.Status != payment.SchedulePending || p.transferCount() != 0 {
		t.Fatal("scheduling must not pay")
	}

	n, err := a.ExecuteDuePayments(context.Background(), 10)
	if err != nil || n != 0 {
		t.Fatalf("nothing is due yet: n=%d err=%v", n, err)
	}

	st.mu.Lock()
	st.scheduled[0].ExecuteAt = time.Now().Add(-time.Minute)
	st.mu.Unlock()

	n, err = a.ExecuteDuePayments(context.Background(), 10)
	if err != nil || n != 1 {
		t.Fatalf("n=%d err=%v, want 1 paid", n, err)
	}
	if st.scheduled[0].Status != payment.ScheduleExecuted {
		t.Errorf("status = %s", st.scheduled[0].Status)
	}
}

func TestPaymentAgent_ScheduleValidation(t *testing.T) {
	a := service.NewPaymentExecutionAgent(newExecutor(newFakeProvider(), newMemStore(), nil), 0)
	actx := &agent.Context{Tenant: agent.TenantProfile{WalletID: "wallet-1"}}
	unapproved := approvedRequest("req-1", 10)
	unapproved.Payload.Approved = false

	tests := []struct {
		name string
		req  *agent.Request
		actx *agent.Context
		at   time.Time
	}{
		{"nil request", nil, actx, time.Now().Add(time.Hour)},
		{"not approved", unapproved, actx, time.Now().Add(time.Hour)},
		{"past time", approvedRequest("req-2", 10), actx, time.Now().Add(-time.Hour)},
		{"no wallet", approvedRequest("req-3", 10), &agent.Context{}, time.Now().Add(time.Hour)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := a.SchedulePayment(context.Background(), tt.req, tt.actx, tt.at); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
