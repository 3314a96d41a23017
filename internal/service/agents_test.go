package service_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Strob0t/SpendPilot/internal/config"
	"github.com/Strob0t/SpendPilot/internal/domain/agent"
	"github.com/Strob0t/SpendPilot/internal/service"
)

func agentLimits() *config.Agents {
	cfg := config.Defaults()
	return &cfg.Agents
}

// weekdayNoon is a Wednesday inside business hours.
var weekdayNoon = time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

func purchase(id string, amount float64, category, description string) *agent.Request {
	return &agent.Request{
		ID:        id,
		TenantID:  "tenant-1",
		Type:      agent.TypeApproval,
		Timestamp: weekdayNoon,
		Payload: agent.Payload{
			Amount:      amount,
			Category:    category,
			Description: description,
			Vendor:      "Acme Supplies",
			EmployeeID:  "emp-1",
		},
	}
}

func TestValidationAgent(t *testing.T) {
	a := service.NewRequestValidationAgent(nil)
	tests := []struct {
		name          string
		category      string
		description   string
		justification string
		want          agent.Decision
		wantAction    string
	}{
		{"personal expense", "Office Supplies", "I'm hungry, need food money", "", agent.DecisionDeny, "reject_personal_expense"},
		{"vague", "Office Supplies", "misc stuff for the office", "", agent.DecisionDeny, "clarify_description"},
		{"empty description", "Office Supplies", "   ", "", agent.DecisionDeny, "add_description"},
		{"category mismatch", "Office Supplies", "two new laptops", "", agent.DecisionDeny, "recategorize:Equipment"},
		{"missing purpose", "Software", "design tool license", "", agent.DecisionDeny, "add_business_justification"},
		{"purpose in justification", "Software", "design tool license", "needed for the client project", agent.DecisionApprove, ""},
		{"valid office supplies", "Office Supplies", "printer paper and toner", "", agent.DecisionApprove, ""},
		{"whole words only", "Office Supplies", "paper for the spartan conference room", "", agent.DecisionApprove, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := purchase("req-v", 100, tt.category, tt.description)
			req.Payload.Justification = tt.justification
			resp := a.ProcessRequest(context.Background(), req, &agent.Context{})
			if resp.Decision != tt.want {
				t.Fatalf("decision = %s (%s), want %s", resp.Decision, resp.Reasoning, tt.want)
			}
			if tt.wantAction != "" && (len(resp.SuggestedActions) == 0 || resp.SuggestedActions[0] != tt.wantAction) {
				t.Errorf("actions = %v, want %s", resp.SuggestedActions, tt.wantAction)
			}
		})
	}
}

func TestValidationAgent_PersonalKeywordCited(t *testing.T) {
	a := service.NewRequestValidationAgent(nil)
	resp := a.ProcessRequest(context.Background(), purchase("req-b", 20, "Office Supplies", "I'm hungry, need food money"), nil)
	if !strings.Contains(resp.Reasoning, "hungry") {
		t.Errorf("reasoning %q should cite the keyword", resp.Reasoning)
	}
	if resp.ErrorKind != agent.KindValidationFailure {
		t.Errorf("error kind = %s", resp.ErrorKind)
	}
}

func TestLoadKeywordCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keywords.yaml")
	if err := os.WriteFile(path, []byte("personal:\n  - yacht\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cat, err := service.LoadKeywordCatalog(path)
	if err != nil {
		t.Fatalf("LoadKeywordCatalog: %v", err)
	}
	if len(cat.Personal) != 1 || cat.Personal[0] != "yacht" {
		t.Errorf("personal = %v", cat.Personal)
	}
	if len(cat.Vague) == 0 {
		t.Error("sections missing from the file keep defaults")
	}

	if _, err := service.LoadKeywordCatalog(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func budgetContext(total, spent float64) *agent.Context {
	return &agent.Context{
		Budget: agent.BudgetState{
			Total:       total,
			Spent:       spent,
			Remaining:   total - spent,
			PeriodStart: weekdayNoon.AddDate(0, 0, -3),
			PeriodEnd:   weekdayNoon.AddDate(0, 0, 27),
		},
	}
}

func TestBudgetGuardian(t *testing.T) {
	a := service.NewBudgetGuardianAgent()
	tests := []struct {
		name     string
		amount   float64
		category string
		urgency  string
		actx     *agent.Context
		want     agent.Decision
	}{
		{"overrun denies", 6000, "Software", "", budgetContext(10000, 5000), agent.DecisionDeny},
		{"large impact escalates", 30000, "Software", "", budgetContext(100000, 1000), agent.DecisionEscalate},
		{"strong value approves", 300, "Software", "", budgetContext(100000, 1000), agent.DecisionApprove},
		{"weak value analyzes", 3000, "Meals", "low", budgetContext(1_000_000, 1000), agent.DecisionAnalyze},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := purchase("req-b", tt.amount, tt.category, "team lunch")
			req.Payload.Urgency = tt.urgency
			resp := a.ProcessRequest(context.Background(), req, tt.actx)
			if resp.Decision != tt.want {
				t.Fatalf("decision = %s (%s), want %s", resp.Decision, resp.Reasoning, tt.want)
			}
		})
	}
}

func TestBudgetGuardian_PolicyViolationIsCritical(t *testing.T) {
	a := service.NewBudgetGuardianAgent()
	actx := budgetContext(100000, 0)
	actx.Policy.AllowedCategories = []string{"Software"}

	an := a.Analyze(purchase("req-1", 100, "Meals", "team lunch"), actx)
	found := false
	for _, f := range an.RiskFactors {
		if f.Kind == "policy_violation" && f.Severity == agent.RiskCritical {
			found = true
		}
	}
	if !found {
		t.Fatalf("risk factors = %+v", an.RiskFactors)
	}
}

func TestBudgetGuardian_MissingContextEscalates(t *testing.T) {
	resp := service.NewBudgetGuardianAgent().ProcessRequest(context.Background(), purchase("req-1", 10, "Software", "x"), nil)
	if resp.Decision != agent.DecisionEscalate || resp.Confidence != 0 {
		t.Fatalf("got %s/%v", resp.Decision, resp.Confidence)
	}
}

func TestUniversalApproval_CapDenies(t *testing.T) {
	a := service.NewUniversalApprovalAgent(agentLimits())
	resp := a.ProcessRequest(context.Background(), purchase("req-a", 50000, "Equipment", "laptops"), &agent.Context{})
	if resp.Decision != agent.DecisionDeny {
		t.Fatalf("decision = %s", resp.Decision)
	}
	if !strings.Contains(resp.Reasoning, "$10,000.00") {
		t.Errorf("reasoning %q should cite the cap", resp.Reasoning)
	}
	if resp.ErrorKind != agent.KindPolicyViolation {
		t.Errorf("error kind = %s", resp.ErrorKind)
	}
}

func TestUniversalApproval_SmallOffHoursApproves(t *testing.T) {
	a := service.NewUniversalApprovalAgent(agentLimits())
	req := purchase("req-c", 80, "Office Supplies", "printer paper")
	req.Timestamp = time.Date(2026, 3, 7, 23, 30, 0, 0, time.UTC) // Saturday night

	actx := &agent.Context{}
	if score := a.FraudScore(req, actx); score >= 20 {
		t.Fatalf("fraud score = %v, want < 20", score)
	}
	resp := a.ProcessRequest(context.Background(), req, actx)
	if resp.Decision != agent.DecisionApprove || resp.Confidence != 85 {
		t.Fatalf("got %s/%v, want approve/85", resp.Decision, resp.Confidence)
	}
}

func TestUniversalApproval_PolicyChecks(t *testing.T) {
	a := service.NewUniversalApprovalAgent(agentLimits())
	tests := []struct {
		name   string
		amount float64
		policy agent.PolicyThresholds
		hist   []agent.HistoricalRequest
	}{
		{"non-positive", 0, agent.PolicyThresholds{}, nil},
		{"transaction limit", 900, agent.PolicyThresholds{TransactionLimit: 500}, nil},
		{"daily limit", 300, agent.PolicyThresholds{DailyLimit: 500}, []agent.HistoricalRequest{
			{ID: "h1", Category: "Software", Amount: 400, Decision: agent.DecisionApprove, SubmittedAt: weekdayNoon.Add(-time.Hour)},
		}},
		{"category not allowed", 100, agent.PolicyThresholds{AllowedCategories: []string{"Travel"}}, nil},
		{"justification required", 600, agent.PolicyThresholds{RequireJustificationAbove: 500}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := a.ProcessRequest(context.Background(), purchase("req-p", tt.amount, "Software", "license"),
				&agent.Context{Policy: tt.policy, History: tt.hist})
			if resp.Decision != agent.DecisionDeny || resp.ErrorKind != agent.KindPolicyViolation {
				t.Fatalf("got %s/%s (%s)", resp.Decision, resp.ErrorKind, resp.Reasoning)
			}
		})
	}
}

func TestUniversalApproval_PatternApproves(t *testing.T) {
	a := service.NewUniversalApprovalAgent(agentLimits())
	var hist []agent.HistoricalRequest
	for i := range 4 {
		hist = append(hist, agent.HistoricalRequest{
			ID: "h" + string(rune('a'+i)), Category: "Software", Description: "seat renewal",
			Amount: 900 + float64(i)*10, Decision: agent.DecisionApprove, SubmittedAt: weekdayNoon.AddDate(0, -1, -i),
		})
	}
	resp := a.ProcessRequest(context.Background(), purchase("req-x", 950, "Software", "team license"), &agent.Context{History: hist})
	if resp.Decision != agent.DecisionApprove || resp.Confidence != 90 {
		t.Fatalf("got %s/%v (%s)", resp.Decision, resp.Confidence, resp.Reasoning)
	}
}

func TestUniversalApproval_FraudScoreClamped(t *testing.T) {
	a := service.NewUniversalApprovalAgent(agentLimits())
	req := purchase("req-f", 5000, "Software", "same description")
	req.Timestamp = time.Date(2026, 3, 8, 3, 0, 0, 0, time.UTC)

	var hist []agent.HistoricalRequest
	for i := range 10 {
		hist = append(hist, agent.HistoricalRequest{
			ID: "h", Category: "Software", Description: "same description", EmployeeID: "emp-1",
			Amount: 10, SubmittedAt: req.Timestamp.Add(-time.Duration(i+1) * time.Minute),
		})
	}
	actx := &agent.Context{History: hist}
	score := a.FraudScore(req, actx)
	if score < 0 || score > 100 {
		t.Fatalf("score %v out of range", score)
	}
	if score <= 70 {
		t.Fatalf("score = %v, want > 70", score)
	}
	if resp := a.ProcessRequest(context.Background(), req, actx); resp.Decision != agent.DecisionDeny {
		t.Errorf("decision = %s, want deny", resp.Decision)
	}
}

func TestUniversalApproval_OverRemainingBudgetDenies(t *testing.T) {
	a := service.NewUniversalApprovalAgent(agentLimits())
	resp := a.ProcessRequest(context.Background(), purchase("req-r", 400, "Software", "license"), budgetContext(1000, 900))
	if resp.Decision != agent.DecisionDeny || resp.ErrorKind != agent.KindBudgetRisk {
		t.Fatalf("got %s/%s", resp.Decision, resp.ErrorKind)
	}
}

func reimbursement(id string, amount float64, receipt bool) *agent.Request {
	return &agent.Request{
		ID:        id,
		TenantID:  "tenant-1",
		Type:      agent.TypeReimbursement,
		Timestamp: weekdayNoon,
		Payload: agent.Payload{
			Amount:      amount,
			Category:    "Meals",
			Description: "client dinner",
			EmployeeID:  "emp-7",
			HasReceipt:  receipt,
			ExpenseDate: weekdayNoon.AddDate(0, 0, -2),
		},
	}
}

func TestSmartReimbursement_MissingReceiptEscalates(t *testing.T) {
	p := newFakeProvider()
	a := service.NewSmartReimbursementAgent(newExecutor(p, newMemStore(), nil), nil, agentLimits())

	resp := a.ProcessRequest(context.Background(), reimbursement("req-d", 45, false), &agent.Context{Tenant: agent.TenantProfile{WalletID: "wallet-1"}})
	if resp.Decision != agent.DecisionEscalate {
		t.Fatalf("decision = %s", resp.Decision)
	}
	found := false
	for _, act := range resp.SuggestedActions {
		if act == "manual_review" {
			found = true
		}
	}
	if !found {
		t.Errorf("actions = %v, want manual_review", resp.SuggestedActions)
	}
	if resp.PaymentExecuted || p.transferCount() != 0 {
		t.Error("no payment expected")
	}
}

func TestSmartReimbursement_PaysSmallExpense(t *testing.T) {
	p := newFakeProvider()
	st := newMemStore()
	a := service.NewSmartReimbursementAgent(newExecutor(p, st, nil), nil, agentLimits())

	resp := a.ProcessRequest(context.Background(), reimbursement("req-e", 45, true), &agent.Context{Tenant: agent.TenantProfile{WalletID: "wallet-1"}})
	if resp.Decision != agent.DecisionApprove || !resp.PaymentExecuted {
		t.Fatalf("got %+v", resp)
	}
	if p.payees[0].Name != "emp-7" {
		t.Errorf("payee = %s, want the employee", p.payees[0].Name)
	}
	if st.completed["req-e"] == "" {
		t.Error("request should be marked completed")
	}
}

func TestSmartReimbursement_NoWalletManualPayment(t *testing.T) {
	a := service.NewSmartReimbursementAgent(nil, nil, agentLimits())
	resp := a.ProcessRequest(context.Background(), reimbursement("req-n", 45, true), &agent.Context{})
	if resp.Decision != agent.DecisionApprove || resp.Confidence != 85 {
		t.Fatalf("got %s/%v", resp.Decision, resp.Confidence)
	}
	if len(resp.SuggestedActions) != 1 || resp.SuggestedActions[0] != "manual_payment" {
		t.Errorf("actions = %v", resp.SuggestedActions)
	}
}

func TestSmartReimbursement_OverCeilingNeedsFinance(t *testing.T) {
	a := service.NewSmartReimbursementAgent(nil, nil, agentLimits())
	resp := a.ProcessRequest(context.Background(), reimbursement("req-o", 420, true), &agent.Context{})
	if resp.Decision != agent.DecisionEscalate {
		t.Fatalf("decision = %s", resp.Decision)
	}
	if !strings.Contains(strings.Join(resp.SuggestedActions, ","), "approval_required:finance") {
		t.Errorf("actions = %v", resp.SuggestedActions)
	}
}

func TestSmartReimbursement_FraudScoreClamped(t *testing.T) {
	a := service.NewSmartReimbursementAgent(nil, nil, agentLimits())
	req := reimbursement("req-z", 3000, false)
	req.Payload.Category = "Travel"
	var hist []agent.HistoricalRequest
	for i := range 6 {
		hist = append(hist, agent.HistoricalRequest{
			ID: "h", Category: "Travel", EmployeeID: "emp-7", Amount: 3000,
			SubmittedAt: weekdayNoon.Add(-time.Duration(i+1) * time.Hour),
		})
	}
	actx := &agent.Context{History: hist}
	an := a.Analyze(req, actx)
	if score := a.FraudScore(req, actx, an); score != 100 {
		t.Fatalf("score = %v, want clamped to 100", score)
	}
}

func TestSmartReimbursement_PaymentFailureDenies(t *testing.T) {
	p := newFakeProvider()
	p.transferErr = errors.New("payee account closed")
	a := service.NewSmartReimbursementAgent(newExecutor(p, newMemStore(), nil), nil, agentLimits())

	resp := a.ProcessRequest(context.Background(), reimbursement("req-pf", 45, true), &agent.Context{Tenant: agent.TenantProfile{WalletID: "wallet-1"}})
	if resp.Decision != agent.DecisionDeny || resp.ErrorKind != agent.KindExecutionFailure {
		t.Fatalf("got %s/%s", resp.Decision, resp.ErrorKind)
	}
}

func TestSmartReimbursement_ProcessBatch(t *testing.T) {
	actx := &agent.Context{Tenant: agent.TenantProfile{WalletID: "wallet-1"}}
	batch := func() []*agent.Request {
		return []*agent.Request{reimbursement("rb-1", 44, true), reimbursement("rb-2", 45, true), reimbursement("rb-3", 46, true)}
	}

	t.Run("pauses between payments", func(t *testing.T) {
		p := newFakeProvider()
		cfg := agentLimits()
		cfg.InterPaymentDelay = 20 * time.Millisecond
		a := service.NewSmartReimbursementAgent(newExecutor(p, newMemStore(), nil), nil, cfg)

		start := time.Now()
		out := a.ProcessBatch(context.Background(), batch(), actx)
		if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
			t.Errorf("elapsed = %v, want at least two pauses", elapsed)
		}
		if len(out) != 3 || p.transferCount() != 3 {
			t.Fatalf("responses=%d transfers=%d", len(out), p.transferCount())
		}
		for _, resp := range out {
			if !resp.PaymentExecuted {
				t.Errorf("not paid: %+v", resp)
			}
		}
	})

	t.Run("cancellation stops remaining payments", func(t *testing.T) {
		p := newFakeProvider()
		cfg := agentLimits()
		cfg.InterPaymentDelay = time.Second
		a := service.NewSmartReimbursementAgent(newExecutor(p, newMemStore(), nil), nil, cfg)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()
		start := time.Now()
		out := a.ProcessBatch(ctx, batch(), actx)
		if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
			t.Errorf("batch kept waiting after cancellation: %v", elapsed)
		}
		if len(out) != 3 || !out[0].PaymentExecuted || p.transferCount() != 1 {
			t.Fatalf("responses=%d transfers=%d first=%+v", len(out), p.transferCount(), out[0])
		}
		for _, resp := range out[1:] {
			if resp.PaymentExecuted || resp.Decision != agent.DecisionEscalate || !strings.Contains(resp.Reasoning, "cancelled") {
				t.Errorf("response = %+v", resp)
			}
		}
		if out[2].RequestID != "rb-3" {
			t.Errorf("request id = %q", out[2].RequestID)
		}
	})
}

func TestReimbursementPolicy(t *testing.T) {
	pol := service.DefaultReimbursementPolicy()
	if got := pol.Ceiling("Meals", nil); got != 150 {
		t.Errorf("meals = %v", got)
	}
	if got := pol.Ceiling("meals", map[string]float64{"Meals": 80}); got != 80 {
		t.Errorf("tenant override = %v", got)
	}
	if got := pol.Ceiling("Gadgets", nil); got != 1000 {
		t.Errorf("default = %v", got)
	}

	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte("ceilings:\n  Meals: 200\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	loaded, err := service.LoadReimbursementPolicy(path)
	if err != nil {
		t.Fatalf("LoadReimbursementPolicy: %v", err)
	}
	if got := loaded.Ceiling("Meals", nil); got != 200 {
		t.Errorf("loaded meals = %v", got)
	}
}

func TestAgents_NilRequestEscalates(t *testing.T) {
	agents := []interface {
		ProcessRequest(context.Context, *agent.Request, *agent.Context) agent.Response
		Metrics() agent.Metrics
	}{
		service.NewRequestValidationAgent(nil),
		service.NewBudgetGuardianAgent(),
		service.NewUniversalApprovalAgent(agentLimits()),
		service.NewPaymentExecutionAgent(nil, 0),
		service.NewSmartReimbursementAgent(nil, nil, agentLimits()),
	}
	for _, a := range agents {
		resp := a.ProcessRequest(context.Background(), nil, &agent.Context{})
		if resp.Decision != agent.DecisionEscalate || resp.Confidence != 0 {
			t.Errorf("%T: got %s/%v", a, resp.Decision, resp.Confidence)
		}
		if a.Metrics().TotalRequests != 1 {
			t.Errorf("%T: total requests = %d", a, a.Metrics().TotalRequests)
		}
	}
}

func TestAgentMetricsAndFeedback(t *testing.T) {
	a := service.NewRequestValidationAgent(nil)
	a.ProcessRequest(context.Background(), purchase("r1", 10, "Office Supplies", "printer paper"), nil)
	a.ProcessRequest(context.Background(), purchase("r2", 10, "Office Supplies", "misc stuff"), nil)
	a.UpdateLearning(agent.Feedback{RequestID: "r1", ActualOutcome: agent.OutcomeCorrect, UserSatisfaction: 5})
	a.UpdateLearning(agent.Feedback{RequestID: "r2", ActualOutcome: agent.OutcomeIncorrect, UserSatisfaction: 1})

	m := a.Metrics()
	if m.TotalRequests != 2 || m.Approved != 1 || m.Denied != 1 {
		t.Fatalf("metrics = %+v", m)
	}
	if m.FeedbackCount != 2 || m.Accuracy != 0.5 {
		t.Errorf("feedback=%d accuracy=%v", m.FeedbackCount, m.Accuracy)
	}
}
