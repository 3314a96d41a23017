package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Strob0t/SpendPilot/internal/config"
	"github.com/Strob0t/SpendPilot/internal/domain/agent"
)

// ReimbursementPolicy holds per-category reimbursement ceilings.
type ReimbursementPolicy struct {
	Ceilings       map[string]float64 `yaml:"ceilings"`
	DefaultCeiling float64            `yaml:"default_ceiling"`
}

// DefaultReimbursementPolicy returns the built-in category ceilings.
func DefaultReimbursementPolicy() *ReimbursementPolicy {
	return &ReimbursementPolicy{
		Ceilings: map[string]float64{
			"meals":           150,
			"office supplies": 500,
			"software":        1000,
			"training":        2000,
			"travel":          2500,
			"equipment":       3000,
		},
		DefaultCeiling: 1000,
	}
}

// LoadReimbursementPolicy reads ceilings from a YAML file on top of the defaults.
func LoadReimbursementPolicy(path string) (*ReimbursementPolicy, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("read reimbursement policy: %w", err)
	}
	var override ReimbursementPolicy
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("parse reimbursement policy %s: %w", path, err)
	}
	pol := DefaultReimbursementPolicy()
	for c, v := range override.Ceilings {
		pol.Ceilings[strings.ToLower(c)] = v
	}
	if override.DefaultCeiling > 0 {
		pol.DefaultCeiling = override.DefaultCeiling
	}
	return pol, nil
}

// Ceiling returns the limit for category. Tenant category limits win over
// the built-in table.
func (p *ReimbursementPolicy) Ceiling(category string, tenant map[string]float64) float64 {
	for c, v := range tenant {
		if strings.EqualFold(c, category) && v > 0 {
			return v
		}
	}
	if v, ok := p.Ceilings[strings.ToLower(category)]; ok {
		return v
	}
	return p.DefaultCeiling
}

// ExpenseAnalysis compares an expense with the employee's and department's history.
type ExpenseAnalysis struct {
	LegitimacyScore   float64  `json:"legitimacy_score"`
	EmployeeAverage   float64  `json:"employee_average"`
	DepartmentAverage float64  `json:"department_average"`
	CategoryAllowance float64  `json:"category_allowance"`
	SimilarExpenses   int      `json:"similar_expenses"`
	Deviation         float64  `json:"deviation"`
	RiskFactors       []string `json:"risk_factors"`
}

// SmartReimbursementAgent validates employee expenses and pays small,
// low-risk ones immediately.
type SmartReimbursementAgent struct {
	exec      *PaymentExecutor
	policy    *ReimbursementPolicy
	maxAmount float64
	lookback  time.Duration
	delay     time.Duration
	stats     *agentStats
	now       func() time.Time
}

// NewSmartReimbursementAgent creates the reimbursement agent. A nil policy
// uses the built-in ceilings.
func NewSmartReimbursementAgent(exec *PaymentExecutor, policy *ReimbursementPolicy, cfg *config.Agents) *SmartReimbursementAgent {
	if policy == nil {
		policy = DefaultReimbursementPolicy()
	}
	return &SmartReimbursementAgent{
		exec:      exec,
		policy:    policy,
		maxAmount: cfg.ReimbursementMaxAmount,
		lookback:  cfg.DuplicateLookback,
		delay:     cfg.InterPaymentDelay,
		stats:     newAgentStats(AgentSmartReimbursement),
		now:       time.Now,
	}
}

func (a *SmartReimbursementAgent) ID() string { return AgentSmartReimbursement }

func (a *SmartReimbursementAgent) Capabilities() agent.Capabilities {
	return agent.Capabilities{
		CanApprove:         true,
		CanExecutePayments: true,
		CanDetectFraud:     true,
		MaxAmount:          a.maxAmount,
	}
}

func (a *SmartReimbursementAgent) Metrics() agent.Metrics { return a.stats.snapshot() }

func (a *SmartReimbursementAgent) UpdateLearning(fb agent.Feedback) { a.stats.recordFeedback(&fb) }

// ProcessRequest validates the expense, then pays it when it is under the
// cap with a fraud score below 30, or approves it for manual payment.
func (a *SmartReimbursementAgent) ProcessRequest(ctx context.Context, req *agent.Request, actx *agent.Context) agent.Response {
	return decide(a.ID(), req, a.stats, func() (agent.Response, error) {
		if actx == nil {
			actx = &agent.Context{}
		}
		an := a.Analyze(req, actx)
		fraud := a.FraudScore(req, actx, an)
		return a.decideExpense(ctx, req, actx, an, fraud), nil
	})
}

// Analyze builds the expense analysis for req.
func (a *SmartReimbursementAgent) Analyze(req *agent.Request, actx *agent.Context) *ExpenseAnalysis {
	p := &req.Payload
	an := &ExpenseAnalysis{
		LegitimacyScore:   100,
		CategoryAllowance: a.policy.Ceiling(p.Category, actx.Policy.CategoryLimits),
	}

	var empSum, deptSum float64
	var empN, deptN int
	for i := range actx.History {
		h := &actx.History[i]
		if !strings.EqualFold(h.Category, p.Category) {
			continue
		}
		if p.EmployeeID != "" && h.EmployeeID == p.EmployeeID {
			empSum += h.Amount
			empN++
		}
		if p.Department != "" && strings.EqualFold(h.Department, p.Department) {
			deptSum += h.Amount
			deptN++
		}
		if p.Amount > 0 && h.Amount >= 0.7*p.Amount && h.Amount <= 1.3*p.Amount {
			an.SimilarExpenses++
		}
	}
	if empN > 0 {
		an.EmployeeAverage = empSum / float64(empN)
	}
	if deptN > 0 {
		an.DepartmentAverage = deptSum / float64(deptN)
	}

	ref := an.EmployeeAverage
	if ref == 0 {
		ref = an.DepartmentAverage
	}
	if ref == 0 {
		ref = actx.CategoryAverage(p.Category)
	}
	if ref > 0 {
		an.Deviation = p.Amount / ref
		switch {
		case an.Deviation > 3:
			an.LegitimacyScore -= 40
			an.RiskFactors = append(an.RiskFactors, fmt.Sprintf("amount is %.1fx the usual expense", an.Deviation))
		case an.Deviation > 2:
			an.LegitimacyScore -= 25
			an.RiskFactors = append(an.RiskFactors, fmt.Sprintf("amount is %.1fx the usual expense", an.Deviation))
		case an.Deviation > 1.5:
			an.LegitimacyScore -= 10
		}
	} else {
		an.LegitimacyScore -= 10
	}
	if p.Amount > an.CategoryAllowance {
		an.LegitimacyScore -= 20
	}
	an.LegitimacyScore = agent.ClampScore(an.LegitimacyScore)
	return an
}

// FraudScore sums the reimbursement fraud indicators, clamped to [0,100].
func (a *SmartReimbursementAgent) FraudScore(req *agent.Request, actx *agent.Context, an *ExpenseAnalysis) float64 {
	p := &req.Payload
	var score float64

	switch {
	case p.Amount > 1000:
		score += 10
	case p.Amount > 500:
		score += 5
	}

	if p.EmployeeID != "" && countRecent(actx.History, p.EmployeeID, req.SubmittedAt(), 24*time.Hour) > 3 {
		score += 20
		an.RiskFactors = append(an.RiskFactors, "frequent submissions")
	}

	score += (100 - an.LegitimacyScore) * 0.3

	if !hasReceipt(p) {
		score += 20
		an.RiskFactors = append(an.RiskFactors, "missing receipt")
	}
	if p.Amount > 2500 {
		score += 15
		an.RiskFactors = append(an.RiskFactors, "amount above "+formatMoney(2500))
	}
	if a.isDuplicate(req, actx) {
		score += 30
		an.RiskFactors = append(an.RiskFactors, "possible duplicate expense")
	}
	if isRoundAmount(p.Amount) {
		score += 10
		an.RiskFactors = append(an.RiskFactors, "round-number amount")
	}

	return agent.ClampScore(score)
}

// isDuplicate reports an earlier expense with the same amount and category
// dated within the lookback window.
func (a *SmartReimbursementAgent) isDuplicate(req *agent.Request, actx *agent.Context) bool {
	p := &req.Payload
	date := p.ExpenseDate
	if date.IsZero() {
		date = req.SubmittedAt()
	}
	for i := range actx.History {
		h := &actx.History[i]
		if h.ID == req.ID || h.Amount != p.Amount || !strings.EqualFold(h.Category, p.Category) {
			continue
		}
		d := h.SubmittedAt.Sub(date)
		if d < 0 {
			d = -d
		}
		if d <= a.lookback {
			return true
		}
	}
	return false
}

func hasReceipt(p *agent.Payload) bool {
	return p.HasReceipt || strings.TrimSpace(p.ReceiptURL) != ""
}

// violations lists the reasons an expense fails validation.
func (a *SmartReimbursementAgent) violations(p *agent.Payload, an *ExpenseAnalysis) []string {
	var v []string
	if !hasReceipt(p) {
		v = append(v, "receipt is required")
	}
	switch {
	case p.ExpenseDate.IsZero():
		v = append(v, "expense date is required")
	case p.ExpenseDate.After(a.now()):
		v = append(v, "expense date is in the future")
	}
	if p.Amount <= 0 {
		v = append(v, "amount must be positive")
	}
	if p.Amount > an.CategoryAllowance {
		v = append(v, fmt.Sprintf("amount exceeds the %s ceiling of %s", p.Category, formatMoney(an.CategoryAllowance)))
	}
	return v
}

func (a *SmartReimbursementAgent) decideExpense(ctx context.Context, req *agent.Request, actx *agent.Context, an *ExpenseAnalysis, fraud float64) agent.Response {
	p := &req.Payload
	risk := riskFromScore(fraud)
	facts := fmt.Sprintf("legitimacy %.0f, fraud score %.0f", an.LegitimacyScore, fraud)

	if v := a.violations(p, an); len(v) > 0 {
		actions := []string{"manual_review", "approval_required:manager"}
		if p.Amount > an.CategoryAllowance {
			actions = append(actions, "approval_required:finance")
		}
		return agent.Response{
			Decision:         agent.DecisionEscalate,
			Confidence:       75,
			Reasoning:        "Reimbursement needs review: " + strings.Join(v, "; ") + " (" + facts + ")",
			RiskLevel:        maxRisk(risk, agent.RiskMedium),
			SuggestedActions: actions,
			ErrorKind:        agent.KindValidationFailure,
		}
	}

	if a.maxAmount > 0 && p.Amount <= a.maxAmount && fraud < 30 {
		walletID := actx.Tenant.WalletID
		if walletID == "" {
			return agent.Response{
				Decision:         agent.DecisionApprove,
				Confidence:       85,
				Reasoning:        "Reimbursement approved; no tenant wallet configured for automatic payment (" + facts + ")",
				RiskLevel:        risk,
				SuggestedActions: []string{"manual_payment"},
			}
		}
		paid := *req
		paid.Payload.Approved = true
		paid.Payload.Vendor = payeeName(p)
		tr, err := a.exec.Execute(ctx, &paid, walletID, a.ID())
		if err != nil {
			return failedPaymentResponse(err)
		}
		return agent.Response{
			Decision:        agent.DecisionApprove,
			Confidence:      90,
			Reasoning:       fmt.Sprintf("Reimbursed %s to %s immediately (transfer %s, %s)", formatMoney(p.Amount), payeeName(p), tr.ID, facts),
			RiskLevel:       risk,
			PaymentExecuted: true,
			EstimatedCost:   p.Amount,
			TransferID:      tr.ID,
		}
	}

	actions := []string{"manual_approval_required"}
	if fraud >= 70 {
		actions = append(actions, "fraud_review")
	}
	return agent.Response{
		Decision:         agent.DecisionApprove,
		Confidence:       70,
		Reasoning:        "Reimbursement is valid but above the automatic payment limit or risk threshold; pay after manual approval (" + facts + ")",
		RiskLevel:        risk,
		SuggestedActions: actions,
	}
}

// ProcessBatch handles reimbursements one after another with the configured pause.
func (a *SmartReimbursementAgent) ProcessBatch(ctx context.Context, reqs []*agent.Request, actx *agent.Context) []agent.Response {
	out := make([]agent.Response, 0, len(reqs))
	for i, req := range reqs {
		if i > 0 && a.delay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(a.delay):
			}
		}
		if err := ctx.Err(); err != nil {
			id := ""
			if req != nil {
				id = req.ID
			}
			resp := agent.ErrorResponse(id, a.ID(), fmt.Errorf("cancelled: %w", err))
			out = append(out, resp)
			continue
		}
		out = append(out, a.ProcessRequest(ctx, req, actx))
	}
	slog.Info("reimbursement batch finished", "total", len(reqs))
	return out
}

func payeeName(p *agent.Payload) string {
	if p.Vendor != "" {
		return p.Vendor
	}
	return p.EmployeeID
}

func maxRisk(a, b agent.RiskLevel) agent.RiskLevel {
	rank := map[agent.RiskLevel]int{agent.RiskLow: 0, agent.RiskMedium: 1, agent.RiskHigh: 2, agent.RiskCritical: 3}
	if rank[a] >= rank[b] {
		return a
	}
	return b
}
