package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/Strob0t/SpendPilot/internal/config"
	"github.com/Strob0t/SpendPilot/internal/domain/agent"
)

// ApprovalPattern summarises similar past requests of the tenant.
type ApprovalPattern struct {
	Similar       int     `json:"similar"`
	ApprovalRate  float64 `json:"approval_rate"`
	AverageAmount float64 `json:"average_amount"`
}

// UniversalApprovalAgent auto-decides requests up to its amount cap using
// policy checks, historical patterns and a fraud score.
type UniversalApprovalAgent struct {
	maxAmount  float64
	hoursStart int
	hoursEnd   int
	stats      *agentStats
	now        func() time.Time
}

// NewUniversalApprovalAgent creates the approval agent from the agent limits.
func NewUniversalApprovalAgent(cfg *config.Agents) *UniversalApprovalAgent {
	return &UniversalApprovalAgent{
		maxAmount:  cfg.ApprovalMaxAmount,
		hoursStart: cfg.BusinessHoursStart,
		hoursEnd:   cfg.BusinessHoursEnd,
		stats:      newAgentStats(AgentUniversalApproval),
		now:        time.Now,
	}
}

func (a *UniversalApprovalAgent) ID() string { return AgentUniversalApproval }

func (a *UniversalApprovalAgent) Capabilities() agent.Capabilities {
	return agent.Capabilities{
		CanApprove:     true,
		CanDetectFraud: true,
		MaxAmount:      a.maxAmount,
	}
}

func (a *UniversalApprovalAgent) Metrics() agent.Metrics { return a.stats.snapshot() }

func (a *UniversalApprovalAgent) UpdateLearning(fb agent.Feedback) { a.stats.recordFeedback(&fb) }

// ProcessRequest applies hard policy checks first, then the fraud and
// pattern based decision ladder.
func (a *UniversalApprovalAgent) ProcessRequest(_ context.Context, req *agent.Request, actx *agent.Context) agent.Response {
	return decide(a.ID(), req, a.stats, func() (agent.Response, error) {
		if actx == nil {
			actx = &agent.Context{}
		}
		if resp, violated := a.checkPolicy(req, actx); violated {
			return resp, nil
		}
		fraud := a.FraudScore(req, actx)
		pattern := similarPattern(req, actx)
		return a.ladder(req, actx, fraud, pattern), nil
	})
}

func (a *UniversalApprovalAgent) checkPolicy(req *agent.Request, actx *agent.Context) (agent.Response, bool) {
	p := &req.Payload
	pol := &actx.Policy

	var reason string
	switch {
	case p.Amount <= 0:
		reason = fmt.Sprintf("Amount %s must be positive", formatMoney(p.Amount))
	case a.maxAmount > 0 && p.Amount > a.maxAmount:
		reason = fmt.Sprintf("Amount %s exceeds this agent's %s auto-decision cap",
			formatMoney(p.Amount), formatMoney(a.maxAmount))
	case pol.TransactionLimit > 0 && p.Amount > pol.TransactionLimit:
		reason = fmt.Sprintf("Amount %s exceeds the tenant transaction limit %s",
			formatMoney(p.Amount), formatMoney(pol.TransactionLimit))
	case pol.DailyLimit > 0 && a.spentToday(req, actx)+p.Amount > pol.DailyLimit:
		reason = fmt.Sprintf("Amount %s would exceed the tenant daily limit %s",
			formatMoney(p.Amount), formatMoney(pol.DailyLimit))
	case !pol.CategoryAllowed(p.Category):
		reason = fmt.Sprintf("Category %q is not allowed by tenant policy", p.Category)
	case pol.RequireJustificationAbove > 0 && p.Amount > pol.RequireJustificationAbove &&
		strings.TrimSpace(p.Justification) == "":
		reason = fmt.Sprintf("Requests above %s require a justification",
			formatMoney(pol.RequireJustificationAbove))
	default:
		return agent.Response{}, false
	}

	return agent.Response{
		Decision:         agent.DecisionDeny,
		Confidence:       99,
		Reasoning:        reason,
		RiskLevel:        agent.RiskHigh,
		SuggestedActions: []string{"manual_review"},
		ErrorKind:        agent.KindPolicyViolation,
	}, true
}

func (a *UniversalApprovalAgent) spentToday(req *agent.Request, actx *agent.Context) float64 {
	at := req.SubmittedAt()
	y, m, d := at.Date()
	var sum float64
	for i := range actx.History {
		h := &actx.History[i]
		hy, hm, hd := h.SubmittedAt.In(at.Location()).Date()
		if hy == y && hm == m && hd == d && h.Decision == agent.DecisionApprove {
			sum += h.Amount
		}
	}
	return sum
}

// FraudScore sums the fraud indicators of a request, clamped to [0,100].
func (a *UniversalApprovalAgent) FraudScore(req *agent.Request, actx *agent.Context) float64 {
	p := &req.Payload
	at := req.SubmittedAt()
	var score float64

	if avg := actx.CategoryAverage(p.Category); avg > 0 {
		switch ratio := p.Amount / avg; {
		case ratio > 3:
			score += 30
		case ratio > 2:
			score += 20
		case ratio > 1.5:
			score += 15
		}
	}

	if a.offHours(at) {
		score += 10
	}

	if countRecent(actx.History, p.EmployeeID, at, 24*time.Hour) > 5 {
		score += 20
	}

	if p.Amount > 1000 && isRoundAmount(p.Amount) {
		score += 5
	}

	if desc := strings.TrimSpace(strings.ToLower(p.Description)); desc != "" {
		for i := range actx.History {
			if strings.TrimSpace(strings.ToLower(actx.History[i].Description)) == desc {
				score += 25
				break
			}
		}
	}

	return agent.ClampScore(score)
}

func (a *UniversalApprovalAgent) offHours(at time.Time) bool {
	if wd := at.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return true
	}
	h := at.Hour()
	return h < a.hoursStart || h >= a.hoursEnd
}

// similarPattern looks at same-category history within 30% of the amount.
func similarPattern(req *agent.Request, actx *agent.Context) ApprovalPattern {
	p := &req.Payload
	var pat ApprovalPattern
	var approved int
	var sum float64
	for i := range actx.History {
		h := &actx.History[i]
		if !strings.EqualFold(h.Category, p.Category) {
			continue
		}
		if math.Abs(h.Amount-p.Amount) > 0.3*p.Amount {
			continue
		}
		pat.Similar++
		sum += h.Amount
		if h.Decision == agent.DecisionApprove {
			approved++
		}
	}
	if pat.Similar > 0 {
		pat.ApprovalRate = float64(approved) / float64(pat.Similar)
		pat.AverageAmount = sum / float64(pat.Similar)
	}
	return pat
}

const minSimilarForPattern = 3

func (a *UniversalApprovalAgent) ladder(req *agent.Request, actx *agent.Context, fraud float64, pat ApprovalPattern) agent.Response {
	p := &req.Payload
	risk := riskFromScore(fraud)
	facts := fmt.Sprintf("fraud score %.0f, %d similar requests", fraud, pat.Similar)

	switch {
	case fraud > 70:
		return agent.Response{
			Decision:         agent.DecisionDeny,
			Confidence:       95,
			Reasoning:        "Fraud indicators are too strong to approve (" + facts + ")",
			RiskLevel:        agent.RiskCritical,
			SuggestedActions: []string{"fraud_review"},
			ErrorKind:        agent.KindFraudSuspicion,
		}
	case fraud > 40:
		return agent.Response{
			Decision:         agent.DecisionEscalate,
			Confidence:       80,
			Reasoning:        "Fraud indicators need human review (" + facts + ")",
			RiskLevel:        agent.RiskHigh,
			SuggestedActions: []string{"fraud_review", "manual_review"},
			ErrorKind:        agent.KindFraudSuspicion,
		}
	case actx.Budget.Total > 0 && p.Amount > actx.Budget.Remaining:
		return agent.Response{
			Decision:   agent.DecisionDeny,
			Confidence: 99,
			Reasoning: fmt.Sprintf("Amount %s exceeds the remaining budget %s",
				formatMoney(p.Amount), formatMoney(actx.Budget.Remaining)),
			RiskLevel:        agent.RiskHigh,
			SuggestedActions: []string{"request_budget_increase"},
			ErrorKind:        agent.KindBudgetRisk,
		}
	}

	var resp agent.Response
	avg := actx.CategoryAverage(p.Category)
	switch {
	case pat.Similar >= minSimilarForPattern && pat.ApprovalRate > 0.8 && p.Amount <= 1.5*pat.AverageAmount:
		resp = agent.Response{
			Decision:   agent.DecisionApprove,
			Confidence: 90,
			Reasoning: fmt.Sprintf("Consistent with history: %.0f%% of similar requests approved at an average of %s (%s)",
				pat.ApprovalRate*100, formatMoney(pat.AverageAmount), facts),
		}
	case p.Amount < 500 && fraud < 20:
		resp = agent.Response{
			Decision:   agent.DecisionApprove,
			Confidence: 85,
			Reasoning:  fmt.Sprintf("Small amount %s with low fraud risk (%s)", formatMoney(p.Amount), facts),
		}
	case pat.Similar >= minSimilarForPattern && pat.ApprovalRate < 0.5:
		resp = agent.Response{
			Decision:         agent.DecisionEscalate,
			Confidence:       70,
			Reasoning:        fmt.Sprintf("Similar requests were usually not approved (%.0f%%, %s)", pat.ApprovalRate*100, facts),
			SuggestedActions: []string{"manual_review"},
		}
	case avg > 0 && p.Amount > 3*avg:
		resp = agent.Response{
			Decision:         agent.DecisionEscalate,
			Confidence:       70,
			Reasoning:        fmt.Sprintf("Amount is %.1fx the %s average of %s (%s)", p.Amount/avg, p.Category, formatMoney(avg), facts),
			SuggestedActions: []string{"manual_review"},
		}
	case actx.Policy.AutoApprovalLimit > 0 && p.Amount < actx.Policy.AutoApprovalLimit:
		resp = agent.Response{
			Decision:   agent.DecisionApprove,
			Confidence: 80,
			Reasoning: fmt.Sprintf("Amount is below the auto-approval threshold of %s (%s)",
				formatMoney(actx.Policy.AutoApprovalLimit), facts),
		}
	default:
		resp = agent.Response{
			Decision:         agent.DecisionEscalate,
			Confidence:       60,
			Reasoning:        "No rule supports automatic approval; escalating for review (" + facts + ")",
			SuggestedActions: []string{"manual_review"},
		}
	}

	if fraud > 20 {
		resp.Confidence *= 1 - (fraud-20)/100
	}
	resp.RiskLevel = risk
	return resp
}
