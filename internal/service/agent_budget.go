package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Strob0t/SpendPilot/internal/domain/agent"
)

// categoryValue weights how much business value a category usually returns.
var categoryValue = map[string]float64{
	"software":        0.9,
	"training":        0.85,
	"equipment":       0.8,
	"office supplies": 0.75,
	"marketing":       0.7,
	"travel":          0.6,
	"meals":           0.5,
}

const defaultCategoryValue = 0.6

// RiskFactor is one reason the budget guardian found a request risky.
type RiskFactor struct {
	Kind        string          `json:"kind"`
	Severity    agent.RiskLevel `json:"severity"`
	Description string          `json:"description"`
}

// BudgetAnalysis is the budget guardian's working view of one request.
type BudgetAnalysis struct {
	ImpactPercent  float64      `json:"impact_percent"`
	DailyBurnRate  float64      `json:"daily_burn_rate"`
	ProjectedSpend float64      `json:"projected_spend"`
	CostBenefit    float64      `json:"cost_benefit"`
	RiskFactors    []RiskFactor `json:"risk_factors"`
}

func (b *BudgetAnalysis) highest() agent.RiskLevel {
	level := agent.RiskLow
	for _, f := range b.RiskFactors {
		switch {
		case f.Severity == agent.RiskCritical:
			return agent.RiskCritical
		case f.Severity == agent.RiskHigh:
			level = agent.RiskHigh
		case f.Severity == agent.RiskMedium && level == agent.RiskLow:
			level = agent.RiskMedium
		}
	}
	return level
}

// BudgetGuardianAgent analyses the budget impact of a request. It never
// approves payments itself.
type BudgetGuardianAgent struct {
	stats *agentStats
	now   func() time.Time
}

// NewBudgetGuardianAgent creates the budget guardian.
func NewBudgetGuardianAgent() *BudgetGuardianAgent {
	return &BudgetGuardianAgent{
		stats: newAgentStats(AgentBudgetGuardian),
		now:   time.Now,
	}
}

func (a *BudgetGuardianAgent) ID() string { return AgentBudgetGuardian }

func (a *BudgetGuardianAgent) Capabilities() agent.Capabilities {
	return agent.Capabilities{
		CanAnalyzeBudget:   true,
		CanPredictSpending: true,
	}
}

func (a *BudgetGuardianAgent) Metrics() agent.Metrics { return a.stats.snapshot() }

func (a *BudgetGuardianAgent) UpdateLearning(fb agent.Feedback) { a.stats.recordFeedback(&fb) }

// ProcessRequest decides by precedence: critical risk denies, high risk
// escalates, impact above 25% of the remaining budget escalates, a strong
// cost-benefit score approves, anything else asks for more justification.
func (a *BudgetGuardianAgent) ProcessRequest(_ context.Context, req *agent.Request, actx *agent.Context) agent.Response {
	return decide(a.ID(), req, a.stats, func() (agent.Response, error) {
		if actx == nil {
			return agent.Response{}, fmt.Errorf("budget context is required")
		}
		an := a.Analyze(req, actx)
		return budgetDecision(an), nil
	})
}

// Analyze computes impact, projection, risk factors and cost-benefit.
func (a *BudgetGuardianAgent) Analyze(req *agent.Request, actx *agent.Context) *BudgetAnalysis {
	p := &req.Payload
	b := &actx.Budget
	an := &BudgetAnalysis{}

	switch {
	case b.Remaining > 0:
		an.ImpactPercent = p.Amount / b.Remaining * 100
	case p.Amount > 0:
		an.ImpactPercent = 100
	}

	now := a.now()
	start, end := budgetPeriod(b, now)
	elapsed := max(now.Sub(start).Hours()/24, 1)
	left := max(end.Sub(now).Hours()/24, 0)
	an.DailyBurnRate = b.Spent / elapsed
	an.ProjectedSpend = b.Spent + p.Amount + an.DailyBurnRate*left

	if b.Total > 0 {
		if p.Amount > b.Remaining {
			an.RiskFactors = append(an.RiskFactors, RiskFactor{
				Kind:     "budget_overrun",
				Severity: agent.RiskCritical,
				Description: fmt.Sprintf("amount %s exceeds remaining budget %s",
					formatMoney(p.Amount), formatMoney(b.Remaining)),
			})
		} else if an.ProjectedSpend > b.Total {
			an.RiskFactors = append(an.RiskFactors, RiskFactor{
				Kind:     "projected_overrun",
				Severity: agent.RiskHigh,
				Description: fmt.Sprintf("projected period spend %s exceeds budget %s",
					formatMoney(an.ProjectedSpend), formatMoney(b.Total)),
			})
		}
	}

	if avg := actx.CategoryAverage(p.Category); avg > 0 && p.Amount > 3*avg {
		an.RiskFactors = append(an.RiskFactors, RiskFactor{
			Kind:     "unusual_pattern",
			Severity: agent.RiskHigh,
			Description: fmt.Sprintf("amount is %.1fx the %s average of %s",
				p.Amount/avg, p.Category, formatMoney(avg)),
		})
	}

	if !actx.Policy.CategoryAllowed(p.Category) {
		an.RiskFactors = append(an.RiskFactors, RiskFactor{
			Kind:        "policy_violation",
			Severity:    agent.RiskCritical,
			Description: fmt.Sprintf("category %q is not allowed by policy", p.Category),
		})
	} else if limit, spent, ok := categoryBudget(b, p.Category); ok && spent+p.Amount > limit {
		an.RiskFactors = append(an.RiskFactors, RiskFactor{
			Kind:     "category_budget",
			Severity: agent.RiskHigh,
			Description: fmt.Sprintf("%s spend would reach %s of a %s category budget",
				p.Category, formatMoney(spent+p.Amount), formatMoney(limit)),
		})
	}

	if lim := actx.Policy.TransactionLimit; lim > 0 && p.Amount > lim {
		an.RiskFactors = append(an.RiskFactors, RiskFactor{
			Kind:     "transaction_limit",
			Severity: agent.RiskCritical,
			Description: fmt.Sprintf("amount %s exceeds the transaction limit %s",
				formatMoney(p.Amount), formatMoney(lim)),
		})
	}

	an.CostBenefit = costBenefit(p)
	return an
}

func budgetDecision(an *BudgetAnalysis) agent.Response {
	summary := fmt.Sprintf("Budget impact %.1f%% of remaining budget, projected period spend %s, cost-benefit %.2f",
		an.ImpactPercent, formatMoney(an.ProjectedSpend), an.CostBenefit)

	level := an.highest()
	switch level {
	case agent.RiskCritical:
		return agent.Response{
			Decision:         agent.DecisionDeny,
			Confidence:       95,
			Reasoning:        "Critical budget risk: " + describeFactors(an.RiskFactors, agent.RiskCritical) + ". " + summary,
			RiskLevel:        agent.RiskCritical,
			SuggestedActions: []string{"reduce_amount", "request_budget_increase"},
			ErrorKind:        agent.KindBudgetRisk,
		}
	case agent.RiskHigh:
		return agent.Response{
			Decision:         agent.DecisionEscalate,
			Confidence:       80,
			Reasoning:        "High budget risk: " + describeFactors(an.RiskFactors, agent.RiskHigh) + ". " + summary,
			RiskLevel:        agent.RiskHigh,
			SuggestedActions: []string{"finance_review"},
			ErrorKind:        agent.KindBudgetRisk,
		}
	}

	if an.ImpactPercent > 25 {
		return agent.Response{
			Decision:         agent.DecisionEscalate,
			Confidence:       75,
			Reasoning:        "Request consumes more than 25% of the remaining budget. " + summary,
			RiskLevel:        agent.RiskMedium,
			SuggestedActions: []string{"finance_review"},
			ErrorKind:        agent.KindBudgetRisk,
		}
	}

	if an.CostBenefit > 0.8 {
		return agent.Response{
			Decision:   agent.DecisionApprove,
			Confidence: 90,
			Reasoning:  "Budget impact is acceptable and cost-benefit is strong. " + summary,
			RiskLevel:  level,
		}
	}

	return agent.Response{
		Decision:         agent.DecisionAnalyze,
		Confidence:       70,
		Reasoning:        "Budget impact is acceptable but the business value is unclear; more justification is needed. " + summary,
		RiskLevel:        level,
		SuggestedActions: []string{"provide_justification"},
	}
}

// costBenefit scores business value in [0,1] from category, urgency and size.
func costBenefit(p *agent.Payload) float64 {
	score, ok := categoryValue[strings.ToLower(p.Category)]
	if !ok {
		score = defaultCategoryValue
	}

	switch strings.ToLower(p.Urgency) {
	case "high", "urgent", "critical":
		score += 0.1
	case "low":
		score -= 0.05
	}

	switch {
	case p.Amount < 500:
		score += 0.1
	case p.Amount > 20000:
		score -= 0.2
	case p.Amount > 5000:
		score -= 0.1
	}

	if strings.TrimSpace(p.Justification) != "" {
		score += 0.05
	}

	return min(max(score, 0), 1)
}

// budgetPeriod returns the budget period, defaulting to the calendar month of now.
func budgetPeriod(b *agent.BudgetState, now time.Time) (time.Time, time.Time) {
	if !b.PeriodStart.IsZero() && b.PeriodEnd.After(b.PeriodStart) {
		return b.PeriodStart, b.PeriodEnd
	}
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	return start, start.AddDate(0, 1, 0)
}

func categoryBudget(b *agent.BudgetState, category string) (limit, spent float64, ok bool) {
	for c, l := range b.CategoryBudgets {
		if strings.EqualFold(c, category) && l > 0 {
			limit, ok = l, true
			break
		}
	}
	if !ok {
		return 0, 0, false
	}
	for c, s := range b.CategorySpending {
		if strings.EqualFold(c, category) {
			spent = s
			break
		}
	}
	return limit, spent, true
}

func describeFactors(factors []RiskFactor, severity agent.RiskLevel) string {
	var parts []string
	for _, f := range factors {
		if f.Severity == severity {
			parts = append(parts, f.Description)
		}
	}
	return strings.Join(parts, "; ")
}
