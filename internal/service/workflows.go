package service

import (
	"github.com/Strob0t/SpendPilot/internal/domain/agent"
	"github.com/Strob0t/SpendPilot/internal/domain/workflow"
)

// Workflow ids of the built-in pipelines.
const (
	WorkflowPurchaseApproval = "purchase-approval"
	WorkflowPayment          = "payment-execution"
	WorkflowReimbursement    = "expense-reimbursement"
	WorkflowBudgetAnalysis   = "budget-analysis"
)

// DefaultWorkflows returns the built-in pipelines, one per request type.
func DefaultWorkflows() []workflow.Workflow {
	return []workflow.Workflow{
		{
			ID:           WorkflowPurchaseApproval,
			Name:         "Purchase approval",
			RequestTypes: []agent.RequestType{agent.TypeApproval},
			Steps: []workflow.Step{
				{Name: "validate", AgentID: AgentRequestValidation, Required: true},
				{Name: "budget", AgentID: AgentBudgetGuardian, Gate: hasBudget},
				{Name: "approve", AgentID: AgentUniversalApproval, Required: true},
				{
					Name:       "pay",
					AgentID:    AgentPaymentExecution,
					Gate:       allGates(approvedBy(AgentUniversalApproval), hasWallet),
					ApprovedBy: AgentUniversalApproval,
				},
			},
		},
		{
			ID:           WorkflowPayment,
			Name:         "Payment of an approved request",
			RequestTypes: []agent.RequestType{agent.TypePayment},
			Steps: []workflow.Step{
				{Name: "pay", AgentID: AgentPaymentExecution, Required: true},
			},
		},
		{
			ID:           WorkflowReimbursement,
			Name:         "Expense reimbursement",
			RequestTypes: []agent.RequestType{agent.TypeReimbursement},
			Steps: []workflow.Step{
				{Name: "validate", AgentID: AgentRequestValidation, Required: true},
				{Name: "reimburse", AgentID: AgentSmartReimbursement, Required: true},
			},
		},
		{
			ID:           WorkflowBudgetAnalysis,
			Name:         "Budget analysis",
			RequestTypes: []agent.RequestType{agent.TypeBudgetAnalysis},
			Steps: []workflow.Step{
				{Name: "analyze", AgentID: AgentBudgetGuardian, Required: true},
			},
		},
	}
}

func hasBudget(actx *agent.Context, _ []agent.Response) bool {
	return actx.Budget.Total > 0
}

func hasWallet(actx *agent.Context, _ []agent.Response) bool {
	return actx.Tenant.WalletID != ""
}

// approvedBy passes when the latest response of agentID approved.
func approvedBy(agentID string) workflow.Gate {
	return func(_ *agent.Context, prior []agent.Response) bool {
		return lastDecisionOf(prior, agentID) == agent.DecisionApprove
	}
}

func allGates(gates ...workflow.Gate) workflow.Gate {
	return func(actx *agent.Context, prior []agent.Response) bool {
		for _, g := range gates {
			if !g(actx, prior) {
				return false
			}
		}
		return true
	}
}

func lastDecisionOf(responses []agent.Response, agentID string) agent.Decision {
	for i := len(responses) - 1; i >= 0; i-- {
		if responses[i].AgentID == agentID {
			return responses[i].Decision
		}
	}
	return ""
}
