package service

import (
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/Strob0t/SpendPilot/internal/domain/agent"
)

// Agent ids used by the default workflows.
const (
	AgentRequestValidation  = "request-validation"
	AgentBudgetGuardian     = "budget-guardian"
	AgentUniversalApproval  = "universal-approval"
	AgentPaymentExecution   = "payment-execution"
	AgentSmartReimbursement = "smart-reimbursement"
)

// agentStats tracks the counters behind agent.Metrics.
type agentStats struct {
	mu       sync.Mutex
	m        agent.Metrics
	credited float64
}

func newAgentStats(agentID string) *agentStats {
	return &agentStats{m: agent.Metrics{AgentID: agentID}}
}

func (s *agentStats) record(resp *agent.Response) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := float64(s.m.TotalRequests)
	s.m.TotalRequests++
	switch resp.Decision {
	case agent.DecisionApprove:
		s.m.Approved++
	case agent.DecisionDeny:
		s.m.Denied++
	case agent.DecisionEscalate:
		s.m.Escalated++
	case agent.DecisionAnalyze:
		s.m.Analyzed++
	}
	s.m.AverageConfidence = (s.m.AverageConfidence*n + resp.Confidence) / (n + 1)
	s.m.AverageLatency = time.Duration((float64(s.m.AverageLatency)*n + float64(resp.ProcessingTime)) / (n + 1))
	s.m.LastUpdated = time.Now()
}

func (s *agentStats) recordFeedback(fb *agent.Feedback) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.m.FeedbackCount++
	s.credited += fb.ActualOutcome.Credit()
	s.m.Accuracy = s.credited / float64(s.m.FeedbackCount)
	s.m.LastUpdated = time.Now()
}

func (s *agentStats) snapshot() agent.Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m
}

// decide runs fn as one agent decision. Panics and errors become an escalate
// response with zero confidence; the result is normalized and counted.
func decide(agentID string, req *agent.Request, stats *agentStats, fn func() (agent.Response, error)) (resp agent.Response) {
	start := time.Now()
	var requestID string
	if req != nil {
		requestID = req.ID
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("agent panic recovered", "agent_id", agentID, "request_id", requestID, "panic", r)
			resp = agent.ErrorResponse(requestID, agentID, fmt.Errorf("panic: %v", r))
		}
		resp.RequestID = requestID
		resp.AgentID = agentID
		resp.ProcessingTime = time.Since(start)
		resp.Normalize()
		stats.record(&resp)
	}()

	if req == nil {
		return agent.ErrorResponse("", agentID, fmt.Errorf("request is nil"))
	}
	r, err := fn()
	if err != nil {
		slog.Warn("agent decision failed", "agent_id", agentID, "request_id", requestID, "error", err)
		return agent.ErrorResponse(requestID, agentID, err)
	}
	return r
}

// formatMoney renders an amount as $1,234.56.
func formatMoney(v float64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	s := fmt.Sprintf("%.2f", v)
	whole, frac, _ := strings.Cut(s, ".")
	var b strings.Builder
	for i, c := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	return sign + "$" + b.String() + "." + frac
}

// isRoundAmount reports whether v is a whole multiple of 100.
func isRoundAmount(v float64) bool {
	return v >= 100 && math.Mod(v, 100) == 0
}

// countRecent counts history entries submitted in the window before at.
// When employeeID is set only that employee's entries are counted.
func countRecent(history []agent.HistoricalRequest, employeeID string, at time.Time, window time.Duration) int {
	n := 0
	for i := range history {
		h := &history[i]
		if employeeID != "" && h.EmployeeID != employeeID {
			continue
		}
		if h.SubmittedAt.After(at) || at.Sub(h.SubmittedAt) > window {
			continue
		}
		n++
	}
	return n
}

// riskFromScore maps a 0-100 fraud score to a risk level.
func riskFromScore(score float64) agent.RiskLevel {
	switch {
	case score >= 70:
		return agent.RiskCritical
	case score >= 40:
		return agent.RiskHigh
	case score >= 20:
		return agent.RiskMedium
	}
	return agent.RiskLow
}
