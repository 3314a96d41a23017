package service

import (
	"context"
	"log/slog"
	"maps"
	"time"

	"github.com/Strob0t/SpendPilot/internal/domain/agent"
	"github.com/Strob0t/SpendPilot/internal/domain/workflow"
)

// decisionCredit is the success weight of a decision for performance tracking.
func decisionCredit(d agent.Decision) float64 {
	switch d {
	case agent.DecisionApprove:
		return 1
	case agent.DecisionDeny:
		return 0
	}
	return 0.5
}

// updatePerformance folds one response into the agent's moving averages.
func (s *OrchestratorService) updatePerformance(agentID string, resp *agent.Response) {
	alpha := s.cfg.PerformanceAlpha
	if alpha <= 0 || alpha > 1 {
		alpha = 0.1
	}
	credit := decisionCredit(resp.Decision)

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.performance[agentID]
	if !ok {
		p = &agent.Performance{AgentID: agentID}
		s.performance[agentID] = p
	}
	if p.TotalDecisions == 0 {
		p.SuccessRate = credit
		p.AverageConfidence = resp.Confidence
		p.AverageExecutionTime = resp.ProcessingTime
	} else {
		p.SuccessRate = alpha*credit + (1-alpha)*p.SuccessRate
		p.AverageConfidence = alpha*resp.Confidence + (1-alpha)*p.AverageConfidence
		p.AverageExecutionTime = time.Duration(alpha*float64(resp.ProcessingTime) + (1-alpha)*float64(p.AverageExecutionTime))
	}
	p.TotalDecisions++
	p.LastUpdated = time.Now()
}

// recordRun keeps a learning entry for a finished run, trimming the oldest
// entries past the configured ceiling.
func (s *OrchestratorService) recordRun(req *agent.Request, wf *workflow.Workflow, res *workflow.Result) {
	ids := make([]string, 0, len(res.Responses))
	for i := range res.Responses {
		ids = append(ids, res.Responses[i].AgentID)
	}
	entry := workflow.LearningEntry{
		RequestID:     req.ID,
		TenantID:      req.TenantID,
		RequestType:   req.Type,
		WorkflowID:    wf.ID,
		Category:      req.Payload.Category,
		Amount:        req.Payload.Amount,
		FinalDecision: res.FinalDecision,
		Confidence:    res.Confidence,
		Success:       res.FinalDecision != agent.DecisionDeny,
		AgentIDs:      ids,
		RecordedAt:    res.CompletedAt,
	}

	limit := s.cfg.MaxLearningEntries
	if limit <= 0 {
		limit = 1000
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflowUsage[wf.ID]++
	s.entries = append(s.entries, entry)
	if over := len(s.entries) - limit; over > 0 {
		s.entries = append(s.entries[:0:0], s.entries[over:]...)
	}
}

// GetAgentMetrics returns a copy of the per-agent performance map.
func (s *OrchestratorService) GetAgentMetrics() map[string]agent.Performance {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]agent.Performance, len(s.performance))
	for id, p := range s.performance {
		out[id] = *p
	}
	return out
}

// AgentMetrics returns each registered agent's own counters.
func (s *OrchestratorService) AgentMetrics() map[string]agent.Metrics {
	out := make(map[string]agent.Metrics)
	for _, id := range s.registry.IDs() {
		if a, ok := s.registry.Get(id); ok {
			out[id] = a.Metrics()
		}
	}
	return out
}

// GetOrchestrationAnalytics derives aggregate statistics from the current state.
func (s *OrchestratorService) GetOrchestrationAnalytics() workflow.Analytics {
	s.mu.Lock()
	defer s.mu.Unlock()

	an := workflow.Analytics{
		TotalRequests:    s.totalRequests,
		AgentCount:       s.registry.Len(),
		WorkflowUsage:    maps.Clone(s.workflowUsage),
		DecisionCounts:   maps.Clone(s.decisions),
		LearningEntries:  len(s.entries),
		FeedbackReceived: s.feedbackCount,
	}
	if n := len(s.performance); n > 0 {
		var exec time.Duration
		var success float64
		for _, p := range s.performance {
			exec += p.AverageExecutionTime
			success += p.SuccessRate
		}
		an.AverageExecutionTime = exec / time.Duration(n)
		an.OverallSuccessRate = success / float64(n)
	}
	return an
}

// LearningEntries returns a copy of the retained run records, oldest first.
func (s *OrchestratorService) LearningEntries() []workflow.LearningEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]workflow.LearningEntry(nil), s.entries...)
}

// UpdateLearningModels attaches feedback to the matching run record of the
// same tenant, forwards it to that run's agents and hands it to cross-company
// learning.
// Invalid feedback is logged and skipped. It returns how many were applied.
func (s *OrchestratorService) UpdateLearningModels(ctx context.Context, feedbacks []agent.Feedback) int {
	applied := make([]agent.Feedback, 0, len(feedbacks))
	for i := range feedbacks {
		fb := feedbacks[i]
		if err := fb.Validate(); err != nil {
			slog.WarnContext(ctx, "feedback rejected", "request_id", fb.RequestID, "error", err)
			continue
		}
		if fb.RecordedAt.IsZero() {
			fb.RecordedAt = time.Now()
		}
		if fb.Request != nil && fb.Request.TenantID != fb.TenantID {
			req := *fb.Request
			req.TenantID = fb.TenantID
			fb.Request = &req
		}

		entry, found := s.attachFeedback(&fb)
		var targets []string
		switch {
		case !found:
		case fb.AgentID != "":
			targets = []string{fb.AgentID}
		default:
			targets = entry.AgentIDs
		}
		for _, id := range uniqueStrings(targets) {
			if a, ok := s.registry.Get(id); ok {
				a.UpdateLearning(fb)
			}
		}
		if fb.Request == nil && found {
			fb.Request = &agent.Request{
				ID:        entry.RequestID,
				TenantID:  entry.TenantID,
				Type:      entry.RequestType,
				Payload:   agent.Payload{Category: entry.Category, Amount: entry.Amount},
				Timestamp: entry.RecordedAt,
			}
		}
		applied = append(applied, fb)
	}

	if s.learning != nil && len(applied) > 0 {
		s.learning.IngestFeedback(ctx, applied)
	}
	slog.InfoContext(ctx, "feedback applied", "received", len(feedbacks), "applied", len(applied))
	return len(applied)
}

// attachFeedback stores fb on the newest run record of the same tenant and
// request. Records of other tenants are never touched.
func (s *OrchestratorService) attachFeedback(fb *agent.Feedback) (workflow.LearningEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedbackCount++
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].RequestID == fb.RequestID && s.entries[i].TenantID == fb.TenantID {
			cp := *fb
			s.entries[i].Feedback = &cp
			return s.entries[i], true
		}
	}
	return workflow.LearningEntry{}, false
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
