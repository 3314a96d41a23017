package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"

	spotel "github.com/Strob0t/SpendPilot/internal/adapter/otel"
	"github.com/Strob0t/SpendPilot/internal/config"
	"github.com/Strob0t/SpendPilot/internal/domain"
	"github.com/Strob0t/SpendPilot/internal/domain/agent"
	"github.com/Strob0t/SpendPilot/internal/domain/workflow"
	"github.com/Strob0t/SpendPilot/internal/logger"
	agentport "github.com/Strob0t/SpendPilot/internal/port/agent"
	"github.com/Strob0t/SpendPilot/internal/port/messagequeue"
)

// OrchestratorService routes requests through gated agent workflows and
// combines the agents' verdicts into one decision.
type OrchestratorService struct {
	registry  *agentport.Registry
	workflows []workflow.Workflow
	cfg       *config.Orchestrator
	learning  *LearningService
	queue     messagequeue.Queue
	metrics   *spotel.Metrics

	mu            sync.Mutex // guards everything below
	performance   map[string]*agent.Performance
	entries       []workflow.LearningEntry
	workflowUsage map[string]int
	decisions     map[agent.Decision]int
	totalRequests int
	feedbackCount int
}

// NewOrchestratorService creates an orchestrator over the registered agents.
// Every workflow must be valid and reference registered agents.
func NewOrchestratorService(registry *agentport.Registry, workflows []workflow.Workflow, cfg *config.Orchestrator) (*OrchestratorService, error) {
	for i := range workflows {
		wf := &workflows[i]
		if err := wf.Validate(); err != nil {
			return nil, fmt.Errorf("workflow %q: %w", wf.ID, err)
		}
		for _, st := range wf.Steps {
			if _, ok := registry.Get(st.AgentID); !ok {
				return nil, fmt.Errorf("workflow %q: agent %q is not registered", wf.ID, st.AgentID)
			}
		}
	}
	return &OrchestratorService{
		registry:      registry,
		workflows:     workflows,
		cfg:           cfg,
		performance:   make(map[string]*agent.Performance),
		workflowUsage: make(map[string]int),
		decisions:     make(map[agent.Decision]int),
	}, nil
}

// SetLearning forwards feedback to the cross-company learning service.
func (s *OrchestratorService) SetLearning(l *LearningService) { s.learning = l }

// SetQueue enables decisions.completed events.
func (s *OrchestratorService) SetQueue(q messagequeue.Queue) { s.queue = q }

// SetMetrics enables OpenTelemetry decision metrics.
func (s *OrchestratorService) SetMetrics(m *spotel.Metrics) { s.metrics = m }

// SelectWorkflow returns the first workflow that handles the request type.
func (s *OrchestratorService) SelectWorkflow(req *agent.Request) (*workflow.Workflow, error) {
	for i := range s.workflows {
		if s.workflows[i].Handles(req.Type) {
			return &s.workflows[i], nil
		}
	}
	return nil, fmt.Errorf("%w for request type %q", domain.ErrNoWorkflowFound, req.Type)
}

// ProcessRequest runs req through its workflow. It never fails: errors and
// panics become an unsuccessful escalate result with zero confidence.
func (s *OrchestratorService) ProcessRequest(ctx context.Context, req *agent.Request, actx *agent.Context) (res *workflow.Result) {
	start := time.Now()
	var requestID string
	if req != nil {
		requestID = req.ID
		ctx = logger.WithTenantID(logger.WithRequestID(ctx, req.ID), req.TenantID)
	}

	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "orchestration panic recovered", "panic", r)
			res = failedResult(requestID, fmt.Errorf("panic: %v", r), start)
		}
		s.mu.Lock()
		s.totalRequests++
		s.decisions[res.FinalDecision]++
		s.mu.Unlock()
	}()

	if req == nil {
		return failedResult("", errors.New("request is nil"), start)
	}
	if err := req.Validate(); err != nil {
		return failedResult(requestID, err, start)
	}
	if actx == nil {
		actx = &agent.Context{}
	}
	wf, err := s.SelectWorkflow(req)
	if err != nil {
		slog.WarnContext(ctx, "no workflow for request", "type", req.Type)
		return failedResult(requestID, err, start)
	}

	ctx, span := spotel.StartDecisionSpan(ctx, req.ID, req.TenantID, string(req.Type))
	defer span.End()

	res = s.run(ctx, wf, req, actx, start)
	if !res.Success {
		span.SetStatus(codes.Error, res.Reasoning)
	}

	s.recordRun(req, wf, res)
	s.metrics.RecordDecision(ctx, wf.ID, string(res.FinalDecision), res.Confidence, res.ExecutionTime, res.PaymentExecuted)
	s.publishDecision(ctx, req, res)

	slog.InfoContext(ctx, "request processed",
		"workflow", wf.ID,
		"decision", res.FinalDecision,
		"confidence", res.Confidence,
		"steps", len(res.Responses),
		"duration", res.ExecutionTime,
	)
	return res
}

func (s *OrchestratorService) run(ctx context.Context, wf *workflow.Workflow, req *agent.Request, actx *agent.Context, start time.Time) *workflow.Result {
	res := &workflow.Result{
		RequestID:     req.ID,
		WorkflowID:    wf.ID,
		Success:       true,
		FinalDecision: agent.DecisionEscalate,
	}

	halted := false
	var cancelErr error
	for i := range wf.Steps {
		st := &wf.Steps[i]
		if err := ctx.Err(); err != nil {
			cancelErr = err
			break
		}
		if st.Gate != nil && !st.Gate(actx, res.Responses) {
			res.SkippedSteps = append(res.SkippedSteps, st.Label())
			continue
		}

		stepReq := req
		if st.ApprovedBy != "" && lastDecisionOf(res.Responses, st.ApprovedBy) == agent.DecisionApprove {
			cp := *req
			cp.Payload.Approved = true
			stepReq = &cp
		}

		resp := s.invoke(ctx, wf.ID, st, stepReq, actx)
		res.Responses = append(res.Responses, resp)
		s.updatePerformance(st.AgentID, &resp)

		if resp.PaymentExecuted {
			res.PaymentExecuted = true
			res.TotalCost += resp.EstimatedCost
		}

		if st.Required && resp.Decision == agent.DecisionDeny {
			res.FinalDecision = agent.DecisionDeny
			halted = true
			break
		}
		switch resp.Decision {
		case agent.DecisionApprove:
			res.FinalDecision = agent.DecisionApprove
		case agent.DecisionEscalate:
			res.FinalDecision = agent.DecisionEscalate
		}
	}

	res.Confidence = meanConfidence(res.Responses)
	res.Reasoning = combineReasoning(res.Responses, halted)
	if cancelErr != nil {
		res.Success = false
		res.FinalDecision = agent.DecisionEscalate
		res.Reasoning = "orchestration cancelled: " + cancelErr.Error() + joinReason(res.Reasoning)
	}
	res.CompletedAt = time.Now()
	res.ExecutionTime = res.CompletedAt.Sub(start)
	return res
}

// invoke runs one step under its deadline. A step that does not answer in
// time yields an escalate response.
func (s *OrchestratorService) invoke(ctx context.Context, workflowID string, st *workflow.Step, req *agent.Request, actx *agent.Context) agent.Response {
	a, ok := s.registry.Get(st.AgentID)
	if !ok {
		resp := agent.ErrorResponse(req.ID, st.AgentID, fmt.Errorf("agent %q is not registered", st.AgentID))
		resp.Normalize()
		return resp
	}

	timeout := st.Timeout
	if timeout <= 0 {
		timeout = s.cfg.StepTimeout
	}
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	stepCtx, span := spotel.StartStepSpan(stepCtx, workflowID, st.Label(), st.AgentID)
	defer span.End()

	started := time.Now()
	ch := make(chan agent.Response, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.ErrorContext(ctx, "agent panic recovered", "agent_id", st.AgentID, "panic", r)
				ch <- agent.ErrorResponse(req.ID, st.AgentID, fmt.Errorf("panic: %v", r))
			}
		}()
		ch <- a.ProcessRequest(stepCtx, req, actx)
	}()

	var resp agent.Response
	select {
	case resp = <-ch:
	case <-stepCtx.Done():
		reason := fmt.Sprintf("step %s timed out after %s", st.Label(), timeout)
		if ctx.Err() != nil {
			reason = fmt.Sprintf("step %s cancelled: %v", st.Label(), ctx.Err())
		} else {
			s.metrics.RecordStepTimeout(ctx, st.AgentID)
		}
		actions := []string{"manual_review"}
		if a.Capabilities().CanExecutePayments {
			// The agent goroutine is not stopped, so its transfer may still land.
			actions = append(actions, "reconcile_payment")
			reason += "; a payment may still complete, check the payment attempts"
		}
		slog.WarnContext(ctx, "workflow step did not finish", "agent_id", st.AgentID, "reason", reason)
		span.SetStatus(codes.Error, reason)
		resp = agent.Response{
			Decision:         agent.DecisionEscalate,
			Confidence:       0,
			Reasoning:        reason,
			RiskLevel:        agent.RiskMedium,
			SuggestedActions: actions,
			ErrorKind:        agent.KindOrchestrationFailure,
			ProcessingTime:   time.Since(started),
		}
	}

	resp.RequestID = req.ID
	resp.AgentID = st.AgentID
	resp.Normalize()
	return resp
}

func meanConfidence(responses []agent.Response) float64 {
	if len(responses) == 0 {
		return 0
	}
	var sum float64
	for i := range responses {
		sum += responses[i].Confidence
	}
	return sum / float64(len(responses))
}

// combineReasoning leads with the decisive response and appends a note for
// each other response that denied, flagged high risk or suggested an action.
// A run halted by a required deny leads with that deny.
func combineReasoning(responses []agent.Response, halted bool) string {
	if len(responses) == 0 {
		return "no workflow step produced a response"
	}

	lead := len(responses) - 1
	if !halted {
		for i := range responses {
			if d := responses[i].Decision; d == agent.DecisionApprove || d == agent.DecisionDeny {
				lead = i
				break
			}
		}
	}

	var notes []string
	for i := range responses {
		if i == lead {
			continue
		}
		r := &responses[i]
		switch {
		case r.Decision == agent.DecisionDeny:
			notes = append(notes, fmt.Sprintf("%s denied: %s", r.AgentID, r.Reasoning))
		case r.RiskLevel.Severe():
			notes = append(notes, fmt.Sprintf("%s flagged %s risk: %s", r.AgentID, r.RiskLevel, r.Reasoning))
		case len(r.SuggestedActions) > 0:
			notes = append(notes, fmt.Sprintf("%s suggests %s", r.AgentID, strings.Join(r.SuggestedActions, ", ")))
		}
	}

	out := responses[lead].Reasoning
	if len(notes) > 0 {
		out += ". Notes: " + strings.Join(notes, "; ")
	}
	return out
}

func joinReason(s string) string {
	if s == "" {
		return ""
	}
	return "; " + s
}

func failedResult(requestID string, err error, start time.Time) *workflow.Result {
	now := time.Now()
	return &workflow.Result{
		RequestID:     requestID,
		Success:       false,
		FinalDecision: agent.DecisionEscalate,
		Confidence:    0,
		Reasoning:     "orchestration failed: " + err.Error(),
		CompletedAt:   now,
		ExecutionTime: now.Sub(start),
	}
}

func (s *OrchestratorService) publishDecision(ctx context.Context, req *agent.Request, res *workflow.Result) {
	if s.queue == nil || !s.cfg.PublishDecisions {
		return
	}
	data, err := json.Marshal(messagequeue.DecisionCompletedPayload{
		RequestID:       req.ID,
		TenantID:        req.TenantID,
		RequestType:     string(req.Type),
		Category:        req.Payload.Category,
		Amount:          req.Payload.Amount,
		WorkflowID:      res.WorkflowID,
		FinalDecision:   string(res.FinalDecision),
		Confidence:      res.Confidence,
		Success:         res.Success,
		PaymentExecuted: res.PaymentExecuted,
		TotalCost:       res.TotalCost,
		Reasoning:       res.Reasoning,
		CompletedAt:     res.CompletedAt,
	})
	if err != nil {
		slog.ErrorContext(ctx, "marshal decision event", "error", err)
		return
	}
	if err := s.queue.Publish(ctx, messagequeue.SubjectDecisionCompleted, data); err != nil {
		slog.WarnContext(ctx, "publish decision event failed", "error", err)
	}
}
