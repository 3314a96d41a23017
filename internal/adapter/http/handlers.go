package http

import (
	"context"
	"net/http"
	"time"

	"github.com/Strob0t/SpendPilot/internal/domain/agent"
	"github.com/Strob0t/SpendPilot/internal/domain/learning"
	"github.com/Strob0t/SpendPilot/internal/domain/payment"
	"github.com/Strob0t/SpendPilot/internal/middleware"
	"github.com/Strob0t/SpendPilot/internal/service"
)

const (
	defaultMaxBodySize  = 1 << 20 // 1 MB
	defaultMaxBatchSize = 500
)

// HealthCheck probes one dependency for GET /health.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Handlers holds the services behind the REST API.
type Handlers struct {
	Orchestrator *service.OrchestratorService
	Learning     *service.LearningService
	Payments     *service.PaymentExecutionAgent
	Reimburse    *service.SmartReimbursementAgent
	Health       []HealthCheck
	MaxBodySize  int64
	MaxBatchSize int
}

func (h *Handlers) bodyLimit() int64 {
	if h.MaxBodySize > 0 {
		return h.MaxBodySize
	}
	return defaultMaxBodySize
}

func (h *Handlers) batchLimit() int {
	if h.MaxBatchSize > 0 {
		return h.MaxBatchSize
	}
	return defaultMaxBatchSize
}

type decisionRequest struct {
	Request agent.Request  `json:"request"`
	Context *agent.Context `json:"context,omitempty"`
}

type batchRequest struct {
	Requests []agent.Request `json:"requests"`
	Context  *agent.Context  `json:"context,omitempty"`
}

type historyRequest struct {
	History []agent.HistoricalRequest `json:"history"`
}

type historyResponse struct {
	Received int `json:"received"`
	Ingested int `json:"ingested"`
}

type reimbursementBatchResponse struct {
	Responses []agent.Response `json:"responses"`
}

type feedbackRequest struct {
	Feedback []agent.Feedback `json:"feedback"`
}

type feedbackResponse struct {
	Received int `json:"received"`
	Applied  int `json:"applied"`
}

type learningRequest struct {
	Request *agent.Request `json:"request,omitempty"`
	Context agent.Context  `json:"context"`
}

type scheduleRequest struct {
	Request   agent.Request  `json:"request"`
	Context   *agent.Context `json:"context,omitempty"`
	ExecuteAt time.Time      `json:"execute_at"`
}

type metricsResponse struct {
	Performance map[string]agent.Performance `json:"performance"`
	Agents      map[string]agent.Metrics     `json:"agents"`
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// ProcessRequest handles POST /api/v1/requests.
func (h *Handlers) ProcessRequest(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSON[decisionRequest](w, r, h.bodyLimit())
	if !ok {
		return
	}
	if err := bindTenant(r, &body.Request); err != nil {
		writeDomainError(w, err, "")
		return
	}
	if _, err := h.Orchestrator.SelectWorkflow(&body.Request); err != nil {
		writeDomainError(w, err, "")
		return
	}

	res := h.Orchestrator.ProcessRequest(r.Context(), &body.Request, body.Context)
	writeJSON(w, http.StatusOK, res)
}

// ProcessBatch handles POST /api/v1/requests/batch.
func (h *Handlers) ProcessBatch(w http.ResponseWriter, r *http.Request) {
	reqs, actx, ok := h.readBatch(w, r)
	if !ok {
		return
	}
	res := h.Orchestrator.ProcessBatchRequests(r.Context(), reqs, actx)
	writeJSON(w, http.StatusOK, res)
}

// readBatch decodes and tenant-binds a batch body; it writes the error
// response itself.
func (h *Handlers) readBatch(w http.ResponseWriter, r *http.Request) ([]*agent.Request, *agent.Context, bool) {
	body, ok := readJSON[batchRequest](w, r, h.bodyLimit())
	if !ok {
		return nil, nil, false
	}
	if len(body.Requests) == 0 {
		writeError(w, http.StatusBadRequest, "requests must not be empty")
		return nil, nil, false
	}
	if len(body.Requests) > h.batchLimit() {
		writeError(w, http.StatusBadRequest, "too many requests in batch")
		return nil, nil, false
	}

	reqs := make([]*agent.Request, len(body.Requests))
	for i := range body.Requests {
		if err := bindTenant(r, &body.Requests[i]); err != nil {
			writeDomainError(w, err, "")
			return nil, nil, false
		}
		reqs[i] = &body.Requests[i]
	}
	return reqs, body.Context, true
}

// AgentMetrics handles GET /api/v1/agents/metrics.
func (h *Handlers) AgentMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, metricsResponse{
		Performance: h.Orchestrator.GetAgentMetrics(),
		Agents:      h.Orchestrator.AgentMetrics(),
	})
}

// OrchestrationAnalytics handles GET /api/v1/orchestration/analytics.
func (h *Handlers) OrchestrationAnalytics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Orchestrator.GetOrchestrationAnalytics())
}

// SubmitFeedback handles POST /api/v1/feedback.
func (h *Handlers) SubmitFeedback(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSON[feedbackRequest](w, r, h.bodyLimit())
	if !ok {
		return
	}
	if len(body.Feedback) == 0 {
		writeError(w, http.StatusBadRequest, "feedback must not be empty")
		return
	}
	tenantID := middleware.TenantIDFromContext(r.Context())
	for i := range body.Feedback {
		fb := &body.Feedback[i]
		if fb.TenantID != "" && fb.TenantID != tenantID {
			writeError(w, http.StatusBadRequest, "tenant_id does not match X-Tenant-ID")
			return
		}
		fb.TenantID = tenantID
		if fb.Request != nil {
			fb.Request.TenantID = tenantID
		}
	}

	applied := h.Orchestrator.UpdateLearningModels(r.Context(), body.Feedback)
	status := http.StatusAccepted
	if applied == 0 {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, feedbackResponse{Received: len(body.Feedback), Applied: applied})
}

// readLearning decodes a learning query body; it writes the error response itself.
func (h *Handlers) readLearning(w http.ResponseWriter, r *http.Request) (learningRequest, bool) {
	if h.Learning == nil {
		writeError(w, http.StatusServiceUnavailable, "cross-company learning is disabled")
		return learningRequest{}, false
	}
	return readJSON[learningRequest](w, r, h.bodyLimit())
}

// SpendingRecommendations handles POST /api/v1/learning/recommendations.
func (h *Handlers) SpendingRecommendations(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readLearning(w, r)
	if !ok {
		return
	}
	tenantID := middleware.TenantIDFromContext(r.Context())
	writeJSON(w, http.StatusOK, h.Learning.SpendingRecommendations(r.Context(), tenantID, &body.Context))
}

// FraudRisk handles POST /api/v1/learning/fraud-risk.
func (h *Handlers) FraudRisk(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readLearning(w, r)
	if !ok {
		return
	}
	if body.Request == nil {
		writeError(w, http.StatusBadRequest, "request is required")
		return
	}
	if err := bindTenant(r, body.Request); err != nil {
		writeDomainError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, h.Learning.DetectFraudRisk(r.Context(), body.Request.TenantID, body.Request, &body.Context))
}

// VendorOptimizations handles POST /api/v1/learning/vendor-optimizations.
func (h *Handlers) VendorOptimizations(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readLearning(w, r)
	if !ok {
		return
	}
	tenantID := middleware.TenantIDFromContext(r.Context())
	list := h.Learning.VendorOptimizations(r.Context(), tenantID, &body.Context)
	if list == nil {
		list = []learning.VendorOptimization{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"optimizations": list})
}

// Predictions handles POST /api/v1/learning/predictions.
func (h *Handlers) Predictions(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readLearning(w, r)
	if !ok {
		return
	}
	tenantID := middleware.TenantIDFromContext(r.Context())
	writeJSON(w, http.StatusOK, h.Learning.PredictiveInsights(r.Context(), tenantID, &body.Context))
}

// Insights handles GET /api/v1/learning/insights.
func (h *Handlers) Insights(w http.ResponseWriter, r *http.Request) {
	if h.Learning == nil {
		writeError(w, http.StatusServiceUnavailable, "cross-company learning is disabled")
		return
	}
	list := h.Learning.Insights(r.Context())
	if list == nil {
		list = []learning.Insight{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"insights": list})
}

// LearningStats handles GET /api/v1/learning/stats.
func (h *Handlers) LearningStats(w http.ResponseWriter, _ *http.Request) {
	if h.Learning == nil {
		writeError(w, http.StatusServiceUnavailable, "cross-company learning is disabled")
		return
	}
	writeJSON(w, http.StatusOK, h.Learning.Stats())
}

// IngestHistory handles POST /api/v1/learning/history. The decided requests
// are filed under the caller's tenant.
func (h *Handlers) IngestHistory(w http.ResponseWriter, r *http.Request) {
	if h.Learning == nil {
		writeError(w, http.StatusServiceUnavailable, "cross-company learning is disabled")
		return
	}
	body, ok := readJSON[historyRequest](w, r, h.bodyLimit())
	if !ok {
		return
	}
	if len(body.History) == 0 {
		writeError(w, http.StatusBadRequest, "history must not be empty")
		return
	}
	if len(body.History) > h.batchLimit() {
		writeError(w, http.StatusBadRequest, "too many history entries")
		return
	}
	for i := range body.History {
		if body.History[i].Amount < 0 {
			writeError(w, http.StatusBadRequest, "history amounts must not be negative")
			return
		}
	}

	tenantID := middleware.TenantIDFromContext(r.Context())
	n := h.Learning.IngestHistory(r.Context(), tenantID, body.History)
	writeJSON(w, http.StatusAccepted, historyResponse{Received: len(body.History), Ingested: n})
}

// PaymentBatch handles POST /api/v1/payments/batch.
func (h *Handlers) PaymentBatch(w http.ResponseWriter, r *http.Request) {
	if h.Payments == nil {
		writeError(w, http.StatusServiceUnavailable, "payment execution is disabled")
		return
	}
	reqs, actx, ok := h.readBatch(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.Payments.ExecuteBatch(r.Context(), reqs, actx))
}

// ReimbursementBatch handles POST /api/v1/reimbursements/batch.
func (h *Handlers) ReimbursementBatch(w http.ResponseWriter, r *http.Request) {
	if h.Reimburse == nil {
		writeError(w, http.StatusServiceUnavailable, "reimbursements are disabled")
		return
	}
	reqs, actx, ok := h.readBatch(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, reimbursementBatchResponse{Responses: h.Reimburse.ProcessBatch(r.Context(), reqs, actx)})
}

// SchedulePayment handles POST /api/v1/payments/schedule.
func (h *Handlers) SchedulePayment(w http.ResponseWriter, r *http.Request) {
	if h.Payments == nil {
		writeError(w, http.StatusServiceUnavailable, "payment execution is disabled")
		return
	}
	body, ok := readJSON[scheduleRequest](w, r, h.bodyLimit())
	if !ok {
		return
	}
	if err := bindTenant(r, &body.Request); err != nil {
		writeDomainError(w, err, "")
		return
	}

	s, err := h.Payments.SchedulePayment(r.Context(), &body.Request, body.Context, body.ExecuteAt)
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

// PaymentAttempts handles GET /api/v1/payments/{requestID}/attempts.
func (h *Handlers) PaymentAttempts(w http.ResponseWriter, r *http.Request) {
	if h.Payments == nil {
		writeError(w, http.StatusServiceUnavailable, "payment execution is disabled")
		return
	}
	requestID := urlParam(r, "requestID")
	if !requireField(w, requestID, "requestID") {
		return
	}

	list, err := h.Payments.Attempts(r.Context(), middleware.TenantIDFromContext(r.Context()), requestID)
	if err != nil {
		writeDomainError(w, err, "payment attempts not found")
		return
	}
	if list == nil {
		list = []payment.Attempt{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"attempts": list})
}

// Healthz handles GET /health. Any failing check reports 503.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok"}
	status := http.StatusOK
	if len(h.Health) > 0 {
		resp.Checks = make(map[string]string, len(h.Health))
	}
	for _, c := range h.Health {
		if err := c.Check(ctx); err != nil {
			resp.Checks[c.Name] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[c.Name] = "ok"
	}
	writeJSON(w, status, resp)
}
