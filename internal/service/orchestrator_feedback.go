package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Strob0t/SpendPilot/internal/domain/agent"
	"github.com/Strob0t/SpendPilot/internal/logger"
	"github.com/Strob0t/SpendPilot/internal/port/messagequeue"
)

// HandleFeedbackMessage applies one feedback.submitted message. The tenant
// comes from the message header or, failing that, the payload. Feedback that
// fails validation is dropped rather than redelivered.
func (s *OrchestratorService) HandleFeedbackMessage(ctx context.Context, _ string, data []byte) error {
	var p messagequeue.FeedbackSubmittedPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("unmarshal feedback: %w", err)
	}

	tenantID := logger.TenantID(ctx)
	switch {
	case tenantID == "":
		tenantID = p.TenantID
	case p.TenantID != "" && p.TenantID != tenantID:
		slog.WarnContext(ctx, "feedback message discarded", "request_id", p.RequestID, "reason", "tenant mismatch")
		return nil
	}

	fb := agent.Feedback{
		RequestID:        p.RequestID,
		TenantID:         tenantID,
		AgentID:          p.AgentID,
		ActualOutcome:    agent.Outcome(p.ActualOutcome),
		UserSatisfaction: p.UserSatisfaction,
		Comments:         p.Comments,
	}
	if n := s.UpdateLearningModels(ctx, []agent.Feedback{fb}); n == 0 {
		slog.WarnContext(ctx, "feedback message discarded", "request_id", p.RequestID)
	}
	return nil
}

// StartFeedbackSubscriber feeds feedback.submitted events into the learning path.
func (s *OrchestratorService) StartFeedbackSubscriber(ctx context.Context) (cancel func(), err error) {
	if s.queue == nil {
		return func() {}, nil
	}
	return s.queue.Subscribe(ctx, messagequeue.SubjectFeedbackSubmitted, s.HandleFeedbackMessage)
}
