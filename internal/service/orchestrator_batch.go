package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	spotel "github.com/Strob0t/SpendPilot/internal/adapter/otel"
	"github.com/Strob0t/SpendPilot/internal/domain/agent"
	"github.com/Strob0t/SpendPilot/internal/domain/workflow"
)

// ProcessBatchRequests runs requests in fixed-size chunks: the requests of a
// chunk run concurrently and the next chunk starts once all of them finished.
// Results keep input order. A failing request never affects its siblings, and
// requests not started before ctx ends get a cancelled escalate result.
func (s *OrchestratorService) ProcessBatchRequests(ctx context.Context, reqs []*agent.Request, actx *agent.Context) *workflow.BatchResult {
	size := s.cfg.ConcurrencyLimit
	if size <= 0 {
		size = 5
	}
	ctx, span := spotel.StartBatchSpan(ctx, len(reqs), size)
	defer span.End()

	results := make([]workflow.Result, len(reqs))
	var summary workflow.BatchSummary

	for start := 0; start < len(reqs); start += size {
		end := min(start+size, len(reqs))
		summary.Chunks++

		if err := ctx.Err(); err != nil {
			for i := start; i < end; i++ {
				results[i] = *cancelledResult(reqs[i], err)
			}
			continue
		}

		// The group context is not used: one request's failure must not
		// cancel the rest of the chunk.
		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				results[i] = *s.processIsolated(ctx, reqs[i], actx)
				return nil
			})
		}
		_ = g.Wait()
	}

	for i := range results {
		summary.Add(&results[i])
	}
	slog.InfoContext(ctx, "batch processed",
		"total", summary.Total,
		"approved", summary.Approved,
		"denied", summary.Denied,
		"escalated", summary.Escalated,
		"chunks", summary.Chunks,
	)
	return &workflow.BatchResult{Results: results, Summary: summary}
}

// processIsolated runs one batch item, converting anything that escapes
// ProcessRequest into an escalate result for that item only.
func (s *OrchestratorService) processIsolated(ctx context.Context, req *agent.Request, actx *agent.Context) (res *workflow.Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			id := ""
			if req != nil {
				id = req.ID
			}
			slog.ErrorContext(ctx, "batch item panic recovered", "request_id", id, "panic", r)
			res = failedResult(id, fmt.Errorf("panic: %v", r), start)
		}
	}()
	res = s.ProcessRequest(ctx, req, actx)
	if res == nil {
		res = failedResult("", fmt.Errorf("no result"), start)
	}
	return res
}

func cancelledResult(req *agent.Request, err error) *workflow.Result {
	id := ""
	if req != nil {
		id = req.ID
	}
	return &workflow.Result{
		RequestID:     id,
		Success:       false,
		FinalDecision: agent.DecisionEscalate,
		Reasoning:     "cancelled before processing: " + err.Error(),
		CompletedAt:   time.Now(),
	}
}
