// Package agent defines the decision-agent port and an instance registry.
package agent

import (
	"context"

	domain "github.com/Strob0t/SpendPilot/internal/domain/agent"
)

// Agent is the contract every decision-maker implements.
//
// ProcessRequest never returns an error: failures are reported as an
// escalate response with zero confidence.
type Agent interface {
	// ID returns the unique identifier used by workflow steps.
	ID() string

	// Capabilities returns the static limits the agent enforces on itself.
	Capabilities() domain.Capabilities

	// ProcessRequest evaluates req against the read-only snapshot actx.
	ProcessRequest(ctx context.Context, req *domain.Request, actx *domain.Context) domain.Response

	// Metrics returns a snapshot of the agent's own counters.
	Metrics() domain.Metrics

	// UpdateLearning applies an outcome signal to the agent's heuristics.
	UpdateLearning(fb domain.Feedback)
}
