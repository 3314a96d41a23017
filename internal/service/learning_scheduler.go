package service

import (
	"context"
	"log/slog"
	"time"
)

// Start runs an aggregation pass synchronously, then re-aggregates on the
// configured interval until ctx is cancelled. Each pass also applies the
// retention purge.
func (s *LearningService) Start(ctx context.Context) {
	s.Aggregate(ctx)

	interval := s.cfg.AggregationInterval
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				slog.Info("learning aggregation stopped")
				return
			case <-ticker.C:
				s.Aggregate(ctx)
			}
		}
	}()
}

// LearningStats reports the sizes of the learning stores.
type LearningStats struct {
	Observations     int     `json:"observations"`
	Patterns         int     `json:"patterns"`
	Benchmarks       int     `json:"benchmarks"`
	Insights         int     `json:"insights"`
	FeedbackReceived int     `json:"feedback_received"`
	FeedbackAccuracy float64 `json:"feedback_accuracy"`
	Generation       uint64  `json:"generation"`
}

// Stats returns a snapshot of the learning store sizes.
func (s *LearningService) Stats() LearningStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := LearningStats{
		Observations:     len(s.observations),
		Patterns:         len(s.patterns),
		Benchmarks:       len(s.benchmarks),
		Insights:         len(s.insights),
		FeedbackReceived: s.feedbackTotal,
		Generation:       s.generation,
	}
	if s.feedbackTotal > 0 {
		st.FeedbackAccuracy = 1 - float64(s.feedbackIncorrect)/float64(s.feedbackTotal)
	}
	return st
}
