package agent

import (
	"errors"
	"testing"

	"github.com/Strob0t/SpendPilot/internal/domain"
)

func TestResponseNormalize(t *testing.T) {
	tests := []struct {
		name     string
		in       Response
		wantConf float64
		wantDec  Decision
		wantRisk RiskLevel
	}{
		{"above range", Response{Decision: DecisionApprove, Confidence: 140, RiskLevel: RiskLow}, 100, DecisionApprove, RiskLow},
		{"below range", Response{Decision: DecisionDeny, Confidence: -3, RiskLevel: RiskHigh}, 0, DecisionDeny, RiskHigh},
		{"unknown decision", Response{Decision: "maybe", Confidence: 50}, 50, DecisionEscalate, RiskMedium},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := tt.in
			r.Normalize()
			if r.Confidence != tt.wantConf {
				t.Errorf("confidence = %v, want %v", r.Confidence, tt.wantConf)
			}
			if r.Decision != tt.wantDec {
				t.Errorf("decision = %s, want %s", r.Decision, tt.wantDec)
			}
			if r.RiskLevel != tt.wantRisk {
				t.Errorf("risk = %s, want %s", r.RiskLevel, tt.wantRisk)
			}
		})
	}
}

func TestRequestValidate(t *testing.T) {
	ok := Request{ID: "r1", TenantID: "t1", Type: TypeApproval}
	if err := ok.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bad := Request{ID: "r1", TenantID: "t1", Type: "refund"}
	if err := bad.Validate(); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestFeedbackValidate(t *testing.T) {
	fb := Feedback{RequestID: "r1", TenantID: "t1", ActualOutcome: OutcomeCorrect, UserSatisfaction: 6}
	if err := fb.Validate(); err == nil {
		t.Fatal("expected error for satisfaction out of range")
	}
	fb.UserSatisfaction = 4
	fb.TenantID = ""
	if err := fb.Validate(); err == nil {
		t.Fatal("expected error for missing tenant")
	}
	fb.TenantID = "t1"
	if err := fb.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCategoryAverageFallsBackToHistory(t *testing.T) {
	c := Context{History: []HistoricalRequest{
		{Category: "Travel", Amount: 100},
		{Category: "travel", Amount: 300},
		{Category: "Software", Amount: 50},
	}}
	if got := c.CategoryAverage("Travel"); got != 200 {
		t.Fatalf("CategoryAverage = %v, want 200", got)
	}

	c.SpendingPatterns = []SpendingPattern{{Category: "Travel", AverageAmount: 120}}
	if got := c.CategoryAverage("Travel"); got != 120 {
		t.Fatalf("CategoryAverage with pattern = %v, want 120", got)
	}
}
