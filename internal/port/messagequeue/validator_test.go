package messagequeue

import (
	"strings"
	"testing"
)

func TestValidateDecisionCompleted(t *testing.T) {
	data := []byte(`{"request_id":"r1","tenant_id":"t1","request_type":"approval","final_decision":"approve","confidence":82.5,"success":true}`)
	if err := Validate(SubjectDecisionCompleted, data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidatePayment(t *testing.T) {
	data := []byte(`{"request_id":"r1","tenant_id":"t1","agent_id":"payment-execution","amount":120,"vendor":"Acme"}`)
	for _, subj := range []string{SubjectPaymentExecuted, SubjectPaymentFailed} {
		if err := Validate(subj, data); err != nil {
			t.Fatalf("%s: unexpected error: %v", subj, err)
		}
	}
}

func TestValidateFeedbackRequiresRequestID(t *testing.T) {
	data := []byte(`{"actual_outcome":"correct","user_satisfaction":4}`)
	err := Validate(SubjectFeedbackSubmitted, data)
	if err == nil {
		t.Fatal("expected error for missing request_id")
	}
	if !strings.Contains(err.Error(), "request_id") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateInvalidJSON(t *testing.T) {
	err := Validate(SubjectDecisionCompleted, []byte(`{not json`))
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
	if !strings.Contains(err.Error(), "invalid JSON") {
		t.Fatalf("unexpected error message: %v", err)
	}
}

func TestValidateWrongFieldType(t *testing.T) {
	data := []byte(`{"request_id":"r1","confidence":"high"}`)
	if err := Validate(SubjectDecisionCompleted, data); err == nil {
		t.Fatal("expected schema validation error")
	}
}

func TestValidateUnknownSubjectPasses(t *testing.T) {
	if err := Validate("some.other.subject", []byte(`{"x":1}`)); err != nil {
		t.Fatalf("unknown subject should pass: %v", err)
	}
}
