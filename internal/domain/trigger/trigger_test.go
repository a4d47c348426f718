package trigger

import (
	"errors"
	"testing"

	"github.com/agentloop/agentloop/internal/domain"
	"github.com/agentloop/agentloop/internal/domain/step"
)

func baseTrigger() Trigger {
	return Trigger{
		ID:             "t1",
		Name:           "security review after implementation",
		SourceStepType: step.TypeImplement,
		SourceStatus:   step.StatusCompleted,
		TargetStepType: step.TypeSecurity,
		Enabled:        true,
	}
}

func TestMatches(t *testing.T) {
	tr := baseTrigger()

	if !tr.Matches(step.TypeImplement, step.StatusCompleted, "p1", nil) {
		t.Error("global enabled trigger should match")
	}
	if tr.Matches(step.TypeTest, step.StatusCompleted, "p1", nil) {
		t.Error("matched on wrong step type")
	}
	if tr.Matches(step.TypeImplement, step.StatusFailed, "p1", nil) {
		t.Error("matched on wrong status")
	}

	tr.Enabled = false
	if tr.Matches(step.TypeImplement, step.StatusCompleted, "p1", nil) {
		t.Error("disabled trigger matched")
	}
}

func TestMatchesProjectScope(t *testing.T) {
	tr := baseTrigger()
	tr.ProjectID = "p1"

	if !tr.Matches(step.TypeImplement, step.StatusCompleted, "p1", nil) {
		t.Error("trigger should match its own project")
	}
	if tr.Matches(step.TypeImplement, step.StatusCompleted, "p2", nil) {
		t.Error("trigger matched a foreign project")
	}
}

func TestMatchesConditions(t *testing.T) {
	tr := baseTrigger()
	tr.Condition = map[string]string{"priority": "high", "mission_status": "active"}

	ctx := Context{"priority": "high", "mission_status": "active"}
	if !tr.Matches(step.TypeImplement, step.StatusCompleted, "p1", ctx) {
		t.Error("all conditions satisfied but no match")
	}

	ctx["priority"] = "low"
	if tr.Matches(step.TypeImplement, step.StatusCompleted, "p1", ctx) {
		t.Error("matched with one condition unsatisfied")
	}

	// A missing context key never satisfies a condition.
	if tr.Matches(step.TypeImplement, step.StatusCompleted, "p1", Context{}) {
		t.Error("matched with empty context")
	}
}

func TestCreateRequestValidate(t *testing.T) {
	valid := CreateRequest{
		Name:           "r",
		SourceStepType: step.TypeImplement,
		TargetStepType: step.TypeReview,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}

	cases := []struct {
		name string
		req  CreateRequest
	}{
		{"missing name", CreateRequest{SourceStepType: "a", TargetStepType: "b"}},
		{"missing source", CreateRequest{Name: "r", TargetStepType: "b"}},
		{"missing target", CreateRequest{Name: "r", SourceStepType: "a"}},
		{"self chain", CreateRequest{Name: "r", SourceStepType: "a", TargetStepType: "a"}},
		{"bad status", CreateRequest{Name: "r", SourceStepType: "a", TargetStepType: "b", SourceStatus: step.StatusRunning}},
	}
	for _, tc := range cases {
		if err := tc.req.Validate(); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("%s: err = %v, want validation error", tc.name, err)
		}
	}
}
