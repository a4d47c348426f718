// Package simexec implements the executor port with canned results, for
// local development and demos without a real agent backend.
package simexec

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/agentloop/agentloop/internal/domain/step"
	"github.com/agentloop/agentloop/internal/port/executor"
)

// Executor fakes step execution. Each call sleeps Delay (interruptible) and
// then succeeds with a result summary shaped by the step type; FailureRate
// injects random failures so retry and requeue paths can be exercised.
type Executor struct {
	Delay       time.Duration
	FailureRate float64
}

// New creates a simulated executor with no delay and no injected failures.
func New() *Executor {
	return &Executor{}
}

func (e *Executor) Execute(ctx context.Context, req *executor.Request) (*executor.Result, error) {
	if e.Delay > 0 {
		select {
		case <-time.After(e.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if e.FailureRate > 0 && rand.Float64() < e.FailureRate {
		return &executor.Result{
			Success: false,
			Error:   fmt.Sprintf("simulated failure executing %q", req.Title),
		}, nil
	}

	return &executor.Result{
		Success: true,
		Output:  outputFor(req.StepType, req.Title),
	}, nil
}

func outputFor(stepType, title string) string {
	switch stepType {
	case step.TypeResearch:
		return fmt.Sprintf("Completed research for: %s\n\nKey findings:\n- Analysis complete\n- Requirements identified\n- Next steps planned", title)
	case step.TypeImplement:
		return fmt.Sprintf("Implemented: %s\n\nChanges made:\n- Code written and tested\n- Files updated\n- Ready for review", title)
	case step.TypeTest:
		return fmt.Sprintf("Testing complete for: %s\n\nTest results:\n- All tests passing\n- Coverage adequate\n- No issues found", title)
	case step.TypeReview:
		return fmt.Sprintf("Code review complete for: %s\n\nReview summary:\n- Code quality good\n- Best practices followed\n- Approved for deployment", title)
	case step.TypeDeploy:
		return fmt.Sprintf("Deployment complete for: %s\n\nDeployment summary:\n- Successfully deployed\n- Services running\n- Monitoring active", title)
	case step.TypeSecurity:
		return fmt.Sprintf("Security review complete for: %s\n\nFindings:\n- No critical vulnerabilities found\n- Input validation adequate\n- No hardcoded secrets detected", title)
	default:
		return fmt.Sprintf("Task complete: %s\n\nWork summary:\n- Objectives achieved\n- Deliverables ready", title)
	}
}
