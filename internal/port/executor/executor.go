// Package executor defines the port interface for running a step's work on
// an agent backend.
package executor

import "context"

// Request carries everything a backend needs to execute one step.
type Request struct {
	StepID      string            `json:"step_id"`
	MissionID   string            `json:"mission_id"`
	ProjectID   string            `json:"project_id"`
	StepType    string            `json:"step_type"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	AgentID     string            `json:"agent_id"`
	AgentName   string            `json:"agent_name"`
	AgentConfig map[string]string `json:"agent_config,omitempty"`
}

// Result is the outcome reported by a backend.
type Result struct {
	Success bool   `json:"success"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Executor runs a step to completion on an agent backend.
//
// Execution is at-least-once: when the context expires the engine abandons
// the wait but cannot signal the backend, so the work may still finish
// remotely. The stale-claim sweep recovers the step afterwards.
type Executor interface {
	Execute(ctx context.Context, req *Request) (*Result, error)
}
