// Package gateway implements the executor port against an external agent
// gateway speaking JSON over HTTP.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/agentloop/agentloop/internal/port/executor"
)

// Executor dispatches steps to a remote agent gateway. A request that
// outlives its context is abandoned, not cancelled remotely; the stale-claim
// sweep recovers the step.
type Executor struct {
	baseURL string
	client  *http.Client
}

// New creates a gateway executor. timeout bounds each HTTP request on top of
// whatever deadline the caller's context carries.
func New(baseURL string, timeout time.Duration) *Executor {
	return &Executor{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (e *Executor) Execute(ctx context.Context, req *executor.Request) (*executor.Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal execute request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build execute request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gateway execute step %s: %w", req.StepID, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("gateway execute step %s: status %d: %s", req.StepID, resp.StatusCode, snippet)
	}

	var result executor.Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode execute response for step %s: %w", req.StepID, err)
	}
	return &result, nil
}
