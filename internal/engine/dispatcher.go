package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/posture/internal/ir"
)

// DefaultActionTimeout bounds each action invocation.
const DefaultActionTimeout = 5 * time.Second

// Executor runs one protective action against the host.
// Implementations must return promptly once ctx is done.
type Executor interface {
	Execute(ctx context.Context, action ir.ActionName) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, action ir.ActionName) error

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, action ir.ActionName) error {
	return f(ctx, action)
}

// Backend is the lookup table from action to executor. It is injected at
// construction so the engine carries no platform knowledge.
type Backend map[ir.ActionName]Executor

// ActionOutcome is success or failure of one action.
type ActionOutcome string

const (
	ActionSucceeded ActionOutcome = "success"
	ActionFailed    ActionOutcome = "failure"
)

// Failure messages with fixed meaning.
const (
	FailureTimeout       = "timeout"
	FailureUnknownAction = "unknown action"
)

// ActionResult records one attempted action.
type ActionResult struct {
	Action     ir.ActionName `json:"action"`
	Outcome    ActionOutcome `json:"outcome"`
	Message    string        `json:"message,omitempty"`
	DurationMs int64         `json:"durationMs"`
}

// OK reports whether the action succeeded.
func (r ActionResult) OK() bool { return r.Outcome == ActionSucceeded }

// Err returns an ACTION_FAILURE error for a failed result, nil otherwise.
func (r ActionResult) Err() error {
	if r.OK() {
		return nil
	}
	return &Error{
		Code:    ErrCodeActionFailure,
		Message: r.Message,
		Details: map[string]string{"action": string(r.Action)},
	}
}

// Dispatcher executes action lists against a Backend.
//
// Actions run in declared order. Every action is attempted regardless of
// earlier failures, and each is bounded by the timeout. The dispatcher
// knows nothing about zones.
type Dispatcher struct {
	backend Backend
	timeout time.Duration
	logger  *slog.Logger
}

// NewDispatcher creates a dispatcher. A non-positive timeout selects
// DefaultActionTimeout.
func NewDispatcher(backend Backend, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultActionTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{backend: backend, timeout: timeout, logger: logger}
}

// Dispatch runs actions in order and returns one result per action.
func (d *Dispatcher) Dispatch(ctx context.Context, actions []ir.ActionName) []ActionResult {
	results := make([]ActionResult, 0, len(actions))
	for _, action := range actions {
		res := d.run(ctx, action)
		if res.OK() {
			d.logger.Debug("action succeeded", "action", action, "duration_ms", res.DurationMs)
		} else {
			d.logger.Error("action failed",
				"action", action,
				"error", res.Err(),
				"duration_ms", res.DurationMs,
				"code", ErrCodeActionFailure,
			)
		}
		results = append(results, res)
	}
	return results
}

func (d *Dispatcher) run(ctx context.Context, action ir.ActionName) ActionResult {
	exec, ok := d.backend[action]
	if !ok || exec == nil {
		return ActionResult{Action: action, Outcome: ActionFailed, Message: FailureUnknownAction}
	}

	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic: %v", r)
			}
		}()
		done <- exec.Execute(callCtx, action)
	}()

	var err error
	select {
	case err = <-done:
	case <-callCtx.Done():
		err = callCtx.Err()
	}

	res := ActionResult{
		Action:     action,
		Outcome:    ActionSucceeded,
		DurationMs: time.Since(start).Milliseconds(),
	}
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		res.Outcome = ActionFailed
		res.Message = FailureTimeout
	default:
		res.Outcome = ActionFailed
		res.Message = err.Error()
	}
	return res
}
