// Package executor runs approved tool invocations and categorizes failures.
package executor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/vinayprograms/agentkit/logging"

	"github.com/wardensec/warden/internal/tools"
)

// FailureReason categorizes why a tool invocation did not succeed.
type FailureReason string

const (
	FailureInvocation FailureReason = "invocation_error"
	FailureTimeout    FailureReason = "timeout"
	FailureCrash      FailureReason = "adapter_crash"
	FailureCancelled  FailureReason = "cancelled"
)

// Result captures one finished tool invocation, success or not.
type Result struct {
	ProposalID uint64                 `json:"proposal_id"`
	Tool       string                 `json:"tool"`
	Success    bool                   `json:"success"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	Failure    FailureReason          `json:"failure,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Duration   time.Duration          `json:"duration"`
}

// Config holds executor configuration.
type Config struct {
	Registry *tools.Registry
	// DefaultTimeout applies when no per-tool timeout is configured.
	// Zero means 10 minutes.
	DefaultTimeout time.Duration
	// ToolTimeouts overrides the default per tool name.
	ToolTimeouts map[string]time.Duration
}

// Executor invokes registered tool adapters with timeout enforcement and
// panic containment. A crashing adapter produces a categorized Result, never
// a crashed session.
type Executor struct {
	registry       *tools.Registry
	defaultTimeout time.Duration
	toolTimeouts   map[string]time.Duration
	logger         *logging.Logger

	mu       sync.Mutex
	inflight map[uint64]context.CancelFunc
}

// New creates an executor over the given registry.
func New(cfg Config) *Executor {
	timeout := cfg.DefaultTimeout
	if timeout == 0 {
		timeout = 10 * time.Minute
	}
	return &Executor{
		registry:       cfg.Registry,
		defaultTimeout: timeout,
		toolTimeouts:   cfg.ToolTimeouts,
		logger:         logging.New().WithComponent("executor"),
	}
}

func (e *Executor) timeoutFor(tool string) time.Duration {
	if t, ok := e.toolTimeouts[tool]; ok && t > 0 {
		return t
	}
	return e.defaultTimeout
}

// Execute runs the named tool and always returns a Result: adapter errors,
// timeouts, cancellation and panics all land in the Failure field rather
// than propagating.
func (e *Executor) Execute(ctx context.Context, proposalID uint64, tool string, args map[string]interface{}) *Result {
	start := time.Now()
	result := &Result{ProposalID: proposalID, Tool: tool}

	adapter := e.registry.Get(tool)
	if adapter == nil {
		result.Failure = FailureInvocation
		result.Error = fmt.Sprintf("unknown tool %q", tool)
		result.Duration = time.Since(start)
		return result
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeoutFor(tool))
	defer cancel()
	e.track(proposalID, cancel)
	defer e.untrack(proposalID)

	e.logger.ToolCall(tool, args)

	type invocation struct {
		payload map[string]interface{}
		err     error
		panic   interface{}
		stack   string
	}
	done := make(chan invocation, 1)
	go func() {
		inv := invocation{}
		defer func() {
			if r := recover(); r != nil {
				inv.panic = r
				inv.stack = string(debug.Stack())
			}
			done <- inv
		}()
		inv.payload, inv.err = adapter.Invoke(ctx, args)
	}()

	select {
	case inv := <-done:
		result.Duration = time.Since(start)
		switch {
		case inv.panic != nil:
			e.logger.Error("tool adapter panicked", map[string]interface{}{
				"tool":  tool,
				"panic": fmt.Sprintf("%v", inv.panic),
				"stack": inv.stack,
			})
			result.Failure = FailureCrash
			result.Error = fmt.Sprintf("adapter panic: %v", inv.panic)
		case inv.err != nil:
			result.Failure = categorize(ctx)
			result.Error = inv.err.Error()
		default:
			result.Success = true
			result.Payload = inv.payload
		}
	case <-ctx.Done():
		// The adapter goroutine is abandoned; well-behaved adapters honor
		// ctx and exit shortly after.
		result.Duration = time.Since(start)
		result.Failure = categorize(ctx)
		result.Error = ctx.Err().Error()
	}

	var failure error
	if !result.Success {
		failure = fmt.Errorf("%s: %s", result.Failure, result.Error)
	}
	e.logger.ToolResult(tool, result.Duration, failure)
	return result
}

// Cancel aborts an in-flight invocation. Unknown IDs are a no-op so callers
// can cancel on abort without tracking executor state.
func (e *Executor) Cancel(proposalID uint64) {
	e.mu.Lock()
	cancel, ok := e.inflight[proposalID]
	e.mu.Unlock()
	if ok {
		cancel()
	}
}

func (e *Executor) track(proposalID uint64, cancel context.CancelFunc) {
	e.mu.Lock()
	if e.inflight == nil {
		e.inflight = make(map[uint64]context.CancelFunc)
	}
	e.inflight[proposalID] = cancel
	e.mu.Unlock()
}

func (e *Executor) untrack(proposalID uint64) {
	e.mu.Lock()
	delete(e.inflight, proposalID)
	e.mu.Unlock()
}

func categorize(ctx context.Context) FailureReason {
	switch ctx.Err() {
	case context.DeadlineExceeded:
		return FailureTimeout
	case context.Canceled:
		return FailureCancelled
	}
	return FailureInvocation
}
