package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/core"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/core/types"
)

// DefaultTimeout bounds a single tool handler. Past it the dispatcher
// synthesizes a failure result instead of holding up the exchange.
const DefaultTimeout = 5 * time.Second

// DispatcherOptions tune dispatch. Zero values take the defaults.
type DispatcherOptions struct {
	Timeout time.Duration
	Logger  *slog.Logger
}

// Dispatcher executes tool invocations against the registry. Every
// invocation produces exactly one result: an unknown name, rejected
// arguments, a handler error, a panic, or a timeout all become a failed
// ToolResult, never a session abort.
type Dispatcher struct {
	registry *Registry
	timeout  time.Duration
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher over the given registry.
func NewDispatcher(registry *Registry, opts DispatcherOptions) *Dispatcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Dispatcher{
		registry: registry,
		timeout:  opts.Timeout,
		logger:   opts.Logger,
	}
}

type outcome struct {
	payload map[string]any
	err     error
}

// Dispatch runs one invocation and returns its result. The result always
// carries the invocation id. Execution is detached from ctx cancellation so
// a barge-in cannot abort a handler mid-write; the per-tool timeout is the
// only bound on a dispatched handler.
func (d *Dispatcher) Dispatch(ctx context.Context, inv types.ToolInvocation, rctx types.RuntimeContext) types.ToolResult {
	name := strings.TrimSpace(inv.Name)
	ex, ok := d.registry.Get(name)
	if !ok {
		d.logger.Warn("invocation for unknown tool",
			"tool", name,
			"invocation_id", inv.ID,
		)
		return types.ToolFailure(inv.ID, "unknown_tool")
	}

	if def := ex.Definition(); def.InputSchema != nil {
		if err := ValidateArgs(def.InputSchema, inv.Arguments); err != nil {
			d.logger.Warn("tool arguments rejected",
				"tool", name,
				"invocation_id", inv.ID,
				"error", err,
			)
			return types.ToolFailure(inv.ID, "invalid arguments: "+coreMessage(err))
		}
	}

	execCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: core.NewToolExecutionError(fmt.Sprintf("tool handler panicked: %v", r))}
			}
		}()
		payload, err := ex.Execute(execCtx, inv.Arguments, rctx)
		done <- outcome{payload: payload, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			attrs := []any{"tool", name, "invocation_id", inv.ID, "error", out.err}
			if cause := errors.Unwrap(out.err); cause != nil {
				attrs = append(attrs, "cause", cause)
			}
			d.logger.Error("tool execution failed", attrs...)
			return types.ToolFailure(inv.ID, resultMessage(out.err))
		}
		return types.ToolSuccess(inv.ID, out.payload)
	case <-execCtx.Done():
		d.logger.Error("tool handler exceeded timeout",
			"tool", name,
			"invocation_id", inv.ID,
			"timeout", d.timeout,
		)
		return types.ToolFailure(inv.ID, fmt.Sprintf("%s timed out", name))
	}
}

// coreMessage extracts the bare message from a core error for embedding in a
// result. Falls back to the full error string.
func coreMessage(err error) string {
	var ce *core.Error
	if errors.As(err, &ce) {
		return ce.Message
	}
	return err.Error()
}

// resultMessage renders a handler error for the result's error field. Core
// errors carry wording the handler chose for the user; anything else stays
// in the logs and the result gets a generic line.
func resultMessage(err error) string {
	var ce *core.Error
	if errors.As(err, &ce) {
		return ce.Message
	}
	return "tool execution failed"
}
