package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/agentexec/agentexec/internal/confirm"
	"github.com/agentexec/agentexec/internal/hook"
	"github.com/agentexec/agentexec/internal/logging"
	"github.com/agentexec/agentexec/internal/permission"
	"github.com/agentexec/agentexec/internal/tool"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Scheduler drives tool calls through the lifecycle: validation, permission
// check, before-hook, approval, execution, after-hook, finalization. One
// scheduler serves one session; calls within a run execute concurrently,
// each under its own cancellation derived from the run's.
type Scheduler struct {
	state    *StateManager
	registry *tool.Registry
	hooks    *hook.Pipeline
	protocol *confirm.Protocol
	executor *Executor
	log      zerolog.Logger

	sessionAllowlist *permission.Allowlist
	doom             *permission.DoomLoopDetector
	maxConcurrent    int

	mu        sync.Mutex
	cancelRun context.CancelCauseFunc
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithSessionAllowlist lets proceed-always confirmations grow the session
// allowlist by the approved root command.
func WithSessionAllowlist(a *permission.Allowlist) Option {
	return func(s *Scheduler) { s.sessionAllowlist = a }
}

// WithDoomLoopDetector forces a confirmation round-trip when the same tool is
// called repeatedly with identical input within one prompt.
func WithDoomLoopDetector(d *permission.DoomLoopDetector) Option {
	return func(s *Scheduler) { s.doom = d }
}

// WithMaxConcurrent bounds how many calls execute at once; 0 means unbounded.
func WithMaxConcurrent(n int) Option {
	return func(s *Scheduler) { s.maxConcurrent = n }
}

// New creates a scheduler around its collaborators.
func New(state *StateManager, registry *tool.Registry, hooks *hook.Pipeline, protocol *confirm.Protocol, executor *Executor, opts ...Option) *Scheduler {
	s := &Scheduler{
		state:    state,
		registry: registry,
		hooks:    hooks,
		protocol: protocol,
		executor: executor,
		log:      logging.Component("scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Cancel cancels the run in progress. Queued calls drain to cancelled with
// the given reason, awaiting-approval waits fail, and executing calls have
// their underlying work terminated.
func (s *Scheduler) Cancel(reason string) {
	s.mu.Lock()
	cancel := s.cancelRun
	s.mu.Unlock()
	if cancel != nil {
		cancel(errors.New(reason))
	}
}

// Schedule runs a batch of tool-call requests to completion and returns one
// terminal call per request, in request order. It blocks until every call is
// terminal; cancel ctx (or call Cancel) to abort the run.
func (s *Scheduler) Schedule(ctx context.Context, requests []ToolCallRequest) ([]*ToolCall, error) {
	if len(requests) == 0 {
		return nil, nil
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	s.mu.Lock()
	s.cancelRun = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.cancelRun = nil
		s.mu.Unlock()
	}()

	calls := make([]*ToolCall, len(requests))
	for i, req := range requests {
		call := &ToolCall{Request: req}
		calls[i] = call
		s.state.Enqueue(call)
	}

	var g errgroup.Group
	if s.maxConcurrent > 0 {
		g.SetLimit(s.maxConcurrent)
	}
	for _, call := range calls {
		g.Go(func() error {
			s.runCall(runCtx, call, cancel)
			return nil
		})
	}
	g.Wait()

	// A late cancellation can leave calls still queued when their worker
	// observed the cancel before dequeuing.
	if runCtx.Err() != nil {
		s.state.CancelQueued(cancelReason(runCtx))
	}

	s.state.DrainCompleted()
	return calls, ctx.Err()
}

// runCall drives one call from the queue to a terminal state. Every failure
// becomes a well-formed terminal response; nothing escapes as a panic or a
// lost call.
func (s *Scheduler) runCall(ctx context.Context, call *ToolCall, stopRun context.CancelCauseFunc) {
	callID := call.Request.CallID

	if ctx.Err() != nil {
		// The run was cancelled before this call left the queue.
		return
	}
	if s.state.Dequeue(callID) == nil {
		return
	}

	// Resolve and validate. Transitioning into validating requires the
	// resolved tool and bound invocation to be attached first.
	t, ok := s.registry.Get(call.Request.ToolName)
	if !ok {
		s.finalize(callID, StatusError, errorResponse(ErrorKindInvalidParameters,
			fmt.Sprintf("tool not found: %s", call.Request.ToolName)))
		return
	}
	inv, err := t.Build(call.Request.Args)
	if err != nil {
		s.finalize(callID, StatusError, errorResponse(ErrorKindInvalidParameters, err.Error()))
		return
	}
	if err := s.state.SetStatus(callID, StatusValidating, func(c *ToolCall) {
		c.Tool = t
		c.Invocation = inv
	}); err != nil {
		s.log.Error().Err(err).Str("callId", callID).Msg("state corruption averted")
		return
	}

	// Permission check. A *permission.DeniedError is a hard denial naming
	// the disallowed segments; any other error fails the call.
	details, err := inv.ShouldConfirm(ctx)
	if err != nil {
		var denied *permission.DeniedError
		if errors.As(err, &denied) {
			kind := ErrorKindPolicyDenial
			if isParseRejection(denied.Result) {
				kind = ErrorKindParseRejection
			}
			s.finalize(callID, StatusError, errorResponse(kind, denied.Result.BlockReason))
			return
		}
		s.finalize(callID, StatusError, errorResponse(ErrorKindExecutionFailure, err.Error()))
		return
	}

	// Before-hook stage.
	verdict := s.hooks.FireBefore(ctx, t.Name(), inv.Params(), mcpContext(t))
	before := hook.EvaluateBefore(verdict, inv.Params())
	switch before.Action {
	case hook.ActionStopRun:
		s.finalize(callID, StatusError, errorResponse(ErrorKindHookStop, before.Reason))
		stopRun(fmt.Errorf("run stopped by policy hook: %s", before.Reason))
		return
	case hook.ActionBlockCall:
		s.finalize(callID, StatusError, errorResponse(ErrorKindHookBlock, before.Reason))
		return
	}
	modifiedKeys := before.ModifiedKeys
	if len(modifiedKeys) > 0 {
		// Re-validate through the tool's own build step; a failure here is
		// an invalid-parameters error, never silently ignored.
		rebuilt, err := t.Build(before.Input)
		if err != nil {
			s.finalize(callID, StatusError, errorResponse(ErrorKindInvalidParameters,
				fmt.Sprintf("hook-modified input failed validation: %s", err.Error())))
			return
		}
		inv = rebuilt
		s.state.Patch(callID, func(c *ToolCall) { c.Invocation = rebuilt })
	}

	// A doom loop forces approval even for calls that would not otherwise
	// need it.
	if details == nil && s.doom != nil &&
		s.doom.Record(call.Request.PromptID, t.Name(), inv.Params()) {
		d := confirm.NewInfoDetails(fmt.Sprintf(
			"%s has been called repeatedly with identical input. Allow another run?", t.Name()))
		details = &d
	}

	// Approval round-trip.
	if details != nil {
		inv, err = s.awaitApproval(ctx, callID, t, inv, *details)
		if err != nil {
			var callErr *CallError
			if errors.As(err, &callErr) {
				status := StatusError
				if callErr.Kind == ErrorKindCancellation {
					status = StatusCancelled
				}
				s.finalize(callID, status, &Response{ResultDisplay: callErr.Message, Error: callErr})
				return
			}
			s.finalize(callID, StatusCancelled, errorResponse(ErrorKindCancellation, err.Error()))
			return
		}
	}

	if err := s.state.SetStatus(callID, StatusExecuting, nil); err != nil {
		s.log.Error().Err(err).Str("callId", callID).Msg("state corruption averted")
		return
	}

	resp := s.executor.Execute(ctx, call)

	// After-hook stage runs against the real response, cancellation aside.
	if resp.Error == nil || resp.Error.Kind != ErrorKindCancellation {
		resp = s.applyAfterHooks(ctx, callID, t, inv, resp, modifiedKeys, stopRun)
	}

	status := StatusSuccess
	if resp.Error != nil {
		status = StatusError
		if resp.Error.Kind == ErrorKindCancellation {
			status = StatusCancelled
		}
	}
	s.finalize(callID, status, resp)
}

// awaitApproval publishes a confirmation request and waits for the matching
// answer. It returns the invocation to execute, possibly rebuilt from a
// modify outcome, or a *CallError describing why the call cannot proceed.
func (s *Scheduler) awaitApproval(ctx context.Context, callID string, t tool.Tool, inv tool.Invocation, details confirm.Details) (tool.Invocation, error) {
	correlationID, err := s.protocol.PublishRequest(details)
	if err != nil {
		return nil, &CallError{Kind: ErrorKindExecutionFailure,
			Message: fmt.Sprintf("could not request approval: %s", err.Error())}
	}
	raw, _ := details.Marshal()
	if err := s.state.SetStatus(callID, StatusAwaitingApproval, func(c *ToolCall) {
		c.CorrelationID = correlationID
		c.ConfirmationDetails = raw
	}); err != nil {
		s.protocol.Abandon(correlationID)
		return nil, &CallError{Kind: ErrorKindExecutionFailure, Message: err.Error()}
	}

	outcome, payload, err := s.protocol.AwaitConfirmation(ctx, correlationID)
	if err != nil {
		// Absent approval is never approval: the wait fails closed.
		return nil, &CallError{Kind: ErrorKindCancellation, Message: cancelReason(ctx)}
	}

	switch outcome {
	case confirm.OutcomeCancel:
		return nil, &CallError{Kind: ErrorKindCancellation, Message: "cancelled by approver"}
	case confirm.OutcomeProceedAlways:
		if s.sessionAllowlist != nil && details.Exec != nil {
			s.sessionAllowlist.Add(details.Exec.RootCommand)
		}
	case confirm.OutcomeModify:
		var mod struct {
			Args map[string]any `json:"args"`
		}
		if err := json.Unmarshal(payload, &mod); err != nil || len(mod.Args) == 0 {
			return nil, &CallError{Kind: ErrorKindInvalidParameters,
				Message: "modify outcome carried no usable arguments"}
		}
		if err := s.state.SetStatus(callID, StatusValidating, nil); err != nil {
			return nil, &CallError{Kind: ErrorKindExecutionFailure, Message: err.Error()}
		}
		rebuilt, err := t.Build(mod.Args)
		if err != nil {
			return nil, &CallError{Kind: ErrorKindInvalidParameters,
				Message: fmt.Sprintf("modified input failed validation: %s", err.Error())}
		}
		s.state.Patch(callID, func(c *ToolCall) { c.Invocation = rebuilt })
		return rebuilt, nil
	}
	return inv, nil
}

// applyAfterHooks runs the after stage and folds its verdict into resp.
func (s *Scheduler) applyAfterHooks(ctx context.Context, callID string, t tool.Tool, inv tool.Invocation, resp *Response, modifiedKeys []string, stopRun context.CancelCauseFunc) *Response {
	verdict := s.hooks.FireAfter(ctx, t.Name(), inv.Params(), resp.Content, mcpContext(t))
	after := hook.EvaluateAfter(verdict)
	switch after.Action {
	case hook.ActionStopRun:
		resp = errorResponse(ErrorKindHookStop, after.Reason)
		stopRun(fmt.Errorf("run stopped by policy hook: %s", after.Reason))
	case hook.ActionBlockCall:
		resp = errorResponse(ErrorKindHookBlock, after.Reason)
	default:
		if after.ModifiedResponse != nil {
			resp.Content = after.ModifiedResponse
		}
		if after.AdditionalContext != "" {
			resp.Content = hook.AppendContext(resp.Content, after.AdditionalContext)
		}
	}
	if len(modifiedKeys) > 0 {
		resp.Content = hook.AppendContext(resp.Content, hook.ModifiedKeysNote(modifiedKeys))
	}
	resp.ContentLength = len(tool.ContentToText(resp.Content))
	return resp
}

func (s *Scheduler) finalize(callID string, status Status, resp *Response) {
	if err := s.state.Finalize(callID, status, resp); err != nil {
		s.log.Error().Err(err).Str("callId", callID).Msg("finalize rejected")
	}
}

// mcpContext builds the hook MCP context for wrapped MCP tools.
func mcpContext(t tool.Tool) *hook.MCPContext {
	if m, ok := t.(*tool.MCPTool); ok {
		return &hook.MCPContext{ServerName: m.ServerName(), ToolName: m.RemoteName()}
	}
	return nil
}

func errorResponse(kind ErrorKind, message string) *Response {
	return &Response{
		ResultDisplay: message,
		Content:       tool.Part{Text: fmt.Sprintf("Error: %s", message)},
		Error:         &CallError{Kind: kind, Message: message},
	}
}

// cancelReason extracts the human-readable reason from a cancelled context.
func cancelReason(ctx context.Context) string {
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause.Error()
	}
	return "operation cancelled"
}

// isParseRejection distinguishes unparseable input from configured denials.
func isParseRejection(r permission.Result) bool {
	return r.IsHardDenial && strings.Contains(r.BlockReason, "could not be parsed safely")
}
