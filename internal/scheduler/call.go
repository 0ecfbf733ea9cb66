package scheduler

import (
	"encoding/json"
	"fmt"

	"github.com/agentexec/agentexec/internal/event"
	"github.com/agentexec/agentexec/internal/tool"
)

// Status is the lifecycle state of a tool call.
type Status string

const (
	StatusScheduled        Status = "scheduled"
	StatusValidating       Status = "validating"
	StatusAwaitingApproval Status = "awaiting_approval"
	StatusExecuting        Status = "executing"
	StatusSuccess          Status = "success"
	StatusError            Status = "error"
	StatusCancelled        Status = "cancelled"
)

// Terminal reports whether no further transitions are permitted.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusError || s == StatusCancelled
}

// ErrorKind classifies terminal errors by what produced them, not by where
// they were raised.
type ErrorKind string

const (
	// ErrorKindParseRejection means the command could not be proven safe.
	ErrorKindParseRejection ErrorKind = "parse_rejection"
	// ErrorKindPolicyDenial is an explicit deny-list match.
	ErrorKindPolicyDenial ErrorKind = "policy_denial"
	// ErrorKindAllowlistMiss is an absence from a strict allowlist.
	ErrorKindAllowlistMiss ErrorKind = "allowlist_miss"
	// ErrorKindHookStop means a policy hook requested whole-run termination.
	ErrorKindHookStop ErrorKind = "hook_stop"
	// ErrorKindHookBlock means a policy hook rejected this single call.
	ErrorKindHookBlock ErrorKind = "hook_block"
	// ErrorKindInvalidParameters is a parameter-validation failure, including
	// re-validation after a hook modified the input.
	ErrorKindInvalidParameters ErrorKind = "invalid_parameters"
	// ErrorKindExecutionFailure means the tool's own execute path failed.
	ErrorKindExecutionFailure ErrorKind = "execution_failure"
	// ErrorKindCancellation is signal-triggered and not a failure mode; calls
	// carrying it terminate as cancelled, never as error.
	ErrorKindCancellation ErrorKind = "cancellation"
)

// CallError is the typed error attached to a terminal call response.
type CallError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *CallError) Error() string { return e.Message }

// Response is the terminal payload of a completed tool call.
type Response struct {
	ResultDisplay string     `json:"resultDisplay,omitempty"`
	Content       any        `json:"content,omitempty"`
	Error         *CallError `json:"error,omitempty"`
	ContentLength int        `json:"contentLength"`
}

// ToolCallRequest is the immutable request that created a call.
type ToolCallRequest struct {
	CallID            string         `json:"callId"`
	ToolName          string         `json:"toolName"`
	Args              map[string]any `json:"args"`
	IsClientInitiated bool           `json:"isClientInitiated"`
	PromptID          string         `json:"promptId"`
}

// ToolCall is one tool call moving through the lifecycle. Which fields are
// populated depends on Status: non-terminal calls past validation carry Tool
// and Invocation; awaiting_approval additionally carries CorrelationID and
// serializable ConfirmationDetails; executing may carry LiveOutput and PID;
// terminal calls carry Response.
type ToolCall struct {
	Request ToolCallRequest
	Status  Status

	Tool       tool.Tool
	Invocation tool.Invocation

	CorrelationID       string
	ConfirmationDetails json.RawMessage

	LiveOutput string
	PID        int

	Response *Response
}

// Snapshot renders the call for the tool.calls.update broadcast.
func (c *ToolCall) Snapshot() event.ToolCallSnapshot {
	s := event.ToolCallSnapshot{
		CallID:        c.Request.CallID,
		ToolName:      c.Request.ToolName,
		Status:        string(c.Status),
		PromptID:      c.Request.PromptID,
		CorrelationID: c.CorrelationID,
		PID:           c.PID,
		LiveOutput:    c.LiveOutput,
		Args:          c.Request.Args,
	}
	if c.Response != nil {
		s.ResultDisplay = c.Response.ResultDisplay
		if c.Response.Error != nil {
			s.Error = c.Response.Error.Message
		}
	}
	return s
}

// validTransitions is the legal edge set of the lifecycle state machine.
// Cancellation is reachable from every non-terminal state; error is too,
// because validation and approval can fail before execution begins.
var validTransitions = map[Status][]Status{
	StatusScheduled:        {StatusValidating, StatusExecuting, StatusError, StatusCancelled},
	StatusValidating:       {StatusAwaitingApproval, StatusExecuting, StatusError, StatusCancelled},
	StatusAwaitingApproval: {StatusValidating, StatusExecuting, StatusError, StatusCancelled},
	StatusExecuting:        {StatusSuccess, StatusError, StatusCancelled},
}

func canTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionError reports an illegal state-machine operation. It indicates a
// bug in the caller, not a runtime condition, and is never converted into a
// tool result.
type TransitionError struct {
	CallID string
	From   Status
	To     Status
	Reason string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal transition for call %s (%s -> %s): %s", e.CallID, e.From, e.To, e.Reason)
}
