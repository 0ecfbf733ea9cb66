package event

import "encoding/json"

// ToolCallSnapshot is the serializable view of one tool call, as carried in
// ToolCallsUpdate broadcasts. It is a by-value copy; observers never hold a
// reference into scheduler state.
type ToolCallSnapshot struct {
	CallID        string         `json:"callId"`
	ToolName      string         `json:"toolName"`
	Status        string         `json:"status"`
	PromptID      string         `json:"promptId,omitempty"`
	CorrelationID string         `json:"correlationId,omitempty"`
	PID           int            `json:"pid,omitempty"`
	LiveOutput    string         `json:"liveOutput,omitempty"`
	ResultDisplay string         `json:"resultDisplay,omitempty"`
	Error         string         `json:"error,omitempty"`
	Args          map[string]any `json:"args,omitempty"`
}

// ToolCallsUpdateData is the data for tool.calls.update events.
// The slice is ordered completed, then active, then queued.
type ToolCallsUpdateData struct {
	ToolCalls []ToolCallSnapshot `json:"toolCalls"`
}

// HookExecutionRequestData is the data for hook.execution.request events.
type HookExecutionRequestData struct {
	CorrelationID string          `json:"correlationId"`
	EventName     string          `json:"eventName"` // "BeforeTool" | "AfterTool" | "Notification"
	Input         json.RawMessage `json:"input"`
}

// HookExecutionResponseData is the data for hook.execution.response events.
type HookExecutionResponseData struct {
	CorrelationID string          `json:"correlationId"`
	Success       bool            `json:"success"`
	Output        json.RawMessage `json:"output,omitempty"`
}

// ToolConfirmationRequestData is the data for tool.confirmation.request
// events. Details is a serialized confirmation-details union; it carries no
// executable fields so it can cross a process boundary.
type ToolConfirmationRequestData struct {
	CorrelationID string          `json:"correlationId"`
	Details       json.RawMessage `json:"confirmationDetails"`
}

// ToolConfirmationResponseData is the data for tool.confirmation.response
// events, published by the approving side.
type ToolConfirmationResponseData struct {
	CorrelationID string          `json:"correlationId"`
	Outcome       string          `json:"outcome"` // "proceed_once" | "proceed_always" | "modify" | "cancel"
	Confirmed     bool            `json:"confirmed"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}
