// Package tool defines the generic invocation contract for tools the model
// may call: a descriptor that binds and validates arguments into an
// invocation, and the invocation that executes under cancellation control.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/agentexec/agentexec/internal/confirm"
)

// Tool describes one callable tool.
type Tool interface {
	// Name returns the tool identifier.
	Name() string

	// Description returns the tool description.
	Description() string

	// Parameters returns the JSON Schema for tool parameters.
	Parameters() json.RawMessage

	// Build binds and validates args into an executable invocation.
	Build(args map[string]any) (Invocation, error)
}

// Invocation is one bound, validated parameter set for a tool.
type Invocation interface {
	// Params returns the bound parameters.
	Params() map[string]any

	// Description is a short display of what will run.
	Description() string

	// ShouldConfirm returns the serializable details an approver needs, or
	// nil when no approval is required. A returned error is a denial.
	ShouldConfirm(ctx context.Context) (*confirm.Details, error)

	// Execute runs the invocation to completion. onLiveOutput, when non-nil,
	// receives cumulative output as it is produced.
	Execute(ctx context.Context, onLiveOutput func(string)) (*Result, error)
}

// ProcessReporter is implemented by invocations that spawn a subprocess.
// The executor wires the handler so the subprocess pid can be republished
// while the call is executing, enabling cancellation by signal.
type ProcessReporter interface {
	SetPIDHandler(fn func(pid int))
}

// Part is one piece of structured result content.
type Part struct {
	Text string `json:"text"`
}

// Result is the output of a tool execution. Content is the functionResponse
// body handed back to the model: a string, a single Part, or a []Part.
type Result struct {
	Display  string         `json:"resultDisplay"`
	Content  any            `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ContentText flattens the content for display and byte accounting.
func (r *Result) ContentText() string {
	return ContentToText(r.Content)
}

// ContentToText flattens any supported content shape to a string.
func ContentToText(content any) string {
	switch c := content.(type) {
	case nil:
		return ""
	case string:
		return c
	case Part:
		return c.Text
	case []Part:
		out := ""
		for i, p := range c {
			if i > 0 {
				out += "\n"
			}
			out += p.Text
		}
		return out
	default:
		data, _ := json.Marshal(c)
		return string(data)
	}
}

// Registry manages tool registration and lookup.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates a new tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool to the registry, replacing any previous tool with the
// same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns all registered tool names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// requireString pulls a required string argument out of a params map.
func requireString(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing required parameter %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("parameter %q must be a string", key)
	}
	return s, nil
}
