package hook

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/agentexec/agentexec/internal/event"
	"github.com/agentexec/agentexec/internal/logging"
	"github.com/cenkalti/backoff/v4"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// Lifecycle event names carried in hook.execution.request.
const (
	EventBeforeTool   = "BeforeTool"
	EventAfterTool    = "AfterTool"
	EventNotification = "Notification"
)

// DefaultTimeout bounds one hook round-trip over the bus.
const DefaultTimeout = 30 * time.Second

// errNoResponse marks a round-trip that produced no usable response.
var errNoResponse = errors.New("no hook response")

// MCPContext identifies the MCP origin of a call, when there is one.
type MCPContext struct {
	ServerName string `json:"serverName"`
	ToolName   string `json:"toolName"`
}

// payload is the input body of a hook.execution.request.
type payload struct {
	ToolName string          `json:"toolName"`
	Input    map[string]any  `json:"input,omitempty"`
	Response json.RawMessage `json:"response,omitempty"`
	MCP      *MCPContext     `json:"mcp,omitempty"`
}

// Pipeline fires lifecycle hooks and decodes their verdicts.
type Pipeline struct {
	bus *event.Bus
	log zerolog.Logger

	mu      sync.RWMutex
	config  *Config
	timeout time.Duration
}

// PipelineOption configures the pipeline.
type PipelineOption func(*Pipeline)

// WithTimeout sets the per-round-trip timeout.
func WithTimeout(d time.Duration) PipelineOption {
	return func(p *Pipeline) { p.timeout = d }
}

// WithConfig installs matcher configuration; without one, hooks fire for
// every tool.
func WithConfig(cfg *Config) PipelineOption {
	return func(p *Pipeline) { p.config = cfg }
}

// NewPipeline creates a hook pipeline on the given bus.
func NewPipeline(bus *event.Bus, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		bus:     bus,
		timeout: DefaultTimeout,
		log:     logging.Component("hook"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.config != nil && p.config.Timeout > 0 {
		p.timeout = p.config.Timeout
	}
	return p
}

// SetConfig swaps the matcher configuration. In-flight round-trips keep the
// timeout they started with.
func (p *Pipeline) SetConfig(cfg *Config) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.config = cfg
	if cfg != nil && cfg.Timeout > 0 {
		p.timeout = cfg.Timeout
	}
}

// FireBefore runs the before-execution hook for a call. A nil verdict means
// no policy opinion; the call proceeds untouched.
func (p *Pipeline) FireBefore(ctx context.Context, toolName string, input map[string]any, mcpCtx *MCPContext) *Verdict {
	if !p.shouldFire(StageBefore, toolName) {
		return nil
	}
	return p.fire(ctx, EventBeforeTool, payload{ToolName: toolName, Input: input, MCP: mcpCtx})
}

// FireAfter runs the after-execution hook for a call against its response.
func (p *Pipeline) FireAfter(ctx context.Context, toolName string, input map[string]any, response any, mcpCtx *MCPContext) *Verdict {
	raw, err := json.Marshal(response)
	if err != nil {
		p.log.Warn().Err(err).Str("tool", toolName).Msg("hook response payload not serializable")
		raw = nil
	}
	if !p.shouldFire(StageAfter, toolName) {
		return nil
	}
	return p.fire(ctx, EventAfterTool, payload{ToolName: toolName, Input: input, Response: raw, MCP: mcpCtx})
}

// Notify sends a one-way notification event; no verdict is awaited.
func (p *Pipeline) Notify(toolName string, input map[string]any) {
	body, err := json.Marshal(payload{ToolName: toolName, Input: input})
	if err != nil {
		return
	}
	p.bus.Publish(event.Event{
		Kind: event.HookExecutionRequest,
		Data: event.HookExecutionRequestData{
			CorrelationID: ulid.Make().String(),
			EventName:     EventNotification,
			Input:         body,
		},
	})
}

// fire performs one request/response round-trip. Transport failures are
// swallowed after a single bounded retry: hooks are advisory and must never
// be a point of failure.
func (p *Pipeline) fire(ctx context.Context, eventName string, body payload) *Verdict {
	input, err := json.Marshal(body)
	if err != nil {
		p.log.Warn().Err(err).Str("event", eventName).Msg("hook input not serializable")
		return nil
	}

	var verdict *Verdict
	op := func() error {
		v, err := p.roundTrip(ctx, eventName, input)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		verdict = v
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 1), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		p.log.Warn().Err(err).Str("event", eventName).Str("tool", body.ToolName).
			Msg("hook round-trip failed, treating as no verdict")
		return nil
	}
	return verdict
}

// roundTrip publishes one request and waits for the correlated response.
func (p *Pipeline) roundTrip(ctx context.Context, eventName string, input json.RawMessage) (*Verdict, error) {
	correlationID := ulid.Make().String()

	respCh := make(chan event.HookExecutionResponseData, 1)
	unsubscribe := p.bus.Subscribe(event.HookExecutionResponse, func(e event.Event) {
		data, ok := e.Data.(event.HookExecutionResponseData)
		if !ok || data.CorrelationID != correlationID {
			return
		}
		select {
		case respCh <- data:
		default:
		}
	})
	defer unsubscribe()

	p.bus.Publish(event.Event{
		Kind: event.HookExecutionRequest,
		Data: event.HookExecutionRequestData{
			CorrelationID: correlationID,
			EventName:     eventName,
			Input:         input,
		},
	})

	p.mu.RLock()
	timeout := p.timeout
	p.mu.RUnlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, errNoResponse
	case resp := <-respCh:
		if !resp.Success {
			return nil, errNoResponse
		}
		if len(resp.Output) == 0 {
			// Success with no body is an explicit no-op.
			return nil, nil
		}
		verdict, err := DecodeVerdict(resp.Output)
		if err != nil {
			// A malformed verdict must not crash the scheduler.
			p.log.Warn().Err(err).Msg("malformed hook verdict ignored")
			return nil, nil
		}
		return verdict, nil
	}
}

func (p *Pipeline) shouldFire(stage Stage, toolName string) bool {
	p.mu.RLock()
	cfg := p.config
	p.mu.RUnlock()
	if cfg == nil {
		return true
	}
	return cfg.Matches(stage, toolName)
}
