package confirm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/agentexec/agentexec/internal/event"
	"github.com/agentexec/agentexec/internal/logging"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// ErrCancelled is returned when a confirmation wait is cancelled.
var ErrCancelled = errors.New("operation cancelled")

// Response is a decoded confirmation answer.
type Response struct {
	CorrelationID string
	Outcome       Outcome
	Payload       json.RawMessage
}

// Protocol correlates confirmation requests with their eventual responses on
// the shared bus. The bus multiplexes many pending confirmations; responses
// are matched purely by correlationId, so out-of-order delivery across
// concurrent confirmations is safe. The response channel for a correlationId
// is registered before the request is published, so an answer arriving before
// AwaitConfirmation is called is never lost.
type Protocol struct {
	bus *event.Bus
	log zerolog.Logger

	mu          sync.Mutex
	pending     map[string]chan Response
	unsubscribe func()
}

// NewProtocol creates a protocol bound to a bus.
func NewProtocol(bus *event.Bus) *Protocol {
	p := &Protocol{
		bus:     bus,
		log:     logging.Component("confirm"),
		pending: make(map[string]chan Response),
	}
	p.unsubscribe = bus.Subscribe(event.ToolConfirmationResponse, p.route)
	return p
}

// Close detaches the protocol from the bus.
func (p *Protocol) Close() {
	if p.unsubscribe != nil {
		p.unsubscribe()
		p.unsubscribe = nil
	}
}

// route delivers an incoming response to the wait registered for its
// correlationId. Responses for unknown or expired correlationIds are
// discarded.
func (p *Protocol) route(e event.Event) {
	data, ok := e.Data.(event.ToolConfirmationResponseData)
	if !ok {
		return
	}
	p.mu.Lock()
	ch := p.pending[data.CorrelationID]
	p.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- Response{
		CorrelationID: data.CorrelationID,
		Outcome:       Outcome(data.Outcome),
		Payload:       data.Payload,
	}:
	default:
		// Duplicate response for the same correlationId; first wins.
	}
}

func (p *Protocol) register(correlationID string) chan Response {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ch, ok := p.pending[correlationID]; ok {
		return ch
	}
	ch := make(chan Response, 1)
	p.pending[correlationID] = ch
	return ch
}

func (p *Protocol) forget(correlationID string) {
	p.mu.Lock()
	delete(p.pending, correlationID)
	p.mu.Unlock()
}

// Abandon drops the pending wait for a published request that will never be
// awaited. Call it when the requester fails between PublishRequest and
// AwaitConfirmation; a late response for the id is then discarded instead of
// holding a map entry forever.
func (p *Protocol) Abandon(correlationID string) {
	p.forget(correlationID)
}

// pendingCount reports registered waits; test hook.
func (p *Protocol) pendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// PublishRequest emits an outbound confirmation request with a freshly
// generated correlationId and returns that id. The matching wait is
// registered before the request goes out.
func (p *Protocol) PublishRequest(details Details) (string, error) {
	raw, err := details.Marshal()
	if err != nil {
		return "", err
	}

	correlationID := ulid.Make().String()
	p.register(correlationID)
	p.bus.Publish(event.Event{
		Kind: event.ToolConfirmationRequest,
		Data: event.ToolConfirmationRequestData{
			CorrelationID: correlationID,
			Details:       raw,
		},
	})

	p.log.Debug().Str("correlationId", correlationID).
		Str("category", string(details.Category)).
		Msg("confirmation requested")
	return correlationID, nil
}

// AwaitConfirmation blocks until the response matching correlationID arrives
// or ctx is cancelled. Responses for other correlationIds are discarded.
//
// If ctx is already cancelled, it returns immediately without touching the
// bus. Callers must bound every wait with a deadline or cancellation; an
// unbounded wait whose approver disappears would accumulate forever.
func (p *Protocol) AwaitConfirmation(ctx context.Context, correlationID string) (Outcome, json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrCancelled, err)
	}

	ch := p.register(correlationID)
	defer p.forget(correlationID)

	select {
	case <-ctx.Done():
		p.log.Debug().Str("correlationId", correlationID).Msg("confirmation wait cancelled")
		return "", nil, fmt.Errorf("%w while awaiting confirmation %s", ErrCancelled, correlationID)
	case resp := <-ch:
		return resp.Outcome, resp.Payload, nil
	}
}

// PublishResponse is used by the approving side to answer a pending
// confirmation request.
func (p *Protocol) PublishResponse(correlationID string, outcome Outcome, payload json.RawMessage) {
	p.bus.Publish(event.Event{
		Kind: event.ToolConfirmationResponse,
		Data: event.ToolConfirmationResponseData{
			CorrelationID: correlationID,
			Outcome:       string(outcome),
			Confirmed:     outcome.Confirmed(),
			Payload:       payload,
		},
	})
}
