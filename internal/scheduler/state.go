package scheduler

import (
	"sync"

	"github.com/agentexec/agentexec/internal/event"
	"github.com/agentexec/agentexec/internal/logging"
	"github.com/rs/zerolog"
)

// StateManager owns the canonical state of all tool calls: a pending queue,
// an active-calls map and a completed batch. All mutation goes through its
// methods; after every mutation it publishes a full snapshot to the bus, so
// observers always see a consistent total ordering and never need to diff.
//
// The manager itself never blocks on I/O; snapshot publication uses the
// bus's synchronous path so publications are totally ordered per manager.
type StateManager struct {
	mu  sync.Mutex
	bus *event.Bus
	log zerolog.Logger

	queue       []*ToolCall
	active      map[string]*ToolCall
	activeOrder []string
	completed   []*ToolCall
}

// NewStateManager creates an empty state manager publishing to bus.
func NewStateManager(bus *event.Bus) *StateManager {
	return &StateManager{
		bus:    bus,
		log:    logging.Component("scheduler"),
		active: make(map[string]*ToolCall),
	}
}

// Enqueue adds a scheduled call to the pending queue.
func (m *StateManager) Enqueue(call *ToolCall) {
	m.mu.Lock()
	defer m.mu.Unlock()
	call.Status = StatusScheduled
	m.queue = append(m.queue, call)
	m.publishLocked()
}

// Dequeue moves the call with the given id from the queue into the active
// map. It returns nil when the call is not queued.
func (m *StateManager) Dequeue(callID string) *ToolCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, call := range m.queue {
		if call.Request.CallID != callID {
			continue
		}
		m.queue = append(m.queue[:i], m.queue[i+1:]...)
		m.active[callID] = call
		m.activeOrder = append(m.activeOrder, callID)
		m.publishLocked()
		return call
	}
	return nil
}

// SetStatus transitions an active call to a new non-terminal status, applying
// mutate (when non-nil) to its per-status fields under the lock before the
// transition commits. It returns a *TransitionError, and leaves the status
// unchanged, when the transition is not in the lifecycle table or when the
// call would enter the new status without a resolved tool and invocation.
// Such an error is a programming error in the caller, not a condition to
// convert into a tool result.
func (m *StateManager) SetStatus(callID string, status Status, mutate func(*ToolCall)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	call, ok := m.active[callID]
	if !ok {
		return &TransitionError{CallID: callID, To: status, Reason: "call is not active"}
	}
	if status.Terminal() {
		return &TransitionError{CallID: callID, From: call.Status, To: status, Reason: "terminal states are entered through Finalize"}
	}
	if !canTransition(call.Status, status) {
		return &TransitionError{CallID: callID, From: call.Status, To: status, Reason: "not a legal lifecycle edge"}
	}
	if mutate != nil {
		mutate(call)
	}
	if call.Tool == nil || call.Invocation == nil {
		return &TransitionError{CallID: callID, From: call.Status, To: status, Reason: "call has no resolved tool and invocation"}
	}

	call.Status = status
	m.publishLocked()
	return nil
}

// Patch mutates an active call without changing its status, for live-output
// and pid updates while executing.
func (m *StateManager) Patch(callID string, mutate func(*ToolCall)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	call, ok := m.active[callID]
	if !ok {
		return
	}
	mutate(call)
	m.publishLocked()
}

// Finalize moves an active call into the completed batch with the given
// terminal status and response. A call is finalized exactly once; a second
// attempt returns a *TransitionError.
func (m *StateManager) Finalize(callID string, status Status, resp *Response) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !status.Terminal() {
		return &TransitionError{CallID: callID, To: status, Reason: "finalize requires a terminal status"}
	}
	call, ok := m.active[callID]
	if !ok {
		return &TransitionError{CallID: callID, To: status, Reason: "call is not active"}
	}
	if !canTransition(call.Status, status) {
		return &TransitionError{CallID: callID, From: call.Status, To: status, Reason: "not a legal lifecycle edge"}
	}

	call.Status = status
	call.Response = resp
	delete(m.active, callID)
	for i, id := range m.activeOrder {
		if id == callID {
			m.activeOrder = append(m.activeOrder[:i], m.activeOrder[i+1:]...)
			break
		}
	}
	m.completed = append(m.completed, call)
	m.publishLocked()
	return nil
}

// CancelQueued drains every pending call into a cancelled terminal state
// carrying the shared reason, and returns them.
func (m *StateManager) CancelQueued(reason string) []*ToolCall {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.queue) == 0 {
		return nil
	}
	drained := m.queue
	m.queue = nil
	for _, call := range drained {
		call.Status = StatusCancelled
		call.Response = &Response{
			ResultDisplay: reason,
			Error:         &CallError{Kind: ErrorKindCancellation, Message: reason},
		}
		m.completed = append(m.completed, call)
	}
	m.publishLocked()
	return drained
}

// Snapshot returns all calls as completed ++ active ++ queued.
func (m *StateManager) Snapshot() []event.ToolCallSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// DrainCompleted returns the completed batch and clears it, for the scheduler
// to report results upstream.
func (m *StateManager) DrainCompleted() []*ToolCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	batch := m.completed
	m.completed = nil
	return batch
}

// Counts returns how many calls are queued, active and completed.
func (m *StateManager) Counts() (queued, active, completed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue), len(m.active), len(m.completed)
}

func (m *StateManager) snapshotLocked() []event.ToolCallSnapshot {
	out := make([]event.ToolCallSnapshot, 0, len(m.completed)+len(m.active)+len(m.queue))
	for _, call := range m.completed {
		out = append(out, call.Snapshot())
	}
	for _, id := range m.activeOrder {
		out = append(out, m.active[id].Snapshot())
	}
	for _, call := range m.queue {
		out = append(out, call.Snapshot())
	}
	return out
}

func (m *StateManager) publishLocked() {
	m.bus.PublishSync(event.Event{
		Kind: event.ToolCallsUpdate,
		Data: event.ToolCallsUpdateData{ToolCalls: m.snapshotLocked()},
	})
}
