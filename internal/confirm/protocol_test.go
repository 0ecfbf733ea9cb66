package confirm

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/agentexec/agentexec/internal/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishRequest_EmitsSerializableDetails(t *testing.T) {
	bus := event.NewBus()
	defer bus.Close()
	p := NewProtocol(bus)

	received := make(chan event.ToolConfirmationRequestData, 1)
	bus.Subscribe(event.ToolConfirmationRequest, func(e event.Event) {
		received <- e.Data.(event.ToolConfirmationRequestData)
	})

	id, err := p.PublishRequest(NewExecDetails("git push origin main"))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	select {
	case data := <-received:
		assert.Equal(t, id, data.CorrelationID)
		details, err := UnmarshalDetails(data.Details)
		require.NoError(t, err)
		assert.Equal(t, CategoryExec, details.Category)
		assert.Equal(t, "git push origin main", details.Exec.Command)
		assert.Equal(t, "git", details.Exec.RootCommand)
	case <-time.After(time.Second):
		t.Fatal("request not published")
	}
}

func TestAwaitConfirmation_MatchesCorrelationID(t *testing.T) {
	bus := event.NewBus()
	defer bus.Close()
	p := NewProtocol(bus)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	type result struct {
		outcome Outcome
		err     error
	}
	done := make(chan result, 1)
	go func() {
		outcome, _, err := p.AwaitConfirmation(ctx, "want")
		done <- result{outcome, err}
	}()

	// Give the waiter a moment to subscribe, then answer a different
	// correlationId first; it must be discarded.
	time.Sleep(20 * time.Millisecond)
	p.PublishResponse("other", OutcomeCancel, nil)
	p.PublishResponse("want", OutcomeProceedOnce, nil)

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Equal(t, OutcomeProceedOnce, r.outcome)
	case <-time.After(2 * time.Second):
		t.Fatal("await did not complete")
	}
}

func TestAwaitConfirmation_ResponseBeforeAwait(t *testing.T) {
	bus := event.NewBus()
	defer bus.Close()
	p := NewProtocol(bus)

	// An approver can answer between PublishRequest and AwaitConfirmation;
	// the answer is buffered, not lost.
	bus.Subscribe(event.ToolConfirmationRequest, func(e event.Event) {
		req := e.Data.(event.ToolConfirmationRequestData)
		p.PublishResponse(req.CorrelationID, OutcomeProceedOnce, nil)
	})

	id, err := p.PublishRequest(NewExecDetails("ls"))
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	outcome, _, err := p.AwaitConfirmation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProceedOnce, outcome)
}

func TestAbandon_ReleasesPublishedRequest(t *testing.T) {
	bus := event.NewBus()
	defer bus.Close()
	p := NewProtocol(bus)

	id, err := p.PublishRequest(NewExecDetails("rm -rf tmp"))
	require.NoError(t, err)
	require.Equal(t, 1, p.pendingCount())

	// The requester gave up before awaiting; the registration must not
	// outlive it.
	p.Abandon(id)
	assert.Equal(t, 0, p.pendingCount())

	// A late answer for the abandoned id is discarded without re-registering.
	p.PublishResponse(id, OutcomeProceedOnce, nil)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, p.pendingCount())
}

func TestAwaitConfirmation_AlreadyCancelled(t *testing.T) {
	bus := event.NewBus()
	defer bus.Close()
	p := NewProtocol(bus)

	// Closing the bus first proves the early return never touches it.
	require.NoError(t, bus.Close())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := p.AwaitConfirmation(ctx, "x")
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestAwaitConfirmation_CancelDuringWait(t *testing.T) {
	bus := event.NewBus()
	defer bus.Close()
	p := NewProtocol(bus)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, _, err := p.AwaitConfirmation(ctx, "pending")
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrCancelled)
	case <-time.After(time.Second):
		t.Fatal("await did not return after cancellation")
	}
}

func TestAwaitConfirmation_PayloadPassedThrough(t *testing.T) {
	bus := event.NewBus()
	defer bus.Close()
	p := NewProtocol(bus)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	payload := json.RawMessage(`{"command":"git status"}`)
	go func() {
		time.Sleep(20 * time.Millisecond)
		p.PublishResponse("mod", OutcomeModify, payload)
	}()

	outcome, got, err := p.AwaitConfirmation(ctx, "mod")
	require.NoError(t, err)
	assert.Equal(t, OutcomeModify, outcome)
	assert.JSONEq(t, string(payload), string(got))
}

func TestOutcomeConfirmed(t *testing.T) {
	assert.True(t, OutcomeProceedOnce.Confirmed())
	assert.True(t, OutcomeProceedAlways.Confirmed())
	assert.True(t, OutcomeModify.Confirmed())
	assert.False(t, OutcomeCancel.Confirmed())
}

func TestDetailsValidate(t *testing.T) {
	tests := []struct {
		name    string
		details Details
		wantErr bool
	}{
		{"exec ok", NewExecDetails("ls"), false},
		{"info ok", NewInfoDetails("fetch?", "https://example.com"), false},
		{"mcp ok", NewMCPDetails("files", "read_file"), false},
		{"missing payload", Details{Category: CategoryExec}, true},
		{
			"two variants",
			Details{
				Category: CategoryExec,
				Exec:     &ExecDetails{Command: "ls"},
				Info:     &InfoDetails{Prompt: "?"},
			},
			true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.details.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewEditDetails_BuildsDiff(t *testing.T) {
	d := NewEditDetails("/repo/main.go", "package main\n", "package main\n\nfunc main() {}\n", true)
	require.Equal(t, CategoryEdit, d.Category)
	assert.Equal(t, "main.go", d.Edit.FileName)
	assert.True(t, d.Edit.IsModifying)
	assert.True(t, strings.Contains(d.Edit.FileDiff, "/repo/main.go"))
	assert.NotEmpty(t, d.Edit.FileDiff)

	// Round-trips through JSON with no executable fields.
	raw, err := d.Marshal()
	require.NoError(t, err)
	back, err := UnmarshalDetails(raw)
	require.NoError(t, err)
	assert.Equal(t, d.Edit.NewContent, back.Edit.NewContent)
}

func TestNewEditDetails_NoChangeNoDiff(t *testing.T) {
	d := NewEditDetails("/a", "same", "same", false)
	assert.Empty(t, d.Edit.FileDiff)
}
