package headless

import (
	"context"
	"testing"
	"time"

	"github.com/agentexec/agentexec/internal/confirm"
	"github.com/agentexec/agentexec/internal/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ask(t *testing.T, protocol *confirm.Protocol, details confirm.Details) confirm.Outcome {
	t.Helper()
	correlationID, err := protocol.PublishRequest(details)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	outcome, _, err := protocol.AwaitConfirmation(ctx, correlationID)
	require.NoError(t, err)
	return outcome
}

func TestApprover_ApproveAll(t *testing.T) {
	bus := event.NewBus()
	defer bus.Close()
	protocol := confirm.NewProtocol(bus)

	a := NewApprover(bus, protocol, ModeApprove, nil)
	a.Start()
	defer a.Stop()

	outcome := ask(t, protocol, confirm.NewExecDetails("rm -rf /tmp/x"))
	assert.Equal(t, confirm.OutcomeProceedOnce, outcome)
}

func TestApprover_DenyAll(t *testing.T) {
	bus := event.NewBus()
	defer bus.Close()
	protocol := confirm.NewProtocol(bus)

	a := NewApprover(bus, protocol, ModeDeny, nil)
	a.Start()
	defer a.Stop()

	outcome := ask(t, protocol, confirm.NewExecDetails("ls"))
	assert.Equal(t, confirm.OutcomeCancel, outcome)
}

func TestApprover_Allowlist(t *testing.T) {
	bus := event.NewBus()
	defer bus.Close()
	protocol := confirm.NewProtocol(bus)

	a := NewApprover(bus, protocol, ModeAllowlist, []string{"git", "Go"})
	a.Start()
	defer a.Stop()

	assert.Equal(t, confirm.OutcomeProceedOnce, ask(t, protocol, confirm.NewExecDetails("git push")))
	assert.Equal(t, confirm.OutcomeProceedOnce, ask(t, protocol, confirm.NewExecDetails("go test ./...")),
		"allowlist comparison is case-insensitive")
	assert.Equal(t, confirm.OutcomeCancel, ask(t, protocol, confirm.NewExecDetails("rm -rf /")))

	// Info requests never auto-approve in allowlist mode.
	assert.Equal(t, confirm.OutcomeCancel,
		ask(t, protocol, confirm.NewInfoDetails("fetch https://example.com?")))

	// Edits cancel unless trusted paths are configured.
	assert.Equal(t, confirm.OutcomeCancel,
		ask(t, protocol, confirm.NewEditDetails("/work/docs/guide.md", "a", "b", true)))
}

func TestApprover_AllowlistTrustedEdits(t *testing.T) {
	bus := event.NewBus()
	defer bus.Close()
	protocol := confirm.NewProtocol(bus)

	a := NewApprover(bus, protocol, ModeAllowlist, nil,
		WithTrustedEditPaths("/work", []string{"docs/**", "/tmp/scratch/*.txt"}))
	a.Start()
	defer a.Stop()

	assert.Equal(t, confirm.OutcomeProceedOnce,
		ask(t, protocol, confirm.NewEditDetails("/work/docs/guide.md", "a", "b", true)),
		"relative pattern matches under the root")
	assert.Equal(t, confirm.OutcomeProceedOnce,
		ask(t, protocol, confirm.NewEditDetails("/tmp/scratch/note.txt", "", "hi", false)),
		"absolute pattern matches anywhere")
	assert.Equal(t, confirm.OutcomeCancel,
		ask(t, protocol, confirm.NewEditDetails("/work/src/main.go", "a", "b", true)))
	assert.Equal(t, confirm.OutcomeCancel,
		ask(t, protocol, confirm.NewEditDetails("/elsewhere/docs/guide.md", "a", "b", true)),
		"relative pattern does not match outside the root")
}

func TestApprover_StopDetaches(t *testing.T) {
	bus := event.NewBus()
	defer bus.Close()
	protocol := confirm.NewProtocol(bus)

	a := NewApprover(bus, protocol, ModeApprove, nil)
	a.Start()
	a.Stop()

	correlationID, err := protocol.PublishRequest(confirm.NewExecDetails("ls"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, _, err = protocol.AwaitConfirmation(ctx, correlationID)
	assert.Error(t, err, "no answer arrives once the approver detached")
}
