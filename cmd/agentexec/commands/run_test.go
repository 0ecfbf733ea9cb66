package commands

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentexec/agentexec/internal/config"
	"github.com/agentexec/agentexec/internal/confirm"
	"github.com/agentexec/agentexec/internal/event"
	"github.com/agentexec/agentexec/internal/scheduler"
)

func TestReadRequests_ArgsWrapShellCall(t *testing.T) {
	requests, err := readRequests("", []string{"git", "status"})
	require.NoError(t, err)
	require.Len(t, requests, 1)
	assert.Equal(t, "shell", requests[0].ToolName)
	assert.Equal(t, "git status", requests[0].Args["command"])
}

func TestReadRequests_NothingToRun(t *testing.T) {
	_, err := readRequests("", nil)
	assert.Error(t, err)
}

func TestReadRequests_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calls.json")
	batch := `[
		{"callId": "c1", "toolName": "shell", "args": {"command": "ls"}},
		{"toolName": "shell", "args": {"command": "pwd"}}
	]`
	require.NoError(t, os.WriteFile(path, []byte(batch), 0o644))

	requests, err := readRequests(path, nil)
	require.NoError(t, err)
	require.Len(t, requests, 2)
	assert.Equal(t, "c1", requests[0].CallID)
	assert.Empty(t, requests[1].CallID)
}

func TestReadRequests_ParseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calls.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := readRequests(path, nil)
	assert.ErrorContains(t, err, "failed to parse requests")
}

func TestFillRequestIDs(t *testing.T) {
	requests := []scheduler.ToolCallRequest{
		{CallID: "keep", PromptID: "existing"},
		{},
	}

	fillRequestIDs(requests, "run-1")

	assert.Equal(t, "keep", requests[0].CallID)
	assert.Equal(t, "existing", requests[0].PromptID)
	assert.NotEmpty(t, requests[1].CallID)
	assert.Equal(t, "run-1", requests[1].PromptID)
}

func TestBuildApprover_ModeResolution(t *testing.T) {
	bus := event.NewBus()
	defer bus.Close()
	protocol := confirm.NewProtocol(bus)
	defer protocol.Close()

	restore := runApprovals
	defer func() { runApprovals = restore }()

	runApprovals = ""
	approver, err := buildApprover(bus, protocol, "/work", nil)
	require.NoError(t, err)
	assert.NotNil(t, approver)

	runApprovals = "allowlist"
	approver, err = buildApprover(bus, protocol, "/work", &config.HeadlessConfig{Mode: "deny"})
	require.NoError(t, err)
	assert.NotNil(t, approver, "flag overrides config mode")

	runApprovals = "sometimes"
	_, err = buildApprover(bus, protocol, "/work", nil)
	assert.ErrorContains(t, err, "unknown approval mode")
}

func TestTruncationConfig_Overrides(t *testing.T) {
	paths := config.GetPaths()

	trunc := truncationConfig(&config.Config{}, paths)
	assert.Equal(t, paths.OutputPath(), trunc.Dir)
	assert.Equal(t, scheduler.DefaultTruncation.ThresholdBytes, trunc.ThresholdBytes)

	disabled := false
	trunc = truncationConfig(&config.Config{
		Truncation: &config.TruncationConfig{
			Enabled:        &disabled,
			ThresholdBytes: 1024,
			ExcerptLines:   5,
			Dir:            "/tmp/out",
		},
	}, paths)
	assert.False(t, trunc.Enabled)
	assert.Equal(t, 1024, trunc.ThresholdBytes)
	assert.Equal(t, 5, trunc.ExcerptLines)
	assert.Equal(t, "/tmp/out", trunc.Dir)
}

func TestPrintResults_Default(t *testing.T) {
	calls := []*scheduler.ToolCall{
		{
			Request:  scheduler.ToolCallRequest{CallID: "c1", ToolName: "shell"},
			Status:   scheduler.StatusSuccess,
			Response: &scheduler.Response{ResultDisplay: "line one\nline two", ContentLength: 17},
		},
		{
			Request: scheduler.ToolCallRequest{CallID: "c2", ToolName: "shell"},
			Status:  scheduler.StatusError,
			Response: &scheduler.Response{
				Error: &scheduler.CallError{Kind: scheduler.ErrorKindPolicyDenial, Message: "blocked"},
			},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, printResults(&buf, calls, "default"))

	out := buf.String()
	assert.Contains(t, out, "[success] shell c1")
	assert.Contains(t, out, "  line one\n  line two")
	assert.Contains(t, out, "policy_denial: blocked")
}

func TestPrintResults_JSON(t *testing.T) {
	calls := []*scheduler.ToolCall{
		{
			Request:  scheduler.ToolCallRequest{CallID: "c1", ToolName: "shell"},
			Status:   scheduler.StatusCancelled,
			Response: &scheduler.Response{Error: &scheduler.CallError{Kind: scheduler.ErrorKindCancellation, Message: "interrupted"}},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, printResults(&buf, calls, "json"))

	var decoded []callResult
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, scheduler.StatusCancelled, decoded[0].Status)
	require.NotNil(t, decoded[0].Error)
	assert.Equal(t, "interrupted", decoded[0].Error.Message)
}

func TestIndent(t *testing.T) {
	assert.Equal(t, "  a\n  b", indent("a\nb\n", "  "))
	assert.False(t, strings.HasSuffix(indent("a\n", "  "), "\n"))
}
