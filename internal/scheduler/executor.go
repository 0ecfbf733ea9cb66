package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/agentexec/agentexec/internal/logging"
	"github.com/agentexec/agentexec/internal/tool"
	"github.com/rs/zerolog"
)

// TruncationConfig controls offloading of oversized tool output.
type TruncationConfig struct {
	// Enabled turns truncation on.
	Enabled bool `json:"enabled"`
	// ThresholdBytes is the inline content size above which output is
	// offloaded to a side file.
	ThresholdBytes int `json:"thresholdBytes"`
	// ExcerptLines is how many lines of head and of tail stay inline.
	ExcerptLines int `json:"excerptLines"`
	// Dir receives the side files; empty means the OS temp directory.
	Dir string `json:"dir,omitempty"`
}

// DefaultTruncation is the truncation policy used when none is configured.
var DefaultTruncation = TruncationConfig{
	Enabled:        true,
	ThresholdBytes: 64 * 1024,
	ExcerptLines:   20,
}

// Executor runs one validated, approved invocation to completion and shapes
// its terminal response. It never returns an error: every failure mode,
// including cancellation, becomes a well-formed Response so the transcript
// has an entry for every requested call.
type Executor struct {
	state *StateManager
	trunc TruncationConfig
	log   zerolog.Logger
}

// NewExecutor creates an executor that publishes live progress through state.
func NewExecutor(state *StateManager, trunc TruncationConfig) *Executor {
	return &Executor{
		state: state,
		trunc: trunc,
		log:   logging.Component("executor"),
	}
}

// Execute runs the call's bound invocation. The call must already be in the
// executing state. Live output and, for subprocess-spawning invocations, the
// pid are republished as executing-state patches while the call runs.
func (e *Executor) Execute(ctx context.Context, call *ToolCall) *Response {
	callID := call.Request.CallID

	if reporter, ok := call.Invocation.(tool.ProcessReporter); ok {
		reporter.SetPIDHandler(func(pid int) {
			e.state.Patch(callID, func(c *ToolCall) { c.PID = pid })
		})
	}
	onLive := func(output string) {
		e.state.Patch(callID, func(c *ToolCall) { c.LiveOutput = output })
	}

	result, err := call.Invocation.Execute(ctx, onLive)

	if ctx.Err() != nil {
		reason := "operation cancelled"
		if cause := context.Cause(ctx); cause != nil && cause != ctx.Err() {
			reason = cause.Error()
		}
		return e.shape(callID, &Response{
			ResultDisplay: reason,
			Content:       tool.Part{Text: fmt.Sprintf("Error: %s", reason)},
			Error:         &CallError{Kind: ErrorKindCancellation, Message: reason},
		})
	}
	if err != nil {
		return e.shape(callID, &Response{
			ResultDisplay: err.Error(),
			Content:       tool.Part{Text: fmt.Sprintf("Error: %s", err.Error())},
			Error:         &CallError{Kind: ErrorKindExecutionFailure, Message: err.Error()},
		})
	}
	return e.shape(callID, &Response{
		ResultDisplay: result.Display,
		Content:       result.Content,
	})
}

// shape fills in the content byte length and applies the truncation policy.
// Truncation is uniform across success and error responses.
func (e *Executor) shape(callID string, resp *Response) *Response {
	text := tool.ContentToText(resp.Content)
	resp.ContentLength = len(text)

	if !e.trunc.Enabled || e.trunc.ThresholdBytes <= 0 || len(text) <= e.trunc.ThresholdBytes {
		return resp
	}

	path, err := e.offload(callID, text)
	if err != nil {
		e.log.Warn().Err(err).Str("callId", callID).Msg("could not offload oversized output, keeping it inline")
		return resp
	}
	resp.Content = tool.Part{Text: excerpt(text, e.trunc.ExcerptLines, path)}
	e.log.Debug().Str("callId", callID).Int("bytes", len(text)).Str("file", path).
		Msg("offloaded oversized tool output")
	return resp
}

func (e *Executor) offload(callID string, text string) (string, error) {
	dir := e.trunc.Dir
	if dir == "" {
		dir = os.TempDir()
	}
	f, err := os.CreateTemp(dir, fmt.Sprintf("agentexec-output-%s-*.txt", filepath.Base(callID)))
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.WriteString(text); err != nil {
		return "", err
	}
	return f.Name(), nil
}

// excerpt keeps the first and last n lines of text around a pointer to the
// file holding the full output.
func excerpt(text string, n int, path string) string {
	if n <= 0 {
		n = DefaultTruncation.ExcerptLines
	}
	lines := strings.Split(text, "\n")
	if len(lines) <= 2*n {
		return text
	}
	head := strings.Join(lines[:n], "\n")
	tail := strings.Join(lines[len(lines)-n:], "\n")
	omitted := len(lines) - 2*n
	return fmt.Sprintf("%s\n... [%d lines truncated, full output saved to %s] ...\n%s", head, omitted, path, tail)
}
