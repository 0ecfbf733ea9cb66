package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/agentexec/agentexec/internal/confirm"
	"github.com/agentexec/agentexec/internal/permission"
	"github.com/agentexec/agentexec/internal/shell"
)

const (
	DefaultShellTimeout = 120 * time.Second
	MaxShellTimeout     = 10 * time.Minute
	SigkillDelay        = 200 * time.Millisecond
)

const shellDescription = `Executes a shell command.

Usage:
- Command is required
- Optional timeout in milliseconds (max 600000)
- Provide a brief description of what the command does
- Output is captured from stdout and stderr
- Commands run in their own process group for proper cleanup`

// ShellTool runs command strings under the platform shell. It is the one
// invocation family that reports a subprocess pid while executing.
type ShellTool struct {
	workDir   string
	shellCfg  shell.Config
	engine    *permission.Engine
	policy    permission.Policy
	allowlist *permission.Allowlist
}

// ShellToolOption configures the shell tool.
type ShellToolOption func(*ShellTool)

// WithPolicy sets the allow/deny policy checked before execution.
func WithPolicy(policy permission.Policy) ShellToolOption {
	return func(t *ShellTool) { t.policy = policy }
}

// WithSessionAllowlist sets the session allowlist; when present the
// permission engine runs in default-deny mode.
func WithSessionAllowlist(a *permission.Allowlist) ShellToolOption {
	return func(t *ShellTool) { t.allowlist = a }
}

// NewShellTool creates a shell tool for the given working directory.
func NewShellTool(workDir string, shellCfg shell.Config, opts ...ShellToolOption) *ShellTool {
	t := &ShellTool{
		workDir:  workDir,
		shellCfg: shellCfg,
		engine:   permission.NewEngine(shellCfg.Family),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *ShellTool) Name() string        { return "shell" }
func (t *ShellTool) Description() string { return shellDescription }

func (t *ShellTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"command": {
				"type": "string",
				"description": "The command to execute"
			},
			"timeout": {
				"type": "integer",
				"description": "Optional timeout in milliseconds (max 600000)"
			},
			"description": {
				"type": "string",
				"description": "Brief description of what this command does"
			}
		},
		"required": ["command"]
	}`)
}

// Build validates the arguments and binds a shell invocation.
func (t *ShellTool) Build(args map[string]any) (Invocation, error) {
	command, err := requireString(args, "command")
	if err != nil {
		return nil, err
	}
	if command == "" {
		return nil, fmt.Errorf("parameter %q must not be empty", "command")
	}

	timeout := DefaultShellTimeout
	if v, ok := args["timeout"]; ok {
		ms, ok := v.(float64)
		if !ok {
			if i, isInt := v.(int); isInt {
				ms = float64(i)
			} else {
				return nil, fmt.Errorf("parameter %q must be a number", "timeout")
			}
		}
		if ms > 0 {
			timeout = time.Duration(ms) * time.Millisecond
			if timeout > MaxShellTimeout {
				timeout = MaxShellTimeout
			}
		}
	}

	description, _ := args["description"].(string)

	return &ShellInvocation{
		tool:        t,
		command:     command,
		timeout:     timeout,
		description: description,
		params:      args,
	}, nil
}

// ShellInvocation is a bound shell command.
type ShellInvocation struct {
	tool        *ShellTool
	command     string
	timeout     time.Duration
	description string
	params      map[string]any

	mu    sync.Mutex
	onPID func(pid int)
}

func (inv *ShellInvocation) Params() map[string]any { return inv.params }

func (inv *ShellInvocation) Description() string {
	if inv.description != "" {
		return inv.description
	}
	return inv.command
}

// Command returns the bound command string.
func (inv *ShellInvocation) Command() string { return inv.command }

// SetPIDHandler implements ProcessReporter.
func (inv *ShellInvocation) SetPIDHandler(fn func(pid int)) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.onPID = fn
}

// ShouldConfirm runs the permission engine over the bound command. A hard
// denial is returned as a *permission.DeniedError; a soft denial yields
// exec-category confirmation details for interactive approval.
func (inv *ShellInvocation) ShouldConfirm(ctx context.Context) (*confirm.Details, error) {
	result := inv.tool.engine.CheckPermissions(inv.command, inv.tool.policy, inv.tool.allowlist)
	if result.Allowed {
		return nil, nil
	}
	if result.IsHardDenial {
		return nil, &permission.DeniedError{Result: result}
	}
	details := confirm.NewExecDetails(inv.command)
	return &details, nil
}

// Execute runs the command under the platform shell in its own process
// group, streaming cumulative output through onLiveOutput.
func (inv *ShellInvocation) Execute(ctx context.Context, onLiveOutput func(string)) (*Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, inv.timeout)
	defer cancel()

	argv := inv.tool.shellCfg.Argv(inv.command)
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = inv.tool.workDir
	cmd.Env = os.Environ()
	if runtime.GOOS != "windows" {
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	}

	buf := &liveBuffer{onUpdate: onLiveOutput}
	cmd.Stdout = buf
	cmd.Stderr = buf

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start shell: %w", err)
	}

	inv.mu.Lock()
	onPID := inv.onPID
	inv.mu.Unlock()
	if onPID != nil && cmd.Process != nil {
		onPID(cmd.Process.Pid)
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	var runErr error
	select {
	case <-runCtx.Done():
		killGroup(cmd, waitErr)
		if ctx.Err() != nil {
			// Outer cancellation, not a timeout.
			return nil, ctx.Err()
		}
		runErr = fmt.Errorf("command timed out after %v", inv.timeout)
	case err := <-waitErr:
		runErr = err
	}

	output := buf.String()
	exitCode := 0
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			output += fmt.Sprintf("\n\nError: %v", runErr)
		}
	}

	return &Result{
		Display: inv.Description(),
		Content: output,
		Metadata: map[string]any{
			"exit":    exitCode,
			"command": inv.command,
		},
	}, nil
}

// killGroup terminates the command's process group, escalating to SIGKILL
// when the process has not exited within SigkillDelay. It returns only after
// cmd.Wait has delivered its result on waitErr, so the caller may read
// cmd.ProcessState afterwards.
func killGroup(cmd *exec.Cmd, waitErr <-chan error) {
	if cmd.Process == nil {
		return
	}
	pid := cmd.Process.Pid

	if runtime.GOOS == "windows" {
		_ = exec.Command("taskkill", "/pid", fmt.Sprint(pid), "/f", "/t").Run()
		<-waitErr
		return
	}

	_ = syscall.Kill(-pid, syscall.SIGTERM)
	select {
	case <-waitErr:
	case <-time.After(SigkillDelay):
		_ = syscall.Kill(-pid, syscall.SIGKILL)
		<-waitErr
	}
}

// liveBuffer accumulates output and reports the cumulative text on every
// write.
type liveBuffer struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	onUpdate func(string)
}

func (b *liveBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	n, err := b.buf.Write(p)
	text := b.buf.String()
	onUpdate := b.onUpdate
	b.mu.Unlock()

	if onUpdate != nil {
		onUpdate(text)
	}
	return n, err
}

func (b *liveBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
