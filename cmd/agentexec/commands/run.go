package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/agentexec/agentexec/internal/config"
	"github.com/agentexec/agentexec/internal/confirm"
	"github.com/agentexec/agentexec/internal/event"
	"github.com/agentexec/agentexec/internal/headless"
	"github.com/agentexec/agentexec/internal/hook"
	"github.com/agentexec/agentexec/internal/logging"
	"github.com/agentexec/agentexec/internal/permission"
	"github.com/agentexec/agentexec/internal/scheduler"
	"github.com/agentexec/agentexec/internal/shell"
	"github.com/agentexec/agentexec/internal/tool"
	"github.com/agentexec/agentexec/internal/transcript"
)

var (
	runDir           string
	runRequests      string
	runFormat        string
	runApprovals     string
	runAllow         []string
	runAllowPaths    []string
	runMaxConcurrent int
)

var runCmd = &cobra.Command{
	Use:   "run [command...]",
	Short: "Execute tool calls through the policy and approval pipeline",
	Long: `Execute tool calls through the policy and approval pipeline.

A bare command is wrapped in a single shell tool call. A JSON file (or
stdin with --requests -) supplies a full batch of tool call requests.

Examples:
  agentexec run "git status"
  agentexec run --requests calls.json
  cat calls.json | agentexec run --requests -
  agentexec run --approvals allowlist --allow git --allow ls "git log"`,
	RunE: runBatch,
}

func init() {
	runCmd.Flags().StringVar(&runDir, "directory", "", "Working directory")
	runCmd.Flags().StringVarP(&runRequests, "requests", "r", "", "JSON file of tool call requests, or - for stdin")
	runCmd.Flags().StringVar(&runFormat, "format", "default", "Output format (default|json)")
	runCmd.Flags().StringVar(&runApprovals, "approvals", "", "Approval mode (approve|deny|allowlist)")
	runCmd.Flags().StringArrayVar(&runAllow, "allow", nil, "Root command(s) auto-approved in allowlist mode")
	runCmd.Flags().StringArrayVar(&runAllowPaths, "allow-path", nil, "File pattern(s) whose edits are auto-approved in allowlist mode")
	runCmd.Flags().IntVar(&runMaxConcurrent, "max-concurrent", 0, "Maximum concurrent tool calls (0 = unlimited)")
}

func runBatch(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(runDir)
	if err != nil {
		return err
	}

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return err
	}

	appConfig, err := config.Load(workDir)
	if err != nil {
		return err
	}
	initLogging(appConfig)

	requests, err := readRequests(runRequests, args)
	if err != nil {
		return err
	}
	if len(requests) == 0 {
		return fmt.Errorf("no tool call requests provided")
	}
	runID := ulid.Make().String()
	fillRequestIDs(requests, runID)

	bus := event.NewBus()
	defer bus.Close()

	protocol := confirm.NewProtocol(bus)
	defer protocol.Close()

	policy := permission.Policy{}
	var session *permission.Allowlist
	if pc := appConfig.Permission; pc != nil {
		policy = permission.Policy{Allow: pc.Allow, Deny: pc.Deny}
		if pc.DefaultDeny {
			session = permission.NewAllowlist(pc.SessionAllow...)
		}
	}

	registry := tool.NewRegistry()
	shellOpts := []tool.ShellToolOption{tool.WithPolicy(policy)}
	if session != nil {
		shellOpts = append(shellOpts, tool.WithSessionAllowlist(session))
	}
	registry.Register(tool.NewShellTool(workDir, shell.Detect(), shellOpts...))

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	closeMCP := connectMCPServers(ctx, appConfig.MCP, registry)
	defer closeMCP()

	pipeline, err := buildHookPipeline(bus, appConfig.HooksPath)
	if err != nil {
		return err
	}
	if appConfig.HooksPath != "" {
		watcher, err := hook.NewWatcher(pipeline, appConfig.HooksPath)
		if err != nil {
			log := logging.Component("hook")
			log.Warn().Err(err).Msg("hook configuration watching disabled")
		} else {
			watcher.Start()
			defer watcher.Stop()
		}
	}

	approver, err := buildApprover(bus, protocol, workDir, appConfig.Headless)
	if err != nil {
		return err
	}
	approver.Start()
	defer approver.Stop()

	state := scheduler.NewStateManager(bus)
	executor := scheduler.NewExecutor(state, truncationConfig(appConfig, paths))

	opts := []scheduler.Option{
		scheduler.WithDoomLoopDetector(permission.NewDoomLoopDetector()),
	}
	if session != nil {
		opts = append(opts, scheduler.WithSessionAllowlist(session))
	}
	if runMaxConcurrent > 0 {
		opts = append(opts, scheduler.WithMaxConcurrent(runMaxConcurrent))
	}
	sched := scheduler.New(state, registry, pipeline, protocol, executor, opts...)

	// Ctrl-C cancels the run; queued calls drain as cancelled.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)
	go func() {
		if _, ok := <-sigCh; ok {
			sched.Cancel("interrupted")
		}
	}()

	startedAt := time.Now()
	calls, err := sched.Schedule(ctx, requests)
	if err != nil {
		return err
	}

	store := transcript.NewStore(paths.TranscriptPath())
	record := transcript.NewRunRecord(runID, workDir, startedAt, time.Now(), calls)
	if err := store.Save(ctx, record); err != nil {
		log := logging.Component("transcript")
		log.Warn().Err(err).Str("runId", runID).Msg("failed to save run transcript")
	}

	if err := printResults(cmd.OutOrStdout(), calls, runFormat); err != nil {
		return err
	}

	failed := 0
	for _, call := range calls {
		if call.Status == scheduler.StatusError {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d tool calls failed", failed, len(calls))
	}
	return nil
}

func initLogging(appConfig *config.Config) {
	level := logLevel
	if level == "" {
		level = appConfig.LogLevel
	}
	logCfg := logging.DefaultConfig()
	logCfg.Level = logging.ParseLevel(level)
	logCfg.Pretty = appConfig.Pretty
	if !printLogs {
		logCfg.Output = io.Discard
	}
	logging.Init(logCfg)
}

// readRequests loads the batch: a JSON array from --requests, or a single
// shell call wrapping the positional arguments.
func readRequests(path string, args []string) ([]scheduler.ToolCallRequest, error) {
	if path == "" {
		if len(args) == 0 {
			return nil, fmt.Errorf("nothing to run. Usage: agentexec run \"your command\" or agentexec run --requests calls.json")
		}
		return []scheduler.ToolCallRequest{{
			ToolName: "shell",
			Args:     map[string]any{"command": strings.Join(args, " ")},
		}}, nil
	}

	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read requests: %w", err)
	}

	var requests []scheduler.ToolCallRequest
	if err := json.Unmarshal(data, &requests); err != nil {
		return nil, fmt.Errorf("failed to parse requests: %w", err)
	}
	return requests, nil
}

// fillRequestIDs assigns call ids where missing and defaults the prompt id
// to the run id so doom loop detection is scoped per run.
func fillRequestIDs(requests []scheduler.ToolCallRequest, promptID string) {
	for i := range requests {
		if requests[i].CallID == "" {
			requests[i].CallID = ulid.Make().String()
		}
		if requests[i].PromptID == "" {
			requests[i].PromptID = promptID
		}
	}
}

func buildHookPipeline(bus *event.Bus, hooksPath string) (*hook.Pipeline, error) {
	if hooksPath == "" {
		return hook.NewPipeline(bus), nil
	}
	hookCfg, err := hook.LoadConfig(hooksPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load hook configuration: %w", err)
	}
	return hook.NewPipeline(bus, hook.WithConfig(hookCfg)), nil
}

// buildApprover resolves the approval mode from the flag or configuration.
// The CLI always installs an approver so confirmation requests never hang.
func buildApprover(bus *event.Bus, protocol *confirm.Protocol, workDir string, hc *config.HeadlessConfig) (*headless.Approver, error) {
	mode := runApprovals
	var allow, allowPaths []string
	if hc != nil {
		if mode == "" {
			mode = hc.Mode
		}
		allow = append(allow, hc.Allow...)
		allowPaths = append(allowPaths, hc.AllowPaths...)
	}
	allow = append(allow, runAllow...)
	allowPaths = append(allowPaths, runAllowPaths...)
	if mode == "" {
		mode = string(headless.ModeApprove)
	}

	switch headless.Mode(mode) {
	case headless.ModeApprove, headless.ModeDeny, headless.ModeAllowlist:
		return headless.NewApprover(bus, protocol, headless.Mode(mode), allow,
			headless.WithTrustedEditPaths(workDir, allowPaths)), nil
	default:
		return nil, fmt.Errorf("unknown approval mode %q (want approve, deny or allowlist)", mode)
	}
}

func truncationConfig(appConfig *config.Config, paths *config.Paths) scheduler.TruncationConfig {
	trunc := scheduler.DefaultTruncation
	trunc.Dir = paths.OutputPath()
	if tc := appConfig.Truncation; tc != nil {
		if tc.Enabled != nil {
			trunc.Enabled = *tc.Enabled
		}
		if tc.ThresholdBytes > 0 {
			trunc.ThresholdBytes = tc.ThresholdBytes
		}
		if tc.ExcerptLines > 0 {
			trunc.ExcerptLines = tc.ExcerptLines
		}
		if tc.Dir != "" {
			trunc.Dir = tc.Dir
		}
	}
	return trunc
}

// connectMCPServers starts each configured MCP server over stdio and
// registers its discovered tools. A server that fails to connect is
// skipped rather than failing the run.
func connectMCPServers(ctx context.Context, servers map[string]config.MCPServerConfig, registry *tool.Registry) func() {
	log := logging.Component("mcp")
	var closers []func() error

	for name, srv := range servers {
		if srv.Command == "" {
			log.Warn().Str("server", name).Msg("mcp server has no command, skipping")
			continue
		}

		client, err := mcpclient.NewStdioMCPClient(srv.Command, srv.Env, srv.Args...)
		if err != nil {
			log.Warn().Err(err).Str("server", name).Msg("failed to start mcp server, skipping")
			continue
		}

		initReq := mcp.InitializeRequest{}
		initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
		initReq.Params.ClientInfo = mcp.Implementation{
			Name:    "agentexec",
			Version: Version,
		}
		if _, err := client.Initialize(ctx, initReq); err != nil {
			log.Warn().Err(err).Str("server", name).Msg("mcp initialize failed, skipping")
			client.Close()
			continue
		}

		listed, err := client.ListTools(ctx, mcp.ListToolsRequest{})
		if err != nil {
			log.Warn().Err(err).Str("server", name).Msg("mcp tool discovery failed, skipping")
			client.Close()
			continue
		}

		for _, t := range listed.Tools {
			registry.Register(tool.NewMCPTool(name, t, client, srv.Trusted))
		}
		log.Info().Str("server", name).Int("tools", len(listed.Tools)).Msg("mcp server connected")
		closers = append(closers, client.Close)
	}

	return func() {
		for _, closeClient := range closers {
			_ = closeClient()
		}
	}
}

// callResult is the JSON output shape for one finished call.
type callResult struct {
	CallID        string               `json:"callId"`
	ToolName      string               `json:"toolName"`
	Status        scheduler.Status     `json:"status"`
	ResultDisplay string               `json:"resultDisplay,omitempty"`
	OutputLength  int                  `json:"outputLength,omitempty"`
	Error         *scheduler.CallError `json:"error,omitempty"`
}

func printResults(w io.Writer, calls []*scheduler.ToolCall, format string) error {
	results := make([]callResult, 0, len(calls))
	for _, call := range calls {
		r := callResult{
			CallID:   call.Request.CallID,
			ToolName: call.Request.ToolName,
			Status:   call.Status,
		}
		if resp := call.Response; resp != nil {
			r.ResultDisplay = resp.ResultDisplay
			r.OutputLength = resp.ContentLength
			r.Error = resp.Error
		}
		results = append(results, r)
	}

	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	for _, r := range results {
		fmt.Fprintf(w, "[%s] %s %s\n", r.Status, r.ToolName, r.CallID)
		if r.Error != nil {
			fmt.Fprintf(w, "  %s: %s\n", r.Error.Kind, r.Error.Message)
		} else if r.ResultDisplay != "" {
			fmt.Fprintln(w, indent(r.ResultDisplay, "  "))
		}
	}
	return nil
}

func indent(s string, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}
