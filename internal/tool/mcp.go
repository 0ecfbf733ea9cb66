package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/agentexec/agentexec/internal/confirm"
	"github.com/mark3labs/mcp-go/mcp"
)

// mcpCallTimeout bounds a single MCP tool round-trip.
const mcpCallTimeout = 30 * time.Second

// MCPCaller is the slice of the MCP client needed to run a tool. Satisfied
// by *client.Client from mark3labs/mcp-go.
type MCPCaller interface {
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// MCPTool wraps a tool served by an MCP server so it participates in the
// standard registry and confirmation flow. Invocations from an untrusted
// server require approval with mcp-category confirmation details.
type MCPTool struct {
	serverName string
	mcpTool    mcp.Tool
	client     MCPCaller
	trusted    bool
}

// NewMCPTool wraps one discovered MCP tool.
func NewMCPTool(serverName string, mcpTool mcp.Tool, client MCPCaller, trusted bool) *MCPTool {
	return &MCPTool{
		serverName: serverName,
		mcpTool:    mcpTool,
		client:     client,
		trusted:    trusted,
	}
}

// Name returns the prefixed tool name, e.g. "mcp_files_read_file".
func (t *MCPTool) Name() string {
	return fmt.Sprintf("mcp_%s_%s", sanitizeName(t.serverName), sanitizeName(t.mcpTool.Name))
}

// ServerName returns the MCP server this tool came from.
func (t *MCPTool) ServerName() string { return t.serverName }

// RemoteName returns the tool's unprefixed name on its server.
func (t *MCPTool) RemoteName() string { return t.mcpTool.Name }

func (t *MCPTool) Description() string {
	if t.mcpTool.Description != "" {
		return t.mcpTool.Description
	}
	return fmt.Sprintf("MCP tool %q from server %q", t.mcpTool.Name, t.serverName)
}

func (t *MCPTool) Parameters() json.RawMessage {
	if data, err := json.Marshal(t.mcpTool.InputSchema); err == nil {
		return data
	}
	return json.RawMessage(`{"type":"object"}`)
}

// Build binds the arguments. The server's schema is authoritative; binding
// only checks the shape here.
func (t *MCPTool) Build(args map[string]any) (Invocation, error) {
	if args == nil {
		args = map[string]any{}
	}
	return &mcpInvocation{tool: t, args: args}, nil
}

type mcpInvocation struct {
	tool *MCPTool
	args map[string]any
}

func (inv *mcpInvocation) Params() map[string]any { return inv.args }

func (inv *mcpInvocation) Description() string {
	return fmt.Sprintf("%s (%s)", inv.tool.mcpTool.Name, inv.tool.serverName)
}

func (inv *mcpInvocation) ShouldConfirm(ctx context.Context) (*confirm.Details, error) {
	if inv.tool.trusted {
		return nil, nil
	}
	details := confirm.NewMCPDetails(inv.tool.serverName, inv.tool.mcpTool.Name)
	return &details, nil
}

func (inv *mcpInvocation) Execute(ctx context.Context, onLiveOutput func(string)) (*Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, mcpCallTimeout)
	defer cancel()

	req := mcp.CallToolRequest{}
	req.Params.Name = inv.tool.mcpTool.Name
	req.Params.Arguments = inv.args

	result, err := inv.tool.client.CallTool(callCtx, req)
	if err != nil {
		return nil, fmt.Errorf("mcp tool %s: %w", inv.tool.Name(), err)
	}

	parts := extractMCPParts(result)
	if result.IsError {
		return nil, fmt.Errorf("mcp tool %s: %s", inv.tool.Name(), ContentToText(parts))
	}

	return &Result{
		Display: inv.Description(),
		Content: parts,
		Metadata: map[string]any{
			"server": inv.tool.serverName,
			"tool":   inv.tool.mcpTool.Name,
		},
	}, nil
}

// extractMCPParts converts MCP result content into parts; non-text content
// is carried as JSON.
func extractMCPParts(result *mcp.CallToolResult) []Part {
	var parts []Part
	for _, c := range result.Content {
		switch v := c.(type) {
		case mcp.TextContent:
			parts = append(parts, Part{Text: v.Text})
		case *mcp.TextContent:
			parts = append(parts, Part{Text: v.Text})
		default:
			if data, err := json.Marshal(v); err == nil {
				parts = append(parts, Part{Text: string(data)})
			}
		}
	}
	return parts
}

// sanitizeName replaces characters that are not valid in tool names.
func sanitizeName(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
