package tool

import (
	"context"
	"errors"
	"testing"

	"github.com/agentexec/agentexec/internal/confirm"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMCPCaller struct {
	lastRequest mcp.CallToolRequest
	result      *mcp.CallToolResult
	err         error
}

func (f *fakeMCPCaller) CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	f.lastRequest = request
	return f.result, f.err
}

func textResult(texts ...string) *mcp.CallToolResult {
	result := &mcp.CallToolResult{}
	for _, text := range texts {
		result.Content = append(result.Content, mcp.TextContent{Type: "text", Text: text})
	}
	return result
}

func TestMCPTool_Name(t *testing.T) {
	mt := NewMCPTool("file server", mcp.Tool{Name: "read/file"}, &fakeMCPCaller{}, false)
	assert.Equal(t, "mcp_file_server_read_file", mt.Name())
}

func TestMCPTool_Execute(t *testing.T) {
	caller := &fakeMCPCaller{result: textResult("line one", "line two")}
	mt := NewMCPTool("files", mcp.Tool{Name: "read_file"}, caller, true)

	inv, err := mt.Build(map[string]any{"path": "/tmp/a"})
	require.NoError(t, err)

	result, err := inv.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "read_file", caller.lastRequest.Params.Name)
	assert.Equal(t, "line one\nline two", result.ContentText())

	parts, ok := result.Content.([]Part)
	require.True(t, ok, "mcp results are part slices")
	assert.Len(t, parts, 2)
}

func TestMCPTool_ExecuteError(t *testing.T) {
	caller := &fakeMCPCaller{err: errors.New("connection lost")}
	mt := NewMCPTool("files", mcp.Tool{Name: "read_file"}, caller, true)

	inv, err := mt.Build(nil)
	require.NoError(t, err)

	_, err = inv.Execute(context.Background(), nil)
	assert.ErrorContains(t, err, "connection lost")
}

func TestMCPTool_ServerReportedError(t *testing.T) {
	result := textResult("no such file")
	result.IsError = true
	caller := &fakeMCPCaller{result: result}
	mt := NewMCPTool("files", mcp.Tool{Name: "read_file"}, caller, true)

	inv, err := mt.Build(nil)
	require.NoError(t, err)

	_, err = inv.Execute(context.Background(), nil)
	assert.ErrorContains(t, err, "no such file")
}

func TestMCPTool_ShouldConfirm(t *testing.T) {
	untrusted := NewMCPTool("files", mcp.Tool{Name: "write_file"}, &fakeMCPCaller{}, false)
	inv, err := untrusted.Build(nil)
	require.NoError(t, err)

	details, err := inv.ShouldConfirm(context.Background())
	require.NoError(t, err)
	require.NotNil(t, details)
	assert.Equal(t, confirm.CategoryMCP, details.Category)
	assert.Equal(t, "files", details.MCP.ServerName)
	assert.Equal(t, "write_file", details.MCP.ToolName)

	trusted := NewMCPTool("files", mcp.Tool{Name: "write_file"}, &fakeMCPCaller{}, true)
	inv, err = trusted.Build(nil)
	require.NoError(t, err)

	details, err = inv.ShouldConfirm(context.Background())
	require.NoError(t, err)
	assert.Nil(t, details)
}
