// Package confirm implements the request/response confirmation protocol
// between the scheduler and an approving side (human or automated) over the
// shared event bus. Pending confirmations are keyed by correlationId, so many
// can be in flight concurrently on the same bus.
package confirm

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Outcome is the approving side's answer.
type Outcome string

const (
	// OutcomeProceedOnce approves this single invocation.
	OutcomeProceedOnce Outcome = "proceed_once"
	// OutcomeProceedAlways approves and remembers the pattern for the session.
	OutcomeProceedAlways Outcome = "proceed_always"
	// OutcomeModify asks for the proposed change to be edited before running.
	OutcomeModify Outcome = "modify"
	// OutcomeCancel rejects the invocation.
	OutcomeCancel Outcome = "cancel"
)

// Confirmed reports whether the outcome lets the invocation proceed.
func (o Outcome) Confirmed() bool {
	return o == OutcomeProceedOnce || o == OutcomeProceedAlways || o == OutcomeModify
}

// Category tags what kind of operation is being approved.
type Category string

const (
	CategoryEdit Category = "edit"
	CategoryExec Category = "exec"
	CategoryMCP  Category = "mcp"
	CategoryInfo Category = "info"
)

// Details describes what is being approved. It is data-only: it carries no
// executable fields, so it can cross a process or serialization boundary.
// Exactly one variant matching Category is set.
type Details struct {
	Category Category     `json:"category"`
	Edit     *EditDetails `json:"edit,omitempty"`
	Exec     *ExecDetails `json:"exec,omitempty"`
	MCP      *MCPDetails  `json:"mcp,omitempty"`
	Info     *InfoDetails `json:"info,omitempty"`
}

// EditDetails describes a proposed file modification.
type EditDetails struct {
	FileName        string `json:"fileName"`
	FilePath        string `json:"filePath"`
	FileDiff        string `json:"fileDiff"`
	OriginalContent string `json:"originalContent"`
	NewContent      string `json:"newContent"`
	IsModifying     bool   `json:"isModifying"`
}

// ExecDetails describes a proposed shell command.
type ExecDetails struct {
	Command     string `json:"command"`
	RootCommand string `json:"rootCommand"`
}

// MCPDetails describes a proposed MCP server tool invocation.
type MCPDetails struct {
	ServerName      string `json:"serverName"`
	ToolName        string `json:"toolName"`
	ToolDisplayName string `json:"toolDisplayName"`
}

// InfoDetails describes a generic approval prompt.
type InfoDetails struct {
	Prompt string   `json:"prompt"`
	URLs   []string `json:"urls,omitempty"`
}

// Validate checks that exactly the variant named by Category is populated.
func (d Details) Validate() error {
	set := map[Category]bool{
		CategoryEdit: d.Edit != nil,
		CategoryExec: d.Exec != nil,
		CategoryMCP:  d.MCP != nil,
		CategoryInfo: d.Info != nil,
	}
	if !set[d.Category] {
		return fmt.Errorf("confirmation details: category %q has no payload", d.Category)
	}
	count := 0
	for _, ok := range set {
		if ok {
			count++
		}
	}
	if count != 1 {
		return fmt.Errorf("confirmation details: expected exactly one variant, got %d", count)
	}
	return nil
}

// Marshal serializes the details for transmission on the bus.
func (d Details) Marshal() (json.RawMessage, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(d)
}

// UnmarshalDetails decodes details received from the bus.
func UnmarshalDetails(raw json.RawMessage) (Details, error) {
	var d Details
	if err := json.Unmarshal(raw, &d); err != nil {
		return Details{}, fmt.Errorf("decode confirmation details: %w", err)
	}
	if err := d.Validate(); err != nil {
		return Details{}, err
	}
	return d, nil
}

// NewExecDetails builds exec-category details for a shell command.
func NewExecDetails(command string) Details {
	root := ""
	if fields := strings.Fields(command); len(fields) > 0 {
		root = fields[0]
	}
	return Details{
		Category: CategoryExec,
		Exec:     &ExecDetails{Command: command, RootCommand: root},
	}
}

// NewEditDetails builds edit-category details, computing the file diff from
// the original and proposed content.
func NewEditDetails(path, original, proposed string, isModifying bool) Details {
	return Details{
		Category: CategoryEdit,
		Edit: &EditDetails{
			FileName:        filepath.Base(path),
			FilePath:        path,
			FileDiff:        buildFileDiff(path, original, proposed),
			OriginalContent: original,
			NewContent:      proposed,
			IsModifying:     isModifying,
		},
	}
}

// NewMCPDetails builds mcp-category details.
func NewMCPDetails(serverName, toolName string) Details {
	return Details{
		Category: CategoryMCP,
		MCP: &MCPDetails{
			ServerName:      serverName,
			ToolName:        toolName,
			ToolDisplayName: serverName + ":" + toolName,
		},
	}
}

// NewInfoDetails builds info-category details.
func NewInfoDetails(prompt string, urls ...string) Details {
	return Details{
		Category: CategoryInfo,
		Info:     &InfoDetails{Prompt: prompt, URLs: urls},
	}
}

// buildFileDiff renders a patch-style diff for display in approval prompts.
func buildFileDiff(path, before, after string) string {
	if before == after {
		return ""
	}

	dmp := diffmatchpatch.New()
	a, b, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	patches := dmp.PatchMake(before, diffs)
	diffText := dmp.PatchToText(patches)
	if diffText == "" {
		return ""
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "--- %s\n", path)
	fmt.Fprintf(&sb, "+++ %s\n", path)
	sb.WriteString(diffText)
	return sb.String()
}
