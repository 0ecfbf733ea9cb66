package permission

import (
	"errors"
	"fmt"
	"strings"

	"github.com/agentexec/agentexec/internal/logging"
	"github.com/agentexec/agentexec/internal/shell"
	"github.com/rs/zerolog"
)

// DefaultToolName scopes tool(name) patterns when no other name is configured.
const DefaultToolName = "shell"

// Policy is the global allow/deny pattern configuration.
type Policy struct {
	Allow []string `json:"allow,omitempty"`
	Deny  []string `json:"deny,omitempty"`
}

// Result is the outcome of a permission check.
//
// A hard denial comes from configuration or unparseable input and cannot be
// overridden by user confirmation. A soft denial means the command was simply
// absent from a strict allowlist and may be confirmed interactively.
type Result struct {
	Allowed            bool     `json:"allowed"`
	DisallowedSegments []string `json:"disallowedSegments,omitempty"`
	BlockReason        string   `json:"blockReason,omitempty"`
	IsHardDenial       bool     `json:"isHardDenial"`
}

// DeniedError carries a denial result as an error. Invocations return it
// when a command is blocked and not eligible for confirmation.
type DeniedError struct {
	Result Result
}

func (e *DeniedError) Error() string {
	return e.Result.BlockReason
}

// Engine checks commands against allow/deny policy.
type Engine struct {
	toolName string
	family   shell.Family
	log      zerolog.Logger
}

// NewEngine creates an engine for the given shell family.
func NewEngine(family shell.Family) *Engine {
	return &Engine{
		toolName: DefaultToolName,
		family:   family,
		log:      logging.Component("permission"),
	}
}

// CheckPermissions checks a command string against the policy.
//
// The deny list always wins. After it passes, an allow wildcard short-circuits
// to fully allowed. When sessionAllowlist is non-nil the engine is in
// default-deny mode: every segment must appear in the global or session
// allowlist. Otherwise it is in default-allow mode: a strict global allowlist,
// if any specific pattern exists, is still enforced, but an empty allow list
// permits the command.
func (e *Engine) CheckPermissions(command string, policy Policy, sessionAllowlist *Allowlist) Result {
	segments, err := e.segments(command)
	if err != nil {
		reason := fmt.Sprintf("Command rejected: it %s", err)
		if errors.Is(err, ErrPromptTransform) || errors.Is(err, ErrDynamicCommand) {
			reason = fmt.Sprintf("Command rejected: %s; it could not be parsed safely", err)
		}
		e.log.Debug().Str("command", command).Err(err).Msg("hard denial: parse rejection")
		return Result{
			Allowed:            false,
			DisallowedSegments: []string{command},
			BlockReason:        reason,
			IsHardDenial:       true,
		}
	}

	denyPatterns := e.unwrapAll(policy.Deny)
	allowPatterns := e.unwrapAll(policy.Allow)

	// Deny list always wins.
	for _, p := range denyPatterns {
		if p == "*" {
			return Result{
				Allowed:            false,
				DisallowedSegments: segmentTexts(segments),
				BlockReason:        fmt.Sprintf("%s tool is globally disabled in configuration", e.toolName),
				IsHardDenial:       true,
			}
		}
	}
	var denied []string
	for _, seg := range segments {
		for _, p := range denyPatterns {
			if matchesPrefix(p, Normalize(seg.Text)) || matchesPrefix(p, Normalize(seg.Name)) {
				denied = append(denied, seg.Text)
				break
			}
		}
	}
	if len(denied) > 0 {
		return Result{
			Allowed:            false,
			DisallowedSegments: denied,
			BlockReason:        fmt.Sprintf("Command(s) blocked by configuration: %s", strings.Join(denied, ", ")),
			IsHardDenial:       true,
		}
	}

	// Allow wildcard short-circuits once the deny list has passed.
	for _, p := range allowPatterns {
		if p == "*" {
			return Result{Allowed: true}
		}
	}

	strict := sessionAllowlist != nil
	if !strict && len(allowPatterns) == 0 {
		// Default-allow with no specific patterns configured.
		return Result{Allowed: true}
	}

	var sessionPatterns []string
	if sessionAllowlist != nil {
		sessionPatterns = e.unwrapAll(sessionAllowlist.Patterns())
	}

	var missing []string
	for _, seg := range segments {
		if e.segmentAllowed(seg, allowPatterns) || e.segmentAllowed(seg, sessionPatterns) {
			continue
		}
		missing = append(missing, seg.Text)
	}
	if len(missing) > 0 {
		return Result{
			Allowed:            false,
			DisallowedSegments: missing,
			BlockReason:        fmt.Sprintf("Command(s) not on the allowed list: %s", strings.Join(missing, ", ")),
			IsHardDenial:       false,
		}
	}
	return Result{Allowed: true}
}

// segmentAllowed reports whether one segment matches any pattern.
func (e *Engine) segmentAllowed(seg Segment, patterns []string) bool {
	text := Normalize(seg.Text)
	for _, p := range patterns {
		if p == "*" || matchesPrefix(p, text) {
			return true
		}
	}
	return false
}

// segments extracts command segments for the configured shell family.
//
// POSIX-family commands go through the grammar parser. Windows shells have no
// grammar-aware parser here, so the whole command is one opaque segment
// matched literally; it is never split.
func (e *Engine) segments(command string) ([]Segment, error) {
	if strings.TrimSpace(command) == "" {
		return nil, errors.New("could not be parsed safely: empty command")
	}
	if e.family == shell.FamilyWindowsCmd || e.family == shell.FamilyPowershell {
		fields := strings.Fields(command)
		return []Segment{{
			Name: strings.ToLower(fields[0]),
			Args: fields[1:],
			Text: strings.TrimSpace(command),
		}}, nil
	}
	return ExtractSegments(command)
}

func (e *Engine) unwrapAll(patterns []string) []string {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if u := unwrapPattern(p, e.toolName); u != "" {
			out = append(out, u)
		}
	}
	return out
}

func segmentTexts(segments []Segment) []string {
	out := make([]string, 0, len(segments))
	for _, s := range segments {
		out = append(out, s.Text)
	}
	return out
}
