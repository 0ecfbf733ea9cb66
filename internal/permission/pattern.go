package permission

import (
	"strings"
	"sync"
)

// Pattern forms accepted by the engine:
//
//	"*"                      wildcard, matches every command
//	"shell"                  bare tool name, wildcard for that tool
//	"shell(git status)"      literal command or command prefix
//	"git status"             literal command or command prefix (unwrapped form)
//
// Matching is done on normalized text: lower-cased, trimmed, with runs of
// whitespace collapsed to a single space.

// Normalize canonicalizes a command or pattern for comparison.
func Normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// unwrapPattern reduces a configured pattern to either the wildcard "*" or a
// normalized command prefix. toolName is the tool the patterns are scoped to.
func unwrapPattern(pattern, toolName string) string {
	p := strings.TrimSpace(pattern)
	if open := strings.Index(p, "("); open >= 0 && strings.HasSuffix(p, ")") {
		name := Normalize(p[:open])
		if name != Normalize(toolName) {
			// Pattern for a different tool; matches nothing here.
			return ""
		}
		return Normalize(p[open+1 : len(p)-1])
	}
	norm := Normalize(p)
	if norm == "*" || norm == Normalize(toolName) {
		return "*"
	}
	return norm
}

// matchesPrefix reports whether a normalized command matches a normalized
// prefix pattern on a word boundary: "git" matches "git" and "git status",
// never "github".
func matchesPrefix(pattern, command string) bool {
	if pattern == "" {
		return false
	}
	if pattern == "*" {
		return true
	}
	return command == pattern || strings.HasPrefix(command, pattern+" ")
}

// Allowlist is a mutable, session-scoped set of command patterns. A
// confirmation answered "always allow" grows it; the engine consults it in
// default-deny mode.
type Allowlist struct {
	mu       sync.RWMutex
	patterns map[string]struct{}
}

// NewAllowlist creates a session allowlist seeded with the given patterns.
func NewAllowlist(patterns ...string) *Allowlist {
	a := &Allowlist{patterns: make(map[string]struct{}, len(patterns))}
	for _, p := range patterns {
		a.Add(p)
	}
	return a
}

// Add inserts a pattern.
func (a *Allowlist) Add(pattern string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.patterns[strings.TrimSpace(pattern)] = struct{}{}
}

// Patterns returns a copy of the stored patterns.
func (a *Allowlist) Patterns() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.patterns))
	for p := range a.patterns {
		out = append(out, p)
	}
	return out
}
