// Package permission decides whether shell commands proposed by the model may
// run. It parses untrusted command strings into independent command segments
// and matches each segment against configured allow/deny pattern lists.
//
// # Overview
//
// A single command string can hide many execution points: chained commands,
// pipelines, command and process substitutions, background jobs, and
// substitutions nested inside here-documents. The engine parses the string
// into a full AST with mvdan.cc/sh and collects a segment for every point
// where an external program is invoked. Each segment is checked on its own.
//
// Anything that cannot be proven safe is rejected as a hard denial:
//
//   - strings the grammar cannot parse ("ls &&")
//   - command names that are not statically determinable ("$CMD --help")
//   - prompt-transformation expansions ("${var@P}"), which can execute
//     captured text
//
// The engine never falls back to naive string splitting; that is exactly how
// shell-injection bypasses occur.
//
// # Policy
//
// Patterns take the forms "*", "shell" (bare tool name, wildcard),
// "shell(git status)" (literal command or prefix), or a plain command prefix.
// The deny list always wins; an allow wildcard then short-circuits to fully
// allowed. With a session allowlist present the engine is in default-deny
// mode and every segment must be allowlisted. Without one, a strict global
// allowlist is enforced if any specific pattern exists, and an empty allow
// list permits the command.
//
//	engine := NewEngine(shell.FamilyPosix)
//	result := engine.CheckPermissions("git status && rm -rf /", Policy{
//		Allow: []string{"shell(git)"},
//	}, nil)
//	// result.Allowed == false
//	// result.DisallowedSegments == []string{"rm -rf /"}
//
// # Denial kinds
//
// A hard denial (configuration-level block or unparseable input) cannot be
// overridden interactively. A soft denial only means the segment was missing
// from a strict allowlist; callers surface it as an approval prompt instead
// of an error.
package permission
