package permission

import (
	"errors"
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// ErrPromptTransform is returned when a command uses a prompt-transformation
// parameter expansion such as ${var@P}, which can execute captured text.
var ErrPromptTransform = errors.New("prompt transformation expansion is not permitted")

// ErrDynamicCommand is returned when a command name cannot be determined
// statically, e.g. $CMD or $(pick-a-command).
var ErrDynamicCommand = errors.New("command name cannot be determined statically")

// Segment is one independently-invoked command discovered inside a possibly
// compound shell command string. Chained, piped, substituted, and background
// commands are separate execution points, so each becomes its own segment.
type Segment struct {
	Name string   // invoked command name, e.g. "rm", "git"
	Args []string // arguments, with placeholders for dynamic parts
	Text string   // printed source of the segment, e.g. "rm -rf /tmp/x"
}

// ExtractSegments parses a POSIX/bash command string into segments.
//
// Anything the grammar cannot prove safe is an error: parse failures,
// dynamic command names, and prompt-transform expansions. Callers must treat
// an error as a hard denial and must never fall back to string splitting.
func ExtractSegments(command string) ([]Segment, error) {
	parser := syntax.NewParser(
		syntax.Variant(syntax.LangBash),
		syntax.KeepComments(false),
	)

	file, err := parser.Parse(strings.NewReader(command), "")
	if err != nil {
		return nil, fmt.Errorf("could not be parsed safely: %w", err)
	}

	printer := syntax.NewPrinter()
	var segments []Segment
	var walkErr error

	syntax.Walk(file, func(node syntax.Node) bool {
		if walkErr != nil {
			return false
		}
		switch n := node.(type) {
		case *syntax.CallExpr:
			seg, err := callSegment(printer, n)
			if err != nil {
				walkErr = err
				return false
			}
			if seg != nil {
				segments = append(segments, *seg)
			}
		case *syntax.DeclClause:
			// declare/export/local/readonly run as builtins.
			segments = append(segments, Segment{
				Name: n.Variant.Value,
				Text: printNode(printer, n),
			})
		case *syntax.TestClause:
			segments = append(segments, Segment{
				Name: "test",
				Text: printNode(printer, n),
			})
		case *syntax.LetClause:
			segments = append(segments, Segment{
				Name: "let",
				Text: printNode(printer, n),
			})
		case *syntax.ParamExp:
			if isPromptTransform(n) {
				walkErr = ErrPromptTransform
				return false
			}
		}
		return true
	})

	if walkErr != nil {
		return nil, walkErr
	}
	return segments, nil
}

// callSegment extracts a segment from a simple command. Assignment-only
// statements (FOO=bar) invoke nothing and yield nil; substitutions inside
// their values are still discovered by the surrounding walk.
func callSegment(printer *syntax.Printer, call *syntax.CallExpr) (*Segment, error) {
	if len(call.Args) == 0 {
		return nil, nil
	}

	name, ok := staticWord(call.Args[0])
	if !ok || name == "" {
		return nil, ErrDynamicCommand
	}

	seg := &Segment{
		Name: name,
		Text: printNode(printer, call),
	}
	for _, arg := range call.Args[1:] {
		seg.Args = append(seg.Args, wordToString(arg))
	}
	return seg, nil
}

// staticWord resolves a word made only of literals and quoted literals.
// Words containing expansions or substitutions are not static.
func staticWord(word *syntax.Word) (string, bool) {
	var sb strings.Builder
	for _, part := range word.Parts {
		switch p := part.(type) {
		case *syntax.Lit:
			sb.WriteString(p.Value)
		case *syntax.SglQuoted:
			sb.WriteString(p.Value)
		case *syntax.DblQuoted:
			for _, qp := range p.Parts {
				lit, ok := qp.(*syntax.Lit)
				if !ok {
					return "", false
				}
				sb.WriteString(lit.Value)
			}
		default:
			return "", false
		}
	}
	return sb.String(), true
}

// wordToString converts a word to a display string, with placeholders for
// dynamic parts.
func wordToString(word *syntax.Word) string {
	var sb strings.Builder
	for _, part := range word.Parts {
		switch p := part.(type) {
		case *syntax.Lit:
			sb.WriteString(p.Value)
		case *syntax.SglQuoted:
			sb.WriteString(p.Value)
		case *syntax.DblQuoted:
			for _, qp := range p.Parts {
				if lit, ok := qp.(*syntax.Lit); ok {
					sb.WriteString(lit.Value)
				}
			}
		case *syntax.ParamExp:
			sb.WriteString("$" + p.Param.Value)
		case *syntax.CmdSubst:
			sb.WriteString("$()")
		}
	}
	return sb.String()
}

// isPromptTransform reports whether a parameter expansion uses the @P
// operator, which renders its value as a prompt string and can execute
// embedded escapes.
func isPromptTransform(p *syntax.ParamExp) bool {
	if p.Exp == nil || p.Exp.Op != syntax.OtherParamOps || p.Exp.Word == nil {
		return false
	}
	return strings.Contains(p.Exp.Word.Lit(), "P")
}

// printNode renders an AST node back to shell source.
func printNode(printer *syntax.Printer, node syntax.Node) string {
	var sb strings.Builder
	_ = printer.Print(&sb, node)
	return strings.TrimSpace(sb.String())
}
