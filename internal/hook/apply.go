package hook

import (
	"fmt"
	"sort"
	"strings"

	"github.com/agentexec/agentexec/internal/tool"
)

// Action is what the scheduler must do with a call after a hook verdict.
type Action int

const (
	// ActionProceed continues the lifecycle normally.
	ActionProceed Action = iota
	// ActionStopRun terminates the entire run, not just this call.
	ActionStopRun
	// ActionBlockCall rejects this call and skips (or discards) execution.
	ActionBlockCall
)

// BeforeOutcome is the evaluated effect of a before-stage verdict.
type BeforeOutcome struct {
	Action       Action
	Reason       string
	Input        map[string]any // effective input, after any modification
	ModifiedKeys []string       // keys the policy changed, sorted
}

// EvaluateBefore applies the before-stage precedence to a verdict:
// continue=false beats decision=block beats modification/allow. The
// before stage only honors "block" as its rejecting decision.
func EvaluateBefore(v *Verdict, input map[string]any) BeforeOutcome {
	if v == nil {
		return BeforeOutcome{Action: ActionProceed, Input: input}
	}
	if !v.Continue {
		return BeforeOutcome{Action: ActionStopRun, Reason: reasonOr(v.Reason, "run stopped by policy hook")}
	}
	if v.Decision == DecisionBlock {
		return BeforeOutcome{Action: ActionBlockCall, Reason: reasonOr(v.Reason, "execution blocked by policy hook")}
	}
	if len(v.ModifiedInput) == 0 {
		return BeforeOutcome{Action: ActionProceed, Input: input}
	}

	merged := make(map[string]any, len(input)+len(v.ModifiedInput))
	for k, val := range input {
		merged[k] = val
	}
	var changed []string
	for k, val := range v.ModifiedInput {
		if prev, ok := merged[k]; !ok || fmt.Sprintf("%v", prev) != fmt.Sprintf("%v", val) {
			changed = append(changed, k)
		}
		merged[k] = val
	}
	sort.Strings(changed)

	return BeforeOutcome{Action: ActionProceed, Input: merged, ModifiedKeys: changed}
}

// AfterOutcome is the evaluated effect of an after-stage verdict.
type AfterOutcome struct {
	Action            Action
	Reason            string
	AdditionalContext string
	ModifiedResponse  any // non-nil when the policy replaced the response
}

// EvaluateAfter applies the after-stage precedence to a verdict against the
// result. The after stage honors "deny" as its rejecting decision; otherwise
// the verdict may replace the response or append context to it.
func EvaluateAfter(v *Verdict) AfterOutcome {
	if v == nil {
		return AfterOutcome{Action: ActionProceed}
	}
	if !v.Continue {
		return AfterOutcome{Action: ActionStopRun, Reason: reasonOr(v.Reason, "run stopped by policy hook")}
	}
	if v.Decision == DecisionDeny {
		return AfterOutcome{Action: ActionBlockCall, Reason: reasonOr(v.Reason, "result rejected by policy hook")}
	}
	return AfterOutcome{
		Action:            ActionProceed,
		AdditionalContext: v.AdditionalContext,
		ModifiedResponse:  v.ModifiedResponse,
	}
}

// AppendContext appends policy-supplied context to result content,
// supporting string, single-part, and part-slice shapes.
func AppendContext(content any, context string) any {
	if context == "" {
		return content
	}
	switch c := content.(type) {
	case nil:
		return context
	case string:
		if c == "" {
			return context
		}
		return c + "\n" + context
	case tool.Part:
		return []tool.Part{c, {Text: context}}
	case []tool.Part:
		return append(c, tool.Part{Text: context})
	default:
		return []tool.Part{{Text: tool.ContentToText(c)}, {Text: context}}
	}
}

// ModifiedKeysNote renders the system note appended to a result whose input
// was rewritten before execution, naming exactly the changed keys.
func ModifiedKeysNote(keys []string) string {
	if len(keys) == 0 {
		return ""
	}
	return fmt.Sprintf("[System note: tool input was modified by a policy hook before execution; modified parameters: %s. Displayed parameters differ from the original request.]",
		strings.Join(keys, ", "))
}

func reasonOr(reason, fallback string) string {
	if reason != "" {
		return reason
	}
	return fallback
}
