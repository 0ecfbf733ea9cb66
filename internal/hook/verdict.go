// Package hook runs policy hooks around tool execution. A hook is an
// external policy process reached over the event bus; its verdict can allow,
// block, stop the whole run, or rewrite tool input and output. Hooks are
// advisory: a broken or absent policy process never fails the base product.
package hook

import (
	"encoding/json"
	"fmt"
)

// Decision is the per-call decision named in a verdict.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionBlock Decision = "block"
	DecisionDeny  Decision = "deny"
)

// Verdict is a policy response decoded once at the boundary.
//
// Precedence: Continue=false (stop the entire run) outranks a blocking
// Decision (reject just this call), which outranks allow. The blocking
// decision vocabulary is stage-dependent: "block" applies before execution,
// "deny" after it.
type Verdict struct {
	Continue          bool
	Decision          Decision
	Reason            string
	ModifiedInput     map[string]any
	ModifiedResponse  any
	AdditionalContext string
}

// wireVerdict is the loose JSON shape produced by policy processes.
// Continue defaults to true when absent.
type wireVerdict struct {
	Continue          *bool          `json:"continue,omitempty"`
	Decision          string         `json:"decision,omitempty"`
	Reason            string         `json:"reason,omitempty"`
	ModifiedInput     map[string]any `json:"modifiedInput,omitempty"`
	ModifiedResponse  any            `json:"modifiedResponse,omitempty"`
	AdditionalContext string         `json:"additionalContext,omitempty"`
}

// DecodeVerdict decodes a policy response body into a Verdict.
func DecodeVerdict(raw json.RawMessage) (*Verdict, error) {
	var wire wireVerdict
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("decode hook verdict: %w", err)
	}

	v := &Verdict{
		Continue:          true,
		Reason:            wire.Reason,
		ModifiedInput:     wire.ModifiedInput,
		ModifiedResponse:  wire.ModifiedResponse,
		AdditionalContext: wire.AdditionalContext,
	}
	if wire.Continue != nil {
		v.Continue = *wire.Continue
	}
	switch Decision(wire.Decision) {
	case DecisionAllow, DecisionBlock, DecisionDeny:
		v.Decision = Decision(wire.Decision)
	case "":
		v.Decision = DecisionAllow
	default:
		return nil, fmt.Errorf("unknown hook decision %q", wire.Decision)
	}
	return v, nil
}
