// Package headless answers confirmation requests without a human, for
// unattended runs. An Approver subscribes to confirmation requests on the
// bus and replies according to a fixed policy.
package headless

import (
	"github.com/agentexec/agentexec/internal/confirm"
	"github.com/agentexec/agentexec/internal/event"
	"github.com/agentexec/agentexec/internal/logging"
	"github.com/agentexec/agentexec/internal/permission"
	"github.com/rs/zerolog"
)

// Mode selects how an Approver answers.
type Mode string

const (
	// ModeApprove approves every request.
	ModeApprove Mode = "approve"
	// ModeDeny cancels every request.
	ModeDeny Mode = "deny"
	// ModeAllowlist approves exec requests whose root command is listed,
	// edit requests under trusted paths, and cancels everything else.
	ModeAllowlist Mode = "allowlist"
)

// Approver is the automated side of the confirmation protocol.
type Approver struct {
	bus         *event.Bus
	protocol    *confirm.Protocol
	mode        Mode
	allow       map[string]bool
	editAllow   []string
	editRoot    string
	log         zerolog.Logger
	unsubscribe func()
}

// ApproverOption configures an Approver.
type ApproverOption func(*Approver)

// WithTrustedEditPaths marks file patterns whose edit confirmations are
// auto-approved in allowlist mode. Relative patterns are resolved against
// root.
func WithTrustedEditPaths(root string, patterns []string) ApproverOption {
	return func(a *Approver) {
		a.editRoot = root
		a.editAllow = patterns
	}
}

// NewApprover creates an approver; allow is consulted only in allowlist mode.
func NewApprover(bus *event.Bus, protocol *confirm.Protocol, mode Mode, allow []string, opts ...ApproverOption) *Approver {
	set := make(map[string]bool, len(allow))
	for _, cmd := range allow {
		set[permission.Normalize(cmd)] = true
	}
	a := &Approver{
		bus:      bus,
		protocol: protocol,
		mode:     mode,
		allow:    set,
		log:      logging.Component("headless"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start begins answering confirmation requests. Call Stop to detach.
func (a *Approver) Start() {
	a.unsubscribe = a.bus.Subscribe(event.ToolConfirmationRequest, func(e event.Event) {
		req, ok := e.Data.(event.ToolConfirmationRequestData)
		if !ok {
			return
		}
		outcome := a.decide(req.Details)
		a.log.Info().
			Str("correlationId", req.CorrelationID).
			Str("outcome", string(outcome)).
			Msg("answered confirmation request")
		a.protocol.PublishResponse(req.CorrelationID, outcome, nil)
	})
}

// Stop detaches the approver from the bus.
func (a *Approver) Stop() {
	if a.unsubscribe != nil {
		a.unsubscribe()
		a.unsubscribe = nil
	}
}

func (a *Approver) decide(raw []byte) confirm.Outcome {
	switch a.mode {
	case ModeApprove:
		return confirm.OutcomeProceedOnce
	case ModeAllowlist:
		details, err := confirm.UnmarshalDetails(raw)
		if err != nil {
			return confirm.OutcomeCancel
		}
		switch details.Category {
		case confirm.CategoryExec:
			if details.Exec != nil && a.allow[permission.Normalize(details.Exec.RootCommand)] {
				return confirm.OutcomeProceedOnce
			}
		case confirm.CategoryEdit:
			if details.Edit != nil && permission.MatchPath(a.editAllow, details.Edit.FilePath, a.editRoot) {
				return confirm.OutcomeProceedOnce
			}
		}
		return confirm.OutcomeCancel
	default:
		return confirm.OutcomeCancel
	}
}
