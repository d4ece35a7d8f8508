// Package permission decides whether a tool call may run unattended.
package permission

import (
	"fmt"
	"strings"
)

// Decision is the per-tool approval outcome.
type Decision string

const (
	// Auto executes without asking.
	Auto Decision = "auto"
	// AskBefore requires a user confirmation step before execution.
	AskBefore Decision = "ask_before"
	// Never refuses execution and reports the refusal.
	Never Decision = "never"
)

// ParseDecision parses a stored decision value.
func ParseDecision(raw string) (Decision, error) {
	switch Decision(strings.TrimSpace(strings.ToLower(raw))) {
	case Auto:
		return Auto, nil
	case AskBefore:
		return AskBefore, nil
	case Never:
		return Never, nil
	default:
		return "", fmt.Errorf("permission: invalid decision %q", raw)
	}
}

// Mode is the coarse approval mode configured for a run.
type Mode string

const (
	ModeAuto         Mode = "auto"
	ModeApprove      Mode = "approve"
	ModeSmartApprove Mode = "smart_approve"
)

// Hint carries advertised tool traits consulted by the smart-approve
// heuristic.
type Hint struct {
	ReadOnly bool
}

// OverrideStore persists explicit per-tool user decisions. Implementations
// must be safe for concurrent use.
type OverrideStore interface {
	Get(identifier string) (Decision, bool)
	Set(identifier string, level Decision) error
	Clear(identifier string) error
}

// Manager derives approval decisions. Decide is a pure function of the
// stored overrides, the mode and the identifier: an override update takes
// effect only for calls issued after it returns.
type Manager struct {
	store OverrideStore
}

// NewManager creates a manager over one override store.
func NewManager(store OverrideStore) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("permission: override store is nil")
	}
	return &Manager{store: store}, nil
}

// Decide resolves one tool call. Precedence: explicit user override, then
// the mode-derived default, then AskBefore.
func (m *Manager) Decide(identifier string, mode Mode, hint Hint) Decision {
	if level, ok := m.store.Get(identifier); ok {
		return level
	}
	switch mode {
	case ModeAuto:
		return Auto
	case ModeApprove:
		return AskBefore
	case ModeSmartApprove:
		if hint.ReadOnly {
			return Auto
		}
		return AskBefore
	default:
		return AskBefore
	}
}

// SetOverride persists one explicit user decision. Subsequent Decide calls
// for the tool return it regardless of mode until cleared.
func (m *Manager) SetOverride(identifier string, level Decision) error {
	switch level {
	case Auto, AskBefore, Never:
	default:
		return fmt.Errorf("permission: invalid decision %q", level)
	}
	return m.store.Set(identifier, level)
}

// ClearOverride removes one explicit user decision.
func (m *Manager) ClearOverride(identifier string) error {
	return m.store.Clear(identifier)
}
