// Package planner turns agent reasoning into control-loop work units.
package planner

import (
	"context"
	"fmt"
)

// PhaseAction is a requested phase state change.
type PhaseAction string

const (
	PhaseBegin    PhaseAction = "begin"
	PhaseComplete PhaseAction = "complete"
	PhaseSkip     PhaseAction = "skip"
)

// Unit is one planned step. Exactly one of PhaseUpdate, ToolProposal and
// SessionComplete implements it.
type Unit interface {
	isUnit()
}

// PhaseUpdate requests a transition on one pipeline phase.
type PhaseUpdate struct {
	PhaseID int
	Action  PhaseAction
	Reason  string
}

// ToolProposal requests a tool invocation, pending operator approval.
type ToolProposal struct {
	Tool      string
	Args      map[string]interface{}
	Rationale string
}

// SessionComplete ends the session with a closing summary.
type SessionComplete struct {
	Summary string
}

func (PhaseUpdate) isUnit()     {}
func (ToolProposal) isUnit()    {}
func (SessionComplete) isUnit() {}

// Feedback reports how the orchestrator handled the most recently returned
// unit, so the planner can reason over outcomes.
type Feedback struct {
	// Status is "ok", "failed", "rejected", "responded" or "aborted".
	Status string
	// Payload carries tool output or failure detail for tool proposals.
	Payload map[string]interface{}
	// Message carries human response text or an error description.
	Message string
}

// Planner produces the next unit of work. Implementations are driven
// sequentially: every Next is followed by exactly one Observe before the
// next Next, except when Next returned SessionComplete.
type Planner interface {
	Next(ctx context.Context) (Unit, error)
	Observe(fb Feedback)
}

func (u PhaseUpdate) String() string {
	return fmt.Sprintf("phase %d %s", u.PhaseID, u.Action)
}

func (u ToolProposal) String() string {
	return fmt.Sprintf("propose %s", u.Tool)
}
