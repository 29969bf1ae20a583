// Package approval implements the human decision gate for tool proposals.
package approval

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vinayprograms/agentkit/logging"
)

// Outcome represents the operator's decision on a proposal.
type Outcome string

const (
	OutcomeAccepted  Outcome = "accepted"
	OutcomeEdited    Outcome = "edited"
	OutcomeResponded Outcome = "responded"
	OutcomeAborted   Outcome = "aborted"
)

// Proposal is a tool invocation awaiting operator review.
type Proposal struct {
	ID        uint64                 `json:"id"`
	Tool      string                 `json:"tool"`
	Args      map[string]interface{} `json:"args"`
	Rationale string                 `json:"rationale,omitempty"`
}

// Decision is the operator's resolution of a proposal. EditedArgs is set only
// for OutcomeEdited, Response only for OutcomeResponded, Reason only for
// OutcomeAborted.
type Decision struct {
	ProposalID uint64                 `json:"proposal_id"`
	Outcome    Outcome                `json:"outcome"`
	EditedArgs map[string]interface{} `json:"edited_args,omitempty"`
	Response   string                 `json:"response,omitempty"`
	Reason     string                 `json:"reason,omitempty"`
}

// ErrProposalAborted is returned by Decide when a rejected edit exhausts the
// invalid-edit budget and the gate resolves the proposal as an abort. The
// prompting UI stops collecting input for that proposal.
var ErrProposalAborted = errors.New("proposal aborted after repeated invalid edits")

// UnknownProposalError is returned by Decide when the decision does not match
// the proposal currently awaiting review.
type UnknownProposalError struct {
	ProposalID uint64
}

func (e *UnknownProposalError) Error() string {
	return fmt.Sprintf("no pending proposal with id %d", e.ProposalID)
}

// Validator checks edited arguments against a tool's schema. Satisfied by
// tools.Registry.
type Validator interface {
	ValidateArgs(tool string, args map[string]interface{}) error
}

// Config holds gate configuration.
type Config struct {
	Validator Validator
	// Timeout bounds how long Submit waits for a decision. Zero means wait
	// until the context is cancelled.
	Timeout time.Duration
	// MaxInvalidEdits bounds consecutive rejected edits on one proposal
	// before the gate aborts it. Zero means 3.
	MaxInvalidEdits int
}

// Gate parks proposals until an operator decides them. One proposal is
// pending at a time; the orchestrator is sequential, so Submit is never
// called concurrently.
type Gate struct {
	validator       Validator
	timeout         time.Duration
	maxInvalidEdits int
	logger          *logging.Logger
	requests        chan Proposal

	mu      sync.Mutex
	pending *pendingProposal
}

type pendingProposal struct {
	proposal     Proposal
	decided      chan Decision
	invalidEdits int
}

// New creates a gate. The Requests channel carries each submitted proposal to
// the prompting UI.
func New(cfg Config) *Gate {
	maxEdits := cfg.MaxInvalidEdits
	if maxEdits == 0 {
		maxEdits = 3
	}
	return &Gate{
		validator:       cfg.Validator,
		timeout:         cfg.Timeout,
		maxInvalidEdits: maxEdits,
		logger:          logging.New().WithComponent("approval"),
		requests:        make(chan Proposal, 1),
	}
}

// Requests returns the channel the prompting UI consumes. Each Submit
// publishes exactly one proposal here before parking.
func (g *Gate) Requests() <-chan Proposal {
	return g.requests
}

// Submit parks until the proposal is decided. A timeout or cancelled context
// resolves the proposal as an implicit abort; Submit never returns without a
// decision for the submitted proposal.
func (g *Gate) Submit(ctx context.Context, p Proposal) (Decision, error) {
	g.mu.Lock()
	if g.pending != nil {
		g.mu.Unlock()
		return Decision{}, fmt.Errorf("proposal %d already awaiting decision", g.pending.proposal.ID)
	}
	pend := &pendingProposal{
		proposal: p,
		decided:  make(chan Decision, 1),
	}
	g.pending = pend
	g.mu.Unlock()

	g.logger.Info("proposal awaiting decision", map[string]interface{}{
		"proposal_id": p.ID,
		"tool":        p.Tool,
	})
	g.requests <- p

	var timeoutCh <-chan time.Time
	if g.timeout > 0 {
		timer := time.NewTimer(g.timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case d := <-pend.decided:
		g.clear(pend)
		return d, nil
	case <-timeoutCh:
		g.clear(pend)
		// A decision delivered at the same instant the timer fired wins
		// over the implicit abort.
		select {
		case d := <-pend.decided:
			return d, nil
		default:
		}
		g.logger.Warn("decision timeout, aborting proposal", map[string]interface{}{
			"proposal_id": p.ID,
			"timeout":     g.timeout.String(),
		})
		return Decision{
			ProposalID: p.ID,
			Outcome:    OutcomeAborted,
			Reason:     "approval timed out",
		}, nil
	case <-ctx.Done():
		g.clear(pend)
		return Decision{
			ProposalID: p.ID,
			Outcome:    OutcomeAborted,
			Reason:     "session cancelled",
		}, ctx.Err()
	}
}

// Decide resolves the pending proposal. An edited decision whose arguments
// fail validation is rejected and the proposal stays pending so the operator
// can retry; after MaxInvalidEdits consecutive rejections the gate aborts the
// proposal instead.
func (g *Gate) Decide(d Decision) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	pend := g.pending
	if pend == nil || pend.proposal.ID != d.ProposalID {
		return &UnknownProposalError{ProposalID: d.ProposalID}
	}

	if d.Outcome == OutcomeEdited {
		if err := g.validateEdit(pend, d.EditedArgs); err != nil {
			pend.invalidEdits++
			if pend.invalidEdits >= g.maxInvalidEdits {
				g.logger.Warn("too many invalid edits, aborting proposal", map[string]interface{}{
					"proposal_id": pend.proposal.ID,
					"attempts":    pend.invalidEdits,
				})
				pend.decided <- Decision{
					ProposalID: pend.proposal.ID,
					Outcome:    OutcomeAborted,
					Reason:     fmt.Sprintf("%d invalid edits: %v", pend.invalidEdits, err),
				}
				g.pending = nil
				return fmt.Errorf("%w: %v", ErrProposalAborted, err)
			}
			return err
		}
	}

	switch d.Outcome {
	case OutcomeAccepted, OutcomeEdited, OutcomeResponded, OutcomeAborted:
	default:
		return fmt.Errorf("unknown outcome %q", d.Outcome)
	}

	pend.decided <- d
	g.pending = nil
	return nil
}

func (g *Gate) validateEdit(pend *pendingProposal, args map[string]interface{}) error {
	if args == nil {
		return fmt.Errorf("edited decision carries no arguments")
	}
	if g.validator == nil {
		return nil
	}
	return g.validator.ValidateArgs(pend.proposal.Tool, args)
}

// clear detaches the pending proposal after Submit resolves it. A Decide
// racing a timeout finds no pending proposal and fails cleanly.
func (g *Gate) clear(pend *pendingProposal) {
	g.mu.Lock()
	if g.pending == pend {
		g.pending = nil
	}
	g.mu.Unlock()
}
