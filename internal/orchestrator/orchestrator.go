// Package orchestrator drives one supervised session end-to-end: planner
// units in, phase transitions, approval decisions and tool results out, every
// state change mirrored to the audit log.
package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/vinayprograms/agentkit/logging"

	"github.com/wardensec/warden/internal/approval"
	"github.com/wardensec/warden/internal/audit"
	"github.com/wardensec/warden/internal/executor"
	"github.com/wardensec/warden/internal/phase"
	"github.com/wardensec/warden/internal/planner"
	"github.com/wardensec/warden/internal/tools"
)

// EndReason closes every session's audit trail.
type EndReason string

const (
	ReasonCompleted         EndReason = "completed"
	ReasonAborted           EndReason = "aborted"
	ReasonInvalidTransition EndReason = "invalid_transition"
	ReasonAuditFailure      EndReason = "audit_write_failure"
	ReasonAgentError        EndReason = "agent_error"
	ReasonInternal          EndReason = "internal_error"
)

// Config wires one session's collaborators.
type Config struct {
	SessionID string
	Objective string
	Audit     *audit.Log
	Phases    *phase.Tracker
	Gate      *approval.Gate
	Executor  *executor.Executor
	Planner   planner.Planner
	Registry  *tools.Registry
}

// Outcome reports how the session ended.
type Outcome struct {
	Reason  EndReason
	Summary string
}

// Session owns all mutable control-loop state. One goroutine drives Run;
// nothing else mutates the tracker or writes the audit log.
type Session struct {
	id       string
	obj      string
	audit    *audit.Log
	phases   *phase.Tracker
	gate     *approval.Gate
	executor *executor.Executor
	planner  planner.Planner
	registry *tools.Registry
	logger   *logging.Logger

	proposalSeq uint64
}

// New creates a session from wired collaborators.
func New(cfg Config) *Session {
	return &Session{
		id:       cfg.SessionID,
		obj:      cfg.Objective,
		audit:    cfg.Audit,
		phases:   cfg.Phases,
		gate:     cfg.Gate,
		executor: cfg.Executor,
		planner:  cfg.Planner,
		registry: cfg.Registry,
		logger:   logging.New().WithComponent("orchestrator"),
	}
}

// Run executes the control loop until the planner finishes, the operator
// aborts, or an integrity violation forces termination. The returned Outcome
// mirrors the final session_end audit event.
func (s *Session) Run(ctx context.Context) (outcome *Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("control loop panic", map[string]interface{}{
				"panic": fmt.Sprintf("%v", r),
			})
			s.appendBestEffort(audit.EventError, map[string]interface{}{
				"message": fmt.Sprintf("internal panic: %v", r),
			})
			outcome, err = s.end(ReasonInternal, ""), fmt.Errorf("session panic: %v", r)
		}
	}()

	if appendErr := s.append(audit.EventSessionStart, map[string]interface{}{
		"objective": s.obj,
		"phases":    phaseNames(s.phases.Snapshot()),
	}); appendErr != nil {
		return s.end(ReasonAuditFailure, ""), appendErr
	}

	for {
		unit, nextErr := s.planner.Next(ctx)
		if nextErr != nil {
			s.appendBestEffort(audit.EventError, map[string]interface{}{
				"message": fmt.Sprintf("planner failure: %v", nextErr),
			})
			return s.end(ReasonAgentError, ""), nextErr
		}

		switch u := unit.(type) {
		case planner.PhaseUpdate:
			if done, outcome, err := s.handlePhaseUpdate(u); done {
				return outcome, err
			}
		case planner.ToolProposal:
			if done, outcome, err := s.handleProposal(ctx, u); done {
				return outcome, err
			}
		case planner.SessionComplete:
			return s.end(ReasonCompleted, u.Summary), nil
		default:
			s.appendBestEffort(audit.EventError, map[string]interface{}{
				"message": fmt.Sprintf("planner produced unknown unit %T", unit),
			})
			return s.end(ReasonInternal, ""), fmt.Errorf("unknown planner unit %T", unit)
		}
	}
}

func (s *Session) handlePhaseUpdate(u planner.PhaseUpdate) (bool, *Outcome, error) {
	var ph phase.Phase
	var err error
	switch u.Action {
	case planner.PhaseBegin:
		ph, err = s.phases.Begin(u.PhaseID)
	case planner.PhaseComplete:
		ph, err = s.phases.Complete(u.PhaseID)
	case planner.PhaseSkip:
		ph, err = s.phases.Skip(u.PhaseID, u.Reason)
	default:
		err = &phase.InvalidTransitionError{PhaseID: u.PhaseID, Reason: fmt.Sprintf("unknown action %q", u.Action)}
	}

	if err != nil {
		// A bad transition request is a planner bug; continuing would desync
		// the pipeline record from reality.
		s.appendBestEffort(audit.EventError, map[string]interface{}{
			"message":  err.Error(),
			"phase_id": u.PhaseID,
			"action":   string(u.Action),
		})
		return true, s.end(ReasonInvalidTransition, ""), err
	}

	payload := map[string]interface{}{
		"phase_id": u.PhaseID,
		"phase":    ph.Name,
		"status":   string(ph.Status),
	}
	if u.Reason != "" {
		payload["reason"] = u.Reason
	}
	if appendErr := s.append(audit.EventPhaseTransition, payload); appendErr != nil {
		return true, s.end(ReasonAuditFailure, ""), appendErr
	}
	s.planner.Observe(planner.Feedback{Status: "ok"})
	return false, nil, nil
}

func (s *Session) handleProposal(ctx context.Context, u planner.ToolProposal) (bool, *Outcome, error) {
	if err := s.registry.ValidateArgs(u.Tool, u.Args); err != nil {
		// Malformed proposals are rejected at the boundary, before an
		// operator ever sees them.
		if appendErr := s.append(audit.EventError, map[string]interface{}{
			"message": fmt.Sprintf("proposal rejected: %v", err),
			"tool":    u.Tool,
		}); appendErr != nil {
			return true, s.end(ReasonAuditFailure, ""), appendErr
		}
		s.planner.Observe(planner.Feedback{Status: "rejected", Message: err.Error()})
		return false, nil, nil
	}

	s.proposalSeq++
	prop := approval.Proposal{
		ID:        s.proposalSeq,
		Tool:      u.Tool,
		Args:      u.Args,
		Rationale: u.Rationale,
	}
	if appendErr := s.append(audit.EventProposalCreated, map[string]interface{}{
		"proposal_id": prop.ID,
		"tool":        prop.Tool,
		"args":        prop.Args,
		"rationale":   prop.Rationale,
	}); appendErr != nil {
		return true, s.end(ReasonAuditFailure, ""), appendErr
	}

	decision, submitErr := s.gate.Submit(ctx, prop)
	if appendErr := s.append(audit.EventDecisionRecorded, decisionPayload(decision)); appendErr != nil {
		return true, s.end(ReasonAuditFailure, ""), appendErr
	}
	if submitErr != nil && !errors.Is(submitErr, context.Canceled) {
		return true, s.end(ReasonInternal, ""), submitErr
	}

	switch decision.Outcome {
	case approval.OutcomeAborted:
		s.executor.Cancel(prop.ID)
		return true, s.end(ReasonAborted, decision.Reason), nil

	case approval.OutcomeResponded:
		s.planner.Observe(planner.Feedback{Status: "responded", Message: decision.Response})
		return false, nil, nil

	case approval.OutcomeAccepted, approval.OutcomeEdited:
		args := prop.Args
		if decision.Outcome == approval.OutcomeEdited {
			args = decision.EditedArgs
		}
		result := s.executor.Execute(ctx, prop.ID, prop.Tool, args)
		if appendErr := s.append(audit.EventToolResult, resultPayload(result)); appendErr != nil {
			return true, s.end(ReasonAuditFailure, ""), appendErr
		}
		if result.Success {
			s.planner.Observe(planner.Feedback{Status: "ok", Payload: result.Payload})
		} else {
			s.planner.Observe(planner.Feedback{
				Status:  "failed",
				Message: fmt.Sprintf("%s: %s", result.Failure, result.Error),
			})
		}
		return false, nil, nil

	default:
		return true, s.end(ReasonInternal, ""), fmt.Errorf("unknown decision outcome %q", decision.Outcome)
	}
}

// end emits the closing session_end event. Best-effort: if the audit log is
// the thing that failed there is nothing left to record to.
func (s *Session) end(reason EndReason, summary string) *Outcome {
	payload := map[string]interface{}{"reason": string(reason)}
	if summary != "" {
		payload["summary"] = summary
	}
	s.appendBestEffort(audit.EventSessionEnd, payload)
	s.logger.Info("session ended", map[string]interface{}{
		"session_id": s.id,
		"reason":     string(reason),
	})
	return &Outcome{Reason: reason, Summary: summary}
}

func (s *Session) append(eventType string, payload map[string]interface{}) error {
	_, err := s.audit.Append(eventType, payload)
	if err != nil {
		s.logger.Error("audit append failed", map[string]interface{}{
			"event_type": eventType,
			"error":      err.Error(),
		})
	}
	return err
}

func (s *Session) appendBestEffort(eventType string, payload map[string]interface{}) {
	_ = s.append(eventType, payload)
}

func decisionPayload(d approval.Decision) map[string]interface{} {
	payload := map[string]interface{}{
		"proposal_id": d.ProposalID,
		"outcome":     string(d.Outcome),
	}
	if d.EditedArgs != nil {
		payload["edited_args"] = d.EditedArgs
	}
	if d.Response != "" {
		payload["response"] = d.Response
	}
	if d.Reason != "" {
		payload["reason"] = d.Reason
	}
	return payload
}

func resultPayload(r *executor.Result) map[string]interface{} {
	payload := map[string]interface{}{
		"proposal_id": r.ProposalID,
		"tool":        r.Tool,
		"success":     r.Success,
		"duration_ms": r.Duration.Milliseconds(),
	}
	if r.Success {
		payload["payload"] = r.Payload
	} else {
		payload["failure_reason"] = string(r.Failure)
		payload["error"] = r.Error
	}
	return payload
}

func phaseNames(phases []phase.Phase) []string {
	names := make([]string, len(phases))
	for i, ph := range phases {
		names[i] = ph.Name
	}
	return names
}
