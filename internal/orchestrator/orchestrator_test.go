package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/wardensec/warden/internal/approval"
	"github.com/wardensec/warden/internal/audit"
	"github.com/wardensec/warden/internal/executor"
	"github.com/wardensec/warden/internal/phase"
	"github.com/wardensec/warden/internal/planner"
	"github.com/wardensec/warden/internal/tools"
)

type scanAdapter struct {
	invoked []map[string]interface{}
	err     error
}

func (a *scanAdapter) Definition() tools.Definition {
	return tools.Definition{
		Name:        "nmap_tool",
		Description: "scan",
		Params: []tools.Param{
			{Name: "target", Type: tools.TypeString, Required: true},
			{Name: "ports", Type: tools.TypeString},
			{Name: "arguments", Type: tools.TypeString},
		},
	}
}

func (a *scanAdapter) Invoke(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	a.invoked = append(a.invoked, args)
	if a.err != nil {
		return nil, a.err
	}
	return map[string]interface{}{"returncode": 0}, nil
}

// operator drains gate requests and applies scripted decisions in order.
// Decisions the gate rejects (invalid edits) do not consume a request.
func operator(g *approval.Gate, decide func(p approval.Proposal, attempt int) approval.Decision) {
	go func() {
		for p := range g.Requests() {
			for attempt := 1; ; attempt++ {
				err := g.Decide(decide(p, attempt))
				if err == nil || errors.Is(err, approval.ErrProposalAborted) {
					break
				}
				var unknownErr *approval.UnknownProposalError
				if errors.As(err, &unknownErr) {
					break
				}
			}
		}
	}()
}

type fixture struct {
	session   *Session
	adapter   *scanAdapter
	gate      *approval.Gate
	planner   *planner.ScriptPlanner
	log       *audit.Log
	auditPath string
}

func newFixture(t *testing.T, units ...planner.Unit) *fixture {
	t.Helper()
	dir := t.TempDir()
	sessionID := "s1"

	log, err := audit.Open(dir, sessionID)
	if err != nil {
		t.Fatalf("open audit log: %v", err)
	}
	t.Cleanup(func() { log.Close() })

	tracker, err := phase.NewTracker(phase.DefaultPipeline)
	if err != nil {
		t.Fatalf("tracker: %v", err)
	}

	adapter := &scanAdapter{}
	registry := tools.NewRegistry()
	if err := registry.Register(adapter); err != nil {
		t.Fatalf("register: %v", err)
	}

	gate := approval.New(approval.Config{Validator: registry})
	script := planner.NewScriptPlanner(units...)

	session := New(Config{
		SessionID: sessionID,
		Objective: "assess 127.0.0.1",
		Audit:     log,
		Phases:    tracker,
		Gate:      gate,
		Executor:  executor.New(executor.Config{Registry: registry}),
		Planner:   script,
		Registry:  registry,
	})
	return &fixture{
		session:   session,
		adapter:   adapter,
		gate:      gate,
		planner:   script,
		log:       log,
		auditPath: filepath.Join(dir, "audit_"+sessionID+".jsonl"),
	}
}

func (f *fixture) events(t *testing.T) []audit.Event {
	t.Helper()
	events, err := audit.ReadSession(f.auditPath)
	if err != nil {
		t.Fatalf("read session: %v", err)
	}
	return events
}

func eventTypes(events []audit.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func nmapProposal() planner.ToolProposal {
	return planner.ToolProposal{
		Tool: "nmap_tool",
		Args: map[string]interface{}{"target": "127.0.0.1", "ports": "1433", "arguments": "-sV"},
	}
}

func TestRun_AcceptedProposalFlow(t *testing.T) {
	f := newFixture(t,
		planner.PhaseUpdate{PhaseID: 1, Action: planner.PhaseBegin},
		nmapProposal(),
		planner.SessionComplete{Summary: "done"},
	)
	operator(f.gate, func(p approval.Proposal, attempt int) approval.Decision {
		return approval.Decision{ProposalID: p.ID, Outcome: approval.OutcomeAccepted}
	})

	outcome, err := f.session.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if outcome.Reason != ReasonCompleted {
		t.Fatalf("reason = %s", outcome.Reason)
	}

	events := f.events(t)
	want := []string{"session_start", "phase_transition", "proposal_created", "decision_recorded", "tool_result", "session_end"}
	got := eventTypes(events)
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}

	// proposal_id is consistent across the proposal lifecycle.
	var ids []interface{}
	for _, e := range events[2:5] {
		ids = append(ids, e.Payload["proposal_id"])
	}
	if ids[0] != ids[1] || ids[1] != ids[2] {
		t.Errorf("proposal ids diverge: %v", ids)
	}

	if len(f.adapter.invoked) != 1 {
		t.Fatalf("adapter invoked %d times", len(f.adapter.invoked))
	}
	if f.adapter.invoked[0]["ports"] != "1433" {
		t.Errorf("args = %v", f.adapter.invoked[0])
	}
	last := f.planner.Observed[len(f.planner.Observed)-1]
	if last.Status != "ok" {
		t.Errorf("planner feedback = %+v", last)
	}
}

func TestRun_AbortedDecisionEndsSession(t *testing.T) {
	f := newFixture(t,
		nmapProposal(),
		nmapProposal(), // never reached
	)
	operator(f.gate, func(p approval.Proposal, attempt int) approval.Decision {
		return approval.Decision{ProposalID: p.ID, Outcome: approval.OutcomeAborted, Reason: "operator abort"}
	})

	outcome, err := f.session.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if outcome.Reason != ReasonAborted {
		t.Fatalf("reason = %s", outcome.Reason)
	}

	events := f.events(t)
	got := eventTypes(events)
	want := []string{"session_start", "proposal_created", "decision_recorded", "session_end"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	final := events[len(events)-1]
	if final.Payload["reason"] != "aborted" {
		t.Errorf("session_end payload = %v", final.Payload)
	}
	if len(f.adapter.invoked) != 0 {
		t.Error("executor ran an aborted proposal")
	}
}

func TestRun_InvalidEditThenAccepted(t *testing.T) {
	f := newFixture(t,
		nmapProposal(),
		planner.SessionComplete{Summary: "done"},
	)
	operator(f.gate, func(p approval.Proposal, attempt int) approval.Decision {
		if attempt == 1 {
			// Missing the required target key; the gate must reject this
			// edit and keep the proposal pending.
			return approval.Decision{
				ProposalID: p.ID,
				Outcome:    approval.OutcomeEdited,
				EditedArgs: map[string]interface{}{"ports": "1433"},
			}
		}
		return approval.Decision{ProposalID: p.ID, Outcome: approval.OutcomeAccepted}
	})

	outcome, err := f.session.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if outcome.Reason != ReasonCompleted {
		t.Fatalf("reason = %s", outcome.Reason)
	}

	decisions := 0
	for _, e := range f.events(t) {
		if e.Type == audit.EventDecisionRecorded {
			decisions++
			if e.Payload["outcome"] != "accepted" {
				t.Errorf("recorded outcome = %v", e.Payload["outcome"])
			}
		}
	}
	if decisions != 1 {
		t.Errorf("decision_recorded events = %d, want 1", decisions)
	}
	if len(f.adapter.invoked) != 1 {
		t.Errorf("adapter invoked %d times", len(f.adapter.invoked))
	}
}

func TestRun_EditedArgsReachAdapter(t *testing.T) {
	f := newFixture(t,
		nmapProposal(),
		planner.SessionComplete{Summary: "done"},
	)
	operator(f.gate, func(p approval.Proposal, attempt int) approval.Decision {
		return approval.Decision{
			ProposalID: p.ID,
			Outcome:    approval.OutcomeEdited,
			EditedArgs: map[string]interface{}{"target": "127.0.0.1", "ports": "1433-1434"},
		}
	})

	if _, err := f.session.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(f.adapter.invoked) != 1 || f.adapter.invoked[0]["ports"] != "1433-1434" {
		t.Errorf("invocations = %v", f.adapter.invoked)
	}
}

func TestRun_RespondedSkipsExecution(t *testing.T) {
	f := newFixture(t,
		nmapProposal(),
		planner.SessionComplete{Summary: "done"},
	)
	operator(f.gate, func(p approval.Proposal, attempt int) approval.Decision {
		return approval.Decision{
			ProposalID: p.ID,
			Outcome:    approval.OutcomeResponded,
			Response:   "already scanned, port 1433 is open",
		}
	})

	if _, err := f.session.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(f.adapter.invoked) != 0 {
		t.Error("responded proposal was executed")
	}
	for _, e := range f.events(t) {
		if e.Type == audit.EventToolResult {
			t.Error("unexpected tool_result event")
		}
		if e.Type == audit.EventDecisionRecorded && e.Payload["outcome"] != "responded" {
			t.Errorf("recorded outcome = %v, want responded", e.Payload["outcome"])
		}
	}
	var sawResponse bool
	for _, fb := range f.planner.Observed {
		if fb.Status == "responded" && fb.Message != "" {
			sawResponse = true
		}
	}
	if !sawResponse {
		t.Error("response text never reached the planner")
	}
}

func TestRun_FailedToolFeedsBackAsFailure(t *testing.T) {
	f := newFixture(t,
		nmapProposal(),
		planner.SessionComplete{Summary: "done"},
	)
	f.adapter.err = fmt.Errorf("connection refused")
	operator(f.gate, func(p approval.Proposal, attempt int) approval.Decision {
		return approval.Decision{ProposalID: p.ID, Outcome: approval.OutcomeAccepted}
	})

	outcome, err := f.session.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	// Tool failures are workflow data, not session failures.
	if outcome.Reason != ReasonCompleted {
		t.Fatalf("reason = %s", outcome.Reason)
	}

	events := f.events(t)
	var result *audit.Event
	for i := range events {
		if events[i].Type == audit.EventToolResult {
			result = &events[i]
		}
	}
	if result == nil {
		t.Fatal("no tool_result event")
	}
	if result.Payload["success"] != false {
		t.Errorf("payload = %v", result.Payload)
	}
	if result.Payload["failure_reason"] != string(executor.FailureInvocation) {
		t.Errorf("failure_reason = %v", result.Payload["failure_reason"])
	}
}

func TestRun_InvalidPhaseTransitionIsFatal(t *testing.T) {
	f := newFixture(t,
		// Completing a phase that was never begun is a planner bug.
		planner.PhaseUpdate{PhaseID: 2, Action: planner.PhaseComplete},
		nmapProposal(),
	)

	outcome, err := f.session.Run(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if outcome.Reason != ReasonInvalidTransition {
		t.Fatalf("reason = %s", outcome.Reason)
	}

	got := eventTypes(f.events(t))
	want := []string{"session_start", "error", "session_end"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func TestRun_AuditWriteFailureAbortsSession(t *testing.T) {
	f := newFixture(t,
		nmapProposal(),
		planner.SessionComplete{Summary: "done"},
	)
	// Closed before anything runs; the first append fails and nothing may
	// proceed unaudited.
	f.log.Close()

	outcome, err := f.session.Run(context.Background())
	if outcome.Reason != ReasonAuditFailure {
		t.Fatalf("reason = %s, want %s", outcome.Reason, ReasonAuditFailure)
	}
	var writeErr *audit.WriteError
	if !errors.As(err, &writeErr) {
		t.Fatalf("err = %v, want *audit.WriteError", err)
	}
	if len(f.adapter.invoked) != 0 {
		t.Errorf("tool ran after audit failure: %v", f.adapter.invoked)
	}
}

func TestRun_AuditWriteFailureAtDecisionSkipsExecution(t *testing.T) {
	f := newFixture(t,
		nmapProposal(),
		planner.SessionComplete{Summary: "done"},
	)
	// The log dies between proposal_created and decision_recorded; the
	// accepted proposal must not execute.
	operator(f.gate, func(p approval.Proposal, attempt int) approval.Decision {
		f.log.Close()
		return approval.Decision{ProposalID: p.ID, Outcome: approval.OutcomeAccepted}
	})

	outcome, err := f.session.Run(context.Background())
	if outcome.Reason != ReasonAuditFailure {
		t.Fatalf("reason = %s, want %s", outcome.Reason, ReasonAuditFailure)
	}
	var writeErr *audit.WriteError
	if !errors.As(err, &writeErr) {
		t.Fatalf("err = %v, want *audit.WriteError", err)
	}
	if len(f.adapter.invoked) != 0 {
		t.Errorf("tool ran after audit failure: %v", f.adapter.invoked)
	}

	got := eventTypes(f.events(t))
	want := []string{"session_start", "proposal_created"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func TestRun_MalformedProposalRejectedAtBoundary(t *testing.T) {
	f := newFixture(t,
		planner.ToolProposal{Tool: "nmap_tool", Args: map[string]interface{}{"ports": "1433"}},
		planner.SessionComplete{Summary: "done"},
	)

	outcome, err := f.session.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if outcome.Reason != ReasonCompleted {
		t.Fatalf("reason = %s", outcome.Reason)
	}

	for _, e := range f.events(t) {
		if e.Type == audit.EventProposalCreated {
			t.Error("malformed proposal reached the gate")
		}
	}
	if len(f.planner.Observed) == 0 || f.planner.Observed[0].Status != "rejected" {
		t.Errorf("planner feedback = %+v", f.planner.Observed)
	}
}

func TestRun_AuditSequencesAreContiguous(t *testing.T) {
	f := newFixture(t,
		planner.PhaseUpdate{PhaseID: 1, Action: planner.PhaseBegin},
		nmapProposal(),
		planner.PhaseUpdate{PhaseID: 1, Action: planner.PhaseComplete},
		planner.SessionComplete{Summary: "done"},
	)
	operator(f.gate, func(p approval.Proposal, attempt int) approval.Decision {
		return approval.Decision{ProposalID: p.ID, Outcome: approval.OutcomeAccepted}
	})

	if _, err := f.session.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	for i, e := range f.events(t) {
		if e.Seq != uint64(i+1) {
			t.Fatalf("event %d has seq %d", i, e.Seq)
		}
	}
}
