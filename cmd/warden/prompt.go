package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/wardensec/warden/internal/approval"
)

// prompter is the terminal side of the approval gate: it renders each pending
// proposal and collects exactly one of the four decisions.
type prompter struct {
	gate *approval.Gate
	in   *bufio.Reader
	out  io.Writer
}

func newPrompter(gate *approval.Gate, in io.Reader, out io.Writer) *prompter {
	return &prompter{
		gate: gate,
		in:   bufio.NewReader(in),
		out:  out,
	}
}

// loop serves decisions until the requests channel drains. Runs on its own
// goroutine for the lifetime of the session.
func (p *prompter) loop() {
	for proposal := range p.gate.Requests() {
		p.serve(proposal)
	}
}

func (p *prompter) serve(proposal approval.Proposal) {
	p.render(proposal)
	for {
		decision, ok := p.collect(proposal)
		if !ok {
			// Input stream closed; the gate's timeout or the session's
			// cancellation resolves the proposal.
			return
		}
		err := p.gate.Decide(decision)
		if err == nil {
			return
		}
		if errors.Is(err, approval.ErrProposalAborted) {
			fmt.Fprintf(p.out, "%v\n", err)
			return
		}
		var unknownErr *approval.UnknownProposalError
		if errors.As(err, &unknownErr) {
			// Decided too late (timeout already aborted it).
			return
		}
		fmt.Fprintf(p.out, "rejected: %v\n", err)
	}
}

func (p *prompter) render(proposal approval.Proposal) {
	fmt.Fprintf(p.out, "\n--- proposal %d ---\n", proposal.ID)
	fmt.Fprintf(p.out, "tool: %s\n", proposal.Tool)
	if args, err := json.MarshalIndent(proposal.Args, "", "  "); err == nil {
		fmt.Fprintf(p.out, "args: %s\n", args)
	}
	if proposal.Rationale != "" {
		fmt.Fprintf(p.out, "rationale: %s\n", proposal.Rationale)
	}
	fmt.Fprintln(p.out, `
Please choose an action:
  1. accept    -> allow the tool to run as-is
  2. edit      -> edit the arguments before running
  3. respond   -> do NOT run the tool, send a textual response to the agent instead
  4. abort     -> stop the session entirely`)
}

func (p *prompter) collect(proposal approval.Proposal) (approval.Decision, bool) {
	choice, ok := p.readChoice()
	if !ok {
		return approval.Decision{}, false
	}

	switch choice {
	case 1:
		return approval.Decision{ProposalID: proposal.ID, Outcome: approval.OutcomeAccepted}, true

	case 2:
		fmt.Fprintln(p.out, `Enter edited arguments as JSON. Example: {"target": "10.0.0.5", "arguments": "-sV -p 1433"}`)
		fmt.Fprint(p.out, "edited args: ")
		line, err := p.in.ReadString('\n')
		if err != nil {
			return approval.Decision{}, false
		}
		var args map[string]interface{}
		if err := json.Unmarshal([]byte(strings.TrimSpace(line)), &args); err != nil {
			fmt.Fprintf(p.out, "invalid JSON: %v\n", err)
			return p.collect(proposal)
		}
		return approval.Decision{
			ProposalID: proposal.ID,
			Outcome:    approval.OutcomeEdited,
			EditedArgs: args,
		}, true

	case 3:
		fmt.Fprint(p.out, "response (this will NOT run the tool): ")
		line, err := p.in.ReadString('\n')
		if err != nil {
			return approval.Decision{}, false
		}
		return approval.Decision{
			ProposalID: proposal.ID,
			Outcome:    approval.OutcomeResponded,
			Response:   strings.TrimSpace(line),
		}, true

	case 4:
		return approval.Decision{
			ProposalID: proposal.ID,
			Outcome:    approval.OutcomeAborted,
			Reason:     "operator aborted the session",
		}, true

	default:
		fmt.Fprintln(p.out, "enter a number between 1 and 4")
		return p.collect(proposal)
	}
}

func (p *prompter) readChoice() (int, bool) {
	fmt.Fprint(p.out, "> ")
	line, err := p.in.ReadString('\n')
	if err != nil {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil {
		return -1, true
	}
	return n, true
}
