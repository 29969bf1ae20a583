package main

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/wardensec/warden/internal/audit"
)

// Run implements the replay command: render a recorded audit trail in order.
func (c *ReplayCmd) Run() error {
	events, err := audit.ReadSession(c.Session)
	if err != nil {
		return fmt.Errorf("reading session: %w", err)
	}
	if len(events) == 0 {
		fmt.Println("empty session")
		return nil
	}

	fmt.Printf("session %s: %d events\n\n", events[0].SessionID, len(events))
	for _, e := range events {
		fmt.Printf("%4d  %s  %-17s %s\n", e.Seq, e.Timestamp.Format("15:04:05"), e.Type, describe(e))
		if c.Verbose {
			if payload, err := json.MarshalIndent(e.Payload, "      ", "  "); err == nil {
				fmt.Printf("      %s\n", payload)
			}
		}
	}

	fmt.Println("\nsummary:")
	printSummary(events)
	return nil
}

// printSummary renders per-event-type counts, sorted by type.
func printSummary(events []audit.Event) {
	counts := audit.Summary(events)
	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Printf("  %-18s %d\n", t, counts[t])
	}
}

// describe renders the one-line gist of an event.
func describe(e audit.Event) string {
	s := func(key string) string {
		v, _ := e.Payload[key].(string)
		return v
	}
	switch e.Type {
	case audit.EventSessionStart:
		return s("objective")
	case audit.EventPhaseTransition:
		return fmt.Sprintf("%s -> %s", s("phase"), s("status"))
	case audit.EventProposalCreated:
		return fmt.Sprintf("#%v %s", e.Payload["proposal_id"], s("tool"))
	case audit.EventDecisionRecorded:
		return fmt.Sprintf("#%v %s", e.Payload["proposal_id"], s("outcome"))
	case audit.EventToolResult:
		status := "failed"
		if ok, _ := e.Payload["success"].(bool); ok {
			status = "ok"
		}
		return fmt.Sprintf("#%v %s %s", e.Payload["proposal_id"], s("tool"), status)
	case audit.EventError:
		return s("message")
	case audit.EventSessionEnd:
		return s("reason")
	}
	return ""
}
