// Package audit provides the append-only, sequenced audit trail for a session.
package audit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Event types recorded in the audit trail.
const (
	EventSessionStart     = "session_start"
	EventPhaseTransition  = "phase_transition"
	EventProposalCreated  = "proposal_created"
	EventDecisionRecorded = "decision_recorded"
	EventToolResult       = "tool_result"
	EventError            = "error"
	EventSessionEnd       = "session_end"
)

var knownEventTypes = map[string]struct{}{
	EventSessionStart:     {},
	EventPhaseTransition:  {},
	EventProposalCreated:  {},
	EventDecisionRecorded: {},
	EventToolResult:       {},
	EventError:            {},
	EventSessionEnd:       {},
}

// Event is one immutable, sequenced record of a state change within a session.
// Seq is the sole ordering authority; Timestamp is advisory.
type Event struct {
	Seq       uint64                 `json:"seq"`
	Timestamp time.Time              `json:"timestamp"`
	SessionID string                 `json:"session_id"`
	Type      string                 `json:"type"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// WriteError reports a failed append. It is fatal to the session: the
// orchestrator must abort rather than continue issuing unaudited actions.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("audit write failed (%s): %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Log is an append-only JSONL audit stream for a single session. There is no
// API to mutate or delete an appended event; corrections are new "error"
// events referencing the original sequence number.
type Log struct {
	mu        sync.Mutex
	f         *os.File
	path      string
	sessionID string
	seq       uint64
	closed    bool
}

// Open creates (or reopens) the audit stream for a session under dir.
// Reopening an existing stream restores the sequence counter from the last
// record so appended events keep the contiguity guarantee.
func Open(dir, sessionID string) (*Log, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	path := filepath.Join(dir, "audit_"+sessionID+".jsonl")

	var seq uint64
	if _, err := os.Stat(path); err == nil {
		events, err := ReadSession(path)
		if err != nil {
			return nil, fmt.Errorf("restore audit stream: %w", err)
		}
		if len(events) > 0 {
			seq = events[len(events)-1].Seq
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit stream: %w", err)
	}
	return &Log{f: f, path: path, sessionID: sessionID, seq: seq}, nil
}

// Path returns the backing file path.
func (l *Log) Path() string { return l.path }

// SessionID returns the session this stream belongs to.
func (l *Log) SessionID() string { return l.sessionID }

// Seq returns the last assigned sequence number (0 if nothing appended).
func (l *Log) Seq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}

// Append assigns the next sequence number, durably persists the event and
// returns it. The write is flushed to stable storage before returning; any
// failure is reported as a *WriteError.
func (l *Log) Append(eventType string, payload map[string]interface{}) (Event, error) {
	if _, ok := knownEventTypes[eventType]; !ok {
		return Event{}, &WriteError{Path: l.path, Err: fmt.Errorf("unknown event type %q", eventType)}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return Event{}, &WriteError{Path: l.path, Err: fmt.Errorf("audit stream closed")}
	}

	event := Event{
		Seq:       l.seq + 1,
		Timestamp: time.Now().UTC(),
		SessionID: l.sessionID,
		Type:      eventType,
		Payload:   payload,
	}
	data, err := json.Marshal(event)
	if err != nil {
		return Event{}, &WriteError{Path: l.path, Err: fmt.Errorf("marshal event: %w", err)}
	}
	if _, err := l.f.Write(append(data, '\n')); err != nil {
		return Event{}, &WriteError{Path: l.path, Err: err}
	}
	if err := l.f.Sync(); err != nil {
		return Event{}, &WriteError{Path: l.path, Err: err}
	}
	l.seq = event.Seq
	return event, nil
}

// AppendCorrection records an error event referencing a previously appended
// sequence number. This is the only correction mechanism.
func (l *Log) AppendCorrection(refSeq uint64, message string, fields map[string]interface{}) (Event, error) {
	payload := map[string]interface{}{
		"ref_seq": refSeq,
		"message": message,
	}
	for k, v := range fields {
		payload[k] = v
	}
	return l.Append(EventError, payload)
}

// Close releases the underlying file. Append fails after Close.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.f.Close()
}

// ReadSession reads a session's audit stream ordered by sequence number. It
// validates that sequence numbers are contiguous starting at 1. The read is
// restartable: each call re-reads the file from the start.
func ReadSession(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit stream: %w", err)
	}
	defer f.Close()

	events := []Event{}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			return nil, fmt.Errorf("parse audit line %d: %w", lineNo, err)
		}
		if _, ok := knownEventTypes[event.Type]; !ok {
			return nil, fmt.Errorf("audit line %d: unknown event type %q", lineNo, event.Type)
		}
		if want := uint64(len(events) + 1); event.Seq != want {
			return nil, fmt.Errorf("audit line %d: sequence gap: got %d, want %d", lineNo, event.Seq, want)
		}
		events = append(events, event)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read audit stream: %w", err)
	}
	return events, nil
}

// Summary returns per-type event counts for a session's stream.
func Summary(events []Event) map[string]int {
	counts := make(map[string]int, len(knownEventTypes))
	for _, event := range events {
		counts[event.Type]++
	}
	return counts
}
