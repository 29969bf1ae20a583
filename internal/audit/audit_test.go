package audit

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestAppend_SequencesAreContiguous(t *testing.T) {
	log, err := Open(t.TempDir(), "sess-1")
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	defer log.Close()

	types := []string{EventSessionStart, EventProposalCreated, EventDecisionRecorded, EventToolResult, EventSessionEnd}
	for i, typ := range types {
		event, err := log.Append(typ, map[string]interface{}{"n": i})
		if err != nil {
			t.Fatalf("append %s error: %v", typ, err)
		}
		if event.Seq != uint64(i+1) {
			t.Errorf("expected seq %d, got %d", i+1, event.Seq)
		}
	}

	events, err := ReadSession(log.Path())
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	if len(events) != len(types) {
		t.Fatalf("expected %d events, got %d", len(types), len(events))
	}
	for i, event := range events {
		if event.Seq != uint64(i+1) {
			t.Errorf("event %d: expected seq %d, got %d", i, i+1, event.Seq)
		}
		if event.SessionID != "sess-1" {
			t.Errorf("event %d: wrong session id %q", i, event.SessionID)
		}
	}
}

func TestReadSession_Restartable(t *testing.T) {
	log, err := Open(t.TempDir(), "sess-replay")
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	log.Append(EventSessionStart, nil)
	log.Append(EventSessionEnd, map[string]interface{}{"reason": "completed"})
	log.Close()

	first, err := ReadSession(log.Path())
	if err != nil {
		t.Fatalf("first read error: %v", err)
	}
	second, err := ReadSession(log.Path())
	if err != nil {
		t.Fatalf("second read error: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("reads differ in length: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Seq != second[i].Seq || first[i].Type != second[i].Type {
			t.Errorf("event %d differs between reads", i)
		}
	}
}

func TestReadSession_RejectsSequenceGap(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit_gap.jsonl")
	lines := `{"seq":1,"session_id":"gap","type":"session_start"}
{"seq":3,"session_id":"gap","type":"session_end"}
`
	if err := os.WriteFile(path, []byte(lines), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := ReadSession(path); err == nil {
		t.Fatal("expected sequence gap error")
	}
}

func TestAppend_UnknownTypeFails(t *testing.T) {
	log, err := Open(t.TempDir(), "sess-bad")
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	defer log.Close()

	_, err = log.Append("made_up_event", nil)
	var werr *WriteError
	if !errors.As(err, &werr) {
		t.Fatalf("expected *WriteError, got %v", err)
	}
}

func TestAppend_AfterCloseFails(t *testing.T) {
	log, err := Open(t.TempDir(), "sess-closed")
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	log.Append(EventSessionStart, nil)
	log.Close()

	_, err = log.Append(EventSessionEnd, nil)
	var werr *WriteError
	if !errors.As(err, &werr) {
		t.Fatalf("expected *WriteError after close, got %v", err)
	}
}

func TestOpen_RestoresSequenceCounter(t *testing.T) {
	dir := t.TempDir()
	log, err := Open(dir, "sess-resume")
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	log.Append(EventSessionStart, nil)
	log.Append(EventProposalCreated, nil)
	log.Close()

	reopened, err := Open(dir, "sess-resume")
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer reopened.Close()

	event, err := reopened.Append(EventSessionEnd, nil)
	if err != nil {
		t.Fatalf("append after reopen error: %v", err)
	}
	if event.Seq != 3 {
		t.Errorf("expected seq 3 after reopen, got %d", event.Seq)
	}
}

func TestAppendCorrection_ReferencesOriginal(t *testing.T) {
	log, err := Open(t.TempDir(), "sess-corr")
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	defer log.Close()

	orig, _ := log.Append(EventToolResult, map[string]interface{}{"tool": "nmap_tool"})
	corr, err := log.AppendCorrection(orig.Seq, "result recorded against wrong proposal", nil)
	if err != nil {
		t.Fatalf("correction error: %v", err)
	}
	if corr.Type != EventError {
		t.Errorf("expected error event, got %s", corr.Type)
	}
	if corr.Payload["ref_seq"] != orig.Seq {
		// JSON round-trip is not involved here; the payload holds the raw value.
		if ref, ok := corr.Payload["ref_seq"].(uint64); !ok || ref != orig.Seq {
			t.Errorf("expected ref_seq %d, got %v", orig.Seq, corr.Payload["ref_seq"])
		}
	}
}

func TestSummary_CountsByType(t *testing.T) {
	log, err := Open(t.TempDir(), "sess-sum")
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	log.Append(EventSessionStart, nil)
	log.Append(EventProposalCreated, nil)
	log.Append(EventProposalCreated, nil)
	log.Append(EventSessionEnd, nil)
	log.Close()

	events, err := ReadSession(log.Path())
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	counts := Summary(events)
	if counts[EventProposalCreated] != 2 {
		t.Errorf("expected 2 proposal_created, got %d", counts[EventProposalCreated])
	}
	if counts[EventSessionStart] != 1 || counts[EventSessionEnd] != 1 {
		t.Errorf("unexpected start/end counts: %v", counts)
	}
}
