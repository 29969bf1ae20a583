// Package phase tracks the fixed pentest workflow phases for a session.
package phase

import (
	"fmt"
	"sync"
)

// Status of a workflow phase.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusSkipped    Status = "skipped"
)

// DefaultPipeline is the standard engagement sequence. Ordering is advisory to
// the planner; the tracker only enforces single-in-flight and no-regression.
var DefaultPipeline = []string{
	"reconnaissance",
	"enumeration",
	"vulnerability_scanning",
	"exploitation",
	"post_exploitation",
	"persistence",
	"reporting",
}

var allowedTransitions = map[Status]map[Status]struct{}{
	StatusPending: {
		StatusInProgress: {},
	},
	StatusInProgress: {
		StatusCompleted: {},
		StatusSkipped:   {},
	},
	StatusCompleted: {},
	StatusSkipped:   {},
}

// Phase is one named stage of the pipeline. IDs are 1-based and fixed at
// session start; only Status mutates.
type Phase struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Status Status `json:"status"`
}

// ValidationError reports an invalid tracker construction.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid phase pipeline: %s", e.Reason)
}

// InvalidTransitionError reports a phase state-machine violation. It indicates
// a caller bug and is treated as session-fatal by the orchestrator.
type InvalidTransitionError struct {
	PhaseID int
	From    Status
	To      Status
	Reason  string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid phase transition for phase %d: %s -> %s (%s)", e.PhaseID, e.From, e.To, e.Reason)
}

// Tracker maintains the ordered phase set and their statuses. Only the
// orchestrator loop mutates it; it emits no audit events itself.
type Tracker struct {
	mu     sync.Mutex
	phases []Phase
}

// NewTracker creates a tracker from an ordered sequence of phase names.
func NewTracker(names []string) (*Tracker, error) {
	if len(names) == 0 {
		return nil, &ValidationError{Reason: "phase list is empty"}
	}
	phases := make([]Phase, len(names))
	for i, name := range names {
		if name == "" {
			return nil, &ValidationError{Reason: fmt.Sprintf("phase %d has an empty name", i+1)}
		}
		phases[i] = Phase{ID: i + 1, Name: name, Status: StatusPending}
	}
	return &Tracker{phases: phases}, nil
}

// Begin moves a pending phase to in_progress. Fails if another phase is
// already in flight or the target is not pending.
func (t *Tracker) Begin(id int) (Phase, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	target, err := t.lookup(id)
	if err != nil {
		return Phase{}, err
	}
	for _, p := range t.phases {
		if p.Status == StatusInProgress {
			return Phase{}, &InvalidTransitionError{
				PhaseID: id,
				From:    target.Status,
				To:      StatusInProgress,
				Reason:  fmt.Sprintf("phase %d (%s) is already in progress", p.ID, p.Name),
			}
		}
	}
	return t.transition(target, StatusInProgress)
}

// Complete moves an in-progress phase to completed.
func (t *Tracker) Complete(id int) (Phase, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	target, err := t.lookup(id)
	if err != nil {
		return Phase{}, err
	}
	return t.transition(target, StatusCompleted)
}

// Skip moves an in-progress phase to skipped. Skipping is a legitimate,
// auditable outcome and requires a non-empty reason.
func (t *Tracker) Skip(id int, reason string) (Phase, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	target, err := t.lookup(id)
	if err != nil {
		return Phase{}, err
	}
	if reason == "" {
		return Phase{}, &InvalidTransitionError{
			PhaseID: id,
			From:    target.Status,
			To:      StatusSkipped,
			Reason:  "skip requires a reason",
		}
	}
	return t.transition(target, StatusSkipped)
}

// Snapshot returns a copy of all phases in pipeline order.
func (t *Tracker) Snapshot() []Phase {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Phase, len(t.phases))
	copy(out, t.phases)
	return out
}

// InFlight returns the phase currently in progress, if any.
func (t *Tracker) InFlight() (Phase, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, p := range t.phases {
		if p.Status == StatusInProgress {
			return p, true
		}
	}
	return Phase{}, false
}

func (t *Tracker) lookup(id int) (*Phase, error) {
	if id < 1 || id > len(t.phases) {
		return nil, &InvalidTransitionError{
			PhaseID: id,
			Reason:  fmt.Sprintf("unknown phase id (pipeline has %d phases)", len(t.phases)),
		}
	}
	return &t.phases[id-1], nil
}

func (t *Tracker) transition(target *Phase, to Status) (Phase, error) {
	if _, ok := allowedTransitions[target.Status][to]; !ok {
		return Phase{}, &InvalidTransitionError{
			PhaseID: target.ID,
			From:    target.Status,
			To:      to,
			Reason:  "transition not allowed",
		}
	}
	target.Status = to
	return *target, nil
}
