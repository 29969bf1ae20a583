package planner

import "context"

// ScriptPlanner replays a fixed sequence of units. It exists for tests and
// dry runs; feedback is recorded, not acted on.
type ScriptPlanner struct {
	units    []Unit
	Observed []Feedback
}

// NewScriptPlanner creates a planner that yields the given units in order,
// then SessionComplete.
func NewScriptPlanner(units ...Unit) *ScriptPlanner {
	return &ScriptPlanner{units: units}
}

func (p *ScriptPlanner) Next(ctx context.Context) (Unit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(p.units) == 0 {
		return SessionComplete{Summary: "script exhausted"}, nil
	}
	u := p.units[0]
	p.units = p.units[1:]
	return u, nil
}

func (p *ScriptPlanner) Observe(fb Feedback) {
	p.Observed = append(p.Observed, fb)
}
