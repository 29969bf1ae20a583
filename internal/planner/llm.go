package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/agentkit/logging"

	"github.com/wardensec/warden/internal/phase"
	"github.com/wardensec/warden/internal/tools"
)

// Control tool names the model uses to drive the pipeline instead of
// invoking an external tool.
const (
	ctlPhaseBegin    = "phase_begin"
	ctlPhaseComplete = "phase_complete"
	ctlPhaseSkip     = "phase_skip"
	ctlFinish        = "finish"
)

// LLMConfig holds LLM planner configuration.
type LLMConfig struct {
	Provider llm.Provider
	Registry *tools.Registry
	// Objective is the engagement goal given by the operator.
	Objective string
	// Phases seeds the pipeline description in the system prompt.
	Phases []phase.Phase
	// MaxRetries bounds chat attempts per Next call. Zero means 3.
	MaxRetries int
	// RetryBackoff is the initial backoff between attempts. Zero means 500ms.
	RetryBackoff time.Duration
}

// LLMPlanner drives planning through a chat model. Tool calls map to units;
// each unit's Feedback is returned to the model as a tool message.
type LLMPlanner struct {
	provider   llm.Provider
	registry   *tools.Registry
	logger     *logging.Logger
	maxRetries int
	backoff    time.Duration

	messages []llm.Message
	toolDefs []llm.ToolDef
	// queued holds tool calls from the last response not yet returned as units.
	queued []llm.ToolCallResponse
	// lastContent is the prose alongside the last response's tool calls.
	lastContent string
	// awaiting holds tool call IDs whose Feedback has not arrived, oldest first.
	awaiting []string
}

// NewLLMPlanner creates a planner seeded with the engagement objective and
// pipeline description.
func NewLLMPlanner(cfg LLMConfig) *LLMPlanner {
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	backoff := cfg.RetryBackoff
	if backoff == 0 {
		backoff = 500 * time.Millisecond
	}

	p := &LLMPlanner{
		provider:   cfg.Provider,
		registry:   cfg.Registry,
		logger:     logging.New().WithComponent("planner"),
		maxRetries: maxRetries,
		backoff:    backoff,
	}
	p.toolDefs = p.buildToolDefs()
	p.messages = []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: buildObjectivePrompt(cfg.Objective, cfg.Phases)},
	}
	return p
}

// Next returns the next unit, querying the model when the previous
// response's tool calls are exhausted.
func (p *LLMPlanner) Next(ctx context.Context) (Unit, error) {
	if len(p.queued) == 0 {
		if err := p.chat(ctx); err != nil {
			return nil, err
		}
	}

	if len(p.queued) == 0 {
		// No tool calls means the model is done; its prose is the summary.
		last := p.messages[len(p.messages)-1]
		return SessionComplete{Summary: last.Content}, nil
	}

	tc := p.queued[0]
	p.queued = p.queued[1:]
	p.awaiting = append(p.awaiting, tc.ID)
	return p.toUnit(tc)
}

// Observe returns the feedback for the oldest unanswered tool call to the
// conversation.
func (p *LLMPlanner) Observe(fb Feedback) {
	if len(p.awaiting) == 0 {
		return
	}
	id := p.awaiting[0]
	p.awaiting = p.awaiting[1:]

	p.messages = append(p.messages, llm.Message{
		Role:       "tool",
		ToolCallID: id,
		Content:    renderFeedback(fb),
	})
}

func (p *LLMPlanner) chat(ctx context.Context) error {
	var lastErr error
	backoff := p.backoff
	for attempt := 1; attempt <= p.maxRetries; attempt++ {
		resp, err := p.provider.Chat(ctx, llm.ChatRequest{
			Messages: p.messages,
			Tools:    p.toolDefs,
		})
		if err == nil {
			p.messages = append(p.messages, llm.Message{
				Role:      "assistant",
				Content:   resp.Content,
				ToolCalls: resp.ToolCalls,
			})
			p.queued = resp.ToolCalls
			p.lastContent = resp.Content
			return nil
		}
		lastErr = err
		p.logger.Warn("chat attempt failed", map[string]interface{}{
			"attempt": attempt,
			"error":   err.Error(),
		})
		if attempt == p.maxRetries {
			break
		}
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("chat failed after %d attempts: %w", p.maxRetries, lastErr)
}

func (p *LLMPlanner) toUnit(tc llm.ToolCallResponse) (Unit, error) {
	switch tc.Name {
	case ctlPhaseBegin:
		return PhaseUpdate{PhaseID: intArg(tc.Args, "phase_id"), Action: PhaseBegin}, nil
	case ctlPhaseComplete:
		return PhaseUpdate{PhaseID: intArg(tc.Args, "phase_id"), Action: PhaseComplete}, nil
	case ctlPhaseSkip:
		return PhaseUpdate{
			PhaseID: intArg(tc.Args, "phase_id"),
			Action:  PhaseSkip,
			Reason:  stringArg(tc.Args, "reason"),
		}, nil
	case ctlFinish:
		return SessionComplete{Summary: stringArg(tc.Args, "summary")}, nil
	default:
		return ToolProposal{
			Tool:      tc.Name,
			Args:      tc.Args,
			Rationale: p.lastContent,
		}, nil
	}
}

func (p *LLMPlanner) buildToolDefs() []llm.ToolDef {
	defs := []llm.ToolDef{
		{
			Name:        ctlPhaseBegin,
			Description: "Begin work on a pipeline phase.",
			Parameters:  phaseIDSchema(false),
		},
		{
			Name:        ctlPhaseComplete,
			Description: "Mark the in-progress pipeline phase as completed.",
			Parameters:  phaseIDSchema(false),
		},
		{
			Name:        ctlPhaseSkip,
			Description: "Skip a pipeline phase. A reason is required.",
			Parameters:  phaseIDSchema(true),
		},
		{
			Name:        ctlFinish,
			Description: "End the session with a closing summary of findings.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"summary": map[string]interface{}{
						"type":        "string",
						"description": "Closing summary of the engagement",
					},
				},
				"required": []string{"summary"},
			},
		},
	}
	if p.registry != nil {
		for _, def := range p.registry.Definitions() {
			defs = append(defs, llm.ToolDef{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters(),
			})
		}
	}
	return defs
}

func phaseIDSchema(withReason bool) map[string]interface{} {
	props := map[string]interface{}{
		"phase_id": map[string]interface{}{
			"type":        "integer",
			"description": "Pipeline phase ID",
		},
	}
	required := []string{"phase_id"}
	if withReason {
		props["reason"] = map[string]interface{}{
			"type":        "string",
			"description": "Why this phase does not apply",
		}
		required = append(required, "reason")
	}
	return map[string]interface{}{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

func renderFeedback(fb Feedback) string {
	out := map[string]interface{}{"status": fb.Status}
	if fb.Payload != nil {
		out["result"] = fb.Payload
	}
	if fb.Message != "" {
		out["message"] = fb.Message
	}
	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Sprintf("status: %s", fb.Status)
	}
	return string(data)
}

func buildObjectivePrompt(objective string, phases []phase.Phase) string {
	var sb strings.Builder
	sb.WriteString("OBJECTIVE: ")
	sb.WriteString(objective)
	sb.WriteString("\n\nPIPELINE PHASES:\n")
	for _, ph := range phases {
		fmt.Fprintf(&sb, "%d. %s [%s]\n", ph.ID, ph.Name, ph.Status)
	}
	sb.WriteString("\nWork through the phases in order. Begin a phase before proposing tools for it, complete it when its goals are met, and skip phases that do not apply with a reason. Call finish when the engagement is done.")
	return sb.String()
}

func intArg(args map[string]interface{}, key string) int {
	switch v := args[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	}
	return 0
}

func stringArg(args map[string]interface{}, key string) string {
	s, _ := args[key].(string)
	return s
}

const systemPrompt = `You are a penetration testing assistant operating inside a human-supervised control loop against explicitly authorized targets only.

Rules:
- Every external tool invocation you propose is reviewed by a human operator before it runs. The operator may accept it, edit its arguments, answer you directly instead, or abort the session.
- Track your progress through the pipeline phases with phase_begin, phase_complete and phase_skip. Only one phase is in progress at a time.
- Propose one action at a time and wait for its result before deciding the next.
- Stay strictly within the authorized scope. Never propose actions against targets outside it.
- When the engagement is complete, write the report and call finish with a summary.`
