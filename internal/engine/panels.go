package engine

import (
	"sync"
	"time"

	"github.com/gosuda/hubstream/internal/protocol"
)

// StepStatus tracks one tool or handoff step inside an agent panel.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepProcessing StepStatus = "processing"
	StepSuccess    StepStatus = "success"
	StepFailed     StepStatus = "failed"
)

// Step is one entry in a panel's step list, insertion-ordered.
type Step struct {
	Key   string
	Label string
}

// AgentPanel is the UI-facing status panel for one agent. Snapshots returned
// by the projector are copies; callers cannot mutate projector state.
type AgentPanel struct {
	AgentName string
	Steps     []Step
	Status    map[string]StepStatus
}

// PanelProjector maintains one panel per agent name. Panels are created
// lazily on the first event naming the agent and live for the session.
type PanelProjector struct {
	mu      sync.Mutex
	order   []string
	panels  map[string]*AgentPanel
	results map[string]string

	firstCallSeen bool
	onFirstCall   func(at time.Time)
}

// NewPanelProjector creates an empty projector.
func NewPanelProjector() *PanelProjector {
	return &PanelProjector{
		panels:  make(map[string]*AgentPanel),
		results: make(map[string]string),
	}
}

// OnFirstToolCall registers the hook fired exactly once, on the session's
// first observed tool call, so the transcript can place a panel marker in
// the right chronological slot.
func (p *PanelProjector) OnFirstToolCall(fn func(at time.Time)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onFirstCall = fn
}

// Apply projects a step event onto its agent's panel. Non-step events and
// events without an agent name are ignored.
func (p *PanelProjector) Apply(evt protocol.Event) {
	if !evt.IsStep() || evt.AgentName == "" {
		return
	}

	key := evt.ToolName
	if key == "" {
		// Handoff frames do not always carry a tool name.
		key = "handoff"
	}

	at := evt.Timestamp
	if at.IsZero() {
		at = time.Now()
	}

	p.mu.Lock()

	var firstCall func(time.Time)
	if !p.firstCallSeen && (evt.Kind == protocol.KindToolCall || evt.Kind == protocol.KindHandoffStart) {
		p.firstCallSeen = true
		firstCall = p.onFirstCall
	}

	panel, ok := p.panels[evt.AgentName]
	if !ok {
		panel = &AgentPanel{
			AgentName: evt.AgentName,
			Status:    make(map[string]StepStatus),
		}
		p.panels[evt.AgentName] = panel
		p.order = append(p.order, evt.AgentName)
	}

	if _, exists := panel.Status[key]; !exists {
		panel.Steps = append(panel.Steps, Step{Key: key, Label: key})
	}

	switch evt.Kind {
	case protocol.KindToolCall, protocol.KindHandoffStart:
		panel.Status[key] = StepProcessing
	case protocol.KindToolResult, protocol.KindHandoffEnd:
		// A result always means success; failure only ever arrives as an
		// explicit error event, never inferred from result content.
		panel.Status[key] = StepSuccess
	case protocol.KindToolError, protocol.KindHandoffError:
		panel.Status[key] = StepFailed
	}

	p.results[evt.AgentName+"/"+key] = evt.Result

	p.mu.Unlock()

	if firstCall != nil {
		firstCall(at)
	}
}

// Panel returns a snapshot of one agent's panel.
func (p *PanelProjector) Panel(agentName string) (AgentPanel, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	panel, ok := p.panels[agentName]
	if !ok {
		return AgentPanel{}, false
	}
	return snapshotPanel(panel), true
}

// Panels returns snapshots of all panels in first-seen order.
func (p *PanelProjector) Panels() []AgentPanel {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]AgentPanel, 0, len(p.order))
	for _, name := range p.order {
		out = append(out, snapshotPanel(p.panels[name]))
	}
	return out
}

// StepResult returns the last recorded result payload for a step, for the
// on-demand "view step output" affordance.
func (p *PanelProjector) StepResult(agentName, toolName string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	res, ok := p.results[agentName+"/"+toolName]
	return res, ok
}

func snapshotPanel(panel *AgentPanel) AgentPanel {
	out := AgentPanel{
		AgentName: panel.AgentName,
		Steps:     make([]Step, len(panel.Steps)),
		Status:    make(map[string]StepStatus, len(panel.Status)),
	}
	copy(out.Steps, panel.Steps)
	for k, v := range panel.Status {
		out.Status[k] = v
	}
	return out
}
