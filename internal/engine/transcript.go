package engine

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gosuda/hubstream/internal/protocol"
)

// MessageKind tags a transcript entry.
type MessageKind string

const (
	MessageUser        MessageKind = "user"
	MessageSystem      MessageKind = "system"
	MessageAgentText   MessageKind = "agent_text"
	MessagePagesGrid   MessageKind = "pages_grid"
	MessagePanelMarker MessageKind = "agent_panel_marker"
)

// Message is one transcript entry. The transcript orders entries by
// timestamp, not arrival, since tool/handoff events and direct chat events
// travel on different backend queues and can race.
type Message struct {
	ID         string
	Kind       MessageKind
	Text       string
	Candidates []protocol.PageCandidate
	Timestamp  time.Time
}

// Transcript is the ordered chat transcript: an append-only sequence re-sorted
// stably by timestamp after every insertion.
type Transcript struct {
	mu        sync.Mutex
	messages  []Message
	processed map[string]struct{} // candidate ids already shown, session-scoped
	now       func() time.Time

	onAppend []func(Message)
}

// NewTranscript creates an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{
		processed: make(map[string]struct{}),
		now:       time.Now,
	}
}

// OnAppend registers an observer invoked for every committed message, after
// it is already part of transcript state. Observers stack.
func (t *Transcript) OnAppend(fn func(Message)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onAppend = append(t.onAppend, fn)
}

// AppendUser commits a user chat message.
func (t *Transcript) AppendUser(text string) Message {
	return t.append(Message{Kind: MessageUser, Text: text})
}

// AppendSystem commits a system notice (connection lost, session expired).
func (t *Transcript) AppendSystem(text string) Message {
	return t.append(Message{Kind: MessageSystem, Text: text})
}

// AppendAgentText commits agent-produced text. The full text is state
// immediately; any typewriter reveal is display pacing layered on top.
func (t *Transcript) AppendAgentText(text string, at time.Time) Message {
	return t.append(Message{Kind: MessageAgentText, Text: text, Timestamp: at})
}

// AppendPanelMarker commits the token that anchors the agent panel area in
// its chronological slot.
func (t *Transcript) AppendPanelMarker(at time.Time) Message {
	return t.append(Message{Kind: MessagePanelMarker, Timestamp: at})
}

// IngestCandidates filters candidates against the previously-processed id
// set and commits one pagesGrid message carrying the new ones. When every
// candidate was already seen nothing is appended: a no-op, not an empty grid.
func (t *Transcript) IngestCandidates(candidates []protocol.PageCandidate, at time.Time) (Message, bool) {
	t.mu.Lock()
	fresh := make([]protocol.PageCandidate, 0, len(candidates))
	for _, c := range candidates {
		if _, seen := t.processed[c.HubPageID]; seen {
			continue
		}
		t.processed[c.HubPageID] = struct{}{}
		fresh = append(fresh, c)
	}
	t.mu.Unlock()

	if len(fresh) == 0 {
		return Message{}, false
	}

	msg := t.append(Message{Kind: MessagePagesGrid, Candidates: fresh, Timestamp: at})
	return msg, true
}

// Messages returns a snapshot of the transcript in timestamp order.
func (t *Transcript) Messages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}

func (t *Transcript) append(msg Message) Message {
	t.mu.Lock()

	msg.ID = uuid.NewString()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = t.now()
	}
	t.messages = append(t.messages, msg)

	// Stable sort keeps arrival order for equal timestamps while letting a
	// late frame with an earlier stamp land in its proper slot.
	sort.SliceStable(t.messages, func(i, j int) bool {
		return t.messages[i].Timestamp.Before(t.messages[j].Timestamp)
	})

	observers := t.onAppend
	t.mu.Unlock()

	for _, fn := range observers {
		fn(msg)
	}
	return msg
}
