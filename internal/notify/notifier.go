// Package notify fans engine lifecycle events out to registered sinks so an
// unattended monitor still surfaces the conditions a user must act on:
// exhausted reconnection, an expired session, a finished document.
package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// EventKind labels a notification.
type EventKind string

const (
	EventConnectionLost EventKind = "connection_lost"
	EventSessionExpired EventKind = "session_expired"
	EventDocumentReady  EventKind = "document_ready"
)

// Event is one notification payload.
type Event struct {
	Kind           EventKind
	ConversationID string
	Detail         string
}

// Notifier delivers one notification to one sink.
type Notifier interface {
	Notify(ctx context.Context, evt Event) error
	Name() string
}

// Registry fans a notification out to every registered notifier. Delivery is
// best effort: one failing sink never blocks the others.
type Registry struct {
	mu        sync.RWMutex
	notifiers []Notifier
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a notifier.
func (r *Registry) Register(n Notifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifiers = append(r.notifiers, n)
}

// Notify delivers the event to every sink, logging per-sink failures.
func (r *Registry) Notify(ctx context.Context, evt Event) {
	r.mu.RLock()
	sinks := make([]Notifier, len(r.notifiers))
	copy(sinks, r.notifiers)
	r.mu.RUnlock()

	for _, n := range sinks {
		if err := n.Notify(ctx, evt); err != nil {
			log.Error().Err(err).Str("sink", n.Name()).Str("kind", string(evt.Kind)).Msg("notify: delivery failed")
		}
	}
}

// Log is a Notifier that writes to the structured log. Always registered so
// headless runs leave a trace even with no external sink configured.
type Log struct{}

// Name implements Notifier.
func (Log) Name() string { return "log" }

// Notify implements Notifier.
func (Log) Notify(_ context.Context, evt Event) error {
	log.Info().
		Str("kind", string(evt.Kind)).
		Str("conversation_id", evt.ConversationID).
		Str("detail", evt.Detail).
		Msg("notify: engine event")
	return nil
}

// format renders the human-readable text shared by chat-style sinks.
func format(evt Event) string {
	switch evt.Kind {
	case EventConnectionLost:
		return fmt.Sprintf("Connection to the agent backend lost (conversation %s): %s. Manual reconnect required.", evt.ConversationID, evt.Detail)
	case EventSessionExpired:
		return fmt.Sprintf("Session expired for conversation %s. Re-authentication required.", evt.ConversationID)
	case EventDocumentReady:
		return fmt.Sprintf("Generated document ready for conversation %s: %s", evt.ConversationID, evt.Detail)
	default:
		return fmt.Sprintf("%s (conversation %s): %s", evt.Kind, evt.ConversationID, evt.Detail)
	}
}
