// Package engine reconciles the backend's event stream into coherent
// UI-facing state: per-agent tool panels, the chat transcript, and streamed
// HTML documents. Every inbound frame flows dedup -> classify -> fan-out to
// the projectors that care; a single frame can legitimately update more than
// one projector.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/hubstream/internal/auth"
	"github.com/gosuda/hubstream/internal/dedup"
	"github.com/gosuda/hubstream/internal/notify"
	"github.com/gosuda/hubstream/internal/protocol"
	"github.com/gosuda/hubstream/internal/transport"
)

// Transport is the connection surface the engine drives. Implemented by
// transport.Client; tests substitute fakes.
type Transport interface {
	Connect(conversationID string) error
	Disconnect()
	Reconnect()
	Send(ctx context.Context, env protocol.Envelope) error
	OnFrame(fn func([]byte))
	OnState(fn func(transport.State))
	OnGiveUp(fn func(error))
}

// Archiver persists transcript messages for history reload. Optional.
type Archiver interface {
	SaveMessage(ctx context.Context, conversationID string, msg Message) error
}

const (
	defaultDrainPause    = 20 * time.Millisecond
	defaultClearInterval = 5 * time.Minute
	frameBuffer          = 256
)

// Config assembles an Engine. Transport and ConversationID are required;
// everything else has working defaults.
type Config struct {
	ConversationID string
	Domain         string
	Transport      Transport
	Dedup          dedup.Store
	Notifiers      *notify.Registry
	Archive        Archiver

	// DrainPause is slept between frames only while more frames are queued,
	// giving a rendering layer a chance to catch up during backlog drains.
	// Zero takes the default; negative disables the pause entirely.
	DrainPause         time.Duration
	DedupClearInterval time.Duration
	RevealInterval     time.Duration
	RevealStride       int
}

// Engine owns the projector lifecycles and the frame-processing loop.
type Engine struct {
	cfg Config

	dedupStore dedup.Store
	panels     *PanelProjector
	transcript *Transcript
	streams    *StreamAccumulator
	revealer   *Revealer
	notifiers  *notify.Registry

	frames chan []byte

	mu        sync.Mutex
	documents []Document

	done      chan struct{}
	closeOnce sync.Once
}

// New wires the projectors together. The engine exclusively owns panel and
// stream-document creation and destruction from here on.
func New(cfg Config) *Engine {
	if cfg.Dedup == nil {
		cfg.Dedup = dedup.NewMemory(0)
	}
	if cfg.Notifiers == nil {
		cfg.Notifiers = notify.NewRegistry()
		cfg.Notifiers.Register(notify.Log{})
	}
	if cfg.DrainPause == 0 {
		cfg.DrainPause = defaultDrainPause
	}
	if cfg.DedupClearInterval <= 0 {
		cfg.DedupClearInterval = defaultClearInterval
	}

	e := &Engine{
		cfg:        cfg,
		dedupStore: cfg.Dedup,
		panels:     NewPanelProjector(),
		transcript: NewTranscript(),
		streams:    NewStreamAccumulator(),
		notifiers:  cfg.Notifiers,
		frames:     make(chan []byte, frameBuffer),
		done:       make(chan struct{}),
	}

	e.revealer = NewRevealer(cfg.RevealInterval, cfg.RevealStride, nil)

	// The session's first tool call anchors the panel area chronologically.
	e.panels.OnFirstToolCall(func(at time.Time) {
		e.transcript.AppendPanelMarker(at)
	})

	e.streams.OnDocument(func(doc Document) {
		e.mu.Lock()
		e.documents = append(e.documents, doc)
		e.mu.Unlock()

		e.notifiers.Notify(context.Background(), notify.Event{
			Kind:           notify.EventDocumentReady,
			ConversationID: cfg.ConversationID,
			Detail:         doc.Title,
		})
	})

	if cfg.Archive != nil {
		e.transcript.OnAppend(func(msg Message) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := cfg.Archive.SaveMessage(ctx, cfg.ConversationID, msg); err != nil {
				log.Error().Err(err).Str("message_id", msg.ID).Msg("engine: archive append failed")
			}
		})
	}

	if cfg.Transport != nil {
		cfg.Transport.OnFrame(e.enqueue)
		cfg.Transport.OnGiveUp(e.handleGiveUp)
		cfg.Transport.OnState(func(s transport.State) {
			log.Debug().Str("state", string(s)).Msg("engine: transport state changed")
		})
	}

	return e
}

// Start connects the transport for the configured conversation.
func (e *Engine) Start() error {
	return e.cfg.Transport.Connect(e.cfg.ConversationID)
}

// Run drains inbound frames until the context ends or Close is called.
// All projector mutation happens on this single goroutine, in arrival order.
func (e *Engine) Run(ctx context.Context) {
	clearTicker := time.NewTicker(e.cfg.DedupClearInterval)
	defer clearTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.done:
			return
		case <-clearTicker.C:
			if err := e.dedupStore.Clear(ctx); err != nil {
				log.Error().Err(err).Msg("engine: dedup clear failed")
			}
		case frame := <-e.frames:
			e.ProcessFrame(ctx, frame)
			if len(e.frames) > 0 && e.cfg.DrainPause > 0 {
				time.Sleep(e.cfg.DrainPause)
			}
		}
	}
}

// Close stops the loop, cancels any reveal in progress, and disconnects.
// No timer survives a Close.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		close(e.done)
		e.revealer.Cancel()
		if e.cfg.Transport != nil {
			e.cfg.Transport.Disconnect()
		}
	})
}

// ProcessFrame runs one frame through dedup, classification, and fan-out.
// Exposed so history replays and tests can bypass the transport.
func (e *Engine) ProcessFrame(ctx context.Context, raw []byte) {
	evt := protocol.Classify(raw)

	dup, err := e.dedupStore.Seen(ctx, evt.MessageID, raw)
	if err != nil {
		// A broken dedup backend degrades to at-least-once processing;
		// replays are preferable to dropped frames.
		log.Warn().Err(err).Msg("engine: dedup check failed, processing frame anyway")
	}
	if dup {
		return
	}

	e.dispatch(evt)
}

// dispatch fans a classified event out to every interested projector.
// Projectors receive the same immutable event and mutate only their own state.
func (e *Engine) dispatch(evt protocol.Event) {
	switch evt.Kind {
	case protocol.KindStreamStart, protocol.KindStreamChunk, protocol.KindStreamEnd:
		e.streams.Apply(evt)

	case protocol.KindToolCall, protocol.KindToolError,
		protocol.KindHandoffStart, protocol.KindHandoffEnd, protocol.KindHandoffError:
		e.panels.Apply(evt)

	case protocol.KindToolResult:
		e.panels.Apply(evt)
		if len(evt.Candidates) > 0 {
			if _, appended := e.transcript.IngestCandidates(evt.Candidates, evt.Timestamp); appended {
				log.Debug().Int("candidates", len(evt.Candidates)).Msg("engine: candidate grid appended")
			}
		}

	case protocol.KindChatStart:
		// Presence signal only; nothing to project.

	case protocol.KindChatEnd:
		if evt.Result == "" {
			return
		}
		msg := e.transcript.AppendAgentText(evt.Result, evt.Timestamp)
		e.revealer.Reveal(msg.ID, msg.Text)

	case protocol.KindUnclassified:
		log.Debug().Msg("engine: unclassified frame dropped")
	}
}

// SendMessage submits user chat input: committed to the transcript locally,
// then sent upstream in a user_message envelope.
func (e *Engine) SendMessage(ctx context.Context, text string) error {
	e.transcript.AppendUser(text)
	env := protocol.NewUserMessage(text, e.cfg.Domain, e.cfg.ConversationID)
	return e.cfg.Transport.Send(ctx, env)
}

// SendSelection submits a selected candidate id as a control message.
func (e *Engine) SendSelection(ctx context.Context, hubPageID string) error {
	env := protocol.NewControlMessage(hubPageID, e.cfg.ConversationID)
	return e.cfg.Transport.Send(ctx, env)
}

// Reconnect is the manual-retry affordance for the terminal give-up state.
func (e *Engine) Reconnect() {
	e.cfg.Transport.Reconnect()
}

// OnReveal registers the typewriter pacing observer. Display-only: transcript
// state already holds the full text when ticks arrive.
func (e *Engine) OnReveal(fn func(messageID, visible string)) {
	e.revealer.SetOnTick(fn)
}

// Panels exposes the panel projector for read access.
func (e *Engine) Panels() *PanelProjector { return e.panels }

// Transcript exposes the transcript projector for read access.
func (e *Engine) Transcript() *Transcript { return e.transcript }

// Streams exposes the stream accumulator for read access.
func (e *Engine) Streams() *StreamAccumulator { return e.streams }

// Documents returns the finalized documents in completion order.
func (e *Engine) Documents() []Document {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Document, len(e.documents))
	copy(out, e.documents)
	return out
}

// enqueue hands a transport frame to the processing loop. A full buffer
// drops the frame: the backend replays by timestamp after reconnects, and
// blocking the transport read loop would stall the health check.
func (e *Engine) enqueue(frame []byte) {
	select {
	case e.frames <- frame:
	default:
		log.Warn().Msg("engine: frame buffer full, dropping frame")
	}
}

// handleGiveUp reacts to the transport's terminal failures. Authentication
// failures halt the session and demand re-auth; exhausted reconnection is
// surfaced with the manual-retry affordance.
func (e *Engine) handleGiveUp(cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if errors.Is(cause, transport.ErrAuthentication) || errors.Is(cause, auth.ErrTokenExpired) {
		e.transcript.AppendSystem("Session expired. Please sign in again.")
		e.notifiers.Notify(ctx, notify.Event{
			Kind:           notify.EventSessionExpired,
			ConversationID: e.cfg.ConversationID,
		})
		return
	}

	e.transcript.AppendSystem("Connection to the agent backend was lost. Use reconnect to retry.")
	e.notifiers.Notify(ctx, notify.Event{
		Kind:           notify.EventConnectionLost,
		ConversationID: e.cfg.ConversationID,
		Detail:         cause.Error(),
	})
}
