package engine

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/hubstream/internal/protocol"
)

// Document is a finalized streamed HTML document.
type Document struct {
	StreamID  string
	Title     string
	Content   string
	StartedAt time.Time
}

// StreamAccumulator reassembles chunked HTML generation events into complete
// documents, keyed by stream identity, with a live partial preview while the
// stream is in flight.
type StreamAccumulator struct {
	mu   sync.Mutex
	live map[string]*streamBuffer

	onPreview  func(streamID, partial string)
	onDocument func(doc Document)
}

type streamBuffer struct {
	title     string
	content   strings.Builder
	startedAt time.Time
}

// NewStreamAccumulator creates an accumulator with no live streams.
func NewStreamAccumulator() *StreamAccumulator {
	return &StreamAccumulator{live: make(map[string]*streamBuffer)}
}

// OnPreview registers the live partial-preview hook, called after every
// appended chunk with the full partial content so far.
func (s *StreamAccumulator) OnPreview(fn func(streamID, partial string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPreview = fn
}

// OnDocument registers the finalized-document hook.
func (s *StreamAccumulator) OnDocument(fn func(doc Document)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDocument = fn
}

// Apply routes a stream event. Chunks for unknown streams are dropped:
// without the start frame there is no buffer to append to, and inventing one
// mid-stream would emit a document with a silently missing prefix.
func (s *StreamAccumulator) Apply(evt protocol.Event) {
	switch evt.Kind {
	case protocol.KindStreamStart:
		s.start(evt)
	case protocol.KindStreamChunk:
		s.chunk(evt)
	case protocol.KindStreamEnd:
		s.end(evt)
	}
}

// Live reports how many streams are currently buffering.
func (s *StreamAccumulator) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

func (s *StreamAccumulator) start(evt protocol.Event) {
	id := evt.StreamID()

	s.mu.Lock()
	s.live[id] = &streamBuffer{
		title:     evt.AgentName,
		startedAt: time.Now(),
	}
	preview := s.onPreview
	s.mu.Unlock()

	if preview != nil {
		preview(id, "")
	}
}

func (s *StreamAccumulator) chunk(evt protocol.Event) {
	id := evt.StreamID()

	s.mu.Lock()
	buf, ok := s.live[id]
	if !ok {
		s.mu.Unlock()
		log.Debug().Str("stream_id", id).Msg("engine: chunk for unknown stream dropped")
		return
	}
	buf.content.WriteString(evt.Result)
	partial := buf.content.String()
	preview := s.onPreview
	s.mu.Unlock()

	if preview != nil {
		preview(id, partial)
	}
}

func (s *StreamAccumulator) end(evt protocol.Event) {
	id := evt.StreamID()

	s.mu.Lock()
	buf, ok := s.live[id]
	if ok {
		delete(s.live, id)
	}
	emit := s.onDocument
	s.mu.Unlock()

	if !ok {
		return
	}

	content := buf.content.String()
	if content == "" {
		// Nothing streamed; do not emit an empty-document artifact.
		return
	}

	if emit != nil {
		emit(Document{
			StreamID:  id,
			Title:     buf.title,
			Content:   content,
			StartedAt: buf.startedAt,
		})
	}
}
