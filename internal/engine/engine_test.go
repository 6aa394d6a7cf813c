package engine_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/hubstream/internal/engine"
	"github.com/gosuda/hubstream/internal/notify"
	"github.com/gosuda/hubstream/internal/protocol"
	"github.com/gosuda/hubstream/internal/transport"
)

// --- mocks ---

type fakeTransport struct {
	mu        sync.Mutex
	connected string
	sent      []protocol.Envelope

	onFrame  func([]byte)
	onGiveUp func(error)
}

func (f *fakeTransport) Connect(conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = conversationID
	return nil
}

func (f *fakeTransport) Disconnect() {}
func (f *fakeTransport) Reconnect()  {}

func (f *fakeTransport) Send(_ context.Context, env protocol.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, env)
	return nil
}

func (f *fakeTransport) OnFrame(fn func([]byte))       { f.onFrame = fn }
func (f *fakeTransport) OnState(func(transport.State)) {}
func (f *fakeTransport) OnGiveUp(fn func(error))       { f.onGiveUp = fn }

func (f *fakeTransport) sentEnvelopes() []protocol.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]protocol.Envelope, len(f.sent))
	copy(out, f.sent)
	return out
}

type capturingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (c *capturingNotifier) Name() string { return "capture" }

func (c *capturingNotifier) Notify(_ context.Context, evt notify.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return nil
}

func (c *capturingNotifier) captured() []notify.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]notify.Event, len(c.events))
	copy(out, c.events)
	return out
}

func newTestEngine(t *testing.T) (*engine.Engine, *fakeTransport, *capturingNotifier) {
	t.Helper()

	ft := &fakeTransport{}
	sink := &capturingNotifier{}
	reg := notify.NewRegistry()
	reg.Register(sink)

	e := engine.New(engine.Config{
		ConversationID: "conv-1",
		Domain:         "acme.com",
		Transport:      ft,
		Notifiers:      reg,
		DrainPause:     -1,
	})
	t.Cleanup(e.Close)
	return e, ft, sink
}

// --- tests ---

func TestEngine_EndToEndScenario(t *testing.T) {
	t.Parallel()

	e, ft, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.Start())
	require.NoError(t, e.SendMessage(ctx, "acme.com"))

	e.ProcessFrame(ctx, []byte(`{
		"event": "tool_call",
		"message_id": "f1",
		"agent_name": "competitor_retriever",
		"tool_name": "fetch_website_html_tool",
		"timestamp": "2025-03-01T12:00:01Z"
	}`))
	e.ProcessFrame(ctx, []byte(`{
		"event": "tool_result",
		"message_id": "f2",
		"agent_name": "competitor_retriever",
		"tool_name": "fetch_website_html_tool",
		"timestamp": "2025-03-01T12:00:05Z",
		"output": {"hub_entries": [
			{"hub_page_id": "h1", "page_title": "Pricing Guide"},
			{"hub_page_id": "h2", "page_title": "Comparison"},
			{"hub_page_id": "h3", "page_title": "Alternatives"}
		]}
	}`))

	// Outbound: exactly the fixed user_message envelope.
	envs := ft.sentEnvelopes()
	require.Len(t, envs, 1)
	assert.Equal(t, protocol.EnvelopeUserMessage, envs[0].Type)
	assert.Equal(t, "acme.com", envs[0].Content)
	assert.Equal(t, "acme.com", envs[0].Domain)
	assert.Equal(t, "conv-1", envs[0].ConversationID)

	// Transcript: exactly one pages grid with 3 candidates.
	var grids []engine.Message
	for _, msg := range e.Transcript().Messages() {
		if msg.Kind == engine.MessagePagesGrid {
			grids = append(grids, msg)
		}
	}
	require.Len(t, grids, 1)
	assert.Len(t, grids[0].Candidates, 3)

	// Panel: one successful fetch step.
	panel, ok := e.Panels().Panel("competitor_retriever")
	require.True(t, ok)
	require.Len(t, panel.Steps, 1)
	assert.Equal(t, "fetch_website_html_tool", panel.Steps[0].Key)
	assert.Equal(t, engine.StepSuccess, panel.Status["fetch_website_html_tool"])

	// The first tool call dropped a panel marker into the transcript.
	var markers int
	for _, msg := range e.Transcript().Messages() {
		if msg.Kind == engine.MessagePanelMarker {
			markers++
		}
	}
	assert.Equal(t, 1, markers)
}

func TestEngine_ReplayedFrameIsIdempotent(t *testing.T) {
	t.Parallel()

	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	frame := []byte(`{
		"event": "tool_result",
		"message_id": "stable-id",
		"agent_name": "competitor_retriever",
		"tool_name": "fetch_website_html_tool",
		"hub_entries": [{"hub_page_id": "h1"}]
	}`)

	e.ProcessFrame(ctx, frame)
	once := len(e.Transcript().Messages())
	panelOnce, _ := e.Panels().Panel("competitor_retriever")

	for i := 0; i < 5; i++ {
		e.ProcessFrame(ctx, frame)
	}

	assert.Len(t, e.Transcript().Messages(), once)
	panelAfter, _ := e.Panels().Panel("competitor_retriever")
	assert.Equal(t, panelOnce, panelAfter)
}

func TestEngine_DuplicateContentWithoutIDDropped(t *testing.T) {
	t.Parallel()

	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	frame := []byte(`{"event":"chat_end","result":"All done.","timestamp":"2025-03-01T12:00:09Z"}`)
	e.ProcessFrame(ctx, frame)
	e.ProcessFrame(ctx, frame)

	var texts int
	for _, msg := range e.Transcript().Messages() {
		if msg.Kind == engine.MessageAgentText {
			texts++
		}
	}
	assert.Equal(t, 1, texts)
}

func TestEngine_ChatEndCommitsFullTextImmediately(t *testing.T) {
	t.Parallel()

	e, _, _ := newTestEngine(t)

	e.ProcessFrame(context.Background(), []byte(`{"event":"chat_end","result":"Here are your candidates.","message_id":"c1"}`))

	msgs := e.Transcript().Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, engine.MessageAgentText, msgs[0].Kind)
	assert.Equal(t, "Here are your candidates.", msgs[0].Text)
}

func TestEngine_StreamDocumentsAreCollected(t *testing.T) {
	t.Parallel()

	e, _, sink := newTestEngine(t)
	ctx := context.Background()

	frameFor := func(typ, chunk, id string) []byte {
		return fmt.Appendf(nil, `{"type":%q,"message_id":%q,"agent_name":"writer","tool_name":"write_html_codes_tool","result":%q,"metadata":{"run_id":"r1"}}`, typ, id, chunk)
	}

	e.ProcessFrame(ctx, frameFor("message_start", "", "s1"))
	e.ProcessFrame(ctx, frameFor("message_chunk", "<h1>", "s2"))
	e.ProcessFrame(ctx, frameFor("message_chunk", "Hi</h1>", "s3"))
	e.ProcessFrame(ctx, frameFor("message_end", "", "s4"))

	docs := e.Documents()
	require.Len(t, docs, 1)
	assert.Equal(t, "<h1>Hi</h1>", docs[0].Content)

	events := sink.captured()
	require.Len(t, events, 1)
	assert.Equal(t, notify.EventDocumentReady, events[0].Kind)
}

func TestEngine_MalformedFramesAreAbsorbed(t *testing.T) {
	t.Parallel()

	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	e.ProcessFrame(ctx, []byte("garbage"))
	e.ProcessFrame(ctx, []byte(`{"event":"tool_result","message_id":"ok","result":{"no_candidates":true}}`))

	// Neither a parse failure nor a schema mismatch is user-visible.
	assert.Empty(t, e.Transcript().Messages())
}

func TestEngine_GiveUpHandling(t *testing.T) {
	t.Parallel()

	t.Run("exhausted reconnects surface connection_lost", func(t *testing.T) {
		t.Parallel()

		e, ft, sink := newTestEngine(t)
		require.NoError(t, e.Start())

		ft.onGiveUp(fmt.Errorf("%w: network down", transport.ErrAttemptsExhausted))

		events := sink.captured()
		require.Len(t, events, 1)
		assert.Equal(t, notify.EventConnectionLost, events[0].Kind)

		msgs := e.Transcript().Messages()
		require.Len(t, msgs, 1)
		assert.Equal(t, engine.MessageSystem, msgs[0].Kind)
	})

	t.Run("authentication failure surfaces session_expired", func(t *testing.T) {
		t.Parallel()

		e, ft, sink := newTestEngine(t)
		require.NoError(t, e.Start())

		ft.onGiveUp(fmt.Errorf("%w: status 401", transport.ErrAuthentication))

		events := sink.captured()
		require.Len(t, events, 1)
		assert.Equal(t, notify.EventSessionExpired, events[0].Kind)
	})
}

func TestEngine_RunDrainsTransportFrames(t *testing.T) {
	t.Parallel()

	e, ft, _ := newTestEngine(t)
	require.NoError(t, e.Start())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	ft.onFrame([]byte(`{"event":"tool_call","message_id":"r1","agent_name":"a","tool_name":"t"}`))

	require.Eventually(t, func() bool {
		_, ok := e.Panels().Panel("a")
		return ok
	}, 2*time.Second, 5*time.Millisecond)
}
