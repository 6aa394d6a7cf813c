package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/hubstream/internal/engine"
	"github.com/gosuda/hubstream/internal/protocol"
)

func streamEvent(kind protocol.Kind, runID, chunk string) protocol.Event {
	return protocol.Event{
		Kind:      kind,
		AgentName: "writer",
		ToolName:  protocol.StreamTool,
		RunID:     runID,
		Result:    chunk,
	}
}

func TestStreamAccumulator_Reassembly(t *testing.T) {
	t.Parallel()

	acc := engine.NewStreamAccumulator()

	var docs []engine.Document
	acc.OnDocument(func(doc engine.Document) { docs = append(docs, doc) })

	acc.Apply(streamEvent(protocol.KindStreamStart, "x", ""))
	acc.Apply(streamEvent(protocol.KindStreamChunk, "x", "<h1>"))
	acc.Apply(streamEvent(protocol.KindStreamChunk, "x", "Hi</h1>"))
	acc.Apply(streamEvent(protocol.KindStreamEnd, "x", ""))

	require.Len(t, docs, 1)
	assert.Equal(t, "<h1>Hi</h1>", docs[0].Content)
	assert.Equal(t, "writer", docs[0].Title)
	assert.Equal(t, 0, acc.Live(), "finalized stream must leave the live map")
}

func TestStreamAccumulator_ChunkWithoutStartDropped(t *testing.T) {
	t.Parallel()

	acc := engine.NewStreamAccumulator()

	var docs []engine.Document
	acc.OnDocument(func(doc engine.Document) { docs = append(docs, doc) })

	acc.Apply(streamEvent(protocol.KindStreamChunk, "orphan", "<p>lost</p>"))
	acc.Apply(streamEvent(protocol.KindStreamEnd, "orphan", ""))

	assert.Empty(t, docs)
	assert.Equal(t, 0, acc.Live())
}

func TestStreamAccumulator_EmptyStreamDiscardedSilently(t *testing.T) {
	t.Parallel()

	acc := engine.NewStreamAccumulator()

	var docs []engine.Document
	acc.OnDocument(func(doc engine.Document) { docs = append(docs, doc) })

	acc.Apply(streamEvent(protocol.KindStreamStart, "x", ""))
	acc.Apply(streamEvent(protocol.KindStreamEnd, "x", ""))

	assert.Empty(t, docs, "empty buffers must not produce document artifacts")
	assert.Equal(t, 0, acc.Live())
}

func TestStreamAccumulator_ConcurrentRunsStayIsolated(t *testing.T) {
	t.Parallel()

	acc := engine.NewStreamAccumulator()

	var docs []engine.Document
	acc.OnDocument(func(doc engine.Document) { docs = append(docs, doc) })

	acc.Apply(streamEvent(protocol.KindStreamStart, "run1", ""))
	acc.Apply(streamEvent(protocol.KindStreamStart, "run2", ""))
	acc.Apply(streamEvent(protocol.KindStreamChunk, "run1", "one"))
	acc.Apply(streamEvent(protocol.KindStreamChunk, "run2", "two"))
	acc.Apply(streamEvent(protocol.KindStreamEnd, "run1", ""))
	acc.Apply(streamEvent(protocol.KindStreamEnd, "run2", ""))

	require.Len(t, docs, 2)
	assert.Equal(t, "one", docs[0].Content)
	assert.Equal(t, "two", docs[1].Content)
}

func TestStreamAccumulator_LivePreview(t *testing.T) {
	t.Parallel()

	acc := engine.NewStreamAccumulator()

	var partials []string
	acc.OnPreview(func(_, partial string) { partials = append(partials, partial) })

	acc.Apply(streamEvent(protocol.KindStreamStart, "x", ""))
	acc.Apply(streamEvent(protocol.KindStreamChunk, "x", "<h1>"))
	acc.Apply(streamEvent(protocol.KindStreamChunk, "x", "Hi"))

	assert.Equal(t, []string{"", "<h1>", "<h1>Hi"}, partials)
}
