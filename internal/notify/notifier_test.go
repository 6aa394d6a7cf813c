package notify_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gosuda/hubstream/internal/notify"
)

// --- mocks ---

type recordingNotifier struct {
	name   string
	events []notify.Event
	err    error
}

func (r *recordingNotifier) Name() string { return r.name }

func (r *recordingNotifier) Notify(_ context.Context, evt notify.Event) error {
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, evt)
	return nil
}

func TestRegistry_FanOut(t *testing.T) {
	t.Parallel()

	a := &recordingNotifier{name: "a"}
	b := &recordingNotifier{name: "b"}

	reg := notify.NewRegistry()
	reg.Register(a)
	reg.Register(b)

	evt := notify.Event{Kind: notify.EventDocumentReady, ConversationID: "c1", Detail: "Acme Landing"}
	reg.Notify(context.Background(), evt)

	assert.Equal(t, []notify.Event{evt}, a.events)
	assert.Equal(t, []notify.Event{evt}, b.events)
}

func TestRegistry_FailingSinkDoesNotBlockOthers(t *testing.T) {
	t.Parallel()

	broken := &recordingNotifier{name: "broken", err: errors.New("sink down")}
	healthy := &recordingNotifier{name: "healthy"}

	reg := notify.NewRegistry()
	reg.Register(broken)
	reg.Register(healthy)

	reg.Notify(context.Background(), notify.Event{Kind: notify.EventConnectionLost, ConversationID: "c1"})

	assert.Len(t, healthy.events, 1)
}
