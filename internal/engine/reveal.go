package engine

import (
	"context"
	"sync"
	"time"
)

const (
	defaultRevealInterval = 20 * time.Millisecond
	defaultRevealStride   = 3 // runes revealed per tick
)

// Revealer drives typewriter-style progressive disclosure of agent text.
// It is purely presentational: the full text is committed to transcript
// state before Reveal is called, so state assertions never wait on it.
type Revealer struct {
	interval time.Duration
	stride   int

	mu     sync.Mutex
	onTick func(messageID, visible string)
	cancel context.CancelFunc
}

// NewRevealer builds a revealer. Zero interval/stride take the defaults.
func NewRevealer(interval time.Duration, stride int, onTick func(messageID, visible string)) *Revealer {
	if interval <= 0 {
		interval = defaultRevealInterval
	}
	if stride <= 0 {
		stride = defaultRevealStride
	}
	return &Revealer{interval: interval, stride: stride, onTick: onTick}
}

// SetOnTick replaces the pacing observer.
func (r *Revealer) SetOnTick(fn func(messageID, visible string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onTick = fn
}

// Reveal starts disclosing text for a message, cancelling any reveal still
// in progress. The final tick always delivers the complete text.
func (r *Revealer) Reveal(messageID, text string) {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.mu.Unlock()

	go r.run(ctx, messageID, []rune(text))
}

// Cancel stops any in-progress reveal.
func (r *Revealer) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
}

func (r *Revealer) run(ctx context.Context, messageID string, text []rune) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	shown := 0
	for shown < len(text) {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			shown += r.stride
			if shown > len(text) {
				shown = len(text)
			}
			r.mu.Lock()
			tick := r.onTick
			r.mu.Unlock()
			if tick != nil {
				tick(messageID, string(text[:shown]))
			}
		}
	}
}
