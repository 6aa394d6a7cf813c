// Package transport owns the single logical connection to the agent backend:
// dialing, reconnection with capped exponential backoff, half-open detection
// via a silence-based health check, and the outbound send path.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/gosuda/hubstream/internal/auth"
	"github.com/gosuda/hubstream/internal/protocol"
)

// State is the connection lifecycle state. The transport is the only writer;
// consumers observe transitions through the OnState callback.
type State string

const (
	StateClosed       State = "closed"
	StateConnecting   State = "connecting"
	StateOpen         State = "open"
	StateReconnecting State = "reconnecting"
)

// ErrNotOpen is returned by Send when no connection is open.
var ErrNotOpen = errors.New("transport: connection not open")

// ErrMissingConversation is returned by Connect when no conversation id is given.
var ErrMissingConversation = errors.New("transport: conversation id required")

// ErrAuthentication marks a fatal credential rejection. Never retried.
var ErrAuthentication = errors.New("transport: authentication rejected")

// ErrAttemptsExhausted marks the terminal give-up state after the reconnect
// attempt cap. A manual Reconnect clears it.
var ErrAttemptsExhausted = errors.New("transport: reconnect attempts exhausted")

const (
	defaultBaseDelay      = 2 * time.Second
	defaultMaxDelay       = 30 * time.Second
	defaultMaxAttempts    = 5
	defaultHealthInterval = 10 * time.Second
	defaultSilenceLimit   = 30 * time.Second
	manualReconnectDelay  = time.Second
	defaultSendRate       = rate.Limit(20)
	defaultSendBurst      = 5
)

// Options configures a Client. Zero values take the defaults above.
type Options struct {
	URL            string // websocket endpoint, e.g. wss://host/ws
	Tokens         auth.TokenSource
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	MaxAttempts    int
	HealthInterval time.Duration
	SilenceLimit   time.Duration
	SendRate       rate.Limit
	SendBurst      int

	// Dial overrides the websocket dialer. Tests inject fakes here.
	Dial DialFunc
}

// Client is the reconnecting websocket client. Callbacks must be registered
// before Connect and are invoked from the client's own goroutines.
type Client struct {
	opts Options

	onFrame  func([]byte)
	onState  func(State)
	onGiveUp func(error)

	mu             sync.Mutex
	state          State
	conn           Conn
	conversationID string
	suppress       bool // set by Disconnect; checked again at timer fire time
	attempts       int
	backoff        *backoff.ExponentialBackOff
	lastFrame      time.Time
	reconnectTimer *time.Timer
	sendLimiter    *rate.Limiter
	healthOnce     sync.Once

	runCtx    context.Context
	runCancel context.CancelFunc
}

// New creates a Client. The options are validated lazily: a missing URL only
// fails at dial time, mirroring how the backend address may arrive late.
func New(opts Options) *Client {
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = defaultBaseDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = defaultMaxDelay
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = defaultHealthInterval
	}
	if opts.SilenceLimit <= 0 {
		opts.SilenceLimit = defaultSilenceLimit
	}
	if opts.SendRate <= 0 {
		opts.SendRate = defaultSendRate
	}
	if opts.SendBurst <= 0 {
		opts.SendBurst = defaultSendBurst
	}
	if opts.Dial == nil {
		opts.Dial = dialWebsocket
	}

	bo := NewBackoff(opts.BaseDelay, opts.MaxDelay)

	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		opts:        opts,
		state:       StateClosed,
		backoff:     bo,
		sendLimiter: rate.NewLimiter(opts.SendRate, opts.SendBurst),
		runCtx:      ctx,
		runCancel:   cancel,
	}
}

// OnFrame registers the inbound frame handler.
func (c *Client) OnFrame(fn func([]byte)) { c.onFrame = fn }

// OnState registers the state-transition observer.
func (c *Client) OnState(fn func(State)) { c.onState = fn }

// OnGiveUp registers the terminal-failure observer. The error is
// ErrAuthentication for credential rejections and ErrAttemptsExhausted when
// the retry cap is reached; both are delivered exactly once per episode.
func (c *Client) OnGiveUp(fn func(error)) { c.onGiveUp = fn }

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts returns the current reconnect attempt counter.
func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Connect opens the connection for a conversation. Idempotent: a no-op when
// already Open or Connecting. An empty conversation id is an error and the
// state stays Closed.
func (c *Client) Connect(conversationID string) error {
	c.mu.Lock()
	if c.state == StateOpen || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	if conversationID == "" {
		c.mu.Unlock()
		return fmt.Errorf("transport.Client.Connect: %w", ErrMissingConversation)
	}

	c.conversationID = conversationID
	c.suppress = false
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	c.healthOnce.Do(func() { go c.healthLoop() })

	go c.dial()
	return nil
}

// Disconnect closes the connection deliberately: no reconnection is
// scheduled, any in-flight scheduled reconnect is prevented from dialing,
// and the state becomes Closed.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.suppress = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	conn := c.conn
	c.conn = nil
	c.setStateLocked(StateClosed)
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close(CloseNormal, "client disconnect")
	}
}

// Reconnect forces a fresh connection: the attempt counter and backoff reset,
// the suppress flag clears, and a dial fires after a short fixed delay so
// rapid manual retries cannot thrash the backend.
func (c *Client) Reconnect() {
	c.mu.Lock()
	c.suppress = false
	c.attempts = 0
	c.backoff.Reset()
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}
	conn := c.conn
	c.conn = nil
	c.setStateLocked(StateConnecting)
	c.reconnectTimer = time.AfterFunc(manualReconnectDelay, c.timedDial)
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close(CloseNormal, "manual reconnect")
	}
}

// Send writes an envelope to the open connection. Fails with ErrNotOpen when
// no connection is open; outbound writes are paced by a shared limiter.
func (c *Client) Send(ctx context.Context, env protocol.Envelope) error {
	c.mu.Lock()
	conn := c.conn
	open := c.state == StateOpen
	c.mu.Unlock()

	if !open || conn == nil {
		return fmt.Errorf("transport.Client.Send: %w", ErrNotOpen)
	}

	payload, err := env.Encode()
	if err != nil {
		return fmt.Errorf("transport.Client.Send: %w", err)
	}

	if err := c.sendLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("transport.Client.Send: %w", err)
	}

	if err := conn.Write(ctx, payload); err != nil {
		return fmt.Errorf("transport.Client.Send: %w", err)
	}
	return nil
}

// Close tears the client down: all timers stop and no callback fires after
// it returns the connection closed.
func (c *Client) Close() {
	c.Disconnect()
	c.runCancel()
}

// NewBackoff builds the reconnect delay schedule: base doubling per attempt,
// capped at maxDelay, no jitter, never giving up on elapsed time (the attempt
// cap is enforced by the client, not the schedule).
func NewBackoff(base, maxDelay time.Duration) *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = base
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = maxDelay
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

// bearerHeader resolves the current credential into an Authorization header.
func (c *Client) bearerHeader() (http.Header, error) {
	header := http.Header{}
	if c.opts.Tokens == nil {
		return header, nil
	}
	tok, err := c.opts.Tokens.Token()
	if err != nil {
		return nil, err
	}
	header.Set("Authorization", "Bearer "+tok.AccessToken)
	return header, nil
}

// dial performs one connection attempt and routes the outcome.
func (c *Client) dial() {
	c.mu.Lock()
	if c.suppress {
		c.setStateLocked(StateClosed)
		c.mu.Unlock()
		return
	}
	conversationID := c.conversationID
	c.mu.Unlock()

	target, err := c.endpoint(conversationID)
	if err != nil {
		c.fail(err)
		return
	}

	header, err := c.bearerHeader()
	if err != nil {
		// Expired or missing credential: fatal, never retried.
		c.fatal(fmt.Errorf("%w: %w", ErrAuthentication, err))
		return
	}

	ctx, cancel := context.WithTimeout(c.runCtx, 15*time.Second)
	conn, dialErr := c.opts.Dial(ctx, target, header)
	cancel()

	if dialErr != nil {
		if errors.Is(dialErr, ErrAuthentication) {
			c.fatal(dialErr)
			return
		}
		c.fail(dialErr)
		return
	}

	c.mu.Lock()
	if c.suppress {
		c.mu.Unlock()
		_ = conn.Close(CloseNormal, "client disconnect")
		return
	}
	c.conn = conn
	c.attempts = 0
	c.backoff.Reset()
	c.lastFrame = time.Now()
	c.setStateLocked(StateOpen)
	c.mu.Unlock()

	log.Info().Str("conversation_id", conversationID).Msg("transport: connected")

	go c.readLoop(conn)
}

// readLoop drains inbound frames until the connection dies. Frames are
// delivered strictly in arrival order from this single goroutine.
func (c *Client) readLoop(conn Conn) {
	for {
		frame, err := conn.Read(c.runCtx)
		if err != nil {
			c.mu.Lock()
			current := c.conn == conn
			deliberate := c.suppress
			c.mu.Unlock()

			if !current || deliberate {
				// Replaced by a newer connection or closed on purpose.
				return
			}

			log.Debug().Err(err).Msg("transport: read failed, entering reconnect")
			c.fail(err)
			return
		}

		c.mu.Lock()
		c.lastFrame = time.Now()
		fn := c.onFrame
		c.mu.Unlock()

		if fn != nil {
			fn(frame)
		}
	}
}

// healthLoop proactively detects half-open connections: some platforms never
// fire a close event when the peer silently vanishes, so prolonged inbound
// silence while Open is treated as an abnormal close.
func (c *Client) healthLoop() {
	ticker := time.NewTicker(c.opts.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.runCtx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			stale := c.state == StateOpen && time.Since(c.lastFrame) > c.opts.SilenceLimit
			conn := c.conn
			if stale {
				c.conn = nil
			}
			c.mu.Unlock()

			if stale {
				log.Warn().Dur("silence", c.opts.SilenceLimit).Msg("transport: no frames within limit, assuming dead connection")
				if conn != nil {
					_ = conn.Close(CloseAbnormal, "health check timeout")
				}
				c.fail(errors.New("transport: health check timeout"))
			}
		}
	}
}

// fail routes a connection failure into the backoff schedule, or the
// terminal give-up state once the attempt cap is reached.
func (c *Client) fail(cause error) {
	c.mu.Lock()

	if c.suppress {
		c.setStateLocked(StateClosed)
		c.mu.Unlock()
		return
	}

	c.conn = nil

	if c.attempts >= c.opts.MaxAttempts {
		c.setStateLocked(StateClosed)
		giveUp := c.onGiveUp
		c.mu.Unlock()

		log.Error().Err(cause).Int("attempts", c.opts.MaxAttempts).Msg("transport: reconnect attempts exhausted")
		if giveUp != nil {
			giveUp(fmt.Errorf("%w: %w", ErrAttemptsExhausted, cause))
		}
		return
	}

	c.attempts++
	delay := c.backoff.NextBackOff()
	c.setStateLocked(StateReconnecting)
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}
	c.reconnectTimer = time.AfterFunc(delay, c.timedDial)
	attempt := c.attempts
	c.mu.Unlock()

	log.Warn().Err(cause).Int("attempt", attempt).Dur("delay", delay).Msg("transport: scheduling reconnect")
}

// timedDial runs when a reconnect timer fires. The suppress flag is
// re-checked here: timer cancellation alone is not trusted to win the race
// with Disconnect.
func (c *Client) timedDial() {
	c.mu.Lock()
	if c.suppress {
		c.setStateLocked(StateClosed)
		c.mu.Unlock()
		return
	}
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	c.dial()
}

// fatal reports a non-retryable failure (authentication) and closes.
func (c *Client) fatal(cause error) {
	c.mu.Lock()
	c.suppress = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	conn := c.conn
	c.conn = nil
	c.setStateLocked(StateClosed)
	giveUp := c.onGiveUp
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close(CloseAbnormal, "authentication failed")
	}

	log.Error().Err(cause).Msg("transport: fatal connection failure")
	if giveUp != nil {
		giveUp(cause)
	}
}

// endpoint builds the dial URL with the conversation id attached.
func (c *Client) endpoint(conversationID string) (string, error) {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return "", fmt.Errorf("transport.Client: parse url: %w", err)
	}
	q := u.Query()
	q.Set("conversation_id", conversationID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// setStateLocked transitions the state and notifies the observer.
// Caller must hold c.mu; the callback runs on its own goroutine so observers
// cannot deadlock the transport.
func (c *Client) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	if c.onState != nil {
		fn := c.onState
		go fn(s)
	}
}
