package relay

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"taskdeck/client/internal/logging"
	"taskdeck/client/internal/protocol"
)

type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateError        State = "error"
)

const (
	defaultReconnectDelay = 3 * time.Second
	defaultMaxAttempts    = 10
)

type Socket interface {
	ReadText(ctx context.Context) (string, error)
	WriteText(ctx context.Context, text string) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Socket, error)
}

// Channel owns one logical duplex connection per task id. It redials on
// close with a fixed delay until the attempt cap is reached; the cap is a
// terminal state that only an explicit Connect call leaves.
type Channel struct {
	relayURL string
	taskID   string
	dialer   Dialer
	logger   *slog.Logger

	onEnvelope func(protocol.Envelope)
	onState    func(State)

	mu          sync.Mutex
	state       State
	attempts    int
	sock        Socket
	gen         int
	retryTimer  *time.Timer
	runCtx      context.Context
	delay       time.Duration
	maxAttempts int

	// stateQueue holds pending observer notifications; a single drainer
	// goroutine delivers them in transition order.
	stateQueue []State
	draining   bool
}

type Option func(*Channel)

// WithReconnectPolicy overrides the fixed retry delay and the attempt cap.
func WithReconnectPolicy(delay time.Duration, maxAttempts int) Option {
	return func(c *Channel) {
		if delay > 0 {
			c.delay = delay
		}
		if maxAttempts > 0 {
			c.maxAttempts = maxAttempts
		}
	}
}

func NewChannel(relayURL, taskID string, dialer Dialer, logger *slog.Logger, opts ...Option) *Channel {
	if logger == nil {
		logger = logging.Nop()
	}
	c := &Channel{
		relayURL:    strings.TrimRight(strings.TrimSpace(relayURL), "/"),
		taskID:      strings.TrimSpace(taskID),
		dialer:      dialer,
		logger:      logger.With("module", "relay_channel"),
		state:       StateDisconnected,
		delay:       defaultReconnectDelay,
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnEnvelope registers the inbound frame consumer. Frames are delivered in
// arrival order from a single read loop.
func (c *Channel) OnEnvelope(fn func(protocol.Envelope)) {
	c.mu.Lock()
	c.onEnvelope = fn
	c.mu.Unlock()
}

// OnState registers a state change observer.
func (c *Channel) OnState(fn func(State)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Channel) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Connect dials <relayURL>/ws/<taskID>. Calling it with an empty task id is
// a no-op. A manual Connect always dials, even after the attempt cap.
func (c *Channel) Connect(ctx context.Context) {
	if c.taskID == "" {
		return
	}

	c.mu.Lock()
	c.cancelRetryLocked()
	if c.sock != nil {
		_ = c.sock.Close()
		c.sock = nil
	}
	c.gen++
	gen := c.gen
	c.runCtx = ctx
	c.setStateLocked(StateConnecting)
	dialer := c.dialer
	url := c.relayURL + "/ws/" + c.taskID
	c.mu.Unlock()

	sock, err := dialer.Dial(ctx, url)
	if err != nil {
		c.logger.Warn("dial failed", "url", url, "err", err)
		c.mu.Lock()
		if gen != c.gen {
			c.mu.Unlock()
			return
		}
		c.setStateLocked(StateError)
		// A failed dial never produces a close event, so the retry is
		// scheduled here instead of a close handler.
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		_ = sock.Close()
		return
	}
	c.sock = sock
	c.attempts = 0
	c.setStateLocked(StateConnected)
	c.mu.Unlock()

	c.logger.Info("connected", "url", url)
	go c.readLoop(ctx, sock, gen)
}

// Send completes the envelope (sender, task id, default type) and transmits
// it. It reports false unless the channel is currently connected.
func (c *Channel) Send(env protocol.Envelope) bool {
	c.mu.Lock()
	if c.state != StateConnected || c.sock == nil {
		c.mu.Unlock()
		return false
	}
	sock := c.sock
	ctx := c.runCtx
	c.mu.Unlock()

	if env.Sender == "" {
		env.Sender = protocol.SenderWebUI
	}
	env.TaskID = c.taskID
	if env.Type == "" {
		env.Type = protocol.TypeCommand
	}

	raw, err := env.Encode()
	if err != nil {
		c.logger.Error("encode outbound envelope failed", "type", env.Type, "err", err)
		return false
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := sock.WriteText(ctx, string(raw)); err != nil {
		c.logger.Warn("send failed", "type", env.Type, "err", err)
		return false
	}
	return true
}

// Disconnect tears the connection down and cancels any pending retry. It is
// idempotent and safe to call from teardown paths.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelRetryLocked()
	c.gen++
	if c.sock != nil {
		_ = c.sock.Close()
		c.sock = nil
	}
	c.setStateLocked(StateDisconnected)
}

func (c *Channel) readLoop(ctx context.Context, sock Socket, gen int) {
	for {
		text, err := sock.ReadText(ctx)
		if err != nil {
			c.handleClose(gen)
			return
		}
		env, perr := protocol.ParseEnvelope([]byte(text))
		if perr != nil {
			// Malformed frames are dropped, never fatal.
			c.logger.Warn("dropping malformed frame", "err", perr)
			continue
		}
		c.mu.Lock()
		stale := gen != c.gen
		handler := c.onEnvelope
		c.mu.Unlock()
		if stale {
			return
		}
		if handler != nil {
			handler(env)
		}
	}
}

func (c *Channel) handleClose(gen int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		// Disconnect or a newer Connect already superseded this socket.
		return
	}
	c.sock = nil
	c.setStateLocked(StateDisconnected)
	c.scheduleReconnectLocked()
}

func (c *Channel) scheduleReconnectLocked() {
	if c.attempts >= c.maxAttempts {
		c.logger.Warn("reconnect attempts exhausted", "attempts", c.attempts)
		return
	}
	c.attempts++
	attempt := c.attempts
	ctx := c.runCtx
	c.logger.Info("scheduling reconnect", "attempt", attempt, "delay", c.delay)
	c.retryTimer = time.AfterFunc(c.delay, func() {
		if ctx == nil {
			ctx = context.Background()
		}
		if ctx.Err() != nil {
			return
		}
		c.Connect(ctx)
	})
}

func (c *Channel) cancelRetryLocked() {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
}

func (c *Channel) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	if c.onState == nil {
		return
	}
	c.stateQueue = append(c.stateQueue, s)
	if c.draining {
		return
	}
	c.draining = true
	go c.drainStateQueue()
}

// drainStateQueue delivers queued notifications one at a time so observers
// always see transitions in the order they happened. The observer runs
// without the channel lock and may call back into Send or Connect.
func (c *Channel) drainStateQueue() {
	for {
		c.mu.Lock()
		if len(c.stateQueue) == 0 {
			c.draining = false
			c.mu.Unlock()
			return
		}
		s := c.stateQueue[0]
		c.stateQueue = c.stateQueue[1:]
		fn := c.onState
		c.mu.Unlock()
		if fn != nil {
			fn(s)
		}
	}
}
