package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// ErrNotOpen is returned by Send when the socket is not open. Nothing is
// queued.
var ErrNotOpen = errors.New("live: channel not open")

// State is the connection state of a Channel.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
	StateError
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Conn is the subset of *websocket.Conn the channel uses.
type Conn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
	CloseNow() error
}

// DialFunc opens a connection to url.
type DialFunc func(ctx context.Context, url string) (Conn, error)

// Dial is the default DialFunc, backed by websocket.Dial.
func Dial(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Options configures a Channel. Zero values take the defaults.
type Options struct {
	Dial        DialFunc
	Scheduler   Scheduler
	Logger      *zap.Logger
	MaxAttempts int           // default 5
	BaseDelay   time.Duration // default 1s
	MaxDelay    time.Duration // default 30s

	// OnState is called after every state change, outside the channel lock.
	OnState func(State)
}

// Channel is a self-healing websocket client. After an abnormal close it
// reconnects up to MaxAttempts times with exponential backoff; the attempt
// counter resets whenever a connection opens. A normal close (1000) ends it.
type Channel struct {
	url   string
	opts  Options
	log   *zap.Logger
	sched Scheduler

	mu       sync.Mutex
	state    State
	attempts int
	conn     Conn
	timer    Timer
	last     *Message
	started  bool
	closing  bool
	subs     map[int]func(Message)
	nextSub  int
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	done     chan struct{}
	doneOnce sync.Once
}

// New creates a Channel for url. It does not connect until Connect.
func New(url string, opts Options) *Channel {
	if opts.Dial == nil {
		opts.Dial = Dial
	}
	if opts.Scheduler == nil {
		opts.Scheduler = WallClock
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 30 * time.Second
	}
	return &Channel{
		url:   url,
		opts:  opts,
		log:   opts.Logger.With(zap.String("url", url)),
		sched: opts.Scheduler,
		state: StateClosed,
		subs:  make(map[int]func(Message)),
		done:  make(chan struct{}),
	}
}

// Connect starts the connection loop. It returns immediately; progress is
// visible through State and OnState. Calling it again is a no-op.
func (c *Channel) Connect(ctx context.Context) {
	c.mu.Lock()
	if c.started || c.closing {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	c.attempt()
}

// attempt runs one connection in its own goroutine unless the channel is
// shutting down.
func (c *Channel) attempt() {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.wg.Add(1)
	c.mu.Unlock()

	go c.session()
}

func (c *Channel) session() {
	defer c.wg.Done()
	ctx := c.ctx

	c.setState(StateConnecting)
	conn, err := c.opts.Dial(ctx, c.url)
	if err != nil {
		if ctx.Err() != nil {
			c.setState(StateClosed)
			c.finish()
			return
		}
		c.log.Warn("live: dial failed", zap.Error(err))
		c.setState(StateError)
		c.closed(websocket.StatusAbnormalClosure)
		return
	}

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		conn.CloseNow()
		return
	}
	c.conn = conn
	c.attempts = 0
	c.mu.Unlock()
	c.setState(StateOpen)
	c.log.Info("live: connected")

	code := c.read(ctx, conn)

	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()
	c.closed(code)
}

// read consumes frames until the connection ends and returns its close code.
// A failure without a close frame is reported as 1006.
func (c *Channel) read(ctx context.Context, conn Conn) websocket.StatusCode {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			code := websocket.CloseStatus(err)
			if code != -1 {
				return code
			}
			if ctx.Err() == nil && !c.isClosing() {
				c.log.Warn("live: transport error", zap.Error(err))
				c.setState(StateError)
			}
			conn.CloseNow()
			return websocket.StatusAbnormalClosure
		}
		if typ != websocket.MessageText {
			c.log.Warn("live: dropping binary frame", zap.Int("bytes", len(data)))
			continue
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn("live: dropping malformed frame", zap.Error(err))
			continue
		}
		c.deliver(msg)
	}
}

func (c *Channel) deliver(msg Message) {
	c.mu.Lock()
	c.last = &msg
	subs := make([]func(Message), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(msg)
	}
}

// closed applies the reconnect policy after a connection ends with code.
func (c *Channel) closed(code websocket.StatusCode) {
	c.setState(StateClosed)

	c.mu.Lock()
	if c.closing || c.ctx.Err() != nil {
		c.mu.Unlock()
		c.finish()
		return
	}
	if code == websocket.StatusNormalClosure {
		c.mu.Unlock()
		c.log.Info("live: closed normally")
		c.finish()
		return
	}
	if c.attempts >= c.opts.MaxAttempts {
		attempts := c.attempts
		c.mu.Unlock()
		c.log.Warn("live: giving up", zap.Int("attempts", attempts), zap.Int("code", int(code)))
		c.finish()
		return
	}
	c.attempts++
	delay := Backoff(c.attempts, c.opts.BaseDelay, c.opts.MaxDelay)
	c.timer = c.sched.AfterFunc(delay, c.attempt)
	attempts := c.attempts
	c.mu.Unlock()

	c.log.Info("live: reconnect scheduled",
		zap.Int("code", int(code)),
		zap.Int("attempt", attempts),
		zap.Duration("delay", delay),
	)
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	c.state = s
	hook := c.opts.OnState
	c.mu.Unlock()

	if hook != nil {
		hook(s)
	}
}

func (c *Channel) isClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

func (c *Channel) finish() {
	c.doneOnce.Do(func() { close(c.done) })
}

// Send writes msg as a JSON text frame. It fails with ErrNotOpen unless the
// channel is open.
func (c *Channel) Send(ctx context.Context, msg Message) error {
	c.mu.Lock()
	conn := c.conn
	open := c.state == StateOpen
	c.mu.Unlock()

	if !open || conn == nil {
		return ErrNotOpen
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("live: encode message: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("live: send %s: %w", msg.Type, err)
	}
	return nil
}

// Subscribe registers fn for every decoded inbound message. fn runs on the
// read goroutine and must not block. The returned func unsubscribes.
func (c *Channel) Subscribe(fn func(Message)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}
}

// Close cancels any pending reconnect, closes the socket with 1000 and waits
// for the connection goroutine to exit.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		<-c.done
		return nil
	}
	c.closing = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	conn := c.conn
	cancel := c.cancel
	c.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close(websocket.StatusNormalClosure, "client closing")
	}
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()

	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()
	c.finish()

	if err != nil && websocket.CloseStatus(err) == -1 {
		c.log.Debug("live: close", zap.Error(err))
	}
	return nil
}

// Done is closed once the channel will not reconnect again.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastMessage returns the most recent well-formed inbound message.
func (c *Channel) LastMessage() (Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return Message{}, false
	}
	return *c.last, true
}

// Attempts returns the number of consecutive reconnects since the last open.
func (c *Channel) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}
