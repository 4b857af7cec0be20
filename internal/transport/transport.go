package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var (
	ErrNotPrimary  = errors.New("session is no longer primary")
	ErrClosed      = errors.New("no live connection")
	ErrMaxAttempts = errors.New("connection attempts exhausted")
	ErrQueueFull   = errors.New("send queue full")
)

const sendQueueSize = 32

type Options struct {
	URL              string
	RetryInterval    time.Duration
	MaxAttempts      int
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	Clock            clock.Clock

	// OnAttempt is called after every handshake with its result.
	OnAttempt func(err error)
}

// Transport owns at most one live relay connection. Every successful Connect installs a
// fresh handle and discards the previous one.
type Transport struct {
	opts   Options
	log    zerolog.Logger
	dialer *websocket.Dialer

	mu        sync.Mutex
	conn      *Conn
	onMessage func([]byte)
	attempts  int
}

func New(opts Options, log zerolog.Logger) *Transport {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Transport{
		opts: opts,
		log:  log,
		dialer: &websocket.Dialer{
			HandshakeTimeout: opts.HandshakeTimeout,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
	}
}

// OnMessage sets the single message-received callback. Frames are delivered in arrival
// order from one goroutine per connection.
func (t *Transport) OnMessage(fn func([]byte)) {
	t.mu.Lock()
	t.onMessage = fn
	t.mu.Unlock()
}

// Connect dials until a handshake succeeds. Between failures it waits the fixed retry
// interval. It gives up when ctx is done, when isPrimary reports false, or after
// MaxAttempts failures if that is positive.
func (t *Transport) Connect(ctx context.Context, isPrimary func() bool) (*Conn, error) {
	attempt := 0
	for {
		if isPrimary != nil && !isPrimary() {
			return nil, ErrNotPrimary
		}
		attempt++
		t.log.Info().Int("attempt", attempt).Str("url", t.opts.URL).Msg("connecting to relay")

		ws, _, err := t.dialer.DialContext(ctx, t.opts.URL, nil)
		t.mu.Lock()
		t.attempts++
		t.mu.Unlock()
		if t.opts.OnAttempt != nil {
			t.opts.OnAttempt(err)
		}
		if err == nil {
			conn := t.install(ws)
			t.log.Info().Uint64("handle", conn.id).Msg("relay connection established")
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		t.log.Warn().Err(err).Int("attempt", attempt).Msg("relay handshake failed")
		if t.opts.MaxAttempts > 0 && attempt >= t.opts.MaxAttempts {
			return nil, fmt.Errorf("%w after %d attempts", ErrMaxAttempts, attempt)
		}

		timer := t.opts.Clock.Timer(t.opts.RetryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// Attempts counts every handshake tried since the transport was created.
func (t *Transport) Attempts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts
}

var handleSeq atomic.Uint64

func (t *Transport) install(ws *websocket.Conn) *Conn {
	conn := &Conn{
		id:           handleSeq.Add(1),
		ws:           ws,
		send:         make(chan []byte, sendQueueSize),
		done:         make(chan struct{}),
		writeTimeout: t.opts.WriteTimeout,
		log:          t.log,
	}
	t.mu.Lock()
	old := t.conn
	t.conn = conn
	onMessage := t.onMessage
	t.mu.Unlock()

	if old != nil {
		old.Close()
	}
	go conn.writeLoop()
	go conn.readLoop(onMessage)
	return conn
}

// Send queues one text frame on the live connection.
func (t *Transport) Send(data []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return ErrClosed
	}
	return conn.Send(data)
}

// Current returns the live handle, or nil.
func (t *Transport) Current() *Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn
}

// Drop discards the live handle. The relay is not expected to answer with a close frame.
func (t *Transport) Drop() {
	t.mu.Lock()
	old := t.conn
	t.conn = nil
	t.mu.Unlock()
	if old != nil {
		old.Close()
	}
}

// Conn is one relay connection handle.
type Conn struct {
	id           uint64
	ws           *websocket.Conn
	send         chan []byte
	done         chan struct{}
	once         sync.Once
	writeTimeout time.Duration
	log          zerolog.Logger
}

func (c *Conn) ID() uint64 { return c.id }

// Done is closed once the handle is discarded or its socket fails.
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) Send(data []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrQueueFull
	}
}

func (c *Conn) Close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

func (c *Conn) writeLoop() {
	defer c.Close()
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if c.writeTimeout > 0 {
				_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Debug().Err(err).Uint64("handle", c.id).Msg("relay write failed")
				return
			}
		}
	}
}

func (c *Conn) readLoop(onMessage func([]byte)) {
	defer c.Close()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.log.Debug().Err(err).Uint64("handle", c.id).Msg("relay read ended")
			return
		}
		if !c.deliver(data, onMessage) {
			return
		}
	}
}

// deliver hands one frame to onMessage unless the handle was discarded meanwhile.
func (c *Conn) deliver(data []byte, onMessage func([]byte)) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	if onMessage != nil {
		onMessage(data)
	}
	return true
}
