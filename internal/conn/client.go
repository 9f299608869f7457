package conn

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gorilla/websocket"
	"github.com/viniciusgb/papo/internal/bus"
	"github.com/viniciusgb/papo/internal/creds"
	"github.com/viniciusgb/papo/internal/protocol"
)

var errAuthSend = errors.New("auth frame send failed")

// Options configures the client.
type Options struct {
	URL         string
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// Client owns the socket lifecycle. Inbound frames are published on the bus
// as conn.frame events carrying the raw bytes; duplicates are possible and
// downstream handlers must tolerate them.
type Client struct {
	opts    Options
	creds   *creds.Store
	bus     *bus.Bus
	machine *Machine
	dialer  Dialer
	log     *zap.Logger

	mu       sync.Mutex
	sock     Socket
	manual   bool
	attempts int
	stop     chan struct{}
}

// New creates a client. Pass a *WebSocketDialer outside tests.
func New(opts Options, cs *creds.Store, b *bus.Bus, d Dialer, log *zap.Logger) *Client {
	c := &Client{
		opts:    opts,
		creds:   cs,
		bus:     b,
		machine: NewMachine(b),
		dialer:  d,
		log:     log.Named("conn"),
		stop:    make(chan struct{}),
	}
	return c
}

// State returns the current connection state.
func (c *Client) State() State {
	return c.machine.Current()
}

func (c *Client) lock()   { c.mu.Lock() }
func (c *Client) unlock() { c.mu.Unlock() }

// Connect starts a connection attempt. No-op while connecting or connected.
// Resets the retry counter, so it also revives a Failed client.
func (c *Client) Connect() {
	c.lock()
	if s := c.machine.Current(); s == Connecting || s == Connected {
		c.unlock()
		c.log.Debug("connect ignored", zap.String("state", string(s)))
		return
	}
	c.manual = false
	c.attempts = 0
	c.stop = make(chan struct{})
	_ = c.machine.Transition(Connecting)
	c.unlock()

	go c.performConnect()
}

// Disconnect closes the socket gracefully and suppresses all pending
// reconnect attempts. Idempotent.
func (c *Client) Disconnect() {
	c.lock()
	defer c.unlock()

	c.log.Info("manual disconnect requested")
	c.manual = true
	c.attempts = 0
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
	if c.sock != nil {
		_ = c.sock.Close(websocket.CloseNormalClosure, "client disconnecting")
		c.sock = nil
	}
	_ = c.machine.Transition(Disconnected)
}

// Send delivers a payload if connected. Returns whether the transport
// accepted it; there is no queueing.
func (c *Client) Send(payload []byte) bool {
	c.lock()
	sock := c.sock
	state := c.machine.Current()
	c.unlock()

	if state != Connected || sock == nil {
		c.log.Warn("send rejected, not connected", zap.String("state", string(state)))
		return false
	}
	if err := sock.WriteMessage(payload); err != nil {
		c.log.Error("send failed", zap.Error(err))
		return false
	}
	return true
}

func (c *Client) performConnect() {
	token := c.creds.AuthToken()
	if token == "" {
		c.log.Warn("connection blocked, no auth token")
		_ = c.machine.Transition(Failed)
		return
	}

	sock, err := c.dialer.Dial(context.Background(), c.opts.URL)
	if err != nil {
		c.log.Warn("dial failed", zap.Error(err))
		c.handleDisconnect(err)
		return
	}

	c.lock()
	if c.manual {
		c.unlock()
		_ = sock.Close(websocket.CloseNormalClosure, "client disconnecting")
		return
	}
	c.sock = sock
	c.attempts = 0
	_ = c.machine.Transition(Connected)
	c.unlock()

	c.log.Info("connected", zap.String("url", c.opts.URL))

	if !c.Send(protocol.Auth(token)) {
		// Transport error, not a user action: the retry policy applies.
		c.log.Error("failed to send auth frame after open")
		_ = sock.Close(websocket.CloseAbnormalClosure, "auth send failed")
		c.handleDisconnect(errAuthSend)
		return
	}

	go c.readLoop(sock)
}

func (c *Client) readLoop(sock Socket) {
	for {
		payload, err := sock.ReadMessage()
		if err != nil {
			c.lock()
			stale := c.sock != sock
			c.unlock()
			if stale {
				return
			}
			c.log.Warn("read error", zap.Error(err))
			c.handleDisconnect(err)
			return
		}
		c.bus.Publish(bus.Event{
			Kind:      "conn.frame",
			Timestamp: time.Now(),
			Payload:   payload,
		})
	}
}

func (c *Client) handleDisconnect(err error) {
	c.lock()
	if c.manual || c.machine.Current() == Disconnected || c.machine.Current() == Failed {
		c.sock = nil
		c.unlock()
		return
	}
	c.sock = nil

	if c.attempts >= c.opts.MaxAttempts {
		c.log.Error("max reconnect attempts reached, giving up",
			zap.Int("attempts", c.attempts), zap.Error(err))
		_ = c.machine.Transition(Failed)
		c.unlock()
		return
	}
	c.attempts++
	attempt := c.attempts
	delay := c.delayFor(attempt)
	stop := c.stop
	_ = c.machine.Transition(Connecting)
	c.unlock()

	c.log.Info("scheduling reconnect",
		zap.Int("attempt", attempt),
		zap.Int("max", c.opts.MaxAttempts),
		zap.Duration("delay", delay))

	go func() {
		select {
		case <-time.After(delay):
		case <-stop:
			return
		}
		c.lock()
		abort := c.manual || c.machine.Current() == Connected || c.machine.Current() == Failed
		c.unlock()
		if abort {
			c.log.Debug("scheduled reconnect aborted", zap.Int("attempt", attempt))
			return
		}
		c.performConnect()
	}()
}

// delayFor computes the backoff for the given 1-based attempt:
// base * 2^(attempt-1), capped at the maximum delay.
func (c *Client) delayFor(attempt int) time.Duration {
	d := c.opts.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= c.opts.MaxDelay {
			return c.opts.MaxDelay
		}
	}
	if d > c.opts.MaxDelay {
		return c.opts.MaxDelay
	}
	return d
}
