package conn

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/viniciusgb/papo/internal/bus"
	"github.com/viniciusgb/papo/internal/creds"
)

type fakeSocket struct {
	inbound  chan []byte
	outbound chan []byte
	closed   chan struct{}
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		inbound:  make(chan []byte, 16),
		outbound: make(chan []byte, 16),
		closed:   make(chan struct{}),
	}
}

func (s *fakeSocket) ReadMessage() ([]byte, error) {
	select {
	case msg, ok := <-s.inbound:
		if !ok {
			return nil, errors.New("connection reset")
		}
		return msg, nil
	case <-s.closed:
		return nil, errors.New("socket closed")
	}
}

func (s *fakeSocket) WriteMessage(payload []byte) error {
	select {
	case s.outbound <- payload:
		return nil
	case <-s.closed:
		return errors.New("socket closed")
	}
}

func (s *fakeSocket) Close(code int, reason string) error {
	select {
	case <-s.closed:
	default:
		close(s.closed)
	}
	return nil
}

type fakeDialer struct {
	sockets chan *fakeSocket
	fail    bool
	dials   chan struct{}
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{sockets: make(chan *fakeSocket, 16), dials: make(chan struct{}, 64)}
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Socket, error) {
	d.dials <- struct{}{}
	if d.fail {
		return nil, errors.New("dial refused")
	}
	s := newFakeSocket()
	d.sockets <- s
	return s, nil
}

func testCreds(t *testing.T, token string) *creds.Store {
	t.Helper()
	cs, err := creds.Open(filepath.Join(t.TempDir(), "creds.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		if err := cs.SetTokens(token, "refresh"); err != nil {
			t.Fatal(err)
		}
	}
	return cs
}

func testClient(t *testing.T, token string, d Dialer) (*Client, *bus.Bus) {
	t.Helper()
	b := bus.New()
	c := New(Options{
		URL:         "wss://example.test/ws",
		BaseDelay:   time.Millisecond,
		MaxDelay:    8 * time.Millisecond,
		MaxAttempts: 5,
	}, testCreds(t, token), b, d, zap.NewNop())
	return c, b
}

func waitState(t *testing.T, c *Client, want State) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if c.State() == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("state = %s, want %s", c.State(), want)
		case <-time.After(time.Millisecond):
		}
	}
}

func TestConnectSendsAuthFrame(t *testing.T) {
	d := newFakeDialer()
	c, _ := testClient(t, "tok123", d)

	c.Connect()
	waitState(t, c, Connected)

	s := <-d.sockets
	select {
	case frame := <-s.outbound:
		if !strings.Contains(string(frame), `"do":"auth"`) || !strings.Contains(string(frame), "tok123") {
			t.Errorf("first frame = %s, want auth with token", frame)
		}
	case <-time.After(time.Second):
		t.Fatal("no auth frame sent after open")
	}
}

func TestConnectWithoutTokenFails(t *testing.T) {
	d := newFakeDialer()
	c, _ := testClient(t, "", d)

	c.Connect()
	waitState(t, c, Failed)
	if len(d.dials) != 0 {
		t.Error("dialed despite missing token")
	}
}

func TestConnectIgnoredWhileConnected(t *testing.T) {
	d := newFakeDialer()
	c, _ := testClient(t, "tok", d)

	c.Connect()
	waitState(t, c, Connected)
	c.Connect()
	time.Sleep(10 * time.Millisecond)
	if got := len(d.dials); got != 1 {
		t.Errorf("dial count = %d, want 1", got)
	}
}

func TestSendRequiresConnected(t *testing.T) {
	d := newFakeDialer()
	c, _ := testClient(t, "tok", d)

	if c.Send([]byte("x")) {
		t.Error("send accepted while disconnected")
	}

	c.Connect()
	waitState(t, c, Connected)
	if !c.Send([]byte("x")) {
		t.Error("send rejected while connected")
	}
}

func TestInboundFramesPublished(t *testing.T) {
	d := newFakeDialer()
	c, b := testClient(t, "tok", d)
	frames, cancel := b.Subscribe("conn.frame", 16)
	defer cancel()

	c.Connect()
	waitState(t, c, Connected)

	s := <-d.sockets
	s.inbound <- []byte("auth_success:")

	select {
	case evt := <-frames:
		if string(evt.Payload.([]byte)) != "auth_success:" {
			t.Errorf("frame payload = %q", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("inbound frame never published")
	}
}

func TestReconnectThenFailed(t *testing.T) {
	d := newFakeDialer()
	d.fail = true
	c, _ := testClient(t, "tok", d)

	c.Connect()
	waitState(t, c, Failed)

	// Initial dial plus one per retry attempt.
	if got := len(d.dials); got != 6 {
		t.Errorf("dial count = %d, want 6", got)
	}

	// Explicit connect revives a failed client.
	d.fail = false
	c.Connect()
	waitState(t, c, Connected)
}

func TestReadErrorTriggersReconnect(t *testing.T) {
	d := newFakeDialer()
	c, _ := testClient(t, "tok", d)

	c.Connect()
	waitState(t, c, Connected)

	s := <-d.sockets
	close(s.inbound) // simulate peer drop

	deadline := time.After(2 * time.Second)
	for len(d.sockets) == 0 {
		select {
		case <-deadline:
			t.Fatal("no reconnect dial after read error")
		case <-time.After(time.Millisecond):
		}
	}
	waitState(t, c, Connected)
}

func TestManualDisconnectSuppressesReconnect(t *testing.T) {
	d := newFakeDialer()
	c, _ := testClient(t, "tok", d)

	c.Connect()
	waitState(t, c, Connected)
	dialsBefore := len(d.dials)

	c.Disconnect()
	waitState(t, c, Disconnected)

	time.Sleep(20 * time.Millisecond)
	if got := len(d.dials); got != dialsBefore {
		t.Errorf("dial count grew to %d after manual disconnect", got)
	}

	// Idempotent.
	c.Disconnect()
	waitState(t, c, Disconnected)
}

func TestDelaySchedule(t *testing.T) {
	c := &Client{opts: Options{BaseDelay: 2000 * time.Millisecond, MaxDelay: 30000 * time.Millisecond}}
	want := []time.Duration{
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		8000 * time.Millisecond,
		16000 * time.Millisecond,
		30000 * time.Millisecond,
		30000 * time.Millisecond,
	}
	for i, w := range want {
		if got := c.delayFor(i + 1); got != w {
			t.Errorf("delayFor(%d) = %s, want %s", i+1, got, w)
		}
	}
}

// brokenFirstDialer hands out a pre-closed socket for the first n dials so
// the auth write right after open fails.
type brokenFirstDialer struct {
	inner  *fakeDialer
	broken int
}

func (d *brokenFirstDialer) Dial(ctx context.Context, url string) (Socket, error) {
	s, err := d.inner.Dial(ctx, url)
	if err != nil {
		return nil, err
	}
	if d.broken > 0 {
		d.broken--
		_ = s.Close(1006, "write path broken")
	}
	return s, nil
}

func TestAuthSendFailureSchedulesReconnect(t *testing.T) {
	base := newFakeDialer()
	c, _ := testClient(t, "tok", &brokenFirstDialer{inner: base, broken: 1})

	c.Connect()

	// A failed auth write is a transport error: the client must retry on
	// its own instead of latching a manual disconnect.
	waitState(t, c, Connected)

	<-base.sockets // the broken socket
	good := <-base.sockets
	select {
	case frame := <-good.outbound:
		if !strings.Contains(string(frame), `"do":"auth"`) {
			t.Errorf("first frame on retry = %s", frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no auth frame on the retry socket")
	}

	if dials := len(base.dials); dials != 2 {
		t.Errorf("dials = %d, want 2", dials)
	}
}
