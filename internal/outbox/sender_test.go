package outbox

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/viniciusgb/papo/internal/api"
	"github.com/viniciusgb/papo/internal/bus"
	"github.com/viniciusgb/papo/internal/conn"
	"github.com/viniciusgb/papo/internal/creds"
	"github.com/viniciusgb/papo/internal/media"
	"github.com/viniciusgb/papo/internal/store"
)

type fakeSocket struct {
	inbound  chan []byte
	outbound chan []byte
	closed   chan struct{}
}

func (s *fakeSocket) ReadMessage() ([]byte, error) {
	select {
	case msg := <-s.inbound:
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

type fakeDialer struct{ socket *fakeSocket }

func (d *fakeDialer) Dial(ctx context.Context, url string) (conn.Socket, error) {
	return d.socket, nil
}

type harness struct {
	sender *Sender
	db     *store.DB
	client *conn.Client
	socket *fakeSocket
}

func newHarness(t *testing.T, uploadHandler http.HandlerFunc, connected bool) *harness {
	t.Helper()
	dir := t.TempDir()

	db, err := store.Open(filepath.Join(dir, "papo.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}

	cs, err := creds.Open(filepath.Join(dir, "creds.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if err := cs.SetTokens("auth", "refresh"); err != nil {
		t.Fatal(err)
	}
	if err := cs.SetIdentity("111", "dev1"); err != nil {
		t.Fatal(err)
	}

	if uploadHandler == nil {
		uploadHandler = func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"status":"success","file_url":"https://cdn/f.bin","file_size":9,"file_name":"f.bin","mime_type":"application/octet-stream"}`))
		}
	}
	srv := httptest.NewServer(uploadHandler)
	t.Cleanup(srv.Close)

	b := bus.New()
	socket := &fakeSocket{
		inbound:  make(chan []byte, 4),
		outbound: make(chan []byte, 64),
		closed:   make(chan struct{}),
	}
	client := conn.New(conn.Options{
		URL:         "wss://example.test/ws",
		BaseDelay:   time.Millisecond,
		MaxDelay:    4 * time.Millisecond,
		MaxAttempts: 1,
	}, cs, b, &fakeDialer{socket: socket}, zap.NewNop())

	if connected {
		client.Connect()
		deadline := time.After(2 * time.Second)
		for client.State() != conn.Connected {
			select {
			case <-deadline:
				t.Fatal("never connected")
			case <-time.After(time.Millisecond):
			}
		}
		<-socket.outbound // discard auth frame
	}

	mediaMgr := media.NewManager(db, b, filepath.Join(dir, "media"), filepath.Join(dir, "sent"), zap.NewNop())
	apiClient := api.New(srv.URL+"/api/", cs, zap.NewNop())
	sender := NewSender(db, b, client, apiClient, mediaMgr, cs, srv.URL+"/upload_handler.php", zap.NewNop())

	return &harness{sender: sender, db: db, client: client, socket: socket}
}

func (h *harness) outboundFrame(t *testing.T) string {
	t.Helper()
	select {
	case frame := <-h.socket.outbound:
		return string(frame)
	case <-time.After(2 * time.Second):
		t.Fatal("no outbound frame")
		return ""
	}
}

func waitStatus(t *testing.T, db *store.DB, id, want string) *store.Message {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		msg, err := db.GetMessage(id)
		if err != nil {
			t.Fatal(err)
		}
		if msg != nil && msg.Status == want {
			return msg
		}
		select {
		case <-deadline:
			t.Fatalf("status = %q, want %q", msg.Status, want)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSendTextOptimisticRecord(t *testing.T) {
	h := newHarness(t, nil, true)

	id, err := h.sender.SendText("222", "oi")
	if err != nil {
		t.Fatal(err)
	}
	msg, err := h.db.GetMessage(id)
	if err != nil {
		t.Fatal(err)
	}
	if msg == nil {
		t.Fatal("no local record")
	}
	if msg.Status != store.StatusSending || !msg.IsMine || msg.ConversationID != "222" {
		t.Errorf("record = %+v", msg)
	}

	frame := h.outboundFrame(t)
	if !strings.Contains(frame, `"do":"send_to"`) || !strings.Contains(frame, `"text":"oi"`) {
		t.Errorf("frame = %s", frame)
	}
}

func TestSendTextWhileDisconnectedMarksFalhou(t *testing.T) {
	h := newHarness(t, nil, false)

	id, err := h.sender.SendText("222", "oi")
	if err != nil {
		t.Fatal(err)
	}
	msg, _ := h.db.GetMessage(id)
	if msg.Status != store.StatusFailed {
		t.Errorf("status = %q, want falhou", msg.Status)
	}
}

func TestSendGroupText(t *testing.T) {
	h := newHarness(t, nil, true)

	id, err := h.sender.SendGroupText(7, "group hi")
	if err != nil {
		t.Fatal(err)
	}
	msg, _ := h.db.GetMessage(id)
	if msg.GroupID != 7 || msg.ConversationID != "" {
		t.Errorf("routing = %+v", msg)
	}
	frame := h.outboundFrame(t)
	if !strings.Contains(frame, `"do":"send_to_group"`) || !strings.Contains(frame, `"receiver":"group_7"`) {
		t.Errorf("frame = %s", frame)
	}
}

func TestSendFile(t *testing.T) {
	h := newHarness(t, nil, true)

	src := filepath.Join(t.TempDir(), "photo.jpg")
	if err := os.WriteFile(src, []byte("jpeg data"), 0o600); err != nil {
		t.Fatal(err)
	}

	id, err := h.sender.SendFile(context.Background(), "222", src)
	if err != nil {
		t.Fatal(err)
	}

	msg := waitStatus(t, h.db, id, store.StatusSent)
	if msg.FileURL != "https://cdn/f.bin" || msg.FileSize != 9 || msg.UploadProg != 100 {
		t.Errorf("record = %+v", msg)
	}
	if msg.Type != "image" {
		t.Errorf("type = %q, want image", msg.Type)
	}
	if msg.LocalPath == "" {
		t.Error("no durable local copy recorded")
	}
	if _, err := os.Stat(msg.LocalPath); err != nil {
		t.Errorf("local copy missing: %v", err)
	}

	frame := h.outboundFrame(t)
	if !strings.Contains(frame, `"do":"send_to"`) || !strings.Contains(frame, `"url":"https://cdn/f.bin"`) {
		t.Errorf("confirmation frame = %s", frame)
	}
}

func TestSendFileUploadFailure(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}, true)

	src := filepath.Join(t.TempDir(), "doc.pdf")
	if err := os.WriteFile(src, []byte("pdf"), 0o600); err != nil {
		t.Fatal(err)
	}

	id, err := h.sender.SendFile(context.Background(), "222", src)
	if err != nil {
		t.Fatal(err)
	}
	msg := waitStatus(t, h.db, id, store.StatusFailed)
	// The durable copy stays for a manual resend.
	if _, err := os.Stat(msg.LocalPath); err != nil {
		t.Errorf("local copy removed on failure: %v", err)
	}
}

func TestEdit(t *testing.T) {
	h := newHarness(t, nil, true)

	id, err := h.sender.SendText("222", "original")
	if err != nil {
		t.Fatal(err)
	}
	<-h.socket.outbound // send_to frame

	if err := h.sender.Edit(id, "corrected"); err != nil {
		t.Fatal(err)
	}
	msg, _ := h.db.GetMessage(id)
	if msg.Text != "corrected" || msg.Status != store.StatusEdited {
		t.Errorf("record = %+v", msg)
	}
	frame := h.outboundFrame(t)
	if !strings.Contains(frame, `"do":"edit_msg"`) || !strings.Contains(frame, `"message":"corrected"`) {
		t.Errorf("frame = %s", frame)
	}
}

func TestEditRules(t *testing.T) {
	h := newHarness(t, nil, true)

	id, err := h.sender.SendText("222", "hello")
	if err != nil {
		t.Fatal(err)
	}
	<-h.socket.outbound

	if err := h.sender.Edit(id, "   "); !errors.Is(err, ErrBlankText) {
		t.Errorf("blank edit err = %v", err)
	}

	fileMsg := &store.Message{ID: "f1", ConversationID: "222", SenderID: "111", ReceiverID: "222",
		Timestamp: 1, Status: store.StatusSent, IsMine: true, Type: "image"}
	if err := h.db.UpsertMessage(fileMsg); err != nil {
		t.Fatal(err)
	}
	if err := h.sender.Edit("f1", "nope"); !errors.Is(err, ErrNotText) {
		t.Errorf("non-text edit err = %v", err)
	}
}

func TestEditSendFailureFlipsStatus(t *testing.T) {
	h := newHarness(t, nil, false)

	seed := &store.Message{ID: "m1", ConversationID: "222", SenderID: "111", ReceiverID: "222",
		Text: "old", Timestamp: 1, Status: store.StatusSent, IsMine: true, Type: "text"}
	if err := h.db.UpsertMessage(seed); err != nil {
		t.Fatal(err)
	}

	if err := h.sender.Edit("m1", "new"); err != nil {
		t.Fatal(err)
	}
	msg, _ := h.db.GetMessage("m1")
	if msg.Status != store.StatusFailedEdit {
		t.Errorf("status = %q, want failed_edit", msg.Status)
	}
	if msg.Text != "new" {
		t.Errorf("text = %q, edited text must survive the failed send", msg.Text)
	}
}

func TestDeleteLocalFirst(t *testing.T) {
	h := newHarness(t, nil, false) // disconnected: server send fails, local delete still applies

	seed := &store.Message{ID: "m1", ConversationID: "222", SenderID: "111", ReceiverID: "222",
		Timestamp: 1, Status: store.StatusSent, IsMine: true, Type: "text"}
	if err := h.db.UpsertMessage(seed); err != nil {
		t.Fatal(err)
	}

	if err := h.sender.Delete("m1"); err != nil {
		t.Fatal(err)
	}
	if msg, _ := h.db.GetMessage("m1"); msg != nil {
		t.Error("message survived local delete")
	}

	// Deleting a missing message is a no-op.
	if err := h.sender.Delete("m1"); err != nil {
		t.Fatal(err)
	}
}

func TestMessageTypeForFile(t *testing.T) {
	cases := []struct {
		path string
		want string
	}{
		{"a.jpg", "image"},
		{"a.png", "image"},
		{"a.mp4", "video"},
		{"a.mp3", "audio"},
		{"a.pdf", "document"},
		{"a.txt", "document"},
		{"a.zip", "archive"},
		{"a.unknownext", "file"},
		{"noext", "file"},
	}
	for _, tc := range cases {
		if got := messageTypeForFile(tc.path); got != tc.want {
			t.Errorf("messageTypeForFile(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}
