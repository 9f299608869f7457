package media

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/viniciusgb/papo/internal/bus"
	"github.com/viniciusgb/papo/internal/store"
)

func testManager(t *testing.T) (*Manager, *store.DB) {
	t.Helper()
	dir := t.TempDir()
	db, err := store.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	m := NewManager(db, bus.New(),
		filepath.Join(dir, "media"), filepath.Join(dir, "sent"), zap.NewNop())
	return m, db
}

func waitDownloadState(t *testing.T, db *store.DB, id, want string) *store.Message {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		msg, err := db.GetMessage(id)
		if err != nil {
			t.Fatal(err)
		}
		if msg != nil && msg.DownloadStatus == want {
			return msg
		}
		select {
		case <-deadline:
			t.Fatalf("download status = %q, want %q", msg.DownloadStatus, want)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestCreateLocalCopy(t *testing.T) {
	m, _ := testManager(t)

	src := filepath.Join(t.TempDir(), "report.pdf")
	if err := os.WriteFile(src, []byte("pdf bytes"), 0o600); err != nil {
		t.Fatal(err)
	}

	copyPath, err := m.CreateLocalCopy(src)
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(copyPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "pdf bytes" {
		t.Errorf("copy content = %q", data)
	}
	if !strings.HasSuffix(copyPath, "_report.pdf") {
		t.Errorf("copy name = %q, want original name suffix", copyPath)
	}

	// Original can disappear afterwards.
	if err := os.Remove(src); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(copyPath); err != nil {
		t.Errorf("copy gone after source removal: %v", err)
	}
}

func TestDownloadSuccess(t *testing.T) {
	payload := strings.Repeat("v", 4096)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(payload))
	}))
	defer srv.Close()

	m, db := testManager(t)
	msg := &store.Message{ID: "m1", ConversationID: "555", SenderID: "555", Text: "video.mp4",
		Timestamp: 1, Status: store.StatusDelivered, Type: "video",
		FileURL: srv.URL + "/video.mp4", DownloadStatus: store.DownloadPending}
	if err := db.UpsertMessage(msg); err != nil {
		t.Fatal(err)
	}

	m.Download("m1")
	got := waitDownloadState(t, db, "m1", store.DownloadDone)
	if got.DownloadProg != 100 {
		t.Errorf("progress = %d", got.DownloadProg)
	}
	data, err := os.ReadFile(got.LocalPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != payload {
		t.Error("downloaded content mismatch")
	}
}

func TestDownloadFailureMarksFalhou(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	m, db := testManager(t)
	msg := &store.Message{ID: "m1", ConversationID: "555", SenderID: "555",
		Timestamp: 1, Status: store.StatusDelivered, Type: "image",
		FileURL: srv.URL + "/missing.jpg", DownloadStatus: store.DownloadPending}
	if err := db.UpsertMessage(msg); err != nil {
		t.Fatal(err)
	}

	m.Download("m1")
	waitDownloadState(t, db, "m1", store.DownloadFailedState)
}

func TestDownloadWithoutURLFails(t *testing.T) {
	m, db := testManager(t)
	msg := &store.Message{ID: "m1", ConversationID: "555", SenderID: "555",
		Timestamp: 1, Status: store.StatusDelivered, Type: "image"}
	if err := db.UpsertMessage(msg); err != nil {
		t.Fatal(err)
	}

	m.Download("m1")
	waitDownloadState(t, db, "m1", store.DownloadFailedState)
}

func TestDownloadSkipsCompleted(t *testing.T) {
	m, db := testManager(t)

	existing := filepath.Join(t.TempDir(), "done.bin")
	if err := os.WriteFile(existing, []byte("cached"), 0o600); err != nil {
		t.Fatal(err)
	}
	msg := &store.Message{ID: "m1", ConversationID: "555", SenderID: "555",
		Timestamp: 1, Status: store.StatusDelivered, Type: "image",
		FileURL: "http://127.0.0.1:1/unreachable", LocalPath: existing,
		DownloadStatus: store.DownloadDone, DownloadProg: 100}
	if err := db.UpsertMessage(msg); err != nil {
		t.Fatal(err)
	}

	m.Download("m1")
	// Stays concluido; the unreachable URL would flip it to falhou if fetched.
	time.Sleep(50 * time.Millisecond)
	waitDownloadState(t, db, "m1", store.DownloadDone)
}
