package chats

import (
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/viniciusgb/papo/internal/bus"
	"github.com/viniciusgb/papo/internal/store"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "papo.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	return db
}

func seedMessage(t *testing.T, db *store.DB, id, peer, text, typ string, ts int64, mine bool, localPath string) {
	t.Helper()
	msg, err := store.NewMessage(store.Message{
		ID:             id,
		ConversationID: peer,
		SenderID:       "x",
		ReceiverID:     peer,
		Text:           text,
		Timestamp:      ts,
		Status:         store.StatusDelivered,
		IsMine:         mine,
		Type:           typ,
		LocalPath:      localPath,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertMessage(msg); err != nil {
		t.Fatal(err)
	}
}

func waitSnapshot(t *testing.T, ch <-chan bus.Event) []Chat {
	t.Helper()
	select {
	case evt := <-ch:
		snap, ok := evt.Payload.([]Chat)
		if !ok {
			t.Fatalf("payload = %T, want []Chat", evt.Payload)
		}
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("no chats.updated event")
		return nil
	}
}

func TestModelInitialSnapshot(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	if err := db.UpsertUser(&store.User{Number: "222", Username1: "alice"}); err != nil {
		t.Fatal(err)
	}
	seedMessage(t, db, "m1", "222", "hello", "text", 1000, false, "")

	updates, unsub := b.Subscribe("chats.", 8)
	defer unsub()

	m := NewModel(db, b, zap.NewNop())
	m.Start()
	defer m.Stop()

	snap := waitSnapshot(t, updates)
	if len(snap) != 1 {
		t.Fatalf("snapshot rows = %d, want 1", len(snap))
	}
	c := snap[0]
	if c.ID != "222" || c.DisplayName != "alice" || c.Preview != "hello" || c.UnreadCount != 1 {
		t.Errorf("row = %+v", c)
	}

	got := m.Snapshot()
	if len(got) != 1 || got[0].ID != "222" {
		t.Errorf("Snapshot() = %+v", got)
	}
}

func TestModelRecomputesOnStoreChange(t *testing.T) {
	db := testDB(t)
	b := bus.New()

	updates, unsub := b.Subscribe("chats.", 8)
	defer unsub()

	m := NewModel(db, b, zap.NewNop())
	m.Start()
	defer m.Stop()

	if snap := waitSnapshot(t, updates); len(snap) != 0 {
		t.Fatalf("initial snapshot rows = %d, want 0", len(snap))
	}

	seedMessage(t, db, "m1", "333", "oi", "text", 2000, false, "")
	b.Publish(bus.Event{Kind: "store.changed", Timestamp: time.Now()})

	snap := waitSnapshot(t, updates)
	if len(snap) != 1 || snap[0].ID != "333" || snap[0].Preview != "oi" {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestModelOrdersByRecency(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	seedMessage(t, db, "m1", "111", "older", "text", 1000, false, "")
	seedMessage(t, db, "m2", "222", "newer", "text", 2000, false, "")

	m := NewModel(db, b, zap.NewNop())
	m.Start()
	defer m.Stop()

	snap := m.Snapshot()
	if len(snap) != 2 || snap[0].ID != "222" || snap[1].ID != "111" {
		t.Errorf("order = %+v", snap)
	}
}

func TestPreview(t *testing.T) {
	cases := []struct {
		name string
		conv store.Conversation
		want string
	}{
		{"no message", store.Conversation{}, ""},
		{"text", store.Conversation{LastMessageType: "text", LastMessageText: "oi"}, "oi"},
		{"image local", store.Conversation{LastMessageType: "image", LastMessageLocalPath: "/tmp/a.jpg"}, "[IMAGE]/tmp/a.jpg"},
		{"image remote", store.Conversation{LastMessageType: "image"}, "📷 Imagem"},
		{"video local", store.Conversation{LastMessageType: "video", LastMessageLocalPath: "/tmp/a.mp4"}, "[VIDEO]/tmp/a.mp4"},
		{"video remote", store.Conversation{LastMessageType: "video"}, "🎥 Vídeo"},
		{"audio", store.Conversation{LastMessageType: "audio"}, "🎵 Áudio"},
		{"document", store.Conversation{LastMessageType: "document"}, "📄 Arquivo"},
		{"archive", store.Conversation{LastMessageType: "archive"}, "📄 Arquivo"},
		{"unknown with text", store.Conversation{LastMessageType: "sticker", LastMessageText: "s"}, "s"},
		{"unknown without text", store.Conversation{LastMessageType: "sticker"}, "📄 Arquivo"},
	}
	for _, tc := range cases {
		if got := preview(&tc.conv); got != tc.want {
			t.Errorf("%s: preview = %q, want %q", tc.name, got, tc.want)
		}
	}
}
