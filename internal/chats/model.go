// Package chats maintains the derived conversation list: one row per peer,
// bot, or group, with display metadata, unread count, and a formatted
// last-message preview. The model recomputes from the database whenever the
// store changes and publishes the fresh snapshot on the bus.
package chats

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/viniciusgb/papo/internal/bus"
	"github.com/viniciusgb/papo/internal/store"
)

// Chat is one row of the conversation list.
type Chat struct {
	store.Conversation
	Preview string
}

// Model holds the current conversation list and keeps it in sync with the
// store.
type Model struct {
	db  *store.DB
	bus *bus.Bus
	log *zap.Logger

	mu      sync.RWMutex
	current []Chat

	cancel context.CancelFunc
	done   chan struct{}
}

func NewModel(db *store.DB, b *bus.Bus, log *zap.Logger) *Model {
	return &Model{db: db, bus: b, log: log.Named("chats")}
}

// Start computes the initial snapshot and then recomputes on every store or
// message event until Stop.
func (m *Model) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})

	changes, unsubStore := m.bus.Subscribe("store.", 64)
	msgs, unsubMsgs := m.bus.Subscribe("message.", 64)

	m.refresh()

	go func() {
		defer close(m.done)
		defer unsubStore()
		defer unsubMsgs()
		for {
			select {
			case <-ctx.Done():
				return
			case <-changes:
				m.refresh()
			case <-msgs:
				m.refresh()
			}
		}
	}()
}

// Stop halts recomputation and waits for the loop to exit.
func (m *Model) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}

// Snapshot returns the current conversation list, most recent first.
func (m *Model) Snapshot() []Chat {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Chat, len(m.current))
	copy(out, m.current)
	return out
}

func (m *Model) refresh() {
	convs, err := m.db.Conversations()
	if err != nil {
		m.log.Error("recompute conversation list", zap.Error(err))
		return
	}

	chats := make([]Chat, 0, len(convs))
	for _, c := range convs {
		chats = append(chats, Chat{Conversation: *c, Preview: preview(c)})
	}

	m.mu.Lock()
	m.current = chats
	m.mu.Unlock()

	snapshot := make([]Chat, len(chats))
	copy(snapshot, chats)
	m.bus.Publish(bus.Event{Kind: "chats.updated", Timestamp: time.Now(), Payload: snapshot})
}

// preview formats the last-message line shown in the chat list. Media types
// collapse to a placeholder; a locally available image or video carries its
// path so a renderer can thumbnail it.
func preview(c *store.Conversation) string {
	switch c.LastMessageType {
	case "":
		return ""
	case "text":
		return c.LastMessageText
	case "image":
		if c.LastMessageLocalPath != "" {
			return "[IMAGE]" + c.LastMessageLocalPath
		}
		return "📷 Imagem"
	case "video":
		if c.LastMessageLocalPath != "" {
			return "[VIDEO]" + c.LastMessageLocalPath
		}
		return "🎥 Vídeo"
	case "audio":
		return "🎵 Áudio"
	case "document", "file", "archive":
		return "📄 Arquivo"
	default:
		if c.LastMessageText != "" {
			return c.LastMessageText
		}
		return "📄 Arquivo"
	}
}
