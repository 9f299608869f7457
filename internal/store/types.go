package store

import (
	"errors"
	"strconv"
	"strings"
)

// Message statuses, in precedence order. Portuguese values come from the
// wire protocol and are stored verbatim.
const (
	StatusSending    = "sending"
	StatusSent       = "enviada"
	StatusDelivered  = "recebida"
	StatusRead       = "lida"
	StatusFailed     = "falhou"
	StatusEdited     = "editada"
	StatusFailedEdit = "failed_edit"
)

// Download statuses.
const (
	DownloadPending     = "pendente"
	DownloadInProgress  = "baixando"
	DownloadDone        = "concluido"
	DownloadFailedState = "falhou"
)

// StatusRank maps a message status to its precedence value. Higher ranks
// may overwrite lower ones; falhou/failed_edit are terminal (-1) and
// unknown statuses rank below everything (-2).
func StatusRank(status string) int {
	switch strings.ToLower(status) {
	case StatusSending:
		return 0
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	case StatusFailed, StatusFailedEdit:
		return -1
	default:
		return -2
	}
}

// ErrInvalidRouting is returned when a message does not have exactly one of
// a conversation id or a group id.
var ErrInvalidRouting = errors.New("message must have exactly one of conversation id or group id")

// Message is the central synced entity. Exactly one of ConversationID
// (non-empty) or GroupID (positive) is set; NewMessage and a schema CHECK
// both enforce it.
type Message struct {
	ID             string
	ConversationID string // peer identifier for 1:1 chat; empty for group
	GroupID        int64  // positive for group messages; 0 for 1:1
	SenderID       string
	ReceiverID     string // literal receiver for 1:1; empty for group
	Text           string
	Timestamp      int64
	Status         string
	IsMine         bool
	Type           string // text, image, video, audio, document, file, archive
	FileURL        string
	FileSize       int64
	LocalPath      string
	DownloadStatus string
	DownloadProg   int
	UploadProg     int
}

// NewMessage validates the routing invariant and returns the message.
func NewMessage(m Message) (*Message, error) {
	if (m.ConversationID == "") == (m.GroupID <= 0) {
		return nil, ErrInvalidRouting
	}
	return &m, nil
}

// RoutingKey returns the conversation identifier used by the read model:
// the peer id for 1:1 chats, "group_<id>" for groups.
func (m *Message) RoutingKey() string {
	if m.GroupID > 0 {
		return "group_" + strconv.FormatInt(m.GroupID, 10)
	}
	return m.ConversationID
}

// User is a synced user metadata record keyed by phone number.
type User struct {
	Number       string
	Username1    string
	Username2    string
	ProfilePhoto string
	LastOnline   string
}

// Bot is a synced bot metadata record.
type Bot struct {
	ID                 string
	Name               string
	Bio                string
	ProfilePhoto       string
	CanReceiveMessages bool
}

// Group is a synced group metadata record.
type Group struct {
	ID   int64
	Name string
	Icon string
}

// GroupMember is a group membership edge, replaced wholesale per sync.
type GroupMember struct {
	GroupID    int64
	UserNumber string
}

// Conversation types for the derived read model.
const (
	ConvUser  = "USER"
	ConvBot   = "BOT"
	ConvGroup = "GROUP"
)

// Conversation is a derived, read-only row of the unified conversation list.
type Conversation struct {
	ID                   string // user number, bot id, or "group_<id>"
	Type                 string
	DisplayName          string
	ProfilePhoto         string
	LastOnline           string
	CanReceiveMessages   bool
	LastMessageText      string
	LastMessageType      string
	LastMessageLocalPath string
	LastMessageAt        int64 // 0 when the conversation has no messages
	UnreadCount          int
}
