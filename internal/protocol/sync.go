package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/viniciusgb/papo/internal/store"
)

// Sync payload types.
const (
	SyncFull  = "full_sync"
	SyncEvent = "event_sync"
)

// Event types carried inside an event_sync payload.
const (
	EventNewMessage     = "new_message"
	EventMessageEdited  = "message_edited"
	EventMessageDeleted = "message_deleted"
)

// SyncData is the decoded body of a sync_data frame. Message payloads stay
// raw; they go through ParseMessage one by one so a malformed message skips
// without sinking the batch.
type SyncData struct {
	Type         string             `json:"type"`
	LastEventID  int64              `json:"last_event_id"`
	Users        []json.RawMessage  `json:"users"`
	Bots         []json.RawMessage  `json:"bots"`
	Groups       []json.RawMessage  `json:"groups"`
	GroupMembers []json.RawMessage  `json:"groupMembers"`
	Convs        []SyncConversation `json:"conversations"`
	Events       []SyncEventItem    `json:"events"`
}

// SyncConversation is one conversation bucket of a full_sync.
type SyncConversation struct {
	Messages []json.RawMessage `json:"messages"`
}

// SyncEventItem is one incremental event of an event_sync.
type SyncEventItem struct {
	EventType string          `json:"event_type"`
	EntityID  string          `json:"entity_id"`
	EventData json.RawMessage `json:"event_data"`
}

// EditEvent is the body of a message_edited event or an edit_msg frame.
type EditEvent struct {
	ID      string `json:"id"`
	Message string `json:"message"`
	DateNow int64  `json:"date_now"`
}

// DeleteEvent is the body of a message_deleted event or a delete_msg frame.
type DeleteEvent struct {
	ID string `json:"id"`
}

// StatusUpdate is the body of an update_message_status frame.
type StatusUpdate struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// ReadReceipt is the body of a message_read_receipt frame.
type ReadReceipt struct {
	ReaderID   string   `json:"reader_id"`
	MessageIDs []string `json:"messages_ids"`
}

// OnlineStatus is the body of an is_user_online frame.
type OnlineStatus struct {
	Number string `json:"number"`
	Status string `json:"status"`
}

// ParseSyncData decodes a sync_data payload.
func ParseSyncData(raw []byte) (*SyncData, error) {
	var d SyncData
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("decode sync_data: %w", err)
	}
	return &d, nil
}

// ParseUser decodes a synced user record.
func ParseUser(raw []byte) (*store.User, error) {
	var w struct {
		Number       string `json:"number"`
		Username1    string `json:"username1"`
		Username2    string `json:"username2"`
		ProfilePhoto string `json:"profile_photo"`
		LastOnline   string `json:"last_online"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}
	if w.Number == "" {
		return nil, fmt.Errorf("user missing number")
	}
	return &store.User{
		Number:       w.Number,
		Username1:    w.Username1,
		Username2:    w.Username2,
		ProfilePhoto: w.ProfilePhoto,
		LastOnline:   w.LastOnline,
	}, nil
}

// ParseBot decodes a synced bot record. Reachability defaults to true.
func ParseBot(raw []byte) (*store.Bot, error) {
	w := struct {
		ID                 string `json:"id"`
		DisplayName        string `json:"displayName"`
		Bio                string `json:"bio"`
		ProfilePhoto       string `json:"profilePhoto"`
		CanReceiveMessages *bool  `json:"can_receive_messages"`
	}{}
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode bot: %w", err)
	}
	if w.ID == "" {
		return nil, fmt.Errorf("bot missing id")
	}
	canReceive := true
	if w.CanReceiveMessages != nil {
		canReceive = *w.CanReceiveMessages
	}
	return &store.Bot{
		ID:                 w.ID,
		Name:               w.DisplayName,
		Bio:                w.Bio,
		ProfilePhoto:       w.ProfilePhoto,
		CanReceiveMessages: canReceive,
	}, nil
}

// ParseGroup decodes a synced group record.
func ParseGroup(raw []byte) (*store.Group, error) {
	var w struct {
		GroupID   int64  `json:"group_id"`
		GroupName string `json:"groupName"`
		GroupIcon string `json:"groupIcon"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode group: %w", err)
	}
	if w.GroupID <= 0 {
		return nil, fmt.Errorf("group missing group_id")
	}
	return &store.Group{ID: w.GroupID, Name: w.GroupName, Icon: w.GroupIcon}, nil
}

// ParseGroupMember decodes a synced group membership edge.
func ParseGroupMember(raw []byte) (*store.GroupMember, error) {
	var w struct {
		GroupID    int64  `json:"group_id"`
		UserNumber string `json:"user_number"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode group member: %w", err)
	}
	if w.GroupID <= 0 || w.UserNumber == "" {
		return nil, fmt.Errorf("group member missing group_id or user_number")
	}
	return &store.GroupMember{GroupID: w.GroupID, UserNumber: w.UserNumber}, nil
}
