package protocol

import (
	"encoding/json"

	"github.com/viniciusgb/papo/internal/store"
)

// Auth builds the credential frame sent immediately after the socket opens.
func Auth(token string) []byte {
	return mustMarshal(struct {
		Do    string `json:"do"`
		Token string `json:"token"`
	}{"auth", token})
}

// SyncRequest asks the server for everything since lastEventID. A zero cursor
// (or an empty device identity) yields a full snapshot on the server side.
func SyncRequest(deviceID, fcmToken string, lastEventID int64, deviceName, osVersion, appVersion, locale string) []byte {
	var fcm any
	if fcmToken != "" {
		fcm = fcmToken
	}
	return mustMarshal(struct {
		Do          string `json:"do"`
		DeviceID    string `json:"id_device"`
		FCMToken    any    `json:"fmc_token"`
		LastEventID int64  `json:"last_known_event_id_on_client"`
		DeviceName  string `json:"device_name"`
		OSVersion   string `json:"os_version"`
		AppVersion  string `json:"app_version"`
		Locale      string `json:"locale"`
	}{"sync", deviceID, fcm, lastEventID, deviceName, osVersion, appVersion, locale})
}

// TextContent is the content object of an outbound text message.
type TextContent struct {
	Text string `json:"text"`
}

// FileContent is the content object of an outbound file message.
type FileContent struct {
	Caption  string `json:"caption"`
	URL      string `json:"url"`
	Size     int64  `json:"size"`
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
}

// receiverTarget picks the wire receiver for a message: the group alias for
// group messages, otherwise the other party of the 1:1 exchange.
func receiverTarget(m *store.Message) string {
	switch {
	case m.GroupID > 0:
		return m.RoutingKey()
	case m.IsMine && m.ReceiverID != "":
		return m.ReceiverID
	default:
		return m.SenderID
	}
}

// SendMessage builds a send_to or send_to_group frame carrying content,
// which is either a TextContent or a FileContent.
func SendMessage(m *store.Message, content any) []byte {
	action := "send_to"
	if m.GroupID > 0 {
		action = "send_to_group"
	}
	return mustMarshal(struct {
		Do       string `json:"do"`
		ID       string `json:"id"`
		Sender   string `json:"sender"`
		Receiver string `json:"receiver"`
		Date     int64  `json:"date"`
		Type     string `json:"type"`
		Content  any    `json:"content"`
	}{action, m.ID, m.SenderID, receiverTarget(m), m.Timestamp, m.Type, content})
}

// EditMessage builds an edit_msg or edit_msg_group frame.
func EditMessage(m *store.Message, newText string, dateNow int64) []byte {
	action := "edit_msg"
	if m.GroupID > 0 {
		action = "edit_msg_group"
	}
	return mustMarshal(struct {
		Do       string `json:"do"`
		ID       string `json:"id"`
		Message  string `json:"message"`
		Sender   string `json:"sender"`
		Receiver string `json:"receiver"`
		DateNow  int64  `json:"date_now"`
	}{action, m.ID, newText, m.SenderID, receiverTarget(m), dateNow})
}

// DeleteMessage builds a delete_msg or delete_msg_group frame.
func DeleteMessage(m *store.Message) []byte {
	action := "delete_msg"
	if m.GroupID > 0 {
		action = "delete_msg_group"
	}
	return mustMarshal(struct {
		Do       string `json:"do"`
		ID       string `json:"id"`
		Sender   string `json:"sender"`
		Receiver string `json:"receiver"`
	}{action, m.ID, m.SenderID, receiverTarget(m)})
}

// MessagesWereRead builds a 1:1 read receipt frame.
func MessagesWereRead(readerID, senderOfMessages string, messageIDs []string) []byte {
	return mustMarshal(struct {
		Do         string   `json:"do"`
		ReaderID   string   `json:"reader_id"`
		MessageIDs []string `json:"messages_ids"`
		SenderID   string   `json:"sender_of_messages_id"`
	}{"messages_were_read", readerID, messageIDs, senderOfMessages})
}

// GroupMessagesWereRead builds a group read receipt frame.
func GroupMessagesWereRead(readerID string, groupID int64, messageIDs []string) []byte {
	return mustMarshal(struct {
		Do         string   `json:"do"`
		ReaderID   string   `json:"reader_id"`
		MessageIDs []string `json:"messages_ids"`
		GroupID    int64    `json:"group_id"`
	}{"group_messages_were_read", readerID, messageIDs, groupID})
}

// mustMarshal wraps json.Marshal for frame structs, which cannot fail.
func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
