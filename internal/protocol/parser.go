package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/viniciusgb/papo/internal/store"
)

type wireContent struct {
	Text     string `json:"text"`
	Caption  string `json:"caption"`
	URL      string `json:"url"`
	Size     int64  `json:"size"`
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
}

type wireMessage struct {
	ID       string          `json:"id"`
	Sender   string          `json:"sender"`
	Receiver string          `json:"receiver"`
	GroupID  int64           `json:"group_id"`
	Type     string          `json:"type"`
	Date     int64           `json:"date"`
	Status   string          `json:"status"`
	Content  json.RawMessage `json:"content"`
	Message  json.RawMessage `json:"message"`
}

func isFileType(typ string) bool {
	switch strings.ToLower(typ) {
	case "image", "video", "audio", "document", "file", "archive":
		return true
	}
	return false
}

// ParseMessage decodes a server message payload into a store.Message.
// myNumber decides message ownership and which side of a 1:1 exchange names
// the conversation. Several payload shapes are tolerated: the canonical
// content object, a legacy top-level "message" field carrying either nested
// JSON or a bare string, and placeholders when both are absent.
func ParseMessage(raw []byte, myNumber string) (*store.Message, error) {
	if myNumber == "" {
		return nil, fmt.Errorf("own number unknown, cannot attribute message")
	}

	var w wireMessage
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	if w.ID == "" {
		return nil, fmt.Errorf("message missing id")
	}
	if w.Sender == "" {
		return nil, fmt.Errorf("message %s missing sender", w.ID)
	}
	if w.Type == "" {
		return nil, fmt.Errorf("message %s missing type", w.ID)
	}

	isMine := w.Sender == myNumber

	var conversationID, receiverID string
	var groupID int64
	switch {
	case w.GroupID > 0:
		groupID = w.GroupID
	case w.Receiver != "":
		receiverID = w.Receiver
		if isMine {
			conversationID = w.Receiver
		} else {
			conversationID = w.Sender
		}
	default:
		return nil, fmt.Errorf("message %s has neither receiver nor group_id", w.ID)
	}

	text, fileURL, fileSize := extractContent(&w)

	status := w.Status
	if status == "" {
		if isMine {
			status = store.StatusSent
		} else {
			status = store.StatusDelivered
		}
	}

	downloadStatus := ""
	if !isMine && fileURL != "" {
		downloadStatus = store.DownloadPending
	}
	uploadProg := 100
	if isMine && status == store.StatusSending {
		uploadProg = 0
	}

	return store.NewMessage(store.Message{
		ID:             w.ID,
		ConversationID: conversationID,
		GroupID:        groupID,
		SenderID:       w.Sender,
		ReceiverID:     receiverID,
		Text:           text,
		Timestamp:      w.Date,
		Status:         status,
		IsMine:         isMine,
		Type:           w.Type,
		FileURL:        fileURL,
		FileSize:       fileSize,
		DownloadStatus: downloadStatus,
		UploadProg:     uploadProg,
	})
}

func extractContent(w *wireMessage) (text, fileURL string, fileSize int64) {
	isText := strings.EqualFold(w.Type, "text")

	if isObject(w.Content) {
		var c wireContent
		if err := json.Unmarshal(w.Content, &c); err == nil {
			switch {
			case isText:
				return c.Text, "", 0
			case isFileType(w.Type):
				return c.Caption, c.URL, c.Size
			default:
				return "[Unsupported content type: " + w.Type + "]", "", 0
			}
		}
	}

	legacy, hasLegacy := legacyString(w.Message)

	if hasLegacy && isText {
		// The legacy field may itself carry a stringified JSON object.
		var inner struct {
			Text string `json:"text"`
		}
		if json.Unmarshal([]byte(legacy), &inner) == nil && isObject(json.RawMessage(legacy)) {
			return inner.Text, "", 0
		}
		return legacy, "", 0
	}

	if !isText {
		if hasLegacy {
			return legacy, "", 0
		}
		return "[Missing file content]", "", 0
	}
	if len(w.Message) > 0 && !hasLegacy {
		return "[Missing text content]", "", 0
	}
	return "[Missing message content]", "", 0
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// legacyString decodes the top-level "message" field when it is a JSON
// string. Absent or null fields report false.
func legacyString(raw json.RawMessage) (string, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return "", false
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return "", false
	}
	return s, true
}
