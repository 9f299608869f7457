// Package outbox creates and delivers outbound messages: optimistic local
// records first, then best-effort delivery over the connection. There is no
// retry queue; a rejected send is marked falhou and stays that way until the
// user resends.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/viniciusgb/papo/internal/api"
	"github.com/viniciusgb/papo/internal/bus"
	"github.com/viniciusgb/papo/internal/conn"
	"github.com/viniciusgb/papo/internal/creds"
	"github.com/viniciusgb/papo/internal/media"
	"github.com/viniciusgb/papo/internal/protocol"
	"github.com/viniciusgb/papo/internal/store"
)

// ErrNotText is returned when editing a non-text message.
var ErrNotText = errors.New("only text messages can be edited")

// ErrBlankText is returned when editing to an empty string.
var ErrBlankText = errors.New("replacement text is blank")

// Sender builds and delivers outbound messages.
type Sender struct {
	db        *store.DB
	bus       *bus.Bus
	client    *conn.Client
	api       *api.Client
	media     *media.Manager
	creds     *creds.Store
	uploadURL string
	log       *zap.Logger
}

func NewSender(db *store.DB, b *bus.Bus, client *conn.Client, apiClient *api.Client,
	mediaMgr *media.Manager, cs *creds.Store, uploadURL string, log *zap.Logger) *Sender {
	return &Sender{
		db:        db,
		bus:       b,
		client:    client,
		api:       apiClient,
		media:     mediaMgr,
		creds:     cs,
		uploadURL: uploadURL,
		log:       log.Named("outbox"),
	}
}

// SendText sends a 1:1 text message. The local record is written before any
// delivery attempt; the returned id identifies it either way.
func (s *Sender) SendText(receiverID, text string) (string, error) {
	msg, err := s.newOutbound(receiverID, 0, text, "text")
	if err != nil {
		return "", err
	}
	return msg.ID, s.deliverText(msg, text)
}

// SendGroupText sends a text message to a group.
func (s *Sender) SendGroupText(groupID int64, text string) (string, error) {
	msg, err := s.newOutbound("", groupID, text, "text")
	if err != nil {
		return "", err
	}
	return msg.ID, s.deliverText(msg, text)
}

func (s *Sender) deliverText(msg *store.Message, text string) error {
	frame := protocol.SendMessage(msg, protocol.TextContent{Text: text})
	if !s.client.Send(frame) {
		s.markFailed(msg.ID)
		return nil
	}
	return nil
}

// SendFile sends a file to a 1:1 conversation. The source is copied into the
// session's sent directory first so the record outlives the original file.
func (s *Sender) SendFile(ctx context.Context, receiverID, srcPath string) (string, error) {
	return s.sendFile(ctx, receiverID, 0, srcPath)
}

// SendGroupFile sends a file to a group.
func (s *Sender) SendGroupFile(ctx context.Context, groupID int64, srcPath string) (string, error) {
	return s.sendFile(ctx, "", groupID, srcPath)
}

func (s *Sender) sendFile(ctx context.Context, receiverID string, groupID int64, srcPath string) (string, error) {
	localPath, err := s.media.CreateLocalCopy(srcPath)
	if err != nil {
		return "", fmt.Errorf("copy file: %w", err)
	}

	fileName := filepath.Base(srcPath)
	msgType := messageTypeForFile(srcPath)

	msg, err := s.newOutboundFile(receiverID, groupID, fileName, msgType, localPath)
	if err != nil {
		return "", err
	}
	s.log.Debug("file placeholder stored",
		zap.String("id", msg.ID), zap.String("path", localPath))

	go s.uploadAndConfirm(ctx, msg, localPath, fileName)
	return msg.ID, nil
}

// uploadAndConfirm uploads the file and pushes the WebSocket confirmation.
// Any failure leaves the message falhou with the local copy intact.
func (s *Sender) uploadAndConfirm(ctx context.Context, msg *store.Message, localPath, fileName string) {
	res, err := s.api.UploadFile(ctx, s.uploadURL, localPath, func(pct int) {
		if err := s.db.UpdateUploadProgress(msg.ID, pct); err != nil {
			s.log.Error("update upload progress", zap.String("id", msg.ID), zap.Error(err))
		}
	})
	if err != nil {
		s.log.Error("file upload failed", zap.String("id", msg.ID), zap.Error(err))
		s.markFailed(msg.ID)
		return
	}

	if err := s.db.UpdateUploadedFile(msg.ID, res.FileURL, res.FileSize, store.StatusSent); err != nil {
		s.log.Error("record uploaded file", zap.String("id", msg.ID), zap.Error(err))
	}
	if err := s.db.UpdateUploadProgress(msg.ID, 100); err != nil {
		s.log.Error("finalize upload progress", zap.String("id", msg.ID), zap.Error(err))
	}

	content := protocol.FileContent{
		Caption:  "",
		URL:      res.FileURL,
		Size:     res.FileSize,
		Filename: res.FileName,
		MimeType: res.MimeType,
	}
	if !s.client.Send(protocol.SendMessage(msg, content)) {
		s.log.Error("file confirmation send failed", zap.String("id", msg.ID))
		s.markFailed(msg.ID)
		return
	}
	s.log.Info("file sent", zap.String("id", msg.ID), zap.String("url", res.FileURL))
	s.notifyChanged()
}

// Edit rewrites a text message locally and propagates the change. A send
// failure flips the status to failed_edit but keeps the edited text.
func (s *Sender) Edit(messageID, newText string) error {
	if strings.TrimSpace(newText) == "" {
		return ErrBlankText
	}
	msg, err := s.db.GetMessage(messageID)
	if err != nil {
		return err
	}
	if msg == nil {
		return fmt.Errorf("message %s not found", messageID)
	}
	if msg.Type != "text" {
		return ErrNotText
	}

	now := time.Now().UnixMilli()
	if err := s.db.UpdateEditedMessage(messageID, newText, now); err != nil {
		return err
	}
	s.notifyChanged()

	if !s.client.Send(protocol.EditMessage(msg, newText, now)) {
		s.log.Error("edit send failed", zap.String("id", messageID))
		if err := s.db.UpdateMessageStatus(messageID, store.StatusFailedEdit); err != nil {
			return err
		}
		s.notifyChanged()
	}
	return nil
}

// Delete removes a message locally, then tells the server best-effort. The
// local delete always wins; a failed server send is only logged.
func (s *Sender) Delete(messageID string) error {
	msg, err := s.db.GetMessage(messageID)
	if err != nil {
		return err
	}
	if msg == nil {
		return nil
	}

	if err := s.db.DeleteMessage(messageID); err != nil {
		return err
	}
	s.bus.Publish(bus.Event{Kind: "message.deleted", Timestamp: time.Now(), Payload: messageID})
	s.notifyChanged()

	if !s.client.Send(protocol.DeleteMessage(msg)) {
		s.log.Error("delete command send failed", zap.String("id", messageID))
	}
	return nil
}

func (s *Sender) newOutbound(receiverID string, groupID int64, text, msgType string) (*store.Message, error) {
	myNumber := s.creds.MyNumber()
	if myNumber == "" {
		return nil, errors.New("own number unknown")
	}
	msg, err := store.NewMessage(store.Message{
		ID:             uuid.NewString(),
		ConversationID: receiverID,
		GroupID:        groupID,
		SenderID:       myNumber,
		ReceiverID:     receiverID,
		Text:           text,
		Timestamp:      time.Now().UnixMilli(),
		Status:         store.StatusSending,
		IsMine:         true,
		Type:           msgType,
	})
	if err != nil {
		return nil, err
	}
	if err := s.db.UpsertMessage(msg); err != nil {
		return nil, err
	}
	s.bus.Publish(bus.Event{Kind: "message.upserted", Timestamp: time.Now(), Payload: msg.ID})
	s.notifyChanged()
	return msg, nil
}

func (s *Sender) newOutboundFile(receiverID string, groupID int64, fileName, msgType, localPath string) (*store.Message, error) {
	myNumber := s.creds.MyNumber()
	if myNumber == "" {
		return nil, errors.New("own number unknown")
	}
	var size int64
	if info, err := os.Stat(localPath); err == nil {
		size = info.Size()
	}
	msg, err := store.NewMessage(store.Message{
		ID:             uuid.NewString(),
		ConversationID: receiverID,
		GroupID:        groupID,
		SenderID:       myNumber,
		ReceiverID:     receiverID,
		Text:           fileName,
		Timestamp:      time.Now().UnixMilli(),
		Status:         store.StatusSending,
		IsMine:         true,
		Type:           msgType,
		FileSize:       size,
		LocalPath:      localPath,
	})
	if err != nil {
		return nil, err
	}
	if err := s.db.UpsertMessage(msg); err != nil {
		return nil, err
	}
	s.bus.Publish(bus.Event{Kind: "message.upserted", Timestamp: time.Now(), Payload: msg.ID})
	s.notifyChanged()
	return msg, nil
}

func (s *Sender) markFailed(messageID string) {
	if err := s.db.UpdateMessageStatus(messageID, store.StatusFailed); err != nil {
		s.log.Error("mark message failed", zap.String("id", messageID), zap.Error(err))
		return
	}
	s.notifyChanged()
}

func (s *Sender) notifyChanged() {
	s.bus.Publish(bus.Event{Kind: "store.changed", Timestamp: time.Now()})
}
