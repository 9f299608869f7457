package sync

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/viniciusgb/papo/internal/protocol"
	"github.com/viniciusgb/papo/internal/store"
)

var (
	errEmptyEdit     = errors.New("edit without replacement text")
	errMissingNumber = errors.New("online status without user number")
)

func decodeJSON(payload []byte, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

func decodeStrictID(payload []byte, v any, id func() string) error {
	if err := decodeJSON(payload, v); err != nil {
		return err
	}
	if id() == "" {
		return errors.New("payload missing message id")
	}
	return nil
}

// receiptBatch accumulates read-receipt message ids per conversation key so
// a large sync flushes one frame per conversation, not one per message. The
// key is the peer id for 1:1 chats and the decimal group id for groups.
type receiptBatch map[string][]string

func newReceiptBatch() receiptBatch {
	return make(receiptBatch)
}

func (r receiptBatch) add(msg *store.Message) {
	key := msg.ConversationID
	if key == "" {
		key = strconv.FormatInt(msg.GroupID, 10)
	}
	r[key] = append(r[key], msg.ID)
}

// upgradeIfActive marks an inbound message for the open conversation as read
// before it is stored, and queues its receipt.
func (e *Engine) upgradeIfActive(msg *store.Message, activeKey string, receipts receiptBatch) {
	if msg.IsMine || activeKey == "" || msg.RoutingKey() != activeKey || msg.Status == store.StatusRead {
		return
	}
	msg.Status = store.StatusRead
	receipts.add(msg)
}

// flushReceipts sends one batched read-receipt frame per conversation key.
func (e *Engine) flushReceipts(receipts receiptBatch) {
	for key, ids := range receipts {
		if len(ids) == 0 {
			continue
		}
		if groupID, err := strconv.ParseInt(key, 10, 64); err == nil {
			e.sendReceipt("", groupID, ids)
		} else {
			e.sendReceipt(key, 0, ids)
		}
	}
}

// sendReceipt tells the server which messages were read locally. Best
// effort: a rejected send is logged and dropped; the server will re-deliver
// state on the next sync.
func (e *Engine) sendReceipt(conversationID string, groupID int64, ids []string) {
	if len(ids) == 0 {
		return
	}
	myNumber := e.creds.MyNumber()
	if myNumber == "" {
		e.log.Warn("cannot send read receipt, own number unknown")
		return
	}

	var frame []byte
	switch {
	case conversationID != "":
		frame = protocol.MessagesWereRead(myNumber, conversationID, ids)
	case groupID > 0:
		frame = protocol.GroupMessagesWereRead(myNumber, groupID, ids)
	default:
		e.log.Warn("read receipt without conversation or group")
		return
	}
	if !e.client.Send(frame) {
		e.log.Error("failed to send read receipt",
			zap.String("conversation", conversationID), zap.Int64("group", groupID))
	}
}
