// Package sync merges server state into the local database. It consumes raw
// connection frames, dispatches by command, and applies full snapshots,
// incremental events, and single-message updates.
package sync

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/viniciusgb/papo/internal/active"
	"github.com/viniciusgb/papo/internal/api"
	"github.com/viniciusgb/papo/internal/bus"
	"github.com/viniciusgb/papo/internal/config"
	"github.com/viniciusgb/papo/internal/conn"
	"github.com/viniciusgb/papo/internal/creds"
	"github.com/viniciusgb/papo/internal/media"
	"github.com/viniciusgb/papo/internal/protocol"
	"github.com/viniciusgb/papo/internal/store"
)

// Engine wires inbound frames to the store.
type Engine struct {
	db     *store.DB
	bus    *bus.Bus
	client *conn.Client
	api    *api.Client
	creds  *creds.Store
	active *active.Tracker
	media  *media.Manager
	device config.Device
	log    *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

func NewEngine(db *store.DB, b *bus.Bus, client *conn.Client, apiClient *api.Client,
	cs *creds.Store, tracker *active.Tracker, mediaMgr *media.Manager,
	device config.Device, log *zap.Logger) *Engine {
	return &Engine{
		db:     db,
		bus:    b,
		client: client,
		api:    apiClient,
		creds:  cs,
		active: tracker,
		media:  mediaMgr,
		device: device,
		log:    log.Named("sync"),
	}
}

// Start begins consuming connection frames until Stop.
func (e *Engine) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})

	frames, unsubFrames := e.bus.Subscribe("conn.frame", 256)
	activations, unsubActive := e.bus.Subscribe("chat.activated", 16)
	go func() {
		defer close(e.done)
		defer unsubFrames()
		defer unsubActive()
		for {
			select {
			case <-ctx.Done():
				return
			case evt := <-frames:
				raw, ok := evt.Payload.([]byte)
				if !ok {
					continue
				}
				e.HandleFrame(raw)
			case evt := <-activations:
				key, ok := evt.Payload.(string)
				if !ok || key == "" {
					continue
				}
				if err := e.MarkConversationRead(key); err != nil {
					e.log.Error("mark conversation read", zap.String("key", key), zap.Error(err))
				}
			}
		}
	}()
}

// Stop halts frame consumption and waits for the loop to exit.
func (e *Engine) Stop() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	<-e.done
}

// HandleFrame dispatches one raw frame. Handler errors are logged, never
// propagated; a bad frame must not take the loop down.
func (e *Engine) HandleFrame(raw []byte) {
	cmd, payload, err := protocol.ParseFrame(raw)
	if err != nil {
		e.log.Warn("dropping malformed frame", zap.ByteString("frame", truncate(raw)), zap.Error(err))
		return
	}

	switch cmd {
	case protocol.CmdAuthSuccess:
		e.handleAuthSuccess()
	case protocol.CmdAuthFail:
		e.handleAuthFail()
	case protocol.CmdSyncData:
		err = e.handleSyncData(payload)
	case protocol.CmdNewMessage:
		err = e.handleNewMessage(payload)
	case protocol.CmdEditMsg, protocol.CmdEditMsgGroup:
		err = e.handleEdit(payload)
	case protocol.CmdDeleteMsg, protocol.CmdDeleteMsgGroup:
		err = e.handleDelete(payload)
	case protocol.CmdIsUserOnline:
		err = e.handleOnlineStatus(payload)
	case protocol.CmdUpdateMessageStatus:
		err = e.handleStatusUpdate(payload)
	case protocol.CmdMessageReadReceipt:
		err = e.handleReadReceipt(payload)
	default:
		// CmdUnknown, or a known verb added without a handler.
		e.log.Warn("unhandled command", zap.ByteString("frame", truncate(raw)))
	}
	if err != nil {
		e.log.Error("frame handler failed", zap.String("command", string(cmd)), zap.Error(err))
	}
}

// handleAuthSuccess requests a data sync with the persisted cursor.
func (e *Engine) handleAuthSuccess() {
	e.log.Info("authenticated, requesting data sync")
	cursor, err := e.db.LastEventID()
	if err != nil {
		e.log.Error("read sync cursor", zap.Error(err))
	}
	frame := protocol.SyncRequest(
		e.creds.DeviceID(), e.creds.FCMToken(), cursor,
		e.device.Name, e.device.OSVersion, e.device.AppVersion, e.device.Locale)
	if !e.client.Send(frame) {
		e.log.Error("failed to send sync request")
	}
}

// handleAuthFail tries one token refresh. On success the scheduled reconnect
// picks up the new token; on failure the connection is forced down.
func (e *Engine) handleAuthFail() {
	e.log.Warn("authentication rejected, refreshing token")
	if err := e.api.RefreshToken(context.Background()); err != nil {
		e.log.Error("token refresh failed, disconnecting", zap.Error(err))
		e.client.Disconnect()
		e.bus.Publish(bus.Event{Kind: "session.auth_failed", Timestamp: time.Now(), Payload: err.Error()})
		return
	}
	e.log.Info("token refreshed, reconnect will re-authenticate")
}

func (e *Engine) handleSyncData(payload []byte) error {
	data, err := protocol.ParseSyncData(payload)
	if err != nil {
		return err
	}

	switch data.Type {
	case protocol.SyncFull:
		err = e.applyFullSync(data)
	case protocol.SyncEvent:
		err = e.applyEventSync(data)
	default:
		e.log.Warn("unknown sync type", zap.String("type", data.Type))
		return nil
	}
	if err != nil {
		return err
	}

	cursor, cerr := e.db.LastEventID()
	if cerr != nil {
		return cerr
	}
	switch {
	case data.LastEventID > cursor:
		if err := e.db.AdvanceLastEventID(data.LastEventID); err != nil {
			return err
		}
		e.log.Info("sync cursor advanced", zap.Int64("last_event_id", data.LastEventID))
	case data.Type == protocol.SyncFull && data.LastEventID < cursor:
		// A snapshot redefines ground truth; only it may move the cursor back.
		if err := e.db.ResetLastEventID(data.LastEventID); err != nil {
			return err
		}
		e.log.Warn("sync cursor reset by full sync",
			zap.Int64("from", cursor), zap.Int64("to", data.LastEventID))
	}

	e.notifyChanged()
	return nil
}

func (e *Engine) applyFullSync(data *protocol.SyncData) error {
	e.log.Info("applying full sync")
	for _, clear := range []func() error{
		e.db.ClearMessages, e.db.ClearUsers, e.db.ClearGroups, e.db.ClearGroupMembers, e.db.ClearBots,
	} {
		if err := clear(); err != nil {
			return err
		}
	}

	e.applyEntities(data)

	activeKey := e.active.Get()
	myNumber := e.creds.MyNumber()
	receipts := newReceiptBatch()

	var msgs []*store.Message
	for _, conv := range data.Convs {
		for _, raw := range conv.Messages {
			msg, err := protocol.ParseMessage(raw, myNumber)
			if err != nil {
				e.log.Error("skipping message in full sync", zap.Error(err))
				continue
			}
			e.upgradeIfActive(msg, activeKey, receipts)
			msgs = append(msgs, msg)
		}
	}
	if err := e.db.InsertMessages(msgs); err != nil {
		return err
	}
	e.log.Info("full sync applied", zap.Int("messages", len(msgs)))

	e.flushReceipts(receipts)
	return nil
}

func (e *Engine) applyEventSync(data *protocol.SyncData) error {
	e.applyEntities(data)

	activeKey := e.active.Get()
	myNumber := e.creds.MyNumber()
	receipts := newReceiptBatch()

	e.log.Info("applying event sync", zap.Int("events", len(data.Events)))
	for _, item := range data.Events {
		switch item.EventType {
		case protocol.EventNewMessage:
			msg, err := protocol.ParseMessage(item.EventData, myNumber)
			if err != nil {
				e.log.Error("skipping new_message event", zap.Error(err))
				continue
			}
			e.upgradeIfActive(msg, activeKey, receipts)
			if err := e.db.UpsertMessage(msg); err != nil {
				e.log.Error("insert event message", zap.String("id", msg.ID), zap.Error(err))
			}

		case protocol.EventMessageEdited:
			if err := e.applyEdit(item.EventData); err != nil {
				e.log.Warn("skipping message_edited event", zap.Error(err))
			}

		case protocol.EventMessageDeleted:
			if err := e.applyDelete(item.EventData); err != nil {
				e.log.Warn("skipping message_deleted event", zap.Error(err))
			}

		case "profile_updated", "group_updated", "group_created", "members_added", "members_removed":
			// Entity payloads in the same frame already carried the change.
			e.log.Debug("entity event", zap.String("type", item.EventType), zap.String("entity", item.EntityID))

		default:
			e.log.Warn("unhandled event type", zap.String("type", item.EventType))
		}
	}

	e.flushReceipts(receipts)
	return nil
}

// applyEntities upserts any user/bot/group/member records carried by a sync
// payload. Individual parse failures skip the record only.
func (e *Engine) applyEntities(data *protocol.SyncData) {
	var users []store.User
	for _, raw := range data.Users {
		if u, err := protocol.ParseUser(raw); err == nil {
			users = append(users, *u)
		} else {
			e.log.Error("skipping user record", zap.Error(err))
		}
	}
	var bots []store.Bot
	for _, raw := range data.Bots {
		if b, err := protocol.ParseBot(raw); err == nil {
			bots = append(bots, *b)
		} else {
			e.log.Error("skipping bot record", zap.Error(err))
		}
	}
	var groups []store.Group
	for _, raw := range data.Groups {
		if g, err := protocol.ParseGroup(raw); err == nil {
			groups = append(groups, *g)
		} else {
			e.log.Error("skipping group record", zap.Error(err))
		}
	}
	var members []store.GroupMember
	for _, raw := range data.GroupMembers {
		if m, err := protocol.ParseGroupMember(raw); err == nil {
			members = append(members, *m)
		} else {
			e.log.Error("skipping group member record", zap.Error(err))
		}
	}

	if err := e.db.BulkUpsertUsers(users); err != nil {
		e.log.Error("upsert users", zap.Error(err))
	}
	if err := e.db.BulkUpsertBots(bots); err != nil {
		e.log.Error("upsert bots", zap.Error(err))
	}
	if err := e.db.BulkUpsertGroups(groups); err != nil {
		e.log.Error("upsert groups", zap.Error(err))
	}
	if err := e.db.BulkUpsertGroupMembers(members); err != nil {
		e.log.Error("upsert group members", zap.Error(err))
	}
	if len(users)+len(bots)+len(groups)+len(members) > 0 {
		e.log.Info("entities updated",
			zap.Int("users", len(users)), zap.Int("bots", len(bots)),
			zap.Int("groups", len(groups)), zap.Int("members", len(members)))
	}
}

// MarkConversationRead upgrades every unread received message for the given
// routing key to lida and tells the server. Runs when a chat is activated so
// the backlog catches up; messages arriving afterwards are upgraded inline.
func (e *Engine) MarkConversationRead(key string) error {
	unread, err := e.db.UnreadMessagesForKey(key)
	if err != nil {
		return err
	}
	if len(unread) == 0 {
		return nil
	}

	ids := make([]string, 0, len(unread))
	receipts := newReceiptBatch()
	for _, msg := range unread {
		ids = append(ids, msg.ID)
		receipts.add(msg)
	}
	if err := e.db.MarkMessagesRead(ids); err != nil {
		return err
	}
	e.log.Info("conversation marked read", zap.String("key", key), zap.Int("messages", len(ids)))
	e.notifyChanged()

	e.flushReceipts(receipts)
	return nil
}

// handleNewMessage applies a single non-sync incoming message.
func (e *Engine) handleNewMessage(payload []byte) error {
	msg, err := protocol.ParseMessage(payload, e.creds.MyNumber())
	if err != nil {
		return err
	}

	activeKey := e.active.Get()
	if !msg.IsMine && msg.RoutingKey() == activeKey && msg.Status != store.StatusRead {
		msg.Status = store.StatusRead
		e.sendReceipt(msg.ConversationID, msg.GroupID, []string{msg.ID})
	}

	if err := e.db.UpsertMessage(msg); err != nil {
		return err
	}
	e.bus.Publish(bus.Event{Kind: "message.upserted", Timestamp: time.Now(), Payload: msg.ID})
	e.notifyChanged()

	if !msg.IsMine && msg.FileURL != "" && msg.LocalPath == "" {
		e.media.Download(msg.ID)
	}
	return nil
}

func (e *Engine) handleEdit(payload []byte) error {
	if err := e.applyEdit(payload); err != nil {
		return err
	}
	e.notifyChanged()
	return nil
}

func (e *Engine) applyEdit(payload []byte) error {
	var ev protocol.EditEvent
	if err := decodeStrictID(payload, &ev, func() string { return ev.ID }); err != nil {
		return err
	}
	if ev.Message == "" {
		return errEmptyEdit
	}
	ts := ev.DateNow
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	return e.db.UpdateEditedMessage(ev.ID, ev.Message, ts)
}

func (e *Engine) handleDelete(payload []byte) error {
	if err := e.applyDelete(payload); err != nil {
		return err
	}
	e.notifyChanged()
	return nil
}

func (e *Engine) applyDelete(payload []byte) error {
	var ev protocol.DeleteEvent
	if err := decodeStrictID(payload, &ev, func() string { return ev.ID }); err != nil {
		return err
	}
	if err := e.db.DeleteMessage(ev.ID); err != nil {
		return err
	}
	e.bus.Publish(bus.Event{Kind: "message.deleted", Timestamp: time.Now(), Payload: ev.ID})
	return nil
}

// handleStatusUpdate applies a server status change to one of my messages,
// respecting status precedence.
func (e *Engine) handleStatusUpdate(payload []byte) error {
	var upd protocol.StatusUpdate
	if err := decodeStrictID(payload, &upd, func() string { return upd.ID }); err != nil {
		return err
	}
	myNumber := e.creds.MyNumber()
	msg, err := e.db.GetMessage(upd.ID)
	if err != nil {
		return err
	}
	if msg == nil || !msg.IsMine || myNumber == "" {
		e.log.Debug("ignoring status update", zap.String("id", upd.ID))
		return nil
	}

	changed, err := e.db.UpdateStatusIfHigher(upd.ID, upd.Status)
	if err != nil {
		return err
	}
	if changed {
		e.log.Info("message status updated",
			zap.String("id", upd.ID), zap.String("status", upd.Status))
		e.notifyChanged()
	}
	return nil
}

// handleReadReceipt upgrades my messages named in a peer's receipt to lida.
// Receipts echoing my own reads are suppressed.
func (e *Engine) handleReadReceipt(payload []byte) error {
	var rr protocol.ReadReceipt
	if err := decodeJSON(payload, &rr); err != nil {
		return err
	}
	myNumber := e.creds.MyNumber()
	if myNumber == "" || rr.ReaderID == myNumber {
		e.log.Debug("ignoring read receipt", zap.String("reader", rr.ReaderID))
		return nil
	}

	var toUpdate []string
	for _, id := range rr.MessageIDs {
		msg, err := e.db.GetMessage(id)
		if err != nil {
			return err
		}
		if msg != nil && msg.IsMine && store.StatusRank(msg.Status) < store.StatusRank(store.StatusRead) {
			toUpdate = append(toUpdate, id)
		}
	}
	if len(toUpdate) == 0 {
		return nil
	}
	if err := e.db.MarkMessagesRead(toUpdate); err != nil {
		return err
	}
	e.log.Info("peer read receipt applied",
		zap.String("reader", rr.ReaderID), zap.Int("messages", len(toUpdate)))
	e.notifyChanged()
	return nil
}

// handleOnlineStatus updates a user's presence string, skipping redundant
// writes.
func (e *Engine) handleOnlineStatus(payload []byte) error {
	var os protocol.OnlineStatus
	if err := decodeJSON(payload, &os); err != nil {
		return err
	}
	if os.Number == "" {
		return errMissingNumber
	}
	user, err := e.db.GetUser(os.Number)
	if err != nil {
		return err
	}
	if user == nil {
		e.log.Warn("online status for unknown user", zap.String("number", os.Number))
		return nil
	}
	changed, err := e.db.UpdateUserLastOnline(os.Number, os.Status)
	if err != nil {
		return err
	}
	if changed {
		e.notifyChanged()
	}
	return nil
}

func (e *Engine) notifyChanged() {
	e.bus.Publish(bus.Event{Kind: "store.changed", Timestamp: time.Now()})
}

func truncate(raw []byte) []byte {
	if len(raw) > 500 {
		return raw[:500]
	}
	return raw
}
