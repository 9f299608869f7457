package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(v int64) any {
	if v <= 0 {
		return nil
	}
	return v
}

const messageColumns = `id, conversation_id, group_id, sender_id, receiver_id, text, timestamp,
	status, is_mine, type, file_url, file_size, local_path, download_status,
	download_progress, upload_progress`

func scanMessage(row interface{ Scan(...any) error }) (*Message, error) {
	var m Message
	var convID, recvID, fileURL, localPath, dlStatus sql.NullString
	var groupID, fileSize sql.NullInt64
	err := row.Scan(&m.ID, &convID, &groupID, &m.SenderID, &recvID, &m.Text, &m.Timestamp,
		&m.Status, &m.IsMine, &m.Type, &fileURL, &fileSize, &localPath, &dlStatus,
		&m.DownloadProg, &m.UploadProg)
	if err != nil {
		return nil, err
	}
	m.ConversationID = convID.String
	m.GroupID = groupID.Int64
	m.ReceiverID = recvID.String
	m.FileURL = fileURL.String
	m.FileSize = fileSize.Int64
	m.LocalPath = localPath.String
	m.DownloadStatus = dlStatus.String
	return &m, nil
}

const upsertMessageSQL = `
	INSERT INTO messages (id, conversation_id, group_id, sender_id, receiver_id, text, timestamp,
		status, is_mine, type, file_url, file_size, local_path, download_status,
		download_progress, upload_progress, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		text = excluded.text,
		timestamp = excluded.timestamp,
		status = excluded.status,
		file_url = excluded.file_url,
		file_size = excluded.file_size,
		download_status = excluded.download_status,
		download_progress = excluded.download_progress,
		upload_progress = excluded.upload_progress`

func messageArgs(m *Message, now int64) []any {
	return []any{
		m.ID, nullStr(m.ConversationID), nullInt(m.GroupID), m.SenderID, nullStr(m.ReceiverID),
		m.Text, m.Timestamp, m.Status, m.IsMine, m.Type, nullStr(m.FileURL), nullInt(m.FileSize),
		nullStr(m.LocalPath), nullStr(m.DownloadStatus), m.DownloadProg, m.UploadProg, now,
	}
}

// UpsertMessage inserts or updates a message by id.
func (db *DB) UpsertMessage(m *Message) error {
	_, err := db.Exec(upsertMessageSQL, messageArgs(m, time.Now().UnixMilli())...)
	return err
}

// InsertMessages upserts a batch of messages in a single transaction.
func (db *DB) InsertMessages(msgs []*Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, m := range msgs {
		if _, err := tx.Exec(upsertMessageSQL, messageArgs(m, now)...); err != nil {
			return fmt.Errorf("upsert message %q: %w", m.ID, err)
		}
	}
	return tx.Commit()
}

// GetMessage returns a message by id, nil if missing.
func (db *DB) GetMessage(id string) (*Message, error) {
	m, err := scanMessage(db.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// MessagesForKey returns messages for a routing key (peer id or "group_<id>"),
// oldest first.
func (db *DB) MessagesForKey(key string, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT `+messageColumns+` FROM messages
		WHERE COALESCE(conversation_id, 'group_' || group_id) = ?
		ORDER BY timestamp ASC, id ASC
		LIMIT ?`, key, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// UnreadMessagesForKey returns received messages not yet read for a routing
// key, oldest first.
func (db *DB) UnreadMessagesForKey(key string) ([]*Message, error) {
	rows, err := db.Query(`
		SELECT `+messageColumns+` FROM messages
		WHERE COALESCE(conversation_id, 'group_' || group_id) = ?
		  AND is_mine = 0 AND status <> 'lida'
		ORDER BY timestamp ASC, id ASC`, key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// DeleteMessage removes a message by id. Hard delete, no tombstone.
func (db *DB) DeleteMessage(id string) error {
	_, err := db.Exec(`DELETE FROM messages WHERE id = ?`, id)
	return err
}

// UpdateMessageStatus sets a message status unconditionally.
func (db *DB) UpdateMessageStatus(id, status string) error {
	_, err := db.Exec(`UPDATE messages SET status = ? WHERE id = ?`, status, id)
	return err
}

// Mirrors StatusRank; both must change together.
const statusRankSQL = `CASE lower(%s)
	WHEN 'sending' THEN 0
	WHEN 'enviada' THEN 1
	WHEN 'recebida' THEN 2
	WHEN 'lida' THEN 3
	WHEN 'falhou' THEN -1
	WHEN 'failed_edit' THEN -1
	ELSE -2 END`

// UpdateStatusIfHigher applies a status only when it ranks strictly above the
// current one, or when it is 'falhou' (failures always override). Returns
// whether the row changed. This is the sole ordering defense against
// out-of-order status delivery.
func (db *DB) UpdateStatusIfHigher(id, status string) (bool, error) {
	q := fmt.Sprintf(`UPDATE messages SET status = ? WHERE id = ? AND (lower(?) = 'falhou' OR %s < %s)`,
		fmt.Sprintf(statusRankSQL, "status"), fmt.Sprintf(statusRankSQL, "?"))
	res, err := db.Exec(q, status, id, status, status)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// UpdateEditedMessage rewrites text and timestamp and marks the message
// 'editada'.
func (db *DB) UpdateEditedMessage(id, text string, timestamp int64) error {
	_, err := db.Exec(`UPDATE messages SET text = ?, status = ?, timestamp = ? WHERE id = ?`,
		text, StatusEdited, timestamp, id)
	return err
}

// MarkMessagesRead upgrades the given messages to 'lida', but only those
// currently below it in precedence. Terminal and unknown statuses stay put.
func (db *DB) MarkMessagesRead(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	q := fmt.Sprintf(`UPDATE messages SET status = 'lida' WHERE id IN (%s) AND %s BETWEEN 0 AND 2`,
		placeholders, fmt.Sprintf(statusRankSQL, "status"))
	_, err := db.Exec(q, args...)
	return err
}

// UpdateUploadProgress stores the upload percentage for a message.
func (db *DB) UpdateUploadProgress(id string, pct int) error {
	_, err := db.Exec(`UPDATE messages SET upload_progress = ? WHERE id = ?`, pct, id)
	return err
}

// UpdateUploadedFile records the server-assigned file details after upload.
func (db *DB) UpdateUploadedFile(id, fileURL string, fileSize int64, status string) error {
	_, err := db.Exec(`UPDATE messages SET file_url = ?, file_size = ?, status = ? WHERE id = ?`,
		nullStr(fileURL), nullInt(fileSize), status, id)
	return err
}

// UpdateDownloadState stores the download status and percentage.
func (db *DB) UpdateDownloadState(id, status string, pct int) error {
	_, err := db.Exec(`UPDATE messages SET download_status = ?, download_progress = ? WHERE id = ?`,
		nullStr(status), pct, id)
	return err
}

// UpdateLocalPath records where a downloaded file landed.
func (db *DB) UpdateLocalPath(id, path string) error {
	_, err := db.Exec(`UPDATE messages SET local_path = ? WHERE id = ?`, nullStr(path), id)
	return err
}

// ClearMessages wipes the messages table (full sync).
func (db *DB) ClearMessages() error {
	_, err := db.Exec(`DELETE FROM messages`)
	return err
}

// MessageCount returns the total number of messages.
func (db *DB) MessageCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}
