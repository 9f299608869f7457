package store

import "database/sql"

// conversationsSQL builds the chat list entirely in SQL. Every known peer
// (user, bot, group) is a candidate row; the latest message per routing key
// and the unread tally are joined on. Candidates with neither a display name
// nor any message are dropped so half-synced peers do not surface.
const conversationsSQL = `
WITH participants AS (
    SELECT number AS id FROM users
    UNION
    SELECT bot_id AS id FROM bots
    UNION
    SELECT 'group_' || group_id AS id FROM groups
    UNION
    SELECT DISTINCT COALESCE(conversation_id, 'group_' || group_id) AS id FROM messages
),
latest AS (
    SELECT m.*
    FROM messages m
    JOIN (
        SELECT COALESCE(conversation_id, 'group_' || group_id) AS rk,
               MAX(timestamp) AS max_ts
        FROM messages
        GROUP BY rk
    ) t ON COALESCE(m.conversation_id, 'group_' || m.group_id) = t.rk
       AND m.timestamp = t.max_ts
    GROUP BY COALESCE(m.conversation_id, 'group_' || m.group_id)
),
unread AS (
    SELECT COALESCE(conversation_id, 'group_' || group_id) AS rk,
           COUNT(*) AS n
    FROM messages
    WHERE is_mine = 0 AND status <> 'lida'
    GROUP BY rk
)
SELECT
    p.id,
    CASE
        WHEN b.bot_id IS NOT NULL THEN 'BOT'
        WHEN g.group_id IS NOT NULL THEN 'GROUP'
        ELSE 'USER'
    END AS conv_type,
    COALESCE(u.username1, b.bot_name, g.group_name) AS display_name,
    COALESCE(u.profile_photo, b.profile_photo, g.group_icon) AS profile_photo,
    u.last_online,
    COALESCE(b.can_receive_messages, 1) AS can_receive_messages,
    lm.text,
    lm.type,
    lm.local_path,
    lm.timestamp,
    COALESCE(ur.n, 0) AS unread_count
FROM participants p
LEFT JOIN users u ON u.number = p.id
LEFT JOIN bots b ON b.bot_id = p.id
LEFT JOIN groups g ON 'group_' || g.group_id = p.id
LEFT JOIN latest lm ON COALESCE(lm.conversation_id, 'group_' || lm.group_id) = p.id
LEFT JOIN unread ur ON ur.rk = p.id
WHERE COALESCE(u.username1, b.bot_name, g.group_name) IS NOT NULL
   OR lm.id IS NOT NULL
ORDER BY lm.timestamp IS NULL, lm.timestamp DESC`

// Conversations returns the chat list, most recent activity first.
// Conversations without any message sort after those with one.
func (db *DB) Conversations() ([]*Conversation, error) {
	rows, err := db.Query(conversationsSQL)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []*Conversation
	for rows.Next() {
		var c Conversation
		var name, photo, online, text, typ, localPath sql.NullString
		var ts sql.NullInt64
		if err := rows.Scan(&c.ID, &c.Type, &name, &photo, &online, &c.CanReceiveMessages,
			&text, &typ, &localPath, &ts, &c.UnreadCount); err != nil {
			return nil, err
		}
		c.DisplayName = name.String
		c.ProfilePhoto = photo.String
		c.LastOnline = online.String
		c.LastMessageText = text.String
		c.LastMessageType = typ.String
		c.LastMessageLocalPath = localPath.String
		c.LastMessageAt = ts.Int64
		convs = append(convs, &c)
	}
	return convs, rows.Err()
}
