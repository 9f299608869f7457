package store

import (
	"database/sql"
	"fmt"
	"time"
)

const upsertUserSQL = `
	INSERT INTO users (number, username1, username2, profile_photo, last_online, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(number) DO UPDATE SET
		username1 = excluded.username1,
		username2 = excluded.username2,
		profile_photo = excluded.profile_photo,
		last_online = excluded.last_online,
		updated_at = excluded.updated_at`

// UpsertUser inserts or replaces a user record wholesale.
func (db *DB) UpsertUser(u *User) error {
	_, err := db.Exec(upsertUserSQL,
		u.Number, nullStr(u.Username1), nullStr(u.Username2), nullStr(u.ProfilePhoto),
		nullStr(u.LastOnline), time.Now().UnixMilli())
	return err
}

// BulkUpsertUsers inserts or replaces multiple users in a single transaction.
func (db *DB) BulkUpsertUsers(users []User) error {
	if len(users) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, u := range users {
		if _, err := tx.Exec(upsertUserSQL,
			u.Number, nullStr(u.Username1), nullStr(u.Username2), nullStr(u.ProfilePhoto),
			nullStr(u.LastOnline), now); err != nil {
			return fmt.Errorf("upsert user %q: %w", u.Number, err)
		}
	}
	return tx.Commit()
}

// GetUser returns a user by number, nil if missing.
func (db *DB) GetUser(number string) (*User, error) {
	var u User
	var u1, u2, photo, online sql.NullString
	err := db.QueryRow(`SELECT number, username1, username2, profile_photo, last_online FROM users WHERE number = ?`, number).
		Scan(&u.Number, &u1, &u2, &photo, &online)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.Username1, u.Username2, u.ProfilePhoto, u.LastOnline = u1.String, u2.String, photo.String, online.String
	return &u, nil
}

// UpdateUserLastOnline sets the online-status string, skipping the write when
// the value is unchanged. Returns whether a row changed.
func (db *DB) UpdateUserLastOnline(number, status string) (bool, error) {
	res, err := db.Exec(`
		UPDATE users SET last_online = ?, updated_at = ?
		WHERE number = ? AND (last_online IS NULL OR last_online <> ?)`,
		status, time.Now().UnixMilli(), number, status)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

const upsertBotSQL = `
	INSERT INTO bots (bot_id, bot_name, bio, profile_photo, can_receive_messages, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(bot_id) DO UPDATE SET
		bot_name = excluded.bot_name,
		bio = excluded.bio,
		profile_photo = excluded.profile_photo,
		can_receive_messages = excluded.can_receive_messages,
		updated_at = excluded.updated_at`

// UpsertBot inserts or replaces a bot record wholesale.
func (db *DB) UpsertBot(b *Bot) error {
	_, err := db.Exec(upsertBotSQL,
		b.ID, nullStr(b.Name), nullStr(b.Bio), nullStr(b.ProfilePhoto), b.CanReceiveMessages,
		time.Now().UnixMilli())
	return err
}

// BulkUpsertBots inserts or replaces multiple bots in a single transaction.
func (db *DB) BulkUpsertBots(bots []Bot) error {
	if len(bots) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, b := range bots {
		if _, err := tx.Exec(upsertBotSQL,
			b.ID, nullStr(b.Name), nullStr(b.Bio), nullStr(b.ProfilePhoto), b.CanReceiveMessages, now); err != nil {
			return fmt.Errorf("upsert bot %q: %w", b.ID, err)
		}
	}
	return tx.Commit()
}

const upsertGroupSQL = `
	INSERT INTO groups (group_id, group_name, group_icon, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(group_id) DO UPDATE SET
		group_name = excluded.group_name,
		group_icon = excluded.group_icon,
		updated_at = excluded.updated_at`

// UpsertGroup inserts or replaces a group record wholesale.
func (db *DB) UpsertGroup(g *Group) error {
	_, err := db.Exec(upsertGroupSQL, g.ID, nullStr(g.Name), nullStr(g.Icon), time.Now().UnixMilli())
	return err
}

// BulkUpsertGroups inserts or replaces multiple groups in a single transaction.
func (db *DB) BulkUpsertGroups(groups []Group) error {
	if len(groups) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, g := range groups {
		if _, err := tx.Exec(upsertGroupSQL, g.ID, nullStr(g.Name), nullStr(g.Icon), now); err != nil {
			return fmt.Errorf("upsert group %d: %w", g.ID, err)
		}
	}
	return tx.Commit()
}

// BulkUpsertGroupMembers inserts membership edges, ignoring duplicates.
func (db *DB) BulkUpsertGroupMembers(members []GroupMember) error {
	if len(members) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, m := range members {
		if _, err := tx.Exec(`INSERT OR REPLACE INTO group_members (group_id, user_number) VALUES (?, ?)`,
			m.GroupID, m.UserNumber); err != nil {
			return fmt.Errorf("upsert member %d/%s: %w", m.GroupID, m.UserNumber, err)
		}
	}
	return tx.Commit()
}

// GroupMembers returns the member numbers of a group.
func (db *DB) GroupMembers(groupID int64) ([]string, error) {
	rows, err := db.Query(`SELECT user_number FROM group_members WHERE group_id = ? ORDER BY user_number`, groupID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var members []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		members = append(members, n)
	}
	return members, rows.Err()
}

// ClearUsers wipes the users table (full sync).
func (db *DB) ClearUsers() error {
	_, err := db.Exec(`DELETE FROM users`)
	return err
}

// ClearBots wipes the bots table (full sync).
func (db *DB) ClearBots() error {
	_, err := db.Exec(`DELETE FROM bots`)
	return err
}

// ClearGroups wipes the groups table (full sync).
func (db *DB) ClearGroups() error {
	_, err := db.Exec(`DELETE FROM groups`)
	return err
}

// ClearGroupMembers wipes the group_members table (full sync).
func (db *DB) ClearGroupMembers() error {
	_, err := db.Exec(`DELETE FROM group_members`)
	return err
}
