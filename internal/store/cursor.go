package store

import (
	"database/sql"
	"strconv"
	"time"
)

const lastEventIDKey = "last_event_id"

// LastEventID returns the sync cursor, 0 when never set.
func (db *DB) LastEventID() (int64, error) {
	var raw string
	err := db.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, lastEventIDKey).Scan(&raw)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, nil
	}
	return id, nil
}

// AdvanceLastEventID moves the cursor forward. Values at or below the current
// cursor are ignored so replayed frames never rewind it.
func (db *DB) AdvanceLastEventID(id int64) error {
	cur, err := db.LastEventID()
	if err != nil {
		return err
	}
	if id <= cur {
		return nil
	}
	return db.setLastEventID(id)
}

// ResetLastEventID overwrites the cursor unconditionally. Only a full snapshot
// is allowed to move it backward.
func (db *DB) ResetLastEventID(id int64) error {
	return db.setLastEventID(id)
}

func (db *DB) setLastEventID(id int64) error {
	_, err := db.Exec(`
		INSERT INTO sync_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		lastEventIDKey, strconv.FormatInt(id, 10), time.Now().UnixMilli())
	return err
}
