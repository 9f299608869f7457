package bus

import "time"

// Event represents a domain event published on the bus.
//
// Kind namespaces used across the daemon:
//
//	conn.*    raw frames and connection lifecycle (conn.frame, conn.state_changed)
//	message.* per-message store changes (message.upserted, message.deleted)
//	store.*   coarse store invalidation (store.changed)
//	chats.*   conversation read model snapshots (chats.updated)
//	chat.*    active chat tracking (chat.activated)
//	session.* auth lifecycle (session.auth_failed)
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
