package bus

import "time"

// Event is a domain event published on the bus. Kind uses dotted
// namespaces ("cache.", "net.", "session.", "send.") so subscribers can
// filter by prefix.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds published by the courier daemon.
const (
	KindMessageUpserted  = "cache.message_upserted"
	KindBatchIngested    = "cache.batch_ingested"
	KindStatusUpdated    = "cache.status_updated"
	KindConversationSeen = "cache.conversation_seen"
	KindCacheCleared     = "cache.cleared"
	KindUserUpserted     = "cache.user_upserted"

	KindNetOnline  = "net.online"
	KindNetOffline = "net.offline"

	KindSendAck    = "send.ack"
	KindSendFailed = "send.failed"

	KindStatusChanged = "session.status_changed"
)
