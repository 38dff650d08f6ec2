package store

// Status is the delivery lifecycle of a message. The numeric order is
// significant: merge logic only ever moves a message's status forward.
type Status int

const (
	StatusPending Status = iota
	StatusSent
	StatusDelivered
	StatusSeen
)

var statusNames = [...]string{"pending", "sent", "delivered", "seen"}

func (s Status) String() string {
	if s < StatusPending || s > StatusSeen {
		return "unknown"
	}
	return statusNames[s]
}

// Message is a cached one-to-one chat message. OwnerID is the locally
// authenticated account that cached the row; PartnerID is the other
// participant and the cache's grouping key. (ID, OwnerID) is unique.
type Message struct {
	ID         string
	OwnerID    string
	PartnerID  string
	SenderID   string
	ReceiverID string
	Body       string
	Status     Status
	FromMe     bool
	Timestamp  int64
}

// User is a denormalized snapshot of a directory user, kept so message
// lists render offline. CachedAt drives freshness-based pruning.
type User struct {
	ID        string
	Name      string
	Contact   string
	AvatarURL string
	CachedAt  int64
}
