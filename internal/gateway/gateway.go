// Package gateway defines the boundary to the remote message store and
// user directory. The sync engine depends only on the Gateway interface;
// the Firestore implementation lives alongside it.
package gateway

import (
	"context"

	"github.com/courier-im/courier/internal/store"
)

// Gateway is the remote message store and user directory contract.
//
// StreamMessages re-emits the full conversation snapshot on any change
// under the (owner, partner) path. FetchHistory returns an unordered
// slice; callers sort and truncate. All errors cross this boundary as
// plain error values, never panics.
type Gateway interface {
	// Send delivers a message remotely. Returns the acknowledged message id.
	Send(ctx context.Context, m *store.Message) (string, error)

	// StreamMessages subscribes to the conversation between owner and
	// partner. The channel closes when ctx is cancelled or the
	// subscription fails; each element is a full snapshot.
	StreamMessages(ctx context.Context, ownerID, partnerID string) (<-chan []store.Message, error)

	// FetchHistory returns up to limit messages of the conversation,
	// unordered.
	FetchHistory(ctx context.Context, ownerID, partnerID string, limit int) ([]store.Message, error)

	// ListConversationPartners returns the ids of every user the owner
	// has a conversation with.
	ListConversationPartners(ctx context.Context, ownerID string) ([]string, error)

	// MarkSeen marks every message from partner to owner as seen,
	// remotely, on both participants' mirrors.
	MarkSeen(ctx context.Context, ownerID, partnerID string) error

	// FindUser looks up a directory user. Returns (nil, nil) when the
	// user does not exist.
	FindUser(ctx context.Context, id string) (*store.User, error)

	// SearchUsers performs a case-insensitive substring match on display
	// names, excluding the caller's own id.
	SearchUsers(ctx context.Context, callerID, query string) ([]store.User, error)
}
