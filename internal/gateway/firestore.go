package gateway

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/courier-im/courier/internal/store"
)

const (
	chatsCollection = "chats"
	usersCollection = "users"

	// searchScanLimit bounds how many directory rows a search reads before
	// client-side substring filtering. Firestore has no substring queries.
	searchScanLimit = 200
)

// Firestore implements Gateway on top of Cloud Firestore. Conversations
// are mirrored under chats/{uid}/{peer}/{msgID} for both participants,
// which is the layout the mobile clients write.
type Firestore struct {
	client      *firestore.Client
	logger      *zap.Logger
	searchLimit int
}

// NewFirestore connects to the project's Firestore database.
// credentialsFile may be empty to use application default credentials.
func NewFirestore(ctx context.Context, projectID, credentialsFile string, searchLimit int, logger *zap.Logger) (*Firestore, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("firestore client: %w", err)
	}
	if searchLimit <= 0 {
		searchLimit = 20
	}
	return &Firestore{client: client, logger: logger, searchLimit: searchLimit}, nil
}

// Close releases the underlying client.
func (g *Firestore) Close() error {
	return g.client.Close()
}

// messageDoc is the wire form of a message document. Owner and partner
// are implied by the document path, not stored.
type messageDoc struct {
	ID         string `firestore:"id"`
	SenderID   string `firestore:"senderId"`
	ReceiverID string `firestore:"receiverId"`
	Body       string `firestore:"text"`
	Status     int    `firestore:"status"`
	Timestamp  int64  `firestore:"timestamp"`
}

type userDoc struct {
	ID        string `firestore:"id"`
	Name      string `firestore:"name"`
	Contact   string `firestore:"contact"`
	AvatarURL string `firestore:"avatarUrl"`
}

func (g *Firestore) conversation(ownerID, partnerID string) *firestore.CollectionRef {
	return g.client.Collection(chatsCollection).Doc(ownerID).Collection(partnerID)
}

func (d *messageDoc) toMessage(ownerID, partnerID string) store.Message {
	return store.Message{
		ID:         d.ID,
		OwnerID:    ownerID,
		PartnerID:  partnerID,
		SenderID:   d.SenderID,
		ReceiverID: d.ReceiverID,
		Body:       d.Body,
		Status:     store.Status(d.Status),
		FromMe:     d.SenderID == ownerID,
		Timestamp:  d.Timestamp,
	}
}

func docFromMessage(m *store.Message) messageDoc {
	return messageDoc{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Body:       m.Body,
		Status:     int(m.Status),
		Timestamp:  m.Timestamp,
	}
}

// Send writes the message to both participants' conversation mirrors in
// one batch, so either side's stream observes it.
func (g *Firestore) Send(ctx context.Context, m *store.Message) (string, error) {
	doc := docFromMessage(m)
	b := g.client.Batch()
	b.Set(g.conversation(m.SenderID, m.ReceiverID).Doc(m.ID), doc)
	b.Set(g.conversation(m.ReceiverID, m.SenderID).Doc(m.ID), doc)
	if _, err := b.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit message %s: %w", m.ID, err)
	}
	return m.ID, nil
}

// StreamMessages emits the full conversation snapshot on every remote
// change. The channel closes on ctx cancellation or subscription failure.
func (g *Firestore) StreamMessages(ctx context.Context, ownerID, partnerID string) (<-chan []store.Message, error) {
	snaps := g.conversation(ownerID, partnerID).Snapshots(ctx)
	out := make(chan []store.Message, 1)

	go func() {
		defer close(out)
		defer snaps.Stop()
		for {
			snap, err := snaps.Next()
			if err != nil {
				if grpcstatus.Code(err) != codes.Canceled {
					g.logger.Warn("message stream ended",
						zap.String("partner", partnerID), zap.Error(err))
				}
				return
			}
			msgs, err := collectMessages(snap.Documents, ownerID, partnerID)
			if err != nil {
				g.logger.Warn("decode snapshot", zap.Error(err))
				continue
			}
			select {
			case out <- msgs:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// FetchHistory returns up to limit messages of the conversation. The
// result is unordered; the caller sorts and truncates by timestamp.
func (g *Firestore) FetchHistory(ctx context.Context, ownerID, partnerID string, limit int) ([]store.Message, error) {
	q := g.conversation(ownerID, partnerID).Query
	if limit > 0 {
		q = q.Limit(limit)
	}
	return collectMessages(q.Documents(ctx), ownerID, partnerID)
}

// ListConversationPartners lists the peer ids under the owner's chats
// document.
func (g *Firestore) ListConversationPartners(ctx context.Context, ownerID string) ([]string, error) {
	it := g.client.Collection(chatsCollection).Doc(ownerID).Collections(ctx)
	var ids []string
	for {
		col, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list partners: %w", err)
		}
		ids = append(ids, col.ID)
	}
	sort.Strings(ids)
	return ids, nil
}

// MarkSeen marks every message from the partner as seen on both mirrors.
func (g *Firestore) MarkSeen(ctx context.Context, ownerID, partnerID string) error {
	docs, err := g.conversation(ownerID, partnerID).
		Where("senderId", "==", partnerID).
		Documents(ctx).GetAll()
	if err != nil {
		return fmt.Errorf("query unseen: %w", err)
	}

	b := g.client.Batch()
	dirty := false
	for _, doc := range docs {
		var d messageDoc
		if err := doc.DataTo(&d); err != nil {
			continue
		}
		if store.Status(d.Status) == store.StatusSeen {
			continue
		}
		update := []firestore.Update{{Path: "status", Value: int(store.StatusSeen)}}
		b.Update(g.conversation(ownerID, partnerID).Doc(d.ID), update)
		b.Update(g.conversation(partnerID, ownerID).Doc(d.ID), update)
		dirty = true
	}
	if !dirty {
		return nil
	}
	if _, err := b.Commit(ctx); err != nil {
		return fmt.Errorf("commit seen: %w", err)
	}
	return nil
}

// FindUser looks up a directory user. Missing users are (nil, nil).
func (g *Firestore) FindUser(ctx context.Context, id string) (*store.User, error) {
	doc, err := g.client.Collection(usersCollection).Doc(id).Get(ctx)
	if grpcstatus.Code(err) == codes.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	var d userDoc
	if err := doc.DataTo(&d); err != nil {
		return nil, fmt.Errorf("decode user %s: %w", id, err)
	}
	u := userFromDoc(&d, doc.Ref.ID)
	return &u, nil
}

// SearchUsers scans a bounded window of the directory and filters by
// case-insensitive substring on name or contact, excluding the caller.
func (g *Firestore) SearchUsers(ctx context.Context, callerID, query string) ([]store.User, error) {
	docs, err := g.client.Collection(usersCollection).
		Limit(searchScanLimit).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("scan users: %w", err)
	}

	needle := strings.ToLower(query)
	var users []store.User
	for _, doc := range docs {
		var d userDoc
		if err := doc.DataTo(&d); err != nil {
			continue
		}
		u := userFromDoc(&d, doc.Ref.ID)
		if u.ID == callerID {
			continue
		}
		if !strings.Contains(strings.ToLower(u.Name), needle) &&
			!strings.Contains(strings.ToLower(u.Contact), needle) {
			continue
		}
		users = append(users, u)
		if len(users) >= g.searchLimit {
			break
		}
	}
	return users, nil
}

func userFromDoc(d *userDoc, refID string) store.User {
	id := d.ID
	if id == "" {
		id = refID
	}
	return store.User{ID: id, Name: d.Name, Contact: d.Contact, AvatarURL: d.AvatarURL}
}

func collectMessages(it *firestore.DocumentIterator, ownerID, partnerID string) ([]store.Message, error) {
	docs, err := it.GetAll()
	if err != nil {
		return nil, err
	}
	msgs := make([]store.Message, 0, len(docs))
	for _, doc := range docs {
		var d messageDoc
		if err := doc.DataTo(&d); err != nil {
			return nil, fmt.Errorf("decode message %s: %w", doc.Ref.ID, err)
		}
		if d.ID == "" {
			d.ID = doc.Ref.ID
		}
		msgs = append(msgs, d.toMessage(ownerID, partnerID))
	}
	return msgs, nil
}
