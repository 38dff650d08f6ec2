// Package sync reconciles the local message cache with the remote
// gateway: optimistic sends, retry of pending messages, merged live
// conversation streams, and derived chat previews.
package sync

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/courier-im/courier/internal/bus"
	"github.com/courier-im/courier/internal/gateway"
	"github.com/courier-im/courier/internal/store"
)

// Options tunes the engine.
type Options struct {
	// HistoryWindow is how many messages per conversation a full sync pulls.
	HistoryWindow int
	// SearchLimit caps user search results when degrading to the local cache.
	SearchLimit int
}

// Engine owns the send, merge, and retry policies between the local
// cache store and the remote gateway. All cache mutation funnels through
// it; every mutation publishes a "cache." bus event so live streams
// re-evaluate their queries.
type Engine struct {
	db     *store.DB
	gw     gateway.Gateway
	bus    *bus.Bus
	logger *zap.Logger

	historyWindow int
	searchLimit   int
}

// NewEngine creates the synchronization engine.
func NewEngine(db *store.DB, gw gateway.Gateway, b *bus.Bus, logger *zap.Logger, opts Options) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = 50
	}
	if opts.SearchLimit <= 0 {
		opts.SearchLimit = 20
	}
	return &Engine{
		db:            db,
		gw:            gw,
		bus:           b,
		logger:        logger,
		historyWindow: opts.HistoryWindow,
		searchLimit:   opts.SearchLimit,
	}
}

// SendMessage persists a message optimistically and, when online,
// attempts remote delivery. Local durability precedes any network
// effect: a cache write failure aborts the call before the gateway is
// touched, and a gateway failure rolls the cached status back to pending
// for later retry. The cached (possibly pending) message is returned
// even when delivery fails.
func (e *Engine) SendMessage(ctx context.Context, ownerID, receiverID, text string, online bool) (*store.Message, error) {
	if ownerID == "" {
		return nil, ErrNotAuthenticated
	}

	m := &store.Message{
		ID:         uuid.NewString(),
		OwnerID:    ownerID,
		PartnerID:  receiverID,
		SenderID:   ownerID,
		ReceiverID: receiverID,
		Body:       text,
		FromMe:     true,
		Timestamp:  time.Now().UnixMilli(),
		Status:     store.StatusPending,
	}
	if online {
		m.Status = store.StatusSent
	}

	if err := e.db.UpsertMessage(m); err != nil {
		return nil, fmt.Errorf("%w: persist message: %w", ErrLocalPersistence, err)
	}
	e.publish(bus.KindMessageUpserted, eventRef(m))

	if !online {
		// Stays pending; the retry watcher picks it up on reconnect.
		return m, nil
	}

	if _, err := e.gw.Send(ctx, m); err != nil {
		m.Status = store.StatusPending
		if uerr := e.db.UpdateMessageStatus(m.ID, ownerID, store.StatusPending); uerr != nil {
			e.logger.Error("rollback to pending failed", zap.String("msg_id", m.ID), zap.Error(uerr))
		}
		e.publish(bus.KindStatusUpdated, eventRef(m))
		e.publish(bus.KindSendFailed, map[string]string{"msg_id": m.ID, "error": err.Error()})
		return m, fmt.Errorf("%w: %w", ErrRemoteDelivery, err)
	}

	e.publish(bus.KindSendAck, eventRef(m))
	return m, nil
}

// SyncPendingMessages retries remote delivery of every pending message
// for the owner. Individual failures are logged and skipped; the call
// itself only fails when the pending set cannot be read. Retries send
// with each row's stored sender id, which may differ from ownerID for
// rows cached before an account switch.
func (e *Engine) SyncPendingMessages(ctx context.Context, ownerID string) error {
	if ownerID == "" {
		return ErrNotAuthenticated
	}

	pending, err := e.db.PendingMessages(ownerID)
	if err != nil {
		return fmt.Errorf("%w: read pending: %w", ErrLocalPersistence, err)
	}

	for i := range pending {
		m := pending[i]
		m.Status = store.StatusSent
		if _, err := e.gw.Send(ctx, &m); err != nil {
			e.logger.Warn("pending retry failed", zap.String("msg_id", m.ID), zap.Error(err))
			e.publish(bus.KindSendFailed, map[string]string{"msg_id": m.ID, "error": err.Error()})
			continue
		}
		if err := e.db.UpdateMessageStatus(m.ID, ownerID, store.StatusSent); err != nil {
			e.logger.Error("mark sent failed", zap.String("msg_id", m.ID), zap.Error(err))
			continue
		}
		e.publish(bus.KindStatusUpdated, eventRef(&m))
		e.publish(bus.KindSendAck, eventRef(&m))
	}
	return nil
}

// SyncAllConversations pulls a bounded history window for every remote
// conversation of the owner and writes it through to the cache, caching
// each partner's user snapshot along the way. Per-partner failures are
// logged and do not abort the remaining partners.
func (e *Engine) SyncAllConversations(ctx context.Context, ownerID string) error {
	if ownerID == "" {
		return ErrNotAuthenticated
	}

	partners, err := e.gw.ListConversationPartners(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("list conversation partners: %w", err)
	}

	for _, partnerID := range partners {
		if err := e.syncConversation(ctx, ownerID, partnerID); err != nil {
			e.logger.Warn("conversation sync failed",
				zap.String("partner", partnerID), zap.Error(err))
		}
	}
	return nil
}

func (e *Engine) syncConversation(ctx context.Context, ownerID, partnerID string) error {
	history, err := e.gw.FetchHistory(ctx, ownerID, partnerID, e.historyWindow)
	if err != nil {
		return fmt.Errorf("fetch history: %w", err)
	}
	history = sortAndTruncate(history, e.historyWindow)
	if len(history) > 0 {
		if err := e.db.UpsertMessages(history); err != nil {
			return fmt.Errorf("write through: %w", err)
		}
		e.publish(bus.KindBatchIngested, map[string]string{"partner_id": partnerID})
	}

	if u, err := e.gw.FindUser(ctx, partnerID); err == nil && u != nil {
		e.cacheUser(u)
	}
	return nil
}

// MarkMessagesAsSeen moves every cached message from the partner to seen
// locally, then mirrors the change remotely best-effort. The local state
// is authoritative for the caller, so a gateway failure is swallowed.
func (e *Engine) MarkMessagesAsSeen(ctx context.Context, ownerID, partnerID string) error {
	if ownerID == "" {
		return ErrNotAuthenticated
	}

	if err := e.db.MarkConversationSeen(ownerID, partnerID); err != nil {
		return fmt.Errorf("%w: mark seen: %w", ErrLocalPersistence, err)
	}
	e.publish(bus.KindConversationSeen, map[string]string{"owner_id": ownerID, "partner_id": partnerID})

	if err := e.gw.MarkSeen(ctx, ownerID, partnerID); err != nil {
		e.logger.Warn("remote mark seen failed",
			zap.String("partner", partnerID), zap.Error(err))
	}
	return nil
}

// ClearLocalData deletes the owner's cache partition on logout. An empty
// owner wipes the whole message cache, a defensive fallback for corrupted
// session state.
func (e *Engine) ClearLocalData(ownerID string) error {
	var err error
	if ownerID == "" {
		e.logger.Warn("no owner on logout, wiping entire message cache")
		err = e.db.DeleteAllMessages()
	} else {
		err = e.db.DeleteOwner(ownerID)
	}
	if err != nil {
		return fmt.Errorf("%w: clear cache: %w", ErrLocalPersistence, err)
	}
	e.publish(bus.KindCacheCleared, map[string]string{"owner_id": ownerID})
	return nil
}

// SearchUsers queries the remote directory, writing results through to
// the cache. When the gateway is unreachable it degrades to the cached
// snapshots instead of failing.
func (e *Engine) SearchUsers(ctx context.Context, ownerID, query string) ([]store.User, error) {
	if ownerID == "" {
		return nil, ErrNotAuthenticated
	}

	users, err := e.gw.SearchUsers(ctx, ownerID, query)
	if err != nil {
		e.logger.Warn("directory search degraded to cache", zap.Error(err))
		return e.db.SearchUsers(query, e.searchLimit)
	}
	if len(users) > 0 {
		if err := e.db.UpsertUsers(users); err != nil {
			e.logger.Warn("cache search results failed", zap.Error(err))
		} else {
			e.publish(bus.KindUserUpserted, map[string]string{"count": fmt.Sprint(len(users))})
		}
	}
	return users, nil
}

// resolveUser returns the partner's snapshot from cache, falling back to
// a remote lookup with write-through. Total failure yields a bare
// placeholder so previews still render.
func (e *Engine) resolveUser(ctx context.Context, id string) store.User {
	if u, err := e.db.GetUser(id); err == nil && u != nil {
		return *u
	}
	u, err := e.gw.FindUser(ctx, id)
	if err != nil || u == nil {
		if err != nil {
			e.logger.Warn("user lookup failed", zap.String("user", id), zap.Error(err))
		}
		return store.User{ID: id}
	}
	e.cacheUser(u)
	return *u
}

func (e *Engine) cacheUser(u *store.User) {
	if err := e.db.UpsertUser(u); err != nil {
		e.logger.Warn("cache user failed", zap.String("user", u.ID), zap.Error(err))
		return
	}
	e.publish(bus.KindUserUpserted, map[string]string{"user_id": u.ID})
}

func (e *Engine) publish(kind string, payload any) {
	e.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

func eventRef(m *store.Message) map[string]string {
	return map[string]string{
		"msg_id":     m.ID,
		"owner_id":   m.OwnerID,
		"partner_id": m.PartnerID,
		"status":     m.Status.String(),
	}
}

// sortAndTruncate orders msgs ascending by timestamp and keeps the last
// limit entries. The gateway's history fetch is unordered.
func sortAndTruncate(msgs []store.Message, limit int) []store.Message {
	sort.Slice(msgs, func(i, j int) bool {
		if msgs[i].Timestamp != msgs[j].Timestamp {
			return msgs[i].Timestamp < msgs[j].Timestamp
		}
		return msgs[i].ID < msgs[j].ID
	})
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs
}
