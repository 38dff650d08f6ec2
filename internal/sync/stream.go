package sync

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/courier-im/courier/internal/store"
)

// ChatPreview is a derived, non-persisted view of one conversation: the
// partner's snapshot, the most recent message, and the unread count.
type ChatPreview struct {
	Partner     store.User
	LastMessage store.Message
	Unread      int
}

// WatchChat returns a live merged view of one conversation. The first
// emission is the current local snapshot, produced before the remote
// subscription initializes so cached history shows instantly. After
// that, any cache change or remote push recomputes the merged list; an
// empty or failed remote is treated as "no remote data" and the local
// list is emitted unchanged, so the stream never dies from remote
// failure. Consecutive duplicate emissions are suppressed. Cancel ctx to
// release both underlying subscriptions.
func (e *Engine) WatchChat(ctx context.Context, ownerID, partnerID string) (<-chan []store.Message, error) {
	if ownerID == "" {
		return nil, ErrNotAuthenticated
	}

	local, err := e.db.ListChatMessages(ownerID, partnerID)
	if err != nil {
		return nil, fmt.Errorf("%w: read conversation: %w", ErrLocalPersistence, err)
	}

	out := make(chan []store.Message, 1)
	out <- local

	events, unsub := e.bus.Subscribe("cache.", 64)

	remote, err := e.gw.StreamMessages(ctx, ownerID, partnerID)
	if err != nil {
		// Degraded: merged view falls back to cache-only.
		e.logger.Warn("remote subscription failed, serving cache only",
			zap.String("partner", partnerID), zap.Error(err))
		remote = nil
	}

	go func() {
		defer close(out)
		defer unsub()

		last := local
		var latestRemote []store.Message

		for {
			select {
			case <-ctx.Done():
				return
			case <-events:
				// Cache changed; fall through to recompute.
			case snapshot, ok := <-remote:
				if !ok {
					// Remote stream died: keep serving local data.
					remote = nil
					latestRemote = nil
					continue
				}
				latestRemote = snapshot
			}

			current, err := e.db.ListChatMessages(ownerID, partnerID)
			if err != nil {
				e.logger.Warn("conversation requery failed", zap.Error(err))
				continue
			}
			merged := current
			if len(latestRemote) > 0 {
				merged = e.mergeRemote(current, latestRemote)
			}
			if slices.Equal(last, merged) {
				continue
			}
			last = merged

			select {
			case out <- merged:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// WatchPreviews returns a live list of conversation previews for the
// owner, newest conversation first, recomputed on every cache change.
// Load failures degrade to an empty emission; the stream itself never
// fails once established.
func (e *Engine) WatchPreviews(ctx context.Context, ownerID string) (<-chan []ChatPreview, error) {
	if ownerID == "" {
		return nil, ErrNotAuthenticated
	}

	out := make(chan []ChatPreview, 1)
	out <- e.buildPreviews(ctx, ownerID)

	events, unsub := e.bus.Subscribe("cache.", 64)

	go func() {
		defer close(out)
		defer unsub()

		var last []ChatPreview
		for {
			select {
			case <-ctx.Done():
				return
			case <-events:
			}

			previews := e.buildPreviews(ctx, ownerID)
			if slices.Equal(last, previews) {
				continue
			}
			last = previews

			select {
			case out <- previews:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (e *Engine) buildPreviews(ctx context.Context, ownerID string) []ChatPreview {
	lastMsgs, err := e.db.LastMessagePerPartner(ownerID)
	if err != nil {
		e.logger.Warn("preview query failed", zap.Error(err))
		return nil
	}

	previews := make([]ChatPreview, 0, len(lastMsgs))
	for i := range lastMsgs {
		m := lastMsgs[i]
		unread, err := e.db.UnreadCount(ownerID, m.PartnerID)
		if err != nil {
			e.logger.Warn("unread count failed", zap.String("partner", m.PartnerID), zap.Error(err))
			unread = 0
		}
		previews = append(previews, ChatPreview{
			Partner:     e.resolveUser(ctx, m.PartnerID),
			LastMessage: m,
			Unread:      unread,
		})
	}
	return previews
}
