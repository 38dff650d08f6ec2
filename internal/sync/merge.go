package sync

import (
	"sort"

	"go.uber.org/zap"

	"github.com/courier-im/courier/internal/bus"
	"github.com/courier-im/courier/internal/store"
)

// mergeRemote reconciles a remote snapshot into the local list. Remote
// messages unknown to the cache are written through; known messages only
// ever move status forward (a remote status behind the local one is
// ignored). Cache write failures during merge are logged, not raised:
// the merged view is still emitted. The result is sorted ascending by
// timestamp.
func (e *Engine) mergeRemote(local, remote []store.Message) []store.Message {
	result := make([]store.Message, len(local))
	copy(result, local)

	byID := make(map[string]int, len(result))
	for i := range result {
		byID[result[i].ID] = i
	}

	for i := range remote {
		rm := remote[i]
		idx, known := byID[rm.ID]
		if !known {
			if err := e.db.UpsertMessage(&rm); err != nil {
				e.logger.Warn("write-through failed", zap.String("msg_id", rm.ID), zap.Error(err))
			} else {
				e.publish(bus.KindMessageUpserted, eventRef(&rm))
			}
			byID[rm.ID] = len(result)
			result = append(result, rm)
			continue
		}
		if rm.Status > result[idx].Status {
			if err := e.db.UpdateMessageStatus(rm.ID, rm.OwnerID, rm.Status); err != nil {
				e.logger.Warn("status promote failed", zap.String("msg_id", rm.ID), zap.Error(err))
			} else {
				e.publish(bus.KindStatusUpdated, eventRef(&rm))
			}
			result[idx].Status = rm.Status
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Timestamp != result[j].Timestamp {
			return result[i].Timestamp < result[j].Timestamp
		}
		return result[i].ID < result[j].ID
	})
	return result
}
