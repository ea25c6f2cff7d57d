package sync

import (
	"context"

	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/delivery"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/push"
	"github.com/matheus3301/chatsync/internal/store"
)

// MethodUpdateMessageStatus is the server method acknowledging delivery or seen.
const MethodUpdateMessageStatus = "UpdateMessageStatus"

type statusUpdate struct {
	MessageID string      `json:"messageId"`
	Status    chat.Status `json:"status"`
}

func (e *Engine) handlePush(evt push.Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("push handler panicked", zap.String("kind", evt.Kind()), zap.Any("panic", r))
		}
	}()

	switch ev := evt.(type) {
	case push.MessageReceived:
		e.onMessage(ev.Message)
	case push.StatusUpdated:
		e.applyStatus(ev.ConversationID, ev.MessageID, ev.Status)
	case push.PresenceChanged:
		if e.index.SetParticipantPresence(ev.UserID, ev.Presence) > 0 {
			e.refresh()
		}
	case push.ConversationDeleted:
		e.removeConversation(ev.ConversationID)
	case push.MessageReacted:
		e.applyPatch(ev.ConversationID, ev.MessageID, store.Patch{ReplaceReactions: true, Reactions: ev.Reactions})
	case push.MessageEdited:
		e.applyPatch(ev.ConversationID, ev.MessageID, store.Patch{Content: ev.Content, Attachments: ev.Attachments})
	default:
		e.logger.Debug("ignoring push event", zap.String("kind", evt.Kind()))
	}
}

func (e *Engine) onMessage(m chat.Message) {
	outcome, stored := e.store.Reconcile("", m)
	metrics.IncReconcile(outcome.String())

	if e.index.Has(m.ConversationID) {
		e.index.PatchNewestMessage(m.ConversationID, stored)
	} else {
		e.fetchConversation(m.ConversationID)
	}
	if delivery.NeedsDeliveredAck(stored, e.me) {
		e.ackDelivered(stored)
	}
	if m.ConversationID == e.active {
		e.observe()
	}
	e.refresh()

	if outcome != store.Duplicate {
		e.publish(bus.MessageUpserted, Upserted{Message: stored, Outcome: outcome.String()})
	}
	e.logger.Debug("push message",
		zap.String("conversation_id", m.ConversationID),
		zap.String("message_id", m.ID),
		zap.String("outcome", outcome.String()))
}

// applyStatus advances a message's status in the store and in the summary.
func (e *Engine) applyStatus(conversationID, messageID string, s chat.Status) {
	_, inStore := e.store.Patch(messageID, store.Patch{Status: &s})
	inIndex := e.index.PatchNewestStatus(conversationID, messageID, s)
	if inStore || inIndex {
		e.refresh()
	}
}

func (e *Engine) applyPatch(conversationID, messageID string, p store.Patch) {
	_, inStore := e.store.Patch(messageID, p)
	inIndex := e.index.PatchNewest(conversationID, messageID, func(m *chat.Message) bool {
		*m = store.Apply(*m, p)
		return true
	})
	if inStore || inIndex {
		e.refresh()
	}
}

func (e *Engine) removeConversation(id string) {
	removed := e.index.Remove(id)
	e.store.Remove(id)
	if e.active == id {
		e.active = ""
		e.lastObs = delivery.Observation{}
		e.tracker.Cancel()
	}
	e.viewport.Forget(id)
	e.refresh()
	if removed {
		e.publish(bus.ConversationChanged, ConversationChanged{ConversationID: id, Deleted: true})
	}
}

// ackDelivered tells the server this client received m. The local copy only
// advances once the call succeeds.
func (e *Engine) ackDelivered(m chat.Message) {
	if !e.tracker.BeginUpdate(m.ID, chat.Delivered) {
		return
	}
	e.goBackground(func(ctx context.Context) {
		err := e.conn.Invoke(ctx, MethodUpdateMessageStatus, statusUpdate{MessageID: m.ID, Status: chat.Delivered}, nil)
		if err != nil {
			e.tracker.EndUpdate(m.ID, chat.Delivered)
			e.logger.Warn("delivered ack failed", zap.String("message_id", m.ID), zap.Error(err))
			return
		}
		// The claim is held until the local copy has advanced.
		e.post(func() {
			e.applyStatus(m.ConversationID, m.ID, chat.Delivered)
			e.tracker.EndUpdate(m.ID, chat.Delivered)
		})
	})
}

// fetchConversation loads a conversation first referenced by a push event.
func (e *Engine) fetchConversation(id string) {
	if _, ok := e.fetching[id]; ok {
		return
	}
	e.fetching[id] = struct{}{}
	e.goBackground(func(ctx context.Context) {
		c, err := e.remote.GetConversation(ctx, id)
		e.post(func() {
			delete(e.fetching, id)
			if err != nil {
				e.logger.Warn("fetch conversation failed", zap.String("conversation_id", id), zap.Error(err))
				return
			}
			e.index.Upsert(c)
			if newest, ok := e.store.Newest(id); ok && !newest.Pending {
				e.index.PatchNewestMessage(id, newest)
			}
			e.refresh()
			e.publish(bus.ConversationChanged, ConversationChanged{ConversationID: id})
		})
	})
}

// observe re-evaluates the seen dwell against the last viewport report.
func (e *Engine) observe() {
	if e.active == "" || e.lastObs.ConversationID != e.active {
		e.tracker.Cancel()
		return
	}
	newest, ok := e.store.Newest(e.active)
	if !ok {
		if c, found := e.index.Get(e.active); found && c.NewestMessage != nil {
			newest, ok = *c.NewestMessage, true
		}
	}
	if !ok {
		e.tracker.Cancel()
		return
	}
	e.tracker.Observe(e.lastObs, newest, e.me, e.onDwell)
}

// onDwell runs on a timer goroutine when the newest message has been in view
// long enough.
func (e *Engine) onDwell(conversationID, messageID string) {
	e.goBackground(func(ctx context.Context) {
		if err := e.MarkSeen(ctx, conversationID, messageID); err != nil {
			e.logger.Warn("mark seen failed", zap.String("message_id", messageID), zap.Error(err))
		}
	})
}
