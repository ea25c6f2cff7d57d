package sync

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/delivery"
	"github.com/matheus3301/chatsync/internal/pager"
	"github.com/matheus3301/chatsync/internal/store"
)

// Bootstrap connects the push channel and fetches all conversations
// concurrently. The index keeps the order the server returned.
func (e *Engine) Bootstrap(ctx context.Context) error {
	var convs []chat.Conversation
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.conn.Connect(gctx)
	})
	g.Go(func() error {
		var err error
		convs, err = e.remote.GetAllConversations(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	err := e.do(ctx, func() {
		for _, c := range convs {
			e.index.Upsert(c)
		}
		e.refresh()
	})
	if err != nil {
		return err
	}
	e.logger.Info("bootstrap complete", zap.Int("conversations", len(convs)), zap.Int("unread", e.UnreadCount()))
	return nil
}

// AppendOptimistic shows a draft in its conversation before the server has
// accepted it.
func (e *Engine) AppendOptimistic(ctx context.Context, d chat.Draft) (chat.Message, error) {
	var (
		m     chat.Message
		known bool
	)
	err := e.do(ctx, func() {
		if known = e.index.Has(d.ConversationID); !known {
			return
		}
		m = e.store.AppendOptimistic(d)
		e.index.PatchNewestMessage(d.ConversationID, m)
		e.refresh()
	})
	if err != nil {
		return chat.Message{}, err
	}
	if !known {
		return chat.Message{}, fmt.Errorf("%w: %s", ErrUnknownConversation, d.ConversationID)
	}
	return m, nil
}

// RestoreFailed re-creates a failed send from a previous run so it can be retried.
func (e *Engine) RestoreFailed(ctx context.Context, d chat.Draft, reason string) (chat.Message, error) {
	var m chat.Message
	err := e.do(ctx, func() {
		m = e.store.AppendOptimistic(d)
		e.store.MarkFailed(m.ID, reason)
		m, _ = e.store.Get(m.ID)
		e.refresh()
	})
	return m, err
}

// ConfirmSend reconciles the server's copy of a sent message with the
// pending entry carrying token.
func (e *Engine) ConfirmSend(ctx context.Context, token string, srv chat.Message) (chat.Message, error) {
	var out chat.Message
	err := e.do(ctx, func() {
		outcome, stored := e.store.Reconcile(token, srv)
		if stored.CorrelationToken == "" {
			stored.CorrelationToken = token
		}
		e.index.PatchNewestMessage(stored.ConversationID, stored)
		e.refresh()
		out = stored
		e.publish(bus.MessageSendAck, Upserted{Message: stored, Outcome: outcome.String()})
	})
	return out, err
}

// FailSend moves a pending send to the failed state.
func (e *Engine) FailSend(ctx context.Context, localID, reason string) (chat.Message, error) {
	var (
		m  chat.Message
		ok bool
	)
	err := e.do(ctx, func() {
		if !e.store.MarkFailed(localID, reason) {
			return
		}
		m, ok = e.store.Get(localID)
		e.index.PatchNewest(m.ConversationID, localID, func(s *chat.Message) bool {
			s.Failed, s.FailureReason = true, reason
			return true
		})
		e.refresh()
	})
	if err != nil {
		return chat.Message{}, err
	}
	if !ok {
		return chat.Message{}, fmt.Errorf("%w: %s", ErrUnknownMessage, localID)
	}
	return m, nil
}

// PrepareRetry clears the failed state of a send and returns it. It returns
// false when the entry is not a failed send.
func (e *Engine) PrepareRetry(ctx context.Context, localID string) (chat.Message, bool, error) {
	var (
		m  chat.Message
		ok bool
	)
	err := e.do(ctx, func() {
		if m, ok = e.store.ResetForRetry(localID); !ok {
			return
		}
		e.index.PatchNewest(m.ConversationID, localID, func(s *chat.Message) bool {
			s.Failed, s.FailureReason = false, ""
			return true
		})
		e.refresh()
	})
	return m, ok, err
}

// React sets my reaction on a message. The change is shown at once and
// reverted when the server rejects it.
func (e *Engine) React(ctx context.Context, messageID, symbol string) (chat.Message, error) {
	var (
		prev   string
		convID string
		found  bool
	)
	err := e.do(ctx, func() {
		m, ok := e.store.Get(messageID)
		if !ok {
			return
		}
		found, convID, prev = true, m.ConversationID, store.ReactionOf(m, e.me)
		e.applyPatch(convID, messageID, store.Patch{Reaction: &chat.Reaction{UserID: e.me, Symbol: symbol}})
	})
	if err != nil {
		return chat.Message{}, err
	}
	if !found {
		return chat.Message{}, fmt.Errorf("%w: %s", ErrUnknownMessage, messageID)
	}

	srv, rerr := e.remote.ReactionMessage(ctx, messageID, symbol)
	var out chat.Message
	err = e.do(context.WithoutCancel(ctx), func() {
		if rerr != nil {
			e.applyPatch(convID, messageID, store.Patch{Reaction: &chat.Reaction{UserID: e.me, Symbol: prev}})
			return
		}
		if srv.ID == messageID {
			e.applyPatch(convID, messageID, store.Patch{ReplaceReactions: true, Reactions: srv.Reactions})
		}
		out, _ = e.store.Get(messageID)
	})
	if rerr != nil {
		return chat.Message{}, fmt.Errorf("react %s: %w", messageID, rerr)
	}
	return out, err
}

// MarkSeen tells the server the viewer has seen a message and advances the
// local copy once it agrees. Messages sent by me, unknown messages and
// messages already seen are left alone.
func (e *Engine) MarkSeen(ctx context.Context, conversationID, messageID string) error {
	var target chat.Message
	var ok bool
	err := e.do(ctx, func() {
		if target, ok = e.store.Get(messageID); ok {
			return
		}
		if c, found := e.index.Get(conversationID); found && c.NewestMessage != nil && c.NewestMessage.ID == messageID {
			target, ok = *c.NewestMessage, true
		}
	})
	if err != nil {
		return err
	}
	if !ok || !delivery.CanMarkSeen(target, e.me) {
		return nil
	}
	if !e.tracker.BeginUpdate(messageID, chat.Seen) {
		return nil
	}
	defer e.tracker.EndUpdate(messageID, chat.Seen)

	if err := e.conn.Invoke(ctx, MethodUpdateMessageStatus, statusUpdate{MessageID: messageID, Status: chat.Seen}, nil); err != nil {
		return fmt.Errorf("mark seen %s: %w", messageID, err)
	}
	return e.do(context.WithoutCancel(ctx), func() {
		e.applyStatus(target.ConversationID, messageID, chat.Seen)
	})
}

// Viewport is a viewer report for the open conversation.
type Viewport struct {
	ConversationID string
	// TopVisibleID anchors history loads.
	TopVisibleID string
	// NewestVisibleID is the newest message at least partly on screen.
	NewestVisibleID string
	Ratio           float64
	Focused         bool
}

// ReportViewport records what the viewer sees and drives the seen dwell.
func (e *Engine) ReportViewport(ctx context.Context, v Viewport) error {
	return e.do(ctx, func() {
		e.viewport.SetTopVisible(v.ConversationID, v.TopVisibleID)
		e.lastObs = delivery.Observation{
			ConversationID: v.ConversationID,
			MessageID:      v.NewestVisibleID,
			Ratio:          v.Ratio,
			Focused:        v.Focused,
		}
		e.observe()
	})
}

// OpenConversation makes id the active conversation and loads its first page
// when nothing has been fetched yet.
func (e *Engine) OpenConversation(ctx context.Context, id string) error {
	var known bool
	err := e.do(ctx, func() {
		if known = e.index.Has(id); !known {
			return
		}
		if e.active != id {
			e.tracker.Cancel()
			e.lastObs = delivery.Observation{}
		}
		e.active = id
		e.store.Ensure(id)
		e.refresh()
	})
	if err != nil {
		return err
	}
	if !known {
		return fmt.Errorf("%w: %s", ErrUnknownConversation, id)
	}
	return e.LoadInitial(ctx, id)
}

// LoadInitial fetches the newest page of a conversation if no page has been
// fetched yet.
func (e *Engine) LoadInitial(ctx context.Context, id string) error {
	var cur store.Cursor
	if err := e.do(ctx, func() { cur, _ = e.store.Cursor(id) }); err != nil {
		return err
	}
	if cur.Skip > 0 || !cur.HasMore {
		return nil
	}
	_, err := e.pager.LoadOlder(ctx, id)
	if errors.Is(err, pager.ErrLoadInFlight) {
		return nil
	}
	return err
}

// LoadOlder loads the page before the loaded history of a conversation.
func (e *Engine) LoadOlder(ctx context.Context, id string) (pager.Result, error) {
	return e.pager.LoadOlder(ctx, id)
}

// CloseConversation clears the active conversation.
func (e *Engine) CloseConversation(ctx context.Context) error {
	return e.do(ctx, func() {
		e.active = ""
		e.lastObs = delivery.Observation{}
		e.tracker.Cancel()
		e.refresh()
	})
}

// Messages returns the loaded history of a conversation.
func (e *Engine) Messages(ctx context.Context, id string) ([]chat.Message, error) {
	var out []chat.Message
	err := e.do(ctx, func() { out = e.store.Messages(id) })
	return out, err
}

// CreateConversation creates a conversation remotely and indexes it.
func (e *Engine) CreateConversation(ctx context.Context, participantIDs []string, kind chat.Kind) (chat.Conversation, error) {
	c, err := e.remote.CreateConversation(ctx, participantIDs, kind)
	if err != nil {
		return chat.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	err = e.do(ctx, func() {
		e.index.Upsert(c)
		e.refresh()
		c, _ = e.index.Get(c.ID)
	})
	return c, err
}

// DeleteConversation deletes a conversation remotely and locally.
func (e *Engine) DeleteConversation(ctx context.Context, id string) error {
	if err := e.remote.DeleteConversation(ctx, id); err != nil {
		return fmt.Errorf("delete conversation %s: %w", id, err)
	}
	return e.do(ctx, func() { e.removeConversation(id) })
}

// Rename changes a conversation's name.
func (e *Engine) Rename(ctx context.Context, id, name string) error {
	if err := e.remote.ChangeConversationName(ctx, id, name); err != nil {
		return fmt.Errorf("rename conversation %s: %w", id, err)
	}
	return e.do(ctx, func() {
		if e.index.Rename(id, name) {
			e.refresh()
		}
	})
}

// ChangeNickname changes a participant's nickname in a conversation.
func (e *Engine) ChangeNickname(ctx context.Context, conversationID, userID, nickname string) error {
	if err := e.remote.ChangeNickname(ctx, conversationID, userID, nickname); err != nil {
		return fmt.Errorf("change nickname in %s: %w", conversationID, err)
	}
	return e.do(ctx, func() {
		if e.index.SetNickname(conversationID, userID, nickname) {
			e.refresh()
		}
	})
}
