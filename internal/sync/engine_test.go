package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/delivery"
	"github.com/matheus3301/chatsync/internal/pager"
	"github.com/matheus3301/chatsync/internal/push"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	t      *testing.T
	e      *Engine
	bus    *bus.Bus
	remote *mockRemote
	conn   *fakeConn
}

func personal(id, other string) chat.Conversation {
	return chat.Conversation{
		ID:           id,
		Kind:         chat.Personal,
		Participants: []chat.Participant{{UserID: "me"}, {UserID: other}},
	}
}

func message(id, conv, sender string, minute int) chat.Message {
	return chat.Message{ID: id, ConversationID: conv, SenderID: sender, Content: "text " + id, CreatedAt: t0.Add(time.Duration(minute) * time.Minute)}
}

func newHarness(t *testing.T, convs ...chat.Conversation) *harness {
	t.Helper()
	b := bus.New()
	r := &mockRemote{}
	c := &fakeConn{}
	e := NewEngine(Options{
		Me:         "me",
		PageSize:   20,
		SeenPolicy: delivery.SeenPolicy{Ratio: 0.8, Dwell: 20 * time.Millisecond},
	}, c, r, b, nil, nil, zap.NewNop())
	e.Start(context.Background())
	t.Cleanup(e.Stop)

	r.On("GetAllConversations", mock.Anything).Return(convs, nil).Once()
	require.NoError(t, e.Bootstrap(context.Background()))
	return &harness{t: t, e: e, bus: b, remote: r, conn: c}
}

func (h *harness) push(ev push.Event) {
	h.t.Helper()
	require.NoError(h.t, h.e.Push(context.Background(), ev))
}

// sync waits until every event pushed so far has been applied. Events
// are handled one at a time on the loop, so once the queue is drained a no-op
// command runs after the last of them.
func (h *harness) sync(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool { return len(h.e.pushCh) == 0 }, time.Second, time.Millisecond)
	require.NoError(t, h.e.do(context.Background(), func() {}))
}

func (h *harness) messages(t *testing.T, conv string) []chat.Message {
	t.Helper()
	msgs, err := h.e.Messages(context.Background(), conv)
	require.NoError(t, err)
	return msgs
}

func (h *harness) open(t *testing.T, conv string, page []chat.Message) {
	t.Helper()
	h.remote.On("GetMessages", mock.Anything, conv, 0, 20).Return(page, nil).Once()
	require.NoError(t, h.e.OpenConversation(context.Background(), conv))
}

func TestBootstrapKeepsFetchOrder(t *testing.T) {
	h := newHarness(t, personal("b", "u2"), personal("a", "u3"), personal("c", "u4"))
	var ids []string
	for _, c := range h.e.Snapshot().Conversations {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []string{"b", "a", "c"}, ids)
	assert.Equal(t, 1, h.conn.connects)
}

func TestBootstrapFailure(t *testing.T) {
	b := bus.New()
	r := &mockRemote{}
	e := NewEngine(Options{Me: "me"}, &fakeConn{}, r, b, nil, nil, zap.NewNop())
	e.Start(context.Background())
	defer e.Stop()

	r.On("GetAllConversations", mock.Anything).Return(nil, errors.New("503")).Once()
	assert.Error(t, e.Bootstrap(context.Background()))
}

// Scenario: the same ReceivePrivateMessage twice leaves one copy.
func TestDuplicatePushStoresOneCopy(t *testing.T) {
	h := newHarness(t, personal("C", "u2"))
	h.open(t, "C", []chat.Message{message("m1", "C", "u2", 1)})

	m2 := message("m2", "C", "u2", 2)
	h.push(push.MessageReceived{Message: m2})
	h.push(push.MessageReceived{Message: m2})
	h.sync(t)

	msgs := h.messages(t, "C")
	require.Len(t, msgs, 2)
	assert.Equal(t, "m2", msgs[1].ID)
	assert.Equal(t, 1, h.e.UnreadCount())

	// Delivered is acknowledged once and applied locally on success.
	require.Eventually(t, func() bool {
		m, _ := h.e.Messages(context.Background(), "C")
		return len(m) == 2 && m[1].Status == chat.Delivered
	}, time.Second, time.Millisecond)
	var acks int
	for _, u := range h.conn.sent() {
		if u.MessageID == "m2" && u.Status == chat.Delivered {
			acks++
		}
	}
	assert.Equal(t, 1, acks)
}

func TestFailedDeliveredAckDoesNotAdvance(t *testing.T) {
	h := newHarness(t, personal("C", "u2"))
	h.open(t, "C", nil)
	h.conn.setErr(errors.New("connection not ready"))

	h.push(push.MessageReceived{Message: message("m1", "C", "u2", 1)})
	h.sync(t)
	time.Sleep(20 * time.Millisecond)
	h.sync(t)

	msgs := h.messages(t, "C")
	require.Len(t, msgs, 1)
	assert.Equal(t, chat.Sent, msgs[0].Status)
}

// Scenario: a Delivered event after Seen leaves the message Seen.
func TestStaleStatusAfterSeen(t *testing.T) {
	h := newHarness(t, personal("C", "u2"))
	mine := message("m1", "C", "me", 1)
	h.open(t, "C", []chat.Message{mine})

	h.push(push.StatusUpdated{ConversationID: "C", MessageID: "m1", Status: chat.Seen})
	h.push(push.StatusUpdated{ConversationID: "C", MessageID: "m1", Status: chat.Delivered})
	h.sync(t)

	assert.Equal(t, chat.Seen, h.messages(t, "C")[0].Status)
}

func TestStatusForUnloadedMessageDropped(t *testing.T) {
	h := newHarness(t, personal("C", "u2"))
	h.push(push.StatusUpdated{ConversationID: "C", MessageID: "ghost", Status: chat.Seen})
	h.sync(t)
	assert.Empty(t, h.messages(t, "C"))
}

// Scenario: send "hi", then the ack with srv-1 replaces it.
func TestSendThenAck(t *testing.T) {
	h := newHarness(t, personal("C", "u2"))
	h.open(t, "C", nil)

	local, err := h.e.AppendOptimistic(context.Background(), chat.Draft{ConversationID: "C", SenderID: "me", Content: "hi"})
	require.NoError(t, err)

	msgs := h.messages(t, "C")
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, chat.Sent, msgs[0].Status)
	assert.True(t, msgs[0].Pending)

	srv := chat.Message{ID: "srv-1", ConversationID: "C", SenderID: "me", Content: "hi", CreatedAt: t0}
	_, err = h.e.ConfirmSend(context.Background(), local.CorrelationToken, srv)
	require.NoError(t, err)

	msgs = h.messages(t, "C")
	require.Len(t, msgs, 1)
	assert.Equal(t, "srv-1", msgs[0].ID)
	assert.False(t, msgs[0].Pending)

	c, _ := h.e.Snapshot().Conversation("C")
	assert.Equal(t, "srv-1", c.NewestMessage.ID)
	assert.Equal(t, 0, h.e.UnreadCount())
}

func TestSendToUnknownConversation(t *testing.T) {
	h := newHarness(t)
	_, err := h.e.AppendOptimistic(context.Background(), chat.Draft{ConversationID: "nope", Content: "x"})
	assert.ErrorIs(t, err, ErrUnknownConversation)
}

func TestFailAndRetry(t *testing.T) {
	h := newHarness(t, personal("C", "u2"))
	local, err := h.e.AppendOptimistic(context.Background(), chat.Draft{ConversationID: "C", SenderID: "me", Content: "hi"})
	require.NoError(t, err)

	m, err := h.e.FailSend(context.Background(), local.ID, "timeout")
	require.NoError(t, err)
	assert.True(t, m.Failed)
	c, _ := h.e.Snapshot().Conversation("C")
	assert.True(t, c.NewestMessage.Failed)

	m, ok, err := h.e.PrepareRetry(context.Background(), local.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, m.Failed)
	assert.Equal(t, local.CorrelationToken, m.CorrelationToken)

	_, ok, _ = h.e.PrepareRetry(context.Background(), local.ID)
	assert.False(t, ok)
}

func TestUnreadFollowsIndex(t *testing.T) {
	a := personal("A", "u2")
	a.NewestMessage = &chat.Message{ID: "a1", SenderID: "u2", Status: chat.Sent, CreatedAt: t0}
	b := personal("B", "u3")
	b.NewestMessage = &chat.Message{ID: "b1", SenderID: "me", Status: chat.Sent, CreatedAt: t0}
	h := newHarness(t, a, b)
	assert.Equal(t, 1, h.e.UnreadCount())

	h.push(push.StatusUpdated{ConversationID: "A", MessageID: "a1", Status: chat.Seen})
	h.sync(t)
	assert.Equal(t, 0, h.e.UnreadCount())
	assert.Equal(t, 0, h.e.Snapshot().Unread)
}

func TestStaleConversationCopyKeepsSeenStatus(t *testing.T) {
	a := personal("A", "u2")
	a.NewestMessage = &chat.Message{ID: "a1", SenderID: "u2", Status: chat.Sent, CreatedAt: t0}
	h := newHarness(t, a)
	h.push(push.StatusUpdated{ConversationID: "A", MessageID: "a1", Status: chat.Seen})
	h.sync(t)
	require.Equal(t, 0, h.e.UnreadCount())

	h.remote.On("CreateConversation", mock.Anything, []string{"u2"}, chat.Personal).Return(a, nil).Once()
	got, err := h.e.CreateConversation(context.Background(), []string{"u2"}, chat.Personal)
	require.NoError(t, err)

	require.NotNil(t, got.NewestMessage)
	assert.Equal(t, chat.Seen, got.NewestMessage.Status)
	assert.Equal(t, 0, h.e.UnreadCount())
}

func withNewest(c chat.Conversation, m chat.Message) chat.Conversation {
	c.NewestMessage = &m
	return c
}

func TestSeenAfterDwell(t *testing.T) {
	m1 := message("m1", "C", "u2", 1)
	h := newHarness(t, withNewest(personal("C", "u2"), m1))
	h.open(t, "C", []chat.Message{m1})
	require.Equal(t, 1, h.e.UnreadCount())

	require.NoError(t, h.e.ReportViewport(context.Background(), Viewport{
		ConversationID: "C", NewestVisibleID: "m1", Ratio: 0.95, Focused: true,
	}))

	require.Eventually(t, func() bool { return h.e.UnreadCount() == 0 }, time.Second, 2*time.Millisecond)
	assert.Equal(t, chat.Seen, h.messages(t, "C")[0].Status)
	assert.Contains(t, h.conn.sent(), statusUpdate{MessageID: "m1", Status: chat.Seen})
}

func TestSeenCancelledOnBlur(t *testing.T) {
	m1 := message("m1", "C", "u2", 1)
	h := newHarness(t, withNewest(personal("C", "u2"), m1))
	h.open(t, "C", []chat.Message{m1})

	require.NoError(t, h.e.ReportViewport(context.Background(), Viewport{ConversationID: "C", NewestVisibleID: "m1", Ratio: 1, Focused: true}))
	require.NoError(t, h.e.ReportViewport(context.Background(), Viewport{ConversationID: "C", NewestVisibleID: "m1", Ratio: 1, Focused: false}))

	time.Sleep(60 * time.Millisecond)
	assert.NotContains(t, h.conn.sent(), statusUpdate{MessageID: "m1", Status: chat.Seen})
	assert.Equal(t, 1, h.e.UnreadCount())
}

func TestMarkSeenFailureDoesNotAdvance(t *testing.T) {
	h := newHarness(t, personal("C", "u2"))
	h.conn.setErr(errors.New("offline"))
	h.open(t, "C", []chat.Message{message("m1", "C", "u2", 1)})

	err := h.e.MarkSeen(context.Background(), "C", "m1")
	require.Error(t, err)
	assert.Equal(t, chat.Sent, h.messages(t, "C")[0].Status)
}

func TestMarkSeenIgnoresOwnMessages(t *testing.T) {
	h := newHarness(t, personal("C", "u2"))
	h.open(t, "C", []chat.Message{message("m1", "C", "me", 1)})
	require.NoError(t, h.e.MarkSeen(context.Background(), "C", "m1"))
	assert.Empty(t, h.conn.sent())
}

func TestDeletionClearsActiveView(t *testing.T) {
	h := newHarness(t, personal("C", "u2"), personal("D", "u3"))
	h.open(t, "C", []chat.Message{message("m1", "C", "u2", 1)})
	require.Equal(t, "C", h.e.Snapshot().Active)

	ch, unsub := h.bus.Subscribe("conversation.", 4)
	defer unsub()

	h.push(push.ConversationDeleted{ConversationID: "C"})
	h.sync(t)

	snap := h.e.Snapshot()
	assert.Equal(t, "", snap.Active)
	assert.Nil(t, snap.ActiveMessages)
	_, ok := snap.Conversation("C")
	assert.False(t, ok)
	assert.Empty(t, h.messages(t, "C"))

	evt := <-ch
	assert.Equal(t, ConversationChanged{ConversationID: "C", Deleted: true}, evt.Payload)
}

func TestPushForUnknownConversationFetchesIt(t *testing.T) {
	h := newHarness(t)
	fresh := personal("N", "u9")
	h.remote.On("GetConversation", mock.Anything, "N").Return(fresh, nil).Once()

	h.push(push.MessageReceived{Message: message("n1", "N", "u9", 1)})
	h.push(push.MessageReceived{Message: message("n2", "N", "u9", 2)})

	require.Eventually(t, func() bool {
		_, ok := h.e.Snapshot().Conversation("N")
		return ok
	}, time.Second, time.Millisecond)
	h.remote.AssertNumberOfCalls(t, "GetConversation", 1)
}

func TestReactionsAndEdits(t *testing.T) {
	h := newHarness(t, personal("C", "u2"))
	h.open(t, "C", []chat.Message{message("m1", "C", "u2", 1), message("m2", "C", "u2", 2)})

	reacted := push.MessageReacted{ConversationID: "C", MessageID: "m1", Reactions: []chat.Reaction{{UserID: "u2", Symbol: "👍"}}}
	h.push(reacted)
	h.push(reacted)
	h.push(push.MessageEdited{ConversationID: "C", MessageID: "m1", Content: strPtr("edited")})
	h.push(push.MessageEdited{ConversationID: "C", MessageID: "unknown", Content: strPtr("x")})
	h.sync(t)

	msgs := h.messages(t, "C")
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, []chat.Reaction{{UserID: "u2", Symbol: "👍"}}, msgs[0].Reactions)
	assert.Equal(t, "edited", msgs[0].Content)
	assert.True(t, msgs[0].Edited)
}

func strPtr(s string) *string { return &s }

func TestEditWithoutContentKeepsText(t *testing.T) {
	h := newHarness(t, personal("C", "u2"))
	h.open(t, "C", []chat.Message{message("m1", "C", "u2", 1)})

	evt, err := push.Decode(push.MessageEditedEvt, json.RawMessage(`{"id":"m1","conversationId":"C","attachments":[{"type":"image","url":"https://cdn/a.png"}]}`))
	require.NoError(t, err)
	h.push(evt)
	h.sync(t)

	msgs := h.messages(t, "C")
	require.Len(t, msgs, 1)
	assert.Equal(t, "text m1", msgs[0].Content)
	assert.False(t, msgs[0].Edited)
	require.Len(t, msgs[0].Attachments, 1)
	assert.Equal(t, "https://cdn/a.png", msgs[0].Attachments[0].URL)
}

func TestPushBacklogIsNotDropped(t *testing.T) {
	h := newHarness(t, personal("C", "u2"))
	h.open(t, "C", []chat.Message{})

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = h.e.do(context.Background(), func() {
			close(held)
			<-release
		})
	}()
	<-held

	const n = 400
	pushed := make(chan error, 1)
	go func() {
		for i := 0; i < n; i++ {
			if err := h.e.Push(context.Background(), push.MessageReceived{Message: message(fmt.Sprintf("m%03d", i), "C", "u2", i)}); err != nil {
				pushed <- err
				return
			}
		}
		pushed <- nil
	}()

	select {
	case err := <-pushed:
		t.Fatalf("push returned while the loop was held: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Len(t, h.e.pushCh, pushBuffer)

	close(release)
	select {
	case err := <-pushed:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("push still blocked after the loop was released")
	}
	h.sync(t)

	msgs := h.messages(t, "C")
	require.Len(t, msgs, n)
	for i, m := range msgs {
		assert.Equal(t, fmt.Sprintf("m%03d", i), m.ID)
	}
}

func TestPushAfterStop(t *testing.T) {
	h := newHarness(t)
	h.e.Stop()
	err := h.e.Push(context.Background(), push.PresenceChanged{UserID: "u2", Presence: chat.Online})
	assert.ErrorIs(t, err, ErrStopped)
}

func TestPushHonoursContext(t *testing.T) {
	h := newHarness(t)
	held := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	go func() {
		_ = h.e.do(context.Background(), func() {
			close(held)
			<-release
		})
	}()
	<-held
	for i := 0; i < pushBuffer; i++ {
		h.push(push.PresenceChanged{UserID: "u2", Presence: chat.Online})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := h.e.Push(ctx, push.PresenceChanged{UserID: "u2", Presence: chat.Offline})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReactOptimisticAndRevert(t *testing.T) {
	h := newHarness(t, personal("C", "u2"))
	h.open(t, "C", []chat.Message{message("m1", "C", "u2", 1)})

	h.remote.On("ReactionMessage", mock.Anything, "m1", "❤").Return(nil, errors.New("500")).Once()
	_, err := h.e.React(context.Background(), "m1", "❤")
	require.Error(t, err)
	assert.Empty(t, h.messages(t, "C")[0].Reactions)

	srv := message("m1", "C", "u2", 1)
	srv.Reactions = []chat.Reaction{{UserID: "me", Symbol: "👍"}}
	h.remote.On("ReactionMessage", mock.Anything, "m1", "👍").Return(srv, nil).Once()
	m, err := h.e.React(context.Background(), "m1", "👍")
	require.NoError(t, err)
	assert.Equal(t, srv.Reactions, m.Reactions)

	_, err = h.e.React(context.Background(), "ghost", "👍")
	assert.ErrorIs(t, err, ErrUnknownMessage)
}

func TestLoadOlderThroughEngine(t *testing.T) {
	h := newHarness(t, personal("C", "u2"))
	first := make([]chat.Message, 20)
	for i := range first {
		first[i] = message("p"+string(rune('a'+i)), "C", "u2", 100+i)
	}
	h.open(t, "C", first)

	older := []chat.Message{message("o1", "C", "u2", 1), message("o2", "C", "u2", 2)}
	h.remote.On("GetMessages", mock.Anything, "C", 20, 20).Return(older, nil).Once()
	require.NoError(t, h.e.ReportViewport(context.Background(), Viewport{ConversationID: "C", TopVisibleID: "pa"}))

	ch, unsub := h.bus.Subscribe("pager.", 2)
	defer unsub()

	res, err := h.e.LoadOlder(context.Background(), "C")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)
	assert.False(t, res.Cursor.HasMore)
	assert.Equal(t, "pa", (<-ch).Payload.(pager.Reanchor).AnchorID)

	msgs := h.e.Snapshot().ActiveMessages
	require.Len(t, msgs, 22)
	assert.Equal(t, "o1", msgs[0].ID)

	_, err = h.e.LoadOlder(context.Background(), "C")
	assert.ErrorIs(t, err, pager.ErrNoMoreHistory)
}

func TestConversationManagement(t *testing.T) {
	h := newHarness(t, personal("C", "u2"))

	g := chat.Conversation{ID: "G", Kind: chat.Group, Name: "Team"}
	h.remote.On("CreateConversation", mock.Anything, []string{"u2", "u3"}, chat.Group).Return(g, nil).Once()
	created, err := h.e.CreateConversation(context.Background(), []string{"u2", "u3"}, chat.Group)
	require.NoError(t, err)
	assert.Equal(t, "Team", created.DisplayName)

	h.remote.On("ChangeConversationName", mock.Anything, "G", "Crew").Return(nil).Once()
	require.NoError(t, h.e.Rename(context.Background(), "G", "Crew"))
	gc, _ := h.e.Snapshot().Conversation("G")
	assert.Equal(t, "Crew", gc.DisplayName)

	h.remote.On("ChangeNickname", mock.Anything, "C", "u2", "Bob").Return(nil).Once()
	require.NoError(t, h.e.ChangeNickname(context.Background(), "C", "u2", "Bob"))
	cc, _ := h.e.Snapshot().Conversation("C")
	assert.Equal(t, "Bob", cc.DisplayName)

	h.remote.On("DeleteConversation", mock.Anything, "G").Return(nil).Once()
	require.NoError(t, h.e.DeleteConversation(context.Background(), "G"))
	_, ok := h.e.Snapshot().Conversation("G")
	assert.False(t, ok)

	h.remote.On("ChangeConversationName", mock.Anything, "C", "x").Return(errors.New("403")).Once()
	assert.Error(t, h.e.Rename(context.Background(), "C", "x"))
	h.remote.AssertExpectations(t)
}

func TestPresence(t *testing.T) {
	h := newHarness(t, personal("C", "u2"))
	h.push(push.PresenceChanged{UserID: "u2", Presence: chat.Online})
	h.sync(t)
	c, _ := h.e.Snapshot().Conversation("C")
	assert.Equal(t, chat.Online, c.Participants[1].Presence)
}

func TestCommandsAfterStop(t *testing.T) {
	h := newHarness(t)
	h.e.Stop()
	_, err := h.e.Messages(context.Background(), "C")
	assert.ErrorIs(t, err, ErrStopped)
}
