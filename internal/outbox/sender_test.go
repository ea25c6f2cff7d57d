package outbox

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/journal"
	"github.com/matheus3301/chatsync/internal/store"
)

type mockRemote struct {
	mock.Mock
}

func (m *mockRemote) SendMessage(ctx context.Context, d chat.Draft) (chat.Message, error) {
	args := m.Called(ctx, d)
	return args.Get(0).(chat.Message), args.Error(1)
}

// memEngine applies the sender's calls to a store the way the sync engine does.
type memEngine struct {
	mu sync.Mutex
	st *store.Store
}

func (e *memEngine) AppendOptimistic(_ context.Context, d chat.Draft) (chat.Message, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st.AppendOptimistic(d), nil
}

func (e *memEngine) RestoreFailed(_ context.Context, d chat.Draft, reason string) (chat.Message, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m := e.st.AppendOptimistic(d)
	e.st.MarkFailed(m.ID, reason)
	m, _ = e.st.Get(m.ID)
	return m, nil
}

func (e *memEngine) ConfirmSend(_ context.Context, token string, srv chat.Message) (chat.Message, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, m := e.st.Reconcile(token, srv)
	return m, nil
}

func (e *memEngine) FailSend(_ context.Context, localID, reason string) (chat.Message, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.st.MarkFailed(localID, reason) {
		return chat.Message{}, errors.New("unknown message")
	}
	m, _ := e.st.Get(localID)
	return m, nil
}

func (e *memEngine) PrepareRetry(_ context.Context, localID string) (chat.Message, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.st.ResetForRetry(localID)
	return m, ok, nil
}

func (e *memEngine) messages(conv string) []chat.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st.Messages(conv)
}

type harness struct {
	sender *Sender
	engine *memEngine
	remote *mockRemote
	db     *journal.DB
	bus    *bus.Bus
}

func newHarness(t *testing.T, timeout time.Duration) *harness {
	t.Helper()
	db, _, err := journal.OpenMigrated(filepath.Join(t.TempDir(), "outbox.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	h := &harness{
		engine: &memEngine{st: store.New(20)},
		remote: &mockRemote{},
		db:     db,
		bus:    bus.New(),
	}
	h.sender = NewSender(h.engine, h.remote, db, h.bus, timeout, zap.NewNop())
	t.Cleanup(h.sender.Stop)
	return h
}

func (h *harness) waitStatus(t *testing.T, token, status string) *journal.Entry {
	t.Helper()
	var e *journal.Entry
	require.Eventually(t, func() bool {
		var err error
		e, err = h.db.Get(token)
		return err == nil && e.Status == status
	}, 2*time.Second, 5*time.Millisecond, "journal entry %s never reached %s", token, status)
	return e
}

func draft(token string) chat.Draft {
	return chat.Draft{ConversationID: "c1", SenderID: "me", Content: "hello", CorrelationToken: token}
}

func TestSendReconcilesInPlace(t *testing.T) {
	h := newHarness(t, time.Second)
	srv := chat.Message{ID: "srv-1", ConversationID: "c1", SenderID: "me", Content: "hello", Status: chat.Sent, CreatedAt: time.Now()}
	h.remote.On("SendMessage", mock.Anything, mock.MatchedBy(func(d chat.Draft) bool { return d.CorrelationToken == "tok" })).
		Return(srv, nil).Once()

	localID, err := h.sender.Send(context.Background(), draft("tok"))
	require.NoError(t, err)
	assert.Equal(t, store.LocalIDPrefix+"tok", localID)

	e := h.waitStatus(t, "tok", journal.StatusSent)
	assert.Equal(t, "srv-1", e.ServerMsgID)
	assert.Equal(t, localID, e.LocalID)

	msgs := h.engine.messages("c1")
	require.Len(t, msgs, 1)
	assert.Equal(t, "srv-1", msgs[0].ID)
	assert.False(t, msgs[0].Pending)
	h.remote.AssertExpectations(t)
}

func TestSendGeneratesToken(t *testing.T) {
	h := newHarness(t, time.Second)
	h.remote.On("SendMessage", mock.Anything, mock.Anything).
		Return(chat.Message{ID: "srv-1", ConversationID: "c1", CreatedAt: time.Now()}, nil)

	localID, err := h.sender.Send(context.Background(), chat.Draft{ConversationID: "c1", SenderID: "me", Content: "hi"})
	require.NoError(t, err)

	msgs := h.engine.messages("c1")
	require.NotEmpty(t, msgs)
	token := msgs[0].CorrelationToken
	require.NotEmpty(t, token)
	assert.Equal(t, store.LocalIDPrefix+token, localID)
	h.waitStatus(t, token, journal.StatusSent)
}

func TestHungSendFailsThenRetrySucceeds(t *testing.T) {
	h := newHarness(t, 30*time.Millisecond)
	failures, unsub := h.bus.Subscribe(bus.MessageSendFailed, 4)
	defer unsub()

	h.remote.On("SendMessage", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { <-args.Get(0).(context.Context).Done() }).
		Return(chat.Message{}, context.DeadlineExceeded).Once()

	localID, err := h.sender.Send(context.Background(), draft("tok"))
	require.NoError(t, err)

	select {
	case evt := <-failures:
		f := evt.Payload.(Failure)
		assert.Equal(t, localID, f.LocalID)
		assert.Equal(t, "tok", f.CorrelationToken)
		assert.Contains(t, f.Reason, "no answer")
	case <-time.After(2 * time.Second):
		t.Fatal("no send failure published")
	}
	h.waitStatus(t, "tok", journal.StatusFailed)

	msgs := h.engine.messages("c1")
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Failed)
	assert.True(t, msgs[0].Pending)

	srv := chat.Message{ID: "srv-1", ConversationID: "c1", SenderID: "me", Content: "hello", CreatedAt: time.Now()}
	h.remote.On("SendMessage", mock.Anything, mock.MatchedBy(func(d chat.Draft) bool { return d.CorrelationToken == "tok" })).
		Return(srv, nil).Once()

	require.NoError(t, h.sender.Retry(context.Background(), localID))
	e := h.waitStatus(t, "tok", journal.StatusSent)
	assert.Equal(t, 2, e.Attempts)

	msgs = h.engine.messages("c1")
	require.Len(t, msgs, 1)
	assert.Equal(t, "srv-1", msgs[0].ID)
	assert.False(t, msgs[0].Failed)
	h.remote.AssertExpectations(t)
}

func TestRemoteErrorFails(t *testing.T) {
	h := newHarness(t, time.Second)
	h.remote.On("SendMessage", mock.Anything, mock.Anything).
		Return(chat.Message{}, errors.New("413 payload too large")).Once()

	_, err := h.sender.Send(context.Background(), draft("tok"))
	require.NoError(t, err)

	e := h.waitStatus(t, "tok", journal.StatusFailed)
	assert.Equal(t, "413 payload too large", e.ErrorMessage)
}

func TestRetryRequiresFailedSend(t *testing.T) {
	h := newHarness(t, time.Second)
	err := h.sender.Retry(context.Background(), "local-missing")
	assert.ErrorIs(t, err, ErrNotRetryable)
}

func TestStartRestoresInterruptedSends(t *testing.T) {
	h := newHarness(t, time.Second)
	require.NoError(t, h.db.Queue(journal.Entry{
		CorrelationToken: "old",
		LocalID:          store.LocalIDPrefix + "old",
		ConversationID:   "c1",
		SenderID:         "me",
		Body:             "from last run",
		FileType:         string(chat.Image),
		FilePaths:        []string{"/tmp/a.png"},
	}))
	require.NoError(t, h.db.MarkSending("old"))

	require.NoError(t, h.sender.Start(context.Background()))

	e, err := h.db.Get("old")
	require.NoError(t, err)
	assert.Equal(t, journal.StatusFailed, e.Status)

	msgs := h.engine.messages("c1")
	require.Len(t, msgs, 1)
	assert.Equal(t, store.LocalIDPrefix+"old", msgs[0].ID)
	assert.True(t, msgs[0].Failed)
	require.Len(t, msgs[0].Attachments, 1)
	assert.Equal(t, chat.Image, msgs[0].Attachments[0].Type)

	// The restored entry resends with its files.
	h.remote.On("SendMessage", mock.Anything, mock.MatchedBy(func(d chat.Draft) bool {
		return d.CorrelationToken == "old" && len(d.Files) == 1 && d.Files[0].Path == "/tmp/a.png"
	})).Return(chat.Message{ID: "srv-9", ConversationID: "c1", CreatedAt: time.Now()}, nil).Once()

	require.NoError(t, h.sender.Retry(context.Background(), msgs[0].ID))
	h.waitStatus(t, "old", journal.StatusSent)
	h.remote.AssertExpectations(t)
}
