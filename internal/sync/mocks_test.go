package sync

import (
	"context"
	gosync "sync"

	"github.com/stretchr/testify/mock"

	"github.com/matheus3301/chatsync/internal/chat"
)

type mockRemote struct {
	mock.Mock
}

func (m *mockRemote) GetAllConversations(ctx context.Context) ([]chat.Conversation, error) {
	args := m.Called(ctx)
	convs, _ := args.Get(0).([]chat.Conversation)
	return convs, args.Error(1)
}

func (m *mockRemote) GetConversation(ctx context.Context, id string) (chat.Conversation, error) {
	args := m.Called(ctx, id)
	c, _ := args.Get(0).(chat.Conversation)
	return c, args.Error(1)
}

func (m *mockRemote) CreateConversation(ctx context.Context, participantIDs []string, kind chat.Kind) (chat.Conversation, error) {
	args := m.Called(ctx, participantIDs, kind)
	c, _ := args.Get(0).(chat.Conversation)
	return c, args.Error(1)
}

func (m *mockRemote) DeleteConversation(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockRemote) ChangeNickname(ctx context.Context, conversationID, userID, value string) error {
	return m.Called(ctx, conversationID, userID, value).Error(0)
}

func (m *mockRemote) ChangeConversationName(ctx context.Context, id, value string) error {
	return m.Called(ctx, id, value).Error(0)
}

func (m *mockRemote) GetMessages(ctx context.Context, conversationID string, skip, take int) ([]chat.Message, error) {
	args := m.Called(ctx, conversationID, skip, take)
	msgs, _ := args.Get(0).([]chat.Message)
	return msgs, args.Error(1)
}

func (m *mockRemote) ReactionMessage(ctx context.Context, messageID, symbol string) (chat.Message, error) {
	args := m.Called(ctx, messageID, symbol)
	msg, _ := args.Get(0).(chat.Message)
	return msg, args.Error(1)
}

// fakeConn records status updates and fails them while err is set.
type fakeConn struct {
	mu       gosync.Mutex
	updates  []statusUpdate
	err      error
	connects int
}

func (f *fakeConn) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return nil
}

func (f *fakeConn) Invoke(_ context.Context, method string, payload, _ any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if method == MethodUpdateMessageStatus {
		f.updates = append(f.updates, payload.(statusUpdate))
	}
	return nil
}

func (f *fakeConn) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeConn) sent() []statusUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]statusUpdate(nil), f.updates...)
}
