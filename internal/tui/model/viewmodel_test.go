package model

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	mu       sync.Mutex
	status   map[string]any
	convs    []map[string]any
	msgs     map[string][]map[string]any
	unread   []int64
	opened   []string
	sent     []string
	retried  []string
	viewport []string
	older    map[string]any
	err      error
}

func (f *fakeClient) Status(context.Context) (map[string]any, error) { return f.status, f.err }

func (f *fakeClient) WatchUnread(_ context.Context, fn func(int64)) error {
	for _, n := range f.unread {
		fn(n)
	}
	return nil
}

func (f *fakeClient) Conversations(context.Context) ([]map[string]any, error) {
	return f.convs, f.err
}

func (f *fakeClient) Messages(_ context.Context, id string) ([]map[string]any, error) {
	return f.msgs[id], f.err
}

func (f *fakeClient) Open(_ context.Context, id string) error {
	f.opened = append(f.opened, id)
	return f.err
}

func (f *fakeClient) CloseConversation(context.Context) error { return nil }

func (f *fakeClient) Send(_ context.Context, id, content string, _ []string, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, id+":"+content)
	return "local-1", f.err
}

func (f *fakeClient) Retry(_ context.Context, localID string) error {
	f.retried = append(f.retried, localID)
	return f.err
}

func (f *fakeClient) LoadOlder(context.Context, string) (map[string]any, error) {
	return f.older, f.err
}

func (f *fakeClient) ReportViewport(_ context.Context, id, top, newest string, _ float64, _ bool) error {
	f.viewport = []string{id, top, newest}
	return nil
}

func newFake() *fakeClient {
	return &fakeClient{
		status: map[string]any{"state": "CONNECTED", "user_id": "me"},
		convs: []map[string]any{
			{"id": "c1", "name": "team", "display_name": "", "unread": true, "online": float64(2),
				"newest_message": map[string]any{"id": "m2", "content": "hi", "created_at": "2026-01-02T10:00:00Z"}},
			{"id": "c2", "display_name": "Ana"},
			{"id": "c3"},
		},
		msgs: map[string][]map[string]any{
			"c1": {
				{"id": "m1", "sender_id": "u2", "content": "hello", "status": "SEEN"},
				{"id": "local-x", "sender_id": "me", "content": "yo", "pending": true, "failed": true, "failure_reason": "timeout"},
				{"id": "m2", "sender_id": "u2", "attachments": []any{map[string]any{"type": "image"}}},
			},
		},
	}
}

func TestConversationRows(t *testing.T) {
	vm := NewViewModel(newFake())
	require.NoError(t, vm.LoadConversations(context.Background()))

	convs := vm.GetConversations()
	require.Len(t, convs, 3)
	assert.Equal(t, "team", convs[0].Title)
	assert.True(t, convs[0].Unread)
	assert.Equal(t, 2, convs[0].Online)
	assert.Equal(t, "hi", convs[0].Preview)
	assert.Equal(t, 2026, convs[0].At.Year())
	assert.Equal(t, "Ana", convs[1].Title)
	assert.Equal(t, "c3", convs[2].Title)
}

func TestWatchUnreadKeepsLatest(t *testing.T) {
	fc := newFake()
	fc.unread = []int64{0, 3, 1}
	vm := NewViewModel(fc)

	require.NoError(t, vm.WatchUnread(context.Background()))
	assert.Equal(t, int64(1), vm.GetUnread())
	assert.Len(t, vm.GetConversations(), 3)

	select {
	case <-vm.RefreshCh():
	default:
		t.Fatal("expected a refresh signal")
	}
}

func TestOpenLoadsHistory(t *testing.T) {
	fc := newFake()
	vm := NewViewModel(fc)
	ctx := context.Background()
	require.NoError(t, vm.LoadConversations(ctx))

	require.NoError(t, vm.Open(ctx, "c1"))
	assert.Equal(t, []string{"c1"}, fc.opened)
	assert.Equal(t, "team", vm.ActiveTitle())

	msgs := vm.GetMessages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "[attachment]", msgs[2].Content)
	assert.Equal(t, "timeout", msgs[1].Reason)
	assert.Equal(t, "local-x", vm.LastFailed())

	require.NoError(t, vm.ReportViewport(ctx, true))
	assert.Equal(t, []string{"c1", "m1", "m2"}, fc.viewport)

	require.NoError(t, vm.Close(ctx))
	assert.Empty(t, vm.ActiveID())
	assert.Empty(t, vm.GetMessages())
}

func TestSendAndRetry(t *testing.T) {
	fc := newFake()
	vm := NewViewModel(fc)
	ctx := context.Background()

	require.NoError(t, vm.Send(ctx, "ignored"))
	assert.Empty(t, fc.sent)

	require.NoError(t, vm.Open(ctx, "c1"))
	require.NoError(t, vm.Send(ctx, "hello"))
	assert.Equal(t, []string{"c1:hello"}, fc.sent)

	did, err := vm.Retry(ctx, "")
	require.NoError(t, err)
	assert.True(t, did)
	assert.Equal(t, []string{"local-x"}, fc.retried)
}

func TestRetryNothingFailed(t *testing.T) {
	vm := NewViewModel(newFake())
	did, err := vm.Retry(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, did)
}

func TestLoadOlder(t *testing.T) {
	fc := newFake()
	fc.older = map[string]any{"inserted": float64(20), "has_more": false}
	vm := NewViewModel(fc)
	ctx := context.Background()
	require.NoError(t, vm.Open(ctx, "c1"))

	n, err := vm.LoadOlder(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, n)
	assert.False(t, vm.GetHasMore())
}

func TestStatusError(t *testing.T) {
	fc := newFake()
	fc.err = errors.New("daemon gone")
	vm := NewViewModel(fc)
	require.Error(t, vm.LoadStatus(context.Background()))
	assert.Empty(t, vm.GetState())
}
