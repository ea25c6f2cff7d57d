package model

import (
	"context"
	"sync"
	"time"
)

// Client is the part of the daemon API the TUI uses.
type Client interface {
	Status(ctx context.Context) (map[string]any, error)
	WatchUnread(ctx context.Context, fn func(int64)) error
	Conversations(ctx context.Context) ([]map[string]any, error)
	Messages(ctx context.Context, conversationID string) ([]map[string]any, error)
	Open(ctx context.Context, conversationID string) error
	CloseConversation(ctx context.Context) error
	Send(ctx context.Context, conversationID, content string, files []string, fileType string) (string, error)
	Retry(ctx context.Context, localID string) error
	LoadOlder(ctx context.Context, conversationID string) (map[string]any, error)
	ReportViewport(ctx context.Context, conversationID, topVisibleID, newestVisibleID string, ratio float64, focused bool) error
}

// Conversation is one row of the conversation list.
type Conversation struct {
	ID      string
	Title   string
	Unread  bool
	Online  int
	Preview string
	At      time.Time
}

// Message is one line of the message pane.
type Message struct {
	ID       string
	SenderID string
	Content  string
	Status   string
	Pending  bool
	Failed   bool
	Reason   string
	At       time.Time
}

// ViewModel caches daemon state and signals UI refreshes.
type ViewModel struct {
	mu sync.RWMutex

	client        Client
	Me            string
	State         string
	Unread        int64
	Conversations []Conversation
	Messages      []Message
	Active        string
	HasMore       bool
	Flash         Flash

	refreshCh chan struct{}
}

// NewViewModel creates a view model backed by the daemon client.
func NewViewModel(c Client) *ViewModel {
	return &ViewModel{
		client:    c,
		HasMore:   true,
		refreshCh: make(chan struct{}, 1),
	}
}

// RefreshCh returns the channel that signals UI refresh.
func (vm *ViewModel) RefreshCh() <-chan struct{} {
	return vm.refreshCh
}

func (vm *ViewModel) signalRefresh() {
	select {
	case vm.refreshCh <- struct{}{}:
	default:
	}
}

// LoadStatus fetches the connection state and the owner's id.
func (vm *ViewModel) LoadStatus(ctx context.Context) error {
	st, err := vm.client.Status(ctx)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.State = str(st, "state")
	vm.Me = str(st, "user_id")
	vm.mu.Unlock()
	vm.signalRefresh()
	return nil
}

// WatchUnread keeps Unread current until ctx is done. Every change also
// reloads the conversation list so the row markers follow the badge.
func (vm *ViewModel) WatchUnread(ctx context.Context) error {
	return vm.client.WatchUnread(ctx, func(n int64) {
		vm.mu.Lock()
		vm.Unread = n
		vm.mu.Unlock()
		vm.signalRefresh()
		_ = vm.LoadConversations(ctx)
	})
}

// LoadConversations fetches the conversation list.
func (vm *ViewModel) LoadConversations(ctx context.Context) error {
	items, err := vm.client.Conversations(ctx)
	if err != nil {
		return err
	}
	convs := make([]Conversation, 0, len(items))
	for _, it := range items {
		convs = append(convs, conversationFrom(it))
	}
	vm.mu.Lock()
	vm.Conversations = convs
	vm.mu.Unlock()
	vm.signalRefresh()
	return nil
}

// Open makes id the active conversation and loads its history.
func (vm *ViewModel) Open(ctx context.Context, id string) error {
	if err := vm.client.Open(ctx, id); err != nil {
		return err
	}
	vm.mu.Lock()
	vm.Active = id
	vm.HasMore = true
	vm.mu.Unlock()
	return vm.LoadMessages(ctx)
}

// Close leaves the active conversation.
func (vm *ViewModel) Close(ctx context.Context) error {
	vm.mu.Lock()
	vm.Active = ""
	vm.Messages = nil
	vm.mu.Unlock()
	vm.signalRefresh()
	return vm.client.CloseConversation(ctx)
}

// LoadMessages refreshes the loaded history of the active conversation.
func (vm *ViewModel) LoadMessages(ctx context.Context) error {
	active := vm.ActiveID()
	if active == "" {
		return nil
	}
	items, err := vm.client.Messages(ctx, active)
	if err != nil {
		return err
	}
	msgs := make([]Message, 0, len(items))
	for _, it := range items {
		msgs = append(msgs, messageFrom(it))
	}
	vm.mu.Lock()
	if vm.Active == active {
		vm.Messages = msgs
	}
	vm.mu.Unlock()
	vm.signalRefresh()
	return nil
}

// Send queues text for the active conversation.
func (vm *ViewModel) Send(ctx context.Context, text string) error {
	active := vm.ActiveID()
	if active == "" {
		return nil
	}
	if _, err := vm.client.Send(ctx, active, text, nil, ""); err != nil {
		return err
	}
	return vm.LoadMessages(ctx)
}

// Retry resends localID, or the newest failed message when localID is empty.
// It reports false when there was nothing to retry.
func (vm *ViewModel) Retry(ctx context.Context, localID string) (bool, error) {
	if localID == "" {
		localID = vm.LastFailed()
	}
	if localID == "" {
		return false, nil
	}
	if err := vm.client.Retry(ctx, localID); err != nil {
		return true, err
	}
	return true, vm.LoadMessages(ctx)
}

// LoadOlder fetches one more page of history for the active conversation.
func (vm *ViewModel) LoadOlder(ctx context.Context) (int, error) {
	active := vm.ActiveID()
	if active == "" {
		return 0, nil
	}
	res, err := vm.client.LoadOlder(ctx, active)
	if err != nil {
		return 0, err
	}
	hasMore, _ := res["has_more"].(bool)
	inserted, _ := res["inserted"].(float64)
	vm.mu.Lock()
	vm.HasMore = hasMore
	vm.mu.Unlock()
	return int(inserted), vm.LoadMessages(ctx)
}

// ReportViewport tells the daemon the whole loaded history is on screen.
func (vm *ViewModel) ReportViewport(ctx context.Context, focused bool) error {
	vm.mu.RLock()
	active := vm.Active
	var top, newest string
	if n := len(vm.Messages); n > 0 {
		top, newest = vm.Messages[0].ID, vm.Messages[n-1].ID
	}
	vm.mu.RUnlock()
	if active == "" {
		return nil
	}
	return vm.client.ReportViewport(ctx, active, top, newest, 1, focused)
}

// LastFailed returns the local id of the newest failed message.
func (vm *ViewModel) LastFailed() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	for i := len(vm.Messages) - 1; i >= 0; i-- {
		if vm.Messages[i].Failed {
			return vm.Messages[i].ID
		}
	}
	return ""
}

// ActiveID returns the open conversation id.
func (vm *ViewModel) ActiveID() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.Active
}

// ActiveTitle returns the display title of the open conversation.
func (vm *ViewModel) ActiveTitle() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	for _, c := range vm.Conversations {
		if c.ID == vm.Active {
			return c.Title
		}
	}
	return vm.Active
}

// GetUnread returns the last unread count received.
func (vm *ViewModel) GetUnread() int64 {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.Unread
}

// GetHasMore reports whether older history may exist for the open conversation.
func (vm *ViewModel) GetHasMore() bool {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.HasMore
}

// GetState returns the connection state.
func (vm *ViewModel) GetState() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.State
}

// GetMe returns the owner's user id.
func (vm *ViewModel) GetMe() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.Me
}

// GetConversations returns a copy of the conversation list.
func (vm *ViewModel) GetConversations() []Conversation {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	out := make([]Conversation, len(vm.Conversations))
	copy(out, vm.Conversations)
	return out
}

// GetMessages returns a copy of the active history.
func (vm *ViewModel) GetMessages() []Message {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	out := make([]Message, len(vm.Messages))
	copy(out, vm.Messages)
	return out
}

func conversationFrom(v map[string]any) Conversation {
	c := Conversation{
		ID:     str(v, "id"),
		Title:  str(v, "display_name"),
		Unread: flag(v, "unread"),
		Online: int(num(v, "online")),
	}
	if c.Title == "" {
		c.Title = str(v, "name")
	}
	if c.Title == "" {
		c.Title = c.ID
	}
	if newest, ok := v["newest_message"].(map[string]any); ok {
		m := messageFrom(newest)
		c.Preview = m.Content
		c.At = m.At
	}
	return c
}

func messageFrom(v map[string]any) Message {
	m := Message{
		ID:       str(v, "id"),
		SenderID: str(v, "sender_id"),
		Content:  str(v, "content"),
		Status:   str(v, "status"),
		Pending:  flag(v, "pending"),
		Failed:   flag(v, "failed"),
		Reason:   str(v, "failure_reason"),
	}
	if m.Content == "" {
		if atts, ok := v["attachments"].([]any); ok && len(atts) > 0 {
			m.Content = "[attachment]"
		}
	}
	if ts := str(v, "created_at"); ts != "" {
		m.At, _ = time.Parse(time.RFC3339Nano, ts)
	}
	return m
}

func str(v map[string]any, key string) string {
	s, _ := v[key].(string)
	return s
}

func num(v map[string]any, key string) float64 {
	n, _ := v[key].(float64)
	return n
}

func flag(v map[string]any, key string) bool {
	b, _ := v[key].(bool)
	return b
}
