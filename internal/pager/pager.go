package pager

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/store"
)

var (
	// ErrLoadInFlight rejects a load while another for the same conversation runs.
	ErrLoadInFlight = errors.New("pager: load already in flight")
	// ErrNoMoreHistory rejects a load once the server has no older messages.
	ErrNoMoreHistory = errors.New("pager: no more history")
)

// Fetcher loads a page of messages, oldest first.
type Fetcher interface {
	GetMessages(ctx context.Context, conversationID string, skip, take int) ([]chat.Message, error)
}

// Viewport is the view whose scroll position must survive a prepend.
type Viewport interface {
	// TopVisible returns the id of the topmost visible message, or "".
	TopVisible(conversationID string) string
	// Reanchor asks the view to scroll so anchorID keeps its visual offset.
	Reanchor(conversationID, anchorID string)
}

// Runner executes fn with exclusive access to the message store.
type Runner interface {
	Do(ctx context.Context, fn func(*store.Store)) error
}

// Result describes a completed load.
type Result struct {
	Inserted int
	Cursor   store.Cursor
	Anchor   string
}

// Pager loads older history one page at a time per conversation.
type Pager struct {
	runner   Runner
	fetcher  Fetcher
	viewport Viewport
	logger   *zap.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

// New creates a pager.
func New(runner Runner, fetcher Fetcher, viewport Viewport, logger *zap.Logger) *Pager {
	return &Pager{
		runner:   runner,
		fetcher:  fetcher,
		viewport: viewport,
		logger:   logger,
		inflight: make(map[string]struct{}),
	}
}

// InFlight reports whether a load for the conversation is running.
func (p *Pager) InFlight(conversationID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.inflight[conversationID]
	return ok
}

// LoadOlder fetches the page before the loaded history and prepends it. The
// anchor is captured before the fetch and restored after the prepend. The
// cursor only moves when the fetch succeeds.
func (p *Pager) LoadOlder(ctx context.Context, conversationID string) (Result, error) {
	p.mu.Lock()
	if _, ok := p.inflight[conversationID]; ok {
		p.mu.Unlock()
		return Result{}, ErrLoadInFlight
	}
	p.inflight[conversationID] = struct{}{}
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.inflight, conversationID)
		p.mu.Unlock()
	}()

	var cur store.Cursor
	if err := p.runner.Do(ctx, func(s *store.Store) {
		s.Ensure(conversationID)
		cur, _ = s.Cursor(conversationID)
	}); err != nil {
		return Result{}, err
	}
	if !cur.HasMore {
		return Result{Cursor: cur}, ErrNoMoreHistory
	}

	anchor := p.viewport.TopVisible(conversationID)
	page, err := p.fetcher.GetMessages(ctx, conversationID, cur.Skip, cur.Take)
	if err != nil {
		return Result{Cursor: cur}, fmt.Errorf("load older %s: %w", conversationID, err)
	}

	res := Result{Anchor: anchor, Cursor: cur}
	var dropped bool
	if err := p.runner.Do(ctx, func(s *store.Store) {
		if !s.Loaded(conversationID) {
			dropped = true
			return
		}
		res.Inserted = s.PrependPage(conversationID, page)
		res.Cursor = s.AdvanceCursor(conversationID, len(page))
	}); err != nil {
		return res, err
	}
	if dropped {
		p.logger.Debug("page arrived for closed conversation", zap.String("conversation_id", conversationID))
		return res, nil
	}

	if anchor != "" && res.Inserted > 0 {
		p.viewport.Reanchor(conversationID, anchor)
	}
	p.logger.Debug("loaded older page",
		zap.String("conversation_id", conversationID),
		zap.Int("fetched", len(page)),
		zap.Int("inserted", res.Inserted),
		zap.Bool("has_more", res.Cursor.HasMore))
	return res, nil
}
