package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/journal"
	"github.com/matheus3301/chatsync/internal/metrics"
)

// DefaultSendTimeout bounds a single send attempt.
const DefaultSendTimeout = 15 * time.Second

// ErrNotRetryable is returned by Retry for anything but a failed send.
var ErrNotRetryable = errors.New("outbox: message is not a failed send")

// MessageSender delivers a draft to the server.
type MessageSender interface {
	SendMessage(ctx context.Context, d chat.Draft) (chat.Message, error)
}

// Engine is the part of the sync engine the sender drives.
type Engine interface {
	AppendOptimistic(ctx context.Context, d chat.Draft) (chat.Message, error)
	RestoreFailed(ctx context.Context, d chat.Draft, reason string) (chat.Message, error)
	ConfirmSend(ctx context.Context, token string, srv chat.Message) (chat.Message, error)
	FailSend(ctx context.Context, localID, reason string) (chat.Message, error)
	PrepareRetry(ctx context.Context, localID string) (chat.Message, bool, error)
}

// Failure is the payload of a message.send_failed event.
type Failure struct {
	LocalID          string
	ConversationID   string
	CorrelationToken string
	Reason           string
}

// Sender shows drafts optimistically, sends them in the background and
// records every attempt in the journal.
type Sender struct {
	engine  Engine
	remote  MessageSender
	db      *journal.DB
	bus     *bus.Bus
	logger  *zap.Logger
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSender creates a new outbox sender.
func NewSender(engine Engine, remote MessageSender, db *journal.DB, b *bus.Bus, timeout time.Duration, logger *zap.Logger) *Sender {
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Sender{
		engine:  engine,
		remote:  remote,
		db:      db,
		bus:     b,
		logger:  logger,
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start fails sends interrupted by a previous run and shows every failed
// journal entry again so it can be retried.
func (s *Sender) Start(ctx context.Context) error {
	n, err := s.db.FailStale("interrupted before the server answered")
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Warn("marked interrupted sends failed", zap.Int64("count", n))
	}

	failed, err := s.db.ByStatus(journal.StatusFailed)
	if err != nil {
		return err
	}
	for _, e := range failed {
		if _, err := s.engine.RestoreFailed(ctx, draftOf(e), e.ErrorMessage); err != nil {
			return fmt.Errorf("restore %s: %w", e.CorrelationToken, err)
		}
	}
	s.logger.Info("outbox started", zap.Int("failed", len(failed)))
	return nil
}

// Stop cancels in-flight sends and waits for them to settle.
func (s *Sender) Stop() {
	s.cancel()
	s.wg.Wait()
}

// Send shows d at once and delivers it in the background. It returns the
// local id of the optimistic message.
func (s *Sender) Send(ctx context.Context, d chat.Draft) (string, error) {
	if d.CorrelationToken == "" {
		d.CorrelationToken = uuid.NewString()
	}
	m, err := s.engine.AppendOptimistic(ctx, d)
	if err != nil {
		return "", err
	}
	s.queue(d, m.ID)
	s.dispatch(d, m.ID)
	return m.ID, nil
}

// Retry resends a failed message with its original correlation token.
func (s *Sender) Retry(ctx context.Context, localID string) error {
	m, ok, err := s.engine.PrepareRetry(ctx, localID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRetryable, localID)
	}

	d := chat.Draft{
		ConversationID:   m.ConversationID,
		SenderID:         m.SenderID,
		Content:          m.Content,
		RepliedMessageID: m.RepliedMessageID,
		CorrelationToken: m.CorrelationToken,
	}
	if e, err := s.db.Get(m.CorrelationToken); err == nil {
		d = draftOf(*e)
	} else {
		for _, a := range m.Attachments {
			d.FileType = a.Type
			d.Files = append(d.Files, chat.Upload{Path: a.URL})
		}
	}
	s.logger.Info("retrying send", zap.String("local_id", localID), zap.String("conversation_id", d.ConversationID))
	s.queue(d, localID)
	s.dispatch(d, localID)
	return nil
}

func (s *Sender) queue(d chat.Draft, localID string) {
	paths := make([]string, 0, len(d.Files))
	for _, f := range d.Files {
		paths = append(paths, f.Path)
	}
	err := s.db.Queue(journal.Entry{
		CorrelationToken: d.CorrelationToken,
		LocalID:          localID,
		ConversationID:   d.ConversationID,
		SenderID:         d.SenderID,
		Body:             d.Content,
		FileType:         string(d.FileType),
		FilePaths:        paths,
		RepliedMessageID: d.RepliedMessageID,
	})
	if err != nil {
		s.logger.Error("failed to journal send", zap.Error(err), zap.String("local_id", localID))
	}
}

func (s *Sender) dispatch(d chat.Draft, localID string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.deliver(d, localID)
	}()
}

func (s *Sender) deliver(d chat.Draft, localID string) {
	token := d.CorrelationToken
	if err := s.db.MarkSending(token); err != nil {
		s.logger.Warn("failed to mark sending", zap.Error(err), zap.String("local_id", localID))
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	srv, err := s.remote.SendMessage(ctx, d)
	cancel()

	settle := context.WithoutCancel(s.ctx)
	if err != nil {
		reason := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			reason = fmt.Sprintf("no answer from server after %s", s.timeout)
		}
		s.fail(settle, d, localID, reason)
		return
	}

	if _, err := s.engine.ConfirmSend(settle, token, srv); err != nil {
		s.logger.Error("failed to reconcile send", zap.Error(err), zap.String("local_id", localID))
	}
	if err := s.db.MarkSent(token, srv.ID); err != nil {
		s.logger.Error("failed to mark sent", zap.Error(err), zap.String("local_id", localID))
	}
	s.logger.Info("message sent", zap.String("local_id", localID), zap.String("server_msg_id", srv.ID))
}

func (s *Sender) fail(ctx context.Context, d chat.Draft, localID, reason string) {
	s.logger.Warn("send failed", zap.String("local_id", localID), zap.String("reason", reason))
	metrics.IncSendFailure()
	if _, err := s.engine.FailSend(ctx, localID, reason); err != nil {
		s.logger.Error("failed to mark message failed", zap.Error(err), zap.String("local_id", localID))
	}
	if err := s.db.MarkFailed(d.CorrelationToken, reason); err != nil {
		s.logger.Error("failed to journal failure", zap.Error(err), zap.String("local_id", localID))
	}
	s.bus.Emit(bus.MessageSendFailed, Failure{
		LocalID:          localID,
		ConversationID:   d.ConversationID,
		CorrelationToken: d.CorrelationToken,
		Reason:           reason,
	})
}

func draftOf(e journal.Entry) chat.Draft {
	d := chat.Draft{
		ConversationID:   e.ConversationID,
		SenderID:         e.SenderID,
		Content:          e.Body,
		FileType:         chat.AttachmentType(e.FileType),
		RepliedMessageID: e.RepliedMessageID,
		CorrelationToken: e.CorrelationToken,
	}
	for _, p := range e.FilePaths {
		d.Files = append(d.Files, chat.Upload{Path: p})
	}
	return d
}
