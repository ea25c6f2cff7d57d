package journal

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Entry statuses.
const (
	StatusQueued  = "queued"
	StatusSending = "sending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

// ErrNotFound is returned when no entry matches.
var ErrNotFound = errors.New("journal: entry not found")

// Entry is one outgoing message in the journal.
type Entry struct {
	ID               int64
	CorrelationToken string
	LocalID          string
	ConversationID   string
	SenderID         string
	Body             string
	FileType         string
	FilePaths        []string
	RepliedMessageID string
	Status           string
	ErrorMessage     string
	ServerMsgID      string
	Attempts         int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Queue records a new send. Queuing the same correlation token again resets
// the entry to queued.
func (db *DB) Queue(e Entry) error {
	paths, err := json.Marshal(e.FilePaths)
	if err != nil {
		return fmt.Errorf("encode file paths: %w", err)
	}
	if e.FilePaths == nil {
		paths = []byte("[]")
	}
	now := time.Now().UnixMilli()
	_, err = db.Exec(`
		INSERT INTO outbox (correlation_token, local_id, conversation_id, sender_id, body,
			file_type, file_paths, replied_message_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'queued', ?, ?)
		ON CONFLICT(correlation_token) DO UPDATE SET
			status = 'queued', error_message = '', updated_at = excluded.updated_at`,
		e.CorrelationToken, e.LocalID, e.ConversationID, e.SenderID, e.Body,
		e.FileType, string(paths), e.RepliedMessageID, now, now)
	if err != nil {
		return fmt.Errorf("queue %s: %w", e.CorrelationToken, err)
	}
	return nil
}

// MarkSending records an attempt in progress.
func (db *DB) MarkSending(token string) error {
	return db.update(token, `UPDATE outbox SET status = 'sending', attempts = attempts + 1, updated_at = ? WHERE correlation_token = ?`,
		time.Now().UnixMilli(), token)
}

// MarkSent records the server id of a delivered send.
func (db *DB) MarkSent(token, serverMsgID string) error {
	return db.update(token, `UPDATE outbox SET status = 'sent', server_msg_id = ?, error_message = '', updated_at = ? WHERE correlation_token = ?`,
		serverMsgID, time.Now().UnixMilli(), token)
}

// MarkFailed records why a send failed.
func (db *DB) MarkFailed(token, errMsg string) error {
	return db.update(token, `UPDATE outbox SET status = 'failed', error_message = ?, updated_at = ? WHERE correlation_token = ?`,
		errMsg, time.Now().UnixMilli(), token)
}

func (db *DB) update(token, query string, args ...any) error {
	res, err := db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", token, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, token)
	}
	return nil
}

// FailStale marks entries left queued or sending by a previous run as failed
// and returns how many changed.
func (db *DB) FailStale(reason string) (int64, error) {
	res, err := db.Exec(`UPDATE outbox SET status = 'failed', error_message = ?, updated_at = ? WHERE status IN ('queued', 'sending')`,
		reason, time.Now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("fail stale: %w", err)
	}
	return res.RowsAffected()
}

// Get returns the entry for a correlation token.
func (db *DB) Get(token string) (*Entry, error) {
	row := db.QueryRow(selectEntry+` WHERE correlation_token = ?`, token)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, token)
	}
	return e, err
}

// ByStatus returns entries in a status, oldest first.
func (db *DB) ByStatus(status string) ([]Entry, error) {
	rows, err := db.Query(selectEntry+` WHERE status = ? ORDER BY created_at ASC, id ASC`, status)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// Prune deletes sent entries last updated before cutoff.
func (db *DB) Prune(cutoff time.Time) (int64, error) {
	res, err := db.Exec(`DELETE FROM outbox WHERE status = 'sent' AND updated_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune: %w", err)
	}
	return res.RowsAffected()
}

const selectEntry = `
	SELECT id, correlation_token, local_id, conversation_id, sender_id, body, file_type,
		file_paths, replied_message_id, status, error_message, server_msg_id, attempts,
		created_at, updated_at
	FROM outbox`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*Entry, error) {
	var (
		e                Entry
		paths            string
		created, updated int64
	)
	if err := s.Scan(&e.ID, &e.CorrelationToken, &e.LocalID, &e.ConversationID, &e.SenderID, &e.Body,
		&e.FileType, &paths, &e.RepliedMessageID, &e.Status, &e.ErrorMessage, &e.ServerMsgID,
		&e.Attempts, &created, &updated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(paths), &e.FilePaths); err != nil {
		return nil, fmt.Errorf("decode file paths of %s: %w", e.CorrelationToken, err)
	}
	e.CreatedAt = time.UnixMilli(created)
	e.UpdatedAt = time.UnixMilli(updated)
	return &e, nil
}
