package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sandbridge/sandbridge/internal/events"
)

type sqliteStore struct {
	db *sqlx.DB // writer
	ro *sqlx.DB // reader
}

var _ Store = (*sqliteStore)(nil)

// NewSQLiteStore creates an event log backed by the given writer and reader
// connections, initializing the schema if needed.
func NewSQLiteStore(writer, reader *sqlx.DB) (Store, error) {
	s := &sqliteStore{db: writer, ro: reader}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize event schema: %w", err)
	}
	return s, nil
}

func (s *sqliteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversation_events (
		conversation_id TEXT NOT NULL COLLATE NOCASE,
		sequence_id INTEGER NOT NULL,
		type TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (conversation_id, sequence_id)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// AppendEvent assigns the next sequence id under the single writer connection,
// which serializes concurrent appends for the same conversation.
func (s *sqliteStore) AppendEvent(ctx context.Context, conversationID, eventType string, payload json.RawMessage) (events.Event, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return events.Event{}, fmt.Errorf("failed to begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var next int64
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(sequence_id) + 1, 0)
		FROM conversation_events WHERE conversation_id = ?
	`, conversationID).Scan(&next)
	if err != nil {
		return events.Event{}, fmt.Errorf("failed to compute next sequence id: %w", err)
	}

	ev := events.Event{
		ConversationID: conversationID,
		SequenceID:     next,
		Type:           eventType,
		Payload:        payload,
		CreatedAt:      time.Now().UTC(),
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversation_events (conversation_id, sequence_id, type, payload, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, ev.ConversationID, ev.SequenceID, ev.Type, string(ev.Payload), ev.CreatedAt)
	if err != nil {
		return events.Event{}, fmt.Errorf("failed to insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return events.Event{}, fmt.Errorf("failed to commit event: %w", err)
	}
	return ev, nil
}

func (s *sqliteStore) GetEvents(ctx context.Context, conversationID string, startID, endID int64, reverse bool, limit int) ([]events.Event, bool, error) {
	if limit <= 0 {
		return nil, false, nil
	}

	query := `
		SELECT conversation_id, sequence_id, type, payload, created_at
		FROM conversation_events
		WHERE conversation_id = ? AND sequence_id >= ?`
	args := []interface{}{conversationID, startID}
	if endID >= 0 {
		query += " AND sequence_id <= ?"
		args = append(args, endID)
	}
	if reverse {
		query += " ORDER BY sequence_id DESC"
	} else {
		query += " ORDER BY sequence_id ASC"
	}
	// Fetch one extra row to detect whether more pages remain.
	query += " LIMIT ?"
	args = append(args, limit+1)

	rows, err := s.reader().QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("failed to query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []events.Event
	for rows.Next() {
		var ev events.Event
		var payload string
		err := rows.Scan(&ev.ConversationID, &ev.SequenceID, &ev.Type, &payload, &ev.CreatedAt)
		if err != nil {
			return nil, false, err
		}
		ev.Payload = json.RawMessage(payload)
		result = append(result, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	hasMore := len(result) > limit
	if hasMore {
		result = result[:limit]
	}
	return result, hasMore, nil
}

func (s *sqliteStore) LatestSequenceID(ctx context.Context, conversationID string) (int64, error) {
	var latest sql.NullInt64
	err := s.reader().QueryRowContext(ctx, `
		SELECT MAX(sequence_id) FROM conversation_events WHERE conversation_id = ?
	`, conversationID).Scan(&latest)
	if err != nil {
		return -1, fmt.Errorf("failed to query latest sequence id: %w", err)
	}
	if !latest.Valid {
		return -1, nil
	}
	return latest.Int64, nil
}

func (s *sqliteStore) reader() *sqlx.DB {
	if s.ro != nil {
		return s.ro
	}
	return s.db
}

func (s *sqliteStore) Close() error {
	if s.ro != nil {
		_ = s.ro.Close()
	}
	return s.db.Close()
}
