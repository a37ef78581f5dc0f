package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jmoiron/sqlx"
)

// Store persists conversation records. Ids compare case-insensitively.
type Store interface {
	Create(ctx context.Context, conv Conversation) error
	Get(ctx context.Context, id string) (Conversation, error)
	List(ctx context.Context, limit, offset int) ([]Conversation, bool, error)
	Search(ctx context.Context, query string, limit int) ([]Conversation, error)
	Close() error
}

type sqliteStore struct {
	db *sqlx.DB
	ro *sqlx.DB
}

var _ Store = (*sqliteStore)(nil)

// NewSQLiteStore creates a conversation store on the given writer and reader
// connections, initializing the schema if needed.
func NewSQLiteStore(writer, reader *sqlx.DB) (Store, error) {
	s := &sqliteStore{db: writer, ro: reader}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize conversation schema: %w", err)
	}
	return s, nil
}

func (s *sqliteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY COLLATE NOCASE,
		title TEXT NOT NULL DEFAULT '',
		session_api_key TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *sqliteStore) Create(ctx context.Context, conv Conversation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, title, session_api_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, conv.ID, conv.Title, conv.SessionAPIKey, conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

func (s *sqliteStore) Get(ctx context.Context, id string) (Conversation, error) {
	var conv Conversation
	err := s.reader().GetContext(ctx, &conv, `
		SELECT id, title, session_api_key, created_at, updated_at
		FROM conversations WHERE id = ?
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("failed to get conversation: %w", err)
	}
	return conv, nil
}

func (s *sqliteStore) List(ctx context.Context, limit, offset int) ([]Conversation, bool, error) {
	if limit <= 0 {
		limit = 20
	}
	var convs []Conversation
	// Fetch one extra row to detect whether more pages remain.
	err := s.reader().SelectContext(ctx, &convs, `
		SELECT id, title, session_api_key, created_at, updated_at
		FROM conversations ORDER BY created_at DESC LIMIT ? OFFSET ?
	`, limit+1, offset)
	if err != nil {
		return nil, false, fmt.Errorf("failed to list conversations: %w", err)
	}
	hasMore := len(convs) > limit
	if hasMore {
		convs = convs[:limit]
	}
	return convs, hasMore, nil
}

func (s *sqliteStore) Search(ctx context.Context, query string, limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 20
	}
	var convs []Conversation
	err := s.reader().SelectContext(ctx, &convs, `
		SELECT id, title, session_api_key, created_at, updated_at
		FROM conversations WHERE title LIKE ? ORDER BY created_at DESC LIMIT ?
	`, "%"+query+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search conversations: %w", err)
	}
	return convs, nil
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

// memoryStore is the in-memory fallback used when no database path is
// configured. Handy for tests and throwaway runs.
type memoryStore struct {
	mu    sync.RWMutex
	convs map[string]Conversation // lowercased id -> record
	order []string
}

var _ Store = (*memoryStore)(nil)

// NewMemoryStore creates an empty in-memory conversation store.
func NewMemoryStore() Store {
	return &memoryStore{convs: make(map[string]Conversation)}
}

func (m *memoryStore) Create(_ context.Context, conv Conversation) error {
	key := strings.ToLower(conv.ID)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.convs[key]; ok {
		return fmt.Errorf("conversation %s already exists", conv.ID)
	}
	m.convs[key] = conv
	m.order = append(m.order, key)
	return nil
}

func (m *memoryStore) Get(_ context.Context, id string) (Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conv, ok := m.convs[strings.ToLower(id)]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return conv, nil
}

func (m *memoryStore) List(_ context.Context, limit, offset int) ([]Conversation, bool, error) {
	if limit <= 0 {
		limit = 20
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	// Newest first, matching the SQL store's ordering.
	var convs []Conversation
	for i := len(m.order) - 1; i >= 0; i-- {
		convs = append(convs, m.convs[m.order[i]])
	}
	if offset >= len(convs) {
		return nil, false, nil
	}
	convs = convs[offset:]
	hasMore := len(convs) > limit
	if hasMore {
		convs = convs[:limit]
	}
	return convs, hasMore, nil
}

func (m *memoryStore) Search(_ context.Context, query string, limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 20
	}
	needle := strings.ToLower(query)

	m.mu.RLock()
	defer m.mu.RUnlock()

	var convs []Conversation
	for i := len(m.order) - 1; i >= 0 && len(convs) < limit; i-- {
		conv := m.convs[m.order[i]]
		if strings.Contains(strings.ToLower(conv.Title), needle) {
			convs = append(convs, conv)
		}
	}
	return convs, nil
}

func (m *memoryStore) Close() error { return nil }
