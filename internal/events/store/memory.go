package store

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/sandbridge/sandbridge/internal/events"
)

// memoryStore is an in-memory event log used in tests and when no database
// path is configured.
type memoryStore struct {
	mu   sync.RWMutex
	logs map[string][]events.Event // lowercased conversation id -> ordered log
}

var _ Store = (*memoryStore)(nil)

// NewMemoryStore creates an empty in-memory event log.
func NewMemoryStore() Store {
	return &memoryStore{logs: make(map[string][]events.Event)}
}

func (s *memoryStore) AppendEvent(ctx context.Context, conversationID, eventType string, payload json.RawMessage) (events.Event, error) {
	key := strings.ToLower(conversationID)

	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.logs[key]
	ev := events.Event{
		ConversationID: conversationID,
		SequenceID:     int64(len(log)),
		Type:           eventType,
		Payload:        append(json.RawMessage(nil), payload...),
		CreatedAt:      time.Now().UTC(),
	}
	s.logs[key] = append(log, ev)
	return ev, nil
}

func (s *memoryStore) GetEvents(ctx context.Context, conversationID string, startID, endID int64, reverse bool, limit int) ([]events.Event, bool, error) {
	if limit <= 0 {
		return nil, false, nil
	}
	key := strings.ToLower(conversationID)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []events.Event
	for _, ev := range s.logs[key] {
		if ev.SequenceID < startID {
			continue
		}
		if endID >= 0 && ev.SequenceID > endID {
			continue
		}
		matched = append(matched, ev)
	}
	if reverse {
		for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
			matched[i], matched[j] = matched[j], matched[i]
		}
	}

	hasMore := len(matched) > limit
	if hasMore {
		matched = matched[:limit]
	}
	return matched, hasMore, nil
}

func (s *memoryStore) LatestSequenceID(ctx context.Context, conversationID string) (int64, error) {
	key := strings.ToLower(conversationID)

	s.mu.RLock()
	defer s.mu.RUnlock()

	return int64(len(s.logs[key])) - 1, nil
}

func (s *memoryStore) Close() error {
	return nil
}
