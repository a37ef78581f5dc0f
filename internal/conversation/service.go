package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sandbridge/sandbridge/internal/common/logger"
	"github.com/sandbridge/sandbridge/internal/events"
	"github.com/sandbridge/sandbridge/internal/events/notifier"
	"github.com/sandbridge/sandbridge/internal/events/store"
)

// Service coordinates conversation records, the event log, and live fan-out.
// Every event appended through the service is also published to subscribers,
// in append order.
type Service struct {
	store    Store
	events   store.Store
	notifier *notifier.Notifier
	logger   *logger.Logger
}

// NewService creates a conversation service.
func NewService(st Store, ev store.Store, n *notifier.Notifier, log *logger.Logger) *Service {
	return &Service{
		store:    st,
		events:   ev,
		notifier: n,
		logger:   log.WithFields(zap.String("component", "conversation_service")),
	}
}

// Authorize validates access to a conversation's event stream. It returns
// ErrNotFound for an unknown id, ErrUnauthorized when the conversation
// requires a session API key the caller did not present, and
// ErrRuntimeUnavailable when the store cannot be reached.
func (s *Service) Authorize(ctx context.Context, conversationID, sessionAPIKey string) error {
	conv, err := s.store.Get(ctx, conversationID)
	if err != nil {
		if KindOf(err) == KindNotFound {
			return ErrNotFound
		}
		s.logger.WithError(err).Error("conversation lookup failed",
			zap.String("conversation_id", conversationID))
		return ErrRuntimeUnavailable
	}
	if conv.SessionAPIKey != "" && conv.SessionAPIKey != sessionAPIKey {
		return ErrUnauthorized
	}
	return nil
}

// Get returns the conversation record.
func (s *Service) Get(ctx context.Context, conversationID string) (Conversation, error) {
	return s.store.Get(ctx, conversationID)
}

// Create stores a new conversation. An empty id gets a generated UUID.
func (s *Service) Create(ctx context.Context, id, title, sessionAPIKey string) (Conversation, error) {
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now().UTC()
	conv := Conversation{
		ID:            id,
		Title:         title,
		SessionAPIKey: sessionAPIKey,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.Create(ctx, conv); err != nil {
		return Conversation{}, err
	}
	s.logger.Info("conversation created", zap.String("conversation_id", conv.ID))
	return conv, nil
}

// List returns a page of conversations, newest first.
func (s *Service) List(ctx context.Context, limit, offset int) ([]Conversation, bool, error) {
	return s.store.List(ctx, limit, offset)
}

// Search returns conversations whose title matches the query.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]Conversation, error) {
	return s.store.Search(ctx, query, limit)
}

// AddEvent appends an event to the conversation's log and publishes it to
// live subscribers. Publish happens after the append commits, so the backlog
// and the live stream agree on ordering.
func (s *Service) AddEvent(ctx context.Context, conversationID, eventType string, payload json.RawMessage) (events.Event, error) {
	ev, err := s.events.AppendEvent(ctx, conversationID, eventType, payload)
	if err != nil {
		return events.Event{}, fmt.Errorf("failed to append event: %w", err)
	}
	s.notifier.Publish(conversationID, string(ev.Payload))
	return ev, nil
}

// AddUserMessage records a user-authored message as an event. The text is
// wrapped in the standard message envelope before appending.
func (s *Service) AddUserMessage(ctx context.Context, conversationID, text string) (events.Event, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"source": "user",
		"message": map[string]interface{}{
			"role":    "user",
			"content": text,
		},
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return events.Event{}, fmt.Errorf("failed to encode user message: %w", err)
	}
	return s.AddEvent(ctx, conversationID, "message", payload)
}
