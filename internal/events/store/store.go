// Package store provides the durable, ordered per-conversation event log.
package store

import (
	"context"
	"encoding/json"

	"github.com/sandbridge/sandbridge/internal/events"
)

// Store is the durable event log. An unknown conversation id simply has an
// empty log. Conversation ids compare case-insensitively.
type Store interface {
	// AppendEvent appends a new event to the conversation's log, assigning
	// the next sequence id, and returns the stored event.
	AppendEvent(ctx context.Context, conversationID, eventType string, payload json.RawMessage) (events.Event, error)

	// GetEvents returns events with sequence ids in [startID, endID]
	// (endID < 0 means unbounded), ordered ascending unless reverse is set,
	// at most limit entries. The second return reports whether more events
	// remain past the returned page.
	GetEvents(ctx context.Context, conversationID string, startID, endID int64, reverse bool, limit int) ([]events.Event, bool, error)

	// LatestSequenceID returns the highest sequence id stored for the
	// conversation, or -1 when the log is empty.
	LatestSequenceID(ctx context.Context, conversationID string) (int64, error)

	Close() error
}
