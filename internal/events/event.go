// Package events defines the conversation event model shared by the store,
// the notifier, and the stream adapters.
package events

import (
	"encoding/json"
	"time"
)

// Event is a single entry in a conversation's append-only event log.
// Sequence ids are unique and strictly increasing per conversation and are
// never reused; events are immutable once written.
type Event struct {
	ConversationID string          `json:"conversation_id" db:"conversation_id"`
	SequenceID     int64           `json:"sequence_id" db:"sequence_id"`
	Type           string          `json:"type" db:"type"`
	Payload        json.RawMessage `json:"payload" db:"payload"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}
