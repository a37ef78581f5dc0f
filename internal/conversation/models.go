// Package conversation manages conversation records and forwards inbound
// client messages and events into the event log.
package conversation

import "time"

// Conversation is a conversation record. SessionAPIKey, when set, gates
// access to the conversation's event stream.
type Conversation struct {
	ID            string    `json:"id" db:"id"`
	Title         string    `json:"title" db:"title"`
	SessionAPIKey string    `json:"-" db:"session_api_key"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}
