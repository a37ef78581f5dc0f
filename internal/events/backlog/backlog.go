// Package backlog computes the ordered sequence of historical events a
// (re)connecting client must receive before live streaming begins.
package backlog

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/sandbridge/sandbridge/internal/common/logger"
	"github.com/sandbridge/sandbridge/internal/events"
	"github.com/sandbridge/sandbridge/internal/events/store"
)

const (
	// PageSize bounds a single event-store fetch.
	PageSize = 100

	// maxPages bounds worst-case work against a misbehaving or unbounded
	// store during a full replay. Hitting it truncates the backlog; it is
	// logged but not an error.
	maxPages = 100
)

// Request describes what a connecting client has already seen.
type Request struct {
	ConversationID string
	// ResendAll requests the full history from sequence id 0.
	ResendAll bool
	// LatestEventID is the highest sequence id the client has seen, or -1
	// if unknown.
	LatestEventID int64
}

// Collect returns the serialized payloads the client must see, in ascending
// sequence-id order. Each call produces an independent snapshot; the result
// is never shared between clients. Payloads that are not valid JSON are
// skipped rather than aborting the whole backlog.
func Collect(ctx context.Context, st store.Store, req Request, log *logger.Logger) ([]string, error) {
	if req.ResendAll {
		return collectAll(ctx, st, req.ConversationID, log)
	}

	start := req.LatestEventID + 1
	if req.LatestEventID < 0 {
		start = 0
	}
	page, _, err := st.GetEvents(ctx, req.ConversationID, start, -1, false, PageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch backlog page: %w", err)
	}
	return serialize(page, log), nil
}

func collectAll(ctx context.Context, st store.Store, conversationID string, log *logger.Logger) ([]string, error) {
	var payloads []string
	start := int64(0)

	for page := 0; ; page++ {
		if page >= maxPages {
			log.Warn("backlog truncated at page ceiling",
				zap.String("conversation_id", conversationID),
				zap.Int("pages", maxPages))
			break
		}

		batch, hasMore, err := st.GetEvents(ctx, conversationID, start, -1, false, PageSize)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch backlog page: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		payloads = append(payloads, serialize(batch, log)...)
		start = batch[len(batch)-1].SequenceID + 1

		if !hasMore {
			break
		}
	}
	return payloads, nil
}

// serialize emits each event's payload exactly as stored. A corrupt payload
// is skipped (best-effort delivery for a single bad record).
func serialize(batch []events.Event, log *logger.Logger) []string {
	result := make([]string, 0, len(batch))
	for _, ev := range batch {
		if !json.Valid(ev.Payload) {
			log.Warn("skipping event with invalid payload",
				zap.String("conversation_id", ev.ConversationID),
				zap.Int64("sequence_id", ev.SequenceID))
			continue
		}
		result = append(result, string(ev.Payload))
	}
	return result
}
