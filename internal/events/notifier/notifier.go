// Package notifier provides in-process publish/subscribe fan-out of
// conversation events, one logical topic per conversation id.
package notifier

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sandbridge/sandbridge/internal/common/logger"
)

// Notifier is the subscriber registry. Conversation ids compare
// case-insensitively. Publishing to a conversation with no subscribers is a
// no-op; publishing never blocks and never fails.
type Notifier struct {
	mu     sync.RWMutex
	topics map[string]*topic // lowercased conversation id -> subscriber set
	logger *logger.Logger
}

// topic owns the subscriber set for one conversation. All mutation of the
// set happens under the topic's own lock so unrelated conversations never
// contend.
type topic struct {
	mu   sync.Mutex
	subs map[string]*Subscription
}

// Subscription is one subscriber's handle: an unbounded queue of payloads
// plus idempotent teardown. It is owned exclusively by the adapter that
// created it.
type Subscription struct {
	ConversationID string

	id        string
	key       string
	queue     *Queue
	notifier  *Notifier
	done      chan struct{}
	closeOnce sync.Once
}

// NewNotifier creates an empty registry.
func NewNotifier(log *logger.Logger) *Notifier {
	return &Notifier{
		topics: make(map[string]*topic),
		logger: log.WithFields(zap.String("component", "event_notifier")),
	}
}

// Subscribe registers a new subscriber for the conversation. Cancellation of
// ctx closes and unregisters the subscription; calling Close directly does
// the same, and both paths converge on one idempotent teardown.
func (n *Notifier) Subscribe(ctx context.Context, conversationID string) *Subscription {
	key := strings.ToLower(conversationID)
	sub := &Subscription{
		ConversationID: conversationID,
		id:             uuid.New().String(),
		key:            key,
		queue:          NewQueue(),
		notifier:       n,
		done:           make(chan struct{}),
	}

	// Insert while still holding the registry lock (registry then topic,
	// same order as unregister). Releasing the registry lock before the
	// insert would let a racing removal of the last subscriber delete the
	// topic entry and strand this subscription in an unreachable set.
	n.mu.Lock()
	t, ok := n.topics[key]
	if !ok {
		t = &topic{subs: make(map[string]*Subscription)}
		n.topics[key] = t
	}
	t.mu.Lock()
	t.subs[sub.id] = sub
	t.mu.Unlock()
	n.mu.Unlock()

	// The watcher exits on Close too, so a subscription under a
	// long-lived context does not pin a goroutine after teardown.
	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()

	n.logger.Debug("subscriber added",
		zap.String("conversation_id", conversationID),
		zap.String("sub_id", sub.id))
	return sub
}

// Publish offers the payload to every registered queue for the conversation.
// Queues that refuse the write (their reader completed) are removed as a
// side effect, and the topic entry is dropped once its set becomes empty.
func (n *Notifier) Publish(conversationID, payload string) {
	key := strings.ToLower(conversationID)

	n.mu.RLock()
	t, ok := n.topics[key]
	n.mu.RUnlock()
	if !ok {
		return
	}

	t.mu.Lock()
	for id, sub := range t.subs {
		if !sub.queue.Push(payload) {
			// Dead subscriber: lazy garbage collection on publish.
			delete(t.subs, id)
		}
	}
	empty := len(t.subs) == 0
	t.mu.Unlock()

	if empty {
		n.removeTopicIfEmpty(key, t)
	}
}

// SubscriberCount returns the number of live subscribers for a conversation.
func (n *Notifier) SubscriberCount(conversationID string) int {
	key := strings.ToLower(conversationID)

	n.mu.RLock()
	t, ok := n.topics[key]
	n.mu.RUnlock()
	if !ok {
		return 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// TopicCount returns the number of conversations with at least one
// registered subscriber.
func (n *Notifier) TopicCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.topics)
}

// unregister removes a subscription from its topic, dropping the topic entry
// when the set becomes empty. Lock order is always registry then topic.
func (n *Notifier) unregister(key, id string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	t, ok := n.topics[key]
	if !ok {
		return
	}

	t.mu.Lock()
	delete(t.subs, id)
	empty := len(t.subs) == 0
	t.mu.Unlock()

	if empty {
		delete(n.topics, key)
	}
}

// removeTopicIfEmpty re-checks emptiness under the registry lock before
// deleting, so a racing Subscribe that re-populated the set wins.
func (n *Notifier) removeTopicIfEmpty(key string, t *topic) {
	n.mu.Lock()
	defer n.mu.Unlock()

	current, ok := n.topics[key]
	if !ok || current != t {
		return
	}

	t.mu.Lock()
	empty := len(t.subs) == 0
	t.mu.Unlock()

	if empty {
		delete(n.topics, key)
	}
}

// Next blocks until the next payload is available, the subscription is
// closed, or ctx is cancelled. The second return is false once no more
// payloads will be delivered.
func (s *Subscription) Next(ctx context.Context) (string, bool) {
	return s.queue.Pop(ctx)
}

// Close unregisters the subscription and closes its queue. Idempotent.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.queue.Close()
		s.notifier.unregister(s.key, s.id)
		s.notifier.logger.Debug("subscriber removed",
			zap.String("conversation_id", s.ConversationID),
			zap.String("sub_id", s.id))
	})
}
