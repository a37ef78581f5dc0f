package rawws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandbridge/sandbridge/internal/common/logger"
	"github.com/sandbridge/sandbridge/internal/conversation"
	"github.com/sandbridge/sandbridge/internal/events/backlog"
	"github.com/sandbridge/sandbridge/internal/events/notifier"
	"github.com/sandbridge/sandbridge/internal/events/store"
)

type fixture struct {
	service  *conversation.Service
	store    store.Store
	notifier *notifier.Notifier
	server   *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logger.Default()

	events := store.NewMemoryStore()
	convs := conversation.NewMemoryStore()
	n := notifier.NewNotifier(log)
	service := conversation.NewService(convs, events, n, log)

	router := gin.New()
	handler := NewHandler(service, events, n, log)
	router.GET("/sockets/events/:conversationId", handler.Handle)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &fixture{service: service, store: events, notifier: n, server: srv}
}

func (f *fixture) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http") + path
}

func (f *fixture) createConversation(t *testing.T, id, sessionKey string) {
	t.Helper()
	_, err := f.service.Create(context.Background(), id, "test conversation", sessionKey)
	require.NoError(t, err)
}

func (f *fixture) appendEvents(t *testing.T, id string, count int) {
	t.Helper()
	for i := 0; i < count; i++ {
		_, err := f.service.AddEvent(context.Background(), id, "message",
			json.RawMessage(fmt.Sprintf(`{"id":%d}`, i)))
		require.NoError(t, err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return string(data)
}

func TestNonWebSocketRequestRejected(t *testing.T) {
	f := newFixture(t)
	f.createConversation(t, "conv-1", "")

	resp, err := http.Get(f.server.URL + "/sockets/events/conv-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUnknownConversationRejectedWith404(t *testing.T) {
	f := newFixture(t)

	conn, resp, err := websocket.DefaultDialer.Dial(f.wsURL("/sockets/events/nope"), nil)
	require.Error(t, err)
	if conn != nil {
		conn.Close()
	}
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWrongSessionKeyRejectedWith401(t *testing.T) {
	f := newFixture(t)
	f.createConversation(t, "conv-1", "secret")

	_, resp, err := websocket.DefaultDialer.Dial(
		f.wsURL("/sockets/events/conv-1?session_api_key=wrong"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCorrectSessionKeyAccepted(t *testing.T) {
	f := newFixture(t)
	f.createConversation(t, "conv-1", "secret")

	conn, _, err := websocket.DefaultDialer.Dial(
		f.wsURL("/sockets/events/conv-1?session_api_key=secret"), nil)
	require.NoError(t, err)
	conn.Close()
}

func TestBacklogDeliveredInOrder(t *testing.T) {
	f := newFixture(t)
	f.createConversation(t, "conv-1", "")
	f.appendEvents(t, "conv-1", 5)

	conn, _, err := websocket.DefaultDialer.Dial(
		f.wsURL("/sockets/events/conv-1?resend_all=true"), nil)
	require.NoError(t, err)
	defer conn.Close()

	for i := 0; i < 5; i++ {
		assert.Equal(t, fmt.Sprintf(`{"id":%d}`, i), readFrame(t, conn))
	}
}

func TestResumeFromLatestEventID(t *testing.T) {
	f := newFixture(t)
	f.createConversation(t, "conv-1", "")
	f.appendEvents(t, "conv-1", 10)

	conn, _, err := websocket.DefaultDialer.Dial(
		f.wsURL("/sockets/events/conv-1?latest_event_id=4"), nil)
	require.NoError(t, err)
	defer conn.Close()

	for i := 5; i < 10; i++ {
		assert.Equal(t, fmt.Sprintf(`{"id":%d}`, i), readFrame(t, conn))
	}
}

func TestBacklogThenLiveEvents(t *testing.T) {
	f := newFixture(t)
	f.createConversation(t, "conv-1", "")
	f.appendEvents(t, "conv-1", 2)

	conn, _, err := websocket.DefaultDialer.Dial(
		f.wsURL("/sockets/events/conv-1?resend_all=true"), nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, `{"id":0}`, readFrame(t, conn))
	assert.Equal(t, `{"id":1}`, readFrame(t, conn))

	// Wait for the live subscription before publishing.
	require.Eventually(t, func() bool {
		return f.notifier.SubscriberCount("conv-1") == 1
	}, time.Second, 5*time.Millisecond)

	f.appendEvents(t, "conv-1", 3)
	assert.Equal(t, `{"id":2}`, readFrame(t, conn))
}

func TestUserMessageForwardedToConversation(t *testing.T) {
	f := newFixture(t)
	f.createConversation(t, "conv-1", "")

	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL("/sockets/events/conv-1"), nil)
	require.NoError(t, err)
	defer conn.Close()

	msg := `{"role":"user","content":[{"type":"text","text":"hello"},{"type":"text","text":"world"}]}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))

	// The forwarded message lands in the event log.
	require.Eventually(t, func() bool {
		latest, err := f.store.LatestSequenceID(context.Background(), "conv-1")
		return err == nil && latest == 0
	}, time.Second, 5*time.Millisecond)

	evs, _, err := f.store.GetEvents(context.Background(), "conv-1", 0, -1, false, 10)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Contains(t, string(evs[0].Payload), "hello\nworld")
}

func TestNonUserFramesIgnored(t *testing.T) {
	f := newFixture(t)
	f.createConversation(t, "conv-1", "")

	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL("/sockets/events/conv-1"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"role":"assistant","content":[{"type":"text","text":"hi"}]}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`not json at all`)))

	time.Sleep(50 * time.Millisecond)
	latest, err := f.store.LatestSequenceID(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, int64(-1), latest)
}

// An event published after the subscription opens but before the backlog is
// fetched shows up in both: the hand-off boundary favors a duplicate over a
// loss. This pins the subscribe-then-fetch ordering.
func TestHandoffDeliversDuplicateRatherThanLoss(t *testing.T) {
	f := newFixture(t)
	f.createConversation(t, "conv-1", "")
	ctx := context.Background()

	sub := f.notifier.Subscribe(ctx, "conv-1")
	defer sub.Close()

	f.appendEvents(t, "conv-1", 1)

	payloads, err := backlog.Collect(ctx, f.store, backlog.Request{
		ConversationID: "conv-1",
		ResendAll:      true,
		LatestEventID:  -1,
	}, logger.Default())
	require.NoError(t, err)
	require.Equal(t, []string{`{"id":0}`}, payloads)

	live, ok := sub.Next(ctx)
	require.True(t, ok)
	assert.Equal(t, `{"id":0}`, live)
}

// The reverse cancellation direction: ending the send loop first (the
// subscription is closed server-side) must unblock the receive loop's
// pending read and close the connection within a bounded time.
func TestSubscriptionCloseUnblocksReceiveLoop(t *testing.T) {
	gin.SetMode(gin.TestMode)
	log := logger.Default()

	events := store.NewMemoryStore()
	convs := conversation.NewMemoryStore()
	n := notifier.NewNotifier(log)
	service := conversation.NewService(convs, events, n, log)
	h := NewHandler(service, events, n, log)

	subCh := make(chan *notifier.Subscription, 1)
	handlerDone := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer close(handlerDone)
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		sub := n.Subscribe(r.Context(), "conv-1")
		subCh <- sub
		h.pump(r.Context(), conn, sub, log)
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(
		"ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	sub := <-subCh
	sub.Close()

	// The client sees a normal close, not a read timeout.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure),
		"expected close frame, got %v", err)

	// Both loops unwound and the handler returned.
	select {
	case <-handlerDone:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not return after subscription close")
	}
}

func TestPeerCloseReleasesSubscription(t *testing.T) {
	f := newFixture(t)
	f.createConversation(t, "conv-1", "")

	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL("/sockets/events/conv-1"), nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return f.notifier.SubscriberCount("conv-1") == 1
	}, time.Second, 5*time.Millisecond)

	conn.Close()

	// The receive loop observes the close and tears down the subscription.
	require.Eventually(t, func() bool {
		return f.notifier.SubscriberCount("conv-1") == 0
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, f.notifier.TopicCount())
}
