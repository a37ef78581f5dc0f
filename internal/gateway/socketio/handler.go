// Package socketio serves the event stream to clients speaking the
// Socket.IO v4 protocol over a WebSocket transport.
package socketio

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sandbridge/sandbridge/internal/common/config"
	"github.com/sandbridge/sandbridge/internal/common/logger"
	"github.com/sandbridge/sandbridge/internal/conversation"
	"github.com/sandbridge/sandbridge/internal/events/backlog"
	"github.com/sandbridge/sandbridge/internal/events/notifier"
	"github.com/sandbridge/sandbridge/internal/events/store"
	siowire "github.com/sandbridge/sandbridge/pkg/socketio"
)

const (
	// eventName is the only outbound Socket.IO event this server emits.
	eventName = "oh_event"

	closeGracePeriod = time.Second
)

// inboundEvents are the Socket.IO event names forwarded to the conversation.
var inboundEvents = map[string]bool{
	"oh_user_action": true,
	"oh_action":      true,
}

// Handler emulates a Socket.IO v4 server on /socket.io. Only the websocket
// transport is offered; polling requests are rejected.
type Handler struct {
	service  *conversation.Service
	store    store.Store
	notifier *notifier.Notifier
	stream   config.StreamConfig
	upgrader websocket.Upgrader
	logger   *logger.Logger
}

// NewHandler creates the Socket.IO protocol handler.
func NewHandler(service *conversation.Service, st store.Store, n *notifier.Notifier, stream config.StreamConfig, log *logger.Logger) *Handler {
	return &Handler{
		service:  service,
		store:    st,
		notifier: n,
		stream:   stream,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: log.WithFields(zap.String("component", "socketio_adapter")),
	}
}

// session is one connected Socket.IO client. The write mutex serializes the
// send loop's event frames against the receive loop's pong replies.
type session struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (s *session) writeFrame(frame string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, []byte(frame))
}

// Handle serves one Socket.IO connection: handshake, backlog, then live
// events and heartbeats until either side disconnects.
func (h *Handler) Handle(c *gin.Context) {
	conversationID := c.Query("conversation_id")
	if conversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing conversation_id"})
		return
	}
	if transport := c.Query("transport"); transport != "" && transport != "websocket" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "only the websocket transport is supported"})
		return
	}
	if !websocket.IsWebSocketUpgrade(c.Request) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "websocket upgrade required"})
		return
	}

	sessionKey := c.Query("session_api_key")
	resendAll := c.Query("resend_all") == "true" || c.Query("resend_all") == "1"
	latestEventID := int64(-1)
	if raw := c.Query("latest_event_id"); raw != "" {
		if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil {
			latestEventID = parsed
		}
	}

	ctx := c.Request.Context()
	log := h.logger.WithConversationID(conversationID)

	if err := h.service.Authorize(ctx, conversationID, sessionKey); err != nil {
		kind := conversation.KindOf(err)
		if kind == conversation.KindRuntimeUnavailable {
			log.WithError(err).Warn("socket.io session rejected, runtime unavailable")
		} else if kind == conversation.KindInternal {
			log.WithError(err).Error("socket.io authorization failed")
		}
		c.JSON(conversation.StatusForKind(kind), gin.H{"error": err.Error()})
		return
	}

	sub := h.notifier.Subscribe(ctx, conversationID)
	defer sub.Close()

	// A client that does not know its position gets the full history.
	payloads, err := backlog.Collect(ctx, h.store, backlog.Request{
		ConversationID: conversationID,
		ResendAll:      resendAll || latestEventID < 0,
		LatestEventID:  latestEventID,
	}, log)
	if err != nil {
		kind := conversation.KindOf(err)
		if kind == conversation.KindInternal {
			log.WithError(err).Error("backlog computation failed")
		}
		c.JSON(conversation.StatusForKind(kind), gin.H{"error": "failed to prepare event backlog"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	sess := &session{conn: conn}

	handshake, err := siowire.EncodeHandshake(uuid.New().String(),
		int64(h.stream.PingIntervalMs), int64(h.stream.PingTimeoutMs))
	if err != nil {
		log.WithError(err).Error("failed to encode handshake")
		_ = conn.Close()
		return
	}
	if err := sess.writeFrame(handshake); err != nil {
		_ = conn.Close()
		return
	}
	if err := sess.writeFrame(siowire.ConnectFrame); err != nil {
		_ = conn.Close()
		return
	}

	log.Info("socket.io session connected",
		zap.Int64("latest_event_id", latestEventID),
		zap.Int("backlog_size", len(payloads)))

	for _, payload := range payloads {
		if err := sess.writeFrame(siowire.EncodeEvent(eventName, payload)); err != nil {
			log.WithError(err).Warn("backlog write failed")
			_ = conn.Close()
			return
		}
	}

	h.pump(ctx, sess, sub, log)
	log.Info("socket.io session disconnected")
}

func (h *Handler) pump(parent context.Context, sess *session, sub *notifier.Subscription, log *logger.Logger) {
	g, ctx := errgroup.WithContext(parent)

	g.Go(func() error {
		defer sub.Close()
		for {
			msgType, data, err := sess.conn.ReadMessage()
			if err != nil {
				return err
			}
			if msgType != websocket.TextMessage {
				continue
			}
			if done := h.handleFrame(ctx, sess, sub.ConversationID, string(data), log); done {
				return nil
			}
		}
	})

	g.Go(func() error {
		defer func() {
			_ = sess.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(closeGracePeriod))
			_ = sess.conn.Close()
		}()
		for {
			payload, ok := sub.Next(ctx)
			if !ok {
				return nil
			}
			if err := sess.writeFrame(siowire.EncodeEvent(eventName, payload)); err != nil {
				return err
			}
		}
	})

	if err := g.Wait(); err != nil && !websocket.IsCloseError(err,
		websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		log.WithError(err).Debug("socket.io session terminated")
	}
}

// handleFrame processes one inbound text frame. The return value is true when
// the client requested disconnect and the session should end.
func (h *Handler) handleFrame(ctx context.Context, sess *session, conversationID, frame string, log *logger.Logger) bool {
	pkt, err := siowire.Decode(frame)
	if err != nil {
		log.WithError(err).Debug("ignoring malformed frame")
		return false
	}

	switch pkt.EngineType {
	case siowire.EnginePing:
		// Heartbeat: echo the probe data back verbatim.
		if err := sess.writeFrame(siowire.EncodePong(pkt.Data)); err != nil {
			log.WithError(err).Debug("pong write failed")
		}
		return false
	case siowire.EngineClose:
		return true
	case siowire.EngineMessage:
		switch pkt.SocketType {
		case siowire.SocketDisconnect:
			return true
		case siowire.SocketEvent:
			h.forwardEvent(ctx, conversationID, pkt.Data, log)
		}
	}
	return false
}

// forwardEvent forwards a recognized client event to the conversation. Any
// failure is logged and the session continues.
func (h *Handler) forwardEvent(ctx context.Context, conversationID, data string, log *logger.Logger) {
	name, args, err := siowire.DecodeEvent(data)
	if err != nil {
		log.WithError(err).Debug("ignoring malformed event packet")
		return
	}
	if !inboundEvents[name] || len(args) == 0 {
		return
	}
	if _, err := h.service.AddEvent(ctx, conversationID, name, args[0]); err != nil {
		log.WithError(err).Warn("failed to forward client event",
			zap.String("event", name))
	}
}
