// Package rawws serves the plain WebSocket event stream: one JSON document
// per text frame, no envelope.
package rawws

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sandbridge/sandbridge/internal/common/logger"
	"github.com/sandbridge/sandbridge/internal/conversation"
	"github.com/sandbridge/sandbridge/internal/events/backlog"
	"github.com/sandbridge/sandbridge/internal/events/notifier"
	"github.com/sandbridge/sandbridge/internal/events/store"
)

const closeGracePeriod = time.Second

// Handler upgrades /sockets/events/{conversationId} requests and streams the
// backlog followed by live events.
type Handler struct {
	service  *conversation.Service
	store    store.Store
	notifier *notifier.Notifier
	upgrader websocket.Upgrader
	logger   *logger.Logger
}

// NewHandler creates the raw protocol handler.
func NewHandler(service *conversation.Service, st store.Store, n *notifier.Notifier, log *logger.Logger) *Handler {
	return &Handler{
		service:  service,
		store:    st,
		notifier: n,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: log.WithFields(zap.String("component", "raw_events_adapter")),
	}
}

// Handle serves one client connection. Authorization and backlog computation
// happen before the upgrade so failures can still map to an HTTP status; the
// subscription is opened before the backlog is fetched, so an event published
// during the hand-off is delivered twice rather than lost.
func (h *Handler) Handle(c *gin.Context) {
	conversationID := c.Param("conversationId")
	if conversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing conversation id"})
		return
	}
	if !websocket.IsWebSocketUpgrade(c.Request) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "websocket upgrade required"})
		return
	}

	sessionKey := c.Query("session_api_key")
	resendAll := isTruthy(c.Query("resend_all"))
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
			log.WithError(err).Warn("stream rejected, runtime unavailable")
		} else if kind == conversation.KindInternal {
			log.WithError(err).Error("stream authorization failed")
		}
		c.JSON(conversation.StatusForKind(kind), gin.H{"error": err.Error()})
		return
	}

	sub := h.notifier.Subscribe(ctx, conversationID)
	defer sub.Close()

	payloads, err := backlog.Collect(ctx, h.store, backlog.Request{
		ConversationID: conversationID,
		ResendAll:      resendAll,
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
		// Upgrade writes its own error response.
		log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	log.Info("stream connected",
		zap.Bool("resend_all", resendAll),
		zap.Int64("latest_event_id", latestEventID),
		zap.Int("backlog_size", len(payloads)))

	for _, payload := range payloads {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
			log.WithError(err).Warn("backlog write failed")
			_ = conn.Close()
			return
		}
	}

	h.pump(ctx, conn, sub, log)
	log.Info("stream disconnected")
}

// pump runs the receive and send loops until either terminates, then shuts
// both down and closes the socket.
func (h *Handler) pump(parent context.Context, conn *websocket.Conn, sub *notifier.Subscription, log *logger.Logger) {
	g, ctx := errgroup.WithContext(parent)

	g.Go(func() error {
		// Receive loop. A read error means the peer closed or the socket
		// died; returning cancels the group context and wakes the send loop.
		defer sub.Close()
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				return err
			}
			if msgType != websocket.TextMessage {
				continue
			}
			text, ok := ParseUserMessage(data)
			if !ok {
				continue
			}
			if _, err := h.service.AddUserMessage(ctx, sub.ConversationID, text); err != nil {
				// Best-effort forwarding: the connection survives.
				log.WithError(err).Warn("failed to forward user message")
			}
		}
	})

	g.Go(func() error {
		// Send loop. Next returns false on subscription close or context
		// cancellation; closing the socket afterwards unblocks the receive
		// loop's pending read.
		defer func() {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(closeGracePeriod))
			_ = conn.Close()
		}()
		for {
			payload, ok := sub.Next(ctx)
			if !ok {
				return nil
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
				return err
			}
		}
	})

	if err := g.Wait(); err != nil && !websocket.IsCloseError(err,
		websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		log.WithError(err).Debug("stream terminated")
	}
}

func isTruthy(value string) bool {
	return value == "true" || value == "1"
}
