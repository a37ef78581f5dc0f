package conversation

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sandbridge/sandbridge/internal/common/logger"
	"github.com/sandbridge/sandbridge/internal/conversation/search"
)

// Handlers exposes the conversation REST API.
type Handlers struct {
	service *Service
	search  *search.Gateway
	logger  *logger.Logger
}

// NewHandlers creates the REST handlers.
func NewHandlers(service *Service, sg *search.Gateway, log *logger.Logger) *Handlers {
	return &Handlers{
		service: service,
		search:  sg,
		logger:  log.WithFields(zap.String("component", "conversation_handlers")),
	}
}

// RegisterRoutes mounts the conversation API under the given router group.
func (h *Handlers) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/conversations", h.createConversation)
	r.GET("/conversations", h.listConversations)
	r.GET("/conversations/:id", h.getConversation)
	r.GET("/conversations/search", h.searchConversations)
}

type createConversationRequest struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	SessionAPIKey string `json:"session_api_key"`
}

func (h *Handlers) createConversation(c *gin.Context) {
	var req createConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	conv, err := h.service.Create(c.Request.Context(), req.ID, req.Title, req.SessionAPIKey)
	if err != nil {
		h.logger.WithError(err).Error("failed to create conversation")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create conversation"})
		return
	}
	c.JSON(http.StatusCreated, conv)
}

func (h *Handlers) getConversation(c *gin.Context) {
	conv, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		kind := KindOf(err)
		if kind == KindInternal {
			h.logger.WithError(err).Error("failed to get conversation")
		}
		c.JSON(StatusForKind(kind), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (h *Handlers) listConversations(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	convs, hasMore, err := h.service.List(c.Request.Context(), limit, offset)
	if err != nil {
		h.logger.WithError(err).Error("failed to list conversations")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list conversations"})
		return
	}
	if convs == nil {
		convs = []Conversation{}
	}
	c.JSON(http.StatusOK, gin.H{"conversations": convs, "has_more": hasMore})
}

func (h *Handlers) searchConversations(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing query parameter 'q'"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	results, err := h.search.Search(c.Request.Context(), query, limit)
	if err != nil {
		h.logger.WithError(err).Error("search failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "search failed"})
		return
	}
	if results == nil {
		results = []search.Result{}
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}
