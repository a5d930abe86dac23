package activity

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"pyrus-portal/portal-backend/internal/activity/websocket"
	"pyrus-portal/portal-backend/internal/auth"
	apperrors "pyrus-portal/portal-backend/internal/common/errors"
)

type Handler struct {
	service Service
	feed    *websocket.Manager
	logger  *zap.Logger
}

func NewHandler(service Service, feed *websocket.Manager, logger *zap.Logger) *Handler {
	return &Handler{service: service, feed: feed, logger: logger}
}

// RegisterRoutes expects rg to already authenticate the actor.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	feed := rg.Group("/activity")
	{
		feed.GET("", h.List)
		feed.GET("/ws", h.Stream)
	}
}

func (h *Handler) List(c *gin.Context) {
	actor, ok := auth.ActorFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"code": apperrors.ErrCodeUnauthorized, "error": "not authenticated"})
		return
	}

	filter := ListFilter{}
	filter.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	if raw := c.Query("content_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": apperrors.ErrCodeValidationError, "error": "content_id must be a UUID", "field": "content_id"})
			return
		}
		filter.ContentID = &id
	}
	if raw := c.Query("before"); raw != "" {
		before, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": apperrors.ErrCodeValidationError, "error": "before must be RFC3339", "field": "before"})
			return
		}
		filter.Before = &before
	}

	items, err := h.service.List(c.Request.Context(), filter, actor)
	if err != nil {
		h.logger.Error("Failed to list activity", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": apperrors.ErrCodeStoreUnavailable, "error": "activity is temporarily unavailable", "retryable": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{"activity": items})
}

func (h *Handler) Stream(c *gin.Context) {
	actor, ok := auth.ActorFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"code": apperrors.ErrCodeUnauthorized, "error": "not authenticated"})
		return
	}
	if h.feed == nil {
		c.JSON(http.StatusNotFound, gin.H{"code": apperrors.ErrCodeNotFound, "error": "live feed is disabled"})
		return
	}

	if _, err := h.feed.HandleConnection(c.Writer, c.Request, actor); err != nil {
		h.logger.Warn("Failed to open activity stream", zap.Error(err))
	}
}
