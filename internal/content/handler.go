package content

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"pyrus-portal/portal-backend/internal/auth"
	apperrors "pyrus-portal/portal-backend/internal/common/errors"
	"pyrus-portal/portal-backend/pkg/workflows"
)

type Handler struct {
	service Service
	logger  *zap.Logger
}

func NewHandler(service Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes expects rg to already authenticate the actor.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	items := rg.Group("/content")
	{
		items.POST("", auth.RequireProducer(), h.Create)
		items.GET("", h.List)
		items.GET("/:id", h.Get)
		items.PUT("/:id", auth.RequireProducer(), h.Update)
		items.POST("/:id/transition", h.Transition)
		items.GET("/:id/actions", h.Actions)
		items.GET("/:id/history", h.History)
		items.GET("/:id/feedback", h.Feedback)
		items.GET("/:id/consistency", auth.RequireProducer(), h.Consistency)
		items.POST("/:id/consistency/repair", auth.RequireProducer(), h.RepairConsistency)
	}
}

type transitionBody struct {
	TargetStatus string `json:"target_status" binding:"required"`
	Note         string `json:"note"`
}

func (h *Handler) Create(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}

	var req CreateContentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": apperrors.ErrCodeBadRequest, "error": err.Error()})
		return
	}

	item, err := h.service.CreateContent(c.Request.Context(), req, actor)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

func (h *Handler) List(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}

	req := ListRequest{}
	req.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	req.PageSize, _ = strconv.Atoi(c.DefaultQuery("page_size", "20"))

	if raw := c.Query("client_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			h.respondError(c, apperrors.ValidationError("client_id", "must be a UUID"))
			return
		}
		req.ClientID = &id
	}
	if raw := c.Query("status"); raw != "" {
		status, err := workflows.ParseStatus(raw)
		if err != nil {
			h.respondError(c, apperrors.ValidationError("status", err.Error()))
			return
		}
		req.Status = &status
	}
	if raw := c.Query("content_type"); raw != "" {
		ct := ContentType(raw)
		if !ct.Valid() {
			h.respondError(c, apperrors.ValidationError("content_type", "unknown content type"))
			return
		}
		req.ContentType = &ct
	}

	result, err := h.service.ListContent(c.Request.Context(), req, actor)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) Get(c *gin.Context) {
	actor, id, ok := h.actorAndID(c)
	if !ok {
		return
	}

	item, err := h.service.GetContent(c.Request.Context(), id, actor)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *Handler) Update(c *gin.Context) {
	actor, id, ok := h.actorAndID(c)
	if !ok {
		return
	}

	var req UpdateContentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": apperrors.ErrCodeBadRequest, "error": err.Error()})
		return
	}

	item, err := h.service.UpdateContent(c.Request.Context(), id, req, actor)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *Handler) Transition(c *gin.Context) {
	actor, id, ok := h.actorAndID(c)
	if !ok {
		return
	}

	var body transitionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.respondError(c, apperrors.ValidationError("target_status", "is required"))
		return
	}
	target, err := workflows.ParseStatus(body.TargetStatus)
	if err != nil {
		h.respondError(c, apperrors.ValidationError("target_status", err.Error()))
		return
	}

	item, err := h.service.Transition(c.Request.Context(), id, TransitionRequest{TargetStatus: target, Note: body.Note}, actor)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *Handler) Actions(c *gin.Context) {
	actor, id, ok := h.actorAndID(c)
	if !ok {
		return
	}

	actions, err := h.service.AvailableActions(c.Request.Context(), id, actor)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"actions": actions})
}

func (h *Handler) History(c *gin.Context) {
	actor, id, ok := h.actorAndID(c)
	if !ok {
		return
	}

	history, err := h.service.History(c.Request.Context(), id, actor)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status_history": history})
}

func (h *Handler) Feedback(c *gin.Context) {
	actor, id, ok := h.actorAndID(c)
	if !ok {
		return
	}

	feedback, err := h.service.Feedback(c.Request.Context(), id, actor)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"feedback": feedback})
}

func (h *Handler) Consistency(c *gin.Context) {
	_, id, ok := h.actorAndID(c)
	if !ok {
		return
	}

	report, err := h.service.CheckConsistency(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) RepairConsistency(c *gin.Context) {
	actor, id, ok := h.actorAndID(c)
	if !ok {
		return
	}

	report, err := h.service.RepairReviewRound(c.Request.Context(), id, actor)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) actor(c *gin.Context) (auth.Actor, bool) {
	actor, ok := auth.ActorFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"code": apperrors.ErrCodeUnauthorized, "error": "not authenticated"})
	}
	return actor, ok
}

func (h *Handler) actorAndID(c *gin.Context) (auth.Actor, uuid.UUID, bool) {
	actor, ok := h.actor(c)
	if !ok {
		return auth.Actor{}, uuid.Nil, false
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": apperrors.ErrCodeBadRequest, "error": "invalid id"})
		return auth.Actor{}, uuid.Nil, false
	}
	return actor, id, true
}

// respondError renders an AppError; anything else is an internal error.
func (h *Handler) respondError(c *gin.Context, err error) {
	appErr, ok := apperrors.As(err)
	if !ok {
		h.logger.Error("Unhandled content error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"code": apperrors.ErrCodeInternalError, "error": "internal error"})
		return
	}
	if appErr.HTTPStatus >= http.StatusInternalServerError {
		h.logger.Error("Content request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}

	body := gin.H{"code": appErr.Code, "error": appErr.Message}
	if appErr.Field != "" {
		body["field"] = appErr.Field
	}
	if appErr.Retryable {
		body["retryable"] = true
	}
	for k, v := range appErr.Details {
		body[k] = v
	}
	c.JSON(appErr.HTTPStatus, body)
}
