package reports

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"pyrus-portal/portal-backend/internal/auth"
	apperrors "pyrus-portal/portal-backend/internal/common/errors"
)

// Handler handles HTTP requests for pipeline reports
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a new reports handler
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes registers reporting routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	reports := router.Group("/reports")
	{
		reports.GET("/pipeline", h.getPipelineSummary)
		reports.GET("/pipeline/export", h.exportPipeline)
	}
}

// filterFor scopes client actors to their own account; producers may pass
// client_id or read agency-wide.
func (h *Handler) filterFor(c *gin.Context) (PipelineFilter, bool) {
	actor, ok := auth.ActorFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"code": apperrors.ErrCodeUnauthorized, "error": "not authenticated"})
		return PipelineFilter{}, false
	}

	if !actor.IsProducer() {
		if actor.ClientID == nil {
			c.JSON(http.StatusForbidden, gin.H{"code": apperrors.ErrCodeForbidden, "error": "client account required"})
			return PipelineFilter{}, false
		}
		id := *actor.ClientID
		return PipelineFilter{ClientID: &id}, true
	}

	var filter PipelineFilter
	if raw := c.Query("client_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": apperrors.ErrCodeValidationError, "error": "client_id must be a UUID", "field": "client_id"})
			return PipelineFilter{}, false
		}
		filter.ClientID = &id
	}
	return filter, true
}

func (h *Handler) getPipelineSummary(c *gin.Context) {
	filter, ok := h.filterFor(c)
	if !ok {
		return
	}

	summary, err := h.service.GetPipelineSummary(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to get pipeline summary", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": apperrors.ErrCodeStoreUnavailable, "error": "reports are temporarily unavailable", "retryable": true})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) exportPipeline(c *gin.Context) {
	filter, ok := h.filterFor(c)
	if !ok {
		return
	}

	format, ok := ParseExportFormat(c.DefaultQuery("format", "csv"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"code": apperrors.ErrCodeValidationError, "error": "format must be one of: csv, xlsx, pdf", "field": "format"})
		return
	}

	result, err := h.service.Export(c.Request.Context(), filter, format)
	if err != nil {
		h.logger.Error("Failed to export pipeline", zap.String("format", string(format)), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": apperrors.ErrCodeStoreUnavailable, "error": "export is temporarily unavailable", "retryable": true})
		return
	}

	c.Header("Content-Disposition", "attachment; filename="+result.FileName)
	c.Header("X-Row-Count", strconv.Itoa(result.RowCount))
	c.Data(http.StatusOK, result.ContentType, result.Data)
}
