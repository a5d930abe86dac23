package v1

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"pyrus-portal/portal-backend/internal/activity"
	"pyrus-portal/portal-backend/internal/auth"
	"pyrus-portal/portal-backend/internal/content"
	"pyrus-portal/portal-backend/internal/reports"
	"pyrus-portal/portal-backend/pkg/logger"
)

// NewRouter builds the HTTP surface: /health, public routes and the
// authenticated /api/v1 group.
func NewRouter(api *PortalAPI) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logger.GinMiddleware(api.Logger))
	router.Use(CORSMiddleware(api.Config.Server.AllowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().UTC(),
		})
	})

	public := router.Group("/api/v1")
	protected := router.Group("/api/v1", auth.RequireActor(api.Tokens, api.Logger))
	{
		auth.RegisterRoutes(public, protected, auth.NewHandler())
		content.NewHandler(api.Content, api.Logger).RegisterRoutes(protected)
		activity.NewHandler(api.Activity, api.Feed, api.Logger).RegisterRoutes(protected)
		if api.Reports != nil {
			reports.NewHandler(api.Reports, api.Logger).RegisterRoutes(protected)
		}
	}

	return router
}

// CORSMiddleware allows the configured origins; "*" allows any.
func CORSMiddleware(allowedOrigins []string) gin.HandlerFunc {
	allowAll := false
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[strings.TrimSuffix(o, "/")] = true
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" && (allowAll || allowed[origin]) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Vary", "Origin")
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
			c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
			c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
