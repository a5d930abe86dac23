package auth

import "github.com/gin-gonic/gin"

// RegisterRoutes registers Auth routes. protected must already run RequireActor.
func RegisterRoutes(public, protected *gin.RouterGroup, handler *Handler) {
	public.GET("/auth/ping", handler.Ping)
	protected.GET("/auth/me", handler.Me)
}
