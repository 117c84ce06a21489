package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/robotdesk/internal/handlers"
)

type authRouteDeps struct {
	AuthHandler         *handlers.AuthHandler
	VerificationHandler *handlers.VerificationHandler
	Limiter             gin.HandlerFunc
}

func registerAuthRoutes(engine *gin.Engine, api *gin.RouterGroup, deps authRouteDeps) {
	auth := engine.Group("/api/auth")
	{
		auth.POST("/register", deps.Limiter, deps.AuthHandler.Register)
		auth.POST("/login", deps.Limiter, deps.AuthHandler.Login)
		auth.GET("/verify-email", deps.Limiter, deps.VerificationHandler.Verify)
		auth.POST("/resend-verification", deps.Limiter, deps.VerificationHandler.Resend)
	}

	api.GET("/auth/me", deps.AuthHandler.Me)
	api.POST("/auth/profile/request-verification", deps.Limiter, deps.VerificationHandler.RequestForProfile)
}
