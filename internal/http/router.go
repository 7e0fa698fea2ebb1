package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"convo-llm/internal/service"
)

// NewRouter configura el router de Gin con middlewares y rutas.
func NewRouter(
	logger *zap.Logger,
	jwtSvc *service.JWTService,
	authH *AuthHandler,
	chatH *ChatHandler,
) *gin.Engine {
	r := gin.New()

	r.Use(zapLoggerMiddleware(logger), gin.Recovery(), jsonContentTypeMiddleware())

	auth := r.Group("/auth")
	auth.POST("/token", authH.IssueToken)
	auth.POST("/refresh", authH.RefreshToken)
	auth.POST("/logout", authH.Logout)

	api := r.Group("/")
	api.Use(JWTAuthMiddleware(jwtSvc))

	api.POST("/sessions", chatH.CreateSession)
	api.GET("/sessions", chatH.ListSessions)
	api.GET("/sessions/:id/messages", chatH.ListMessages)
	api.POST("/sessions/:id/messages", chatH.PostMessage)
	api.GET("/sessions/:id/search", chatH.SearchMessages)
	api.GET("/sessions/:id/suggestions", chatH.GetSuggestions)
	api.POST("/sessions/:id/export", chatH.ExportSession)
	api.POST("/sessions/:id/clear", chatH.ClearSession)
	api.POST("/messages/:id/favorite", chatH.SetFavorite)
	api.POST("/messages/:id/faq", chatH.SaveAsFaq)

	return r
}

// zapLoggerMiddleware crea un middleware simple de logging con zap.
func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// jsonContentTypeMiddleware fuerza Content-Type: application/json en responses.
func jsonContentTypeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Content-Type", "application/json")
		c.Next()
	}
}
