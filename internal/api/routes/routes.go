package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/dostum-ai/dostum-backend/internal/api/handlers"
	"github.com/dostum-ai/dostum-backend/internal/api/middleware"
)

type Deps struct {
	User         *handlers.UserHandler
	Conversation *handlers.ConversationHandler
	Voice        *handlers.VoiceHandler
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	// Health-ish
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "pong"})
	})

	// Voice websocket: token rides as a query parameter, the gateway
	// resolves it, so no JWT middleware here.
	r.GET("/ws/voice", d.Voice.Connect)

	// Protected routes (JWT)
	auth := r.Group("/v1")
	auth.Use(middleware.JWTAuth())

	auth.GET("/users/me", d.User.Me)
	auth.GET("/users/me/conversations", d.Conversation.Recent)

	auth.GET("/conversations/:session_id", d.Conversation.ListBySession)
	auth.GET("/conversations/:session_id/buffer", d.Conversation.Buffer)

	auth.GET("/sessions/:session_id", d.Voice.GetSession)
	auth.GET("/sessions/stats/active", d.Voice.Stats)
}
