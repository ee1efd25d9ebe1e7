package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dostum-ai/dostum-backend/internal/realtime"
	"github.com/dostum-ai/dostum-backend/internal/services"
	"github.com/dostum-ai/dostum-backend/internal/utils"
)

// VoiceHandler fronts the realtime gateway plus the read-only session
// record endpoints.
type VoiceHandler struct {
	gateway  *realtime.Gateway
	registry *realtime.Registry
	sessions services.SessionService
}

func NewVoiceHandler(gateway *realtime.Gateway, registry *realtime.Registry, sessions services.SessionService) *VoiceHandler {
	return &VoiceHandler{gateway: gateway, registry: registry, sessions: sessions}
}

// Connect upgrades to the voice websocket. Auth travels as a `token`
// query parameter, resolved inside the gateway.
func (h *VoiceHandler) Connect(c *gin.Context) {
	h.gateway.Handle(c)
}

func (h *VoiceHandler) GetSession(c *gin.Context) {
	if _, ok := requireUserID(c); !ok {
		return
	}

	sessionID := c.Param("session_id")
	if sessionID == "" {
		writeError(c, utils.E(utils.CodeInvalidArgument, "VoiceHandler.GetSession", "session_id is required", nil))
		return
	}

	ss, err := h.sessions.Get(c.Request.Context(), sessionID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, ss)
}

// Stats reports how many sessions are live on this instance.
func (h *VoiceHandler) Stats(c *gin.Context) {
	if _, ok := requireUserID(c); !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{"active_sessions": h.registry.ActiveCount()})
}
