package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/dostum-ai/dostum-backend/internal/services"
	"github.com/dostum-ai/dostum-backend/internal/utils"
)

type ConversationHandler struct {
	convos  services.ConversationService
	buffers services.BufferService
}

func NewConversationHandler(convos services.ConversationService, buffers services.BufferService) *ConversationHandler {
	return &ConversationHandler{convos: convos, buffers: buffers}
}

// ListBySession returns the archived turns of one voice session, newest
// first.
func (h *ConversationHandler) ListBySession(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	sessionID := c.Param("session_id")
	if sessionID == "" {
		writeError(c, utils.E(utils.CodeInvalidArgument, "ConversationHandler.ListBySession", "session_id is required", nil))
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	rows, err := h.convos.ListBySession(c.Request.Context(), userID, sessionID, limit)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"turns": rows})
}

// Recent returns the caller's latest turns across all of their sessions,
// newest first. Backs the app's history screen.
func (h *ConversationHandler) Recent(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	limit := 20
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	rows, err := h.convos.Recent(c.Request.Context(), userID, limit)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"turns": rows})
}

// Buffer exposes the short-lived per-utterance pipeline records, mostly
// for debugging a live or just-finished session.
func (h *ConversationHandler) Buffer(c *gin.Context) {
	if _, ok := requireUserID(c); !ok {
		return
	}

	sessionID := c.Param("session_id")
	if sessionID == "" {
		writeError(c, utils.E(utils.CodeInvalidArgument, "ConversationHandler.Buffer", "session_id is required", nil))
		return
	}

	rows, err := h.buffers.ListBySession(c.Request.Context(), sessionID, 100)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"utterances": rows})
}
