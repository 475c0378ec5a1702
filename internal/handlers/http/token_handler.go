package http

import (
	"net/http"
	"strings"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"
	"huddle/pkg/errors"
	"huddle/pkg/validation"

	"github.com/gin-gonic/gin"
)

type TokenHandler struct {
	tokens ports.TokenService
}

func NewTokenHandler(tokens ports.TokenService) *TokenHandler {
	return &TokenHandler{tokens: tokens}
}

func (h *TokenHandler) SetupRoutes(router gin.IRouter) {
	router.GET("/api/tokens", h.IssueToken)
}

// IssueToken answers GET /api/tokens?roomName=&userName=.
func (h *TokenHandler) IssueToken(c *gin.Context) {
	roomName := strings.TrimSpace(c.Query("roomName"))
	userName := strings.TrimSpace(c.Query("userName"))
	if roomName == "" || userName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing roomName or userName"})
		return
	}

	if err := validation.ValidateRoomID(roomName); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	if err := validation.ValidateDisplayName(userName); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	token, err := h.tokens.IssueToken(domain.RoomID(roomName), userName)
	if err != nil {
		c.Error(errors.WrapError(err, errors.ErrCodeInternal, "failed to issue token", http.StatusInternalServerError))
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token})
}
