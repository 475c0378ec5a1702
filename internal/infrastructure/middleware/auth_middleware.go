package middleware

import (
	"strings"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"
	"huddle/pkg/errors"

	"github.com/gin-gonic/gin"
)

const (
	ContextRoomID      = "room_id"
	ContextDisplayName = "display_name"
)

// bearerToken reads "Authorization: Bearer <token>", falling back to the
// token query parameter that browsers use for websocket upgrades.
func bearerToken(c *gin.Context) (string, bool) {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.Split(header, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return "", false
		}
		return parts[1], true
	}
	if token := c.Query("token"); token != "" {
		return token, true
	}
	return "", false
}

func abortWith(c *gin.Context, appErr *errors.AppError) {
	c.AbortWithStatusJSON(appErr.HTTPStatus, appErr.Body())
}

// AuthMiddleware requires a room token issued for room.
func AuthMiddleware(tokens ports.TokenService, room domain.RoomID) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			abortWith(c, errors.NewUnauthorizedError("bearer token required"))
			return
		}

		claims, err := tokens.ValidateToken(token)
		if err != nil {
			abortWith(c, errors.NewUnauthorizedError(err.Error()))
			return
		}
		if claims.RoomID != room {
			abortWith(c, errors.NewForbiddenError("token was issued for another room"))
			return
		}

		c.Set(ContextRoomID, claims.RoomID)
		c.Set(ContextDisplayName, claims.DisplayName)
		c.Next()
	}
}

// OptionalAuthMiddleware records token claims when a valid token is present
// and never rejects.
func OptionalAuthMiddleware(tokens ports.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token, ok := bearerToken(c); ok {
			if claims, err := tokens.ValidateToken(token); err == nil {
				c.Set(ContextRoomID, claims.RoomID)
				c.Set(ContextDisplayName, claims.DisplayName)
			}
		}
		c.Next()
	}
}
