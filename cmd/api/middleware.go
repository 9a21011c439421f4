package main

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/skillport/skillport/pkg/config"
	"github.com/skillport/skillport/pkg/types"
	"github.com/skillport/skillport/pkg/utils"
)

const contextUserID = "user_id"

// authMiddleware validates the bearer token and stores the caller's user ID
// in the request context.
func authMiddleware(cfg *config.AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, types.APIResponse{
				Success: false,
				Error:   "missing bearer token",
			})
			return
		}

		userID, err := utils.ValidateJWT(strings.TrimPrefix(header, "Bearer "), cfg.JWTSecret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, types.APIResponse{
				Success: false,
				Error:   "invalid token",
			})
			return
		}

		c.Set(contextUserID, userID)
		c.Next()
	}
}

// currentUserID returns the authenticated user's ID from the context.
func currentUserID(c *gin.Context) uuid.UUID {
	if value, exists := c.Get(contextUserID); exists {
		if id, ok := value.(uuid.UUID); ok {
			return id
		}
	}
	return uuid.Nil
}
