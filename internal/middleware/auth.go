package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/inkwell-cms/inkwell-backend/internal/common"
	"github.com/inkwell-cms/inkwell-backend/pkg/jwt"
)

// JWTAuth JWT authentication middleware. The token may arrive as a
// Bearer header or, for WebSocket upgrades, a "token" query parameter.
func JWTAuth(jwtManager *jwt.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := bearerToken(c)
		if tokenString == "" {
			tokenString = c.Query("token")
		}
		if tokenString == "" {
			common.ErrorResponse(c, 401, "Missing authorization token", nil)
			c.Abort()
			return
		}

		claims, err := jwtManager.VerifyToken(tokenString)
		if err != nil {
			if errors.Is(err, jwt.ErrExpiredToken) {
				common.ErrorResponse(c, 401, "Token expired", err)
			} else {
				common.ErrorResponse(c, 401, "Invalid token", err)
			}
			c.Abort()
			return
		}

		c.Set("userID", claims.UserID)
		c.Set("nickname", claims.Nickname)

		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}

// GetUserID extracts user ID from context
func GetUserID(c *gin.Context) string {
	userID, exists := c.Get("userID")
	if !exists {
		return ""
	}
	if str, ok := userID.(string); ok {
		return str
	}
	return ""
}
