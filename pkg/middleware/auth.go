package middleware

import (
	"strings"

	"ai-companion-care/backend/pkg/errors"
	"ai-companion-care/backend/pkg/jwt"
	"ai-companion-care/backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

// JWTAuthMiddleware verifies the bearer token and stores the claims plus
// userId/role in the gin context. Token issuance lives outside this
// service; only verification happens here.
func JWTAuthMiddleware(jwtService *jwt.Service, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Error(errors.NewUnauthorizedError("AUTH_REQUIRED", "Authorization header is required"))
			c.Abort()
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.Error(errors.NewUnauthorizedError("AUTH_INVALID", "Authorization header must be a bearer token"))
			c.Abort()
			return
		}

		claims, err := jwtService.ValidateToken(parts[1])
		if err != nil {
			log.Warn("token validation failed", "error", err.Error(), "path", c.Request.URL.Path)
			c.Error(errors.NewUnauthorizedError("AUTH_INVALID", "Invalid or expired token"))
			c.Abort()
			return
		}

		c.Set("claims", claims)
		c.Set("userId", claims.UserID)
		c.Set("role", string(claims.Role))

		c.Next()
	}
}

// OptionalAuth parses a bearer token when present but lets anonymous
// requests through. Session starts allow anonymous callers; quota simply
// treats them as unlimited.
func OptionalAuth(jwtService *jwt.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			if claims, err := jwtService.ValidateToken(parts[1]); err == nil {
				c.Set("claims", claims)
				c.Set("userId", claims.UserID)
				c.Set("role", string(claims.Role))
			}
		}

		c.Next()
	}
}
