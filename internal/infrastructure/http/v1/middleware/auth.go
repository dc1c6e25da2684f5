package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"ebbridge/internal/core/apperror"
	"ebbridge/internal/domain/auth"
)

// JWTValidator validates bearer tokens.
type JWTValidator interface {
	ValidateToken(tokenString string) (*auth.Claims, error)
}

const claimsKey = "operator_claims"

// Auth validates the bearer token and stores the claims in the gin context.
func Auth(validator JWTValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortUnauthorized(c, "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			abortUnauthorized(c, "invalid authorization header format")
			return
		}

		claims, err := validator.ValidateToken(parts[1])
		if err != nil {
			abortUnauthorized(c, "invalid token")
			return
		}

		c.Set(claimsKey, claims)
		c.Next()
	}
}

// RequireWriter rejects viewers on mutating endpoints.
func RequireWriter() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := Claims(c)
		if claims == nil {
			abortUnauthorized(c, "authentication required")
			return
		}
		if !claims.Role.CanWrite() {
			_ = c.Error(apperror.NewForbidden("read-only role").
				WithDetail("role", string(claims.Role)))
			c.Abort()
			return
		}
		c.Next()
	}
}

// Claims returns the validated claims, or nil before Auth ran.
func Claims(c *gin.Context) *auth.Claims {
	if v, ok := c.Get(claimsKey); ok {
		if claims, ok := v.(*auth.Claims); ok {
			return claims
		}
	}
	return nil
}

func abortUnauthorized(c *gin.Context, message string) {
	_ = c.Error(apperror.NewUnauthorized(message))
	c.Abort()
}
