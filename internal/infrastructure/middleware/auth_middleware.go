package middleware

import (
	"fmt"
	"strings"

	"livesignal/internal/core/domain"
	"livesignal/internal/core/ports"
	"livesignal/pkg/logger"

	"github.com/gin-gonic/gin"
)

// IdentityKey is the gin context key holding the caller's domain.Identity.
const IdentityKey = "identity"

// AuthMiddleware requires a valid bearer token and stores the resolved
// identity under IdentityKey.
func AuthMiddleware(verifier ports.IdentityVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := bearerToken(c)
		if err != nil {
			abortWithError(c, err)
			return
		}

		identity, err := verifier.Verify(token)
		if err != nil {
			abortWithError(c, err)
			return
		}

		setIdentity(c, identity)
		c.Next()
	}
}

// OptionalAuthMiddleware resolves a bearer token when one is present and
// lets the request through either way.
func OptionalAuthMiddleware(verifier ports.IdentityVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") == "" {
			c.Next()
			return
		}

		if token, err := bearerToken(c); err == nil {
			if identity, err := verifier.Verify(token); err == nil {
				setIdentity(c, identity)
			}
		}

		c.Next()
	}
}

// GetIdentity returns the identity stored by the auth middleware.
func GetIdentity(c *gin.Context) (domain.Identity, bool) {
	v, ok := c.Get(IdentityKey)
	if !ok {
		return "", false
	}
	identity, ok := v.(domain.Identity)
	return identity, ok && identity != ""
}

func setIdentity(c *gin.Context, identity domain.Identity) {
	c.Set(IdentityKey, identity)
	c.Request = c.Request.WithContext(logger.WithIdentity(c.Request.Context(), string(identity)))
}

func bearerToken(c *gin.Context) (string, error) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", fmt.Errorf("%w: authorization header required", domain.ErrUnauthenticated)
	}

	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", fmt.Errorf("%w: invalid authorization header format", domain.ErrUnauthenticated)
	}
	return parts[1], nil
}
