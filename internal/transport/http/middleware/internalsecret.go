package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// InternalSecret rejects requests whose X-Internal-Secret header doesn't
// match secret. An empty secret disables the check entirely — local/dev
// environments that never set INTERNAL_API_SECRET run unauthenticated.
func InternalSecret(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}

		got := c.GetHeader("X-Internal-Secret")
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid internal secret"})
			return
		}
		c.Next()
	}
}
