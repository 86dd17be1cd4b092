package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/adscope/models"
)

// Auth gates the protected routes behind a static API key, read from the
// X-API-Key header or an Authorization bearer token. With no keys configured
// every request passes through.
func Auth(apiKeys []string) gin.HandlerFunc {
	keys := make([][]byte, 0, len(apiKeys))
	for _, k := range apiKeys {
		if k != "" {
			keys = append(keys, []byte(k))
		}
	}
	if len(keys) == 0 {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		key := requestAPIKey(c)
		if key == "" {
			abortUnauthorized(c, "API key required: send X-API-Key or Authorization: Bearer <key>")
			return
		}
		if !keyAllowed(keys, key) {
			abortUnauthorized(c, "API key not recognized")
			return
		}

		// Downstream middleware keys rate limits off this.
		c.Set("api_key", key)
		c.Next()
	}
}

// keyAllowed checks the candidate against every configured key in constant
// time per key.
func keyAllowed(keys [][]byte, candidate string) bool {
	cb := []byte(candidate)
	allowed := false
	for _, k := range keys {
		if subtle.ConstantTimeCompare(k, cb) == 1 {
			allowed = true
		}
	}
	return allowed
}

func requestAPIKey(c *gin.Context) string {
	if key := c.GetHeader("X-API-Key"); key != "" {
		return key
	}
	if bearer, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer "); ok {
		return bearer
	}
	return ""
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, models.ScrapeResponse{
		Success: false,
		Error: &models.ErrorDetail{
			Code:    models.ErrCodeUnauthorized,
			Message: msg,
		},
	})
}
