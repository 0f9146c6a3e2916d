package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/a11yscan/config"
	"github.com/use-agent/a11yscan/models"
)

// Context keys set by Auth and read by the handlers.
const (
	// CtxRequester is the stable identity a job is billed to: a key digest
	// for authenticated callers, "public:<ip>" for the public tier.
	CtxRequester = "requester"

	// CtxPublic marks requests admitted without an API key. Public-tier
	// requests get the 24h scan window and cannot use batch endpoints.
	CtxPublic = "public_tier"
)

// Auth returns API-key authentication middleware.
//
// Supports two header styles:
//
//	X-API-Key: <key>
//	Authorization: Bearer <key>
//
// A valid key authenticates the request. Without a key the request is
// either admitted as the public tier (cfg.PublicTier) or rejected. An
// invalid key is always rejected: a typo'd key must fail loudly, not
// silently fall into the rationed public tier.
func Auth(cfg config.AuthConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return func(c *gin.Context) {
			c.Set(CtxRequester, "local:"+c.ClientIP())
			c.Set(CtxPublic, false)
			c.Next()
		}
	}

	keySet := make(map[string]struct{}, len(cfg.APIKeys))
	for _, k := range cfg.APIKeys {
		if k != "" {
			keySet[k] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		key := extractAPIKey(c)
		if key == "" {
			if cfg.PublicTier {
				c.Set(CtxRequester, "public:"+c.ClientIP())
				c.Set(CtxPublic, true)
				c.Next()
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{
				Error: &models.ErrorDetail{
					Code:    models.ErrCodeUnauthorized,
					Message: "missing API key: provide X-API-Key header or Authorization: Bearer <key>",
				},
			})
			return
		}

		if _, valid := keySet[key]; !valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{
				Error: &models.ErrorDetail{
					Code:    models.ErrCodeUnauthorized,
					Message: "invalid API key",
				},
			})
			return
		}

		c.Set(CtxRequester, keyIdentity(key))
		c.Set(CtxPublic, false)
		c.Next()
	}
}

// extractAPIKey tries X-API-Key first, then Authorization: Bearer.
func extractAPIKey(c *gin.Context) string {
	if key := c.GetHeader("X-API-Key"); key != "" {
		return key
	}
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// keyIdentity derives the persisted requester identity from an API key.
// Job rows outlive key rotations; storing a digest keeps raw keys out of
// the database and its logs.
func keyIdentity(key string) string {
	sum := sha256.Sum256([]byte(key))
	return "key:" + hex.EncodeToString(sum[:6])
}
