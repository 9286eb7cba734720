package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/upnorthmedia/content-pipeline/internal/pkg/logger"
)

// sessionClaims is the JWT payload a browser session bearer token carries.
type sessionClaims struct {
	jwt.RegisteredClaims
}

// AdminAuth guards the Approval API behind an optional bearer token:
// either a short-lived session JWT signed with jwtSecret, or a long-lived
// admin token whose bcrypt hash is adminTokenHash. Auth is opt-in —
// disabled entirely (every request passes) when adminTokenHash is empty.
func AdminAuth(jwtSecret, adminTokenHash string, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminTokenHash == "" {
			c.Next()
			return
		}

		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		if verifySessionToken(token, jwtSecret) {
			c.Next()
			return
		}
		if bcrypt.CompareHashAndPassword([]byte(adminTokenHash), []byte(token)) == nil {
			c.Next()
			return
		}

		if log != nil {
			log.Warn("admin auth rejected", "path", c.FullPath())
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid bearer token"})
	}
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, prefix))
}

func verifySessionToken(token, secret string) bool {
	parsed, err := jwt.ParseWithClaims(token, &sessionClaims{}, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	return err == nil && parsed.Valid
}
