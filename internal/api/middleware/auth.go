package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printdispatch/internal/servicetoken"
)

const claimsKey = "service_claims"

// ServiceAuth requires a bearer service token signed with secret. An empty
// secret disables the check.
func ServiceAuth(secret string) gin.HandlerFunc {
	return serviceAuth([]byte(secret), time.Now)
}

func serviceAuth(secret []byte, now func() time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(secret) == 0 {
			c.Next()
			return
		}

		token := tokenFromRequest(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "unauthorized", "message": "Service token required"})
			return
		}

		claims, err := servicetoken.Verify(secret, token, now())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "unauthorized", "message": "Invalid or expired service token"})
			return
		}

		c.Set(claimsKey, claims)
		c.Next()
	}
}

// ServiceClaims returns the verified token claims, if any.
func ServiceClaims(c *gin.Context) (*servicetoken.Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*servicetoken.Claims)
	return claims, ok
}

func tokenFromRequest(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}
	return ""
}
