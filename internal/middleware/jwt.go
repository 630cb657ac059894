package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"BlockJack/internal/auth"
)

const (
	KeyUserID  = "userId"
	KeyName    = "name"
	KeyService = "service"
)

// Token 先取 Authorization: Bearer，再取 ?token=（浏览器 websocket 无法带 header）
func Token(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return c.Query("token")
}

// JwtAuthMiddleware 校验终端用户 token，通过后注入 userId / name
func JwtAuthMiddleware(v auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := Token(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		id, err := v.Verify(c.Request.Context(), token)
		if err != nil {
			status := http.StatusUnauthorized
			if errors.Is(err, auth.ErrCredentialService) {
				status = http.StatusServiceUnavailable
			}
			c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
			return
		}
		c.Set(KeyUserID, id.UserID)
		c.Set(KeyName, id.Name)
		c.Next()
	}
}

// ServiceTokenMiddleware 内部接口只接受 typ=service 的 token
func ServiceTokenMiddleware(v *auth.JWTVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := Token(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing service token"})
			return
		}
		svc, err := v.VerifyService(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set(KeyService, svc)
		c.Next()
	}
}
