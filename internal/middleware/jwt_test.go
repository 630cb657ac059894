package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BlockJack/internal/auth"
)

const secret = "mw-secret"

func router() *gin.Engine {
	gin.SetMode(gin.TestMode)
	v := auth.NewJWTVerifier(secret)
	r := gin.New()
	r.GET("/me", JwtAuthMiddleware(v), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"userId": c.GetString(KeyUserID), "name": c.GetString(KeyName)})
	})
	r.GET("/internal/ping", ServiceTokenMiddleware(v), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"service": c.GetString(KeyService)})
	})
	return r
}

func get(r http.Handler, path, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJwtAuthMiddleware(t *testing.T) {
	r := router()
	user, err := auth.Issue(secret, "u1", "Alice", "", time.Hour)
	require.NoError(t, err)

	w := get(r, "/me", user)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"userId":"u1","name":"Alice"}`, w.Body.String())

	w = get(r, "/me?token="+user, "")
	assert.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, http.StatusUnauthorized, get(r, "/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "/me", "garbage").Code)
}

func TestServiceTokenMiddleware(t *testing.T) {
	r := router()
	svc, err := auth.Issue(secret, "lobby-api", "", auth.TypeService, time.Hour)
	require.NoError(t, err)
	user, err := auth.Issue(secret, "u1", "Alice", "", time.Hour)
	require.NoError(t, err)

	w := get(r, "/internal/ping", svc)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"service":"lobby-api"}`, w.Body.String())

	assert.Equal(t, http.StatusUnauthorized, get(r, "/internal/ping", user).Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "/internal/ping", "").Code)
}
