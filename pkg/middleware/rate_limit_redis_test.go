package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func redisLimitedRouter(t *testing.T, rps float64, burst int) (*gin.Engine, *miniredis.Miniredis) {
	t.Helper()
	m, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(m.Close)

	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	r := gin.New()
	r.Use(RedisRateLimitMiddleware(client, rps, burst, time.Second))
	r.GET("/r", func(c *gin.Context) { c.JSON(200, gin.H{"ok": true}) })
	return r, m
}

func get(r *gin.Engine) int {
	req := httptest.NewRequest("GET", "/r", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestRedisRateLimitBlocksOverWindow(t *testing.T) {
	r, m := redisLimitedRouter(t, 1, 0) // 1 request per 1s window

	require.Equal(t, http.StatusOK, get(r))
	require.Equal(t, http.StatusTooManyRequests, get(r))

	// expire the window bucket; counting starts over
	m.FastForward(2 * time.Second)
	require.Equal(t, http.StatusOK, get(r))
}

func TestRedisRateLimitBurstHeadroom(t *testing.T) {
	r, _ := redisLimitedRouter(t, 1, 2) // 1 rps + burst of 2 => 3 per window

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, get(r), "request %d should pass", i+1)
	}
	require.Equal(t, http.StatusTooManyRequests, get(r))
}

func TestRedisRateLimitNilClientFallsBack(t *testing.T) {
	r := gin.New()
	r.Use(RedisRateLimitMiddleware(nil, 100, 10, time.Second))
	r.GET("/r", func(c *gin.Context) { c.JSON(200, gin.H{"ok": true}) })

	require.Equal(t, http.StatusOK, get(r))
}
