package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestCheckRateLimit_Bypass(t *testing.T) {
	for _, env := range []string{"test", "development"} {
		t.Run(env, func(t *testing.T) {
			t.Setenv("APP_ENV", env)
			allowed, err := CheckRateLimit(context.Background(), nil, "verify", "1", 1, time.Minute)
			assert.NoError(t, err)
			assert.True(t, allowed)
		})
	}
}

func TestCheckRateLimit_NilRedis(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	allowed, err := CheckRateLimit(context.Background(), nil, "verify", "1", 1, time.Minute)
	assert.Error(t, err)
	assert.False(t, allowed)
}

func TestCheckRateLimit_WindowWithMiniredis(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	mr, rdb := newTestRedis(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		allowed, err := CheckRateLimit(ctx, rdb, "verify-otp", "user:1", 5, 10*time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed, "attempt %d", i+1)
	}

	allowed, err := CheckRateLimit(ctx, rdb, "verify-otp", "user:1", 5, 10*time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)

	// Other actors have their own bucket.
	allowed, err = CheckRateLimit(ctx, rdb, "verify-otp", "user:2", 5, 10*time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)

	mr.FastForward(10*time.Minute + time.Second)
	allowed, err = CheckRateLimit(ctx, rdb, "verify-otp", "user:1", 5, 10*time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRateLimitMiddleware(t *testing.T) {
	t.Run("FailOpen with nil redis in production", func(t *testing.T) {
		t.Setenv("APP_ENV", "production")
		app := fiber.New()
		app.Get("/test", RateLimit(nil, 1, time.Minute), func(c *fiber.Ctx) error {
			return c.SendStatus(fiber.StatusOK)
		})

		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/test", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		_ = resp.Body.Close()
	})

	t.Run("FailClosed with nil redis in production", func(t *testing.T) {
		t.Setenv("APP_ENV", "production")
		app := fiber.New()
		app.Get("/sensitive", RateLimitWithPolicy(nil, 1, time.Minute, FailClosed), func(c *fiber.Ctx) error {
			return c.SendStatus(fiber.StatusOK)
		})

		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/sensitive", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		_ = resp.Body.Close()
	})

	t.Run("Limit enforced with redis", func(t *testing.T) {
		t.Setenv("APP_ENV", "production")
		_, rdb := newTestRedis(t)
		app := fiber.New()
		app.Post("/verify", RateLimit(rdb, 2, time.Minute, "verify"), func(c *fiber.Ctx) error {
			return c.SendStatus(fiber.StatusOK)
		})

		codes := make([]int, 0, 3)
		for i := 0; i < 3; i++ {
			resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/verify", nil))
			require.NoError(t, err)
			codes = append(codes, resp.StatusCode)
			_ = resp.Body.Close()
		}
		assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
	})
}

func TestRateLimitByParam(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	_, rdb := newTestRedis(t)
	app := fiber.New()
	app.Post("/requests/:id/verify", func(c *fiber.Ctx) error {
		c.Locals("userID", uint(5))
		return c.Next()
	}, RateLimitByParam(rdb, 2, time.Minute, "verify_otp", "id"), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	post := func(path string) int {
		resp, err := app.Test(httptest.NewRequest(http.MethodPost, path, nil))
		require.NoError(t, err)
		_ = resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusOK, post("/requests/1/verify"))
	assert.Equal(t, http.StatusOK, post("/requests/1/verify"))
	assert.Equal(t, http.StatusTooManyRequests, post("/requests/1/verify"))

	// Same caller, different request: separate budget.
	assert.Equal(t, http.StatusOK, post("/requests/2/verify"))
	assert.Equal(t, http.StatusOK, post("/requests/2/verify"))
	assert.Equal(t, http.StatusTooManyRequests, post("/requests/2/verify"))
}
