package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"hostelgate/internal/observability"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestTracingMiddleware_RecordsRequestAttributes(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	prev := observability.Tracer
	observability.Tracer = provider.Tracer("test")
	t.Cleanup(func() { observability.Tracer = prev })

	app := fiber.New()
	app.Use(TracingMiddleware())
	app.Get("/api/requests/:id", func(c *fiber.Ctx) error {
		c.Locals("userID", uint(7))
		c.Locals("role", "student")
		return c.SendStatus(fiber.StatusOK)
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/requests/42", nil))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get("X-Trace-ID"))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range spans[0].Attributes() {
		attrs[kv.Key] = kv.Value
	}
	assert.Equal(t, "42", attrs["gate_request.id"].AsString())
	assert.Equal(t, "7", attrs["user.id"].AsString())
	assert.Equal(t, "student", attrs["user.role"].AsString())
	assert.Equal(t, int64(http.StatusOK), attrs["http.status_code"].AsInt64())
}
