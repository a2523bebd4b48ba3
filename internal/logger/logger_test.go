package logger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"storefront-checkout/internal/utils"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestInit(t *testing.T) {
	restore := Replace(nil)
	defer restore()

	t.Run("Production", func(t *testing.T) {
		Init("production")
		assert.NotNil(t, L())
	})

	t.Run("Development", func(t *testing.T) {
		Init("development")
		assert.NotNil(t, L())
	})
}

func TestL_LazyInit(t *testing.T) {
	restore := Replace(nil)
	defer restore()
	t.Setenv("APP_ENV", "test")

	assert.NotNil(t, L())
}

func TestRequestIDContext(t *testing.T) {
	ctx := context.Background()

	assert.Equal(t, "", RequestIDFrom(ctx))
	assert.Equal(t, "req-1", RequestIDFrom(WithRequestID(ctx, "req-1")))
}

func TestFromCtx(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)
	restore := Replace(zap.New(core))
	defer restore()

	t.Run("WithRequestAndUser", func(t *testing.T) {
		ctx := WithRequestID(context.Background(), "req-abc-123")
		ctx = utils.SetUserContext(ctx, 42, "buyer@example.com", "user")

		FromCtx(ctx).Info("checkout started")

		logs := observed.TakeAll()
		assert.Len(t, logs, 1)
		fields := logs[0].ContextMap()
		assert.Equal(t, "req-abc-123", fields["request_id"])
		assert.Equal(t, int64(42), fields["user_id"])
	})

	t.Run("Anonymous", func(t *testing.T) {
		FromCtx(context.Background()).Info("callback received")

		logs := observed.TakeAll()
		assert.Len(t, logs, 1)
		fields := logs[0].ContextMap()
		_, hasReq := fields["request_id"]
		_, hasUser := fields["user_id"]
		assert.False(t, hasReq)
		assert.False(t, hasUser)
	})
}

func TestSync(t *testing.T) {
	assert.NotPanics(t, Sync)
}

func TestRequestIDMiddleware(t *testing.T) {
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, RequestIDFrom(r.Context()))
	}))

	t.Run("Generates ID when missing", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/orders", nil))

		assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	})

	t.Run("Preserves existing ID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/orders", nil)
		req.Header.Set("X-Request-ID", "test-id-123")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, "test-id-123", w.Header().Get("X-Request-ID"))
	})
}

func TestLoggingMiddleware(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)
	restore := Replace(zap.New(core))
	defer restore()

	handler := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/orders", nil))

	logs := observed.TakeAll()
	assert.Len(t, logs, 1)
	assert.Equal(t, "incoming request", logs[0].Message)
	assert.Equal(t, "/orders", logs[0].ContextMap()["path"])
	assert.Equal(t, int64(http.StatusCreated), logs[0].ContextMap()["status"])
}
