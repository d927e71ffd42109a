package middleware_test

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"credential-authorizer/internal/middleware"
	"credential-authorizer/internal/mocks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestLoggingMiddleware(t *testing.T) {
	// Create a buffer to capture logs
	var buf bytes.Buffer
	encoderConfig := zap.NewProductionEncoderConfig()
	encoder := zapcore.NewJSONEncoder(encoderConfig)
	core := zapcore.NewCore(encoder, zapcore.AddSync(&buf), zapcore.InfoLevel)
	logger := zap.New(core)

	testHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte("OK"))
	})

	handler := middleware.LoggingMiddleware(logger)(testHandler)

	req := httptest.NewRequest("GET", "/oauth/callback?code=secret-code&state=abc", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, "OK", rr.Body.String())

	logOutput := buf.String()
	for _, field := range []string{
		`"msg":"HTTP request"`,
		`"method":"GET"`,
		`"path":"/oauth/callback"`,
		`"status":202`,
	} {
		assert.True(t, strings.Contains(logOutput, field), "log output missing field: %s", field)
	}
	assert.NotContains(t, logOutput, "secret-code")
}

func TestRateLimitMiddleware(t *testing.T) {
	limiter := new(mocks.MockRateLimiter)
	logger := zap.NewNop()

	mw := middleware.RateLimitMiddleware(limiter, logger, 10, time.Minute)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("Allowed", func(t *testing.T) {
		limiter.On("CheckRateLimit", mock.Anything, "/oauth/callback:10.0.0.1", 10, time.Minute).Return(false, nil).Once()

		req := httptest.NewRequest("GET", "/oauth/callback", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("Exceeded", func(t *testing.T) {
		limiter.On("CheckRateLimit", mock.Anything, "/oauth/callback:203.0.113.9", 10, time.Minute).Return(true, nil).Once()

		req := httptest.NewRequest("GET", "/oauth/callback", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusTooManyRequests, rr.Code)
		assert.Equal(t, "60", rr.Header().Get("Retry-After"))
		assert.Contains(t, rr.Body.String(), "RATE_LIMIT_EXCEEDED")
	})

	t.Run("LimiterDown", func(t *testing.T) {
		limiter.On("CheckRateLimit", mock.Anything, "/oauth/callback:10.0.0.2", 10, time.Minute).Return(false, errors.New("redis down")).Once()

		req := httptest.NewRequest("GET", "/oauth/callback", nil)
		req.RemoteAddr = "10.0.0.2:1234"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
	})

	limiter.AssertExpectations(t)
}

func TestRateLimitMiddlewareDisabled(t *testing.T) {
	handler := middleware.RateLimitMiddleware(nil, zap.NewNop(), 10, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)
}
