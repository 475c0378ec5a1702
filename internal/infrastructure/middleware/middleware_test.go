package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/services"
	"huddle/pkg/circuitbreaker"
	apperrors "huddle/pkg/errors"
	"huddle/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func TestErrorHandlerMiddleware_MapsDeviceErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		err    error
		status int
		code   string
	}{
		{domain.NewDeviceError(domain.PermissionDenied, "camera blocked", nil), http.StatusForbidden, "FORBIDDEN"},
		{domain.NewDeviceError(domain.DeviceNotFound, "no camera", nil), http.StatusNotFound, "NOT_FOUND"},
		{fmt.Errorf("toggle: %w", domain.ErrDeviceInUse), http.StatusConflict, "CONFLICT"},
		{domain.ErrFormatUnsupported, http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA"},
		{domain.NewUnknownError("no data recorded", nil), http.StatusInternalServerError, "INTERNAL_ERROR"},
		{domain.ErrNoSession, http.StatusConflict, "CONFLICT"},
		{fmt.Errorf("recording_catalog: %w", circuitbreaker.ErrOpen), http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"},
		{apperrors.NewInvalidInputError("bad kind"), http.StatusBadRequest, "INVALID_INPUT"},
		{fmt.Errorf("plain failure"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			router := gin.New()
			router.Use(ErrorHandlerMiddleware(zaptest.NewLogger(t).Sugar()))
			router.GET("/x", func(c *gin.Context) { _ = c.Error(tt.err) })

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

			assert.Equal(t, tt.status, w.Code)
			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body["error"])
		})
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RecoveryMiddleware(zaptest.NewLogger(t).Sugar()))
	router.GET("/panic", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tokens := services.NewTokenService("secret", time.Hour, "huddle")
	good, err := tokens.IssueToken("AB12CD", "Ada")
	require.NoError(t, err)
	foreign, err := tokens.IssueToken("ZZ99ZZ", "Bob")
	require.NoError(t, err)

	router := gin.New()
	router.Use(AuthMiddleware(tokens, "AB12CD"))
	router.GET("/me", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(ContextDisplayName))
	})

	do := func(setup func(r *http.Request)) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, "/me", nil)
		setup(r)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, r)
		return w
	}

	w := do(func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+good) })
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Ada", w.Body.String())

	w = do(func(r *http.Request) { r.URL.RawQuery = "token=" + good })
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(func(r *http.Request) {})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(func(r *http.Request) { r.Header.Set("Authorization", "Token "+good) })
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+foreign) })
	assert.Equal(t, http.StatusForbidden, w.Code)
}

type requestLog struct {
	routes []string
}

func (r *requestLog) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	r.routes = append(r.routes, fmt.Sprintf("%s %s %d", method, route, status))
}

func TestTracingMiddleware_ReportsRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)
	log := &requestLog{}
	router := gin.New()
	router.Use(TracingMiddleware(log))
	router.GET("/api/v1/session", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/session", nil))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))

	assert.Equal(t, []string{"GET /api/v1/session 204", "GET unmatched 404"}, log.routes)
}

func TestRequestLoggingMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.InfoLevel)

	router := gin.New()
	router.Use(RequestLoggingMiddleware(logger.NewContextLogger(zap.New(core)), "AB12CD"))
	router.GET("/x", func(c *gin.Context) { c.Status(http.StatusAccepted) })

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	r.Header.Set(RequestIDHeader, "abc-123\r\n")
	router.ServeHTTP(w, r)
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	entries := logs.FilterMessage("http_request").All()
	require.Len(t, entries, 2)
	fields := entries[0].ContextMap()
	assert.Equal(t, "abc-123", fields["request_id"])
	assert.Equal(t, "AB12CD", fields["room_id"])
	assert.Equal(t, int64(http.StatusAccepted), fields["status_code"])
}
