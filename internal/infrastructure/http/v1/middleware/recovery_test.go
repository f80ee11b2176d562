package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmaledger/internal/core/apperror"
	"pharmaledger/pkg/logger"
)

func newTestEngine(routes func(r *gin.Engine)) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Recovery(), Trace(), Logger(logger.NewNop()), ErrorHandler())
	routes(r)
	return r
}

func serve(r *gin.Engine, path string) (*httptest.ResponseRecorder, map[string]any) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set(HeaderRequestID, "req-42")
	r.ServeHTTP(w, req)

	var body map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w, body
}

func TestRecovery_PanicBecomesInternalError(t *testing.T) {
	r := newTestEngine(func(r *gin.Engine) {
		r.GET("/boom", func(c *gin.Context) { panic("snapshot map corrupted") })
	})

	w, body := serve(r, "/boom")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, apperror.CodeInternal, body["code"])
	assert.Equal(t, "Internal server error", body["message"])
	assert.Equal(t, map[string]any{"request_id": "req-42"}, body["details"])
	assert.NotContains(t, w.Body.String(), "snapshot map corrupted")
}

func TestRecovery_AbortHandlerIsReraised(t *testing.T) {
	r := newTestEngine(func(r *gin.Engine) {
		r.GET("/abort", func(c *gin.Context) { panic(http.ErrAbortHandler) })
	})

	assert.PanicsWithError(t, http.ErrAbortHandler.Error(), func() { serve(r, "/abort") })
}

func TestErrorHandler_KeepsIntegrityDetails(t *testing.T) {
	r := newTestEngine(func(r *gin.Engine) {
		r.GET("/integrity", func(c *gin.Context) {
			_ = c.Error(apperror.NewIntegrityViolation("allocated more than the batch holds").
				WithDetail("batchId", "b-1"))
		})
		r.GET("/plain", func(c *gin.Context) { _ = c.Error(errors.New("pool closed")) })
	})

	w, body := serve(r, "/integrity")
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, apperror.CodeIntegrityViolation, body["code"])
	assert.Equal(t, map[string]any{"batchId": "b-1"}, body["details"])

	w, body = serve(r, "/plain")
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, apperror.CodeInternal, body["code"])
	assert.Equal(t, map[string]any{"request_id": "req-42"}, body["details"])
}
