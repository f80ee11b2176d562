// Package middleware holds the gin middleware chain of the v1 API.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"pharmaledger/internal/core/apperror"
	"pharmaledger/pkg/logger"
)

// ErrorHandler renders the last handler error as JSON.
// AppErrors keep their code, message and details; anything else becomes a 500 carrying only
// the request ID.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err

		if appErr, ok := apperror.AsAppError(err); ok {
			if appErr.Err != nil || appErr.HTTPStatus >= http.StatusInternalServerError {
				logger.Error(c.Request.Context(), "request error",
					"code", appErr.Code,
					"message", appErr.Message,
					"cause", appErr.Err,
				)
			}
			renderError(c, appErr)
			return
		}

		logger.Error(c.Request.Context(), "unhandled error", "error", err)
		renderError(c, apperror.NewInternal(err))
	}
}

// renderError writes appErr in the API error shape. INTERNAL_ERROR exposes only the request ID.
func renderError(c *gin.Context, appErr *apperror.AppError) {
	body := gin.H{
		"code":    appErr.Code,
		"message": appErr.Message,
		"details": appErr.Details,
	}
	if appErr.Code == apperror.CodeInternal {
		body["details"] = map[string]any{"request_id": c.GetString("request_id")}
	}
	c.JSON(appErr.HTTPStatus, body)
}
