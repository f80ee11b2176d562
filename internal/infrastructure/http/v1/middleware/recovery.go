package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"pharmaledger/internal/core/apperror"
	"pharmaledger/pkg/logger"
)

// Recovery answers a panicking handler with INTERNAL_ERROR. It sits outside ErrorHandler,
// which a panic unwinds past, so it renders the response itself.
// http.ErrAbortHandler is re-raised for net/http to drop the connection.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rec)
			}

			logger.Error(c.Request.Context(), "handler panicked",
				"panic", rec,
				"method", c.Request.Method,
				"route", c.FullPath(),
				"stack", string(debug.Stack()),
			)
			c.Abort()
			if c.Writer.Written() {
				return
			}
			renderError(c, apperror.NewInternal(fmt.Errorf("panic: %v", rec)))
		}()
		c.Next()
	}
}
