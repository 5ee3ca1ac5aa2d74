package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HTTPError is a request-level failure with an explicit status.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string { return e.Message }

// StatusCode reports the HTTP status for the error.
func (e *HTTPError) StatusCode() int { return e.Status }

type statusCoder interface {
	StatusCode() int
}

// ErrorResponder renders the last error a handler attached with c.Error.
// An error with a StatusCode anywhere in its chain keeps that status and
// anything else becomes a 500. Only the error message reaches the client; the
// full chain is logged.
func ErrorResponder(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err

		status := http.StatusInternalServerError
		var sc statusCoder
		if errors.As(err, &sc) {
			status = sc.StatusCode()
		}

		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"error", err,
		}
		if cause := unwrapAll(err); cause != err {
			attrs = append(attrs, "cause", cause)
		}
		if status >= http.StatusInternalServerError {
			log.Error("Request failed", attrs...)
		} else {
			log.Warn("Request rejected", attrs...)
		}

		c.JSON(status, ErrorResponse{Error: err.Error()})
	}
}

// Recovery turns panics into a generic 500.
func Recovery(log *slog.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		log.Error("Panic recovered", "path", c.Request.URL.Path, "panic", recovered)
		c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{Error: "Internal Server Error"})
	})
}

// NotFound handles unmatched routes.
func NotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, ErrorResponse{Error: "Not Found"})
}

func unwrapAll(err error) error {
	for {
		u, ok := err.(interface{ Unwrap() error })
		if !ok || u.Unwrap() == nil {
			return err
		}
		err = u.Unwrap()
	}
}
