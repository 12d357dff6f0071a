package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"go-wiki-engine/internal/logger"
	"go-wiki-engine/internal/view"
	"go-wiki-engine/internal/wiki"
)

// AppError represents a custom error type for the application.
type AppError struct {
	Error   error
	Message string
	Code    int
}

// AppHandler is a custom handler function type that returns an AppError.
type AppHandler func(http.ResponseWriter, *http.Request) *AppError

// FromError maps the wiki error taxonomy onto HTTP status codes. Structural
// invariant violations are server errors; everything else is the caller's to
// fix.
func FromError(err error) *AppError {
	var validation *wiki.ValidationError
	var conflict *wiki.ConflictError
	switch {
	case errors.As(err, &validation):
		return &AppError{Error: err, Message: validation.Message, Code: http.StatusBadRequest}
	case errors.As(err, &conflict):
		return &AppError{Error: err, Message: conflict.Message, Code: http.StatusConflict}
	case errors.Is(err, wiki.ErrNotFound):
		return &AppError{Error: err, Message: "Article not found", Code: http.StatusNotFound}
	case errors.Is(err, wiki.ErrPermissionDenied):
		return &AppError{Error: err, Message: "Permission denied", Code: http.StatusForbidden}
	case wiki.IsFatal(err):
		return &AppError{Error: err, Message: "Wiki structure error", Code: http.StatusInternalServerError}
	default:
		return &AppError{Error: err, Message: "Internal server error", Code: http.StatusInternalServerError}
	}
}

// Error is a middleware that converts handler errors into user-friendly error pages.
func Error(log logger.Logger, view *view.View) func(AppHandler) http.Handler {
	return func(next AppHandler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					err, ok := rec.(error)
					if !ok {
						err = fmt.Errorf("%v", rec)
					}
					log.Error(err, "Panic recovered")
					data := map[string]interface{}{
						"StatusCode": http.StatusInternalServerError,
						"StatusText": "Internal Server Error",
					}
					w.WriteHeader(http.StatusInternalServerError)
					view.Render(w, r, "error.html", data)
				}
			}()

			err := next(w, r)
			if err != nil {
				log.Error(err.Error, err.Message)
				data := map[string]interface{}{
					"StatusCode": err.Code,
					"StatusText": err.Message,
				}
				w.WriteHeader(err.Code)
				view.Render(w, r, "error.html", data)
			}
		})
	}
}
