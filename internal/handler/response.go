// Package handler holds the Echo handlers of the admin API.  Every response
// is the envelope {success, message, data}; handlers return errors and
// ErrorHandler maps them to a status code.
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/camp-registration/internal/middleware"
	"github.com/iliyamo/camp-registration/internal/queue"
	"github.com/iliyamo/camp-registration/internal/service"
)

// Envelope is the body of every API response.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func respond(c echo.Context, status int, message string, data any) error {
	return c.JSON(status, Envelope{Success: true, Message: message, Data: data})
}

// StatusOf maps an error to its HTTP status and client-facing message.
// Unknown errors become 500 with a generic message.
func StatusOf(err error) (int, string) {
	var ve *service.ValidationError
	var he *echo.HTTPError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, ve.Message
	case errors.Is(err, service.ErrInsufficientStock):
		return http.StatusConflict, "insufficient tent stock"
	case errors.Is(err, service.ErrInvalidState):
		return http.StatusConflict, "registration is not in a valid state for this operation"
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, "registration not found"
	case errors.Is(err, queue.ErrJobNotFound):
		return http.StatusNotFound, "job not found"
	case errors.As(err, &he):
		msg := http.StatusText(he.Code)
		if s, ok := he.Message.(string); ok {
			msg = s
		}
		return he.Code, msg
	}
	return http.StatusInternalServerError, "internal server error"
}

// ErrorHandler renders errors as envelopes.  5xx causes are logged, never
// sent to the client.
func ErrorHandler(log zerolog.Logger) echo.HTTPErrorHandler {
	log = log.With().Str("component", "http").Logger()
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		status, msg := StatusOf(err)
		if status >= http.StatusInternalServerError {
			log.Error().Err(err).Str("route", c.Path()).Str("user", middleware.UserID(c)).Msg("request failed")
		}
		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(status)
			return
		}
		_ = c.JSON(status, Envelope{Success: false, Message: msg})
	}
}

// actorOf builds the audited actor from the token subject and client IP.
func actorOf(c echo.Context) service.Actor {
	return service.Actor{ID: middleware.UserID(c), IP: c.RealIP()}
}

func idParam(c echo.Context) (uint64, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, service.Validation("invalid registration id")
	}
	return id, nil
}

// bind decodes the JSON body into v, reporting bad JSON as a validation error.
func bind(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		return service.Validation("invalid request body")
	}
	return nil
}
