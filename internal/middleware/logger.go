package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// RequestLogger writes one structured line per request.
func RequestLogger(log zerolog.Logger) echo.MiddlewareFunc {
	log = log.With().Str("component", "http").Logger()
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				// Let the error handler write the response so the status is final.
				c.Error(err)
			}
			res := c.Response()
			ev := log.Info()
			if res.Status >= 500 {
				ev = log.Error().Err(err)
			}
			ev.Str("method", c.Request().Method).
				Str("route", c.Path()).
				Int("status", res.Status).
				Int64("bytes", res.Size).
				Str("ip", c.RealIP()).
				Str("user", UserID(c)).
				Dur("took", time.Since(start)).
				Msg("request")
			return nil
		}
	}
}
