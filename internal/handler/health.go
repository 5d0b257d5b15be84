package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Pinger is a dependency the health check probes.
type Pinger func(ctx context.Context) error

// Health returns the /healthz handler.  The database is required; the
// other checks are reported but do not fail the probe.
func Health(db Pinger, optional map[string]Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()

		checks := map[string]string{"database": "ok"}
		status := http.StatusOK
		if err := db(ctx); err != nil {
			checks["database"] = err.Error()
			status = http.StatusServiceUnavailable
		}
		for name, ping := range optional {
			if ping == nil {
				checks[name] = "disabled"
				continue
			}
			if err := ping(ctx); err != nil {
				checks[name] = err.Error()
				continue
			}
			checks[name] = "ok"
		}
		return c.JSON(status, Envelope{Success: status == http.StatusOK, Message: "health", Data: checks})
	}
}
