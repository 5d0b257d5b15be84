package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/camp-registration/internal/queue"
)

// JobHandler reports background job progress.
type JobHandler struct {
	Progress queue.ProgressStore
}

// Get handles GET /v1/admin/jobs/:id.
func (h *JobHandler) Get(c echo.Context) error {
	if h.Progress == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "job progress is not tracked")
	}
	p, err := h.Progress.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "job", p)
}
