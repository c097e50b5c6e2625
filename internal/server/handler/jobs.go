package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/kalshibot/internal/domain"
	"github.com/alanyoungcy/kalshibot/internal/jobs"
)

// JobsHandler triggers pipeline jobs over HTTP. The external scheduler hits
// these routes on its timers; the lease inside the runner makes double
// triggers harmless.
type JobsHandler struct {
	runner *jobs.Runner
	logger *slog.Logger
}

// NewJobsHandler creates a JobsHandler around the given runner.
func NewJobsHandler(runner *jobs.Runner, logger *slog.Logger) *JobsHandler {
	return &JobsHandler{runner: runner, logger: logger}
}

// RunJob executes the job named in the path and returns its result.
// POST /api/jobs/{name}
func (h *JobsHandler) RunJob(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	res, err := h.runner.Run(r.Context(), name)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			writeError(w, http.StatusGatewayTimeout, "job interrupted")
			return
		}
		if errors.Is(err, domain.ErrUnauthorized) {
			writeError(w, http.StatusBadGateway, "exchange rejected credentials")
			return
		}
		h.logger.Error("job failed",
			slog.String("job", name),
			slog.String("error", err.Error()),
		)
		status := http.StatusInternalServerError
		if errors.Is(err, jobs.ErrUnknownJob) {
			status = http.StatusNotFound
		}
		writeError(w, status, err.Error())
		return
	}

	status := http.StatusOK
	if res.Skipped {
		status = http.StatusConflict
	}
	writeJSON(w, status, res)
}
