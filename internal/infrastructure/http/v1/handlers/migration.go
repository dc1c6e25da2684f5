package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ebbridge/internal/core/apperror"
	"ebbridge/internal/core/id"
	"ebbridge/internal/domain/importlog"
	"ebbridge/internal/infrastructure/http/v1/dto"
	"ebbridge/internal/migration/run"
)

// MigrationHandler exposes runs and replays over HTTP. Requests block until
// the run finishes; the company run lock turns concurrent starts into 409s.
type MigrationHandler struct {
	*BaseHandler
	runner *run.Runner
	runs   importlog.RunRepository
}

// NewMigrationHandler creates a MigrationHandler.
func NewMigrationHandler(base *BaseHandler, runner *run.Runner, runs importlog.RunRepository) *MigrationHandler {
	return &MigrationHandler{BaseHandler: base, runner: runner, runs: runs}
}

// runResponse pairs the run record with its exit code equivalent.
type runResponse struct {
	Run      *importlog.RunRecord `json:"run"`
	ExitCode int                  `json:"exitCode"`
}

// Run handles POST /v1/migration/run.
func (h *MigrationHandler) Run(c *gin.Context) {
	var req dto.RunRequest
	if !h.BindJSON(c, &req) {
		return
	}
	opts, err := req.Options()
	if err != nil {
		h.Error(c, err)
		return
	}

	record, runErr := h.runner.Run(c.Request.Context(), opts)
	if record == nil && runErr != nil {
		h.Error(c, runErr)
		return
	}
	c.JSON(http.StatusOK, runResponse{Run: record, ExitCode: run.ExitCode(record, runErr)})
}

// Replay handles POST /v1/migration/replay/:run_id.
func (h *MigrationHandler) Replay(c *gin.Context) {
	runID, err := id.Parse(c.Param("run_id"))
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid run id").WithDetail("run_id", c.Param("run_id")))
		return
	}

	record, runErr := h.runner.Replay(c.Request.Context(), runID)
	if record == nil && runErr != nil {
		h.Error(c, runErr)
		return
	}
	c.JSON(http.StatusOK, runResponse{Run: record, ExitCode: run.ExitCode(record, runErr)})
}

// ListRuns handles GET /v1/migration/runs.
func (h *MigrationHandler) ListRuns(c *gin.Context) {
	limit := h.ParseIntQuery(c, "limit", 50)
	records, err := h.runs.ListRuns(c.Request.Context(), limit)
	if err != nil {
		h.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": records})
}

// GetRun handles GET /v1/migration/runs/:run_id.
func (h *MigrationHandler) GetRun(c *gin.Context) {
	runID, err := id.Parse(c.Param("run_id"))
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid run id").WithDetail("run_id", c.Param("run_id")))
		return
	}

	record, err := h.runs.GetRun(c.Request.Context(), runID)
	if err != nil {
		h.Error(c, err)
		return
	}
	if record == nil {
		h.Error(c, apperror.NewNotFound("run", runID))
		return
	}

	failures, err := h.runs.FailuresByRun(c.Request.Context(), runID)
	if err != nil {
		h.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": record, "failures": failures})
}
