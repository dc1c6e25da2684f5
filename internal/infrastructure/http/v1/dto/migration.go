package dto

import (
	"time"

	"ebbridge/internal/core/apperror"
	"ebbridge/internal/eboekhouden"
	"ebbridge/internal/migration/run"
)

// RunRequest parameterizes a migration run. Dates are "2006-01-02". A run
// with neither dates nor ids covers the full administration.
type RunRequest struct {
	FromDate string `json:"fromDate,omitempty"`
	ToDate   string `json:"toDate,omitempty"`
	FromID   int64  `json:"fromId,omitempty"`
	ToID     int64  `json:"toId,omitempty"`
	DryRun   bool   `json:"dryRun,omitempty"`
}

// Options converts the request into run options.
func (r *RunRequest) Options() (run.Options, error) {
	var w eboekhouden.Window
	var err error
	if r.FromDate != "" {
		if w.FromDate, err = time.Parse("2006-01-02", r.FromDate); err != nil {
			return run.Options{}, apperror.NewValidation("invalid fromDate").
				WithDetail("fromDate", r.FromDate)
		}
	}
	if r.ToDate != "" {
		if w.ToDate, err = time.Parse("2006-01-02", r.ToDate); err != nil {
			return run.Options{}, apperror.NewValidation("invalid toDate").
				WithDetail("toDate", r.ToDate)
		}
	}
	w.FromID = r.FromID
	w.ToID = r.ToID
	return run.Options{Window: w, DryRun: r.DryRun}, nil
}
