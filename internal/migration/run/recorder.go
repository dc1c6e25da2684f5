package run

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"ebbridge/internal/domain/importlog"
	"ebbridge/internal/eboekhouden"
	"ebbridge/internal/migration/post"
	"ebbridge/pkg/logger"
)

// recorder accumulates per-mutation outcomes into the run counts, persists
// failure entries, and writes the per-run JSON failure log for replay.
type recorder struct {
	run     *importlog.RunRecord
	runs    importlog.RunRepository
	logDir  string
	entries []importlog.FailureEntry
}

func newRecorder(run *importlog.RunRecord, runs importlog.RunRepository, logDir string) *recorder {
	return &recorder{run: run, runs: runs, logDir: logDir}
}

// observe folds one posting result into the run record.
func (r *recorder) observe(ctx context.Context, m *eboekhouden.Mutation, res post.Result) {
	r.run.Counts.Fetched++

	switch res.Outcome {
	case post.OutcomePosted:
		if res.Reason == importlog.ReasonInvoiceNotFound {
			r.run.Counts.InvoiceNotFound++
			r.fail(ctx, m, res)
		} else {
			r.run.Counts.Created++
		}

	case post.OutcomeSkipped:
		r.run.Counts.AlreadyImported++
		r.fail(ctx, m, res)

	case post.OutcomeFailed:
		switch {
		case res.Reason.Transient():
			r.run.Counts.TransientFailed++
		case isQuarantine(res.Reason):
			r.run.Counts.Quarantined++
		default:
			r.run.Counts.PermanentFailed++
		}
		r.fail(ctx, m, res)
	}
}

// isQuarantine separates "needs a mapping or is unsupported" from genuine
// posting failures in the summary.
func isQuarantine(reason importlog.FailureReason) bool {
	switch reason {
	case importlog.ReasonUnmappedLedger, importlog.ReasonUnmappedRelation,
		importlog.ReasonUnsupportedKind, importlog.ReasonStockNotSupported:
		return true
	}
	return false
}

func (r *recorder) fail(ctx context.Context, m *eboekhouden.Mutation, res post.Result) {
	payload, err := json.Marshal(m)
	if err != nil {
		logger.Warn(ctx, "failed to serialize mutation for failure log",
			"mutation_id", m.ID, "error", err)
	}
	entry := importlog.FailureEntry{
		RunID:      r.run.ID,
		MutationID: m.ID,
		Kind:       string(m.Kind),
		Reason:     res.Reason,
		Detail:     res.Detail,
		Payload:    payload,
		CreatedAt:  time.Now().UTC(),
	}
	r.entries = append(r.entries, entry)
	if err := r.runs.AppendFailure(ctx, &entry); err != nil {
		logger.Error(ctx, "failed to persist failure entry",
			"mutation_id", m.ID, "error", err)
	}
}

// flush writes the failure log file and records its path. Called on normal
// completion and on abort; a partial window still gets its log.
func (r *recorder) flush(ctx context.Context) {
	if len(r.entries) == 0 {
		return
	}
	if err := os.MkdirAll(r.logDir, 0o755); err != nil {
		logger.Error(ctx, "failed to create failure log dir", "dir", r.logDir, "error", err)
		return
	}
	path := filepath.Join(r.logDir, fmt.Sprintf("run-%s.json", r.run.ID))
	raw, err := json.MarshalIndent(r.entries, "", "  ")
	if err != nil {
		logger.Error(ctx, "failed to encode failure log", "error", err)
		return
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		logger.Error(ctx, "failed to write failure log", "path", path, "error", err)
		return
	}
	r.run.FailureLogPath = path
}

// summarize logs the categorized run summary. Duplicates are called out
// separately from genuine failures because the source emits many of them.
func (r *recorder) summarize(ctx context.Context) {
	c := r.run.Counts
	logger.Info(ctx, "run finished",
		"run_id", r.run.ID,
		"fetched", c.Fetched,
		"created", c.Created,
		"duplicates_suppressed", c.AlreadyImported,
		"invoice_not_found", c.InvoiceNotFound,
		"quarantined", c.Quarantined,
		"transient_failed", c.TransientFailed,
		"permanent_failed", c.PermanentFailed,
		"failure_log", r.run.FailureLogPath,
	)
}
