// Package run orchestrates the import pipeline: fetch, cache, classify,
// resolve, build, post, record. A run is single-writer per company and
// processes mutations sequentially in ascending mutation-id order, because
// payments depend on earlier invoices being present in the import log.
package run

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"ebbridge/internal/config"
	"ebbridge/internal/core/apperror"
	"ebbridge/internal/core/id"
	"ebbridge/internal/core/tx"
	"ebbridge/internal/domain/documents"
	"ebbridge/internal/domain/importlog"
	"ebbridge/internal/domain/mappings"
	"ebbridge/internal/eboekhouden"
	"ebbridge/internal/migration/build"
	"ebbridge/internal/migration/classify"
	"ebbridge/internal/migration/post"
	"ebbridge/internal/migration/resolve"
	"ebbridge/pkg/logger"
)

var tracer = otel.Tracer("ebbridge/run")

// Cache memoizes raw mutation payloads across runs. The upstream API stays
// authoritative; the cache only avoids re-fetching.
type Cache interface {
	Put(ctx context.Context, mutationID int64, payload []byte) error
	Get(ctx context.Context, mutationID int64) ([]byte, bool, error)
	Has(ctx context.Context, mutationID int64) (bool, error)
	Invalidate(ctx context.Context, mutationID int64) error
}

// Locker provides both the run-level single-writer lock and the
// per-mutation advisory lock.
type Locker interface {
	post.Locker

	// AcquireRunLock takes the company-scoped run lock without blocking;
	// a held lock means another run is active.
	AcquireRunLock(ctx context.Context, company string) (release func(), err error)
}

// Deps wires the pipeline. This is the explicit run context every component
// receives; there is no module-level mutable state.
type Deps struct {
	Cfg      *config.Config
	Client   eboekhouden.Client
	Cache    Cache
	Mappings mappings.Repository
	Imported importlog.Repository
	Runs     importlog.RunRepository
	Writer   documents.Writer
	TxM      tx.Manager
	Locker   Locker
}

// Options parameterize one invocation.
type Options struct {
	Window eboekhouden.Window
	DryRun bool
}

// Runner executes migration runs.
type Runner struct {
	deps Deps
}

// NewRunner creates a Runner.
func NewRunner(deps Deps) *Runner {
	return &Runner{deps: deps}
}

// Run executes one migration run and returns its record. Errors returned
// here are run-level aborts (pre-flight, lock, exhausted transport); the
// record is still persisted with whatever progress was made.
func (r *Runner) Run(ctx context.Context, opts Options) (*importlog.RunRecord, error) {
	ctx, span := tracer.Start(ctx, "migration.run")
	defer span.End()

	d := r.deps
	release, err := d.Locker.AcquireRunLock(ctx, d.Cfg.Company)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := d.Client.OpenSession(ctx); err != nil {
		return nil, err
	}
	defer d.Client.Close(ctx)

	resolver, err := resolve.New(d.Cfg, d.Mappings, d.Client, d.Writer)
	if err != nil {
		return nil, apperror.NewPreflight(err.Error())
	}
	if err := resolver.Preflight(ctx); err != nil {
		return nil, err
	}

	window := opts.Window
	if !window.ByID() && window.FromDate.IsZero() && window.ToDate.IsZero() {
		highest, err := d.Client.FetchHighestMutationID(ctx)
		if err != nil {
			return nil, err
		}
		window.FromID = 1
		window.ToID = highest
	}

	record := &importlog.RunRecord{
		ID:        id.New(),
		Company:   d.Cfg.Company,
		Window:    toRunWindow(window),
		DryRun:    opts.DryRun,
		StartedAt: time.Now().UTC(),
	}
	if err := d.Runs.CreateRun(ctx, record); err != nil {
		return nil, err
	}
	ctx = logger.WithLogger(ctx, logger.FromContext(ctx).With("run_id", record.ID.String()))
	span.SetAttributes(attribute.String("run.id", record.ID.String()))

	builder := build.New(d.Cfg, resolver, d.Imported, d.Writer)
	poster := post.New(d.Cfg.Company, builder, d.Imported, d.Writer, d.Locker, d.TxM, opts.DryRun)
	rec := newRecorder(record, d.Runs, d.Cfg.FailureLogDir)

	seq, err := d.Client.FetchMutations(ctx, window)
	if err != nil {
		return r.abort(ctx, record, rec, err)
	}

	now := time.Now().UTC()
	var lastDone int64
	for {
		// Cooperative cancel between mutations. Posted mutations are
		// durable; a re-run resumes at the guard.
		if err := ctx.Err(); err != nil {
			return r.abort(ctx, record, rec, err)
		}

		m, err := seq.Next(ctx)
		if err != nil {
			record.Window = toRunWindow(window.Resume(lastDone))
			return r.abort(ctx, record, rec, err)
		}
		if m == nil {
			break
		}

		r.cachePut(ctx, m)
		result := poster.Post(ctx, m, classify.Classify(m, now))
		rec.observe(ctx, m, result)
		lastDone = m.ID
	}

	rec.flush(ctx)
	finished := time.Now().UTC()
	record.FinishedAt = &finished
	if err := d.Runs.FinishRun(ctx, record); err != nil {
		return record, err
	}
	rec.summarize(ctx)
	return record, nil
}

// abort persists partial progress and the failure log, then surfaces the
// run-level error. The recorded window is the resumable remainder.
func (r *Runner) abort(ctx context.Context, record *importlog.RunRecord, rec *recorder, cause error) (*importlog.RunRecord, error) {
	rec.flush(ctx)
	finished := time.Now().UTC()
	record.FinishedAt = &finished
	record.Aborted = true
	record.AbortReason = cause.Error()
	if err := r.deps.Runs.FinishRun(ctx, record); err != nil {
		logger.Error(ctx, "failed to persist aborted run", "error", err)
	}
	logger.Warn(ctx, "run aborted", "reason", cause.Error())
	return record, cause
}

func (r *Runner) cachePut(ctx context.Context, m *eboekhouden.Mutation) {
	payload, err := json.Marshal(m)
	if err != nil {
		return
	}
	if err := r.deps.Cache.Put(ctx, m.ID, payload); err != nil {
		logger.Warn(ctx, "mutation cache write failed", "mutation_id", m.ID, "error", err)
	}
}

func toRunWindow(w eboekhouden.Window) importlog.RunWindow {
	out := importlog.RunWindow{FromID: w.FromID, ToID: w.ToID}
	if !w.FromDate.IsZero() {
		from := w.FromDate
		out.FromDate = &from
	}
	if !w.ToDate.IsZero() {
		to := w.ToDate
		out.ToDate = &to
	}
	return out
}

// ExitCode derives the process exit status from a finished run:
// 0 clean, 1 when permanent failures remain, 2 on a run-level abort.
func ExitCode(record *importlog.RunRecord, runErr error) int {
	if runErr != nil || record == nil || record.Aborted {
		return 2
	}
	if record.Counts.PermanentFailed > 0 {
		return 1
	}
	return 0
}
