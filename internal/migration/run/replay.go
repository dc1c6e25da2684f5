package run

import (
	"context"
	"encoding/json"
	"time"

	"ebbridge/internal/core/apperror"
	"ebbridge/internal/core/id"
	"ebbridge/internal/domain/importlog"
	"ebbridge/internal/eboekhouden"
	"ebbridge/internal/migration/build"
	"ebbridge/internal/migration/classify"
	"ebbridge/internal/migration/post"
	"ebbridge/internal/migration/resolve"
	"ebbridge/pkg/logger"
)

// Replay re-posts the failed mutations of an earlier run from its persisted
// payloads. Mappings added since the original run resolve the corresponding
// unmapped_* failures; everything else goes through the normal guard, so
// anything posted in the meantime is suppressed as a duplicate.
func (r *Runner) Replay(ctx context.Context, runID id.ID) (*importlog.RunRecord, error) {
	ctx, span := tracer.Start(ctx, "migration.replay")
	defer span.End()

	d := r.deps
	source, err := d.Runs.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if source == nil {
		return nil, apperror.NewNotFound("run", runID.String())
	}
	failures, err := d.Runs.FailuresByRun(ctx, runID)
	if err != nil {
		return nil, err
	}

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

	record := &importlog.RunRecord{
		ID:        id.New(),
		Company:   d.Cfg.Company,
		Window:    source.Window,
		StartedAt: time.Now().UTC(),
	}
	if err := d.Runs.CreateRun(ctx, record); err != nil {
		return nil, err
	}
	ctx = logger.WithLogger(ctx, logger.FromContext(ctx).With("run_id", record.ID.String(), "replay_of", runID.String()))

	builder := build.New(d.Cfg, resolver, d.Imported, d.Writer)
	poster := post.New(d.Cfg.Company, builder, d.Imported, d.Writer, d.Locker, d.TxM, false)
	rec := newRecorder(record, d.Runs, d.Cfg.FailureLogDir)

	now := time.Now().UTC()
	for _, entry := range failures {
		if err := ctx.Err(); err != nil {
			return r.abort(ctx, record, rec, err)
		}
		// Informational rows are not failures; replaying them would only
		// produce another duplicate_suppressed entry each.
		if entry.Reason == importlog.ReasonDuplicateSuppressed {
			continue
		}
		m, ok := r.decodeEntry(ctx, entry)
		if !ok {
			continue
		}
		result := poster.Post(ctx, m, classify.Classify(m, now))
		rec.observe(ctx, m, result)
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

// decodeEntry recovers the normalized mutation from a failure payload,
// falling back to the mutation cache for rows persisted without one.
func (r *Runner) decodeEntry(ctx context.Context, entry importlog.FailureEntry) (*eboekhouden.Mutation, bool) {
	payload := entry.Payload
	if len(payload) == 0 {
		cached, ok, err := r.deps.Cache.Get(ctx, entry.MutationID)
		if err != nil || !ok {
			logger.Warn(ctx, "failure entry has no payload and no cached mutation",
				"mutation_id", entry.MutationID)
			return nil, false
		}
		payload = cached
	}
	var m eboekhouden.Mutation
	if err := json.Unmarshal(payload, &m); err != nil {
		logger.Warn(ctx, "failure payload is unreadable",
			"mutation_id", entry.MutationID, "error", err)
		return nil, false
	}
	return &m, true
}
