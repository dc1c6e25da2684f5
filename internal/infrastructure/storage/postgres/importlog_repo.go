package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"

	"ebbridge/internal/core/id"
	"ebbridge/internal/core/types"
	"ebbridge/internal/domain/documents"
	"ebbridge/internal/domain/importlog"
)

// ImportLogRepo is the PostgreSQL implementation of importlog.Repository.
// The imported_documents table is the at-most-once guard: a partial unique
// index on mutation_id over active rows makes Create fail on replays.
type ImportLogRepo struct {
	txm *TxManager
}

var _ importlog.Repository = (*ImportLogRepo)(nil)

// NewImportLogRepo creates an ImportLogRepo.
func NewImportLogRepo(txm *TxManager) *ImportLogRepo {
	return &ImportLogRepo{txm: txm}
}

func (r *ImportLogRepo) builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

var importedDocCols = []string{"mutation_id", "invoice_number", "target_doc_kind", "target_doc_id", "status", "amount", "posting_date", "imported_at"}

// ActiveByMutationID returns the active row for a mutation, or (nil, nil).
func (r *ImportLogRepo) ActiveByMutationID(ctx context.Context, mutationID int64) (*importlog.ImportedDocument, error) {
	q := r.builder().
		Select(importedDocCols...).
		From("imported_documents").
		Where(squirrel.Eq{"mutation_id": mutationID, "status": importlog.StatusActive})
	return scanOne[importlog.ImportedDocument](ctx, r.txm, q, "imported document")
}

// ActiveByInvoiceNumber returns the active invoice row for an invoice
// number, or (nil, nil).
func (r *ImportLogRepo) ActiveByInvoiceNumber(ctx context.Context, invoiceNumber string) (*importlog.ImportedDocument, error) {
	q := r.builder().
		Select(importedDocCols...).
		From("imported_documents").
		Where(squirrel.Eq{
			"invoice_number":  invoiceNumber,
			"status":          importlog.StatusActive,
			"target_doc_kind": []documents.Kind{documents.KindSalesInvoice, documents.KindPurchaseInvoice},
		}).
		OrderBy("imported_at DESC").
		Limit(1)
	return scanOne[importlog.ImportedDocument](ctx, r.txm, q, "imported invoice")
}

// FindLegacyPayment matches a payment imported before mutation ids were
// recorded, by invoice number, amount and posting date.
func (r *ImportLogRepo) FindLegacyPayment(ctx context.Context, invoiceNumber string, amount types.Money, date time.Time) (*importlog.ImportedDocument, error) {
	q := r.builder().
		Select(importedDocCols...).
		From("imported_documents").
		Where(squirrel.Eq{
			"invoice_number":  invoiceNumber,
			"status":          importlog.StatusActive,
			"target_doc_kind": documents.KindPaymentEntry,
		}).
		Where("amount = ?", amount).
		Where("posting_date::date = ?::date", date).
		OrderBy("imported_at ASC").
		Limit(1)
	return scanOne[importlog.ImportedDocument](ctx, r.txm, q, "legacy payment")
}

// Create inserts a new active row. A duplicate active mutation id violates
// the unique index and surfaces as an error.
func (r *ImportLogRepo) Create(ctx context.Context, doc *importlog.ImportedDocument) error {
	if doc.ImportedAt.IsZero() {
		doc.ImportedAt = time.Now().UTC()
	}
	if doc.Status == "" {
		doc.Status = importlog.StatusActive
	}
	q := r.builder().
		Insert("imported_documents").
		Columns(importedDocCols...).
		Values(doc.MutationID, doc.InvoiceNumber, doc.TargetDocKind, doc.TargetDocID, doc.Status, doc.Amount, doc.PostingDate, doc.ImportedAt)
	return execInsert(ctx, r.txm, q, "imported document")
}

// MarkCancelled flips the active row for a mutation to cancelled.
func (r *ImportLogRepo) MarkCancelled(ctx context.Context, mutationID int64) error {
	q := r.builder().
		Update("imported_documents").
		Set("status", importlog.StatusCancelled).
		Where(squirrel.Eq{"mutation_id": mutationID, "status": importlog.StatusActive})

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build mark cancelled: %w", err)
	}
	tag, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("mark cancelled %d: %w", mutationID, err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ListActive returns all active rows, oldest first.
func (r *ImportLogRepo) ListActive(ctx context.Context) ([]importlog.ImportedDocument, error) {
	q := r.builder().
		Select(importedDocCols...).
		From("imported_documents").
		Where(squirrel.Eq{"status": importlog.StatusActive}).
		OrderBy("imported_at ASC")

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list active: %w", err)
	}
	var out []importlog.ImportedDocument
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &out, sql, args...); err != nil {
		return nil, fmt.Errorf("list active imported documents: %w", err)
	}
	return out, nil
}

// RunRepo is the PostgreSQL implementation of importlog.RunRepository.
type RunRepo struct {
	txm *TxManager
}

var _ importlog.RunRepository = (*RunRepo)(nil)

// NewRunRepo creates a RunRepo.
func NewRunRepo(txm *TxManager) *RunRepo {
	return &RunRepo{txm: txm}
}

func (r *RunRepo) builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

// runRow flattens RunRecord for scanning; window and counts live in
// dedicated columns.
type runRow struct {
	ID              id.ID      `db:"id"`
	Company         string     `db:"company"`
	FromDate        *time.Time `db:"from_date"`
	ToDate          *time.Time `db:"to_date"`
	FromID          int64      `db:"from_id"`
	ToID            int64      `db:"to_id"`
	Fetched         int        `db:"fetched"`
	Created         int        `db:"created"`
	AlreadyImported int        `db:"already_imported"`
	InvoiceNotFound int        `db:"invoice_not_found"`
	Quarantined     int        `db:"quarantined"`
	TransientFailed int        `db:"transient_failed"`
	PermanentFailed int        `db:"permanent_failed"`
	DryRun          bool       `db:"dry_run"`
	StartedAt       time.Time  `db:"started_at"`
	FinishedAt      *time.Time `db:"finished_at"`
	FailureLogPath  string     `db:"failure_log_path"`
	Aborted         bool       `db:"aborted"`
	AbortReason     string     `db:"abort_reason"`
}

var runCols = []string{
	"id", "company", "from_date", "to_date", "from_id", "to_id",
	"fetched", "created", "already_imported", "invoice_not_found", "quarantined", "transient_failed", "permanent_failed",
	"dry_run", "started_at", "finished_at", "failure_log_path", "aborted", "abort_reason",
}

func (row *runRow) toRecord() importlog.RunRecord {
	return importlog.RunRecord{
		ID:      row.ID,
		Company: row.Company,
		Window: importlog.RunWindow{
			FromDate: row.FromDate,
			ToDate:   row.ToDate,
			FromID:   row.FromID,
			ToID:     row.ToID,
		},
		Counts: importlog.RunCounts{
			Fetched:         row.Fetched,
			Created:         row.Created,
			AlreadyImported: row.AlreadyImported,
			InvoiceNotFound: row.InvoiceNotFound,
			Quarantined:     row.Quarantined,
			TransientFailed: row.TransientFailed,
			PermanentFailed: row.PermanentFailed,
		},
		DryRun:         row.DryRun,
		StartedAt:      row.StartedAt,
		FinishedAt:     row.FinishedAt,
		FailureLogPath: row.FailureLogPath,
		Aborted:        row.Aborted,
		AbortReason:    row.AbortReason,
	}
}

// CreateRun inserts the initial run row.
func (r *RunRepo) CreateRun(ctx context.Context, run *importlog.RunRecord) error {
	if id.IsNil(run.ID) {
		run.ID = id.New()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	q := r.builder().
		Insert("migration_runs").
		Columns(runCols...).
		Values(
			run.ID, run.Company, run.Window.FromDate, run.Window.ToDate, run.Window.FromID, run.Window.ToID,
			run.Counts.Fetched, run.Counts.Created, run.Counts.AlreadyImported, run.Counts.InvoiceNotFound,
			run.Counts.Quarantined, run.Counts.TransientFailed, run.Counts.PermanentFailed,
			run.DryRun, run.StartedAt, run.FinishedAt, run.FailureLogPath, run.Aborted, run.AbortReason,
		)
	return execInsert(ctx, r.txm, q, "run")
}

// FinishRun writes the final counters, window and abort state back.
func (r *RunRepo) FinishRun(ctx context.Context, run *importlog.RunRecord) error {
	if run.FinishedAt == nil {
		now := time.Now().UTC()
		run.FinishedAt = &now
	}
	q := r.builder().
		Update("migration_runs").
		Set("from_date", run.Window.FromDate).
		Set("to_date", run.Window.ToDate).
		Set("from_id", run.Window.FromID).
		Set("to_id", run.Window.ToID).
		Set("fetched", run.Counts.Fetched).
		Set("created", run.Counts.Created).
		Set("already_imported", run.Counts.AlreadyImported).
		Set("invoice_not_found", run.Counts.InvoiceNotFound).
		Set("quarantined", run.Counts.Quarantined).
		Set("transient_failed", run.Counts.TransientFailed).
		Set("permanent_failed", run.Counts.PermanentFailed).
		Set("finished_at", run.FinishedAt).
		Set("failure_log_path", run.FailureLogPath).
		Set("aborted", run.Aborted).
		Set("abort_reason", run.AbortReason).
		Where(squirrel.Eq{"id": run.ID})

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build finish run: %w", err)
	}
	tag, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", run.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// GetRun returns one run by id.
func (r *RunRepo) GetRun(ctx context.Context, runID id.ID) (*importlog.RunRecord, error) {
	q := r.builder().
		Select(runCols...).
		From("migration_runs").
		Where(squirrel.Eq{"id": runID})

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get run: %w", err)
	}

	var row runRow
	err = pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &row, sql, args...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	rec := row.toRecord()
	return &rec, nil
}

// ListRuns returns the newest runs, newest first.
func (r *RunRepo) ListRuns(ctx context.Context, limit int) ([]importlog.RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	q := r.builder().
		Select(runCols...).
		From("migration_runs").
		OrderBy("started_at DESC").
		Limit(uint64(limit))

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list runs: %w", err)
	}

	var rows []runRow
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	out := make([]importlog.RunRecord, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toRecord())
	}
	return out, nil
}

// AppendFailure records one failed or quarantined mutation for a run.
func (r *RunRepo) AppendFailure(ctx context.Context, entry *importlog.FailureEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	q := r.builder().
		Insert("run_failures").
		Columns("run_id", "mutation_id", "kind", "reason", "detail", "payload", "created_at").
		Values(entry.RunID, entry.MutationID, entry.Kind, entry.Reason, entry.Detail, []byte(entry.Payload), entry.CreatedAt)
	return execInsert(ctx, r.txm, q, "run failure")
}

// FailuresByRun returns all failure entries of one run, oldest first.
func (r *RunRepo) FailuresByRun(ctx context.Context, runID id.ID) ([]importlog.FailureEntry, error) {
	q := r.builder().
		Select("run_id", "mutation_id", "kind", "reason", "detail", "payload", "created_at").
		From("run_failures").
		Where(squirrel.Eq{"run_id": runID}).
		OrderBy("created_at ASC")

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build failures by run: %w", err)
	}
	var out []importlog.FailureEntry
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &out, sql, args...); err != nil {
		return nil, fmt.Errorf("failures by run %s: %w", runID, err)
	}
	return out, nil
}

// RecentFailures returns the newest failure entries across all runs.
func (r *RunRepo) RecentFailures(ctx context.Context, limit int) ([]importlog.FailureEntry, error) {
	if limit <= 0 {
		limit = 200
	}
	q := r.builder().
		Select("run_id", "mutation_id", "kind", "reason", "detail", "payload", "created_at").
		From("run_failures").
		OrderBy("created_at DESC").
		Limit(uint64(limit))

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build recent failures: %w", err)
	}
	var out []importlog.FailureEntry
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &out, sql, args...); err != nil {
		return nil, fmt.Errorf("recent failures: %w", err)
	}
	return out, nil
}
