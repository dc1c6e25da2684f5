package importlog

import (
	"context"
	"time"

	"ebbridge/internal/core/id"
	"ebbridge/internal/core/types"
)

// Repository manages ImportedDocument rows.
type Repository interface {
	// ActiveByMutationID returns the active row for a mutation, or (nil, nil).
	ActiveByMutationID(ctx context.Context, mutationID int64) (*ImportedDocument, error)

	// ActiveByInvoiceNumber returns the active invoice-kind row for an
	// invoice number, or (nil, nil). Used to locate payment targets.
	ActiveByInvoiceNumber(ctx context.Context, invoiceNumber string) (*ImportedDocument, error)

	// FindLegacyPayment matches payments imported before mutation ids were
	// recorded, by (invoice number, amount, posting date).
	FindLegacyPayment(ctx context.Context, invoiceNumber string, amount types.Money, date time.Time) (*ImportedDocument, error)

	// Create inserts a new active row. Fails on a duplicate mutation id.
	Create(ctx context.Context, doc *ImportedDocument) error

	// MarkCancelled flips a row to cancelled.
	MarkCancelled(ctx context.Context, mutationID int64) error

	// ListActive returns all active rows, oldest first. Used by the
	// cancelled-document sweep.
	ListActive(ctx context.Context) ([]ImportedDocument, error)
}

// RunRepository manages run history and failure entries. Both are
// append-only.
type RunRepository interface {
	CreateRun(ctx context.Context, run *RunRecord) error
	FinishRun(ctx context.Context, run *RunRecord) error
	GetRun(ctx context.Context, runID id.ID) (*RunRecord, error)
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)

	AppendFailure(ctx context.Context, entry *FailureEntry) error
	FailuresByRun(ctx context.Context, runID id.ID) ([]FailureEntry, error)

	// RecentFailures returns the newest failure entries across runs,
	// newest first. Feeds the propose-mappings operation.
	RecentFailures(ctx context.Context, limit int) ([]FailureEntry, error)
}
