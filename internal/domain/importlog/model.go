// Package importlog owns the engine's durable state: the ImportedDocument
// table that backs idempotency, the append-only RunRecord history, and the
// per-run failure entries.
package importlog

import (
	"encoding/json"
	"time"

	"ebbridge/internal/core/id"
	"ebbridge/internal/core/types"
	"ebbridge/internal/domain/documents"
)

// DocStatus is the lifecycle state of an imported document.
type DocStatus string

const (
	StatusActive    DocStatus = "active"
	StatusCancelled DocStatus = "cancelled"
)

// ImportedDocument links a source mutation to the target document it
// produced. At most one active row exists per mutation id; this table is the
// sole source of truth for idempotency.
type ImportedDocument struct {
	MutationID    int64          `db:"mutation_id" json:"mutationId"`
	InvoiceNumber string         `db:"invoice_number" json:"invoiceNumber,omitempty"`
	TargetDocKind documents.Kind `db:"target_doc_kind" json:"targetDocKind"`
	TargetDocID   string         `db:"target_doc_id" json:"targetDocId"`
	Status        DocStatus      `db:"status" json:"status"`
	Amount        types.Money    `db:"amount" json:"amount"`
	PostingDate   time.Time      `db:"posting_date" json:"postingDate"`
	ImportedAt    time.Time      `db:"imported_at" json:"importedAt"`
}

// FailureReason classifies one failed or quarantined mutation.
type FailureReason string

const (
	ReasonTransportTimeout    FailureReason = "transport_timeout"
	ReasonAuthError           FailureReason = "auth_error"
	ReasonUnmappedLedger      FailureReason = "unmapped_ledger"
	ReasonUnmappedRelation    FailureReason = "unmapped_relation"
	ReasonInvoiceNotFound     FailureReason = "invoice_not_found"
	ReasonUnsupportedKind     FailureReason = "unsupported_kind"
	ReasonAmountMismatch      FailureReason = "amount_mismatch"
	ReasonTargetValidation    FailureReason = "target_validation"
	ReasonDuplicateSuppressed FailureReason = "duplicate_suppressed"
	ReasonStockNotSupported   FailureReason = "stock_not_supported"
)

// Transient reports whether the next run retries this reason without
// operator action.
func (r FailureReason) Transient() bool {
	return r == ReasonTransportTimeout
}

// Permanent reports whether operator action is required. Informational
// entries (duplicates) and partial outcomes (invoice_not_found, which still
// posts the cash) are neither transient nor permanent.
func (r FailureReason) Permanent() bool {
	switch r {
	case ReasonAuthError, ReasonUnmappedLedger, ReasonUnmappedRelation,
		ReasonUnsupportedKind, ReasonAmountMismatch, ReasonTargetValidation,
		ReasonStockNotSupported:
		return true
	}
	return false
}

// FailureEntry is one row in the failure log. Payload carries the full
// normalized mutation for replay.
type FailureEntry struct {
	RunID      id.ID           `db:"run_id" json:"runId"`
	MutationID int64           `db:"mutation_id" json:"mutationId"`
	Kind       string          `db:"kind" json:"kind"`
	Reason     FailureReason   `db:"reason" json:"reason"`
	Detail     string          `db:"detail" json:"detail,omitempty"`
	Payload    json.RawMessage `db:"payload" json:"payload,omitempty"`
	CreatedAt  time.Time       `db:"created_at" json:"createdAt"`
}

// RunWindow is the persisted form of the fetch window.
type RunWindow struct {
	FromDate *time.Time `db:"from_date" json:"fromDate,omitempty"`
	ToDate   *time.Time `db:"to_date" json:"toDate,omitempty"`
	FromID   int64      `db:"from_id" json:"fromId,omitempty"`
	ToID     int64      `db:"to_id" json:"toId,omitempty"`
}

// RunCounts aggregates outcomes per bucket.
type RunCounts struct {
	Fetched         int `db:"fetched" json:"fetched"`
	Created         int `db:"created" json:"created"`
	AlreadyImported int `db:"already_imported" json:"alreadyImported"`
	InvoiceNotFound int `db:"invoice_not_found" json:"invoiceNotFound"`
	Quarantined     int `db:"quarantined" json:"quarantined"`
	TransientFailed int `db:"transient_failed" json:"transientFailed"`
	PermanentFailed int `db:"permanent_failed" json:"permanentFailed"`
}

// RunRecord is one invocation of the pipeline.
type RunRecord struct {
	ID             id.ID      `db:"id" json:"id"`
	Company        string     `db:"company" json:"company"`
	Window         RunWindow  `db:"-" json:"window"`
	Counts         RunCounts  `db:"-" json:"counts"`
	DryRun         bool       `db:"dry_run" json:"dryRun"`
	StartedAt      time.Time  `db:"started_at" json:"startedAt"`
	FinishedAt     *time.Time `db:"finished_at" json:"finishedAt,omitempty"`
	FailureLogPath string     `db:"failure_log_path" json:"failureLogPath,omitempty"`
	Aborted        bool       `db:"aborted" json:"aborted"`
	AbortReason    string     `db:"abort_reason" json:"abortReason,omitempty"`
}
