package documents

import (
	"context"

	"ebbridge/internal/core/types"
)

// Writer is the narrow interface through which the pipeline reaches the
// target system. The postgres implementation persists documents into the
// target tables; tests substitute an in-memory fake.
type Writer interface {
	// SubmitInvoice posts an invoice and returns the target document id.
	SubmitInvoice(ctx context.Context, inv *Invoice) (string, error)

	// SubmitPayment posts a payment entry with its allocations applied.
	SubmitPayment(ctx context.Context, p *PaymentEntry) (string, error)

	// SubmitJournal posts a balanced journal entry.
	SubmitJournal(ctx context.Context, j *JournalEntry) (string, error)

	// InvoiceOutstanding returns the open amount of a posted invoice.
	InvoiceOutstanding(ctx context.Context, targetDocID string) (types.Money, error)

	// IsCancelled reports whether a previously posted document has been
	// voided in the target system.
	IsCancelled(ctx context.Context, kind Kind, targetDocID string) (bool, error)

	// FirstCostCenter returns the first non-group cost center of the
	// company, or "" when none exists.
	FirstCostCenter(ctx context.Context, company string) (string, error)
}
