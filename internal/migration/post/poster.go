// Package post submits built documents to the target system under the
// at-most-once-per-mutation guarantee. The duplicate check against the
// ImportedDocument table is the engine's most important invariant: the source
// is known to emit the same mutation id many times.
package post

import (
	"context"
	"errors"
	"time"

	"ebbridge/internal/core/apperror"
	"ebbridge/internal/core/tx"
	"ebbridge/internal/domain/documents"
	"ebbridge/internal/domain/importlog"
	"ebbridge/internal/eboekhouden"
	"ebbridge/internal/migration/build"
	"ebbridge/internal/migration/classify"
	"ebbridge/pkg/logger"
)

// Outcome is the result category of posting one mutation.
type Outcome string

const (
	OutcomePosted  Outcome = "posted"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// Result is the per-mutation outcome. Failures never propagate as errors;
// only pre-flight and transport problems abort a run.
type Result struct {
	Outcome     Outcome
	Reason      importlog.FailureReason // classification for skip/fail, and invoice_not_found on posted cash
	TargetDocID string
	Detail      string
}

// Locker serializes posting per mutation id across concurrent runs.
// The lock is co-operative and held only for the posting critical section.
type Locker interface {
	WithMutationLock(ctx context.Context, company string, mutationID int64, fn func(ctx context.Context) error) error
}

// Poster executes the posting protocol.
type Poster struct {
	company  string
	builder  *build.Builder
	imported importlog.Repository
	writer   documents.Writer
	locker   Locker
	txm      tx.Manager
	dryRun   bool
}

// New creates a Poster.
func New(company string, builder *build.Builder, imported importlog.Repository, writer documents.Writer, locker Locker, txm tx.Manager, dryRun bool) *Poster {
	return &Poster{
		company:  company,
		builder:  builder,
		imported: imported,
		writer:   writer,
		locker:   locker,
		txm:      txm,
		dryRun:   dryRun,
	}
}

// Post runs the guard-and-submit protocol for one classified mutation.
func (p *Poster) Post(ctx context.Context, m *eboekhouden.Mutation, cls classify.Result) Result {
	if cls.Route == classify.RouteQuarantine {
		return Result{Outcome: OutcomeFailed, Reason: cls.Reason, Detail: cls.Detail}
	}

	var result Result
	err := p.locker.WithMutationLock(ctx, p.company, m.ID, func(ctx context.Context) error {
		result = p.postLocked(ctx, m, cls)
		return nil
	})
	if err != nil {
		return Result{
			Outcome: OutcomeFailed,
			Reason:  ReasonFor(err),
			Detail:  err.Error(),
		}
	}
	return result
}

func (p *Poster) postLocked(ctx context.Context, m *eboekhouden.Mutation, cls classify.Result) Result {
	existing, err := p.imported.ActiveByMutationID(ctx, m.ID)
	if err != nil {
		return failed(err)
	}
	if existing != nil {
		return Result{
			Outcome:     OutcomeSkipped,
			Reason:      importlog.ReasonDuplicateSuppressed,
			TargetDocID: existing.TargetDocID,
		}
	}

	// Legacy imports predate mutation-id recording; payments match on
	// (invoice number, amount, date) as a second line of defense.
	if cls.Route == classify.RoutePayment {
		legacy, err := p.imported.FindLegacyPayment(ctx, m.InvoiceNumber, m.Total().Abs(), m.Date)
		if err != nil {
			return failed(err)
		}
		if legacy != nil {
			return Result{
				Outcome:     OutcomeSkipped,
				Reason:      importlog.ReasonDuplicateSuppressed,
				TargetDocID: legacy.TargetDocID,
				Detail:      "matched legacy import without mutation id",
			}
		}
	}

	switch cls.Route {
	case classify.RouteInvoice:
		return p.postInvoice(ctx, m)
	case classify.RoutePayment, classify.RouteCash:
		return p.postPayment(ctx, m, cls.Route)
	case classify.RouteJournal:
		return p.postJournal(ctx, m)
	}
	return Result{Outcome: OutcomeFailed, Reason: importlog.ReasonUnsupportedKind}
}

func (p *Poster) postInvoice(ctx context.Context, m *eboekhouden.Mutation) Result {
	inv, err := p.builder.Invoice(ctx, m)
	if err != nil {
		return failed(err)
	}
	if p.dryRun {
		return Result{Outcome: OutcomePosted, Detail: "dry run"}
	}

	var docID string
	err = p.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error
		if docID, err = p.writer.SubmitInvoice(ctx, inv); err != nil {
			return err
		}
		return p.imported.Create(ctx, &importlog.ImportedDocument{
			MutationID:    m.ID,
			InvoiceNumber: m.InvoiceNumber,
			TargetDocKind: inv.Kind,
			TargetDocID:   docID,
			Status:        importlog.StatusActive,
			Amount:        inv.GrandTotal,
			PostingDate:   inv.PostingDate,
			ImportedAt:    time.Now().UTC(),
		})
	})
	if err != nil {
		return failed(err)
	}
	logger.Debug(ctx, "invoice posted", "mutation_id", m.ID, "doc_id", docID)
	return Result{Outcome: OutcomePosted, TargetDocID: docID}
}

func (p *Poster) postPayment(ctx context.Context, m *eboekhouden.Mutation, route classify.Route) Result {
	var (
		pay          *documents.PaymentEntry
		invoiceFound = true
		err          error
	)
	if route == classify.RoutePayment {
		pay, invoiceFound, err = p.builder.Payment(ctx, m)
	} else {
		pay, err = p.builder.Cash(ctx, m)
	}
	if err != nil {
		return failed(err)
	}

	var reason importlog.FailureReason
	if route == classify.RoutePayment && !invoiceFound {
		reason = importlog.ReasonInvoiceNotFound
	}
	if p.dryRun {
		return Result{Outcome: OutcomePosted, Reason: reason, Detail: "dry run"}
	}

	var docID string
	err = p.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error
		if docID, err = p.writer.SubmitPayment(ctx, pay); err != nil {
			return err
		}
		return p.imported.Create(ctx, &importlog.ImportedDocument{
			MutationID:    m.ID,
			InvoiceNumber: m.InvoiceNumber,
			TargetDocKind: documents.KindPaymentEntry,
			TargetDocID:   docID,
			Status:        importlog.StatusActive,
			Amount:        pay.Amount,
			PostingDate:   pay.PostingDate,
			ImportedAt:    time.Now().UTC(),
		})
	})
	if err != nil {
		return failed(err)
	}
	return Result{Outcome: OutcomePosted, Reason: reason, TargetDocID: docID}
}

func (p *Poster) postJournal(ctx context.Context, m *eboekhouden.Mutation) Result {
	j, err := p.builder.Journal(ctx, m)
	if err != nil {
		return failed(err)
	}
	if p.dryRun {
		return Result{Outcome: OutcomePosted, Detail: "dry run"}
	}

	var docID string
	err = p.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error
		if docID, err = p.writer.SubmitJournal(ctx, j); err != nil {
			return err
		}
		return p.imported.Create(ctx, &importlog.ImportedDocument{
			MutationID:    m.ID,
			InvoiceNumber: m.InvoiceNumber,
			TargetDocKind: documents.KindJournalEntry,
			TargetDocID:   docID,
			Status:        importlog.StatusActive,
			Amount:        m.Total().Abs(),
			PostingDate:   j.PostingDate,
			ImportedAt:    time.Now().UTC(),
		})
	})
	if err != nil {
		return failed(err)
	}
	return Result{Outcome: OutcomePosted, TargetDocID: docID}
}

func failed(err error) Result {
	return Result{Outcome: OutcomeFailed, Reason: ReasonFor(err), Detail: err.Error()}
}

// ReasonFor maps an error to its failure-log classification.
func ReasonFor(err error) importlog.FailureReason {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		return importlog.ReasonTargetValidation
	}
	switch appErr.Code {
	case apperror.CodeTransport, apperror.CodeTimeout:
		return importlog.ReasonTransportTimeout
	case apperror.CodeAuth:
		return importlog.ReasonAuthError
	case apperror.CodeUnmappedLedger:
		return importlog.ReasonUnmappedLedger
	case apperror.CodeUnmappedRelation:
		return importlog.ReasonUnmappedRelation
	case apperror.CodeUnsupportedKind:
		if appErr.Details != nil && appErr.Details["reason"] == string(importlog.ReasonStockNotSupported) {
			return importlog.ReasonStockNotSupported
		}
		return importlog.ReasonUnsupportedKind
	case apperror.CodeAmountMismatch:
		return importlog.ReasonAmountMismatch
	case apperror.CodeInvoiceNotFound:
		return importlog.ReasonInvoiceNotFound
	default:
		return importlog.ReasonTargetValidation
	}
}
