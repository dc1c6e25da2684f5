package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"ebbridge/internal/core/apperror"
	"ebbridge/internal/core/id"
	"ebbridge/internal/core/types"
	"ebbridge/internal/domain/documents"
)

// DocumentWriter persists target documents into the target tables. Submits
// are expected to run inside the posting transaction; the tx comes from
// context through the TxManager.
type DocumentWriter struct {
	txm *TxManager
}

var _ documents.Writer = (*DocumentWriter)(nil)

// NewDocumentWriter creates a DocumentWriter.
func NewDocumentWriter(txm *TxManager) *DocumentWriter {
	return &DocumentWriter{txm: txm}
}

func (w *DocumentWriter) builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

// SubmitInvoice validates and inserts an invoice with its lines.
func (w *DocumentWriter) SubmitInvoice(ctx context.Context, inv *documents.Invoice) (string, error) {
	if err := inv.Validate(ctx); err != nil {
		return "", wrapValidation(err)
	}
	if id.IsNil(inv.ID) {
		inv.ID = id.New()
	}

	q := w.builder().
		Insert("target_invoices").
		Columns("id", "kind", "company", "party", "posting_date", "due_date", "credit_to", "cost_center",
			"tax_template", "remark", "source_mutation_id", "source_invoice_number", "grand_total").
		Values(inv.ID, inv.Kind, inv.Company, inv.Party, inv.PostingDate, inv.DueDate, inv.CreditTo, inv.CostCenter,
			inv.TaxTemplate, inv.Remark, inv.MutationID, inv.InvoiceNumber, inv.GrandTotal)
	if err := execInsert(ctx, w.txm, q, "invoice"); err != nil {
		return "", err
	}

	for i, line := range inv.Lines {
		lq := w.builder().
			Insert("target_invoice_lines").
			Columns("invoice_id", "line_no", "item", "account", "description", "amount", "vat_code").
			Values(inv.ID, i+1, line.Item, line.Account, line.Description, line.Amount, line.VATCode)
		if err := execInsert(ctx, w.txm, lq, "invoice line"); err != nil {
			return "", err
		}
	}
	return inv.ID.String(), nil
}

// SubmitPayment validates and inserts a payment entry with its allocations.
func (w *DocumentWriter) SubmitPayment(ctx context.Context, p *documents.PaymentEntry) (string, error) {
	if err := p.Validate(ctx); err != nil {
		return "", wrapValidation(err)
	}
	if id.IsNil(p.ID) {
		p.ID = id.New()
	}

	q := w.builder().
		Insert("target_payments").
		Columns("id", "company", "party", "receive", "posting_date", "bank_account", "counter_account",
			"remark", "source_mutation_id", "source_invoice_number", "amount").
		Values(p.ID, p.Company, p.Party, p.Receive, p.PostingDate, p.BankAccount, p.CounterAccount,
			p.Remark, p.MutationID, p.InvoiceNumber, p.Amount)
	if err := execInsert(ctx, w.txm, q, "payment"); err != nil {
		return "", err
	}

	for _, ref := range p.References {
		rq := w.builder().
			Insert("target_payment_refs").
			Columns("payment_id", "target_doc_id", "allocated").
			Values(p.ID, ref.TargetDocID, ref.Allocated)
		if err := execInsert(ctx, w.txm, rq, "payment reference"); err != nil {
			return "", err
		}
	}
	return p.ID.String(), nil
}

// SubmitJournal validates and inserts a journal entry with its legs.
func (w *DocumentWriter) SubmitJournal(ctx context.Context, j *documents.JournalEntry) (string, error) {
	if err := j.Validate(ctx); err != nil {
		return "", wrapValidation(err)
	}
	if id.IsNil(j.ID) {
		j.ID = id.New()
	}

	q := w.builder().
		Insert("target_journals").
		Columns("id", "company", "posting_date", "remark", "source_mutation_id", "source_invoice_number").
		Values(j.ID, j.Company, j.PostingDate, j.Remark, j.MutationID, j.InvoiceNumber)
	if err := execInsert(ctx, w.txm, q, "journal"); err != nil {
		return "", err
	}

	for i, line := range j.Lines {
		lq := w.builder().
			Insert("target_journal_lines").
			Columns("journal_id", "line_no", "account", "debit", "credit", "description").
			Values(j.ID, i+1, line.Account, line.Debit, line.Credit, line.Description)
		if err := execInsert(ctx, w.txm, lq, "journal line"); err != nil {
			return "", err
		}
	}
	return j.ID.String(), nil
}

// InvoiceOutstanding returns the invoice grand total minus the sum of all
// payment allocations against it on non-cancelled payments.
func (w *DocumentWriter) InvoiceOutstanding(ctx context.Context, targetDocID string) (types.Money, error) {
	var outstanding types.Money
	err := w.txm.GetQuerier(ctx).QueryRow(ctx, `
		SELECT i.grand_total - COALESCE((
			SELECT SUM(r.allocated)
			FROM target_payment_refs r
			JOIN target_payments p ON p.id = r.payment_id
			WHERE r.target_doc_id = i.id::text AND NOT p.cancelled
		), 0)
		FROM target_invoices i
		WHERE i.id::text = $1 AND NOT i.cancelled`,
		targetDocID).Scan(&outstanding)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Zero(), apperror.NewNotFound("invoice", targetDocID)
	}
	if err != nil {
		return types.Zero(), fmt.Errorf("invoice outstanding %s: %w", targetDocID, err)
	}
	return outstanding, nil
}

// IsCancelled reports whether the document has been voided in the target
// system. An unknown id counts as cancelled: the document is gone either way.
func (w *DocumentWriter) IsCancelled(ctx context.Context, kind documents.Kind, targetDocID string) (bool, error) {
	table := "target_journals"
	switch kind {
	case documents.KindSalesInvoice, documents.KindPurchaseInvoice:
		table = "target_invoices"
	case documents.KindPaymentEntry:
		table = "target_payments"
	}

	var cancelled bool
	err := w.txm.GetQuerier(ctx).QueryRow(ctx,
		fmt.Sprintf("SELECT cancelled FROM %s WHERE id::text = $1", table),
		targetDocID).Scan(&cancelled)
	if errors.Is(err, pgx.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("check cancelled %s %s: %w", kind, targetDocID, err)
	}
	return cancelled, nil
}

// FirstCostCenter returns the first non-group cost center of the company.
func (w *DocumentWriter) FirstCostCenter(ctx context.Context, company string) (string, error) {
	var name string
	err := w.txm.GetQuerier(ctx).QueryRow(ctx,
		"SELECT name FROM cost_centers WHERE company = $1 AND NOT is_group ORDER BY name LIMIT 1",
		company).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("first cost center %s: %w", company, err)
	}
	return name, nil
}

// wrapValidation tags non-app errors as target validation failures so the
// poster records them under the right reason.
func wrapValidation(err error) error {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return apperror.NewTargetValidation(err)
}
