// Package documents defines the target-system document records produced by
// the import pipeline. Records are plain structs; the target persistence
// layer consumes them through the Writer interface and is otherwise unaware
// of the pipeline.
package documents

import (
	"context"
	"time"

	"ebbridge/internal/core/apperror"
	"ebbridge/internal/core/id"
	"ebbridge/internal/core/types"
)

// Kind identifies the target document type.
type Kind string

const (
	KindSalesInvoice    Kind = "sales_invoice"
	KindPurchaseInvoice Kind = "purchase_invoice"
	KindPaymentEntry    Kind = "payment_entry"
	KindJournalEntry    Kind = "journal_entry"
)

// SourceRef carries the upstream identifiers written to every document.
// These two fields are the sole basis of idempotency.
type SourceRef struct {
	MutationID    int64  `db:"source_mutation_id" json:"sourceMutationId"`
	InvoiceNumber string `db:"source_invoice_number" json:"sourceInvoiceNumber,omitempty"`
}

// InvoiceLine is one row of a sales or purchase invoice. The item carries the
// line; its name derives from the account name so posted invoices stay
// searchable by meaning.
type InvoiceLine struct {
	LineNo      int         `db:"line_no" json:"lineNo"`
	Item        string      `db:"item" json:"item"`
	Account     string      `db:"account" json:"account"`
	Description string      `db:"description" json:"description,omitempty"`
	Amount      types.Money `db:"amount" json:"amount"`
	VATCode     string      `db:"vat_code" json:"vatCode,omitempty"`
}

// Invoice is a customer (sales) or supplier (purchase) invoice.
type Invoice struct {
	ID          id.ID     `db:"id" json:"id"`
	Kind        Kind      `db:"kind" json:"kind"`
	Company     string    `db:"company" json:"company"`
	Party       string    `db:"party" json:"party"`
	PostingDate time.Time `db:"posting_date" json:"postingDate"`
	DueDate     time.Time `db:"due_date" json:"dueDate"`

	// CreditTo is the receivable (sales) or payable (purchase) account.
	CreditTo    string `db:"credit_to" json:"creditTo"`
	CostCenter  string `db:"cost_center" json:"costCenter"`
	TaxTemplate string `db:"tax_template" json:"taxTemplate,omitempty"`
	Remark      string `db:"remark" json:"remark,omitempty"`

	SourceRef

	GrandTotal types.Money   `db:"grand_total" json:"grandTotal"`
	Lines      []InvoiceLine `db:"-" json:"lines"`
}

// Validate checks the invariants the target system enforces on submission.
func (inv *Invoice) Validate(ctx context.Context) error {
	if inv.Kind != KindSalesInvoice && inv.Kind != KindPurchaseInvoice {
		return apperror.NewValidation("invoice kind must be sales or purchase")
	}
	if inv.Company == "" {
		return apperror.NewValidation("company is required")
	}
	if inv.Party == "" {
		return apperror.NewValidation("party is required")
	}
	if len(inv.Lines) == 0 {
		return apperror.NewValidation("invoice requires at least one line")
	}
	if inv.DueDate.Before(inv.PostingDate) {
		return apperror.NewValidation("due date precedes posting date")
	}

	total := types.Zero()
	for _, l := range inv.Lines {
		if l.Account == "" {
			return apperror.NewValidation("invoice line has no account").
				WithDetail("line_no", l.LineNo)
		}
		total = total.Add(l.Amount)
	}
	if !types.SameAmount(total, inv.GrandTotal) {
		return apperror.NewAmountMismatch(inv.MutationID).
			WithDetail("line_total", total.String()).
			WithDetail("grand_total", inv.GrandTotal.String())
	}
	return nil
}

// PaymentReference allocates part of a payment to one invoice.
type PaymentReference struct {
	TargetDocID string      `db:"target_doc_id" json:"targetDocId"`
	Allocated   types.Money `db:"allocated" json:"allocated"`
}

// PaymentEntry records money received from a customer or paid to a supplier.
// The sum of allocations never exceeds Amount; the remainder stays
// unallocated on the same entry.
type PaymentEntry struct {
	ID          id.ID     `db:"id" json:"id"`
	Company     string    `db:"company" json:"company"`
	Party       string    `db:"party" json:"party,omitempty"`
	Receive     bool      `db:"receive" json:"receive"` // true: money in
	PostingDate time.Time `db:"posting_date" json:"postingDate"`
	BankAccount string    `db:"bank_account" json:"bankAccount"`

	// CounterAccount is the receivable/payable being settled, or the
	// suspense account for unresolvable cash movements.
	CounterAccount string `db:"counter_account" json:"counterAccount"`
	Remark         string `db:"remark" json:"remark,omitempty"`

	SourceRef

	Amount     types.Money        `db:"amount" json:"amount"`
	References []PaymentReference `db:"-" json:"references,omitempty"`
}

// Unallocated returns the part of the payment not tied to any invoice.
func (p *PaymentEntry) Unallocated() types.Money {
	rest := p.Amount
	for _, ref := range p.References {
		rest = rest.Sub(ref.Allocated)
	}
	return rest
}

// Validate checks payment invariants before submission.
func (p *PaymentEntry) Validate(ctx context.Context) error {
	if p.Company == "" {
		return apperror.NewValidation("company is required")
	}
	if p.BankAccount == "" {
		return apperror.NewValidation("bank account is required")
	}
	if p.Amount.Sign() <= 0 {
		return apperror.NewValidation("payment amount must be positive")
	}
	if p.Unallocated().Sign() < 0 {
		return apperror.NewValidation("allocations exceed payment amount").
			WithDetail("amount", p.Amount.String())
	}
	return nil
}

// JournalLine is one leg of a journal entry. Exactly one of Debit/Credit is
// non-zero.
type JournalLine struct {
	LineNo      int         `db:"line_no" json:"lineNo"`
	Account     string      `db:"account" json:"account"`
	Debit       types.Money `db:"debit" json:"debit"`
	Credit      types.Money `db:"credit" json:"credit"`
	Description string      `db:"description" json:"description,omitempty"`
}

// JournalEntry is a balanced bookkeeping entry (memorial mutations).
type JournalEntry struct {
	ID          id.ID     `db:"id" json:"id"`
	Company     string    `db:"company" json:"company"`
	PostingDate time.Time `db:"posting_date" json:"postingDate"`
	Remark      string    `db:"remark" json:"remark,omitempty"`

	SourceRef

	Lines []JournalLine `db:"-" json:"lines"`
}

// Validate checks the debit/credit balance.
func (j *JournalEntry) Validate(ctx context.Context) error {
	if j.Company == "" {
		return apperror.NewValidation("company is required")
	}
	if len(j.Lines) == 0 {
		return apperror.NewValidation("journal entry requires lines")
	}
	debit, credit := types.Zero(), types.Zero()
	for _, l := range j.Lines {
		debit = debit.Add(l.Debit)
		credit = credit.Add(l.Credit)
	}
	if !types.SameAmount(debit, credit) {
		return apperror.NewValidation("journal entry does not balance").
			WithDetail("debit", debit.String()).
			WithDetail("credit", credit.String())
	}
	return nil
}
