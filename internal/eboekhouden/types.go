// Package eboekhouden provides the client for the e-Boekhouden bookkeeping
// API. Two transports exist: the legacy SOAP service and the current REST
// API. Both are normalized to the same Mutation shape; the Dutch field and
// kind names of the wire formats do not leak past this package.
package eboekhouden

import (
	"context"
	"time"

	"ebbridge/internal/core/types"
)

// Kind is the normalized classification of a mutation. It fully determines
// the document path a mutation takes through the import pipeline.
type Kind string

const (
	KindSalesInvoice    Kind = "sales_invoice"
	KindPurchaseInvoice Kind = "purchase_invoice"
	KindCustomerPayment Kind = "customer_payment"
	KindSupplierPayment Kind = "supplier_payment"
	KindMoneyReceived   Kind = "money_received"
	KindMoneySpent      Kind = "money_spent"
	KindMemorial        Kind = "memorial"
	KindUnknown         Kind = "unknown"
)

// IsInvoice reports whether the kind produces an invoice document.
func (k Kind) IsInvoice() bool {
	return k == KindSalesInvoice || k == KindPurchaseInvoice
}

// IsInvoicePayment reports whether the kind is a payment against an invoice.
func (k Kind) IsInvoicePayment() bool {
	return k == KindCustomerPayment || k == KindSupplierPayment
}

// IsMoney reports whether the kind is a bank movement without an invoice.
func (k Kind) IsMoney() bool {
	return k == KindMoneyReceived || k == KindMoneySpent
}

// kindBySoort maps the legacy SOAP "Soort" values. The REST transport maps
// its numeric type codes onto the same table.
var kindBySoort = map[string]Kind{
	"FactuurVerstuurd":           KindSalesInvoice,
	"FactuurOntvangen":           KindPurchaseInvoice,
	"FactuurbetalingOntvangen":   KindCustomerPayment,
	"FactuurbetalingVerstuurd":   KindSupplierPayment,
	"GeldOntvangen":              KindMoneyReceived,
	"GeldUitgegeven":             KindMoneySpent,
	"Memoriaal":                  KindMemorial,
	"BeginBalans":                KindUnknown,
}

// KindOfSoort normalizes a raw source kind string. Unrecognized values map
// to KindUnknown rather than erroring; the pipeline quarantines them.
func KindOfSoort(soort string) Kind {
	if k, ok := kindBySoort[soort]; ok {
		return k
	}
	return KindUnknown
}

// Line is one row of a mutation. Amount is signed; the sign convention
// follows the source (credit positive on sales, debit positive on purchases).
type Line struct {
	Amount      types.Money `json:"amount"`
	LedgerID    int64       `json:"ledger_id"`
	VATCode     string      `json:"vat_code"`
	Description string      `json:"description"`
}

// Mutation is one atomic bookkeeping event, normalized from either transport.
type Mutation struct {
	ID              int64       `json:"id"`
	Kind            Kind        `json:"kind"`
	Date            time.Time   `json:"date"`
	InvoiceNumber   string      `json:"invoice_number,omitempty"`
	RelationCode    string      `json:"relation_code,omitempty"`
	LedgerID        int64       `json:"ledger_id,omitempty"`
	Description     string      `json:"description,omitempty"`
	PaymentTermDays int         `json:"payment_term_days,omitempty"`
	Lines           []Line      `json:"lines"`
}

// Total sums the line amounts. The top-level amount of the wire formats is
// absent for several kinds, so the line sum is authoritative everywhere.
func (m *Mutation) Total() types.Money {
	total := types.Zero()
	for _, l := range m.Lines {
		total = total.Add(l.Amount)
	}
	return total
}

// PartyKind hints at the side of a relation in the source system.
type PartyKind string

const (
	PartyCustomer PartyKind = "customer"
	PartySupplier PartyKind = "supplier"
	PartyUnknown  PartyKind = "unknown"
)

// PartyInfo is the relation record returned by FetchRelation.
type PartyInfo struct {
	Code string
	Name string
	Kind PartyKind
}

// LedgerInfo is the chart-of-accounts record returned by FetchLedger. Name
// carries the human-readable account description the source shows operators.
type LedgerInfo struct {
	Code     int64
	Name     string
	Category string
}

// Window bounds a fetch: either a date range or a mutation id range.
// Exactly one of the two pairs is set.
type Window struct {
	FromDate time.Time
	ToDate   time.Time
	FromID   int64
	ToID     int64
}

// ByID reports whether the window is an id range.
func (w Window) ByID() bool {
	return w.FromID > 0 || w.ToID > 0
}

// Contains reports whether a mutation id falls inside an id window.
// Date windows contain every id; the upstream already filtered by date.
func (w Window) Contains(id int64) bool {
	if !w.ByID() {
		return true
	}
	if w.FromID > 0 && id < w.FromID {
		return false
	}
	if w.ToID > 0 && id > w.ToID {
		return false
	}
	return true
}

// Resume returns the window that remains after lastDone has been processed.
// Used to report a resumable window when a run aborts mid-way.
func (w Window) Resume(lastDone int64) Window {
	next := w
	next.FromID = lastDone + 1
	if !w.ByID() {
		// Date windows resume by id; ToID stays open and the date bounds
		// keep filtering on the upstream side.
		next.ToID = 0
	}
	return next
}

// MutationSeq is a restartable, ordered sequence of mutations.
// Next returns (nil, nil) when the sequence is exhausted. Sequences fetch
// page by page; a page fetch that exhausts its retries surfaces the
// transport error here, leaving already-returned mutations processed.
type MutationSeq interface {
	Next(ctx context.Context) (*Mutation, error)
}

// Client is the single operation surface over both transports.
type Client interface {
	// OpenSession authenticates. The session lives for one run.
	OpenSession(ctx context.Context) error

	// FetchMutations returns a lazy sequence over the window, ordered by
	// mutation id ascending.
	FetchMutations(ctx context.Context, w Window) (MutationSeq, error)

	// FetchHighestMutationID bounds an open-ended run.
	FetchHighestMutationID(ctx context.Context) (int64, error)

	// FetchRelation returns (nil, nil) when the relation does not exist.
	FetchRelation(ctx context.Context, relationCode string) (*PartyInfo, error)

	// FetchLedger returns (nil, nil) when the ledger does not exist.
	FetchLedger(ctx context.Context, ledgerID int64) (*LedgerInfo, error)

	// Close releases the session.
	Close(ctx context.Context) error
}
