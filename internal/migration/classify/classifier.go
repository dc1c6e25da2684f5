// Package classify routes mutations onto their document-building path.
// The kind taxonomy itself is normalized at the API client; this component
// validates the mutation and decides which builder handles it.
package classify

import (
	"time"

	"ebbridge/internal/domain/importlog"
	"ebbridge/internal/eboekhouden"
)

// Route is the building path a mutation takes.
type Route int

const (
	// RouteInvoice produces a sales or purchase invoice.
	RouteInvoice Route = iota
	// RoutePayment produces a payment entry allocated to an invoice.
	RoutePayment
	// RouteCash produces an unallocated receipt or payment.
	RouteCash
	// RouteJournal produces a balanced journal entry.
	RouteJournal
	// RouteQuarantine stops the mutation before building.
	RouteQuarantine
)

// Result is the classification outcome for one mutation.
type Result struct {
	Route  Route
	Reason importlog.FailureReason // set when Route == RouteQuarantine
	Detail string
}

// Classify assigns a mutation to exactly one route. now is the run's
// execution date; mutations dated after it violate the source invariant and
// are quarantined as source data errors.
func Classify(m *eboekhouden.Mutation, now time.Time) Result {
	if m.Date.After(now) {
		return Result{
			Route:  RouteQuarantine,
			Reason: importlog.ReasonAmountMismatch,
			Detail: "mutation date is after the run execution date",
		}
	}
	if len(m.Lines) == 0 {
		return Result{
			Route:  RouteQuarantine,
			Reason: importlog.ReasonAmountMismatch,
			Detail: "mutation has no lines",
		}
	}

	switch m.Kind {
	case eboekhouden.KindSalesInvoice, eboekhouden.KindPurchaseInvoice:
		return Result{Route: RouteInvoice}

	case eboekhouden.KindCustomerPayment, eboekhouden.KindSupplierPayment:
		// An invoice payment without an invoice number cannot allocate;
		// capture the cash movement instead.
		if m.InvoiceNumber == "" {
			return Result{Route: RouteCash}
		}
		return Result{Route: RoutePayment}

	case eboekhouden.KindMoneyReceived, eboekhouden.KindMoneySpent:
		return Result{Route: RouteCash}

	case eboekhouden.KindMemorial:
		return Result{Route: RouteJournal}

	default:
		return Result{
			Route:  RouteQuarantine,
			Reason: importlog.ReasonUnsupportedKind,
			Detail: string(m.Kind),
		}
	}
}

// CashKindFor returns the money-movement kind that captures the cash side of
// an invoice payment routed to the cash builder.
func CashKindFor(kind eboekhouden.Kind) eboekhouden.Kind {
	switch kind {
	case eboekhouden.KindCustomerPayment:
		return eboekhouden.KindMoneyReceived
	case eboekhouden.KindSupplierPayment:
		return eboekhouden.KindMoneySpent
	}
	return kind
}
