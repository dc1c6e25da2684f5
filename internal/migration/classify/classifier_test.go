package classify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"ebbridge/internal/core/types"
	"ebbridge/internal/domain/importlog"
	"ebbridge/internal/eboekhouden"
)

func mutation(kind eboekhouden.Kind) *eboekhouden.Mutation {
	return &eboekhouden.Mutation{
		ID:   42,
		Kind: kind,
		Date: time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
		Lines: []eboekhouden.Line{
			{Amount: types.MustMoney("100.00"), LedgerID: 8000},
		},
	}
}

func TestClassifyRoutes(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		kind eboekhouden.Kind
		want Route
	}{
		{"sales invoice", eboekhouden.KindSalesInvoice, RouteInvoice},
		{"purchase invoice", eboekhouden.KindPurchaseInvoice, RouteInvoice},
		{"money received", eboekhouden.KindMoneyReceived, RouteCash},
		{"money spent", eboekhouden.KindMoneySpent, RouteCash},
		{"memorial", eboekhouden.KindMemorial, RouteJournal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(mutation(tt.kind), now)
			assert.Equal(t, tt.want, got.Route)
		})
	}
}

func TestClassifyPaymentNeedsInvoiceNumber(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	m := mutation(eboekhouden.KindCustomerPayment)
	m.InvoiceNumber = "F2024-001"
	assert.Equal(t, RoutePayment, Classify(m, now).Route)

	m.InvoiceNumber = ""
	assert.Equal(t, RouteCash, Classify(m, now).Route)

	m = mutation(eboekhouden.KindSupplierPayment)
	m.InvoiceNumber = "INK-17"
	assert.Equal(t, RoutePayment, Classify(m, now).Route)
}

func TestClassifyQuarantine(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	t.Run("future dated", func(t *testing.T) {
		m := mutation(eboekhouden.KindSalesInvoice)
		m.Date = now.AddDate(0, 1, 0)
		got := Classify(m, now)
		assert.Equal(t, RouteQuarantine, got.Route)
		assert.Equal(t, importlog.ReasonAmountMismatch, got.Reason)
	})

	t.Run("no lines", func(t *testing.T) {
		m := mutation(eboekhouden.KindSalesInvoice)
		m.Lines = nil
		got := Classify(m, now)
		assert.Equal(t, RouteQuarantine, got.Route)
	})

	t.Run("unknown kind", func(t *testing.T) {
		m := mutation(eboekhouden.KindUnknown)
		got := Classify(m, now)
		assert.Equal(t, RouteQuarantine, got.Route)
		assert.Equal(t, importlog.ReasonUnsupportedKind, got.Reason)
	})
}

func TestCashKindFor(t *testing.T) {
	assert.Equal(t, eboekhouden.KindMoneyReceived, CashKindFor(eboekhouden.KindCustomerPayment))
	assert.Equal(t, eboekhouden.KindMoneySpent, CashKindFor(eboekhouden.KindSupplierPayment))
	assert.Equal(t, eboekhouden.KindMemorial, CashKindFor(eboekhouden.KindMemorial))
}
