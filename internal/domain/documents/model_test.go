package documents

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ebbridge/internal/core/apperror"
	"ebbridge/internal/core/id"
	"ebbridge/internal/core/types"
)

func validInvoice() *Invoice {
	date := time.Date(2023, 4, 12, 0, 0, 0, 0, time.UTC)
	return &Invoice{
		ID:          id.New(),
		Kind:        KindSalesInvoice,
		Company:     "Testco",
		Party:       "Vereniging Noord",
		PostingDate: date,
		DueDate:     date.AddDate(0, 0, 14),
		CreditTo:    "1300 - Debtors - TC",
		GrandTotal:  types.MustMoney("150.00"),
		Lines: []InvoiceLine{{
			LineNo:  1,
			Item:    "Contributie",
			Account: "8000 - Contributie - TC",
			Amount:  types.MustMoney("150.00"),
		}},
	}
}

func TestInvoiceValidate(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, validInvoice().Validate(ctx))

	t.Run("line without account", func(t *testing.T) {
		inv := validInvoice()
		inv.Lines[0].Account = ""
		err := inv.Validate(ctx)
		require.Error(t, err)
		assert.True(t, apperror.Is(err, apperror.CodeValidation))
	})

	t.Run("line total mismatch", func(t *testing.T) {
		inv := validInvoice()
		inv.GrandTotal = types.MustMoney("151.00")
		err := inv.Validate(ctx)
		require.Error(t, err)
	})

	t.Run("due date before posting", func(t *testing.T) {
		inv := validInvoice()
		inv.DueDate = inv.PostingDate.AddDate(0, 0, -1)
		require.Error(t, inv.Validate(ctx))
	})
}

func TestPaymentEntryValidate(t *testing.T) {
	ctx := context.Background()
	p := &PaymentEntry{
		ID:             id.New(),
		Company:        "Testco",
		Receive:        true,
		PostingDate:    time.Date(2023, 4, 20, 0, 0, 0, 0, time.UTC),
		BankAccount:    "1000 - Bank - TC",
		CounterAccount: "1300 - Debtors - TC",
		Amount:         types.MustMoney("150.00"),
	}
	require.NoError(t, p.Validate(ctx))

	p.References = []PaymentReference{{TargetDocID: "INV-1", Allocated: types.MustMoney("151.00")}}
	err := p.Validate(ctx)
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeValidation))
}
