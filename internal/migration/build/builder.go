// Package build assembles target-system documents from resolved mutations.
// Builders never post; they produce plain records for the poster.
package build

import (
	"context"
	"fmt"
	"time"

	"ebbridge/internal/config"
	"ebbridge/internal/core/apperror"
	"ebbridge/internal/core/id"
	"ebbridge/internal/core/types"
	"ebbridge/internal/domain/documents"
	"ebbridge/internal/domain/importlog"
	"ebbridge/internal/domain/mappings"
	"ebbridge/internal/eboekhouden"
	"ebbridge/internal/migration/classify"
	"ebbridge/internal/migration/resolve"
)

// Builder turns classified mutations into target documents.
type Builder struct {
	cfg      *config.Config
	resolver *resolve.Resolver
	imported importlog.Repository
	writer   documents.Writer
}

// New creates a Builder.
func New(cfg *config.Config, resolver *resolve.Resolver, imported importlog.Repository, writer documents.Writer) *Builder {
	return &Builder{cfg: cfg, resolver: resolver, imported: imported, writer: writer}
}

// Invoice builds a sales or purchase invoice from an invoice-kind mutation.
func (b *Builder) Invoice(ctx context.Context, m *eboekhouden.Mutation) (*documents.Invoice, error) {
	kind := documents.KindSalesInvoice
	partyKind := mappings.PartyCustomer
	creditTo := b.cfg.DefaultReceivableAccount
	if m.Kind == eboekhouden.KindPurchaseInvoice {
		kind = documents.KindPurchaseInvoice
		partyKind = mappings.PartySupplier
		creditTo = b.cfg.DefaultPayableAccount
	}

	party, err := b.resolver.Party(ctx, m.RelationCode, partyKind)
	if err != nil {
		return nil, err
	}

	inv := &documents.Invoice{
		ID:          id.New(),
		Kind:        kind,
		Company:     b.cfg.Company,
		Party:       party.TargetParty,
		PostingDate: m.Date,
		DueDate:     dueDate(m),
		CreditTo:    creditTo,
		CostCenter:  b.resolver.CostCenter(),
		Remark:      m.Description,
		SourceRef: documents.SourceRef{
			MutationID:    m.ID,
			InvoiceNumber: m.InvoiceNumber,
		},
	}

	taxExempt := true
	total := types.Zero()
	for i, line := range m.Lines {
		ledger, err := b.resolver.Account(ctx, line.LedgerID)
		if err != nil {
			return nil, err
		}
		if ledger.Class == mappings.ClassStock {
			return nil, apperror.NewUnsupportedKind("stock").
				WithDetail("ledger_id", line.LedgerID).
				WithDetail("reason", string(importlog.ReasonStockNotSupported))
		}
		item, err := b.resolver.Item(ctx, ledger)
		if err != nil {
			return nil, err
		}

		// The source signs sales lines as credits; invoice lines are stated
		// positive on both document kinds.
		amount := line.Amount.Abs()
		total = total.Add(amount)
		if line.VATCode != "" && line.VATCode != "GEEN" && line.VATCode != "NONE" {
			taxExempt = false
		}

		inv.Lines = append(inv.Lines, documents.InvoiceLine{
			LineNo:      i + 1,
			Item:        item.TargetItem,
			Account:     ledger.TargetAccount,
			Description: lineDescription(line, m),
			Amount:      amount,
			VATCode:     line.VATCode,
		})
	}
	inv.GrandTotal = total
	if taxExempt {
		inv.TaxTemplate = b.cfg.TaxExemptTemplate
	}

	if err := inv.Validate(ctx); err != nil {
		return nil, err
	}
	return inv, nil
}

// Payment builds a payment entry allocated to the imported invoice the
// mutation references. The second return value is false when no active
// imported invoice matches; the entry is then fully unallocated and the
// caller records invoice_not_found.
func (b *Builder) Payment(ctx context.Context, m *eboekhouden.Mutation) (*documents.PaymentEntry, bool, error) {
	amount := m.Total().Abs()
	p := &documents.PaymentEntry{
		ID:          id.New(),
		Company:     b.cfg.Company,
		Receive:     m.Kind == eboekhouden.KindCustomerPayment,
		PostingDate: m.Date,
		BankAccount: b.resolver.BankAccount(ctx, m),
		Remark:      m.Description,
		Amount:      amount,
		SourceRef: documents.SourceRef{
			MutationID:    m.ID,
			InvoiceNumber: m.InvoiceNumber,
		},
	}
	if p.Receive {
		p.CounterAccount = b.cfg.DefaultReceivableAccount
	} else {
		p.CounterAccount = b.cfg.DefaultPayableAccount
	}
	if m.RelationCode != "" {
		partyKind := mappings.PartyCustomer
		if !p.Receive {
			partyKind = mappings.PartySupplier
		}
		if party, err := b.resolver.Party(ctx, m.RelationCode, partyKind); err == nil {
			p.Party = party.TargetParty
		}
	}

	target, err := b.imported.ActiveByInvoiceNumber(ctx, m.InvoiceNumber)
	if err != nil {
		return nil, false, err
	}
	if target == nil {
		// The cash movement is still captured; it lands unallocated on the
		// suspense side for later reconciliation.
		p.CounterAccount = b.cfg.SuspenseAccount
		if err := p.Validate(ctx); err != nil {
			return nil, false, err
		}
		return p, false, nil
	}

	outstanding, err := b.writer.InvoiceOutstanding(ctx, target.TargetDocID)
	if err != nil {
		return nil, false, fmt.Errorf("invoice outstanding: %w", err)
	}
	allocated := types.Min(amount, outstanding)
	if allocated.Sign() > 0 {
		p.References = append(p.References, documents.PaymentReference{
			TargetDocID: target.TargetDocID,
			Allocated:   allocated,
		})
	}

	if err := p.Validate(ctx); err != nil {
		return nil, false, err
	}
	return p, true, nil
}

// Cash builds an unallocated receipt or payment for bank movements without
// an invoice. The counter side is the first mapped line ledger, falling back
// to the suspense account.
func (b *Builder) Cash(ctx context.Context, m *eboekhouden.Mutation) (*documents.PaymentEntry, error) {
	receive := classify.CashKindFor(m.Kind) == eboekhouden.KindMoneyReceived
	amount := m.Total().Abs()

	counter := b.cfg.SuspenseAccount
	for _, line := range m.Lines {
		ledger, err := b.resolver.Account(ctx, line.LedgerID)
		if err != nil {
			// Cash movements post to suspense instead of quarantining; the
			// proposal queue already captured the unmapped ledger.
			continue
		}
		counter = ledger.TargetAccount
		break
	}

	p := &documents.PaymentEntry{
		ID:             id.New(),
		Company:        b.cfg.Company,
		Receive:        receive,
		PostingDate:    m.Date,
		BankAccount:    b.resolver.BankAccount(ctx, m),
		CounterAccount: counter,
		Remark:         m.Description,
		Amount:         amount,
		SourceRef: documents.SourceRef{
			MutationID:    m.ID,
			InvoiceNumber: m.InvoiceNumber,
		},
	}
	if err := p.Validate(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// Journal builds a balanced journal entry from a memorial mutation. Each
// source line becomes one leg; an unbalanced remainder books against the
// mutation's own ledger.
func (b *Builder) Journal(ctx context.Context, m *eboekhouden.Mutation) (*documents.JournalEntry, error) {
	j := &documents.JournalEntry{
		ID:          id.New(),
		Company:     b.cfg.Company,
		PostingDate: m.Date,
		Remark:      m.Description,
		SourceRef: documents.SourceRef{
			MutationID:    m.ID,
			InvoiceNumber: m.InvoiceNumber,
		},
	}

	balance := types.Zero()
	for i, line := range m.Lines {
		ledger, err := b.resolver.Account(ctx, line.LedgerID)
		if err != nil {
			return nil, err
		}
		leg := documents.JournalLine{
			LineNo:      i + 1,
			Account:     ledger.TargetAccount,
			Description: lineDescription(line, m),
		}
		if line.Amount.Sign() >= 0 {
			leg.Debit = line.Amount
		} else {
			leg.Credit = line.Amount.Neg()
		}
		balance = balance.Add(line.Amount)
		j.Lines = append(j.Lines, leg)
	}

	if balance.Sign() != 0 && m.LedgerID != 0 {
		ledger, err := b.resolver.Account(ctx, m.LedgerID)
		if err != nil {
			return nil, err
		}
		leg := documents.JournalLine{
			LineNo:  len(j.Lines) + 1,
			Account: ledger.TargetAccount,
		}
		if balance.Sign() > 0 {
			leg.Credit = balance
		} else {
			leg.Debit = balance.Neg()
		}
		j.Lines = append(j.Lines, leg)
	}

	if err := j.Validate(ctx); err != nil {
		return nil, err
	}
	return j, nil
}

// dueDate clamps the payment terms so the due date never precedes posting.
// Historical source data carries zero and negative terms.
func dueDate(m *eboekhouden.Mutation) time.Time {
	days := m.PaymentTermDays
	if days < 0 {
		days = 0
	}
	return m.Date.AddDate(0, 0, days)
}

func lineDescription(line eboekhouden.Line, m *eboekhouden.Mutation) string {
	if line.Description != "" {
		return line.Description
	}
	return m.Description
}
