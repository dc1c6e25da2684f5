// Package resolve materializes target accounts, parties, items and the cost
// center for classified mutations. Mappings are authoritative; heuristics
// only feed the proposal queue.
package resolve

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"ebbridge/internal/config"
	"ebbridge/internal/core/apperror"
	"ebbridge/internal/core/id"
	"ebbridge/internal/domain/documents"
	"ebbridge/internal/domain/mappings"
	"ebbridge/internal/eboekhouden"
	"ebbridge/pkg/logger"
)

// Resolver resolves source codes against the mapping tables.
type Resolver struct {
	cfg      *config.Config
	mappings mappings.Repository
	client   eboekhouden.Client
	writer   documents.Writer
	heur     *Heuristics

	costCenter  string
	ledgerNames map[int64]string
}

// New creates a Resolver. Preflight must run before the first mutation.
func New(cfg *config.Config, repo mappings.Repository, client eboekhouden.Client, writer documents.Writer) (*Resolver, error) {
	heur, err := NewHeuristics(cfg.HeuristicRules)
	if err != nil {
		return nil, err
	}
	return &Resolver{
		cfg:         cfg,
		mappings:    repo,
		client:      client,
		writer:      writer,
		heur:        heur,
		ledgerNames: map[int64]string{},
	}, nil
}

// Preflight resolves run-wide requirements. A missing cost center aborts the
// run before anything is posted.
func (r *Resolver) Preflight(ctx context.Context) error {
	cc, err := r.writer.FirstCostCenter(ctx, r.cfg.Company)
	if err != nil {
		return fmt.Errorf("resolve cost center: %w", err)
	}
	if cc == "" {
		return apperror.NewPreflight("no non-group cost center exists for company").
			WithDetail("company", r.cfg.Company)
	}
	r.costCenter = cc
	return nil
}

// CostCenter returns the cost center resolved by Preflight.
func (r *Resolver) CostCenter() string {
	return r.costCenter
}

// Account resolves a source ledger to its mapping. An unmapped ledger writes
// a proposal and fails with unmapped_ledger; the mutation is quarantined, not
// posted.
func (r *Resolver) Account(ctx context.Context, ledgerID int64) (*mappings.LedgerMapping, error) {
	m, err := r.mappings.LedgerByID(ctx, ledgerID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		// Some installations key mappings by the human-readable ledger
		// number rather than the internal id.
		m, err = r.mappings.LedgerByNumber(ctx, strconv.FormatInt(ledgerID, 10))
		if err != nil {
			return nil, err
		}
	}
	if m != nil {
		return m, nil
	}

	r.proposeLedger(ctx, ledgerID)
	return nil, apperror.NewUnmappedLedger(ledgerID)
}

// proposeLedger writes a review-queue row for an unmapped ledger. Failures
// here are logged and swallowed; the quarantine outcome already captures the
// mutation.
func (r *Resolver) proposeLedger(ctx context.Context, ledgerID int64) {
	number := strconv.FormatInt(ledgerID, 10)
	class := r.heur.Suggest(ledgerID, number, r.LedgerName(ctx, ledgerID))
	for _, bankLedger := range r.cfg.DefaultBankLedgers {
		if ledgerID == bankLedger {
			class = mappings.ClassBank
			break
		}
	}

	proposal := &mappings.MappingProposal{
		ID:         id.New(),
		Kind:       mappings.ProposalLedger,
		SourceCode: number,
		Class:      class,
		Reason:     "encountered during import with no mapping",
		Status:     mappings.ProposalPending,
		CreatedAt:  time.Now().UTC(),
	}
	if err := r.mappings.CreateProposal(ctx, proposal); err != nil {
		logger.Warn(ctx, "failed to write ledger proposal",
			"ledger_id", ledgerID, "error", err)
	}
}

// LedgerName returns the lowercased chart-of-accounts name of a source
// ledger, cached per run. Heuristic rules match on this name; a lookup
// failure yields the empty string so only the number rules apply.
func (r *Resolver) LedgerName(ctx context.Context, ledgerID int64) string {
	if name, ok := r.ledgerNames[ledgerID]; ok {
		return name
	}
	name := ""
	info, err := r.client.FetchLedger(ctx, ledgerID)
	if err != nil {
		logger.Warn(ctx, "ledger lookup failed", "ledger_id", ledgerID, "error", err)
	} else if info != nil {
		name = strings.ToLower(info.Name)
	}
	r.ledgerNames[ledgerID] = name
	return name
}

// Party resolves a source relation to a customer or supplier. Missing
// mappings are created from the API relation's display name; a relation the
// API does not know quarantines the mutation.
func (r *Resolver) Party(ctx context.Context, relationCode string, kind mappings.PartyKind) (*mappings.PartyMapping, error) {
	if relationCode == "" {
		return nil, apperror.NewUnmappedRelation(relationCode)
	}

	m, err := r.mappings.PartyByCode(ctx, relationCode)
	if err != nil {
		return nil, err
	}
	if m != nil {
		// A code maps to one kind only; reuse whatever side exists.
		return m, nil
	}

	info, err := r.client.FetchRelation(ctx, relationCode)
	if err != nil {
		return nil, err
	}
	if info == nil || strings.TrimSpace(info.Name) == "" {
		// Never post under a placeholder party.
		return nil, apperror.NewUnmappedRelation(relationCode)
	}

	created := &mappings.PartyMapping{
		SourceCode:  relationCode,
		Kind:        kind,
		TargetParty: info.Name,
		DisplayName: info.Name,
	}
	if info.Kind == eboekhouden.PartyCustomer {
		created.Kind = mappings.PartyCustomer
	} else if info.Kind == eboekhouden.PartySupplier {
		created.Kind = mappings.PartySupplier
	}
	if err := r.mappings.CreateParty(ctx, created); err != nil {
		return nil, err
	}
	logger.Info(ctx, "created party from relation",
		"relation_code", relationCode, "party", created.TargetParty)
	return created, nil
}

// Item resolves the invoice-line item for a ledger. A missing mapping gets a
// fallback whose name derives from the ledger name, so invoices stay
// searchable by meaning rather than raw codes.
func (r *Resolver) Item(ctx context.Context, ledger *mappings.LedgerMapping) (*mappings.ItemMapping, error) {
	m, err := r.mappings.ItemByLedger(ctx, ledger.SourceLedgerID)
	if err != nil {
		return nil, err
	}
	if m != nil {
		return m, nil
	}
	if ledger.DefaultItem != "" {
		m = &mappings.ItemMapping{
			SourceLedgerID: ledger.SourceLedgerID,
			TargetItem:     ledger.DefaultItem,
			ItemName:       ledger.DefaultItem,
		}
	} else {
		name := itemNameFor(ledger)
		m = &mappings.ItemMapping{
			SourceLedgerID: ledger.SourceLedgerID,
			TargetItem:     name,
			ItemName:       name,
		}
	}
	if err := r.mappings.CreateItem(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// BankAccount picks the bank side of a money movement. Unresolvable bank
// ledgers land on the suspense account instead of failing the mutation.
func (r *Resolver) BankAccount(ctx context.Context, m *eboekhouden.Mutation) string {
	if m.LedgerID != 0 {
		if lm, err := r.mappings.LedgerByID(ctx, m.LedgerID); err == nil && lm != nil {
			if lm.Class == mappings.ClassBank {
				return lm.TargetAccount
			}
		}
		for _, bankLedger := range r.cfg.DefaultBankLedgers {
			if m.LedgerID == bankLedger {
				if lm, err := r.mappings.LedgerByID(ctx, bankLedger); err == nil && lm != nil {
					return lm.TargetAccount
				}
			}
		}
	}
	return r.cfg.SuspenseAccount
}

func itemNameFor(ledger *mappings.LedgerMapping) string {
	if ledger.SourceName != "" {
		return ledger.SourceName
	}
	// The target account key is itself human-readable; the raw numeric code
	// never becomes an item name.
	return ledger.TargetAccount
}
