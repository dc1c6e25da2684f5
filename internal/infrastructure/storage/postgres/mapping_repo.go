package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"

	"ebbridge/internal/core/id"
	"ebbridge/internal/domain/mappings"
)

// MappingRepo is the PostgreSQL implementation of mappings.Repository.
type MappingRepo struct {
	txm *TxManager
}

var _ mappings.Repository = (*MappingRepo)(nil)

// NewMappingRepo creates a MappingRepo.
func NewMappingRepo(txm *TxManager) *MappingRepo {
	return &MappingRepo{txm: txm}
}

func (r *MappingRepo) builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

var ledgerMappingCols = []string{"source_ledger_id", "source_number", "source_name", "target_account", "class", "default_item"}

// LedgerByID looks up a ledger mapping by source ledger id.
func (r *MappingRepo) LedgerByID(ctx context.Context, sourceLedgerID int64) (*mappings.LedgerMapping, error) {
	q := r.builder().
		Select(ledgerMappingCols...).
		From("ledger_mappings").
		Where(squirrel.Eq{"source_ledger_id": sourceLedgerID})
	return scanOne[mappings.LedgerMapping](ctx, r.txm, q, "ledger mapping")
}

// LedgerByNumber looks up a ledger mapping by source ledger number.
func (r *MappingRepo) LedgerByNumber(ctx context.Context, sourceNumber string) (*mappings.LedgerMapping, error) {
	q := r.builder().
		Select(ledgerMappingCols...).
		From("ledger_mappings").
		Where(squirrel.Eq{"source_number": sourceNumber})
	return scanOne[mappings.LedgerMapping](ctx, r.txm, q, "ledger mapping")
}

// PartyByCode looks up a party mapping by source relation code.
func (r *MappingRepo) PartyByCode(ctx context.Context, sourceCode string) (*mappings.PartyMapping, error) {
	q := r.builder().
		Select("source_code", "kind", "target_party", "display_name").
		From("party_mappings").
		Where(squirrel.Eq{"source_code": sourceCode})
	return scanOne[mappings.PartyMapping](ctx, r.txm, q, "party mapping")
}

// ItemByLedger looks up the item mapping for a source ledger.
func (r *MappingRepo) ItemByLedger(ctx context.Context, sourceLedgerID int64) (*mappings.ItemMapping, error) {
	q := r.builder().
		Select("source_ledger_id", "target_item", "item_name").
		From("item_mappings").
		Where(squirrel.Eq{"source_ledger_id": sourceLedgerID})
	return scanOne[mappings.ItemMapping](ctx, r.txm, q, "item mapping")
}

// CreateLedger inserts a ledger mapping.
func (r *MappingRepo) CreateLedger(ctx context.Context, m *mappings.LedgerMapping) error {
	q := r.builder().
		Insert("ledger_mappings").
		Columns(ledgerMappingCols...).
		Values(m.SourceLedgerID, m.SourceNumber, m.SourceName, m.TargetAccount, m.Class, m.DefaultItem)
	return execInsert(ctx, r.txm, q, "ledger mapping")
}

// CreateParty inserts a party mapping.
func (r *MappingRepo) CreateParty(ctx context.Context, m *mappings.PartyMapping) error {
	q := r.builder().
		Insert("party_mappings").
		Columns("source_code", "kind", "target_party", "display_name").
		Values(m.SourceCode, m.Kind, m.TargetParty, m.DisplayName)
	return execInsert(ctx, r.txm, q, "party mapping")
}

// CreateItem inserts an item mapping.
func (r *MappingRepo) CreateItem(ctx context.Context, m *mappings.ItemMapping) error {
	q := r.builder().
		Insert("item_mappings").
		Columns("source_ledger_id", "target_item", "item_name").
		Values(m.SourceLedgerID, m.TargetItem, m.ItemName)
	return execInsert(ctx, r.txm, q, "item mapping")
}

// CreateProposal inserts a mapping proposal. On a duplicate pending proposal
// for the same kind and source code the insert is a no-op, so repeated runs
// do not flood the review queue.
func (r *MappingRepo) CreateProposal(ctx context.Context, p *mappings.MappingProposal) error {
	if id.IsNil(p.ID) {
		p.ID = id.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.Status == "" {
		p.Status = mappings.ProposalPending
	}

	q := r.builder().
		Insert("mapping_proposals").
		Columns("id", "kind", "source_code", "proposed", "class", "reason", "status", "created_at").
		Values(p.ID, p.Kind, p.SourceCode, p.Proposed, p.Class, p.Reason, p.Status, p.CreatedAt).
		Suffix("ON CONFLICT (kind, source_code) WHERE status = 'pending' DO NOTHING")

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert proposal: %w", err)
	}
	if _, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert proposal: %w", err)
	}
	return nil
}

// ListProposals returns proposals in the given status, newest first.
func (r *MappingRepo) ListProposals(ctx context.Context, status mappings.ProposalStatus) ([]mappings.MappingProposal, error) {
	q := r.builder().
		Select("id", "kind", "source_code", "proposed", "class", "reason", "status", "created_at").
		From("mapping_proposals").
		Where(squirrel.Eq{"status": status}).
		OrderBy("created_at DESC")

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list proposals: %w", err)
	}

	var out []mappings.MappingProposal
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &out, sql, args...); err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	return out, nil
}

// GetProposal returns one proposal by id.
func (r *MappingRepo) GetProposal(ctx context.Context, proposalID id.ID) (*mappings.MappingProposal, error) {
	q := r.builder().
		Select("id", "kind", "source_code", "proposed", "class", "reason", "status", "created_at").
		From("mapping_proposals").
		Where(squirrel.Eq{"id": proposalID})
	return scanOne[mappings.MappingProposal](ctx, r.txm, q, "proposal")
}

// UpdateProposalStatus moves a proposal to a new review status.
func (r *MappingRepo) UpdateProposalStatus(ctx context.Context, proposalID id.ID, status mappings.ProposalStatus) error {
	q := r.builder().
		Update("mapping_proposals").
		Set("status", status).
		Where(squirrel.Eq{"id": proposalID})

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build update proposal: %w", err)
	}
	tag, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update proposal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// scanOne runs a single-row select and returns (nil, nil) when no row exists.
func scanOne[T any](ctx context.Context, txm *TxManager, q squirrel.SelectBuilder, what string) (*T, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select %s: %w", what, err)
	}

	var row T
	err = pgxscan.Get(ctx, txm.GetQuerier(ctx), &row, sql, args...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", what, err)
	}
	return &row, nil
}

func execInsert(ctx context.Context, txm *TxManager, q squirrel.InsertBuilder, what string) error {
	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert %s: %w", what, err)
	}
	if _, err := txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert %s: %w", what, err)
	}
	return nil
}
