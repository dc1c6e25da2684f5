package mappings_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ebbridge/internal/core/apperror"
	"ebbridge/internal/core/id"
	"ebbridge/internal/domain/mappings"
	"ebbridge/internal/migration/migrationtest"
)

func pendingProposal(kind mappings.ProposalKind, sourceCode, proposed string, class mappings.AccountClass) *mappings.MappingProposal {
	return &mappings.MappingProposal{
		ID:         id.New(),
		Kind:       kind,
		SourceCode: sourceCode,
		Proposed:   proposed,
		Class:      class,
		Status:     mappings.ProposalPending,
		CreatedAt:  time.Now().UTC(),
	}
}

func TestApproveLedgerProposal(t *testing.T) {
	repo := migrationtest.NewFakeMappings()
	svc := mappings.NewService(repo, migrationtest.FakeTxManager{})
	ctx := context.Background()

	p := pendingProposal(mappings.ProposalLedger, "8020", "8020 - Donations - TC", mappings.ClassIncome)
	require.NoError(t, repo.CreateProposal(ctx, p))

	approved, err := svc.Approve(ctx, p.ID, "")
	require.NoError(t, err)
	assert.Equal(t, mappings.ProposalApproved, approved.Status)

	m, err := repo.LedgerByID(ctx, 8020)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "8020 - Donations - TC", m.TargetAccount)
	assert.Equal(t, mappings.ClassIncome, m.Class)

	// The proposal left the pending queue.
	pending, err := svc.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestApprovePartyProposal(t *testing.T) {
	repo := migrationtest.NewFakeMappings()
	svc := mappings.NewService(repo, migrationtest.FakeTxManager{})
	ctx := context.Background()

	customer := pendingProposal(mappings.ProposalParty, "REL009", "Stichting Zuid", "")
	require.NoError(t, repo.CreateProposal(ctx, customer))
	_, err := svc.Approve(ctx, customer.ID, "")
	require.NoError(t, err)

	m, err := repo.PartyByCode(ctx, "REL009")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, mappings.PartyCustomer, m.Kind)

	supplier := pendingProposal(mappings.ProposalParty, "REL010", "Drukkerij West", mappings.ClassPayable)
	require.NoError(t, repo.CreateProposal(ctx, supplier))
	_, err = svc.Approve(ctx, supplier.ID, "")
	require.NoError(t, err)

	m, err = repo.PartyByCode(ctx, "REL010")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, mappings.PartySupplier, m.Kind)
}

func TestApproveRejectsEmptyTarget(t *testing.T) {
	repo := migrationtest.NewFakeMappings()
	svc := mappings.NewService(repo, migrationtest.FakeTxManager{})
	ctx := context.Background()

	// Engine-written proposals carry no suggested target.
	p := pendingProposal(mappings.ProposalLedger, "9999", "", mappings.ClassOther)
	require.NoError(t, repo.CreateProposal(ctx, p))

	_, err := svc.Approve(ctx, p.ID, "")
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeValidation))

	// No half-mapped ledger was created and the proposal stays pending.
	m, err := repo.LedgerByID(ctx, 9999)
	require.NoError(t, err)
	assert.Nil(t, m)
	pending, err := svc.Pending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestApproveWithSuppliedTarget(t *testing.T) {
	repo := migrationtest.NewFakeMappings()
	svc := mappings.NewService(repo, migrationtest.FakeTxManager{})
	ctx := context.Background()

	p := pendingProposal(mappings.ProposalLedger, "9999", "", mappings.ClassExpense)
	require.NoError(t, repo.CreateProposal(ctx, p))

	approved, err := svc.Approve(ctx, p.ID, "4999 - Other expenses - TC")
	require.NoError(t, err)
	assert.Equal(t, "4999 - Other expenses - TC", approved.Proposed)

	m, err := repo.LedgerByID(ctx, 9999)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "4999 - Other expenses - TC", m.TargetAccount)
	assert.Equal(t, mappings.ClassExpense, m.Class)
}

func TestApproveRejectsNonPending(t *testing.T) {
	repo := migrationtest.NewFakeMappings()
	svc := mappings.NewService(repo, migrationtest.FakeTxManager{})
	ctx := context.Background()

	p := pendingProposal(mappings.ProposalLedger, "8020", "8020 - Donations - TC", mappings.ClassIncome)
	require.NoError(t, repo.CreateProposal(ctx, p))
	require.NoError(t, svc.Reject(ctx, p.ID))

	_, err := svc.Approve(ctx, p.ID, "")
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeValidation))
}

func TestApproveUnknownProposal(t *testing.T) {
	svc := mappings.NewService(migrationtest.NewFakeMappings(), migrationtest.FakeTxManager{})
	_, err := svc.Approve(context.Background(), id.New(), "")
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeNotFound))
}

func TestApproveBadLedgerCode(t *testing.T) {
	repo := migrationtest.NewFakeMappings()
	svc := mappings.NewService(repo, migrationtest.FakeTxManager{})
	ctx := context.Background()

	p := pendingProposal(mappings.ProposalLedger, "not-a-number", "8020 - Donations - TC", mappings.ClassIncome)
	require.NoError(t, repo.CreateProposal(ctx, p))

	_, err := svc.Approve(ctx, p.ID, "")
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeValidation))
}
