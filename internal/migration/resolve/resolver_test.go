package resolve

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ebbridge/internal/config"
	"ebbridge/internal/core/apperror"
	"ebbridge/internal/domain/mappings"
	"ebbridge/internal/eboekhouden"
	"ebbridge/internal/migration/migrationtest"
)

func newResolver(t *testing.T, cfg *config.Config) (*Resolver, *migrationtest.FakeMappings, *migrationtest.FakeClient) {
	t.Helper()
	repo := migrationtest.NewFakeMappings()
	client := migrationtest.NewFakeClient()
	r, err := New(cfg, repo, client, migrationtest.NewFakeWriter())
	require.NoError(t, err)
	return r, repo, client
}

func TestAccountProposalClassifiesByLedgerName(t *testing.T) {
	ctx := context.Background()
	r, repo, client := newResolver(t, &config.Config{Company: "Testco"})

	// Neither 2100 nor 2500 matches a number rule; only the source ledger
	// name can classify them.
	client.Ledgers[2100] = &eboekhouden.LedgerInfo{Code: 2100, Name: "Af te dragen BTW"}
	client.Ledgers[2500] = &eboekhouden.LedgerInfo{Code: 2500, Name: "Rabobank bestuursrekening"}

	for _, ledgerID := range []int64{2100, 2500} {
		_, err := r.Account(ctx, ledgerID)
		require.Error(t, err)
		assert.True(t, apperror.Is(err, apperror.CodeUnmappedLedger))
	}

	pending, err := repo.ListProposals(ctx, mappings.ProposalPending)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	byCode := map[string]mappings.AccountClass{}
	for _, p := range pending {
		byCode[p.SourceCode] = p.Class
	}
	assert.Equal(t, mappings.ClassTax, byCode["2100"])
	assert.Equal(t, mappings.ClassBank, byCode["2500"])
}

func TestAccountProposalWithoutLedgerName(t *testing.T) {
	ctx := context.Background()
	r, repo, _ := newResolver(t, &config.Config{Company: "Testco"})

	// The source does not know the ledger; number rules still apply.
	_, err := r.Account(ctx, 2100)
	require.Error(t, err)

	pending, err := repo.ListProposals(ctx, mappings.ProposalPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, mappings.ClassOther, pending[0].Class)
}

func TestLedgerNameCachedPerRun(t *testing.T) {
	ctx := context.Background()
	r, _, client := newResolver(t, &config.Config{Company: "Testco"})

	assert.Equal(t, "", r.LedgerName(ctx, 2500))

	// A later appearance of the ledger upstream does not change the cached
	// miss within the run.
	client.Ledgers[2500] = &eboekhouden.LedgerInfo{Code: 2500, Name: "Rabobank bestuursrekening"}
	assert.Equal(t, "", r.LedgerName(ctx, 2500))

	client.Ledgers[2100] = &eboekhouden.LedgerInfo{Code: 2100, Name: "Af te dragen BTW"}
	assert.Equal(t, "af te dragen btw", r.LedgerName(ctx, 2100))
}

func TestDefaultBankLedgerOverridesHeuristics(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{Company: "Testco", DefaultBankLedgers: []int64{4100}}
	r, repo, _ := newResolver(t, cfg)

	_, err := r.Account(ctx, 4100)
	require.Error(t, err)

	pending, err := repo.ListProposals(ctx, mappings.ProposalPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, mappings.ClassBank, pending[0].Class)
}
