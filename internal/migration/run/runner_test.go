package run

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ebbridge/internal/config"
	"ebbridge/internal/core/id"
	"ebbridge/internal/core/types"
	"ebbridge/internal/domain/importlog"
	"ebbridge/internal/domain/mappings"
	"ebbridge/internal/eboekhouden"
	"ebbridge/internal/migration/migrationtest"
)

type fixture struct {
	cfg      *config.Config
	client   *migrationtest.FakeClient
	cache    *migrationtest.FakeCache
	mappings *migrationtest.FakeMappings
	imported *migrationtest.FakeImportLog
	runs     *migrationtest.FakeRunRepo
	writer   *migrationtest.FakeWriter
	locker   *migrationtest.FakeLocker
	runner   *Runner
}

func newFixture(t *testing.T, muts ...*eboekhouden.Mutation) *fixture {
	t.Helper()
	f := &fixture{
		cfg: &config.Config{
			Company:                  "Testco",
			DefaultBankLedgers:       []int64{1000},
			DefaultReceivableAccount: "1300 - Debtors - TC",
			DefaultPayableAccount:    "1600 - Creditors - TC",
			SuspenseAccount:          "1999 - Suspense - TC",
			TaxExemptTemplate:        "BTW Vrijgesteld - TC",
			FailureLogDir:            t.TempDir(),
		},
		client:   migrationtest.NewFakeClient(muts...),
		cache:    migrationtest.NewFakeCache(),
		mappings: migrationtest.NewFakeMappings(),
		imported: migrationtest.NewFakeImportLog(),
		runs:     migrationtest.NewFakeRunRepo(),
		writer:   migrationtest.NewFakeWriter(),
		locker:   &migrationtest.FakeLocker{},
	}

	f.mappings.Ledgers[1000] = &mappings.LedgerMapping{
		SourceLedgerID: 1000, TargetAccount: "1010 - Bank - TC", Class: mappings.ClassBank,
	}
	f.mappings.Ledgers[8000] = &mappings.LedgerMapping{
		SourceLedgerID: 8000, SourceName: "Contributie",
		TargetAccount: "8010 - Membership income - TC", Class: mappings.ClassIncome,
	}
	f.mappings.Parties["REL001"] = &mappings.PartyMapping{
		SourceCode: "REL001", Kind: mappings.PartyCustomer, TargetParty: "Vereniging Noord",
	}

	f.runner = NewRunner(Deps{
		Cfg:      f.cfg,
		Client:   f.client,
		Cache:    f.cache,
		Mappings: f.mappings,
		Imported: f.imported,
		Runs:     f.runs,
		Writer:   f.writer,
		TxM:      migrationtest.FakeTxManager{},
		Locker:   f.locker,
	})
	return f
}

func invoiceMutation(mutationID int64, invoiceNumber string) *eboekhouden.Mutation {
	return &eboekhouden.Mutation{
		ID:            mutationID,
		Kind:          eboekhouden.KindSalesInvoice,
		Date:          time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
		InvoiceNumber: invoiceNumber,
		RelationCode:  "REL001",
		Lines: []eboekhouden.Line{
			{Amount: types.MustMoney("-150.00"), LedgerID: 8000, VATCode: "GEEN"},
		},
	}
}

func paymentMutation(mutationID int64, invoiceNumber string) *eboekhouden.Mutation {
	return &eboekhouden.Mutation{
		ID:            mutationID,
		Kind:          eboekhouden.KindCustomerPayment,
		Date:          time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
		InvoiceNumber: invoiceNumber,
		LedgerID:      1000,
		Lines: []eboekhouden.Line{
			{Amount: types.MustMoney("150.00"), LedgerID: 1000},
		},
	}
}

func TestRunFullWindow(t *testing.T) {
	f := newFixture(t,
		invoiceMutation(1, "F-001"),
		paymentMutation(2, "F-001"),
		invoiceMutation(3, "F-002"),
	)

	record, err := f.runner.Run(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 3, record.Counts.Fetched)
	assert.Equal(t, 3, record.Counts.Created)
	assert.Zero(t, record.Counts.PermanentFailed)
	assert.Equal(t, 0, ExitCode(record, err))

	// Payment 2 allocated against invoice 1.
	require.Len(t, f.writer.Payments, 1)
	require.Len(t, f.writer.Payments[0].References, 1)

	// Sequential re-run skips everything.
	record2, err := f.runner.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, record2.Counts.AlreadyImported)
	assert.Zero(t, record2.Counts.Created)
	assert.Len(t, f.writer.Invoices, 2)
	assert.Len(t, f.writer.Payments, 1)
}

func TestRunDuplicateMutationIDs(t *testing.T) {
	f := newFixture(t,
		invoiceMutation(7, "F-001"),
		invoiceMutation(7, "F-001"),
		invoiceMutation(7, "F-001"),
	)

	record, err := f.runner.Run(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, record.Counts.Created)
	assert.Equal(t, 2, record.Counts.AlreadyImported)
	assert.Equal(t, 1, f.imported.ActiveCount(7))
}

func TestRunPaymentBeforeInvoice(t *testing.T) {
	// The payment references an invoice imported only later in the window.
	f := newFixture(t,
		paymentMutation(1, "F-001"),
		invoiceMutation(2, "F-001"),
	)

	record, err := f.runner.Run(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, record.Counts.InvoiceNotFound)
	assert.Equal(t, 1, record.Counts.Created)

	// The payment still posted, to suspense, without an allocation.
	require.Len(t, f.writer.Payments, 1)
	assert.Empty(t, f.writer.Payments[0].References)

	// The outcome lands in the failure log for replay.
	failures, ferr := f.runs.FailuresByRun(context.Background(), record.ID)
	require.NoError(t, ferr)
	require.Len(t, failures, 1)
	assert.Equal(t, importlog.ReasonInvoiceNotFound, failures[0].Reason)
}

func TestRunQuarantine(t *testing.T) {
	bad := invoiceMutation(5, "F-009")
	bad.Lines[0].LedgerID = 9999 // unmapped

	f := newFixture(t, invoiceMutation(1, "F-001"), bad)

	record, err := f.runner.Run(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, record.Counts.Created)
	assert.Equal(t, 1, record.Counts.Quarantined)
	assert.Equal(t, 0, ExitCode(record, err))

	// Quarantine produced a mapping proposal for review.
	pending, perr := f.mappings.ListProposals(context.Background(), mappings.ProposalPending)
	require.NoError(t, perr)
	require.Len(t, pending, 1)
	assert.Equal(t, "9999", pending[0].SourceCode)
}

func TestRunTransportAbortKeepsProgress(t *testing.T) {
	f := newFixture(t,
		invoiceMutation(1, "F-001"),
		invoiceMutation(2, "F-002"),
		invoiceMutation(3, "F-003"),
	)
	f.client.FailAt = 3

	record, err := f.runner.Run(context.Background(), Options{})
	require.Error(t, err)
	require.NotNil(t, record)

	// Mutations before the failure stayed posted.
	assert.Equal(t, 2, record.Counts.Created)
	assert.True(t, record.Aborted)
	assert.Equal(t, 2, ExitCode(record, err))

	// The recorded window resumes after the last processed mutation.
	assert.Equal(t, int64(3), record.Window.FromID)

	// Recovery: transport restored, re-run posts the remainder once.
	f.client.FailAt = 0
	record2, err := f.runner.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, record2.Counts.Created)
	assert.Equal(t, 2, record2.Counts.AlreadyImported)
	assert.Len(t, f.writer.Invoices, 3)
}

func TestRunLockedCompany(t *testing.T) {
	f := newFixture(t, invoiceMutation(1, "F-001"))
	f.locker.Busy = true

	record, err := f.runner.Run(context.Background(), Options{})
	assert.Error(t, err)
	assert.Nil(t, record)
	assert.Equal(t, 2, ExitCode(record, err))
}

func TestRunDryRun(t *testing.T) {
	f := newFixture(t, invoiceMutation(1, "F-001"))

	record, err := f.runner.Run(context.Background(), Options{DryRun: true})
	require.NoError(t, err)
	assert.True(t, record.DryRun)
	assert.Equal(t, 1, record.Counts.Created)
	assert.Empty(t, f.writer.Invoices)
	assert.Equal(t, 0, f.imported.ActiveCount(1))
}

func TestRunIDWindow(t *testing.T) {
	f := newFixture(t,
		invoiceMutation(1, "F-001"),
		invoiceMutation(2, "F-002"),
		invoiceMutation(3, "F-003"),
	)

	record, err := f.runner.Run(context.Background(), Options{
		Window: eboekhouden.Window{FromID: 2, ToID: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, record.Counts.Fetched)
	require.Len(t, f.writer.Invoices, 1)
	assert.Equal(t, "F-002", f.writer.Invoices[0].InvoiceNumber)
}

func TestReplayFailedMutations(t *testing.T) {
	bad := invoiceMutation(5, "F-009")
	bad.Lines[0].LedgerID = 9999

	f := newFixture(t, invoiceMutation(1, "F-001"), bad)

	record, err := f.runner.Run(context.Background(), Options{})
	require.NoError(t, err)
	require.Equal(t, 1, record.Counts.Quarantined)

	// Operator maps the ledger, then replays the run.
	f.mappings.Ledgers[9999] = &mappings.LedgerMapping{
		SourceLedgerID: 9999, SourceName: "Donaties",
		TargetAccount: "8020 - Donations - TC", Class: mappings.ClassIncome,
	}

	replayed, err := f.runner.Replay(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, replayed.Counts.Created)
	assert.Len(t, f.writer.Invoices, 2)
}

func TestReplayUnknownRun(t *testing.T) {
	f := newFixture(t)
	_, err := f.runner.Replay(context.Background(), id.New())
	assert.Error(t, err)
}

func TestSweepCancelled(t *testing.T) {
	f := newFixture(t, invoiceMutation(1, "F-001"))

	_, err := f.runner.Run(context.Background(), Options{})
	require.NoError(t, err)
	require.Equal(t, 1, f.imported.ActiveCount(1))

	// The document gets voided in the target system.
	rows, err := f.imported.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	f.writer.Cancelled[rows[0].TargetDocID] = true

	n, err := f.runner.SweepCancelled(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, f.imported.ActiveCount(1))

	// A re-run may now re-import the voided mutation.
	record, err := f.runner.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, record.Counts.Created)
}

func TestProposeMappings(t *testing.T) {
	bad := invoiceMutation(5, "F-009")
	bad.Lines[0].LedgerID = 9999

	f := newFixture(t, bad)
	f.client.Ledgers[9999] = &eboekhouden.LedgerInfo{Code: 9999, Name: "Af te dragen BTW"}

	_, err := f.runner.Run(context.Background(), Options{})
	require.NoError(t, err)

	proposals, err := f.runner.ProposeMappings(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, proposals, 1)
	assert.Equal(t, "9999", proposals[0].SourceCode)
	assert.Equal(t, mappings.ProposalLedger, proposals[0].Kind)
	// Classified from the source ledger name, not the line description.
	assert.Equal(t, mappings.ClassTax, proposals[0].Class)

	// The run itself already proposed the ledger; the sweep does not add a
	// second pending row.
	pending, err := f.mappings.ListProposals(context.Background(), mappings.ProposalPending)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(&importlog.RunRecord{}, nil))
	assert.Equal(t, 1, ExitCode(&importlog.RunRecord{
		Counts: importlog.RunCounts{PermanentFailed: 2},
	}, nil))
	assert.Equal(t, 2, ExitCode(&importlog.RunRecord{Aborted: true}, nil))
	assert.Equal(t, 2, ExitCode(nil, assert.AnError))
}
