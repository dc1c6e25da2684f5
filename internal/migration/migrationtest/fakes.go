// Package migrationtest provides in-memory fakes for pipeline tests.
package migrationtest

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"ebbridge/internal/core/apperror"
	"ebbridge/internal/core/id"
	"ebbridge/internal/core/types"
	"ebbridge/internal/domain/documents"
	"ebbridge/internal/domain/importlog"
	"ebbridge/internal/domain/mappings"
	"ebbridge/internal/eboekhouden"
)

// FakeMappings is an in-memory mappings.Repository.
type FakeMappings struct {
	mu        sync.Mutex
	Ledgers   map[int64]*mappings.LedgerMapping
	Parties   map[string]*mappings.PartyMapping
	Items     map[int64]*mappings.ItemMapping
	Proposals []mappings.MappingProposal
}

var _ mappings.Repository = (*FakeMappings)(nil)

func NewFakeMappings() *FakeMappings {
	return &FakeMappings{
		Ledgers: map[int64]*mappings.LedgerMapping{},
		Parties: map[string]*mappings.PartyMapping{},
		Items:   map[int64]*mappings.ItemMapping{},
	}
}

func (f *FakeMappings) LedgerByID(ctx context.Context, sourceLedgerID int64) (*mappings.LedgerMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Ledgers[sourceLedgerID], nil
}

func (f *FakeMappings) LedgerByNumber(ctx context.Context, sourceNumber string) (*mappings.LedgerMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.Ledgers {
		if m.SourceNumber == sourceNumber {
			return m, nil
		}
	}
	return nil, nil
}

func (f *FakeMappings) PartyByCode(ctx context.Context, sourceCode string) (*mappings.PartyMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Parties[sourceCode], nil
}

func (f *FakeMappings) ItemByLedger(ctx context.Context, sourceLedgerID int64) (*mappings.ItemMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Items[sourceLedgerID], nil
}

func (f *FakeMappings) CreateLedger(ctx context.Context, m *mappings.LedgerMapping) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Ledgers[m.SourceLedgerID] = m
	return nil
}

func (f *FakeMappings) CreateParty(ctx context.Context, m *mappings.PartyMapping) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Parties[m.SourceCode] = m
	return nil
}

func (f *FakeMappings) CreateItem(ctx context.Context, m *mappings.ItemMapping) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Items[m.SourceLedgerID] = m
	return nil
}

func (f *FakeMappings) CreateProposal(ctx context.Context, p *mappings.MappingProposal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.Proposals {
		if existing.Kind == p.Kind && existing.SourceCode == p.SourceCode && existing.Status == mappings.ProposalPending {
			return nil
		}
	}
	f.Proposals = append(f.Proposals, *p)
	return nil
}

func (f *FakeMappings) ListProposals(ctx context.Context, status mappings.ProposalStatus) ([]mappings.MappingProposal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []mappings.MappingProposal
	for _, p := range f.Proposals {
		if p.Status == status {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *FakeMappings) GetProposal(ctx context.Context, proposalID id.ID) (*mappings.MappingProposal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.Proposals {
		if f.Proposals[i].ID == proposalID {
			p := f.Proposals[i]
			return &p, nil
		}
	}
	return nil, nil
}

func (f *FakeMappings) UpdateProposalStatus(ctx context.Context, proposalID id.ID, status mappings.ProposalStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.Proposals {
		if f.Proposals[i].ID == proposalID {
			f.Proposals[i].Status = status
			return nil
		}
	}
	return fmt.Errorf("proposal %s not found", proposalID)
}

// FakeImportLog is an in-memory importlog.Repository.
type FakeImportLog struct {
	mu   sync.Mutex
	Rows []importlog.ImportedDocument
}

var _ importlog.Repository = (*FakeImportLog)(nil)

func NewFakeImportLog() *FakeImportLog {
	return &FakeImportLog{}
}

func (f *FakeImportLog) ActiveByMutationID(ctx context.Context, mutationID int64) (*importlog.ImportedDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.Rows {
		if f.Rows[i].MutationID == mutationID && f.Rows[i].Status == importlog.StatusActive {
			row := f.Rows[i]
			return &row, nil
		}
	}
	return nil, nil
}

func (f *FakeImportLog) ActiveByInvoiceNumber(ctx context.Context, invoiceNumber string) (*importlog.ImportedDocument, error) {
	if invoiceNumber == "" {
		return nil, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.Rows {
		row := f.Rows[i]
		if row.InvoiceNumber == invoiceNumber && row.Status == importlog.StatusActive &&
			(row.TargetDocKind == documents.KindSalesInvoice || row.TargetDocKind == documents.KindPurchaseInvoice) {
			return &row, nil
		}
	}
	return nil, nil
}

func (f *FakeImportLog) FindLegacyPayment(ctx context.Context, invoiceNumber string, amount types.Money, date time.Time) (*importlog.ImportedDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.Rows {
		row := f.Rows[i]
		if row.InvoiceNumber == invoiceNumber && row.Status == importlog.StatusActive &&
			row.TargetDocKind == documents.KindPaymentEntry &&
			types.SameAmount(row.Amount, amount) &&
			row.PostingDate.Format("2006-01-02") == date.Format("2006-01-02") {
			return &row, nil
		}
	}
	return nil, nil
}

func (f *FakeImportLog) Create(ctx context.Context, doc *importlog.ImportedDocument) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.Rows {
		if f.Rows[i].MutationID == doc.MutationID && f.Rows[i].Status == importlog.StatusActive {
			return fmt.Errorf("duplicate active mutation %d", doc.MutationID)
		}
	}
	f.Rows = append(f.Rows, *doc)
	return nil
}

func (f *FakeImportLog) MarkCancelled(ctx context.Context, mutationID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.Rows {
		if f.Rows[i].MutationID == mutationID && f.Rows[i].Status == importlog.StatusActive {
			f.Rows[i].Status = importlog.StatusCancelled
			return nil
		}
	}
	return fmt.Errorf("no active row for mutation %d", mutationID)
}

func (f *FakeImportLog) ListActive(ctx context.Context) ([]importlog.ImportedDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []importlog.ImportedDocument
	for _, row := range f.Rows {
		if row.Status == importlog.StatusActive {
			out = append(out, row)
		}
	}
	return out, nil
}

// ActiveCount returns how many active rows exist for a mutation id.
func (f *FakeImportLog) ActiveCount(mutationID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, row := range f.Rows {
		if row.MutationID == mutationID && row.Status == importlog.StatusActive {
			n++
		}
	}
	return n
}

// FakeRunRepo is an in-memory importlog.RunRepository.
type FakeRunRepo struct {
	mu       sync.Mutex
	Records  map[id.ID]*importlog.RunRecord
	Failures []importlog.FailureEntry
}

var _ importlog.RunRepository = (*FakeRunRepo)(nil)

func NewFakeRunRepo() *FakeRunRepo {
	return &FakeRunRepo{Records: map[id.ID]*importlog.RunRecord{}}
}

func (f *FakeRunRepo) CreateRun(ctx context.Context, run *importlog.RunRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id.IsNil(run.ID) {
		run.ID = id.New()
	}
	copied := *run
	f.Records[run.ID] = &copied
	return nil
}

func (f *FakeRunRepo) FinishRun(ctx context.Context, run *importlog.RunRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *run
	f.Records[run.ID] = &copied
	return nil
}

func (f *FakeRunRepo) GetRun(ctx context.Context, runID id.ID) (*importlog.RunRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.Records[runID]; ok {
		copied := *r
		return &copied, nil
	}
	return nil, nil
}

func (f *FakeRunRepo) ListRuns(ctx context.Context, limit int) ([]importlog.RunRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []importlog.RunRecord
	for _, r := range f.Records {
		out = append(out, *r)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *FakeRunRepo) AppendFailure(ctx context.Context, entry *importlog.FailureEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Failures = append(f.Failures, *entry)
	return nil
}

func (f *FakeRunRepo) FailuresByRun(ctx context.Context, runID id.ID) ([]importlog.FailureEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []importlog.FailureEntry
	for _, e := range f.Failures {
		if e.RunID == runID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *FakeRunRepo) RecentFailures(ctx context.Context, limit int) ([]importlog.FailureEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]importlog.FailureEntry, 0, len(f.Failures))
	for i := len(f.Failures) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, f.Failures[i])
	}
	return out, nil
}

// FakeWriter is an in-memory documents.Writer. Outstanding amounts follow
// submitted invoices minus submitted allocations.
type FakeWriter struct {
	mu         sync.Mutex
	CostCenter string
	Cancelled  map[string]bool

	Invoices []*documents.Invoice
	Payments []*documents.PaymentEntry
	Journals []*documents.JournalEntry

	outstanding map[string]types.Money
	nextDoc     int
}

var _ documents.Writer = (*FakeWriter)(nil)

func NewFakeWriter() *FakeWriter {
	return &FakeWriter{
		CostCenter:  "Main - TC",
		Cancelled:   map[string]bool{},
		outstanding: map[string]types.Money{},
	}
}

func (f *FakeWriter) docID(prefix string) string {
	f.nextDoc++
	return prefix + "-" + strconv.Itoa(f.nextDoc)
}

func (f *FakeWriter) SubmitInvoice(ctx context.Context, inv *documents.Invoice) (string, error) {
	if err := inv.Validate(ctx); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	docID := f.docID("INV")
	f.Invoices = append(f.Invoices, inv)
	f.outstanding[docID] = inv.GrandTotal
	return docID, nil
}

func (f *FakeWriter) SubmitPayment(ctx context.Context, p *documents.PaymentEntry) (string, error) {
	if err := p.Validate(ctx); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	docID := f.docID("PAY")
	f.Payments = append(f.Payments, p)
	for _, ref := range p.References {
		if rest, ok := f.outstanding[ref.TargetDocID]; ok {
			f.outstanding[ref.TargetDocID] = rest.Sub(ref.Allocated)
		}
	}
	return docID, nil
}

func (f *FakeWriter) SubmitJournal(ctx context.Context, j *documents.JournalEntry) (string, error) {
	if err := j.Validate(ctx); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Journals = append(f.Journals, j)
	return f.docID("JRN"), nil
}

func (f *FakeWriter) InvoiceOutstanding(ctx context.Context, targetDocID string) (types.Money, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rest, ok := f.outstanding[targetDocID]; ok {
		return rest, nil
	}
	return types.Zero(), apperror.NewNotFound("invoice", targetDocID)
}

func (f *FakeWriter) IsCancelled(ctx context.Context, kind documents.Kind, targetDocID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Cancelled[targetDocID], nil
}

func (f *FakeWriter) FirstCostCenter(ctx context.Context, company string) (string, error) {
	return f.CostCenter, nil
}

// SetOutstanding overrides the open amount of a posted invoice.
func (f *FakeWriter) SetOutstanding(docID string, amount types.Money) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outstanding[docID] = amount
}

// FakeClient is an in-memory eboekhouden.Client. FailAt injects a transport
// error once the sequence reaches that mutation id.
type FakeClient struct {
	Mutations []*eboekhouden.Mutation
	Relations map[string]*eboekhouden.PartyInfo
	Ledgers   map[int64]*eboekhouden.LedgerInfo
	FailAt    int64

	SessionOpen bool
}

var _ eboekhouden.Client = (*FakeClient)(nil)

func NewFakeClient(muts ...*eboekhouden.Mutation) *FakeClient {
	return &FakeClient{
		Mutations: muts,
		Relations: map[string]*eboekhouden.PartyInfo{},
		Ledgers:   map[int64]*eboekhouden.LedgerInfo{},
	}
}

func (f *FakeClient) OpenSession(ctx context.Context) error {
	f.SessionOpen = true
	return nil
}

func (f *FakeClient) FetchMutations(ctx context.Context, w eboekhouden.Window) (eboekhouden.MutationSeq, error) {
	var filtered []*eboekhouden.Mutation
	for _, m := range f.Mutations {
		if w.Contains(m.ID) {
			filtered = append(filtered, m)
		}
	}
	return &fakeSeq{client: f, muts: filtered}, nil
}

func (f *FakeClient) FetchHighestMutationID(ctx context.Context) (int64, error) {
	var highest int64
	for _, m := range f.Mutations {
		if m.ID > highest {
			highest = m.ID
		}
	}
	return highest, nil
}

func (f *FakeClient) FetchRelation(ctx context.Context, relationCode string) (*eboekhouden.PartyInfo, error) {
	return f.Relations[relationCode], nil
}

func (f *FakeClient) FetchLedger(ctx context.Context, ledgerID int64) (*eboekhouden.LedgerInfo, error) {
	return f.Ledgers[ledgerID], nil
}

func (f *FakeClient) Close(ctx context.Context) error {
	f.SessionOpen = false
	return nil
}

type fakeSeq struct {
	client *FakeClient
	muts   []*eboekhouden.Mutation
	pos    int
}

func (s *fakeSeq) Next(ctx context.Context) (*eboekhouden.Mutation, error) {
	if s.pos >= len(s.muts) {
		return nil, nil
	}
	m := s.muts[s.pos]
	if s.client.FailAt > 0 && m.ID >= s.client.FailAt {
		return nil, apperror.NewTransport(fmt.Errorf("connection reset"))
	}
	s.pos++
	return m, nil
}

// FakeTxManager runs the function without a real transaction.
type FakeTxManager struct{}

func (FakeTxManager) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// FakeLocker grants all locks. Busy simulates a concurrent run holding the
// company lock.
type FakeLocker struct {
	Busy bool
}

func (f *FakeLocker) AcquireRunLock(ctx context.Context, company string) (func(), error) {
	if f.Busy {
		return nil, apperror.NewRunLocked(company)
	}
	return func() {}, nil
}

func (f *FakeLocker) WithMutationLock(ctx context.Context, company string, mutationID int64, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// FakeCache is an in-memory run cache.
type FakeCache struct {
	mu   sync.Mutex
	data map[int64][]byte
}

func NewFakeCache() *FakeCache {
	return &FakeCache{data: map[int64][]byte{}}
}

func (f *FakeCache) Put(ctx context.Context, mutationID int64, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[mutationID] = payload
	return nil
}

func (f *FakeCache) Get(ctx context.Context, mutationID int64) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.data[mutationID]
	return p, ok, nil
}

func (f *FakeCache) Has(ctx context.Context, mutationID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.data[mutationID]
	return ok, nil
}

func (f *FakeCache) Invalidate(ctx context.Context, mutationID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, mutationID)
	return nil
}
