package mappings

import (
	"context"

	"ebbridge/internal/core/id"
)

// Repository provides lookup and administration of the mapping tables.
// Lookups return (nil, nil) when no row exists; absence is an expected
// outcome, not an error.
type Repository interface {
	LedgerByID(ctx context.Context, sourceLedgerID int64) (*LedgerMapping, error)
	LedgerByNumber(ctx context.Context, sourceNumber string) (*LedgerMapping, error)
	PartyByCode(ctx context.Context, sourceCode string) (*PartyMapping, error)
	ItemByLedger(ctx context.Context, sourceLedgerID int64) (*ItemMapping, error)

	CreateLedger(ctx context.Context, m *LedgerMapping) error
	CreateParty(ctx context.Context, m *PartyMapping) error
	CreateItem(ctx context.Context, m *ItemMapping) error

	CreateProposal(ctx context.Context, p *MappingProposal) error
	ListProposals(ctx context.Context, status ProposalStatus) ([]MappingProposal, error)
	GetProposal(ctx context.Context, proposalID id.ID) (*MappingProposal, error)
	UpdateProposalStatus(ctx context.Context, proposalID id.ID, status ProposalStatus) error
}
