package mappings

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"ebbridge/internal/core/apperror"
	"ebbridge/internal/core/id"
	"ebbridge/internal/core/tx"
)

// Service manages the proposal review workflow.
type Service struct {
	repo Repository
	txm  tx.Manager
}

// NewService creates a mappings Service.
func NewService(repo Repository, txm tx.Manager) *Service {
	return &Service{repo: repo, txm: txm}
}

// Approve converts a pending proposal into a live mapping row and marks it
// approved. The two writes happen in one transaction. target overrides the
// proposal's suggested target; engine-written proposals carry no suggestion,
// so the operator must supply one or the approval is rejected. A mapping with
// an empty target would make later runs post documents against no account.
func (s *Service) Approve(ctx context.Context, proposalID id.ID, target string) (*MappingProposal, error) {
	p, err := s.repo.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, fmt.Errorf("load proposal: %w", err)
	}
	if p == nil {
		return nil, apperror.NewNotFound("proposal", proposalID)
	}
	if p.Status != ProposalPending {
		return nil, apperror.NewValidation("proposal is not pending").
			WithDetail("status", string(p.Status))
	}
	if target = strings.TrimSpace(target); target != "" {
		p.Proposed = target
	}
	if p.Proposed == "" {
		return nil, apperror.NewValidation("proposal has no target; supply one on approval").
			WithDetail("source_code", p.SourceCode)
	}

	err = s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		switch p.Kind {
		case ProposalLedger:
			ledgerID, err := strconv.ParseInt(p.SourceCode, 10, 64)
			if err != nil {
				return apperror.NewValidation("proposal source code is not a ledger id").
					WithDetail("source_code", p.SourceCode)
			}
			if err := s.repo.CreateLedger(ctx, &LedgerMapping{
				SourceLedgerID: ledgerID,
				TargetAccount:  p.Proposed,
				Class:          p.Class,
			}); err != nil {
				return err
			}
		case ProposalParty:
			kind := PartyCustomer
			if p.Class == ClassPayable {
				kind = PartySupplier
			}
			if err := s.repo.CreateParty(ctx, &PartyMapping{
				SourceCode:  p.SourceCode,
				Kind:        kind,
				TargetParty: p.Proposed,
				DisplayName: p.Proposed,
			}); err != nil {
				return err
			}
		case ProposalItem:
			ledgerID, err := strconv.ParseInt(p.SourceCode, 10, 64)
			if err != nil {
				return apperror.NewValidation("proposal source code is not a ledger id").
					WithDetail("source_code", p.SourceCode)
			}
			if err := s.repo.CreateItem(ctx, &ItemMapping{
				SourceLedgerID: ledgerID,
				TargetItem:     p.Proposed,
				ItemName:       p.Proposed,
			}); err != nil {
				return err
			}
		default:
			return apperror.NewValidation("unknown proposal kind").
				WithDetail("kind", string(p.Kind))
		}
		return s.repo.UpdateProposalStatus(ctx, p.ID, ProposalApproved)
	})
	if err != nil {
		return nil, err
	}

	p.Status = ProposalApproved
	return p, nil
}

// Reject marks a pending proposal rejected.
func (s *Service) Reject(ctx context.Context, proposalID id.ID) error {
	p, err := s.repo.GetProposal(ctx, proposalID)
	if err != nil {
		return fmt.Errorf("load proposal: %w", err)
	}
	if p == nil {
		return apperror.NewNotFound("proposal", proposalID)
	}
	if p.Status != ProposalPending {
		return apperror.NewValidation("proposal is not pending").
			WithDetail("status", string(p.Status))
	}
	return s.repo.UpdateProposalStatus(ctx, proposalID, ProposalRejected)
}

// Pending lists pending proposals.
func (s *Service) Pending(ctx context.Context) ([]MappingProposal, error) {
	return s.repo.ListProposals(ctx, ProposalPending)
}
