package run

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"ebbridge/internal/core/id"
	"ebbridge/internal/domain/importlog"
	"ebbridge/internal/domain/mappings"
	"ebbridge/internal/eboekhouden"
	"ebbridge/internal/migration/resolve"
	"ebbridge/pkg/logger"
)

// ProposeMappings walks recent failures and writes mapping proposals for the
// unmapped ledgers and relations they reference. Proposals await operator
// approval; nothing is mapped automatically.
func (r *Runner) ProposeMappings(ctx context.Context, limit int) ([]mappings.MappingProposal, error) {
	d := r.deps
	failures, err := d.Runs.RecentFailures(ctx, limit)
	if err != nil {
		return nil, err
	}

	heur, err := resolve.NewHeuristics(d.Cfg.HeuristicRules)
	if err != nil {
		return nil, err
	}

	// Ledger names come from the source chart of accounts; the name-based
	// heuristic rules are useless without them.
	if err := d.Client.OpenSession(ctx); err != nil {
		return nil, err
	}
	defer d.Client.Close(ctx)
	resolver, err := resolve.New(d.Cfg, d.Mappings, d.Client, d.Writer)
	if err != nil {
		return nil, err
	}

	seenLedger := map[int64]bool{}
	seenParty := map[string]bool{}
	var proposals []mappings.MappingProposal

	for _, entry := range failures {
		switch entry.Reason {
		case importlog.ReasonUnmappedLedger:
			var m eboekhouden.Mutation
			if json.Unmarshal(entry.Payload, &m) != nil {
				continue
			}
			for _, line := range m.Lines {
				if line.LedgerID == 0 || seenLedger[line.LedgerID] {
					continue
				}
				existing, err := d.Mappings.LedgerByID(ctx, line.LedgerID)
				if err != nil || existing != nil {
					continue
				}
				seenLedger[line.LedgerID] = true
				number := strconv.FormatInt(line.LedgerID, 10)
				p := mappings.MappingProposal{
					ID:         id.New(),
					Kind:       mappings.ProposalLedger,
					SourceCode: number,
					Class:      heur.Suggest(line.LedgerID, number, resolver.LedgerName(ctx, line.LedgerID)),
					Reason:     "seen on failed mutation " + strconv.FormatInt(entry.MutationID, 10),
					Status:     mappings.ProposalPending,
					CreatedAt:  time.Now().UTC(),
				}
				if err := d.Mappings.CreateProposal(ctx, &p); err != nil {
					logger.Warn(ctx, "failed to write proposal", "ledger_id", line.LedgerID, "error", err)
					continue
				}
				proposals = append(proposals, p)
			}

		case importlog.ReasonUnmappedRelation:
			var m eboekhouden.Mutation
			if json.Unmarshal(entry.Payload, &m) != nil {
				continue
			}
			if m.RelationCode == "" || seenParty[m.RelationCode] {
				continue
			}
			existing, err := d.Mappings.PartyByCode(ctx, m.RelationCode)
			if err != nil || existing != nil {
				continue
			}
			seenParty[m.RelationCode] = true
			p := mappings.MappingProposal{
				ID:         id.New(),
				Kind:       mappings.ProposalParty,
				SourceCode: m.RelationCode,
				Reason:     "seen on failed mutation " + strconv.FormatInt(entry.MutationID, 10),
				Status:     mappings.ProposalPending,
				CreatedAt:  time.Now().UTC(),
			}
			if err := d.Mappings.CreateProposal(ctx, &p); err != nil {
				logger.Warn(ctx, "failed to write proposal", "relation_code", m.RelationCode, "error", err)
				continue
			}
			proposals = append(proposals, p)
		}
	}
	return proposals, nil
}

// SweepCancelled reconciles ImportedDocument statuses with the target
// system: rows whose document was voided flip to cancelled, which allows a
// later run to re-import the mutation.
func (r *Runner) SweepCancelled(ctx context.Context) (int, error) {
	d := r.deps
	active, err := d.Imported.ListActive(ctx)
	if err != nil {
		return 0, err
	}
	var flipped int
	for _, doc := range active {
		cancelled, err := d.Writer.IsCancelled(ctx, doc.TargetDocKind, doc.TargetDocID)
		if err != nil {
			return flipped, err
		}
		if !cancelled {
			continue
		}
		if err := d.Imported.MarkCancelled(ctx, doc.MutationID); err != nil {
			return flipped, err
		}
		flipped++
		logger.Info(ctx, "imported document cancelled in target",
			"mutation_id", doc.MutationID, "doc_id", doc.TargetDocID)
	}
	return flipped, nil
}
