// Package mappings defines the long-lived translation tables between source
// ledger/relation codes and target accounts, parties and items. Mappings are
// edited by operators and are read-only during a run.
package mappings

import (
	"time"

	"ebbridge/internal/core/id"
)

// AccountClass classifies a target account. Classes drive document building:
// bank accounts receive payments, receivable/payable accounts carry invoices,
// income/expense accounts carry invoice lines.
type AccountClass string

const (
	ClassBank         AccountClass = "bank"
	ClassReceivable   AccountClass = "receivable"
	ClassPayable      AccountClass = "payable"
	ClassTax          AccountClass = "tax"
	ClassFixedAsset   AccountClass = "fixed_asset"
	ClassCurrentAsset AccountClass = "current_asset"
	ClassIncome       AccountClass = "income"
	ClassExpense      AccountClass = "expense"
	ClassStock        AccountClass = "stock"
	ClassOther        AccountClass = "other"
)

// LedgerMapping maps one source ledger to a target account.
type LedgerMapping struct {
	SourceLedgerID int64        `db:"source_ledger_id" json:"sourceLedgerId"`
	SourceNumber   string       `db:"source_number" json:"sourceNumber,omitempty"`
	SourceName     string       `db:"source_name" json:"sourceName,omitempty"`
	TargetAccount  string       `db:"target_account" json:"targetAccount"`
	Class          AccountClass `db:"class" json:"class"`
	DefaultItem    string       `db:"default_item" json:"defaultItem,omitempty"`
}

// PartyKind is the side of a party mapping.
type PartyKind string

const (
	PartyCustomer PartyKind = "customer"
	PartySupplier PartyKind = "supplier"
)

// PartyMapping maps one source relation code to a target customer or
// supplier. A source code never maps to both kinds within a company.
type PartyMapping struct {
	SourceCode  string    `db:"source_code" json:"sourceCode"`
	Kind        PartyKind `db:"kind" json:"kind"`
	TargetParty string    `db:"target_party" json:"targetParty"`
	DisplayName string    `db:"display_name" json:"displayName"`
}

// ItemMapping maps a source ledger to the item that carries invoice lines for
// that ledger. ItemName derives from the ledger's human-readable name.
type ItemMapping struct {
	SourceLedgerID int64  `db:"source_ledger_id" json:"sourceLedgerId"`
	TargetItem     string `db:"target_item" json:"targetItem"`
	ItemName       string `db:"item_name" json:"itemName"`
}

// ProposalStatus tracks the review state of a suggested mapping.
type ProposalStatus string

const (
	ProposalPending  ProposalStatus = "pending"
	ProposalApproved ProposalStatus = "approved"
	ProposalRejected ProposalStatus = "rejected"
)

// ProposalKind identifies which mapping table a proposal targets.
type ProposalKind string

const (
	ProposalLedger ProposalKind = "ledger"
	ProposalParty  ProposalKind = "party"
	ProposalItem   ProposalKind = "item"
)

// MappingProposal is a suggested mapping row awaiting operator approval.
// Heuristics only ever write proposals; they never create mappings silently.
type MappingProposal struct {
	ID         id.ID          `db:"id" json:"id"`
	Kind       ProposalKind   `db:"kind" json:"kind"`
	SourceCode string         `db:"source_code" json:"sourceCode"`
	Proposed   string         `db:"proposed" json:"proposed"` // target account/party/item
	Class      AccountClass   `db:"class" json:"class,omitempty"`
	Reason     string         `db:"reason" json:"reason"`
	Status     ProposalStatus `db:"status" json:"status"`
	CreatedAt  time.Time      `db:"created_at" json:"createdAt"`
}
