package dto

// ApproveProposalRequest carries the target account, party or item for a
// proposal approval. The body is optional when the proposal already suggests
// a target; engine-written proposals carry none, so the operator supplies it
// here.
type ApproveProposalRequest struct {
	Target string `json:"target"`
}
