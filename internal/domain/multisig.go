// Copyright 2025 Certen Protocol

package domain

import "encoding/json"

// ProposalState is a state in the multi-sig FSM.
type ProposalState string

const (
	ProposalPending  ProposalState = "PENDING"
	ProposalApproved ProposalState = "APPROVED"
	ProposalRejected ProposalState = "REJECTED"
	ProposalExecuted ProposalState = "EXECUTED"
	ProposalExpired  ProposalState = "EXPIRED"
)

// IsTerminal reports whether no further transition is possible.
func (s ProposalState) IsTerminal() bool {
	switch s {
	case ProposalRejected, ProposalExecuted, ProposalExpired:
		return true
	default:
		return false
	}
}

// ProposalKind names the operation a proposal will execute once approved.
type ProposalKind string

const (
	KindRegisterDevice ProposalKind = "REGISTER_DEVICE"
)

// Proposal is a multi-sig request awaiting threshold approval.
type Proposal struct {
	ProposalID        string          `json:"proposal_id"`
	Kind              ProposalKind    `json:"kind"`
	Payload           json.RawMessage `json:"payload"`
	RequiredApprovals int             `json:"required_approvals"`
	Approvals         map[string]bool `json:"approvals"`
	Rejections        map[string]bool `json:"rejections"`
	State             ProposalState   `json:"state"`
	CreatedAt         int64           `json:"created_at"`
	ExpiresAt         int64           `json:"expires_at"`
	Proposer          string          `json:"proposer"`
	ArtifactRef        string         `json:"artifact_ref,omitempty"`

	Version uint64 `json:"-"`
}

// Signer is a party authorized to approve or reject proposals.
type Signer struct {
	SignerID  string `json:"signer_id"`
	PublicKey []byte `json:"public_key"`
	AddedAt   int64  `json:"added_at"`
	Active    bool   `json:"active"`
}
