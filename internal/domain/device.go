// Copyright 2025 Certen Protocol

package domain

import "encoding/json"

// Device is a registered IoT device identified by a commitment to a secret
// it never discloses. See internal/zkp for the commitment/proof math.
type Device struct {
	DeviceID            string `json:"device_id"`
	DeviceName          string `json:"device_name"`
	DeviceType          string `json:"device_type"`
	PublicCommitment    [32]byte `json:"public_commitment"`
	RegisteredAt        int64  `json:"registered_at"`
	LastAuthenticatedAt int64  `json:"last_authenticated_at"`
	IsActive            bool   `json:"is_active"`
	TotalDataSubmitted  uint64 `json:"total_data_submitted"`

	// Version is the CAS token used by store implementations (document
	// revision / UpdateTime surrogate). Not part of the wire contract.
	Version uint64 `json:"-"`
}

// PendingDatum is one unit of telemetry awaiting inclusion in a batch.
type PendingDatum struct {
	ID          string          `json:"id"`
	DeviceID    string          `json:"device_id"`
	Payload     json.RawMessage `json:"payload"`
	SubmittedAt int64           `json:"submitted_at"`
	InsertSeq   uint64          `json:"insertion_seq"`
	LeafHash    [32]byte        `json:"leaf_hash"`
	BatchID     *int64          `json:"batch_id,omitempty"`
}

// ChainAnchorStatus is the per-chain outcome of anchoring one batch.
type ChainAnchorStatus string

const (
	AnchorPending   ChainAnchorStatus = "pending"
	AnchorConfirmed ChainAnchorStatus = "confirmed"
	AnchorFailed    ChainAnchorStatus = "failed"
)

// ChainAnchor records the state of a single chain's anchor transaction for a
// batch.
type ChainAnchor struct {
	ChainName   string            `json:"chain_name"`
	TxHash      string            `json:"tx_hash,omitempty"`
	BlockNumber uint64            `json:"block_number,omitempty"`
	GasUsed     uint64            `json:"gas_used,omitempty"`
	Status      ChainAnchorStatus `json:"status"`
	Error       string            `json:"error,omitempty"`
}

// DispatchOutcome is the immediate, synchronous result of submitting a
// batch's anchor transaction to one chain: either a transaction hash or
// an error. Confirmation of that transaction is tracked separately, via
// ChainAnchor.
type DispatchOutcome struct {
	ChainName string `json:"chain"`
	TxHash    string `json:"tx_hash,omitempty"`
	Error     string `json:"error,omitempty"`
}

// MerkleBatch is an immutable, anchored collection of leaves.
type MerkleBatch struct {
	BatchID   int64                  `json:"batch_id"`
	LeafCount int                    `json:"leaf_count"`
	Root      [32]byte               `json:"root"`
	CreatedAt int64                  `json:"created_at"`
	Metadata  string                 `json:"metadata,omitempty"`
	Leaves    [][32]byte             `json:"-"` // recorded inclusion order
	Anchors   map[string]*ChainAnchor `json:"anchors"`

	// Preparing marks a batch that has been allocated but whose leaves have
	// not yet been durably attached (see the two-phase commit in
	// internal/anchorpipeline).
	Preparing bool `json:"preparing,omitempty"`

	Version uint64 `json:"-"`
}
