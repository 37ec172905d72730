// Copyright 2025 Certen Protocol
//
// Package store defines the persistence-adapter contract: an abstract,
// durable-map-with-CAS interface over devices, pending data, batches,
// proposals, and signers. Concrete implementations live in
// internal/store/memstore (in-memory, default for tests and local boot) and
// internal/store/firestore (document-store-backed, using Firestore
// transactions and document UpdateTime preconditions as the CAS primitive).
//
// Every write path that affects FSM or batch transitions goes through a
// CAS-shaped method here, never a blind overwrite.
package store

import (
	"context"
	"errors"

	"github.com/certen/iot-anchor/internal/domain"
)

var (
	ErrNotFound        = errors.New("store: entity not found")
	ErrAlreadyExists   = errors.New("store: entity already exists")
	ErrVersionConflict = errors.New("store: compare-and-set version conflict")
)

// Store is the full persistence contract. A single implementation backs
// every entity family; splitting it into sub-interfaces per family would
// only matter if two different stores needed to back different families.
type Store interface {
	// Devices
	PutNewDevice(ctx context.Context, d *domain.Device) error
	GetDevice(ctx context.Context, deviceID string) (*domain.Device, error)
	SetDeviceActive(ctx context.Context, deviceID string, active bool, expectedVersion uint64) error
	BumpDeviceCounter(ctx context.Context, deviceID string, delta uint64) error
	TouchLastAuthenticated(ctx context.Context, deviceID string, at int64) error
	ListDevices(ctx context.Context) ([]*domain.Device, error)

	// Pending data
	AppendPending(ctx context.Context, p *domain.PendingDatum) error
	ListPendingOrdered(ctx context.Context) ([]*domain.PendingDatum, error)
	AttachToBatch(ctx context.Context, ids []string, batchID int64) error

	// Batches
	NextBatchID(ctx context.Context) (int64, error)
	CreateBatchPreparing(ctx context.Context, b *domain.MerkleBatch) error
	MarkBatchReady(ctx context.Context, batchID int64) error
	DiscardPreparingBatch(ctx context.Context, batchID int64) error
	GetBatch(ctx context.Context, batchID int64) (*domain.MerkleBatch, error)
	ListBatches(ctx context.Context) ([]*domain.MerkleBatch, error)
	UpdateAnchor(ctx context.Context, batchID int64, chainName string, anchor *domain.ChainAnchor) error
	FindLeafBatchAndIndex(ctx context.Context, leafHash [32]byte) (batchID int64, index int, err error)

	// Proposals
	CreateProposal(ctx context.Context, p *domain.Proposal) error
	GetProposal(ctx context.Context, proposalID string) (*domain.Proposal, error)
	ListProposals(ctx context.Context) ([]*domain.Proposal, error)
	// UpdateProposalCAS applies mutate to the proposal if its current state
	// equals expectedState and its version matches; mutate should not change
	// State itself except as its return value dictates, it runs under the
	// store's transaction/lock.
	UpdateProposalCAS(ctx context.Context, proposalID string, expectedState domain.ProposalState, mutate func(p *domain.Proposal) error) error

	// Signers
	AddSigner(ctx context.Context, s *domain.Signer) error
	DeactivateSigner(ctx context.Context, signerID string) error
	ListActiveSigners(ctx context.Context) ([]*domain.Signer, error)

	// PublicCommitment is the narrow read the ZKP engine needs; it is also
	// exposed on Store directly so callers don't need a full GetDevice round
	// trip just to verify a proof.
	PublicCommitment(deviceID string) (commitment [32]byte, active bool, found bool, err error)
}
