// Copyright 2025 Certen Protocol
//
// Package memstore is the in-memory implementation of internal/store.Store:
// a sync.RWMutex-guarded set of maps with a version counter per mutable
// entity standing in for Firestore's document UpdateTime, used for CAS.
// This is the default store for tests and local boot.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/certen/iot-anchor/internal/domain"
	"github.com/certen/iot-anchor/internal/store"
)

// Store is the in-memory Store implementation.
type Store struct {
	mu sync.RWMutex

	devices  map[string]*domain.Device
	pending  map[string]*domain.PendingDatum
	pendSeq  uint64
	batches  map[int64]*domain.MerkleBatch
	nextBID  int64
	proposals map[string]*domain.Proposal
	signers  map[string]*domain.Signer
}

// New constructs an empty in-memory Store.
func New() *Store {
	return &Store{
		devices:   make(map[string]*domain.Device),
		pending:   make(map[string]*domain.PendingDatum),
		batches:   make(map[int64]*domain.MerkleBatch),
		nextBID:   1,
		proposals: make(map[string]*domain.Proposal),
		signers:   make(map[string]*domain.Signer),
	}
}

func cloneDevice(d *domain.Device) *domain.Device {
	cp := *d
	return &cp
}

// PutNewDevice inserts a brand-new device; fails if the ID already exists.
func (s *Store) PutNewDevice(_ context.Context, d *domain.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.devices[d.DeviceID]; exists {
		return store.ErrAlreadyExists
	}
	cp := cloneDevice(d)
	cp.Version = 1
	s.devices[d.DeviceID] = cp
	return nil
}

func (s *Store) GetDevice(_ context.Context, deviceID string) (*domain.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.devices[deviceID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneDevice(d), nil
}

func (s *Store) SetDeviceActive(_ context.Context, deviceID string, active bool, expectedVersion uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[deviceID]
	if !ok {
		return store.ErrNotFound
	}
	if expectedVersion != 0 && d.Version != expectedVersion {
		return store.ErrVersionConflict
	}
	d.IsActive = active
	d.Version++
	return nil
}

func (s *Store) BumpDeviceCounter(_ context.Context, deviceID string, delta uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[deviceID]
	if !ok {
		return store.ErrNotFound
	}
	d.TotalDataSubmitted += delta
	d.Version++
	return nil
}

func (s *Store) TouchLastAuthenticated(_ context.Context, deviceID string, at int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[deviceID]
	if !ok {
		return store.ErrNotFound
	}
	// Never move it backwards.
	if at > d.LastAuthenticatedAt {
		d.LastAuthenticatedAt = at
		d.Version++
	}
	return nil
}

func (s *Store) ListDevices(_ context.Context) ([]*domain.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Device, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, cloneDevice(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out, nil
}

func (s *Store) AppendPending(_ context.Context, p *domain.PendingDatum) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendSeq++
	p.InsertSeq = s.pendSeq
	cp := *p
	s.pending[p.ID] = &cp
	return nil
}

func (s *Store) ListPendingOrdered(_ context.Context) ([]*domain.PendingDatum, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.PendingDatum, 0, len(s.pending))
	for _, p := range s.pending {
		if p.BatchID == nil {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmittedAt != out[j].SubmittedAt {
			return out[i].SubmittedAt < out[j].SubmittedAt
		}
		if out[i].DeviceID != out[j].DeviceID {
			return out[i].DeviceID < out[j].DeviceID
		}
		return out[i].InsertSeq < out[j].InsertSeq
	})
	return out, nil
}

func (s *Store) AttachToBatch(_ context.Context, ids []string, batchID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		p, ok := s.pending[id]
		if !ok {
			continue
		}
		b := batchID
		p.BatchID = &b
	}
	return nil
}

func (s *Store) NextBatchID(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextBID
	s.nextBID++
	return id, nil
}

func (s *Store) CreateBatchPreparing(_ context.Context, b *domain.MerkleBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.batches[b.BatchID]; exists {
		return store.ErrAlreadyExists
	}
	cp := *b
	cp.Preparing = true
	cp.Version = 1
	s.batches[b.BatchID] = &cp
	return nil
}

func (s *Store) MarkBatchReady(_ context.Context, batchID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok {
		return store.ErrNotFound
	}
	b.Preparing = false
	b.Version++
	return nil
}

func (s *Store) DiscardPreparingBatch(_ context.Context, batchID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok {
		return nil
	}
	if !b.Preparing {
		return nil
	}
	delete(s.batches, batchID)
	return nil
}

func (s *Store) GetBatch(_ context.Context, batchID int64) (*domain.MerkleBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.batches[batchID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *b
	cp.Anchors = cloneAnchors(b.Anchors)
	return &cp, nil
}

func cloneAnchors(in map[string]*domain.ChainAnchor) map[string]*domain.ChainAnchor {
	out := make(map[string]*domain.ChainAnchor, len(in))
	for k, v := range in {
		cp := *v
		out[k] = &cp
	}
	return out
}

func (s *Store) ListBatches(_ context.Context) ([]*domain.MerkleBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.MerkleBatch, 0, len(s.batches))
	for _, b := range s.batches {
		if b.Preparing {
			continue
		}
		cp := *b
		cp.Anchors = cloneAnchors(b.Anchors)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BatchID < out[j].BatchID })
	return out, nil
}

func (s *Store) UpdateAnchor(_ context.Context, batchID int64, chainName string, anchor *domain.ChainAnchor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok {
		return store.ErrNotFound
	}
	if b.Anchors == nil {
		b.Anchors = make(map[string]*domain.ChainAnchor)
	}
	cp := *anchor
	b.Anchors[chainName] = &cp
	b.Version++
	return nil
}

func (s *Store) FindLeafBatchAndIndex(_ context.Context, leafHash [32]byte) (int64, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.batches {
		if b.Preparing {
			continue
		}
		for i, l := range b.Leaves {
			if l == leafHash {
				return b.BatchID, i, nil
			}
		}
	}
	return 0, 0, store.ErrNotFound
}

func (s *Store) CreateProposal(_ context.Context, p *domain.Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.proposals[p.ProposalID]; exists {
		return store.ErrAlreadyExists
	}
	cp := *p
	cp.Version = 1
	s.proposals[p.ProposalID] = &cp
	return nil
}

func (s *Store) GetProposal(_ context.Context, proposalID string) (*domain.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.proposals[proposalID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	cp.Approvals = cloneSet(p.Approvals)
	cp.Rejections = cloneSet(p.Rejections)
	return &cp, nil
}

func cloneSet(in map[string]bool) map[string]bool {
	out := make(map[string]bool, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (s *Store) ListProposals(_ context.Context) ([]*domain.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Proposal, 0, len(s.proposals))
	for _, p := range s.proposals {
		cp := *p
		cp.Approvals = cloneSet(p.Approvals)
		cp.Rejections = cloneSet(p.Rejections)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out, nil
}

// UpdateProposalCAS applies mutate under the store's single lock, failing
// with store.ErrVersionConflict if the proposal's state moved since the
// caller read it. This is the compare-and-set primitive every FSM
// transition goes through.
func (s *Store) UpdateProposalCAS(_ context.Context, proposalID string, expectedState domain.ProposalState, mutate func(p *domain.Proposal) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.proposals[proposalID]
	if !ok {
		return store.ErrNotFound
	}
	if p.State != expectedState {
		return store.ErrVersionConflict
	}
	if err := mutate(p); err != nil {
		return err
	}
	p.Version++
	return nil
}

func (s *Store) AddSigner(_ context.Context, sg *domain.Signer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sg
	cp.Active = true
	s.signers[sg.SignerID] = &cp
	return nil
}

func (s *Store) DeactivateSigner(_ context.Context, signerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sg, ok := s.signers[signerID]
	if !ok {
		return store.ErrNotFound
	}
	sg.Active = false
	return nil
}

func (s *Store) ListActiveSigners(_ context.Context) ([]*domain.Signer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Signer, 0, len(s.signers))
	for _, sg := range s.signers {
		if sg.Active {
			cp := *sg
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SignerID < out[j].SignerID })
	return out, nil
}

func (s *Store) PublicCommitment(deviceID string) ([32]byte, bool, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.devices[deviceID]
	if !ok {
		return [32]byte{}, false, false, nil
	}
	return d.PublicCommitment, d.IsActive, true, nil
}

var _ store.Store = (*Store)(nil)
