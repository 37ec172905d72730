// Copyright 2025 Certen Protocol
//
// Package firestore backs internal/store.Store with
// cloud.google.com/go/firestore. A document's UpdateTime is used as the
// CAS token: a transaction reads a document, checks the caller's expected
// generation, and writes only if it still matches — a durable map with
// optimistic concurrency control.
package firestore

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"

	gcpfirestore "cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/certen/iot-anchor/internal/domain"
	"github.com/certen/iot-anchor/internal/store"
)

const (
	collDevices   = "devices"
	collPending   = "pending_data"
	collBatches   = "merkle_batches"
	collProposals = "proposals"
	collSigners   = "signers"
	collCounters  = "counters"
)

// Config configures the Firestore-backed store.
type Config struct {
	ProjectID       string
	CredentialsFile string
	Enabled         bool
	Logger          *log.Logger
}

// Store is the Firestore-backed implementation of internal/store.Store.
type Store struct {
	app     *firebase.App
	fs      *gcpfirestore.Client
	logger  *log.Logger
	enabled bool

	// seqMu is not used by any method: batch ids and pending sequence
	// numbers always come from the counters/ documents via nextCounter,
	// which also creates a counter document on first use.
	seqMu sync.Mutex
}

// New connects to Firestore. If cfg.Enabled is false, the returned Store is
// a no-op client useful for local development.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stdout, "[FirestoreStore] ", log.LstdFlags)
	}
	s := &Store{logger: cfg.Logger, enabled: cfg.Enabled}
	if !cfg.Enabled {
		cfg.Logger.Println("firestore store is DISABLED - running in no-op mode")
		return s, nil
	}
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("firestore: FIREBASE_PROJECT_ID is required when enabled")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firestore: init firebase app: %w", err)
	}
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("firestore: create client: %w", err)
	}

	s.app = app
	s.fs = client
	cfg.Logger.Printf("firestore store initialized for project: %s", cfg.ProjectID)
	return s, nil
}

func (s *Store) Close() error {
	if s.fs == nil {
		return nil
	}
	return s.fs.Close()
}

// deviceDoc is the Firestore document shape for a Device.
type deviceDoc struct {
	DeviceID            string `firestore:"device_id"`
	DeviceName          string `firestore:"device_name"`
	DeviceType          string `firestore:"device_type"`
	PublicCommitment    []byte `firestore:"public_commitment"`
	RegisteredAt        int64  `firestore:"registered_at"`
	LastAuthenticatedAt int64  `firestore:"last_authenticated_at"`
	IsActive            bool   `firestore:"is_active"`
	TotalDataSubmitted  uint64 `firestore:"total_data_submitted"`
}

func toDeviceDoc(d *domain.Device) deviceDoc {
	return deviceDoc{
		DeviceID:            d.DeviceID,
		DeviceName:          d.DeviceName,
		DeviceType:          d.DeviceType,
		PublicCommitment:    append([]byte(nil), d.PublicCommitment[:]...),
		RegisteredAt:        d.RegisteredAt,
		LastAuthenticatedAt: d.LastAuthenticatedAt,
		IsActive:            d.IsActive,
		TotalDataSubmitted:  d.TotalDataSubmitted,
	}
}

func fromDeviceDoc(doc deviceDoc, version uint64) *domain.Device {
	d := &domain.Device{
		DeviceID:            doc.DeviceID,
		DeviceName:          doc.DeviceName,
		DeviceType:          doc.DeviceType,
		RegisteredAt:        doc.RegisteredAt,
		LastAuthenticatedAt: doc.LastAuthenticatedAt,
		IsActive:            doc.IsActive,
		TotalDataSubmitted:  doc.TotalDataSubmitted,
		Version:             version,
	}
	copy(d.PublicCommitment[:], doc.PublicCommitment)
	return d
}

func (s *Store) PutNewDevice(ctx context.Context, d *domain.Device) error {
	ref := s.fs.Collection(collDevices).Doc(d.DeviceID)
	return s.fs.RunTransaction(ctx, func(ctx context.Context, tx *gcpfirestore.Transaction) error {
		if _, err := tx.Get(ref); err == nil {
			return store.ErrAlreadyExists
		}
		return tx.Set(ref, toDeviceDoc(d))
	})
}

func (s *Store) GetDevice(ctx context.Context, deviceID string) (*domain.Device, error) {
	snap, err := s.fs.Collection(collDevices).Doc(deviceID).Get(ctx)
	if err != nil {
		return nil, store.ErrNotFound
	}
	var doc deviceDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("firestore: decode device: %w", err)
	}
	return fromDeviceDoc(doc, uint64(snap.UpdateTime.UnixNano())), nil
}

func (s *Store) SetDeviceActive(ctx context.Context, deviceID string, active bool, expectedVersion uint64) error {
	ref := s.fs.Collection(collDevices).Doc(deviceID)
	return s.fs.RunTransaction(ctx, func(ctx context.Context, tx *gcpfirestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return store.ErrNotFound
		}
		if expectedVersion != 0 && uint64(snap.UpdateTime.UnixNano()) != expectedVersion {
			return store.ErrVersionConflict
		}
		return tx.Update(ref, []gcpfirestore.Update{{Path: "is_active", Value: active}})
	})
}

func (s *Store) BumpDeviceCounter(ctx context.Context, deviceID string, delta uint64) error {
	ref := s.fs.Collection(collDevices).Doc(deviceID)
	return s.fs.RunTransaction(ctx, func(ctx context.Context, tx *gcpfirestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return store.ErrNotFound
		}
		var doc deviceDoc
		if err := snap.DataTo(&doc); err != nil {
			return err
		}
		return tx.Update(ref, []gcpfirestore.Update{
			{Path: "total_data_submitted", Value: doc.TotalDataSubmitted + delta},
		})
	})
}

func (s *Store) TouchLastAuthenticated(ctx context.Context, deviceID string, at int64) error {
	ref := s.fs.Collection(collDevices).Doc(deviceID)
	return s.fs.RunTransaction(ctx, func(ctx context.Context, tx *gcpfirestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return store.ErrNotFound
		}
		var doc deviceDoc
		if err := snap.DataTo(&doc); err != nil {
			return err
		}
		if at <= doc.LastAuthenticatedAt {
			return nil
		}
		return tx.Update(ref, []gcpfirestore.Update{{Path: "last_authenticated_at", Value: at}})
	})
}

func (s *Store) ListDevices(ctx context.Context) ([]*domain.Device, error) {
	iter := s.fs.Collection(collDevices).Documents(ctx)
	defer iter.Stop()

	var out []*domain.Device
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		var doc deviceDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, err
		}
		out = append(out, fromDeviceDoc(doc, uint64(snap.UpdateTime.UnixNano())))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out, nil
}

// pendingDoc is the Firestore shape for a PendingDatum.
type pendingDoc struct {
	DeviceID    string `firestore:"device_id"`
	Payload     string `firestore:"payload"`
	SubmittedAt int64  `firestore:"submitted_at"`
	InsertSeq   uint64 `firestore:"insertion_seq"`
	LeafHash    []byte `firestore:"leaf_hash"`
	BatchID     *int64 `firestore:"batch_id,omitempty"`
}

func (s *Store) AppendPending(ctx context.Context, p *domain.PendingDatum) error {
	seq, err := s.nextCounter(ctx, "pending_seq")
	if err != nil {
		return err
	}
	p.InsertSeq = seq

	doc := pendingDoc{
		DeviceID:    p.DeviceID,
		Payload:     string(p.Payload),
		SubmittedAt: p.SubmittedAt,
		InsertSeq:   p.InsertSeq,
		LeafHash:    append([]byte(nil), p.LeafHash[:]...),
		BatchID:     p.BatchID,
	}
	_, err = s.fs.Collection(collPending).Doc(p.ID).Set(ctx, doc)
	return err
}

func (s *Store) ListPendingOrdered(ctx context.Context) ([]*domain.PendingDatum, error) {
	iter := s.fs.Collection(collPending).Where("batch_id", "==", nil).Documents(ctx)
	defer iter.Stop()

	var out []*domain.PendingDatum
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		var doc pendingDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, err
		}
		p := &domain.PendingDatum{
			ID:          snap.Ref.ID,
			DeviceID:    doc.DeviceID,
			Payload:     json.RawMessage(doc.Payload),
			SubmittedAt: doc.SubmittedAt,
			InsertSeq:   doc.InsertSeq,
			BatchID:     doc.BatchID,
		}
		copy(p.LeafHash[:], doc.LeafHash)
		out = append(out, p)
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

func (s *Store) AttachToBatch(ctx context.Context, ids []string, batchID int64) error {
	// Firestore batched writes commit all-or-nothing.
	wb := s.fs.Batch()
	for _, id := range ids {
		ref := s.fs.Collection(collPending).Doc(id)
		wb.Update(ref, []gcpfirestore.Update{{Path: "batch_id", Value: batchID}})
	}
	_, err := wb.Commit(ctx)
	return err
}

// nextCounter atomically increments a named counter document and returns
// the new value, standing in for a SQL sequence.
func (s *Store) nextCounter(ctx context.Context, name string) (uint64, error) {
	ref := s.fs.Collection(collCounters).Doc(name)
	var next uint64
	err := s.fs.RunTransaction(ctx, func(ctx context.Context, tx *gcpfirestore.Transaction) error {
		snap, err := tx.Get(ref)
		var cur uint64
		if err == nil {
			var doc struct {
				Value uint64 `firestore:"value"`
			}
			if derr := snap.DataTo(&doc); derr == nil {
				cur = doc.Value
			}
		}
		next = cur + 1
		return tx.Set(ref, map[string]interface{}{"value": next})
	})
	return next, err
}

func (s *Store) NextBatchID(ctx context.Context) (int64, error) {
	n, err := s.nextCounter(ctx, "batch_id")
	return int64(n), err
}

type batchDoc struct {
	LeafCount int                         `firestore:"leaf_count"`
	Root      []byte                      `firestore:"root"`
	CreatedAt int64                       `firestore:"created_at"`
	Metadata  string                      `firestore:"metadata"`
	Leaves    [][]byte                    `firestore:"leaves"`
	Anchors   map[string]chainAnchorDoc   `firestore:"anchors"`
	Preparing bool                        `firestore:"preparing"`
}

type chainAnchorDoc struct {
	TxHash      string `firestore:"tx_hash"`
	BlockNumber uint64 `firestore:"block_number"`
	GasUsed     uint64 `firestore:"gas_used"`
	Status      string `firestore:"status"`
	Error       string `firestore:"error"`
}

func (s *Store) CreateBatchPreparing(ctx context.Context, b *domain.MerkleBatch) error {
	leaves := make([][]byte, len(b.Leaves))
	for i, l := range b.Leaves {
		leaves[i] = append([]byte(nil), l[:]...)
	}
	doc := batchDoc{
		LeafCount: b.LeafCount,
		Root:      append([]byte(nil), b.Root[:]...),
		CreatedAt: b.CreatedAt,
		Metadata:  b.Metadata,
		Leaves:    leaves,
		Anchors:   map[string]chainAnchorDoc{},
		Preparing: true,
	}
	ref := s.fs.Collection(collBatches).Doc(fmt.Sprintf("%d", b.BatchID))
	return s.fs.RunTransaction(ctx, func(ctx context.Context, tx *gcpfirestore.Transaction) error {
		if _, err := tx.Get(ref); err == nil {
			return store.ErrAlreadyExists
		}
		return tx.Set(ref, doc)
	})
}

func (s *Store) MarkBatchReady(ctx context.Context, batchID int64) error {
	ref := s.fs.Collection(collBatches).Doc(fmt.Sprintf("%d", batchID))
	_, err := ref.Update(ctx, []gcpfirestore.Update{{Path: "preparing", Value: false}})
	return err
}

func (s *Store) DiscardPreparingBatch(ctx context.Context, batchID int64) error {
	ref := s.fs.Collection(collBatches).Doc(fmt.Sprintf("%d", batchID))
	snap, err := ref.Get(ctx)
	if err != nil {
		return nil
	}
	var doc batchDoc
	if err := snap.DataTo(&doc); err != nil {
		return err
	}
	if !doc.Preparing {
		return nil
	}
	_, err = ref.Delete(ctx)
	return err
}

func (s *Store) GetBatch(ctx context.Context, batchID int64) (*domain.MerkleBatch, error) {
	snap, err := s.fs.Collection(collBatches).Doc(fmt.Sprintf("%d", batchID)).Get(ctx)
	if err != nil {
		return nil, store.ErrNotFound
	}
	var doc batchDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, err
	}
	return batchFromDoc(batchID, doc), nil
}

func batchFromDoc(batchID int64, doc batchDoc) *domain.MerkleBatch {
	b := &domain.MerkleBatch{
		BatchID:   batchID,
		LeafCount: doc.LeafCount,
		CreatedAt: doc.CreatedAt,
		Metadata:  doc.Metadata,
		Preparing: doc.Preparing,
		Anchors:   make(map[string]*domain.ChainAnchor, len(doc.Anchors)),
	}
	copy(b.Root[:], doc.Root)
	b.Leaves = make([][32]byte, len(doc.Leaves))
	for i, l := range doc.Leaves {
		copy(b.Leaves[i][:], l)
	}
	for name, a := range doc.Anchors {
		b.Anchors[name] = &domain.ChainAnchor{
			ChainName:   name,
			TxHash:      a.TxHash,
			BlockNumber: a.BlockNumber,
			GasUsed:     a.GasUsed,
			Status:      domain.ChainAnchorStatus(a.Status),
			Error:       a.Error,
		}
	}
	return b
}

func (s *Store) ListBatches(ctx context.Context) ([]*domain.MerkleBatch, error) {
	iter := s.fs.Collection(collBatches).Where("preparing", "==", false).Documents(ctx)
	defer iter.Stop()

	var out []*domain.MerkleBatch
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		var doc batchDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, err
		}
		var id int64
		fmt.Sscanf(snap.Ref.ID, "%d", &id)
		out = append(out, batchFromDoc(id, doc))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BatchID < out[j].BatchID })
	return out, nil
}

func (s *Store) UpdateAnchor(ctx context.Context, batchID int64, chainName string, anchor *domain.ChainAnchor) error {
	ref := s.fs.Collection(collBatches).Doc(fmt.Sprintf("%d", batchID))
	path := fmt.Sprintf("anchors.%s", chainName)
	update := chainAnchorDoc{
		TxHash:      anchor.TxHash,
		BlockNumber: anchor.BlockNumber,
		GasUsed:     anchor.GasUsed,
		Status:      string(anchor.Status),
		Error:       anchor.Error,
	}
	_, err := ref.Update(ctx, []gcpfirestore.Update{{Path: path, Value: update}})
	return err
}

func (s *Store) FindLeafBatchAndIndex(ctx context.Context, leafHash [32]byte) (int64, int, error) {
	batches, err := s.ListBatches(ctx)
	if err != nil {
		return 0, 0, err
	}
	for _, b := range batches {
		for i, l := range b.Leaves {
			if l == leafHash {
				return b.BatchID, i, nil
			}
		}
	}
	return 0, 0, store.ErrNotFound
}

type proposalDoc struct {
	Kind              string          `firestore:"kind"`
	Payload           string          `firestore:"payload"`
	RequiredApprovals int             `firestore:"required_approvals"`
	Approvals         map[string]bool `firestore:"approvals"`
	Rejections        map[string]bool `firestore:"rejections"`
	State             string          `firestore:"state"`
	CreatedAt         int64           `firestore:"created_at"`
	ExpiresAt         int64           `firestore:"expires_at"`
	Proposer          string          `firestore:"proposer"`
	ArtifactRef       string          `firestore:"artifact_ref"`
}

func toProposalDoc(p *domain.Proposal) proposalDoc {
	return proposalDoc{
		Kind:              string(p.Kind),
		Payload:           string(p.Payload),
		RequiredApprovals: p.RequiredApprovals,
		Approvals:         p.Approvals,
		Rejections:        p.Rejections,
		State:             string(p.State),
		CreatedAt:         p.CreatedAt,
		ExpiresAt:         p.ExpiresAt,
		Proposer:          p.Proposer,
		ArtifactRef:       p.ArtifactRef,
	}
}

func fromProposalDoc(id string, doc proposalDoc) *domain.Proposal {
	p := &domain.Proposal{
		ProposalID:        id,
		Kind:              domain.ProposalKind(doc.Kind),
		Payload:           json.RawMessage(doc.Payload),
		RequiredApprovals: doc.RequiredApprovals,
		Approvals:         doc.Approvals,
		Rejections:        doc.Rejections,
		State:             domain.ProposalState(doc.State),
		CreatedAt:         doc.CreatedAt,
		ExpiresAt:         doc.ExpiresAt,
		Proposer:          doc.Proposer,
		ArtifactRef:       doc.ArtifactRef,
	}
	if p.Approvals == nil {
		p.Approvals = map[string]bool{}
	}
	if p.Rejections == nil {
		p.Rejections = map[string]bool{}
	}
	return p
}

func (s *Store) CreateProposal(ctx context.Context, p *domain.Proposal) error {
	ref := s.fs.Collection(collProposals).Doc(p.ProposalID)
	return s.fs.RunTransaction(ctx, func(ctx context.Context, tx *gcpfirestore.Transaction) error {
		if _, err := tx.Get(ref); err == nil {
			return store.ErrAlreadyExists
		}
		return tx.Set(ref, toProposalDoc(p))
	})
}

func (s *Store) GetProposal(ctx context.Context, proposalID string) (*domain.Proposal, error) {
	snap, err := s.fs.Collection(collProposals).Doc(proposalID).Get(ctx)
	if err != nil {
		return nil, store.ErrNotFound
	}
	var doc proposalDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, err
	}
	return fromProposalDoc(proposalID, doc), nil
}

func (s *Store) ListProposals(ctx context.Context) ([]*domain.Proposal, error) {
	iter := s.fs.Collection(collProposals).Documents(ctx)
	defer iter.Stop()

	var out []*domain.Proposal
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		var doc proposalDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, err
		}
		out = append(out, fromProposalDoc(snap.Ref.ID, doc))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out, nil
}

// UpdateProposalCAS runs mutate inside a Firestore transaction, using the
// document's current state field as the compare value and its UpdateTime as
// the underlying optimistic-concurrency guard (Firestore re-runs the
// transaction automatically on contention).
func (s *Store) UpdateProposalCAS(ctx context.Context, proposalID string, expectedState domain.ProposalState, mutate func(p *domain.Proposal) error) error {
	ref := s.fs.Collection(collProposals).Doc(proposalID)
	return s.fs.RunTransaction(ctx, func(ctx context.Context, tx *gcpfirestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return store.ErrNotFound
		}
		var doc proposalDoc
		if err := snap.DataTo(&doc); err != nil {
			return err
		}
		p := fromProposalDoc(proposalID, doc)
		if p.State != expectedState {
			return store.ErrVersionConflict
		}
		if err := mutate(p); err != nil {
			return err
		}
		return tx.Set(ref, toProposalDoc(p))
	})
}

type signerDoc struct {
	PublicKey []byte `firestore:"public_key"`
	AddedAt   int64  `firestore:"added_at"`
	Active    bool   `firestore:"active"`
}

func (s *Store) AddSigner(ctx context.Context, sg *domain.Signer) error {
	doc := signerDoc{PublicKey: sg.PublicKey, AddedAt: sg.AddedAt, Active: true}
	_, err := s.fs.Collection(collSigners).Doc(sg.SignerID).Set(ctx, doc)
	return err
}

func (s *Store) DeactivateSigner(ctx context.Context, signerID string) error {
	ref := s.fs.Collection(collSigners).Doc(signerID)
	_, err := ref.Update(ctx, []gcpfirestore.Update{{Path: "active", Value: false}})
	return err
}

func (s *Store) ListActiveSigners(ctx context.Context) ([]*domain.Signer, error) {
	iter := s.fs.Collection(collSigners).Where("active", "==", true).Documents(ctx)
	defer iter.Stop()

	var out []*domain.Signer
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		var doc signerDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, err
		}
		out = append(out, &domain.Signer{
			SignerID:  snap.Ref.ID,
			PublicKey: doc.PublicKey,
			AddedAt:   doc.AddedAt,
			Active:    doc.Active,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SignerID < out[j].SignerID })
	return out, nil
}

func (s *Store) PublicCommitment(deviceID string) ([32]byte, bool, bool, error) {
	ctx := context.Background()
	snap, err := s.fs.Collection(collDevices).Doc(deviceID).Get(ctx)
	if err != nil {
		return [32]byte{}, false, false, nil
	}
	var doc deviceDoc
	if err := snap.DataTo(&doc); err != nil {
		return [32]byte{}, false, false, err
	}
	var commitment [32]byte
	copy(commitment[:], doc.PublicCommitment)
	return commitment, doc.IsActive, true, nil
}

var _ store.Store = (*Store)(nil)
