package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/certen/iot-anchor/internal/domain"
	"github.com/certen/iot-anchor/internal/store"
)

func TestPutNewDeviceRejectsDuplicate(t *testing.T) {
	ctx := context.Background()
	st := New()
	d := &domain.Device{DeviceID: "d1", PublicCommitment: [32]byte{1}}
	if err := st.PutNewDevice(ctx, d); err != nil {
		t.Fatalf("PutNewDevice: %v", err)
	}
	if err := st.PutNewDevice(ctx, d); !errors.Is(err, store.ErrAlreadyExists) {
		t.Fatalf("second PutNewDevice: got %v, want ErrAlreadyExists", err)
	}
}

func TestGetDeviceUnknownReturnsErrNotFound(t *testing.T) {
	st := New()
	if _, err := st.GetDevice(context.Background(), "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("GetDevice: got %v, want ErrNotFound", err)
	}
}

func TestSetDeviceActiveRejectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	st := New()
	d := &domain.Device{DeviceID: "d1", IsActive: true}
	if err := st.PutNewDevice(ctx, d); err != nil {
		t.Fatalf("PutNewDevice: %v", err)
	}
	got, err := st.GetDevice(ctx, "d1")
	if err != nil {
		t.Fatalf("GetDevice: %v", err)
	}
	if err := st.SetDeviceActive(ctx, "d1", false, got.Version); err != nil {
		t.Fatalf("SetDeviceActive with correct version: %v", err)
	}
	if err := st.SetDeviceActive(ctx, "d1", true, got.Version); !errors.Is(err, store.ErrVersionConflict) {
		t.Fatalf("SetDeviceActive with stale version: got %v, want ErrVersionConflict", err)
	}
}

func TestBumpDeviceCounterAccumulates(t *testing.T) {
	ctx := context.Background()
	st := New()
	if err := st.PutNewDevice(ctx, &domain.Device{DeviceID: "d1"}); err != nil {
		t.Fatalf("PutNewDevice: %v", err)
	}
	if err := st.BumpDeviceCounter(ctx, "d1", 3); err != nil {
		t.Fatalf("BumpDeviceCounter: %v", err)
	}
	if err := st.BumpDeviceCounter(ctx, "d1", 4); err != nil {
		t.Fatalf("BumpDeviceCounter: %v", err)
	}
	got, err := st.GetDevice(ctx, "d1")
	if err != nil {
		t.Fatalf("GetDevice: %v", err)
	}
	if got.TotalDataSubmitted != 7 {
		t.Fatalf("TotalDataSubmitted = %d, want 7", got.TotalDataSubmitted)
	}
}

func TestPublicCommitmentReportsFoundAndActive(t *testing.T) {
	ctx := context.Background()
	st := New()
	commitment := [32]byte{9, 9}
	if err := st.PutNewDevice(ctx, &domain.Device{DeviceID: "d1", PublicCommitment: commitment, IsActive: true}); err != nil {
		t.Fatalf("PutNewDevice: %v", err)
	}

	got, active, found, err := st.PublicCommitment("d1")
	if err != nil {
		t.Fatalf("PublicCommitment: %v", err)
	}
	if !found || !active || got != commitment {
		t.Fatalf("PublicCommitment(d1) = (%x, active=%v, found=%v), want (%x, true, true)", got, active, found, commitment)
	}

	_, _, found, err = st.PublicCommitment("nope")
	if err != nil {
		t.Fatalf("PublicCommitment(nope): %v", err)
	}
	if found {
		t.Fatalf("PublicCommitment(nope) reported found=true")
	}
}

func TestAppendPendingOrdersByInsertionSequence(t *testing.T) {
	ctx := context.Background()
	st := New()
	for _, id := range []string{"a", "b", "c"} {
		if err := st.AppendPending(ctx, &domain.PendingDatum{ID: id, DeviceID: "d1"}); err != nil {
			t.Fatalf("AppendPending(%s): %v", id, err)
		}
	}
	got, err := st.ListPendingOrdered(ctx)
	if err != nil {
		t.Fatalf("ListPendingOrdered: %v", err)
	}
	if len(got) != 3 || got[0].ID != "a" || got[1].ID != "b" || got[2].ID != "c" {
		t.Fatalf("ListPendingOrdered returned out-of-order or incomplete results: %+v", got)
	}
}

func TestAttachToBatchRemovesFromPending(t *testing.T) {
	ctx := context.Background()
	st := New()
	if err := st.AppendPending(ctx, &domain.PendingDatum{ID: "a", DeviceID: "d1"}); err != nil {
		t.Fatalf("AppendPending: %v", err)
	}
	if err := st.AttachToBatch(ctx, []string{"a"}, 1); err != nil {
		t.Fatalf("AttachToBatch: %v", err)
	}
	got, err := st.ListPendingOrdered(ctx)
	if err != nil {
		t.Fatalf("ListPendingOrdered: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no remaining pending entries after AttachToBatch, got %d", len(got))
	}
}

func TestNextBatchIDIsDenseAndMonotonic(t *testing.T) {
	ctx := context.Background()
	st := New()
	id1, err := st.NextBatchID(ctx)
	if err != nil {
		t.Fatalf("NextBatchID: %v", err)
	}
	id2, err := st.NextBatchID(ctx)
	if err != nil {
		t.Fatalf("NextBatchID: %v", err)
	}
	if id2 != id1+1 {
		t.Fatalf("batch ids = %d, %d; want a dense monotonic sequence", id1, id2)
	}
}

func TestCreateBatchPreparingThenDiscardRemovesIt(t *testing.T) {
	ctx := context.Background()
	st := New()
	if err := st.CreateBatchPreparing(ctx, &domain.MerkleBatch{BatchID: 1, LeafCount: 2}); err != nil {
		t.Fatalf("CreateBatchPreparing: %v", err)
	}
	if err := st.DiscardPreparingBatch(ctx, 1); err != nil {
		t.Fatalf("DiscardPreparingBatch: %v", err)
	}
	if _, err := st.GetBatch(ctx, 1); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("GetBatch after discard: got %v, want ErrNotFound", err)
	}
}

func TestMarkBatchReadyFlipsPreparingFlag(t *testing.T) {
	ctx := context.Background()
	st := New()
	if err := st.CreateBatchPreparing(ctx, &domain.MerkleBatch{BatchID: 1, LeafCount: 2}); err != nil {
		t.Fatalf("CreateBatchPreparing: %v", err)
	}
	if err := st.MarkBatchReady(ctx, 1); err != nil {
		t.Fatalf("MarkBatchReady: %v", err)
	}
	got, err := st.GetBatch(ctx, 1)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if got.Preparing {
		t.Fatalf("batch still marked Preparing after MarkBatchReady")
	}
}

func TestUpdateProposalCASRejectsMismatchedState(t *testing.T) {
	ctx := context.Background()
	st := New()
	p := &domain.Proposal{ProposalID: "p1", State: domain.ProposalPending}
	if err := st.CreateProposal(ctx, p); err != nil {
		t.Fatalf("CreateProposal: %v", err)
	}

	err := st.UpdateProposalCAS(ctx, "p1", domain.ProposalApproved, func(p *domain.Proposal) error {
		p.State = domain.ProposalExecuted
		return nil
	})
	if !errors.Is(err, store.ErrVersionConflict) {
		t.Fatalf("UpdateProposalCAS with wrong expected state: got %v, want ErrVersionConflict", err)
	}
}

func TestUpdateProposalCASAppliesMutateOnMatch(t *testing.T) {
	ctx := context.Background()
	st := New()
	p := &domain.Proposal{ProposalID: "p1", State: domain.ProposalPending}
	if err := st.CreateProposal(ctx, p); err != nil {
		t.Fatalf("CreateProposal: %v", err)
	}

	err := st.UpdateProposalCAS(ctx, "p1", domain.ProposalPending, func(p *domain.Proposal) error {
		p.State = domain.ProposalApproved
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateProposalCAS: %v", err)
	}
	got, err := st.GetProposal(ctx, "p1")
	if err != nil {
		t.Fatalf("GetProposal: %v", err)
	}
	if got.State != domain.ProposalApproved {
		t.Fatalf("State = %v, want ProposalApproved", got.State)
	}
}

func TestAddSignerThenDeactivateRemovesFromActiveList(t *testing.T) {
	ctx := context.Background()
	st := New()
	if err := st.AddSigner(ctx, &domain.Signer{SignerID: "s1"}); err != nil {
		t.Fatalf("AddSigner: %v", err)
	}
	active, err := st.ListActiveSigners(ctx)
	if err != nil {
		t.Fatalf("ListActiveSigners: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("len(active) = %d, want 1", len(active))
	}

	if err := st.DeactivateSigner(ctx, "s1"); err != nil {
		t.Fatalf("DeactivateSigner: %v", err)
	}
	active, err = st.ListActiveSigners(ctx)
	if err != nil {
		t.Fatalf("ListActiveSigners: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("len(active) = %d after deactivation, want 0", len(active))
	}
}

func TestFindLeafBatchAndIndexUnknownLeaf(t *testing.T) {
	st := New()
	if _, _, err := st.FindLeafBatchAndIndex(context.Background(), [32]byte{0xAB}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("FindLeafBatchAndIndex: got %v, want ErrNotFound", err)
	}
}
