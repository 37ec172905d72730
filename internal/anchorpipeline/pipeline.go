// Copyright 2025 Certen Protocol
//
// Package anchorpipeline periodically batches pending telemetry into a
// Merkle tree under a dense monotonic batch ID, using a two-phase
// preparing -> ready commit so a crash between leaf-attach and
// batch-publish never leaves data either double-counted or silently
// lost.
package anchorpipeline

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/certen/iot-anchor/internal/domain"
	"github.com/certen/iot-anchor/internal/merkle"
	"github.com/certen/iot-anchor/internal/store"
)

// DefaultInterval is how often the periodic cut timer fires when no
// explicit interval is configured.
const DefaultInterval = 30 * time.Second

// DefaultMinBatchSize is the smallest batch the pipeline will cut on its own
// timer; a manual Flush bypasses this floor.
const DefaultMinBatchSize = 1

// EventSink receives BATCH_CREATED notifications.
type EventSink interface {
	Publish(kind string, payload interface{})
}

// Dispatcher hands a freshly committed batch off to cross-chain anchoring.
// Satisfied by internal/dispatcher.Dispatcher. targets, when non-empty,
// restricts anchoring to that explicit chain set; empty means every
// enabled chain.
type Dispatcher interface {
	Dispatch(ctx context.Context, batchID int64, root [32]byte, leafCount int, targets ...string) []domain.DispatchOutcome
}

// Pipeline is the batching component.
type Pipeline struct {
	st         store.Store
	sink       EventSink
	dispatcher Dispatcher
	interval   time.Duration
	minSize    int
	logger     *log.Logger

	runMu    sync.Mutex // serializes concurrent cut attempts
	stopOnce sync.Once
	stopCh   chan struct{}
}

// Config configures a Pipeline.
type Config struct {
	Store      store.Store
	Sink       EventSink
	Dispatcher Dispatcher
	Interval   time.Duration
	MinSize    int
	Logger     *log.Logger
}

// New constructs a Pipeline. Call Run to start the periodic cut timer.
func New(cfg Config) *Pipeline {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MinSize <= 0 {
		cfg.MinSize = DefaultMinBatchSize
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[AnchorPipeline] ", log.LstdFlags)
	}
	return &Pipeline{
		st:         cfg.Store,
		sink:       cfg.Sink,
		dispatcher: cfg.Dispatcher,
		interval:   cfg.Interval,
		minSize:    cfg.MinSize,
		logger:     cfg.Logger,
		stopCh:     make(chan struct{}),
	}
}

// Run starts the periodic batch-cut loop. Blocks until ctx is cancelled or
// Stop is called.
func (p *Pipeline) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			if _, _, err := p.Cut(ctx, p.minSize); err != nil && err != errNothingPending {
				p.logger.Printf("batch cut failed: %v", err)
			}
		}
	}
}

// Stop halts the periodic loop started by Run.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

// Flush forces an immediate cut regardless of the minimum batch size,
// provided at least one datum is pending. targets, when given, restricts
// anchoring to that explicit chain set.
func (p *Pipeline) Flush(ctx context.Context, targets ...string) (int64, []domain.DispatchOutcome, error) {
	return p.Cut(ctx, 1, targets...)
}

var errNothingPending = fmt.Errorf("anchorpipeline: no pending data to batch")

// Cut snapshots pending leaves in (submitted_at, device_id, insertion_seq)
// order, builds the tree, allocates a dense batch ID, commits
// preparing -> ready, and hands the batch to the dispatcher. It
// serializes against concurrent callers (the timer loop and a manual
// Flush) so two cuts never race over the same pending set.
func (p *Pipeline) Cut(ctx context.Context, minSize int, targets ...string) (int64, []domain.DispatchOutcome, error) {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	pending, err := p.st.ListPendingOrdered(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("anchorpipeline: list pending: %w", err)
	}
	if len(pending) < minSize {
		return 0, nil, errNothingPending
	}

	leaves := make([][32]byte, len(pending))
	ids := make([]string, len(pending))
	for i, d := range pending {
		leaves[i] = d.LeafHash
		ids[i] = d.ID
	}

	tree, err := merkle.Build(leaves)
	if err != nil {
		return 0, nil, fmt.Errorf("anchorpipeline: build tree: %w", err)
	}

	batchID, err := p.st.NextBatchID(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("anchorpipeline: allocate batch id: %w", err)
	}

	batch := &domain.MerkleBatch{
		BatchID:   batchID,
		LeafCount: len(leaves),
		Root:      tree.Root(),
		CreatedAt: time.Now().Unix(),
		Leaves:    leaves,
		Anchors:   make(map[string]*domain.ChainAnchor),
	}

	// Phase 1: durably record the batch as "preparing" before anything else
	// can observe it, so a crash here leaves an inert half-written batch
	// rather than a silently dropped one.
	if err := p.st.CreateBatchPreparing(ctx, batch); err != nil {
		return 0, nil, fmt.Errorf("anchorpipeline: create preparing batch: %w", err)
	}

	if err := p.st.AttachToBatch(ctx, ids, batchID); err != nil {
		_ = p.st.DiscardPreparingBatch(ctx, batchID)
		return 0, nil, fmt.Errorf("anchorpipeline: attach pending to batch: %w", err)
	}

	// Phase 2: publish. Once MarkBatchReady returns, the batch is visible to
	// readers and eligible for anchoring.
	if err := p.st.MarkBatchReady(ctx, batchID); err != nil {
		return 0, nil, fmt.Errorf("anchorpipeline: mark batch ready: %w", err)
	}

	p.logger.Printf("batch %d ready: %d leaves, root=%x", batchID, len(leaves), batch.Root)

	if p.sink != nil {
		p.sink.Publish(domain.EventBatchCreated, map[string]interface{}{
			"batch_id":   batchID,
			"leaf_count": len(leaves),
			"root":       fmt.Sprintf("%x", batch.Root),
		})
	}

	var dispatched []domain.DispatchOutcome
	if p.dispatcher != nil {
		dispatched = p.dispatcher.Dispatch(ctx, batchID, batch.Root, len(leaves), targets...)
	}

	return batchID, dispatched, nil
}

// InclusionProof resolves a leaf hash to its batch, recomputes the tree from
// the batch's recorded leaf order, and returns the inclusion proof plus the
// batch's anchors for verification against one or more chains.
func (p *Pipeline) InclusionProof(ctx context.Context, leafHash [32]byte) (*domain.MerkleBatch, merkle.InclusionProof, error) {
	batchID, index, err := p.st.FindLeafBatchAndIndex(ctx, leafHash)
	if err != nil {
		return nil, nil, err
	}
	batch, err := p.st.GetBatch(ctx, batchID)
	if err != nil {
		return nil, nil, err
	}
	tree, err := merkle.Build(batch.Leaves)
	if err != nil {
		return nil, nil, err
	}
	proof, err := tree.InclusionProof(index)
	if err != nil {
		return nil, nil, err
	}
	return batch, proof, nil
}
