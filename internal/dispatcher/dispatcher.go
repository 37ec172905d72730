// Copyright 2025 Certen Protocol
//
// Package dispatcher fans a committed batch out to an explicit set of
// chains in parallel, tracks each chain's outcome independently, and
// answers "is this root anchored anywhere yet" queries. One chain's
// failure never blocks or rolls back another's — there is no cross-chain
// atomicity, by design.
package dispatcher

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/certen/iot-anchor/internal/chainclient"
	"github.com/certen/iot-anchor/internal/chainregistry"
	"github.com/certen/iot-anchor/internal/domain"
	"github.com/certen/iot-anchor/internal/store"
)

// DefaultConfirmTimeout bounds how long a single chain's anchor
// transaction is given to reach finality before its outcome is recorded
// as failed.
const DefaultConfirmTimeout = 5 * time.Minute

// EventSink receives BATCH_ANCHOR_PROGRESS notifications.
type EventSink interface {
	Publish(kind string, payload interface{})
}

// Dispatcher fans a batch out to a set of chains, each backed by its own
// chainclient.Client.
type Dispatcher struct {
	registry       *chainregistry.Registry
	clients        map[string]*chainclient.Client
	st             store.Store
	sink           EventSink
	confirmTimeout time.Duration
	logger         *log.Logger
}

// Config configures a Dispatcher.
type Config struct {
	Registry       *chainregistry.Registry
	Clients        map[string]*chainclient.Client // keyed by network name
	Store          store.Store
	Sink           EventSink
	ConfirmTimeout time.Duration
	Logger         *log.Logger
}

// New constructs a Dispatcher.
func New(cfg Config) *Dispatcher {
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = DefaultConfirmTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[Dispatcher] ", log.LstdFlags)
	}
	return &Dispatcher{
		registry:       cfg.Registry,
		clients:        cfg.Clients,
		st:             cfg.Store,
		sink:           cfg.Sink,
		confirmTimeout: cfg.ConfirmTimeout,
		logger:         cfg.Logger,
	}
}

// BatchStatus is the cross-chain sync state of one anchored batch.
type BatchStatus struct {
	BatchID int64
	Root    [32]byte
	Anchors []*domain.ChainAnchor

	// Available is true once at least one chain has confirmed the batch.
	Available bool
}

// targetNetworks resolves a caller-supplied target set to registry
// entries. An empty set means "every enabled network". A named target
// that doesn't exist or isn't enabled produces an error outcome instead
// of a network to dispatch to.
func (d *Dispatcher) targetNetworks(targets []string) ([]*chainregistry.Network, []domain.DispatchOutcome) {
	if len(targets) == 0 {
		var nets []*chainregistry.Network
		for _, n := range d.registry.List() {
			if n.Enabled {
				nets = append(nets, n)
			}
		}
		return nets, nil
	}

	var nets []*chainregistry.Network
	var rejected []domain.DispatchOutcome
	for _, name := range targets {
		n, ok := d.registry.Get(name)
		if !ok || !n.Enabled {
			rejected = append(rejected, domain.DispatchOutcome{ChainName: name, Error: "unknown or disabled network"})
			continue
		}
		nets = append(nets, n)
	}
	return nets, rejected
}

// Dispatch submits the batch's root to targets (or every enabled,
// connected network when targets is empty) and returns the immediate
// per-chain send outcome. A successful send's receipt confirmation
// continues in the background, independent of the caller's context, and
// is recorded via Status / an EventBatchAnchorProgress notification.
func (d *Dispatcher) Dispatch(ctx context.Context, batchID int64, root [32]byte, leafCount int, targets ...string) []domain.DispatchOutcome {
	nets, rejected := d.targetNetworks(targets)
	outcomes := make([]domain.DispatchOutcome, len(rejected)+len(nets))
	copy(outcomes, rejected)

	var wg sync.WaitGroup
	for i, net := range nets {
		slot := &outcomes[len(rejected)+i]
		client, ok := d.clients[net.Name]
		if !ok {
			d.logger.Printf("batch %d: no client configured for enabled network %s, skipping", batchID, net.Name)
			*slot = domain.DispatchOutcome{ChainName: net.Name, Error: "no client configured"}
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			*slot = d.dispatchOne(ctx, batchID, net.Name, client, root, leafCount)
		}()
	}
	wg.Wait()
	return outcomes
}

// dispatchOne submits a single chain's anchor transaction synchronously
// and, on a successful send, launches an independent goroutine to await
// and record its confirmation.
func (d *Dispatcher) dispatchOne(ctx context.Context, batchID int64, chainName string, client *chainclient.Client, root [32]byte, leafCount int) domain.DispatchOutcome {
	d.recordAnchor(ctx, batchID, &domain.ChainAnchor{ChainName: chainName, Status: domain.AnchorPending})

	op := chainclient.AnchorOp{Root: root, LeafCount: uint64(leafCount)}
	txHash, err := client.Send(ctx, op)
	if err != nil {
		d.fail(ctx, batchID, chainName, err)
		return domain.DispatchOutcome{ChainName: chainName, Error: err.Error()}
	}

	go d.awaitConfirmation(batchID, chainName, client, txHash)
	return domain.DispatchOutcome{ChainName: chainName, TxHash: txHash}
}

// awaitConfirmation runs detached from the request that triggered the
// send, per the rule that anchor dispatch outlives the originating
// request.
func (d *Dispatcher) awaitConfirmation(batchID int64, chainName string, client *chainclient.Client, txHash string) {
	ctx, cancel := context.WithTimeout(context.Background(), d.confirmTimeout)
	defer cancel()

	receipt, err := client.WaitReceipt(ctx, txHash, d.confirmTimeout)
	if err != nil {
		d.fail(ctx, batchID, chainName, err)
		return
	}

	anchor := &domain.ChainAnchor{
		ChainName:   chainName,
		TxHash:      receipt.TxHash,
		BlockNumber: receipt.BlockNumber,
		GasUsed:     receipt.GasUsed,
		Status:      domain.AnchorConfirmed,
	}
	d.recordAnchor(ctx, batchID, anchor)
	d.logger.Printf("batch %d confirmed on %s: tx=%s block=%d", batchID, chainName, receipt.TxHash, receipt.BlockNumber)

	if d.sink != nil {
		d.sink.Publish(domain.EventBatchAnchorProgress, map[string]interface{}{
			"batch_id": batchID,
			"chain":    chainName,
			"status":   string(domain.AnchorConfirmed),
			"tx_hash":  receipt.TxHash,
		})
	}
}

func (d *Dispatcher) fail(ctx context.Context, batchID int64, chainName string, cause error) {
	d.logger.Printf("batch %d failed on %s: %v", batchID, chainName, cause)
	d.recordAnchor(ctx, batchID, &domain.ChainAnchor{
		ChainName: chainName,
		Status:    domain.AnchorFailed,
		Error:     cause.Error(),
	})
	if d.sink != nil {
		d.sink.Publish(domain.EventBatchAnchorProgress, map[string]interface{}{
			"batch_id": batchID,
			"chain":    chainName,
			"status":   string(domain.AnchorFailed),
			"error":    cause.Error(),
		})
	}
}

func (d *Dispatcher) recordAnchor(ctx context.Context, batchID int64, anchor *domain.ChainAnchor) {
	// A background context is used for the store write when the caller's
	// context already expired so the outcome is still durably recorded.
	writeCtx := ctx
	if ctx.Err() != nil {
		writeCtx = context.Background()
	}
	if err := d.st.UpdateAnchor(writeCtx, batchID, anchor.ChainName, anchor); err != nil {
		d.logger.Printf("batch %d: failed to record anchor state for %s: %v", batchID, anchor.ChainName, err)
	}
}

// Retry resubmits a batch to a single chain. It is an explicit operator
// action: nothing resubmits automatically after a failed or timed-out
// send.
func (d *Dispatcher) Retry(ctx context.Context, batchID int64, chainName string) (*domain.DispatchOutcome, error) {
	batch, err := d.st.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	client, ok := d.clients[chainName]
	if !ok {
		return nil, chainclient.ErrConnect
	}
	outcome := d.dispatchOne(ctx, batchID, chainName, client, batch.Root, batch.LeafCount)
	return &outcome, nil
}

// Status reports the cross-chain anchor state of the batch whose Merkle
// root is root. A batch is available once at least one chain has
// confirmed it.
func (d *Dispatcher) Status(ctx context.Context, root [32]byte) (*BatchStatus, error) {
	batches, err := d.st.ListBatches(ctx)
	if err != nil {
		return nil, err
	}
	for _, b := range batches {
		if b.Root != root {
			continue
		}
		status := &BatchStatus{BatchID: b.BatchID, Root: b.Root}
		for _, a := range b.Anchors {
			status.Anchors = append(status.Anchors, a)
			if a.Status == domain.AnchorConfirmed {
				status.Available = true
			}
		}
		return status, nil
	}
	return nil, store.ErrNotFound
}
