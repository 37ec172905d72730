// Copyright 2025 Certen Protocol
//
// Package multisig runs a proposal through a threshold-approval FSM:
// PENDING -> {APPROVED, REJECTED, EXPIRED}, APPROVED -> {EXECUTED, EXPIRED}.
// Every transition goes through store.Store.UpdateProposalCAS so two
// concurrent approvals (or an approval racing an expiry sweep) can never
// both succeed against the same state.
package multisig

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/certen/iot-anchor/internal/apierr"
	"github.com/certen/iot-anchor/internal/domain"
	"github.com/certen/iot-anchor/internal/store"
)

// DefaultExpiry is how long a proposal may stay in a non-terminal state
// (PENDING or APPROVED) before the expiry sweep moves it to EXPIRED.
const DefaultExpiry = 24 * time.Hour

// DefaultSweepEvery governs how often the expiry sweeper runs.
const DefaultSweepEvery = 1 * time.Minute

// EventSink receives PROPOSAL_* notifications.
type EventSink interface {
	Publish(kind string, payload interface{})
}

// Handler executes the side effect of an approved proposal (e.g. actually
// registering a device). Handlers are looked up by domain.ProposalKind.
type Handler func(ctx context.Context, payload []byte) error

// Coordinator is the multi-sig component.
type Coordinator struct {
	st         store.Store
	sink       EventSink
	expiry     time.Duration
	sweepEvery time.Duration
	logger     *log.Logger

	handlersMu sync.RWMutex
	handlers   map[domain.ProposalKind]Handler

	stopOnce sync.Once
	stopCh   chan struct{}
}

// Config configures a Coordinator.
type Config struct {
	Store      store.Store
	Sink       EventSink
	Expiry     time.Duration
	SweepEvery time.Duration
	Logger     *log.Logger
}

// New constructs a Coordinator. Call Run to start the background expiry
// sweep.
func New(cfg Config) *Coordinator {
	if cfg.Expiry <= 0 {
		cfg.Expiry = DefaultExpiry
	}
	if cfg.SweepEvery <= 0 {
		cfg.SweepEvery = DefaultSweepEvery
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[MultiSig] ", log.LstdFlags)
	}
	return &Coordinator{
		st:         cfg.Store,
		sink:       cfg.Sink,
		expiry:     cfg.Expiry,
		sweepEvery: cfg.SweepEvery,
		logger:     cfg.Logger,
		handlers:   make(map[domain.ProposalKind]Handler),
		stopCh:     make(chan struct{}),
	}
}

// RegisterHandler installs the execution side effect for a proposal kind.
// Must be called before Approve can drive that kind to EXECUTED.
func (c *Coordinator) RegisterHandler(kind domain.ProposalKind, h Handler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[kind] = h
}

// Propose creates a new PENDING proposal requiring requiredApprovals
// signer approvals before it can execute.
func (c *Coordinator) Propose(ctx context.Context, kind domain.ProposalKind, proposalID, proposer string, payload []byte, requiredApprovals int) (*domain.Proposal, error) {
	if requiredApprovals < 1 {
		return nil, apierr.New(apierr.Validation, "multisig: required_approvals must be >= 1")
	}
	now := time.Now()
	p := &domain.Proposal{
		ProposalID:        proposalID,
		Kind:              kind,
		Payload:           payload,
		RequiredApprovals: requiredApprovals,
		Approvals:         make(map[string]bool),
		Rejections:        make(map[string]bool),
		State:             domain.ProposalPending,
		CreatedAt:         now.Unix(),
		ExpiresAt:         now.Add(c.expiry).Unix(),
		Proposer:          proposer,
	}
	if err := c.st.CreateProposal(ctx, p); err != nil {
		return nil, err
	}
	c.emit(domain.EventProposalCreated, p)
	return p, nil
}

// Approve records signerID's approval. Once the approval count reaches
// RequiredApprovals the proposal transitions to APPROVED and Approve makes
// one execution attempt via Execute. If that attempt fails, the proposal
// remains APPROVED and Execute can be called again independently to retry
// it — Approve itself will reject a second call since the proposal is no
// longer PENDING.
func (c *Coordinator) Approve(ctx context.Context, proposalID, signerID string) (*domain.Proposal, error) {
	cur, err := c.st.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if cur.State != domain.ProposalPending {
		return nil, apierr.New(apierr.ConflictState, fmt.Sprintf("multisig: proposal %s is not PENDING", proposalID))
	}
	if time.Now().Unix() > cur.ExpiresAt {
		return nil, apierr.New(apierr.ConflictState, "multisig: proposal has expired")
	}

	transitioned := false
	err = c.st.UpdateProposalCAS(ctx, proposalID, domain.ProposalPending, func(p *domain.Proposal) error {
		if p.Rejections[signerID] {
			return apierr.New(apierr.Validation, "multisig: signer already rejected this proposal")
		}
		p.Approvals[signerID] = true
		if len(p.Approvals) >= p.RequiredApprovals {
			p.State = domain.ProposalApproved
			transitioned = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	updated, err := c.st.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if transitioned {
		c.emit(domain.EventProposalApproved, updated)
		return c.Execute(ctx, updated.ProposalID)
	}
	return updated, nil
}

// Reject records signerID's rejection. A proposal moves to REJECTED the
// moment any signer rejects it — a single rejection is a veto, unlike
// approvals which accumulate toward a threshold.
func (c *Coordinator) Reject(ctx context.Context, proposalID, signerID string) (*domain.Proposal, error) {
	cur, err := c.st.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if cur.State != domain.ProposalPending {
		return nil, apierr.New(apierr.ConflictState, fmt.Sprintf("multisig: proposal %s is not PENDING", proposalID))
	}

	err = c.st.UpdateProposalCAS(ctx, proposalID, domain.ProposalPending, func(p *domain.Proposal) error {
		p.Rejections[signerID] = true
		p.State = domain.ProposalRejected
		return nil
	})
	if err != nil {
		return nil, err
	}

	updated, err := c.st.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	c.emit(domain.EventProposalRejected, updated)
	return updated, nil
}

// Execute runs the registered handler for an APPROVED proposal and, on
// success, transitions it to EXECUTED. It is independently callable and
// retriable: a proposal whose handler failed stays APPROVED, and calling
// Execute again re-attempts the same handler against the same payload.
func (c *Coordinator) Execute(ctx context.Context, proposalID string) (*domain.Proposal, error) {
	p, err := c.st.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if p.State != domain.ProposalApproved {
		return nil, apierr.New(apierr.ConflictState, fmt.Sprintf("multisig: proposal %s is not APPROVED", proposalID))
	}

	c.handlersMu.RLock()
	h, ok := c.handlers[p.Kind]
	c.handlersMu.RUnlock()
	if !ok {
		c.logger.Printf("proposal %s: no handler registered for kind %s, leaving APPROVED", p.ProposalID, p.Kind)
		return p, nil
	}

	execErr := h(ctx, p.Payload)

	err = c.st.UpdateProposalCAS(ctx, proposalID, domain.ProposalApproved, func(pr *domain.Proposal) error {
		if execErr != nil {
			return execErr
		}
		pr.State = domain.ProposalExecuted
		return nil
	})
	if err != nil {
		c.logger.Printf("proposal %s: handler execution failed: %v", proposalID, err)
		return c.st.GetProposal(ctx, proposalID)
	}

	updated, err := c.st.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	c.emit(domain.EventProposalExecuted, updated)
	return updated, nil
}

// Run starts the background expiry sweep. Blocks until ctx is cancelled or
// Stop is called.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.sweepExpired(ctx)
		}
	}
}

// Stop halts the sweep goroutine started by Run.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *Coordinator) sweepExpired(ctx context.Context) {
	proposals, err := c.st.ListProposals(ctx)
	if err != nil {
		c.logger.Printf("expiry sweep: list proposals failed: %v", err)
		return
	}
	now := time.Now().Unix()
	for _, p := range proposals {
		if p.State.IsTerminal() || now <= p.ExpiresAt {
			continue
		}
		err := c.st.UpdateProposalCAS(ctx, p.ProposalID, p.State, func(pr *domain.Proposal) error {
			pr.State = domain.ProposalExpired
			return nil
		})
		if err != nil {
			if err != store.ErrVersionConflict {
				c.logger.Printf("expiry sweep: proposal %s: %v", p.ProposalID, err)
			}
			continue
		}
		updated, err := c.st.GetProposal(ctx, p.ProposalID)
		if err != nil {
			continue
		}
		c.emit(domain.EventProposalExpired, updated)
	}
}

func (c *Coordinator) emit(kind string, p *domain.Proposal) {
	if c.sink == nil {
		return
	}
	c.sink.Publish(kind, map[string]interface{}{
		"proposal_id": p.ProposalID,
		"kind":        string(p.Kind),
		"state":       string(p.State),
	})
}
