// Copyright 2025 Certen Protocol
//
// Package facade is the thin HTTP/WebSocket edge of the service: it decodes
// requests, calls into internal/zkp, internal/anchorpipeline,
// internal/dispatcher, internal/multisig, and internal/presence, and
// encodes apierr.Error as {code, message}. A struct-of-dependencies handler
// set over a bare net/http.ServeMux (no web framework), with a
// gorilla/websocket edge over internal/eventbus for the live event stream.
package facade

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/certen/iot-anchor/internal/anchorpipeline"
	"github.com/certen/iot-anchor/internal/apierr"
	"github.com/certen/iot-anchor/internal/chainregistry"
	"github.com/certen/iot-anchor/internal/dispatcher"
	"github.com/certen/iot-anchor/internal/domain"
	"github.com/certen/iot-anchor/internal/eventbus"
	"github.com/certen/iot-anchor/internal/merkle"
	"github.com/certen/iot-anchor/internal/multisig"
	"github.com/certen/iot-anchor/internal/presence"
	"github.com/certen/iot-anchor/internal/ratelimit"
	"github.com/certen/iot-anchor/internal/store"
	"github.com/certen/iot-anchor/internal/xhash"
	"github.com/certen/iot-anchor/internal/zkp"
)

// Facade wires every internal component behind net/http.
type Facade struct {
	st         store.Store
	zkp        *zkp.Engine
	pipeline   *anchorpipeline.Pipeline
	dispatcher *dispatcher.Dispatcher
	multisig   *multisig.Coordinator
	presence   *presence.Tracker
	bus        *eventbus.Bus
	registry   *chainregistry.Registry
	limiter    *ratelimit.Limiter
	rateLimit  int
	rateWindow time.Duration
	logger     *log.Logger

	upgrader websocket.Upgrader

	metrics       *prometheus.Registry
	requestsTotal *prometheus.CounterVec
	authTotal     *prometheus.CounterVec
}

// Config configures a Facade.
type Config struct {
	Store             store.Store
	ZKP               *zkp.Engine
	Pipeline          *anchorpipeline.Pipeline
	Dispatcher        *dispatcher.Dispatcher
	MultiSig          *multisig.Coordinator
	Presence          *presence.Tracker
	Bus               *eventbus.Bus
	Registry          *chainregistry.Registry
	Limiter           *ratelimit.Limiter
	RateLimitRequests int
	RateLimitWindow   time.Duration
	Logger            *log.Logger
}

// New constructs a Facade and registers its Prometheus collectors on a
// registry private to this instance (rather than the global default
// registerer), so constructing more than one Facade in a process — as
// package tests do — never trips prometheus's duplicate-registration panic.
func New(cfg Config) *Facade {
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[Facade] ", log.LstdFlags)
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Facade{
		st:         cfg.Store,
		zkp:        cfg.ZKP,
		pipeline:   cfg.Pipeline,
		dispatcher: cfg.Dispatcher,
		multisig:   cfg.MultiSig,
		presence:   cfg.Presence,
		bus:        cfg.Bus,
		registry:   cfg.Registry,
		limiter:    cfg.Limiter,
		rateLimit:  cfg.RateLimitRequests,
		rateWindow: cfg.RateLimitWindow,
		logger:     cfg.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		metrics: reg,
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "iot_anchor_requests_total",
			Help: "Total façade requests by route and outcome.",
		}, []string{"route", "outcome"}),
		authTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "iot_anchor_auth_total",
			Help: "Total authentication attempts by outcome code.",
		}, []string{"code"}),
	}
}

// Routes builds the complete *http.ServeMux, versioned under /api.
func (f *Facade) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/devices/register", f.handleRegisterDevice)
	mux.HandleFunc("POST /api/devices/authenticate", f.handleAuthenticate)
	mux.HandleFunc("POST /api/devices/data", f.handleSubmitData)
	mux.HandleFunc("GET /api/devices", f.handleListDevices)
	mux.HandleFunc("GET /api/devices/{device_id}", f.handleGetDevice)

	mux.HandleFunc("POST /api/merkle/anchor", f.handleMerkleAnchor)
	mux.HandleFunc("POST /api/merkle/verify", f.handleMerkleVerify)
	mux.HandleFunc("GET /api/merkle/batches", f.handleListBatches)
	mux.HandleFunc("GET /api/merkle/batches/{batch_id}", f.handleGetBatch)

	mux.HandleFunc("POST /api/cross-chain/anchor", f.handleCrossChainAnchor)
	mux.HandleFunc("GET /api/cross-chain/status/{root}", f.handleCrossChainStatus)
	mux.HandleFunc("POST /api/cross-chain/retry/{batch_id}/{chain}", f.handleCrossChainRetry)

	mux.HandleFunc("POST /api/realtime/device/{device_id}/heartbeat", f.handleHeartbeat)
	mux.HandleFunc("GET /api/realtime/devices/status", f.handlePresenceList)
	mux.HandleFunc("GET /api/realtime/events", f.handleEventHistory)
	mux.HandleFunc("GET /api/ws/{client_id}", f.handleWebsocket)

	mux.HandleFunc("POST /api/multisig/propose", f.handleCreateProposal)
	mux.HandleFunc("POST /api/multisig/approve", f.handleApproveProposal)
	mux.HandleFunc("POST /api/multisig/reject", f.handleRejectProposal)
	mux.HandleFunc("POST /api/multisig/execute/{proposal_id}", f.handleExecuteProposal)
	mux.HandleFunc("GET /api/multisig/proposals", f.handleListProposals)
	mux.HandleFunc("GET /api/multisig/signers", f.handleListSigners)

	// Chain registry management and operational endpoints are not part of
	// the device/merkle/multisig HTTP contract but are needed to operate
	// the service; kept outside /api.
	mux.HandleFunc("GET /chains", f.handleListChains)
	mux.HandleFunc("POST /chains/active", f.handleSetActiveChain)
	mux.Handle("GET /metrics", promhttp.HandlerFor(f.metrics, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", f.handleHealthz)

	return mux
}

// --- Devices -----------------------------------------------------------

type registerDeviceRequest struct {
	DeviceID         string `json:"device_id"`
	DeviceName       string `json:"device_name"`
	DeviceType       string `json:"device_type"`
	PublicCommitment string `json:"public_commitment"` // hex-encoded 32 bytes
}

func (f *Facade) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req registerDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		f.writeErr(w, "devices.register", apierr.New(apierr.Validation, "invalid JSON body"))
		return
	}
	commitment, err := decodeHex32(req.PublicCommitment)
	if err != nil {
		f.writeErr(w, "devices.register", apierr.New(apierr.Validation, "public_commitment must be 32 bytes hex"))
		return
	}

	d := &domain.Device{
		DeviceID:         req.DeviceID,
		DeviceName:       req.DeviceName,
		DeviceType:       req.DeviceType,
		PublicCommitment: commitment,
		RegisteredAt:     time.Now().Unix(),
		IsActive:         true,
	}
	if err := f.st.PutNewDevice(r.Context(), d); err != nil {
		if err == store.ErrAlreadyExists {
			f.writeErr(w, "devices.register", apierr.New(apierr.DeviceExists, "device already registered"))
			return
		}
		f.writeErr(w, "devices.register", apierr.Wrap(apierr.Internal, "registration failed", err))
		return
	}
	if f.bus != nil {
		f.bus.Publish(domain.EventDeviceRegistered, map[string]string{"device_id": d.DeviceID})
	}
	f.writeJSON(w, "devices.register", http.StatusCreated, deviceToWire(d))
}

func (f *Facade) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := f.st.ListDevices(r.Context())
	if err != nil {
		f.writeErr(w, "devices.list", apierr.Wrap(apierr.Internal, "list failed", err))
		return
	}
	f.writeJSON(w, "devices.list", http.StatusOK, devicesToWire(devices))
}

func (f *Facade) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("device_id")
	d, err := f.st.GetDevice(r.Context(), deviceID)
	if err != nil {
		if err == store.ErrNotFound {
			f.writeErr(w, "devices.get", apierr.New(apierr.UnknownDevice, "device not found"))
			return
		}
		f.writeErr(w, "devices.get", apierr.Wrap(apierr.Internal, "lookup failed", err))
		return
	}
	f.writeJSON(w, "devices.get", http.StatusOK, deviceToWire(d))
}

type authenticateRequest struct {
	DeviceID string `json:"device_id"`
	Nonce    string `json:"nonce"`    // hex, 16 bytes
	T        int64  `json:"t"`
	Response string `json:"response"` // hex, 32 bytes
	HSecret  string `json:"h_secret"` // hex, 32 bytes
}

func (f *Facade) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	var req authenticateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		f.writeErr(w, "devices.authenticate", apierr.New(apierr.Validation, "invalid JSON body"))
		return
	}

	nonceBytes, err1 := decodeHexN(req.Nonce, 16)
	response, err2 := decodeHex32(req.Response)
	hSecret, err3 := decodeHex32(req.HSecret)
	if err1 != nil || err2 != nil || err3 != nil {
		f.writeErr(w, "devices.authenticate", apierr.New(apierr.Validation, "malformed proof fields"))
		return
	}

	var nonce [16]byte
	copy(nonce[:], nonceBytes)

	proof := &zkp.Proof{
		DeviceID: req.DeviceID,
		Nonce:    nonce,
		T:        req.T,
		Response: response,
		HSecret:  hSecret,
	}

	verifyErr := f.zkp.Verify(f.st, proof, time.Now())
	code := "OK"
	if verifyErr != nil {
		code = string(apierr.CodeOf(verifyErr))
	}
	f.authTotal.WithLabelValues(code).Inc()

	if verifyErr != nil {
		f.writeErr(w, "devices.authenticate", verifyErr)
		return
	}

	now := time.Now()
	_ = f.st.TouchLastAuthenticated(r.Context(), req.DeviceID, now.Unix())
	if f.bus != nil {
		f.bus.Publish(domain.EventDeviceAuthenticated, map[string]string{"device_id": req.DeviceID})
	}
	f.writeJSON(w, "devices.authenticate", http.StatusOK, map[string]interface{}{"ok": true, "at": now.Unix()})
}

type submitDataRequest struct {
	DeviceID string          `json:"device_id"`
	Payload  json.RawMessage `json:"payload"`
}

func (f *Facade) handleSubmitData(w http.ResponseWriter, r *http.Request) {
	var req submitDataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		f.writeErr(w, "data.submit", apierr.New(apierr.Validation, "invalid JSON body"))
		return
	}
	deviceID := req.DeviceID

	if f.limiter != nil && !f.limiter.Allow(deviceID, f.rateLimit, f.rateWindow) {
		f.writeErr(w, "data.submit", apierr.New(apierr.ConflictState, "rate limit exceeded"))
		return
	}

	d, err := f.st.GetDevice(r.Context(), deviceID)
	if err != nil {
		if err == store.ErrNotFound {
			f.writeErr(w, "data.submit", apierr.New(apierr.UnknownDevice, "device not found"))
			return
		}
		f.writeErr(w, "data.submit", apierr.Wrap(apierr.Internal, "lookup failed", err))
		return
	}
	if !d.IsActive {
		f.writeErr(w, "data.submit", apierr.New(apierr.InactiveDevice, "device is inactive"))
		return
	}

	canonical := xhash.NewEncoder().String(deviceID).Bytes(req.Payload).Encoded()
	leaf := xhash.NewEncoder().Tag("LEAF").Bytes(canonical).Sum()

	now := time.Now().Unix()
	id := xhash.NewEncoder().String(deviceID).Uint64(uint64(now)).Bytes(req.Payload).Sum()
	datum := &domain.PendingDatum{
		ID:          hex.EncodeToString(id[:]),
		DeviceID:    deviceID,
		Payload:     req.Payload,
		SubmittedAt: now,
		LeafHash:    leaf,
	}
	if err := f.st.AppendPending(r.Context(), datum); err != nil {
		f.writeErr(w, "data.submit", apierr.Wrap(apierr.Internal, "append failed", err))
		return
	}
	_ = f.st.BumpDeviceCounter(r.Context(), deviceID, 1)
	d, err = f.st.GetDevice(r.Context(), deviceID)
	pendingCount := uint64(0)
	if err == nil {
		pendingCount = d.TotalDataSubmitted
	}

	if f.bus != nil {
		f.bus.Publish(domain.EventDataSubmitted, map[string]string{"device_id": deviceID, "id": datum.ID})
	}
	f.writeJSON(w, "data.submit", http.StatusAccepted, map[string]interface{}{"accepted": true, "pending_count": pendingCount})
}

func (f *Facade) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("device_id")
	f.presence.Heartbeat(deviceID)
	w.WriteHeader(http.StatusNoContent)
	f.requestsTotal.WithLabelValues("realtime.heartbeat", strconv.Itoa(http.StatusNoContent)).Inc()
}

func (f *Facade) handlePresenceList(w http.ResponseWriter, r *http.Request) {
	f.writeJSON(w, "realtime.devices_status", http.StatusOK, f.presence.ListStatuses())
}

// --- Merkle / batches ----------------------------------------------------

func (f *Facade) handleMerkleAnchor(w http.ResponseWriter, r *http.Request) {
	batchID, dispatched, err := f.pipeline.Flush(r.Context())
	if err != nil {
		f.writeErr(w, "merkle.anchor", apierr.New(apierr.NoPending, "no pending data to batch"))
		return
	}
	f.writeJSON(w, "merkle.anchor", http.StatusOK, f.anchorResponse(r.Context(), batchID, dispatched))
}

type crossChainAnchorRequest struct {
	Targets []string `json:"targets"`
}

// handleCrossChainAnchor cuts a batch the same way handleMerkleAnchor does,
// but dispatches only to the caller's explicit target set instead of every
// enabled network.
func (f *Facade) handleCrossChainAnchor(w http.ResponseWriter, r *http.Request) {
	var req crossChainAnchorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		f.writeErr(w, "cross_chain.anchor", apierr.New(apierr.Validation, "invalid JSON body"))
		return
	}
	if len(req.Targets) == 0 {
		f.writeErr(w, "cross_chain.anchor", apierr.New(apierr.Validation, "targets must name at least one chain"))
		return
	}
	batchID, dispatched, err := f.pipeline.Flush(r.Context(), req.Targets...)
	if err != nil {
		f.writeErr(w, "cross_chain.anchor", apierr.New(apierr.NoPending, "no pending data to batch"))
		return
	}
	f.writeJSON(w, "cross_chain.anchor", http.StatusOK, f.anchorResponse(r.Context(), batchID, dispatched))
}

func (f *Facade) anchorResponse(ctx context.Context, batchID int64, dispatched []domain.DispatchOutcome) map[string]interface{} {
	resp := map[string]interface{}{"batch_id": batchID, "dispatched": dispatched}
	if b, err := f.st.GetBatch(ctx, batchID); err == nil {
		resp["leaf_count"] = b.LeafCount
		resp["root"] = "0x" + hex.EncodeToString(b.Root[:])
	}
	return resp
}

func (f *Facade) handleCrossChainStatus(w http.ResponseWriter, r *http.Request) {
	root, err := decodeHex32(r.PathValue("root"))
	if err != nil {
		f.writeErr(w, "cross_chain.status", apierr.New(apierr.Validation, "root must be 32 bytes hex"))
		return
	}
	status, err := f.dispatcher.Status(r.Context(), root)
	if err != nil {
		if err == store.ErrNotFound {
			f.writeErr(w, "cross_chain.status", apierr.New(apierr.NotFound, "no batch with that root"))
			return
		}
		f.writeErr(w, "cross_chain.status", apierr.Wrap(apierr.Internal, "status lookup failed", err))
		return
	}
	f.writeJSON(w, "cross_chain.status", http.StatusOK, map[string]interface{}{
		"batch_id":  status.BatchID,
		"root":      "0x" + hex.EncodeToString(status.Root[:]),
		"anchors":   status.Anchors,
		"available": status.Available,
	})
}

// handleCrossChainRetry re-dispatches a single chain's anchor transaction
// for a batch that previously failed or was never attempted — the
// operator-facing edge onto dispatcher.Retry.
func (f *Facade) handleCrossChainRetry(w http.ResponseWriter, r *http.Request) {
	batchID, err := strconv.ParseInt(r.PathValue("batch_id"), 10, 64)
	if err != nil {
		f.writeErr(w, "cross_chain.retry", apierr.New(apierr.Validation, "batch_id must be an integer"))
		return
	}
	chain := r.PathValue("chain")
	outcome, err := f.dispatcher.Retry(r.Context(), batchID, chain)
	if err != nil {
		f.writeErr(w, "cross_chain.retry", apierr.Wrap(apierr.RPCPermanent, "retry failed", err))
		return
	}
	f.writeJSON(w, "cross_chain.retry", http.StatusOK, outcome)
}

func (f *Facade) handleListBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := f.st.ListBatches(r.Context())
	if err != nil {
		f.writeErr(w, "merkle.batches.list", apierr.Wrap(apierr.Internal, "list failed", err))
		return
	}
	f.writeJSON(w, "merkle.batches.list", http.StatusOK, batchesToWire(batches))
}

func (f *Facade) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("batch_id"), 10, 64)
	if err != nil {
		f.writeErr(w, "merkle.batches.get", apierr.New(apierr.Validation, "batch_id must be an integer"))
		return
	}
	b, err := f.st.GetBatch(r.Context(), id)
	if err != nil {
		if err == store.ErrNotFound {
			f.writeErr(w, "merkle.batches.get", apierr.New(apierr.NotFound, "batch not found"))
			return
		}
		f.writeErr(w, "merkle.batches.get", apierr.Wrap(apierr.Internal, "lookup failed", err))
		return
	}
	f.writeJSON(w, "merkle.batches.get", http.StatusOK, batchToWire(b))
}

type proofStepWire struct {
	Sibling string `json:"sibling"`
	Side    string `json:"side"`
}

type merkleVerifyRequest struct {
	BatchID  int64           `json:"batch_id"`
	LeafHash string          `json:"leaf_hash"`
	Proof    []proofStepWire `json:"proof"`
}

// handleMerkleVerify checks a caller-supplied inclusion proof for a leaf
// against the root recorded for batch_id, wiring internal/merkle.Verify to
// the HTTP edge.
func (f *Facade) handleMerkleVerify(w http.ResponseWriter, r *http.Request) {
	var req merkleVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		f.writeErr(w, "merkle.verify", apierr.New(apierr.Validation, "invalid JSON body"))
		return
	}
	leaf, err := decodeHex32(req.LeafHash)
	if err != nil {
		f.writeErr(w, "merkle.verify", apierr.New(apierr.Validation, "leaf_hash must be 32 bytes hex"))
		return
	}
	proof := make(merkle.InclusionProof, 0, len(req.Proof))
	for _, step := range req.Proof {
		sibling, err := decodeHex32(step.Sibling)
		if err != nil {
			f.writeErr(w, "merkle.verify", apierr.New(apierr.Validation, "proof sibling must be 32 bytes hex"))
			return
		}
		proof = append(proof, merkle.ProofStep{Sibling: sibling, Side: merkle.Side(step.Side)})
	}

	b, err := f.st.GetBatch(r.Context(), req.BatchID)
	if err != nil {
		if err == store.ErrNotFound {
			f.writeErr(w, "merkle.verify", apierr.New(apierr.NotFound, "batch not found"))
			return
		}
		f.writeErr(w, "merkle.verify", apierr.Wrap(apierr.Internal, "lookup failed", err))
		return
	}

	valid := merkle.Verify(leaf, proof, b.Root)
	f.writeJSON(w, "merkle.verify", http.StatusOK, map[string]bool{"valid": valid})
}

// --- Proposals -----------------------------------------------------------

type createProposalRequest struct {
	Kind              string          `json:"kind"`
	ProposalID        string          `json:"proposal_id"`
	Proposer          string          `json:"proposer"`
	Payload           json.RawMessage `json:"payload"`
	RequiredApprovals int             `json:"required_approvals"`
}

func (f *Facade) handleCreateProposal(w http.ResponseWriter, r *http.Request) {
	var req createProposalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		f.writeErr(w, "multisig.propose", apierr.New(apierr.Validation, "invalid JSON body"))
		return
	}
	p, err := f.multisig.Propose(r.Context(), domain.ProposalKind(req.Kind), req.ProposalID, req.Proposer, req.Payload, req.RequiredApprovals)
	if err != nil {
		f.writeErr(w, "multisig.propose", err)
		return
	}
	f.writeJSON(w, "multisig.propose", http.StatusCreated, map[string]interface{}{
		"proposal_id": p.ProposalID,
		"expires_at":  p.ExpiresAt,
	})
}

func (f *Facade) handleListProposals(w http.ResponseWriter, r *http.Request) {
	proposals, err := f.st.ListProposals(r.Context())
	if err != nil {
		f.writeErr(w, "multisig.proposals.list", apierr.Wrap(apierr.Internal, "list failed", err))
		return
	}
	f.writeJSON(w, "multisig.proposals.list", http.StatusOK, proposals)
}

type proposalActionRequest struct {
	ProposalID string `json:"proposal_id"`
	SignerID   string `json:"signer_id"`
}

func (f *Facade) handleApproveProposal(w http.ResponseWriter, r *http.Request) {
	var req proposalActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		f.writeErr(w, "multisig.approve", apierr.New(apierr.Validation, "invalid JSON body"))
		return
	}
	p, err := f.multisig.Approve(r.Context(), req.ProposalID, req.SignerID)
	if err != nil {
		f.writeErr(w, "multisig.approve", err)
		return
	}
	f.writeJSON(w, "multisig.approve", http.StatusOK, map[string]interface{}{"state": p.State})
}

func (f *Facade) handleRejectProposal(w http.ResponseWriter, r *http.Request) {
	var req proposalActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		f.writeErr(w, "multisig.reject", apierr.New(apierr.Validation, "invalid JSON body"))
		return
	}
	p, err := f.multisig.Reject(r.Context(), req.ProposalID, req.SignerID)
	if err != nil {
		f.writeErr(w, "multisig.reject", err)
		return
	}
	f.writeJSON(w, "multisig.reject", http.StatusOK, map[string]interface{}{"state": p.State})
}

// handleExecuteProposal runs the registered handler for an APPROVED
// proposal. Unlike the auto-execute attempt inside Approve, this is
// independently callable: a proposal whose handler previously failed stays
// APPROVED and can be retried here without re-approving it.
func (f *Facade) handleExecuteProposal(w http.ResponseWriter, r *http.Request) {
	proposalID := r.PathValue("proposal_id")
	p, err := f.multisig.Execute(r.Context(), proposalID)
	if err != nil {
		f.writeErr(w, "multisig.execute", err)
		return
	}
	executed := p.State == domain.ProposalExecuted
	f.writeJSON(w, "multisig.execute", http.StatusOK, map[string]interface{}{
		"executed": executed,
		"artifact": p,
	})
}

func (f *Facade) handleListSigners(w http.ResponseWriter, r *http.Request) {
	signers, err := f.st.ListActiveSigners(r.Context())
	if err != nil {
		f.writeErr(w, "multisig.signers.list", apierr.Wrap(apierr.Internal, "list failed", err))
		return
	}
	f.writeJSON(w, "multisig.signers.list", http.StatusOK, signers)
}

// --- Chains ----------------------------------------------------------------

func (f *Facade) handleListChains(w http.ResponseWriter, r *http.Request) {
	f.writeJSON(w, "chains.list", http.StatusOK, f.registry.List())
}

type setActiveChainRequest struct {
	Name string `json:"name"`
}

func (f *Facade) handleSetActiveChain(w http.ResponseWriter, r *http.Request) {
	var req setActiveChainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		f.writeErr(w, "chains.set_active", apierr.New(apierr.Validation, "invalid JSON body"))
		return
	}
	if err := f.registry.SetActive(req.Name); err != nil {
		f.writeErr(w, "chains.set_active", apierr.New(apierr.NotFound, err.Error()))
		return
	}
	f.writeJSON(w, "chains.set_active", http.StatusOK, map[string]bool{"ok": true})
}

// --- Events / websocket ---------------------------------------------------

func (f *Facade) handleEventHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	f.writeJSON(w, "realtime.events", http.StatusOK, f.bus.History(limit))
}

// wsFrame is an inbound control frame from a websocket client.
type wsFrame struct {
	Type  string `json:"type"` // "subscribe" | "unsubscribe" | "ping"
	Topic string `json:"topic"`
}

// handleWebsocket upgrades the connection and streams bus events the client
// has subscribed to. subscribe/unsubscribe frames change the live topic
// filter without reconnecting; ping is answered with a {"type":"pong"}
// frame so a client can detect a dead connection without a transport-level
// ping/pong handshake.
func (f *Facade) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	clientID := r.PathValue("client_id")

	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Printf("websocket upgrade failed for client %s: %v", clientID, err)
		return
	}
	defer conn.Close()

	sub := f.bus.Subscribe()
	defer sub.Close()

	f.logger.Printf("client %s connected", clientID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	topics := make(chan []string, 1)

	go func() {
		defer cancel()
		var subscribed []string
		for {
			var frame wsFrame
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			switch frame.Type {
			case "subscribe":
				subscribed = appendTopic(subscribed, frame.Topic)
				select {
				case topics <- subscribed:
				case <-ctx.Done():
					return
				}
			case "unsubscribe":
				subscribed = removeTopic(subscribed, frame.Topic)
				select {
				case topics <- subscribed:
				case <-ctx.Done():
					return
				}
			case "ping":
				if err := conn.WriteJSON(map[string]string{"type": "pong"}); err != nil {
					return
				}
			}
		}
	}()

	var filter map[string]bool
	for {
		select {
		case <-ctx.Done():
			return
		case want := <-topics:
			filter = toSet(want)
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			if len(filter) > 0 && !filter[ev.Kind] {
				continue
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}

func appendTopic(topics []string, topic string) []string {
	if topic == "" {
		return topics
	}
	for _, t := range topics {
		if t == topic {
			return topics
		}
	}
	return append(topics, topic)
}

func removeTopic(topics []string, topic string) []string {
	out := topics[:0]
	for _, t := range topics {
		if t != topic {
			out = append(out, t)
		}
	}
	return out
}

func toSet(topics []string) map[string]bool {
	if len(topics) == 0 {
		return nil
	}
	set := make(map[string]bool, len(topics))
	for _, t := range topics {
		set[t] = true
	}
	return set
}

func (f *Facade) handleHealthz(w http.ResponseWriter, r *http.Request) {
	f.writeJSON(w, "healthz", http.StatusOK, map[string]string{"status": "ok"})
}

// --- Wire shapes -----------------------------------------------------------
//
// domain.Device and domain.MerkleBatch carry [32]byte fields that Go's
// default JSON encoding renders as arrays of small integers. The HTTP
// contract calls for lowercase 0x-prefixed hex, so responses that carry
// these fields go through the conversions below instead of being encoded
// directly.

type deviceWire struct {
	DeviceID            string `json:"device_id"`
	DeviceName          string `json:"device_name"`
	DeviceType          string `json:"device_type"`
	PublicCommitment    string `json:"public_commitment"`
	RegisteredAt        int64  `json:"registered_at"`
	LastAuthenticatedAt int64  `json:"last_authenticated_at"`
	IsActive            bool   `json:"is_active"`
	TotalDataSubmitted  uint64 `json:"total_data_submitted"`
}

func deviceToWire(d *domain.Device) deviceWire {
	return deviceWire{
		DeviceID:            d.DeviceID,
		DeviceName:          d.DeviceName,
		DeviceType:          d.DeviceType,
		PublicCommitment:    "0x" + hex.EncodeToString(d.PublicCommitment[:]),
		RegisteredAt:        d.RegisteredAt,
		LastAuthenticatedAt: d.LastAuthenticatedAt,
		IsActive:            d.IsActive,
		TotalDataSubmitted:  d.TotalDataSubmitted,
	}
}

func devicesToWire(devices []*domain.Device) []deviceWire {
	out := make([]deviceWire, len(devices))
	for i, d := range devices {
		out[i] = deviceToWire(d)
	}
	return out
}

type batchWire struct {
	BatchID   int64                         `json:"batch_id"`
	LeafCount int                           `json:"leaf_count"`
	Root      string                        `json:"root"`
	CreatedAt int64                         `json:"created_at"`
	Metadata  string                        `json:"metadata,omitempty"`
	Anchors   map[string]*domain.ChainAnchor `json:"anchors"`
	Preparing bool                          `json:"preparing,omitempty"`
}

func batchToWire(b *domain.MerkleBatch) batchWire {
	return batchWire{
		BatchID:   b.BatchID,
		LeafCount: b.LeafCount,
		Root:      "0x" + hex.EncodeToString(b.Root[:]),
		CreatedAt: b.CreatedAt,
		Metadata:  b.Metadata,
		Anchors:   b.Anchors,
		Preparing: b.Preparing,
	}
}

func batchesToWire(batches []*domain.MerkleBatch) []batchWire {
	out := make([]batchWire, len(batches))
	for i, b := range batches {
		out[i] = batchToWire(b)
	}
	return out
}

// --- Helpers -------------------------------------------------------------

func (f *Facade) writeJSON(w http.ResponseWriter, route string, status int, v interface{}) {
	f.requestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *Facade) writeErr(w http.ResponseWriter, route string, err error) {
	code := apierr.CodeOf(err)
	status := httpStatus(code)
	f.requestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"code":    string(code),
		"message": errMessage(err),
	})
}

func errMessage(err error) string {
	if e, ok := apierr.As(err); ok {
		return e.Message
	}
	return "internal error"
}

func httpStatus(code apierr.Code) int {
	switch code {
	case apierr.Validation:
		return http.StatusBadRequest
	case apierr.NotFound, apierr.UnknownDevice:
		return http.StatusNotFound
	case apierr.ConflictState, apierr.DeviceExists, apierr.PersistConflict, apierr.NoPending:
		return http.StatusConflict
	case apierr.Unauthenticated, apierr.StaleProof, apierr.BadProof, apierr.Replay:
		return http.StatusUnauthorized
	case apierr.Forbidden, apierr.InactiveDevice:
		return http.StatusForbidden
	case apierr.RPCTransient:
		return http.StatusServiceUnavailable
	case apierr.RPCPermanent:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeHex32(s string) ([32]byte, error) {
	var out [32]byte
	b, err := decodeHexN(s, 32)
	if err != nil {
		return out, err
	}
	copy(out[:], b)
	return out, nil
}

func decodeHexN(s string, n int) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(b) != n {
		return nil, apierr.New(apierr.Validation, "unexpected byte length")
	}
	return b, nil
}
