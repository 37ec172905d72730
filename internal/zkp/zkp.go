// Copyright 2025 Certen Protocol
//
// Package zkp implements the commitment-based device identification
// protocol: an HMAC-style proof with timestamp binding and a
// replay-detection cache. It is not a general-purpose zk-SNARK. Scheme is a
// tagged sum with one variant per proving scheme — only SchemeSimple has a
// working Generate/Verify pair; SchemeSNARK and SchemeSTARK are named
// extension points, see internal/zkp/snark.

package zkp

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/certen/iot-anchor/internal/apierr"
	"github.com/certen/iot-anchor/internal/xhash"
)

// Scheme names an authentication strategy. Only SchemeSimple has a working
// implementation; SchemeSNARK/SchemeSTARK are declared extension points with
// no working verifier (see internal/zkp/snark).
type Scheme string

const (
	SchemeSimple Scheme = "SIMPLE"
	SchemeSNARK  Scheme = "SNARK"
	SchemeSTARK  Scheme = "STARK"
)

// DefaultValidityWindow bounds how far a proof's timestamp may drift from
// the verifier's clock before it is rejected as stale.
const DefaultValidityWindow = 300 * time.Second

// Proof is the wire shape of an authentication attempt.
type Proof struct {
	DeviceID string
	Nonce    [16]byte
	T        int64
	Response [32]byte

	// HSecret is re-derived by the client from its secret and included so the
	// verifier can recompute the commitment equation without ever seeing the
	// secret itself. It is NOT persisted.
	HSecret [32]byte
}

// CommitmentStore resolves a device's stored public commitment and active
// flag. It is satisfied by internal/store.Store.
type CommitmentStore interface {
	PublicCommitment(deviceID string) (commitment [32]byte, active bool, found bool, err error)
}

// Engine implements registration, proof generation, and verification for
// SchemeSimple, plus a replay-detection cache.
type Engine struct {
	validityWindow time.Duration
	logger         *log.Logger

	mu      sync.Mutex
	replay  map[[32]byte]time.Time // key -> insertion time, swept lazily
}

// Config configures an Engine.
type Config struct {
	ValidityWindow time.Duration
	Logger         *log.Logger
}

// New constructs an Engine. A zero Config falls back to DefaultValidityWindow
// and a logger bracketed "[ZKP]".
func New(cfg Config) *Engine {
	if cfg.ValidityWindow <= 0 {
		cfg.ValidityWindow = DefaultValidityWindow
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[ZKP] ", log.LstdFlags)
	}
	return &Engine{
		validityWindow: cfg.ValidityWindow,
		logger:         cfg.Logger,
		replay:         make(map[[32]byte]time.Time),
	}
}

// Commitment computes public_commitment = H("COMMIT" || device_id || H(secret)).
func Commitment(deviceID string, secret []byte) [32]byte {
	hSecret := xhash.Sum(secret)
	return commitmentFromHSecret(deviceID, hSecret)
}

func commitmentFromHSecret(deviceID string, hSecret [32]byte) [32]byte {
	return xhash.NewEncoder().Tag("COMMIT").String(deviceID).Bytes32(hSecret).Sum()
}

// Generate builds an authentication Proof for deviceID holding secret at
// time t.
func Generate(deviceID string, secret []byte, t time.Time) (*Proof, error) {
	var nonce [16]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	hSecret := xhash.Sum(secret)
	ts := t.Unix()

	challenge := xhash.NewEncoder().
		Tag("CHAL").
		String(deviceID).
		Bytes(nonce[:]).
		Uint64(uint64(ts)).
		Sum()

	response := xhash.NewEncoder().Bytes32(hSecret).Bytes32(challenge).Sum()

	return &Proof{
		DeviceID: deviceID,
		Nonce:    nonce,
		T:        ts,
		Response: response,
		HSecret:  hSecret,
	}, nil
}

// Verify checks a Proof at tVerify against the commitment store. The
// returned error, when non-nil, is always an *apierr.Error with one of
// STALE_PROOF, UNKNOWN_DEVICE, INACTIVE_DEVICE, BAD_PROOF, or REPLAY, or
// with apierr.Internal when the commitment store lookup itself fails.
func (e *Engine) Verify(store CommitmentStore, p *Proof, tVerify time.Time) error {
	// Step 1: timestamp window.
	delta := tVerify.Unix() - p.T
	if delta < 0 {
		delta = -delta
	}
	if time.Duration(delta)*time.Second > e.validityWindow {
		return apierr.New(apierr.StaleProof, "proof timestamp outside validity window")
	}

	// Step 2: device lookup.
	commitment, active, found, err := store.PublicCommitment(p.DeviceID)
	if err != nil {
		return apierr.Wrap(apierr.Internal, "commitment lookup failed", err)
	}
	if !found {
		return apierr.New(apierr.UnknownDevice, "device not registered")
	}
	if !active {
		return apierr.New(apierr.InactiveDevice, "device is inactive")
	}

	// Step 3: recompute the commitment equation — the single algebraic check.
	recomputed := commitmentFromHSecret(p.DeviceID, p.HSecret)
	if recomputed != commitment {
		return apierr.New(apierr.BadProof, "commitment mismatch")
	}

	// Step 4: replay cache, keyed H(device_id || nonce || t).
	key := xhash.NewEncoder().
		Bytes([]byte(p.DeviceID)).
		Bytes(p.Nonce[:]).
		Uint64(uint64(p.T)).
		Sum()

	e.mu.Lock()
	e.sweepLocked(tVerify)
	if _, seen := e.replay[key]; seen {
		e.mu.Unlock()
		return apierr.New(apierr.Replay, "proof already used")
	}
	e.replay[key] = tVerify
	e.mu.Unlock()

	return nil
}

// sweepLocked drops replay entries older than the validity window. Must be
// called with mu held.
func (e *Engine) sweepLocked(now time.Time) {
	for k, insertedAt := range e.replay {
		if now.Sub(insertedAt) > e.validityWindow {
			delete(e.replay, k)
		}
	}
}

// ReplayCacheSize reports the number of live replay entries, for metrics.
func (e *Engine) ReplayCacheSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.replay)
}

// EncodeNonce is a convenience for façade handlers translating a big-endian
// counter into a nonce-shaped value in tests.
func EncodeNonce(counter uint64) [16]byte {
	var n [16]byte
	binary.BigEndian.PutUint64(n[8:], counter)
	return n
}
