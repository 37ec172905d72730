// Copyright 2025 Certen Protocol
//
// Package chainclient wraps a single chain's RPC endpoint: connect,
// estimate gas, send a signed transaction, wait for its receipt, query a
// balance, decode an event log. One instance binds to one network and one
// signing key.
//
// An instance serializes nonce allocation for its signing key — a single
// sender per network at a time — via a mutex held across the
// allocate-and-bump step. The mutex is also held while the pending nonce is
// fetched from the chain, which happens on first use and after a reset;
// it is not held while a transaction is estimated or broadcast.
package chainclient

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/certen/iot-anchor/internal/apierr"
	"github.com/certen/iot-anchor/internal/backoff"
)

var (
	ErrConnect  = errors.New("chainclient: failed to connect")
	ErrTimeout  = errors.New("chainclient: timed out waiting for receipt")
	ErrReverted = errors.New("chainclient: transaction reverted")
)

// AnchorOp is the chain-agnostic description of the single on-chain
// operation this service emits: anchor(root, leaf_count, metadata).
type AnchorOp struct {
	Root      [32]byte
	LeafCount uint64
	Metadata  string
}

// Receipt is the outcome of a confirmed (or failed) anchor transaction.
type Receipt struct {
	TxHash      string
	BlockNumber uint64
	GasUsed     uint64
	Success     bool
}

// DecodedEvent is a structured decode of one anchor-contract event log.
type DecodedEvent struct {
	Topic string
	Root  [32]byte
	Data  []byte
}

// Client is one chain-client instance bound to a single network and signing
// key.
type Client struct {
	url        string
	chainID    *big.Int
	privateKey *ecdsa.PrivateKey
	fromAddr   common.Address
	contract   common.Address
	backoff    backoff.Policy
	rpcTimeout time.Duration

	eth *ethclient.Client

	nonceMu  sync.Mutex
	nonce    uint64
	nonceSet bool
}

// Config configures a Client.
type Config struct {
	URL             string
	ChainID         int64
	PrivateKeyHex   string // "" disables signing/sending (read-only client)
	ContractAddress string
	Backoff         backoff.Policy
	// RPCTimeout bounds one EstimateGas or Send call as a whole, including
	// its retries and backoff sleeps. Zero means no per-call deadline beyond
	// the caller's context.
	RPCTimeout time.Duration
}

// New connects to the network's RPC endpoint, returning ErrConnect on
// failure.
func New(ctx context.Context, cfg Config) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}

	c := &Client{
		url:        cfg.URL,
		chainID:    big.NewInt(cfg.ChainID),
		contract:   common.HexToAddress(cfg.ContractAddress),
		eth:        eth,
		backoff:    cfg.Backoff,
		rpcTimeout: cfg.RPCTimeout,
	}
	if c.backoff.MaxAttempts == 0 {
		c.backoff = backoff.DefaultPolicy()
	}

	if cfg.PrivateKeyHex != "" {
		pk, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKeyHex, "0x"))
		if err != nil {
			return nil, fmt.Errorf("chainclient: parse private key: %w", err)
		}
		c.privateKey = pk
		c.fromAddr = crypto.PubkeyToAddress(pk.PublicKey)
	}

	return c, nil
}

// Balance returns the native balance of address in wei.
func (c *Client) Balance(ctx context.Context, address common.Address) (*big.Int, error) {
	bal, err := c.eth.BalanceAt(ctx, address, nil)
	if err != nil {
		return nil, apierr.Wrap(apierr.RPCTransient, "balance query failed", err)
	}
	return bal, nil
}

// EstimateGas estimates gas units and the current suggested gas price for
// op. It never submits a transaction.
func (c *Client) EstimateGas(ctx context.Context, op AnchorOp) (gasUnits uint64, gasPriceWei *big.Int, err error) {
	ctx, cancel := c.withRPCTimeout(ctx)
	defer cancel()

	calldata := encodeAnchorCall(op)
	msg := ethereum.CallMsg{
		From: c.fromAddr,
		To:   &c.contract,
		Data: calldata,
	}

	var gas uint64
	var price *big.Int
	retryErr := backoff.Retry(ctx, c.backoff, isTransientRPCErr, func(attempt int) error {
		var innerErr error
		gas, innerErr = c.eth.EstimateGas(ctx, msg)
		if innerErr != nil {
			return innerErr
		}
		price, innerErr = c.eth.SuggestGasPrice(ctx)
		return innerErr
	})
	if retryErr != nil {
		return 0, nil, apierr.Wrap(apierr.RPCPermanent, "gas estimation failed", retryErr)
	}
	return gas, price, nil
}

// allocateNonce returns the next nonce to use, serialized per signing key.
// It fetches the pending nonce lazily (on first use and after resetNonce)
// while holding the lock, and otherwise only bumps a local counter.
func (c *Client) allocateNonce(ctx context.Context) (uint64, error) {
	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()

	if !c.nonceSet {
		n, err := c.eth.PendingNonceAt(ctx, c.fromAddr)
		if err != nil {
			return 0, err
		}
		c.nonce = n
		c.nonceSet = true
	}
	n := c.nonce
	c.nonce++
	return n, nil
}

// resetNonce forces the next allocateNonce call to re-fetch from the chain,
// used after a NonceTooLow error.
func (c *Client) resetNonce() {
	c.nonceMu.Lock()
	c.nonceSet = false
	c.nonceMu.Unlock()
}

// Send builds, signs, and broadcasts an anchor transaction. It returns the
// transaction hash without waiting for inclusion.
func (c *Client) Send(ctx context.Context, op AnchorOp) (txHash string, err error) {
	if c.privateKey == nil {
		return "", apierr.New(apierr.Internal, "chainclient: client has no signing key configured")
	}

	ctx, cancel := c.withRPCTimeout(ctx)
	defer cancel()

	var hash string
	retryErr := backoff.Retry(ctx, c.backoff, isTransientRPCErr, func(attempt int) error {
		nonce, nerr := c.allocateNonce(ctx)
		if nerr != nil {
			return nerr
		}

		gasPrice, gerr := c.eth.SuggestGasPrice(ctx)
		if gerr != nil {
			return gerr
		}

		calldata := encodeAnchorCall(op)
		tx := types.NewTransaction(nonce, c.contract, big.NewInt(0), 300_000, gasPrice, calldata)

		signer := types.LatestSignerForChainID(c.chainID)
		signedTx, serr := types.SignTx(tx, signer, c.privateKey)
		if serr != nil {
			return serr
		}

		if serr := c.eth.SendTransaction(ctx, signedTx); serr != nil {
			if isNonceTooLow(serr) {
				c.resetNonce()
			}
			return serr
		}

		hash = signedTx.Hash().Hex()
		return nil
	})

	if retryErr != nil {
		return "", apierr.Wrap(apierr.RPCPermanent, "send failed", retryErr)
	}
	return hash, nil
}

// WaitReceipt blocks until txHash is mined or deadline elapses.
func (c *Client) WaitReceipt(ctx context.Context, txHash string, deadline time.Duration) (*Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	hash := common.HexToHash(txHash)

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		receipt, err := c.eth.TransactionReceipt(ctx, hash)
		if err == nil {
			if receipt.Status == types.ReceiptStatusFailed {
				return nil, ErrReverted
			}
			return &Receipt{
				TxHash:      txHash,
				BlockNumber: receipt.BlockNumber.Uint64(),
				GasUsed:     receipt.GasUsed,
				Success:     true,
			}, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, apierr.Wrap(apierr.RPCTransient, "receipt query failed", err)
		}

		select {
		case <-ctx.Done():
			return nil, ErrTimeout
		case <-ticker.C:
		}
	}
}

// withRPCTimeout bounds ctx by rpcTimeout, if one is configured.
func (c *Client) withRPCTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.rpcTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.rpcTimeout)
}

// DecodeEvent decodes a raw anchor-contract event log into structured form.
func (c *Client) DecodeEvent(topic string, data []byte) (*DecodedEvent, error) {
	if len(data) < 32 {
		return nil, fmt.Errorf("chainclient: event data too short to contain a root")
	}
	var root [32]byte
	copy(root[:], data[:32])
	return &DecodedEvent{Topic: topic, Root: root, Data: data}, nil
}

// HealthCheck verifies RPC connectivity.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return apierr.Wrap(apierr.RPCTransient, "health check failed", err)
	}
	return nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// encodeAnchorCall ABI-encodes a call to anchor(bytes32 root, uint256
// leaf_count, string metadata). The exact deployed ABI is a configuration
// input; this is a minimal, fixed 4-byte-selector encoding sufficient for
// gas estimation and submission against a compatible contract.
func encodeAnchorCall(op AnchorOp) []byte {
	selector := crypto.Keccak256([]byte("anchor(bytes32,uint256,string)"))[:4]

	var buf []byte
	buf = append(buf, selector...)
	buf = append(buf, op.Root[:]...)

	leafCount := make([]byte, 32)
	new(big.Int).SetUint64(op.LeafCount).FillBytes(leafCount)
	buf = append(buf, leafCount...)

	// Dynamic string offset (3 static words precede it) + length + data,
	// right-padded with zeros to a 32-byte boundary per the ABI spec.
	offset := make([]byte, 32)
	new(big.Int).SetUint64(96).FillBytes(offset)
	buf = append(buf, offset...)

	metaLen := make([]byte, 32)
	new(big.Int).SetUint64(uint64(len(op.Metadata))).FillBytes(metaLen)
	buf = append(buf, metaLen...)

	meta := []byte(op.Metadata)
	pad := (32 - len(meta)%32) % 32
	buf = append(buf, meta...)
	buf = append(buf, make([]byte, pad)...)

	return buf
}

func isNonceTooLow(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "nonce too low")
}

func isTransientRPCErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	if isNonceTooLow(err) {
		return true
	}
	for _, transient := range []string{"timeout", "connection refused", "temporarily unavailable", "rate limit", "eof"} {
		if strings.Contains(msg, transient) {
			return true
		}
	}
	return false
}
