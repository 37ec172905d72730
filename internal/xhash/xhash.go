// Copyright 2025 Certen Protocol
//
// Package xhash is the single canonical hashing surface for the service.
// Every downstream hash — ZKP commitments, challenges and replay keys, Merkle
// leaves and nodes, pending-datum identifiers — goes through Sum and the
// Encoder below so
// the byte encoding is identical across call sites.
//
// Hash function is keccak-256 (github.com/ethereum/go-ethereum/crypto).
package xhash

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/crypto"
)

// Size is the digest width in bytes.
const Size = 32

// Sum returns the keccak-256 digest of the concatenation of parts.
func Sum(parts ...[]byte) [32]byte {
	return crypto.Keccak256Hash(parts...)
}

// Encoder builds a byte-stable tuple encoding: strings are length-prefixed
// with a 4-byte big-endian length, integers are 8-byte big-endian unless
// stated otherwise, everything else is concatenated verbatim in the order
// appended.
type Encoder struct {
	buf []byte
}

// NewEncoder returns an empty Encoder.
func NewEncoder() *Encoder { return &Encoder{} }

// Tag appends a literal byte string (a domain-separation tag such as "COMMIT"
// or "LEAF") without a length prefix — tags are fixed per call site and their
// length is part of the documented encoding, not data to be self-describing.
func (e *Encoder) Tag(tag string) *Encoder {
	e.buf = append(e.buf, tag...)
	return e
}

// String appends a length-prefixed string.
func (e *Encoder) String(s string) *Encoder {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
	e.buf = append(e.buf, lenBuf[:]...)
	e.buf = append(e.buf, s...)
	return e
}

// Bytes appends a raw byte slice with no length prefix. Call sites use it
// for fixed-width fields (32-byte hashes, 16-byte nonces) and also for
// variable-length data (submitted payloads, a device ID in the replay key),
// whose length is then not encoded.
func (e *Encoder) Bytes(b []byte) *Encoder {
	e.buf = append(e.buf, b...)
	return e
}

// Uint64 appends an 8-byte big-endian integer.
func (e *Encoder) Uint64(v uint64) *Encoder {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	e.buf = append(e.buf, b[:]...)
	return e
}

// Bytes32 appends a fixed 32-byte array.
func (e *Encoder) Bytes32(b [32]byte) *Encoder {
	e.buf = append(e.buf, b[:]...)
	return e
}

// Sum finalizes the encoding and returns its keccak-256 digest.
func (e *Encoder) Sum() [32]byte {
	return crypto.Keccak256Hash(e.buf)
}

// Encoded returns the raw encoded bytes (for tests and debugging).
func (e *Encoder) Encoded() []byte {
	out := make([]byte, len(e.buf))
	copy(out, e.buf)
	return out
}
