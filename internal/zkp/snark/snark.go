// Copyright 2025 Certen Protocol
//
// Package snark is the named-but-inert SNARK extension point for the ZKP
// engine: SchemeSNARK/SchemeSTARK are declared as available authentication
// schemes without a working verifier behind them, so Generate and Verify
// both fail loudly here rather than silently approving or forging a proof.
//
// The circuit shape reshapes gnark's public/private-input pattern around
// the commitment equation, commit = H("COMMIT" || device_id || H(secret)),
// so that a real circuit could be dropped in later without touching the
// Scheme interface.
package snark

import (
	"errors"

	"github.com/consensys/gnark/frontend"
)

// ErrSchemeNotImplemented is returned by both Generate and Verify. No caller
// in this repo should ever treat a SNARK/STARK proof as accepted.
var ErrSchemeNotImplemented = errors.New("snark: scheme declared but not implemented")

// CommitmentCircuit sketches the constraint shape a real circuit would need:
// prove knowledge of a secret hash that reduces to the public commitment,
// without revealing the secret hash itself.
type CommitmentCircuit struct {
	// DeviceIDHash is a public input: a fixed-width hash of device_id, since
	// gnark circuits operate over field elements, not variable-length
	// strings.
	DeviceIDHash frontend.Variable `gnark:",public"`

	// Commitment is the public commitment being proven against.
	Commitment frontend.Variable `gnark:",public"`

	// SecretHash is the private witness: H(secret). A real implementation
	// would constrain Commitment == Hash(tag, DeviceIDHash, SecretHash)
	// using an in-circuit hash gadget (e.g. MiMC), which this seam does not
	// wire up.
	SecretHash frontend.Variable
}

// Define would encode the commitment equation as R1CS constraints. It is
// intentionally incomplete: see ErrSchemeNotImplemented.
func (c *CommitmentCircuit) Define(api frontend.API) error {
	// No constraints are asserted — a circuit with no constraints proves
	// nothing, which is why Generate/Verify refuse to run it.
	return nil
}

// Generate would produce a Groth16 proof for the commitment circuit.
// Not implemented: always returns ErrSchemeNotImplemented.
func Generate(deviceID string, secret []byte) ([]byte, error) {
	return nil, ErrSchemeNotImplemented
}

// Verify would check a Groth16 proof against a public commitment.
// Not implemented: always returns ErrSchemeNotImplemented.
func Verify(proof []byte, commitment [32]byte) error {
	return ErrSchemeNotImplemented
}
