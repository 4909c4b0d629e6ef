package ceremony

import (
	"context"

	"github.com/giuliop/ceremony/artifact"
)

// Engine is the cryptography behind a ceremony. Payloads are opaque to the
// coordinator; the engine is expected to be deterministic for everything
// but Contribute.
type Engine interface {
	// MaxSize is the largest accumulator size parameter supported.
	MaxSize() int
	// NewAccumulator creates the empty accumulator of 2^size powers.
	NewAccumulator(ctx context.Context, size int) ([]byte, error)
	// NewKey creates the initial key of a circuit from a finalized
	// accumulator payload. It returns ErrInvalidSizeParameter if the
	// accumulator is too small for the circuit.
	NewKey(ctx context.Context, variant artifact.Variant, circuit, accumulator []byte) ([]byte, error)
	// Contribute applies fresh secret randomness to payload.
	Contribute(ctx context.Context, kind artifact.Kind, payload []byte) ([]byte, error)
	// VerifyContribution checks that next is prev with exactly one valid
	// contribution applied.
	VerifyContribution(ctx context.Context, kind artifact.Kind, prev, next []byte) error
	// Seal verifies the whole chain of contributions and applies the
	// beacon to its last element.
	Seal(ctx context.Context, s *Sealing) ([]byte, error)
	// Prepare turns sealed parameters into their final form.
	Prepare(ctx context.Context, kind artifact.Kind, sealed []byte) ([]byte, error)
	// VerifyPrepared checks prepared was derived from sealed.
	VerifyPrepared(ctx context.Context, kind artifact.Kind, sealed, prepared []byte) error
}

// Sealing is the input of Engine.Seal.
type Sealing struct {
	Kind    artifact.Kind
	Variant artifact.Variant
	// Size is the accumulator size parameter.
	Size int
	// Circuit and Accumulator are the inputs a zkey was created from.
	Circuit     []byte
	Accumulator []byte
	// Contributions are the payloads after each contribution, in order,
	// the initial payload excluded.
	Contributions [][]byte
	// Beacon is the beacon challenge, see Beacon.Challenge.
	Beacon []byte
}

// KeyExport is the public output of a finalized zkey.
type KeyExport struct {
	// VerificationKey is the JSON serialized verifying key.
	VerificationKey []byte
	// Verifier is the source of a contract verifying proofs for the key.
	Verifier []byte
}

// Exporter is implemented by engines able to export finalized keys.
type Exporter interface {
	ExportKey(ctx context.Context, variant artifact.Variant, prepared []byte) (*KeyExport, error)
}
