package setup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/algorand/go-algorand-sdk/v2/encoding/msgpack"
	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/backend/groth16/bn254/mpcsetup"
	cs "github.com/consensys/gnark/constraint/bn254"

	"github.com/giuliop/ceremony"
	"github.com/giuliop/ceremony/artifact"
	"github.com/giuliop/ceremony/log"
	"github.com/giuliop/ceremony/verifier"
)

// MaxSize is the largest accumulator size parameter, 2^28 powers.
const MaxSize = 28

// ErrUnsupportedVariant is returned when creating a key for a variant with
// no circuit specific phase.
var ErrUnsupportedVariant = errors.New("variant has no circuit specific phase, use PlonkSetup")

// Engine implements ceremony.Engine and ceremony.Exporter on BN254.
type Engine struct {
	log log.Logger
}

// NewEngine returns the gnark engine.
func NewEngine(l log.Logger) *Engine {
	if l == nil {
		l = log.DefaultLogger()
	}
	return &Engine{log: l.Named("gnark")}
}

func (e *Engine) MaxSize() int { return MaxSize }

func (e *Engine) NewAccumulator(ctx context.Context, size int) ([]byte, error) {
	if size < 1 || size > MaxSize {
		return nil, fmt.Errorf("%w: %d", ceremony.ErrInvalidSizeParameter, size)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return serialize(mpcsetup.NewPhase1(uint64(1) << size))
}

func (e *Engine) NewKey(ctx context.Context, variant artifact.Variant, circuit, accumulator []byte) (payload []byte, err error) {
	defer guard("initializing phase 2", &err)
	if variant != artifact.Groth16 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedVariant, variant)
	}
	r1cs, commons, err := e.phase2Inputs(circuit, accumulator)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var p mpcsetup.Phase2
	p.Initialize(r1cs, commons)
	return serialize(&p)
}

func (e *Engine) Contribute(ctx context.Context, kind artifact.Kind, payload []byte) (next []byte, err error) {
	defer guard("contributing", &err)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch kind {
	case artifact.PTau:
		var p mpcsetup.Phase1
		if err := deserialize(&p, payload); err != nil {
			return nil, err
		}
		p.Contribute()
		return serialize(&p)
	case artifact.ZKey:
		var p mpcsetup.Phase2
		if err := deserialize(&p, payload); err != nil {
			return nil, err
		}
		p.Contribute()
		return serialize(&p)
	}
	return nil, fmt.Errorf("unknown kind %s", kind)
}

func (e *Engine) VerifyContribution(ctx context.Context, kind artifact.Kind, prev, next []byte) (err error) {
	defer guard("verifying contribution", &err)
	if err := ctx.Err(); err != nil {
		return err
	}
	switch kind {
	case artifact.PTau:
		var p, n mpcsetup.Phase1
		if err := deserialize(&p, prev); err != nil {
			return err
		}
		if err := deserialize(&n, next); err != nil {
			return err
		}
		return p.Verify(&n)
	case artifact.ZKey:
		var p, n mpcsetup.Phase2
		if err := deserialize(&p, prev); err != nil {
			return err
		}
		if err := deserialize(&n, next); err != nil {
			return err
		}
		return p.Verify(&n)
	}
	return fmt.Errorf("unknown kind %s", kind)
}

func (e *Engine) Seal(ctx context.Context, s *ceremony.Sealing) (sealed []byte, err error) {
	defer guard("sealing", &err)
	if len(s.Contributions) == 0 {
		return nil, fmt.Errorf("nothing to seal")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch s.Kind {
	case artifact.PTau:
		phases := make([]*mpcsetup.Phase1, len(s.Contributions))
		for i, b := range s.Contributions {
			phases[i] = new(mpcsetup.Phase1)
			if err := deserialize(phases[i], b); err != nil {
				return nil, fmt.Errorf("contribution %d: %v", i+1, err)
			}
		}
		commons, err := mpcsetup.VerifyPhase1(uint64(1)<<s.Size, s.Beacon, phases...)
		if err != nil {
			return nil, err
		}
		return serialize(&commons)

	case artifact.ZKey:
		r1cs, commons, err := e.phase2Inputs(s.Circuit, s.Accumulator)
		if err != nil {
			return nil, err
		}
		phases := make([]*mpcsetup.Phase2, len(s.Contributions))
		for i, b := range s.Contributions {
			phases[i] = new(mpcsetup.Phase2)
			if err := deserialize(phases[i], b); err != nil {
				return nil, fmt.Errorf("contribution %d: %v", i+1, err)
			}
		}
		pk, vk, err := mpcsetup.VerifyPhase2(r1cs, commons, s.Beacon, phases...)
		if err != nil {
			return nil, err
		}
		var k keys
		if k.PK, err = serialize(pk); err != nil {
			return nil, err
		}
		if k.VK, err = serialize(vk); err != nil {
			return nil, err
		}
		return msgpack.Encode(&k), nil
	}
	return nil, fmt.Errorf("unknown kind %s", s.Kind)
}

// Prepare derives the KZG SRS of sealed commons. Sealed keys are already in
// their final form and are only checked.
func (e *Engine) Prepare(ctx context.Context, kind artifact.Kind, sealed []byte) (prepared []byte, err error) {
	defer guard("preparing", &err)
	switch kind {
	case artifact.PTau:
		var commons mpcsetup.SrsCommons
		if err := deserialize(&commons, sealed); err != nil {
			return nil, err
		}
		if len(commons.G2.Tau) < 2 {
			return nil, fmt.Errorf("accumulator too small for a KZG SRS")
		}
		srs, err := serialize(SRS(&commons))
		if err != nil {
			return nil, err
		}
		return msgpack.Encode(&accumulator{Commons: sealed, SRS: srs}), nil
	case artifact.ZKey:
		if _, _, err := Keys(sealed); err != nil {
			return nil, err
		}
		return sealed, nil
	}
	return nil, fmt.Errorf("unknown kind %s", kind)
}

func (e *Engine) VerifyPrepared(ctx context.Context, kind artifact.Kind, sealed, prepared []byte) error {
	want, err := e.Prepare(ctx, kind, sealed)
	if err != nil {
		return err
	}
	if !bytes.Equal(want, prepared) {
		return fmt.Errorf("final %s is not derived from the sealed parameters", kind)
	}
	return nil
}

// ExportKey renders the verification key and the PuyaPy verifier of final
// Groth16 keys.
func (e *Engine) ExportKey(ctx context.Context, variant artifact.Variant, prepared []byte) (*ceremony.KeyExport, error) {
	if variant != artifact.Groth16 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedVariant, variant)
	}
	_, vk, err := Keys(prepared)
	if err != nil {
		return nil, err
	}
	export, err := Export(vk)
	if err != nil {
		return nil, err
	}
	e.log.Debugw("exported key", "variant", variant, "verifier_bytes", len(export.Verifier))
	return export, nil
}

// Export renders the verification key and the PuyaPy verifier of a Groth16
// or Plonk verifying key.
func Export(vk verifier.VerifyingKey) (*ceremony.KeyExport, error) {
	vkJSON, err := verifier.VerificationKeyJSON(vk)
	if err != nil {
		return nil, fmt.Errorf("error exporting verification key: %v", err)
	}
	var contract bytes.Buffer
	if err := verifier.WritePuyaPy(vk, &contract); err != nil {
		return nil, fmt.Errorf("error writing PuyaPy verifier: %v", err)
	}
	return &ceremony.KeyExport{VerificationKey: vkJSON, Verifier: contract.Bytes()}, nil
}

// phase2Inputs parses a circuit and the commons of a final accumulator
// truncated to the circuit domain.
func (e *Engine) phase2Inputs(circuit, acc []byte) (*cs.R1CS, *mpcsetup.SrsCommons, error) {
	r1cs, err := ReadR1CS(circuit)
	if err != nil {
		return nil, nil, err
	}
	var a accumulator
	if err := msgpack.Decode(acc, &a); err != nil {
		return nil, nil, fmt.Errorf("accumulator is not finalized: %v", err)
	}
	var commons mpcsetup.SrsCommons
	if err := deserialize(&commons, a.Commons); err != nil {
		return nil, nil, err
	}
	n := DomainSize(r1cs.GetNbConstraints())
	if uint64(len(commons.G1.AlphaTau)) < n {
		return nil, nil, fmt.Errorf("%w: circuit needs %d powers, accumulator has %d",
			ceremony.ErrInvalidSizeParameter, n, len(commons.G1.AlphaTau))
	}
	e.log.Debugw("phase 2 inputs", "constraints", r1cs.GetNbConstraints(), "domain", n)
	return r1cs, truncate(&commons, n), nil
}

// accumulator is the payload of a final accumulator.
type accumulator struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	Commons []byte `codec:"commons"`
	SRS     []byte `codec:"srs"`
}

// keys is the payload of a sealed or final circuit key.
type keys struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	PK []byte `codec:"pk"`
	VK []byte `codec:"vk"`
}

// Keys parses the payload of a final circuit key.
func Keys(payload []byte) (groth16.ProvingKey, groth16.VerifyingKey, error) {
	var k keys
	if err := msgpack.Decode(payload, &k); err != nil {
		return nil, nil, fmt.Errorf("error decoding keys: %v", err)
	}
	pk := groth16.NewProvingKey(ecc.BN254)
	if err := deserialize(pk, k.PK); err != nil {
		return nil, nil, fmt.Errorf("proving key: %v", err)
	}
	vk := groth16.NewVerifyingKey(ecc.BN254)
	if err := deserialize(vk, k.VK); err != nil {
		return nil, nil, fmt.Errorf("verifying key: %v", err)
	}
	return pk, vk, nil
}

// ReadR1CS parses a serialized BN254 R1CS.
func ReadR1CS(b []byte) (*cs.R1CS, error) {
	ccs := groth16.NewCS(ecc.BN254)
	if err := deserialize(ccs, b); err != nil {
		return nil, fmt.Errorf("%w: not a BN254 r1cs: %v", ceremony.ErrInvalidSizeParameter, err)
	}
	r1cs, ok := ccs.(*cs.R1CS)
	if !ok {
		return nil, fmt.Errorf("%w: constraint system is a %T", ceremony.ErrInvalidSizeParameter, ccs)
	}
	return r1cs, nil
}

// DomainSize is the evaluation domain of a circuit with the given number of
// constraints.
func DomainSize(constraints int) uint64 {
	return ecc.NextPowerOfTwo(uint64(constraints))
}

func truncate(c *mpcsetup.SrsCommons, n uint64) *mpcsetup.SrsCommons {
	var t mpcsetup.SrsCommons
	t.G1.Tau = c.G1.Tau[:2*n-1]
	t.G1.AlphaTau = c.G1.AlphaTau[:n]
	t.G1.BetaTau = c.G1.BetaTau[:n]
	t.G2.Tau = c.G2.Tau[:n]
	t.G2.Beta = c.G2.Beta
	return &t
}

func serialize(w io.WriterTo) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("error serializing: %v", err)
	}
	return buf.Bytes(), nil
}

// deserialize reads b entirely into r.
func deserialize(r io.ReaderFrom, b []byte) error {
	n, err := r.ReadFrom(bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("error deserializing: %v", err)
	}
	if n != int64(len(b)) {
		return fmt.Errorf("error deserializing: %d trailing bytes", int64(len(b))-n)
	}
	return nil
}

// guard turns gnark panics on malformed input into errors.
func guard(op string, err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%s: %v", op, r)
	}
}
