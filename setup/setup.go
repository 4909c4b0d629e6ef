package setup

import (
	"fmt"
	"io"
	"math/big"

	"github.com/algorand/go-algorand-sdk/v2/encoding/msgpack"
	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254"
	kzg_bn254 "github.com/consensys/gnark-crypto/ecc/bn254/kzg"
	"github.com/consensys/gnark/backend/groth16/bn254/mpcsetup"
	"github.com/consensys/gnark/backend/plonk"
	"github.com/consensys/gnark/constraint"
	gp "github.com/mdehoog/gnark-ptau"
)

// Conf specifies where the SRS of a Plonk setup comes from, either a trusted
// ceremony or a test only SRS with a known secret, not suitable for
// production.
type Conf int

const (
	Trusted Conf = iota
	TestOnly
)

// SRS derives the KZG SRS of the commons of a sealed accumulator.
func SRS(c *mpcsetup.SrsCommons) *kzg_bn254.SRS {
	var srs kzg_bn254.SRS
	srs.Pk.G1 = make([]bn254.G1Affine, len(c.G1.Tau))
	copy(srs.Pk.G1, c.G1.Tau)
	srs.Vk.G1 = c.G1.Tau[0]
	srs.Vk.G2[0] = c.G2.Tau[0]
	srs.Vk.G2[1] = c.G2.Tau[1]
	srs.Vk.Lines[0] = bn254.PrecomputeLines(srs.Vk.G2[0])
	srs.Vk.Lines[1] = bn254.PrecomputeLines(srs.Vk.G2[1])
	return &srs
}

// AccumulatorSRS reads the KZG SRS of a final accumulator payload.
func AccumulatorSRS(payload []byte) (*kzg_bn254.SRS, error) {
	var a accumulator
	if err := msgpack.Decode(payload, &a); err != nil {
		return nil, fmt.Errorf("accumulator is not finalized: %v", err)
	}
	var srs kzg_bn254.SRS
	if err := deserialize(&srs, a.SRS); err != nil {
		return nil, fmt.Errorf("error reading SRS: %v", err)
	}
	return &srs, nil
}

// ImportSnarkjsPTau reads the KZG SRS of a snarkjs .ptau file.
func ImportSnarkjsPTau(r io.Reader) (*kzg_bn254.SRS, error) {
	srs, err := gp.ToSRS(r)
	if err != nil {
		return nil, fmt.Errorf("error converting to SRS: %v", err)
	}
	_, _, g1Gen, g2Gen := bn254.Generators()
	if len(srs.Pk.G1) == 0 || !srs.Pk.G1[0].Equal(&g1Gen) || !srs.Vk.G2[0].Equal(&g2Gen) {
		return nil, fmt.Errorf("SRS does not start with the bn254 generators")
	}
	return srs, nil
}

// PlonkSize is the number of powers a Plonk setup of ccs needs.
func PlonkSize(ccs constraint.ConstraintSystem) uint64 {
	return ecc.NextPowerOfTwo(uint64(ccs.GetNbConstraints()+ccs.GetNbPublicVariables())) + 3
}

// Run sets up a Plonk system using either the given trusted srs or a test
// only one, as specified by the setup parameter.
func Run(ccs constraint.ConstraintSystem, srs *kzg_bn254.SRS, setup Conf) (
	plonk.ProvingKey, plonk.VerifyingKey, error) {

	switch setup {
	case Trusted:
		if srs == nil {
			return nil, nil, fmt.Errorf("trusted setup needs an SRS")
		}
	case TestOnly:
		var err error
		srs, err = kzg_bn254.NewSRS(PlonkSize(ccs), big.NewInt(-1))
		if err != nil {
			return nil, nil, fmt.Errorf("error creating SRS:  %v", err)
		}
	default:
		return nil, nil, fmt.Errorf("unsupported setup: %d", setup)
	}
	return PlonkSetup(ccs, srs)
}

// PlonkSetup derives Plonk keys for ccs from a KZG SRS, in canonical and
// Lagrange form.
func PlonkSetup(ccs constraint.ConstraintSystem, srs *kzg_bn254.SRS) (
	pk plonk.ProvingKey, vk plonk.VerifyingKey, err error) {

	defer guard("plonk setup", &err)
	if ccs.Field().Cmp(ecc.BN254.ScalarField()) != 0 {
		return nil, nil, fmt.Errorf("unsupported field: circuit is not on bn254")
	}
	size := PlonkSize(ccs)
	if uint64(len(srs.Pk.G1)) < size {
		return nil, nil, fmt.Errorf("you required %d G1 parameters, but only %d are "+
			"available", size, len(srs.Pk.G1))
	}
	n := size - 3

	canonical := &kzg_bn254.SRS{Vk: srs.Vk}
	canonical.Pk.G1 = srs.Pk.G1[:size]

	lagrange := &kzg_bn254.SRS{Vk: srs.Vk}
	lagrange.Pk.G1, err = kzg_bn254.ToLagrangeG1(srs.Pk.G1[:n])
	if err != nil {
		return nil, nil, fmt.Errorf("error converting SRS to Lagrange form: %v", err)
	}

	return plonk.Setup(ccs, canonical, lagrange)
}
