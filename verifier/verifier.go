package verifier

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"
	"regexp"
	"text/template"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	fp_bn254 "github.com/consensys/gnark-crypto/ecc/bn254/fp"
	groth16_bn254 "github.com/consensys/gnark/backend/groth16/bn254"
	plonk_bn254 "github.com/consensys/gnark/backend/plonk/bn254"
	"github.com/consensys/gnark/backend/witness"

	"github.com/giuliop/ceremony/artifact"
)

// VerifyingKey is a groth16.VerifyingKey or a plonk.VerifyingKey.
type VerifyingKey interface {
	io.WriterTo
	NbPublicWitness() int
}

// Proof is a groth16.Proof or a plonk.Proof.
type Proof interface {
	io.WriterTo
}

// renderer renders the verifier contract of one proving system.
type renderer struct {
	contract string
	words    int
	template string
	// funcs checks vk is supported and returns the template functions
	// rendering it.
	funcs func(vk VerifyingKey) (template.FuncMap, error)
}

var renderers = map[artifact.Variant]renderer{
	artifact.Groth16: {
		contract: "Groth16Verifier",
		words:    8,
		template: tmplPuyaVerifierGroth16,
		funcs:    groth16Funcs,
	},
	artifact.Plonk: {
		contract: "PlonkVerifier",
		words:    25,
		template: tmplPuyaVerifierPlonk,
		funcs:    plonkFuncs,
	},
}

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Variant is the proving system of vk, which must be on BN254.
func Variant(vk VerifyingKey) (artifact.Variant, error) {
	switch vk.(type) {
	case *groth16_bn254.VerifyingKey:
		return artifact.Groth16, nil
	case *plonk_bn254.VerifyingKey:
		return artifact.Plonk, nil
	}
	return 0, fmt.Errorf("unsupported curve or proving system: %T", vk)
}

// ContractName is the default class name of the verifiers of variant.
func ContractName(variant artifact.Variant) string {
	return renderers[variant].contract
}

// ProofWords is the number of 32 bytes words of a marshaled proof of
// variant, 0 for an unknown variant.
func ProofWords(variant artifact.Variant) int {
	return renderers[variant].words
}

// WritePuyaPy generates the python code for a verifier contract
// based on the provided verifying key and writes it to the provided writer.
// The python code can by compiled to a smart contract using the PuyaPy compiler.
func WritePuyaPy(vk VerifyingKey, w io.Writer) error {
	variant, err := Variant(vk)
	if err != nil {
		return err
	}
	return WritePuyaPyContract(vk, ContractName(variant), w)
}

// WritePuyaPyContract is WritePuyaPy with a custom contract class name.
func WritePuyaPyContract(vk VerifyingKey, name string, w io.Writer) error {
	if !identifier.MatchString(name) {
		return fmt.Errorf("invalid contract name %q", name)
	}
	variant, err := Variant(vk)
	if err != nil {
		return err
	}
	r := renderers[variant]
	funcMap, err := r.funcs(vk)
	if err != nil {
		return err
	}
	funcMap["contractName"] = func() string { return name }
	funcMap["pmod"] = func() string { return fp_bn254.Modulus().String() }
	funcMap["g1hex"] = g1hex
	funcMap["g2hex"] = g2hex

	t, err := template.New(variant.String()).Funcs(funcMap).Parse(r.template)
	if err != nil {
		return err
	}
	return t.Execute(w, vk)
}

// VerificationKeyJSON exports vk as a snarkjs style verification_key.json,
// with coordinates as decimal strings.
func VerificationKeyJSON(vk VerifyingKey) ([]byte, error) {
	switch _vk := vk.(type) {
	case *groth16_bn254.VerifyingKey:
		return groth16JSON(_vk)
	case *plonk_bn254.VerifyingKey:
		return plonkJSON(_vk)
	}
	return nil, fmt.Errorf("unsupported curve or proving system: %T", vk)
}

// MarshalProof marshals a proof to the binary blob AVM verifiers expect,
// ProofWords words of 32 bytes. G1 points are 64 bytes and G2 points 128
// bytes, with the point at infinity all zeros.
func MarshalProof(proof Proof) ([]byte, error) {
	switch _proof := proof.(type) {
	case *groth16_bn254.Proof:
		return marshalGroth16Proof(_proof)
	case *plonk_bn254.Proof:
		return marshalPlonkProof(_proof)
	}
	return nil, errors.New("unsupported curve")
}

// MarshalPublicInputs extracts the public inputs of a full witness as 32
// bytes big endian words.
func MarshalPublicInputs(w witness.Witness) ([]byte, error) {
	public, err := w.Public()
	if err != nil {
		return nil, fmt.Errorf("error extracting public witness: %v", err)
	}
	// MarshalBinary packs public witness data as per gnark binary format
	// (all big-endian):
	//   - 4 bytes uint32 :number of public variables
	//   - 4 bytes uint32 :number of secret variables
	//   - 4 bytes uint32 :number of total variables
	//   - one field element per variable
	data, err := public.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("error marshaling public witness: %v", err)
	}
	return data[12:], nil
}

// g1Bytes encodes p for the AVM: x, y big endian, all zeros for the point
// at infinity.
func g1Bytes(p *bn254.G1Affine) []byte {
	if p.IsInfinity() {
		return make([]byte, 64)
	}
	b := p.RawBytes()
	return b[:]
}

// g2Bytes encodes p for the AVM: x.A0, x.A1, y.A0, y.A1 big endian, all
// zeros for the point at infinity.
func g2Bytes(p *bn254.G2Affine) []byte {
	if p.IsInfinity() {
		return make([]byte, 128)
	}
	res := make([]byte, 0, 128)
	for _, e := range []fp_bn254.Element{p.X.A0, p.X.A1, p.Y.A0, p.Y.A1} {
		b := e.Bytes()
		res = append(res, b[:]...)
	}
	return res
}

func g1hex(p bn254.G1Affine) string {
	return hex.EncodeToString(g1Bytes(&p))
}

func g2hex(p bn254.G2Affine) string {
	return hex.EncodeToString(g2Bytes(&p))
}

func fpstr(x fp_bn254.Element) string {
	bv := new(big.Int)
	x.BigInt(bv)
	return bv.String()
}
