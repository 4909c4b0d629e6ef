package verifier

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"strings"
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark/backend/groth16"
	groth16_bn254 "github.com/consensys/gnark/backend/groth16/bn254"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"

	"github.com/giuliop/ceremony/artifact"
)

type cubicCircuit struct {
	X frontend.Variable
	Y frontend.Variable `gnark:",public"`
}

func (circuit *cubicCircuit) Define(api frontend.API) error {
	x3 := api.Mul(circuit.X, circuit.X, circuit.X)
	api.AssertIsEqual(circuit.Y, api.Add(x3, circuit.X, 5))
	return nil
}

func testKeys(t *testing.T) (constraint.ConstraintSystem, groth16.ProvingKey, groth16.VerifyingKey) {
	t.Helper()
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &cubicCircuit{})
	if err != nil {
		t.Fatalf("error compiling circuit: %v", err)
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		t.Fatalf("error in groth16 setup: %v", err)
	}
	return ccs, pk, vk
}

func TestWritePuyaPy(t *testing.T) {
	_, _, vk := testKeys(t)
	var buf bytes.Buffer
	if err := WritePuyaPy(vk, &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	code := buf.String()
	for _, want := range []string{
		"class Groth16Verifier(py.ARC4Contract):",
		"VK_NB_PUBLIC_INPUTS = 1",
		"ec.scalar_mul_multi",
		"ec.pairing_check",
	} {
		if !strings.Contains(code, want) {
			t.Errorf("verifier does not contain %q", want)
		}
	}
	if strings.Contains(code, "<no value>") {
		t.Errorf("verifier has unresolved template values")
	}
	_vk := vk.(*groth16_bn254.VerifyingKey)
	if b := _vk.G1.K[1].RawBytes(); !strings.Contains(code, hex.EncodeToString(b[:])) {
		t.Errorf("verifier does not contain IC_1")
	}
	if !strings.Contains(code, `VK_BETA = "`+g2hex(_vk.G2.Beta)+`"`) {
		t.Errorf("verifier does not contain beta in AVM encoding")
	}

	buf.Reset()
	if err := WritePuyaPyContract(vk, "My Verifier", &buf); err == nil {
		t.Errorf("expected error for invalid contract name")
	}
	if err := WritePuyaPyContract(vk, "CubicVerifier", &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), "class CubicVerifier(") {
		t.Errorf("contract name not used")
	}
}

func TestVerificationKeyJSON(t *testing.T) {
	_, _, vk := testKeys(t)
	b, err := VerificationKeyJSON(vk)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if got["protocol"] != "groth16" || got["curve"] != "bn128" {
		t.Errorf("unexpected header: %v %v", got["protocol"], got["curve"])
	}
	if got["nPublic"] != float64(1) {
		t.Errorf("expected 1 public input, got %v", got["nPublic"])
	}
	if ic := got["IC"].([]any); len(ic) != 2 {
		t.Errorf("expected 2 IC points, got %d", len(ic))
	}
	if !strings.Contains(string(b), `"protocol": "groth16"`) {
		t.Errorf("expected indented json")
	}
}

func TestMarshalProof(t *testing.T) {
	ccs, pk, vk := testKeys(t)
	witness, err := frontend.NewWitness(&cubicCircuit{X: 3, Y: 35}, ecc.BN254.ScalarField())
	if err != nil {
		t.Fatalf("error creating witness: %v", err)
	}
	proof, err := groth16.Prove(ccs, pk, witness)
	if err != nil {
		t.Fatalf("error proving: %v", err)
	}
	public, err := witness.Public()
	if err != nil {
		t.Fatal(err)
	}
	if err := groth16.Verify(proof, vk, public); err != nil {
		t.Fatalf("error verifying: %v", err)
	}

	data, err := MarshalProof(proof)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(data) != ProofWords(artifact.Groth16)*32 {
		t.Errorf("expected %d bytes, got %d", ProofWords(artifact.Groth16)*32, len(data))
	}
	_proof := proof.(*groth16_bn254.Proof)
	a := _proof.Ar.RawBytes()
	if !bytes.Equal(data[:64], a[:]) {
		t.Errorf("proof does not start with A")
	}
	// the AVM reads G2 coordinates real part first
	bx0 := _proof.Bs.X.A0.Bytes()
	bx1 := _proof.Bs.X.A1.Bytes()
	if !bytes.Equal(data[64:96], bx0[:]) || !bytes.Equal(data[96:128], bx1[:]) {
		t.Errorf("B is not encoded x.A0, x.A1")
	}

	inputs, err := MarshalPublicInputs(witness)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(inputs) != 32 || inputs[31] != 35 {
		t.Errorf("unexpected public inputs %x", inputs)
	}
}

func TestVariant(t *testing.T) {
	_, _, vk := testKeys(t)
	variant, err := Variant(vk)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if variant != artifact.Groth16 {
		t.Errorf("expected groth16, got %s", variant)
	}
	if ContractName(variant) != "Groth16Verifier" || ProofWords(variant) != 8 {
		t.Errorf("unexpected groth16 renderer: %s %d", ContractName(variant), ProofWords(variant))
	}
	if ProofWords(artifact.Variant(99)) != 0 {
		t.Errorf("unknown variants have no proof layout")
	}
}

func TestInfinityEncoding(t *testing.T) {
	var p1 bn254.G1Affine
	var p2 bn254.G2Affine
	if b := g1Bytes(&p1); len(b) != 64 || !bytes.Equal(b, make([]byte, 64)) {
		t.Errorf("G1 infinity must be 64 zero bytes, got %x", b)
	}
	if b := g2Bytes(&p2); len(b) != 128 || !bytes.Equal(b, make([]byte, 128)) {
		t.Errorf("G2 infinity must be 128 zero bytes, got %x", b)
	}
	_, _, g1, _ := bn254.Generators()
	raw := g1.RawBytes()
	if !bytes.Equal(g1Bytes(&g1), raw[:]) {
		t.Errorf("G1 points are encoded as x, y")
	}
}
