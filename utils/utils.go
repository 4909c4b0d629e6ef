// package utils contains functions and types to compile circuits for a
// ceremony, prove with the resulting keys and hand proofs to AVM verifiers.
package utils

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/algorand/go-algorand-sdk/v2/encoding/msgpack"
	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/backend/witness"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"

	"github.com/giuliop/ceremony/artifact"
	"github.com/giuliop/ceremony/log"
	"github.com/giuliop/ceremony/setup"
	"github.com/giuliop/ceremony/verifier"
)

// CompileR1CS compiles a circuit definition to a BN254 R1CS.
func CompileR1CS(circuit frontend.Circuit) (constraint.ConstraintSystem, error) {
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, circuit)
	if err != nil {
		return nil, fmt.Errorf("error compiling circuit: %v", err)
	}
	return ccs, nil
}

// MarshalR1CS serializes a constraint system as a ceremony circuit file.
func MarshalR1CS(ccs constraint.ConstraintSystem) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := ccs.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("error serializing circuit: %v", err)
	}
	return buf.Bytes(), nil
}

// CompiledCircuit is a compiled circuit with the keys of a finalized
// ceremony.
type CompiledCircuit struct {
	Ccs constraint.ConstraintSystem
	Pk  groth16.ProvingKey
	Vk  groth16.VerifyingKey
}

// VerifiedProof is a proof and its witness, generated after verifying the proof
type VerifiedProof struct {
	Proof   groth16.Proof
	Witness witness.Witness
}

// LoadCompiledCircuit pairs a ceremony circuit file with the payload of its
// final key.
func LoadCompiledCircuit(circuit, finalKey []byte) (*CompiledCircuit, error) {
	ccs, err := setup.ReadR1CS(circuit)
	if err != nil {
		return nil, err
	}
	pk, vk, err := setup.Keys(finalKey)
	if err != nil {
		return nil, err
	}
	return &CompiledCircuit{Ccs: ccs, Pk: pk, Vk: vk}, nil
}

// Verify generates a proof from a circuit assignment and verifies it
// using gnark
func (cc *CompiledCircuit) Verify(assignment frontend.Circuit) (*VerifiedProof, error) {
	w, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("error creating witness: %v", err)
	}
	publicInputs, err := w.Public()
	if err != nil {
		return nil, fmt.Errorf("error creating public inputs: %v", err)
	}
	proof, err := groth16.Prove(cc.Ccs, cc.Pk, w)
	if err != nil {
		return nil, fmt.Errorf("error creating Groth16 proof: %v", err)
	}
	if err := groth16.Verify(proof, cc.Vk, publicInputs); err != nil {
		return nil, fmt.Errorf("error verifying Groth16 proof: %v", err)
	}
	return &VerifiedProof{proof, w}, nil
}

// WritePuyaPyVerifier writes to file python code that the PuyaPy compiler can
// compile to a smart contract verifier for the circuit.
func (cc *CompiledCircuit) WritePuyaPyVerifier(filename, contractName string) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("error creating file: %v", err)
	}
	defer file.Close()

	if err := verifier.WritePuyaPyContract(cc.Vk, contractName, file); err != nil {
		return fmt.Errorf("error writing PuyaPy contract: %v", err)
	}
	return nil
}

// WriteProof writes a proof as a binary blob that can be passed to AVM verifiers
func (vp *VerifiedProof) WriteProof(w io.Writer) error {
	data, err := verifier.MarshalProof(vp.Proof)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("error writing proof: %v", err)
	}
	return nil
}

// WritePublicInputs writes the public inputs as a binary blob that can be passed
// to AVM verifiers
func (vp *VerifiedProof) WritePublicInputs(w io.Writer) error {
	data, err := verifier.MarshalPublicInputs(vp.Witness)
	if err != nil {
		return fmt.Errorf("error extracting public inputs: %v", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("error writing public inputs: %v", err)
	}
	return nil
}

// AbiEncode returns the proof and public inputs in the ABI format expected
// by the verifiers.
func (vp *VerifiedProof) AbiEncode() ([]interface{}, error) {
	var proof, inputs bytes.Buffer
	if err := vp.WriteProof(&proof); err != nil {
		return nil, err
	}
	if err := vp.WritePublicInputs(&inputs); err != nil {
		return nil, err
	}
	return AbiEncodeProofAndPublicInputs(proof.Bytes(), inputs.Bytes())
}

// AbiEncodeProofAndPublicInputs encodes the []byte proof and public inputs into the ABI
// format expected by the verifiers. The proof is a Groth16 or Plonk proof as
// marshaled by verifier.MarshalProof.
func AbiEncodeProofAndPublicInputs(proof []byte, publicInputs []byte) ([]interface{}, error) {
	groth16Len := verifier.ProofWords(artifact.Groth16) * 32
	plonkLen := verifier.ProofWords(artifact.Plonk) * 32
	if len(proof) != groth16Len && len(proof) != plonkLen {
		return nil, fmt.Errorf("proof must be %d (groth16) or %d (plonk) bytes, got %d",
			groth16Len, plonkLen, len(proof))
	}
	if len(publicInputs)%32 != 0 {
		return nil, fmt.Errorf("public inputs must be 32-byte aligned")
	}
	var proofAbi, publicInputsAbi [][]byte
	for i := 0; i < len(proof); i += 32 {
		proofAbi = append(proofAbi, proof[i:i+32])
	}
	for i := 0; i < len(publicInputs); i += 32 {
		publicInputsAbi = append(publicInputsAbi, publicInputs[i:i+32])
	}
	return []interface{}{proofAbi, publicInputsAbi}, nil
}

// compiledCircuitBytes contains the compiled circuit pre-serialized to bytes
type compiledCircuitBytes struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	Ccs []byte `codec:"ccs"`
	Pk  []byte `codec:"pk"`
	Vk  []byte `codec:"vk"`
}

// SerializeCompiledCircuit serializes a compiled circuit to file
func SerializeCompiledCircuit(cc *CompiledCircuit, path string) error {
	var ccsB, pkb, vkb bytes.Buffer
	if _, err := cc.Ccs.WriteTo(&ccsB); err != nil {
		return fmt.Errorf("error serializing circuit: %v", err)
	}
	if _, err := cc.Pk.WriteTo(&pkb); err != nil {
		return fmt.Errorf("error serializing proving key: %v", err)
	}
	if _, err := cc.Vk.WriteTo(&vkb); err != nil {
		return fmt.Errorf("error serializing verifying key: %v", err)
	}
	c := compiledCircuitBytes{Ccs: ccsB.Bytes(), Pk: pkb.Bytes(), Vk: vkb.Bytes()}
	if err := os.WriteFile(path, msgpack.Encode(&c), 0644); err != nil {
		return fmt.Errorf("error writing compiled circuit to file: %v", err)
	}
	return nil
}

// DeserializeCompiledCircuit deserializes a compiled circuit from file
func DeserializeCompiledCircuit(path string) (*CompiledCircuit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading compiled circuit file: %v", err)
	}
	var c compiledCircuitBytes
	if err := msgpack.Decode(data, &c); err != nil {
		return nil, fmt.Errorf("error decoding compiled circuit: %v", err)
	}

	cc := &CompiledCircuit{
		Ccs: groth16.NewCS(ecc.BN254),
		Pk:  groth16.NewProvingKey(ecc.BN254),
		Vk:  groth16.NewVerifyingKey(ecc.BN254),
	}
	if _, err := cc.Ccs.ReadFrom(bytes.NewReader(c.Ccs)); err != nil {
		return nil, fmt.Errorf("error reading CCS data: %v", err)
	}
	if _, err := cc.Pk.ReadFrom(bytes.NewReader(c.Pk)); err != nil {
		return nil, fmt.Errorf("error reading PK data: %v", err)
	}
	if _, err := cc.Vk.ReadFrom(bytes.NewReader(c.Vk)); err != nil {
		return nil, fmt.Errorf("error reading VK data: %v", err)
	}
	return cc, nil
}

// puyapy is the command compiling PuyaPy contracts.
var puyapy = "algokit"

// verifierOutputs are the files puyapy writes for a contract, by suffix of
// the contract name.
var verifierOutputs = []string{".approval.teal", ".clear.teal", ".arc56.json"}

// CompileVerifier compiles a PuyaPy verifier to TEAL in outDir with
// `algokit compile py`. The contract class must be named after the source
// file, as WritePuyaPyVerifier does. Nothing is run when all outputs are
// newer than source.
func CompileVerifier(ctx context.Context, l log.Logger, source, outDir string) error {
	if l == nil {
		l = log.DefaultLogger()
	}
	stem := artifact.Stem(source)
	outputs := make([]string, len(verifierOutputs))
	for i, suffix := range verifierOutputs {
		outputs[i] = filepath.Join(outDir, stem+suffix)
	}
	if upToDate(source, outputs...) {
		l.Debugw("verifier up to date", "source", source)
		return nil
	}

	args := []string{"compile", "py", source, "--out-dir=" + outDir}
	l.Infow("compiling verifier", "cmd", puyapy+" "+strings.Join(args, " "))
	out, err := exec.CommandContext(ctx, puyapy, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s\ncompilation failed: %v", out, err)
	}
	for _, f := range outputs {
		if _, err := os.Stat(f); err != nil {
			return fmt.Errorf("compilation did not produce %s, is the contract class named %s?",
				filepath.Base(f), stem)
		}
	}
	return nil
}

// upToDate reports whether all targets exist and are not older than source.
func upToDate(source string, targets ...string) bool {
	src, err := os.Stat(source)
	if err != nil {
		return false
	}
	for _, target := range targets {
		out, err := os.Stat(target)
		if err != nil || src.ModTime().After(out.ModTime()) {
			return false
		}
	}
	return true
}
