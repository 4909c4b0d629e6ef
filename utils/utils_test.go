package utils

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/consensys/gnark/backend/groth16"

	"github.com/giuliop/ceremony/log/testlogger"
	"github.com/giuliop/ceremony/testutils"
)

func TestProveAndSerialize(t *testing.T) {
	ccs, err := CompileR1CS(&testutils.CubicCircuit{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		t.Fatalf("error in groth16 setup: %v", err)
	}
	cc := &CompiledCircuit{Ccs: ccs, Pk: pk, Vk: vk}

	path := filepath.Join(t.TempDir(), "cubic.bin")
	if err := SerializeCompiledCircuit(cc, path); err != nil {
		t.Fatalf("error serializing: %v", err)
	}
	loaded, err := DeserializeCompiledCircuit(path)
	if err != nil {
		t.Fatalf("error deserializing: %v", err)
	}
	if loaded.Ccs.GetNbConstraints() != ccs.GetNbConstraints() {
		t.Errorf("constraints differ after deserialization")
	}

	vp, err := loaded.Verify(testutils.CubicAssignment(3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	args, err := vp.AbiEncode()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := len(args[0].([][]byte)); n != 8 {
		t.Errorf("expected 8 proof words, got %d", n)
	}
	if n := len(args[1].([][]byte)); n != 1 {
		t.Errorf("expected 1 public input, got %d", n)
	}

	if _, err := loaded.Verify(&testutils.CubicCircuit{X: 3, Y: 36}); err == nil {
		t.Errorf("expected error for a wrong assignment")
	}

	r1cs, err := MarshalR1CS(ccs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := LoadCompiledCircuit(r1cs, []byte("not a key")); err == nil {
		t.Errorf("expected error loading a bad key")
	}
}

func TestAbiEncodeProofAndPublicInputs(t *testing.T) {
	if _, err := AbiEncodeProofAndPublicInputs(make([]byte, 255), nil); err == nil {
		t.Errorf("expected error for a short proof")
	}
	if _, err := AbiEncodeProofAndPublicInputs(make([]byte, 256), make([]byte, 33)); err == nil {
		t.Errorf("expected error for unaligned public inputs")
	}
	args, err := AbiEncodeProofAndPublicInputs(make([]byte, 256), make([]byte, 64))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := len(args[1].([][]byte)); n != 2 {
		t.Errorf("expected 2 public inputs, got %d", n)
	}
	args, err = AbiEncodeProofAndPublicInputs(make([]byte, 800), make([]byte, 32))
	if err != nil {
		t.Fatalf("unexpected error for a plonk proof: %v", err)
	}
	if n := len(args[0].([][]byte)); n != 25 {
		t.Errorf("expected 25 proof words, got %d", n)
	}
}

func TestUpToDate(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "Verifier.py")
	target := filepath.Join(dir, "Verifier.approval.teal")
	if upToDate(source, target) {
		t.Errorf("missing source should not be up to date")
	}
	for _, f := range []string{source, target} {
		if err := os.WriteFile(f, nil, 0644); err != nil {
			t.Fatal(err)
		}
	}
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(source, past, past); err != nil {
		t.Fatal(err)
	}
	if !upToDate(source, target) {
		t.Errorf("newer target should be up to date")
	}
	if upToDate(source, target, filepath.Join(dir, "missing")) {
		t.Errorf("missing target should not be up to date")
	}
}

// fakePuyaPy installs a shell script standing in for algokit, which writes
// the outputs of the given contract names and counts its runs in dir/runs.
func fakePuyaPy(t *testing.T, dir string, contracts ...string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	script := "#!/bin/sh\necho run >> " + filepath.Join(dir, "runs") + "\n" +
		"for a; do case $a in --out-dir=*) out=${a#--out-dir=};; esac; done\n"
	for _, c := range contracts {
		for _, suffix := range verifierOutputs {
			script += "touch \"$out/" + c + suffix + "\"\n"
		}
	}
	path := filepath.Join(dir, "algokit")
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	old := puyapy
	puyapy = path
	t.Cleanup(func() { puyapy = old })
}

func runs(t *testing.T, dir string) int {
	data, err := os.ReadFile(filepath.Join(dir, "runs"))
	if os.IsNotExist(err) {
		return 0
	}
	if err != nil {
		t.Fatal(err)
	}
	return strings.Count(string(data), "run")
}

func TestCompileVerifier(t *testing.T) {
	ctx := context.Background()
	l := testlogger.New(t)
	bin, out := t.TempDir(), t.TempDir()
	fakePuyaPy(t, bin, "Cubic")

	ccs, err := CompileR1CS(&testutils.CubicCircuit{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		t.Fatalf("error in groth16 setup: %v", err)
	}
	cc := &CompiledCircuit{Ccs: ccs, Pk: pk, Vk: vk}
	source := filepath.Join(t.TempDir(), "Cubic.py")
	if err := cc.WritePuyaPyVerifier(source, "Cubic"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(source, past, past); err != nil {
		t.Fatal(err)
	}

	if err := CompileVerifier(ctx, l, source, out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(out, "Cubic.approval.teal")); err != nil {
		t.Errorf("expected compiled contract: %v", err)
	}
	if err := CompileVerifier(ctx, l, source, out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := runs(t, bin); n != 1 {
		t.Errorf("expected 1 compilation of an up to date verifier, got %d", n)
	}

	// a class not named after the file leaves the expected outputs missing
	other := filepath.Join(filepath.Dir(source), "Other.py")
	if err := os.WriteFile(other, nil, 0644); err != nil {
		t.Fatal(err)
	}
	if err := CompileVerifier(ctx, l, other, out); err == nil {
		t.Errorf("expected error for missing outputs")
	}
}

func TestCompileVerifierFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "algokit")
	if err := os.WriteFile(path, []byte("#!/bin/sh\necho syntax error\nexit 1\n"), 0755); err != nil {
		t.Fatal(err)
	}
	old := puyapy
	puyapy = path
	defer func() { puyapy = old }()

	source := filepath.Join(dir, "Cubic.py")
	if err := os.WriteFile(source, nil, 0644); err != nil {
		t.Fatal(err)
	}
	err := CompileVerifier(context.Background(), testlogger.New(t), source, dir)
	if err == nil || !strings.Contains(err.Error(), "syntax error") {
		t.Errorf("expected compiler output in error, got %v", err)
	}
}
