package verifier

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"math/big"
	"strings"
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254"
	fr_bn254 "github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/backend/plonk"
	plonk_bn254 "github.com/consensys/gnark/backend/plonk/bn254"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/scs"
	"github.com/consensys/gnark/test/unsafekzg"

	"github.com/giuliop/ceremony/artifact"
)

// plonkProof proves the cubic circuit for x = 3 and returns the verifying
// key, the marshaled proof and public inputs.
func plonkProof(t *testing.T) (*plonk_bn254.VerifyingKey, plonk.Proof, []byte, []byte) {
	t.Helper()
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), scs.NewBuilder, &cubicCircuit{})
	if err != nil {
		t.Fatalf("error compiling circuit: %v", err)
	}
	srs, srsLagrange, err := unsafekzg.NewSRS(ccs)
	if err != nil {
		t.Fatalf("error creating SRS: %v", err)
	}
	pk, vk, err := plonk.Setup(ccs, srs, srsLagrange)
	if err != nil {
		t.Fatalf("error in plonk setup: %v", err)
	}
	witness, err := frontend.NewWitness(&cubicCircuit{X: 3, Y: 35}, ecc.BN254.ScalarField())
	if err != nil {
		t.Fatalf("error creating witness: %v", err)
	}
	proof, err := plonk.Prove(ccs, pk, witness)
	if err != nil {
		t.Fatalf("error proving: %v", err)
	}
	public, err := witness.Public()
	if err != nil {
		t.Fatal(err)
	}
	if err := plonk.Verify(proof, vk, public); err != nil {
		t.Fatalf("error verifying: %v", err)
	}
	data, err := MarshalProof(proof)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	inputs, err := MarshalPublicInputs(witness)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return vk.(*plonk_bn254.VerifyingKey), proof, data, inputs
}

func TestWritePuyaPyPlonk(t *testing.T) {
	vk, _, _, _ := plonkProof(t)
	variant, err := Variant(vk)
	if err != nil || variant != artifact.Plonk {
		t.Fatalf("expected plonk, got %s %v", variant, err)
	}

	var buf bytes.Buffer
	if err := WritePuyaPy(vk, &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	code := buf.String()
	for _, want := range []string{
		"class PlonkVerifier(py.ARC4Contract):",
		"VK_NB_PUBLIC_INPUTS = 1",
		"StaticArray[Bytes32, typing.Literal[25]]",
		`VK_QK = "` + g1hex(vk.Qk) + `"`,
		`G2_SRS = "` + g2hex(vk.Kzg.G2[0]) + g2hex(vk.Kzg.G2[1]) + `"`,
		"VK_DOMAIN_SIZE = " + big.NewInt(int64(vk.Size)).String(),
		"ec.pairing_check",
	} {
		if !strings.Contains(code, want) {
			t.Errorf("verifier does not contain %q", want)
		}
	}
	if strings.Contains(code, "<no value>") {
		t.Errorf("verifier has unresolved template values")
	}

	buf.Reset()
	if err := WritePuyaPyContract(vk, "CubicVerifier", &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), "class CubicVerifier(") {
		t.Errorf("contract name not used")
	}

	custom := *vk
	custom.CommitmentConstraintIndexes = []uint64{1}
	if err := WritePuyaPy(&custom, &buf); err == nil {
		t.Errorf("expected error for custom gates")
	}
}

func TestPlonkVerificationKeyJSON(t *testing.T) {
	vk, _, _, _ := plonkProof(t)
	b, err := VerificationKeyJSON(vk)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got plonkVK
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if got.Protocol != "plonk" || got.Curve != "bn128" || got.NPublic != 1 {
		t.Errorf("unexpected header: %s %s %d", got.Protocol, got.Curve, got.NPublic)
	}
	if uint64(1)<<got.Power != vk.Size {
		t.Errorf("power %d does not match domain size %d", got.Power, vk.Size)
	}
	if got.K1 != frstr(vk.CosetShift) || got.W != frstr(vk.Generator) {
		t.Errorf("unexpected k1 %s or w %s", got.K1, got.W)
	}
	if got.Qc != g1JSON(&vk.Qk) || got.S3 != g1JSON(&vk.S[2]) {
		t.Errorf("selector commitments not exported")
	}
}

func TestMarshalPlonkProof(t *testing.T) {
	vk, proof, data, inputs := plonkProof(t)
	if len(data) != ProofWords(artifact.Plonk)*32 {
		t.Fatalf("expected %d bytes, got %d", ProofWords(artifact.Plonk)*32, len(data))
	}
	_proof := proof.(*plonk_bn254.Proof)
	word := func(i int) []byte { return data[i*32 : (i+1)*32] }

	l := _proof.LRO[0].RawBytes()
	if !bytes.Equal(data[:64], l[:]) {
		t.Errorf("proof does not start with L")
	}
	z := _proof.Z.RawBytes()
	if !bytes.Equal(data[17*32:19*32], z[:]) {
		t.Errorf("words 17-18 are not Z")
	}
	zu := _proof.ZShiftedOpening.ClaimedValue.Bytes()
	if !bytes.Equal(word(19), zu[:]) {
		t.Errorf("word 19 is not z(omega*zeta)")
	}
	lin := _proof.BatchedProof.ClaimedValues[0].Bytes()
	if !bytes.Equal(word(20), lin[:]) {
		t.Errorf("word 20 is not the linearised polynomial opening")
	}
	lz := _proof.BatchedProof.ClaimedValues[1].Bytes()
	if !bytes.Equal(word(12), lz[:]) {
		t.Errorf("word 12 is not l(zeta)")
	}
	h := _proof.ZShiftedOpening.H.RawBytes()
	if !bytes.Equal(data[23*32:], h[:]) {
		t.Errorf("proof does not end with the shifted opening quotient")
	}

	if !checkPlonkWords(vk, data, inputs) {
		t.Fatalf("marshaled proof rejected")
	}
	var wrong fr_bn254.Element
	wrong.SetUint64(36)
	b := wrong.Bytes()
	if checkPlonkWords(vk, data, b[:]) {
		t.Errorf("proof accepted for the wrong public input")
	}
	tampered := append([]byte(nil), data...)
	tampered[12*32+31] ^= 1
	if checkPlonkWords(vk, tampered, inputs) {
		t.Errorf("tampered proof accepted")
	}

	_proof.Bsb22Commitments = []bn254.G1Affine{_proof.Z}
	if _, err := MarshalProof(_proof); err == nil {
		t.Errorf("expected error for custom gate commitments")
	}
}

// checkPlonkWords runs the arithmetic of the PuyaPy Plonk verifier on a
// marshaled proof, step by step.
func checkPlonkWords(vk *plonk_bn254.VerifyingKey, proof, public []byte) bool {
	word := func(i int) []byte { return proof[i*32 : (i+1)*32] }
	point := func(i int) bn254.G1Affine {
		var p bn254.G1Affine
		p.X.SetBytes(word(i))
		p.Y.SetBytes(word(i + 1))
		return p
	}
	scalar := func(i int) fr_bn254.Element {
		var x fr_bn254.Element
		x.SetBytes(word(i))
		return x
	}
	raw := func(p bn254.G1Affine) []byte {
		b := p.RawBytes()
		return b[:]
	}
	challenge := func(data ...[]byte) (fr_bn254.Element, []byte) {
		h := sha256.New()
		for _, d := range data {
			h.Write(d)
		}
		sum := h.Sum(nil)
		var x fr_bn254.Element
		x.SetBytes(sum)
		return x, sum
	}
	bigOf := func(x fr_bn254.Element) *big.Int {
		b := new(big.Int)
		x.BigInt(b)
		return b
	}

	L, R, O := point(0), point(2), point(4)
	H0, H1, H2 := point(6), point(8), point(10)
	l, r, o, s1, s2 := scalar(12), scalar(13), scalar(14), scalar(15), scalar(16)
	Z := point(17)
	zu := scalar(19)
	lin := scalar(20)
	batchH, shiftedH := point(21), point(23)

	var transcript []byte
	for _, p := range []bn254.G1Affine{vk.S[0], vk.S[1], vk.S[2], vk.Ql, vk.Qr, vk.Qm, vk.Qo, vk.Qk} {
		transcript = append(transcript, raw(p)...)
	}
	gamma, gammaPre := challenge([]byte("gamma"), transcript, public, raw(L), raw(R), raw(O))
	beta, betaPre := challenge([]byte("beta"), gammaPre)
	alpha, alphaPre := challenge([]byte("alpha"), betaPre, raw(Z))
	zeta, _ := challenge([]byte("zeta"), alphaPre, raw(H0), raw(H1), raw(H2))

	one := fr_bn254.One()
	var zetaN, zh, zn fr_bn254.Element
	zetaN.Exp(zeta, new(big.Int).SetUint64(vk.Size))
	zh.Sub(&zetaN, &one)
	zn.Mul(&zh, &vk.SizeInv)

	var pi, w fr_bn254.Element
	w.SetOne()
	for i := 0; i < len(public)/32; i++ {
		var x, li fr_bn254.Element
		x.SetBytes(public[i*32 : (i+1)*32])
		li.Sub(&zeta, &w).Inverse(&li)
		li.Mul(&li, &zn).Mul(&li, &w).Mul(&li, &x)
		pi.Add(&pi, &li)
		w.Mul(&w, &vk.Generator)
	}

	var alpha2L1 fr_bn254.Element
	alpha2L1.Sub(&zeta, &one).Inverse(&alpha2L1)
	alpha2L1.Mul(&alpha2L1, &zn).Mul(&alpha2L1, &alpha).Mul(&alpha2L1, &alpha)

	var perm, tmp, t fr_bn254.Element
	perm.Mul(&beta, &s1).Add(&perm, &l).Add(&perm, &gamma)
	tmp.Mul(&beta, &s2).Add(&tmp, &r).Add(&tmp, &gamma)
	perm.Mul(&perm, &tmp)
	tmp.Add(&o, &gamma)
	t.Mul(&perm, &tmp).Mul(&t, &alpha).Mul(&t, &zu)
	var want fr_bn254.Element
	want.Sub(&alpha2L1, &pi).Sub(&want, &t)
	if !want.Equal(&lin) {
		return false
	}

	var s1Coef, coeffZ, bz, a, b, c fr_bn254.Element
	s1Coef.Mul(&perm, &beta).Mul(&s1Coef, &alpha).Mul(&s1Coef, &zu)
	bz.Mul(&beta, &zeta)
	a.Add(&l, &bz).Add(&a, &gamma)
	bz.Mul(&bz, &vk.CosetShift)
	b.Add(&r, &bz).Add(&b, &gamma)
	bz.Mul(&bz, &vk.CosetShift)
	c.Add(&o, &bz).Add(&c, &gamma)
	coeffZ.Mul(&a, &b).Mul(&coeffZ, &c).Mul(&coeffZ, &alpha)
	coeffZ.Sub(&alpha2L1, &coeffZ)

	var zetaN2, negZh, rl fr_bn254.Element
	zetaN2.Mul(&zetaN, &zeta).Mul(&zetaN2, &zeta)
	negZh.Neg(&zh)
	rl.Mul(&l, &r)

	var foldedH bn254.G1Affine
	foldedH.ScalarMultiplication(&H2, bigOf(zetaN2))
	foldedH.Add(&foldedH, &H1)
	foldedH.ScalarMultiplication(&foldedH, bigOf(zetaN2))
	foldedH.Add(&foldedH, &H0)

	var linCom bn254.G1Affine
	if _, err := linCom.MultiExp(
		[]bn254.G1Affine{vk.Ql, vk.Qr, vk.Qm, vk.Qo, vk.S[2], Z, foldedH},
		[]fr_bn254.Element{l, r, rl, o, s1Coef, coeffZ, negZh},
		ecc.MultiExpConfig{},
	); err != nil {
		return false
	}
	linCom.Add(&linCom, &vk.Qk)

	zb := zeta.Bytes()
	fold, _ := challenge([]byte("gamma"), zb[:], raw(linCom), raw(L), raw(R), raw(O),
		raw(vk.S[0]), raw(vk.S[1]), word(20), word(12), word(13), word(14), word(15), word(16), word(19))
	powers := make([]fr_bn254.Element, 6)
	powers[0].SetOne()
	for i := 1; i < len(powers); i++ {
		powers[i].Mul(&powers[i-1], &fold)
	}
	var folded bn254.G1Affine
	if _, err := folded.MultiExp(
		[]bn254.G1Affine{linCom, L, R, O, vk.S[0], vk.S[1]}, powers, ecc.MultiExpConfig{},
	); err != nil {
		return false
	}
	var foldedEval fr_bn254.Element
	for i, e := range []fr_bn254.Element{lin, l, r, o, s1, s2} {
		tmp.Mul(&e, &powers[i])
		foldedEval.Add(&foldedEval, &tmp)
	}

	fb := fold.Bytes()
	lam, _ := challenge(g1Bytes(&folded), g1Bytes(&batchH), g1Bytes(&Z), g1Bytes(&shiftedH), zb[:], fb[:])
	var claims, lamZetaOmega fr_bn254.Element
	claims.Mul(&lam, &zu).Add(&claims, &foldedEval).Neg(&claims)
	lamZetaOmega.Mul(&zeta, &vk.Generator).Mul(&lamZetaOmega, &lam)

	var digest bn254.G1Affine
	if _, err := digest.MultiExp(
		[]bn254.G1Affine{folded, Z, vk.Kzg.G1, batchH, shiftedH},
		[]fr_bn254.Element{one, lam, claims, zeta, lamZetaOmega},
		ecc.MultiExpConfig{},
	); err != nil {
		return false
	}
	var quotient bn254.G1Affine
	quotient.ScalarMultiplication(&shiftedH, bigOf(lam))
	quotient.Add(&quotient, &batchH)
	quotient.Neg(&quotient)

	ok, err := bn254.PairingCheck(
		[]bn254.G1Affine{digest, quotient},
		[]bn254.G2Affine{vk.Kzg.G2[0], vk.Kzg.G2[1]},
	)
	return err == nil && ok
}
