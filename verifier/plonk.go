package verifier

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"math/bits"
	"text/template"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	fr_bn254 "github.com/consensys/gnark-crypto/ecc/bn254/fr"
	plonk_bn254 "github.com/consensys/gnark/backend/plonk/bn254"
)

func plonkKey(vk VerifyingKey) (*plonk_bn254.VerifyingKey, error) {
	_vk, ok := vk.(*plonk_bn254.VerifyingKey)
	if !ok {
		return nil, errors.New("unsupported curve")
	}
	if len(_vk.CommitmentConstraintIndexes) > 0 || len(_vk.Qcp) > 0 {
		return nil, errors.New("custom gates are not supported at the moment")
	}
	return _vk, nil
}

func plonkFuncs(vk VerifyingKey) (template.FuncMap, error) {
	_vk, err := plonkKey(vk)
	if err != nil {
		return nil, err
	}
	return template.FuncMap{
		"frstr": frstr,
		// encoded is a point as the prover transcript binds it, with the
		// gnark infinity flag
		"encoded": func(p bn254.G1Affine) string {
			b := p.RawBytes()
			return hex.EncodeToString(b[:])
		},
		"transcript": func() string {
			var s string
			for _, p := range []bn254.G1Affine{_vk.S[0], _vk.S[1], _vk.S[2],
				_vk.Ql, _vk.Qr, _vk.Qm, _vk.Qo, _vk.Qk} {
				b := p.RawBytes()
				s += hex.EncodeToString(b[:])
			}
			return s
		},
	}, nil
}

// marshalPlonkProof lays out the wire commitments L, R, O, the quotient
// commitments H0, H1, H2, the evaluations at zeta of l, r, o, s1, s2, the
// grand product commitment Z and its evaluation at omega*zeta, the
// linearised polynomial evaluation, the quotient of the batched opening at
// zeta and the quotient of the opening of Z at omega*zeta.
func marshalPlonkProof(proof *plonk_bn254.Proof) ([]byte, error) {
	if len(proof.Bsb22Commitments) > 0 {
		return nil, errors.New("custom gates are not supported at the moment")
	}
	if n := len(proof.BatchedProof.ClaimedValues); n != 6 {
		return nil, fmt.Errorf("batched opening has %d claimed values, expected 6", n)
	}
	res := make([]byte, 0, 25*32)
	for i := range proof.LRO {
		res = append(res, g1Bytes(&proof.LRO[i])...)
	}
	for i := range proof.H {
		res = append(res, g1Bytes(&proof.H[i])...)
	}
	for _, v := range proof.BatchedProof.ClaimedValues[1:] {
		b := v.Bytes()
		res = append(res, b[:]...)
	}
	res = append(res, g1Bytes(&proof.Z)...)
	zu := proof.ZShiftedOpening.ClaimedValue.Bytes()
	res = append(res, zu[:]...)
	lin := proof.BatchedProof.ClaimedValues[0].Bytes()
	res = append(res, lin[:]...)
	res = append(res, g1Bytes(&proof.BatchedProof.H)...)
	res = append(res, g1Bytes(&proof.ZShiftedOpening.H)...)
	return res, nil
}

func plonkJSON(vk *plonk_bn254.VerifyingKey) ([]byte, error) {
	_vk, err := plonkKey(vk)
	if err != nil {
		return nil, err
	}
	var k2 fr_bn254.Element
	k2.Square(&_vk.CosetShift)

	out := plonkVK{
		Protocol: "plonk",
		Curve:    "bn128",
		NPublic:  int(_vk.NbPublicVariables),
		Power:    bits.TrailingZeros64(_vk.Size),
		K1:       frstr(_vk.CosetShift),
		K2:       frstr(k2),
		Qm:       g1JSON(&_vk.Qm),
		Ql:       g1JSON(&_vk.Ql),
		Qr:       g1JSON(&_vk.Qr),
		Qo:       g1JSON(&_vk.Qo),
		Qc:       g1JSON(&_vk.Qk),
		S1:       g1JSON(&_vk.S[0]),
		S2:       g1JSON(&_vk.S[1]),
		S3:       g1JSON(&_vk.S[2]),
		X2:       g2JSON(&_vk.Kzg.G2[1]),
		W:        frstr(_vk.Generator),
	}
	return marshalJSON(&out)
}

func frstr(x fr_bn254.Element) string {
	bv := new(big.Int)
	x.BigInt(bv)
	return bv.String()
}
