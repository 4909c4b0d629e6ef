package verifier

import (
	"encoding/hex"
	"errors"
	"fmt"
	"text/template"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	groth16_bn254 "github.com/consensys/gnark/backend/groth16/bn254"
)

func groth16Key(vk VerifyingKey) (*groth16_bn254.VerifyingKey, error) {
	_vk, ok := vk.(*groth16_bn254.VerifyingKey)
	if !ok {
		return nil, errors.New("unsupported curve")
	}
	if len(_vk.PublicAndCommitmentCommitted) > 0 || len(_vk.CommitmentKeys) > 0 {
		return nil, errors.New("commitments are not supported at the moment")
	}
	if len(_vk.G1.K) == 0 {
		return nil, errors.New("verifying key has no IC points")
	}
	return _vk, nil
}

func groth16Funcs(vk VerifyingKey) (template.FuncMap, error) {
	_vk, err := groth16Key(vk)
	if err != nil {
		return nil, err
	}
	return template.FuncMap{
		"nbPublic": func() int {
			return len(_vk.G1.K) - 1
		},
		"ichex": func(k []bn254.G1Affine) string {
			var s string
			for i := range k {
				s += hex.EncodeToString(g1Bytes(&k[i]))
			}
			return s
		},
	}, nil
}

// marshalGroth16Proof lays out A (64 bytes), B (128 bytes), C (64 bytes).
func marshalGroth16Proof(proof *groth16_bn254.Proof) ([]byte, error) {
	if len(proof.Commitments) > 0 {
		return nil, errors.New("commitments are not supported at the moment")
	}
	res := make([]byte, 0, 8*32)
	res = append(res, g1Bytes(&proof.Ar)...)
	res = append(res, g2Bytes(&proof.Bs)...)
	res = append(res, g1Bytes(&proof.Krs)...)
	return res, nil
}

func groth16JSON(vk *groth16_bn254.VerifyingKey) ([]byte, error) {
	_vk, err := groth16Key(vk)
	if err != nil {
		return nil, err
	}
	alphaBeta, err := bn254.Pair([]bn254.G1Affine{_vk.G1.Alpha}, []bn254.G2Affine{_vk.G2.Beta})
	if err != nil {
		return nil, fmt.Errorf("error computing e(alpha, beta): %v", err)
	}

	out := groth16VK{
		Protocol:  "groth16",
		Curve:     "bn128",
		NPublic:   len(_vk.G1.K) - 1,
		Alpha:     g1JSON(&_vk.G1.Alpha),
		Beta:      g2JSON(&_vk.G2.Beta),
		Gamma:     g2JSON(&_vk.G2.Gamma),
		Delta:     g2JSON(&_vk.G2.Delta),
		AlphaBeta: gtJSON(&alphaBeta),
		IC:        make([][3]string, len(_vk.G1.K)),
	}
	for i := range _vk.G1.K {
		out.IC[i] = g1JSON(&_vk.G1.K[i])
	}
	return marshalJSON(&out)
}
