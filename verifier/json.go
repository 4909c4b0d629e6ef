package verifier

import (
	"encoding/json"

	"github.com/consensys/gnark-crypto/ecc/bn254"
)

// groth16VK is a Groth16 verifying key in the snarkjs
// verification_key.json layout.
type groth16VK struct {
	Protocol  string          `json:"protocol"`
	Curve     string          `json:"curve"`
	NPublic   int             `json:"nPublic"`
	Alpha     [3]string       `json:"vk_alpha_1"`
	Beta      [3][2]string    `json:"vk_beta_2"`
	Gamma     [3][2]string    `json:"vk_gamma_2"`
	Delta     [3][2]string    `json:"vk_delta_2"`
	AlphaBeta [2][3][2]string `json:"vk_alphabeta_12"`
	IC        [][3]string     `json:"IC"`
}

// plonkVK is a Plonk verifying key in the snarkjs verification_key.json
// layout. k1 and k2 are the coset shifts of the second and third wires.
type plonkVK struct {
	Protocol string       `json:"protocol"`
	Curve    string       `json:"curve"`
	NPublic  int          `json:"nPublic"`
	Power    int          `json:"power"`
	K1       string       `json:"k1"`
	K2       string       `json:"k2"`
	Qm       [3]string    `json:"Qm"`
	Ql       [3]string    `json:"Ql"`
	Qr       [3]string    `json:"Qr"`
	Qo       [3]string    `json:"Qo"`
	Qc       [3]string    `json:"Qc"`
	S1       [3]string    `json:"S1"`
	S2       [3]string    `json:"S2"`
	S3       [3]string    `json:"S3"`
	X2       [3][2]string `json:"X_2"`
	W        string       `json:"w"`
}

func marshalJSON(v interface{}) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

// g1JSON is a point in projective form with z = 1.
func g1JSON(p *bn254.G1Affine) [3]string {
	if p.IsInfinity() {
		return [3]string{"0", "1", "0"}
	}
	return [3]string{fpstr(p.X), fpstr(p.Y), "1"}
}

func g2JSON(p *bn254.G2Affine) [3][2]string {
	if p.IsInfinity() {
		return [3][2]string{{"0", "0"}, {"1", "0"}, {"0", "0"}}
	}
	return [3][2]string{
		{fpstr(p.X.A0), fpstr(p.X.A1)},
		{fpstr(p.Y.A0), fpstr(p.Y.A1)},
		{"1", "0"},
	}
}

func gtJSON(e *bn254.GT) [2][3][2]string {
	e2 := func(a0, a1 string) [2]string { return [2]string{a0, a1} }
	return [2][3][2]string{
		{
			e2(e.C0.B0.A0.String(), e.C0.B0.A1.String()),
			e2(e.C0.B1.A0.String(), e.C0.B1.A1.String()),
			e2(e.C0.B2.A0.String(), e.C0.B2.A1.String()),
		},
		{
			e2(e.C1.B0.A0.String(), e.C1.B0.A1.String()),
			e2(e.C1.B1.A0.String(), e.C1.B1.A1.String()),
			e2(e.C1.B2.A0.String(), e.C1.B2.A1.String()),
		},
	}
}
