package testutils

import (
	"crypto/rand"
	"fmt"
	"math/big"

	fr_bn254 "github.com/consensys/gnark-crypto/ecc/bn254/fr"
	mimc_bn254 "github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/accumulator/merkle"
	"github.com/consensys/gnark/std/hash/mimc"
)

// CubicCircuit proves knowledge of X such that X^3 + X + 5 == Y.
type CubicCircuit struct {
	X frontend.Variable
	Y frontend.Variable `gnark:",public"`
}

func (circuit *CubicCircuit) Define(api frontend.API) error {
	x3 := api.Mul(circuit.X, circuit.X, circuit.X)
	api.AssertIsEqual(circuit.Y, api.Add(x3, circuit.X, 5))
	return nil
}

// CubicAssignment returns a valid assignment of CubicCircuit.
func CubicAssignment(x int64) *CubicCircuit {
	return &CubicCircuit{X: x, Y: x*x*x + x + 5}
}

// MerkleTreeLevels is the depth of the tree MerkleCircuit proves membership
// in.
const MerkleTreeLevels = 4

// MerkleCircuit proves a leaf is part of a MiMC Merkle tree.
type MerkleCircuit struct {
	RootHash frontend.Variable `gnark:",public"`
	Path     [MerkleTreeLevels + 1]frontend.Variable
	Index    frontend.Variable
}

func (circuit *MerkleCircuit) Define(api frontend.API) error {
	m := merkle.MerkleProof{
		RootHash: circuit.RootHash,
		Path:     circuit.Path[:],
	}
	h, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	m.VerifyProof(api, &h, circuit.Index)
	return nil
}

// HashFunc hashes field elements given as big endian bytes.
type HashFunc func(data ...[]byte) []byte

// MiMCHasher hashes data matching the circuit MiMC hashing.
func MiMCHasher() HashFunc {
	m := mimc_bn254.NewMiMC()
	mod := fr_bn254.Modulus()
	return func(data ...[]byte) []byte {
		size := m.BlockSize()
		for _, d := range data {
			n := new(big.Int).SetBytes(d)
			n.Mod(n, mod)
			m.Write(n.FillBytes(make([]byte, size)))
		}
		result := m.Sum(nil)
		m.Reset()
		return result
	}
}

// MerkleAssignment builds a valid MerkleCircuit assignment proving that the
// leaf at index is part of a tree of the given leaves, the remaining leaves
// being zero.
func MerkleAssignment(leaves [][]byte, index int) (*MerkleCircuit, error) {
	width := 1 << MerkleTreeLevels
	if len(leaves) > width || index < 0 || index >= len(leaves) {
		return nil, fmt.Errorf("invalid leaves or index")
	}
	hash := MiMCHasher()
	level := make([][]byte, width)
	for i := range level {
		leaf := []byte{0}
		if i < len(leaves) {
			leaf = leaves[i]
		}
		level[i] = hash(leaf)
	}

	var a MerkleCircuit
	a.Path[0] = leaves[index]
	a.Index = index
	pos := index
	for l := 1; l <= MerkleTreeLevels; l++ {
		a.Path[l] = level[pos^1]
		next := make([][]byte, len(level)/2)
		for i := range next {
			next[i] = hash(level[2*i], level[2*i+1])
		}
		level = next
		pos /= 2
	}
	a.RootHash = level[0]
	return &a, nil
}

// RandomBigInt returns a random big integer bigger than 1 of up to
// maxBits bits. If maxBits is less than 1, it defaults to 32.
func RandomBigInt(maxBits int64) *big.Int {
	if maxBits < 1 {
		maxBits = 32
	}
	max := new(big.Int).Exp(big.NewInt(2), big.NewInt(maxBits), nil)
	for {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(err)
		}
		if n.Cmp(big.NewInt(2)) > 0 {
			return n
		}
	}
}
