package ceremony

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/giuliop/ceremony/artifact"
)

const (
	// DefaultBeaconSeed is the published seed of the ceremony beacon.
	DefaultBeaconSeed = "0102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
	// DefaultBeaconRounds is the log2 of the number of hash iterations.
	DefaultBeaconRounds = 10

	maxBeaconRounds = 63
)

// Beacon is a public random value applied once participation is closed.
// The same seed and rounds must be used by everyone re-running the
// finalization.
type Beacon struct {
	Seed   []byte
	Rounds int
}

// DefaultBeacon returns the beacon used when none is configured.
func DefaultBeacon() Beacon {
	seed, _ := hex.DecodeString(DefaultBeaconSeed)
	return Beacon{Seed: seed, Rounds: DefaultBeaconRounds}
}

// ParseBeacon builds a beacon from a hex seed.
func ParseBeacon(seedHex string, rounds int) (Beacon, error) {
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return Beacon{}, fmt.Errorf("invalid beacon seed: %v", err)
	}
	b := Beacon{Seed: seed, Rounds: rounds}
	return b, b.validate()
}

func (b Beacon) validate() error {
	if len(b.Seed) == 0 {
		return fmt.Errorf("empty beacon seed")
	}
	if b.Rounds < 1 || b.Rounds > maxBeaconRounds {
		return fmt.Errorf("beacon rounds must be between 1 and %d, got %d", maxBeaconRounds, b.Rounds)
	}
	return nil
}

// Challenge hashes the seed 2^Rounds times with sha256.
func (b Beacon) Challenge() ([]byte, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}
	h := append([]byte(nil), b.Seed...)
	for i := uint64(0); i < uint64(1)<<b.Rounds; i++ {
		sum := sha256.Sum256(h)
		h = sum[:]
	}
	return h, nil
}

func (b Beacon) info() artifact.BeaconInfo {
	return artifact.BeaconInfo{Seed: b.Seed, Rounds: uint8(b.Rounds)}
}

func (b Beacon) matches(info artifact.BeaconInfo) bool {
	return int(info.Rounds) == b.Rounds && bytes.Equal(info.Seed, b.Seed)
}
