package artifact

import (
	"fmt"
	"path"
	"strings"
)

const (
	VerificationKeyName = "verification_key.json"
	VerifierName        = "Verifier.py"
)

// Naming derives artifact names from each other.
type Naming struct {
	ChallengePrefix string `toml:"challenge_prefix"`
	ResponsePrefix  string `toml:"response_prefix"`
	BeaconPrefix    string `toml:"beacon_prefix"`
	FinalPrefix     string `toml:"final_prefix"`
	// FinalKey, when set, is the fixed name of a finalized zkey.
	FinalKey string `toml:"final_key"`
}

// DefaultNaming is the snarkjs naming scheme.
func DefaultNaming() Naming {
	return Naming{
		ChallengePrefix: "challenge_",
		ResponsePrefix:  "response_",
		BeaconPrefix:    "beacon_",
		FinalPrefix:     "final_",
	}
}

// Stem strips the directory and extension of name.
func Stem(name string) string {
	base := path.Base(name)
	return strings.TrimSuffix(base, path.Ext(base))
}

// InitialAccumulator names the empty accumulator of 2^size powers.
func InitialAccumulator(size int) string {
	return fmt.Sprintf("pot%d%s", size, PTau.Ext())
}

// InitialKey names the first zkey of a circuit file.
func InitialKey(circuit string) string {
	return Stem(circuit) + ZKey.Ext()
}

// Contribution names the artifact holding contribution seq of the chain
// started at origin.
func Contribution(origin string, kind Kind, seq uint64) string {
	return fmt.Sprintf("%s_%04d%s", Stem(origin), seq, kind.Ext())
}

func (n Naming) Challenge(base string) string {
	return n.ChallengePrefix + Stem(base)
}

func (n Naming) Response(challenge string) string {
	return n.ResponsePrefix + path.Base(challenge)
}

func (n Naming) Beacon(base string) string {
	return n.BeaconPrefix + path.Base(base)
}

func (n Naming) Final(kind Kind, base string) string {
	if kind == ZKey && n.FinalKey != "" {
		return n.FinalKey
	}
	return n.FinalPrefix + path.Base(base)
}
