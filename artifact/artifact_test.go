package artifact

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleChain(t *testing.T) *Artifact {
	t.Helper()
	a := NewAccumulator(12, "pot12.ptau", []byte("initial"))
	require.NoError(t, a.Validate())
	a = a.Derive(Entry{Tag: "alice", Entropy: Random, Name: "pot12_0001.ptau"}, []byte("one"))
	a = a.Derive(Entry{Tag: "bob", Entropy: Random, Name: "pot12_0002.ptau"}, []byte("two"))
	return a
}

func TestDeriveKeepsParentUntouched(t *testing.T) {
	a := sampleChain(t)
	next := a.Derive(Entry{Tag: "carol", Entropy: Random}, []byte("three"))

	require.EqualValues(t, 2, a.Count())
	require.EqualValues(t, 3, next.Count())
	require.Equal(t, []byte("two"), a.Payload)
	last, ok := next.Last()
	require.True(t, ok)
	require.EqualValues(t, 3, last.Seq)
	require.Equal(t, Sum([]byte("three")), last.Digest)
}

func TestDecodeRejectsTampering(t *testing.T) {
	a := sampleChain(t)
	b, err := Decode(Encode(a))
	require.NoError(t, err)
	require.Equal(t, a.History, b.History)

	tests := []struct {
		name   string
		mutate func(a *Artifact)
	}{
		{"magic", func(a *Artifact) { a.Magic = "other" }},
		{"size", func(a *Artifact) { a.Size = 0 }},
		{"gap", func(a *Artifact) { a.History[1].Seq = 3 }},
		{"payload", func(a *Artifact) { a.Payload = []byte("forged") }},
		{"early beacon", func(a *Artifact) { a.History[0].Entropy = Beacon }},
		{"unsealed beacon", func(a *Artifact) { a.History[1].Entropy = Beacon }},
		{"sealed without beacon", func(a *Artifact) { a.Seal = Sealed }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := sampleChain(t)
			tt.mutate(c)
			_, err := Decode(Encode(c))
			require.True(t, errors.Is(err, ErrMalformed), "got %v", err)
		})
	}
}

func TestSealedArtifact(t *testing.T) {
	a := sampleChain(t)
	sealed := a.Derive(Entry{Tag: "beacon", Entropy: Beacon}, []byte("sealed"))
	sealed.Seal = Sealed
	require.ErrorIs(t, sealed.Validate(), ErrMalformed)
	sealed.Beacon = BeaconInfo{Seed: []byte{1, 2, 3}, Rounds: 10}
	require.NoError(t, sealed.Validate())

	final := *sealed
	final.Seal = Final
	final.Payload = []byte("prepared")
	require.NoError(t, final.Validate())

	_, err := Decode([]byte("garbage"))
	require.ErrorIs(t, err, ErrMalformed)
}

func TestKeyNeedsBindings(t *testing.T) {
	k := NewKey(Groth16, Ref{}, Ref{Name: "final_pot12.ptau", Digest: Sum([]byte("p"))}, "circuit.zkey", []byte("k"))
	require.ErrorIs(t, k.Validate(), ErrMalformed)

	k.Circuit = Ref{Name: "circuit.r1cs", Digest: Sum([]byte("c"))}
	require.NoError(t, k.Validate())
}

func TestChallengeHashIsUnique(t *testing.T) {
	a := sampleChain(t)
	baseHash := Sum(Encode(a))
	b0, h0 := EncodeChallenge(NewChallenge(a, "pot12_0002.ptau", baseHash, "n0", 10))
	_, h1 := EncodeChallenge(NewChallenge(a, "pot12_0002.ptau", baseHash, "n1", 10))
	require.NotEqual(t, h0, h1)

	c, h, err := DecodeChallenge(b0)
	require.NoError(t, err)
	require.Equal(t, h0, h)
	require.EqualValues(t, 3, c.Sequence)
	require.Equal(t, a.Payload, c.Payload)

	_, _, err = DecodeChallenge(Encode(a))
	require.ErrorIs(t, err, ErrMalformed)
}

func TestResponse(t *testing.T) {
	h := Sum([]byte("challenge"))
	r := NewResponse(h, "alice", []byte("payload"))
	got, err := DecodeResponse(EncodeResponse(r))
	require.NoError(t, err)
	require.Equal(t, h, got.Challenge)
	require.Len(t, got.SignedBytes(), 2*len(h))

	_, err = DecodeResponse(EncodeResponse(NewResponse(Hash{}, "", []byte("x"))))
	require.ErrorIs(t, err, ErrMalformed)
}

func TestNaming(t *testing.T) {
	n := DefaultNaming()
	require.Equal(t, "pot12.ptau", InitialAccumulator(12))
	require.Equal(t, "circuit.zkey", InitialKey("build/circuit.r1cs"))
	require.Equal(t, "pot12_0002.ptau", Contribution("pot12.ptau", PTau, 2))
	require.Equal(t, "challenge_pot12_0002", n.Challenge("pot12_0002.ptau"))
	require.Equal(t, "response_challenge_pot12_0002", n.Response("challenge_pot12_0002"))
	require.Equal(t, "beacon_pot12_0002.ptau", n.Beacon("pot12_0002.ptau"))
	require.Equal(t, "final_pot12_0002.ptau", n.Final(PTau, "pot12_0002.ptau"))
	require.Equal(t, "final_circuit_0001.zkey", n.Final(ZKey, "circuit_0001.zkey"))

	n.FinalKey = "final_.zkey"
	require.Equal(t, "final_.zkey", n.Final(ZKey, "circuit_0001.zkey"))
	require.Equal(t, "final_pot12.ptau", n.Final(PTau, "pot12.ptau"))
}

func TestHashText(t *testing.T) {
	h := Sum([]byte("x"))
	txt, err := h.MarshalText()
	require.NoError(t, err)
	var back Hash
	require.NoError(t, back.UnmarshalText(txt))
	require.Equal(t, h, back)
	require.Len(t, h.Short(), 16)

	_, err = ParseHash("abcd")
	require.Error(t, err)
}
