package ceremony_test

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/giuliop/ceremony"
)

func TestBeaconChallenge(t *testing.T) {
	b := ceremony.DefaultBeacon()
	require.Equal(t, ceremony.DefaultBeaconRounds, b.Rounds)
	require.Equal(t, ceremony.DefaultBeaconSeed, hex.EncodeToString(b.Seed))

	got, err := b.Challenge()
	require.NoError(t, err)
	want := b.Seed
	for i := 0; i < 1024; i++ {
		sum := sha256.Sum256(want)
		want = sum[:]
	}
	require.Equal(t, want, got)

	again, err := b.Challenge()
	require.NoError(t, err)
	require.Equal(t, got, again)
}

func TestParseBeacon(t *testing.T) {
	_, err := ceremony.ParseBeacon("zz", 10)
	require.Error(t, err)
	_, err = ceremony.ParseBeacon("", 10)
	require.Error(t, err)
	_, err = ceremony.ParseBeacon("01", 0)
	require.Error(t, err)
	_, err = ceremony.ParseBeacon("01", 64)
	require.Error(t, err)

	b, err := ceremony.ParseBeacon(ceremony.DefaultBeaconSeed, 10)
	require.NoError(t, err)
	require.Equal(t, ceremony.DefaultBeacon(), b)
}

func TestStageText(t *testing.T) {
	for s := ceremony.Uninitialized; s <= ceremony.Finalized; s++ {
		b, err := s.MarshalText()
		require.NoError(t, err)
		var back ceremony.Stage
		require.NoError(t, back.UnmarshalText(b))
		require.Equal(t, s, back)
	}
	var s ceremony.Stage
	require.Error(t, s.UnmarshalText([]byte("Closed")))
}
