package ceremony_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/giuliop/ceremony"
	"github.com/giuliop/ceremony/artifact"
	"github.com/giuliop/ceremony/attest"
	"github.com/giuliop/ceremony/journal"
	"github.com/giuliop/ceremony/log/testlogger"
)

func TestSignedResponses(t *testing.T) {
	ctx := context.Background()
	f := contributed(t, 4, 1, ceremony.RequireSignedResponses())
	contributor := attest.GenerateSigner()

	ch, err := f.c.IssueChallenge(ctx)
	require.NoError(t, err)

	unsigned, err := ceremony.ContributeChallenge(ctx, f.engine, ch.Data, "anon", nil)
	require.NoError(t, err)
	_, err = f.c.ImportResponse(ctx, unsigned, artifact.Hash{})
	require.ErrorIs(t, err, ceremony.ErrVerificationFailed)

	signed, err := ceremony.ContributeChallenge(ctx, f.engine, ch.Data, "", contributor)
	require.NoError(t, err)
	// tampering with the payload breaks the signature
	resp, err := artifact.DecodeResponse(signed)
	require.NoError(t, err)
	forged, err := ceremony.ContributeChallenge(ctx, f.engine, ch.Data, "", nil)
	require.NoError(t, err)
	other, err := artifact.DecodeResponse(forged)
	require.NoError(t, err)
	other.Signer, other.Signature = resp.Signer, resp.Signature
	_, err = f.c.ImportResponse(ctx, artifact.EncodeResponse(other), artifact.Hash{})
	require.ErrorIs(t, err, ceremony.ErrVerificationFailed)

	got, err := f.c.ImportResponse(ctx, signed, artifact.Hash{})
	require.NoError(t, err)
	require.Equal(t, contributor.Address(), got.Signer)
	require.Equal(t, contributor.Address(), got.Tag)
}

func TestChallengePrior(t *testing.T) {
	ctx := context.Background()
	f := contributed(t, 4, 1)
	base := f.c.State().Current.Hash

	ch, err := f.c.IssueChallenge(ctx)
	require.NoError(t, err)
	require.Equal(t, base, ch.Prior)

	// the challenge keeps naming its own base once the ceremony moves on
	_, err = f.c.Contribute(ctx, "dave")
	require.NoError(t, err)
	require.NotEqual(t, f.c.State().Current.Hash, ch.Prior)
	decoded, _, err := artifact.DecodeChallenge(ch.Data)
	require.NoError(t, err)
	require.Equal(t, ch.Prior, decoded.Base.Digest)
}

func TestStaleResponse(t *testing.T) {
	ctx := context.Background()
	f := contributed(t, 4, 1)
	base := f.c.State().Current.Hash

	ch, err := f.c.IssueChallenge(ctx)
	require.NoError(t, err)
	resp, err := ceremony.ContributeChallenge(ctx, f.engine, ch.Data, "carol", nil)
	require.NoError(t, err)

	_, err = f.c.ImportResponse(ctx, resp, artifact.Sum([]byte("elsewhere")))
	require.ErrorIs(t, err, ceremony.ErrStaleBase)

	_, err = f.c.ImportResponse(ctx, resp, base)
	require.NoError(t, err)
}

func TestReceipts(t *testing.T) {
	ctx := context.Background()
	coordinator := attest.GenerateSigner()
	f := contributed(t, 4, 0, ceremony.WithSigner(coordinator))

	got, err := f.c.Contribute(ctx, "alice")
	require.NoError(t, err)

	b, err := f.store.Get(ctx, attest.ReceiptName(got.Artifact.Name))
	require.NoError(t, err)
	r, err := attest.DecodeReceipt(b)
	require.NoError(t, err)
	require.NoError(t, attest.VerifyReceipt(r))
	require.Equal(t, coordinator.Address(), r.Coordinator)
	require.Equal(t, uint64(1), r.Sequence)
	require.Equal(t, "alice", r.Tag)
	require.Equal(t, got.Artifact.Hash, r.Hash)
	require.Equal(t, f.c.State().Instance, r.Instance)
}

func TestResumeFromJournal(t *testing.T) {
	ctx := context.Background()
	j, err := journal.Open(ctx, testlogger.New(t), t.TempDir(), nil)
	require.NoError(t, err)
	defer j.Close()

	f := contributed(t, 4, 1, ceremony.WithJournal(j))
	ch, err := f.c.IssueChallenge(ctx)
	require.NoError(t, err)
	id := f.c.ID()

	// the process restarts
	s, err := j.Load(ctx, id)
	require.NoError(t, err)
	require.Equal(t, f.c.State(), s)
	c, err := ceremony.Resume(s, f.engine, f.store,
		ceremony.WithJournal(j), ceremony.WithLogger(testlogger.New(t)))
	require.NoError(t, err)
	require.Equal(t, ceremony.AwaitingContribution, c.Stage())

	resp, err := ceremony.ContributeChallenge(ctx, f.engine, ch.Data, "carol", nil)
	require.NoError(t, err)
	got, err := c.ImportResponse(ctx, resp, artifact.Hash{})
	require.NoError(t, err)
	require.Equal(t, uint64(2), got.Sequence)

	owner, err := j.Lookup(ctx, got.Artifact.Name)
	require.NoError(t, err)
	require.Equal(t, id, owner)
}

func TestResumeRejectsBrokenStates(t *testing.T) {
	f := contributed(t, 4, 2)
	s := f.c.State()

	verifying := s.Clone()
	verifying.Stage = ceremony.Verifying
	_, err := ceremony.Resume(verifying, f.engine, f.store)
	require.Error(t, err)

	gap := s.Clone()
	gap.History[1].Sequence = 3
	_, err = ceremony.Resume(gap, f.engine, f.store)
	require.Error(t, err)
}
