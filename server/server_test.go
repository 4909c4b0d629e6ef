package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/giuliop/ceremony"
	"github.com/giuliop/ceremony/artifact"
	"github.com/giuliop/ceremony/log/testlogger"
	"github.com/giuliop/ceremony/store"
	"github.com/giuliop/ceremony/testutils"
)

func newServer(t *testing.T) (*Client, *ceremony.Coordinator, *testutils.Engine) {
	t.Helper()
	return newServerWithToken(t, "")
}

func newServerWithToken(t *testing.T, token string) (*Client, *ceremony.Coordinator, *testutils.Engine) {
	t.Helper()
	l := testlogger.New(t)
	engine := testutils.NewEngine()
	st := testutils.NewMemStore()
	c := ceremony.New("remote", engine, st, ceremony.WithLogger(l))
	_, err := c.InitAccumulator(context.Background(), 8)
	require.NoError(t, err)

	srv := New(c, st, l)
	srv.SetToken(token)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return NewClient(ts.URL, ts.Client()), c, engine
}

func TestRemoteContribution(t *testing.T) {
	ctx := context.Background()
	client, c, engine := newServer(t)

	ch, err := client.Challenge(ctx)
	require.NoError(t, err)
	require.Equal(t, c.State().Current.Hash, ch.Prior)
	require.Equal(t, c.State().Pending.Hash, ch.Hash)
	require.Equal(t, c.State().Pending.Base, ch.Prior)

	resp, err := ceremony.ContributeChallenge(ctx, engine, ch.Data, "remote-alice", nil)
	require.NoError(t, err)
	got, err := client.Respond(ctx, resp, ch.Prior)
	require.NoError(t, err)
	require.Equal(t, uint64(1), got.Sequence)
	require.Equal(t, "remote-alice", got.Tag)

	status, err := client.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, ceremony.AwaitingContribution, status.Stage)
	require.Equal(t, got.Artifact, status.Current)

	data, err := client.Artifact(ctx, got.Artifact.Name)
	require.NoError(t, err)
	require.Equal(t, got.Artifact.Hash, artifact.Sum(data))

	_, err = client.Respond(ctx, resp, ch.Prior)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	require.Equal(t, http.StatusConflict, se.Code)
}

func TestRejectedResponses(t *testing.T) {
	ctx := context.Background()
	client, _, engine := newServer(t)

	_, err := client.Respond(ctx, []byte("garbage"), artifact.Hash{})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	require.Equal(t, http.StatusUnprocessableEntity, se.Code)

	ch, err := client.Challenge(ctx)
	require.NoError(t, err)
	resp, err := ceremony.ContributeChallenge(ctx, engine, ch.Data, "late", nil)
	require.NoError(t, err)
	_, err = client.Challenge(ctx)
	require.NoError(t, err)
	_, err = client.Respond(ctx, resp, ch.Prior)
	require.True(t, errors.As(err, &se))
	require.Equal(t, http.StatusConflict, se.Code, "superseded challenge")

	_, err = client.Artifact(ctx, "missing.ptau")
	require.True(t, errors.As(err, &se))
	require.Equal(t, http.StatusNotFound, se.Code)
}

func TestOperatorToken(t *testing.T) {
	ctx := context.Background()
	client, c, engine := newServerWithToken(t, "s3cret")

	var se *StatusError
	_, err := client.Challenge(ctx)
	require.True(t, errors.As(err, &se))
	require.Equal(t, http.StatusUnauthorized, se.Code)
	require.Nil(t, c.State().Pending, "refused requests issue nothing")

	client.SetToken("wrong")
	_, err = client.Challenge(ctx)
	require.True(t, errors.As(err, &se))
	require.Equal(t, http.StatusUnauthorized, se.Code)
	_, err = client.Respond(ctx, []byte("garbage"), artifact.Hash{})
	require.True(t, errors.As(err, &se))
	require.Equal(t, http.StatusUnauthorized, se.Code)

	// reads stay open
	_, err = client.Status(ctx)
	require.NoError(t, err)

	client.SetToken("s3cret")
	ch, err := client.Challenge(ctx)
	require.NoError(t, err)
	resp, err := ceremony.ContributeChallenge(ctx, engine, ch.Data, "operator", nil)
	require.NoError(t, err)
	got, err := client.Respond(ctx, resp, ch.Prior)
	require.NoError(t, err)
	require.Equal(t, uint64(1), got.Sequence)
}

func TestBadPriorHeader(t *testing.T) {
	client, _, _ := newServer(t)
	req, err := http.NewRequest(http.MethodPost, client.base+"/response", strings.NewReader("x"))
	require.NoError(t, err)
	req.Header.Set(HeaderPrior, "not-a-hash")
	resp, err := client.http.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMetrics(t *testing.T) {
	client, _, _ := newServer(t)
	_, err := client.Status(context.Background())
	require.NoError(t, err)

	resp, err := client.http.Get(client.base + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "ceremony_http_calls_total")
}

func TestStatusCode(t *testing.T) {
	require.Equal(t, http.StatusNotFound, StatusCode(store.ErrNotFound))
	require.Equal(t, http.StatusConflict, StatusCode(ceremony.ErrFinalized))
	require.Equal(t, http.StatusServiceUnavailable, StatusCode(context.Canceled))
	require.Equal(t, http.StatusInternalServerError, StatusCode(ceremony.ErrArtifactIO))
}
