package ceremony

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/giuliop/ceremony/artifact"
	"github.com/giuliop/ceremony/attest"
)

// Challenge is an issued challenge.
type Challenge struct {
	Name string
	Hash artifact.Hash
	// Prior is the hash of the artifact the challenge was derived from.
	Prior artifact.Hash
	Data  []byte
}

// IssueChallenge exports the current artifact as a challenge for an
// offline contributor and records it as the outstanding one. A challenge
// issued earlier is superseded and its responses will be refused.
func (c *Coordinator) IssueChallenge(ctx context.Context) (*Challenge, error) {
	c.op.Lock()
	defer c.op.Unlock()

	if err := c.allowed("issue-challenge", contributionStages); err != nil {
		return nil, c.reject("issue-challenge", err)
	}
	base, err := c.current(ctx)
	if err != nil {
		return nil, c.reject("issue-challenge", err)
	}
	cur := c.state.Current
	issued := c.now()
	data, hash := artifact.EncodeChallenge(artifact.NewChallenge(base, cur.Name, cur.Hash, uuid.NewString(), issued))
	ch := &Challenge{Name: c.naming.Challenge(cur.Name), Hash: hash, Prior: cur.Hash, Data: data}

	t := &transition{
		op:   "issue-challenge",
		from: contributionStages,
		check: func(ctx context.Context) error {
			decoded, h, err := artifact.DecodeChallenge(data)
			if err != nil {
				return verificationError("challenge: %v", err)
			}
			if h != hash || decoded.Base.Digest != cur.Hash || artifact.Sum(decoded.Payload) != base.PayloadDigest() {
				return verificationError("challenge does not reflect %s", cur.Name)
			}
			return nil
		},
		apply: func(s *State) {
			s.Pending = &Pending{Name: ch.Name, Hash: hash, Base: cur.Hash, Issued: issued}
		},
	}
	if err := c.stage(ctx, t, ch.Name, data, true); err != nil {
		return nil, c.reject("issue-challenge", err)
	}
	if err := c.admit(ctx, t); err != nil {
		return nil, err
	}
	return ch, nil
}

// ImportResponse integrates a response to the outstanding challenge. It
// fails with ErrChallengeMismatch if the response answers any other
// challenge, superseded or already consumed. A non zero expectedPrior must
// be the hash of the current artifact, or ErrStaleBase is returned.
func (c *Coordinator) ImportResponse(ctx context.Context, envelope []byte, expectedPrior artifact.Hash) (Contribution, error) {
	c.op.Lock()
	defer c.op.Unlock()

	if err := c.allowed("import-response", contributionStages); err != nil {
		return Contribution{}, c.reject("import-response", err)
	}
	if !expectedPrior.IsZero() && expectedPrior != c.state.Current.Hash {
		return Contribution{}, c.reject("import-response", fmt.Errorf("%w: base %s, current is %s",
			ErrStaleBase, expectedPrior.Short(), c.state.Current.Hash.Short()))
	}
	resp, err := artifact.DecodeResponse(envelope)
	if err != nil {
		return Contribution{}, c.reject("import-response", verificationError("response: %v", err))
	}
	pending := c.state.Pending
	if pending == nil || resp.Challenge != pending.Hash {
		return Contribution{}, c.reject("import-response", fmt.Errorf("%w: response answers %s",
			ErrChallengeMismatch, resp.Challenge.Short()))
	}
	if pending.Base != c.state.Current.Hash {
		return Contribution{}, c.reject("import-response", fmt.Errorf("%w: challenge was issued on %s",
			ErrStaleBase, pending.Base.Short()))
	}
	if resp.Signer != "" || c.signed {
		if err := attest.VerifyResponse(resp); err != nil {
			return Contribution{}, c.reject("import-response", verificationError("%v", err))
		}
	}
	base, err := c.current(ctx)
	if err != nil {
		return Contribution{}, c.reject("import-response", err)
	}
	tag := resp.Tag
	if tag == "" {
		tag = resp.Signer
	}
	return c.accept(ctx, "import-response", modeChallenge, base, resp.Payload, tag, resp.Signer)
}

// ContributeChallenge answers a challenge with engine, on the contributor's
// side. The response is signed when signer is not nil.
func ContributeChallenge(ctx context.Context, engine Engine, challenge []byte, tag string, signer *attest.Signer) ([]byte, error) {
	ch, hash, err := artifact.DecodeChallenge(challenge)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	payload, err := timed("contribute", func() ([]byte, error) {
		return engine.Contribute(ctx, ch.Kind, ch.Payload)
	})
	if err != nil {
		return nil, fmt.Errorf("error contributing: %w", err)
	}
	if err := engine.VerifyContribution(ctx, ch.Kind, ch.Payload, payload); err != nil {
		return nil, fmt.Errorf("%w: own contribution: %v", ErrVerificationFailed, err)
	}
	resp := artifact.NewResponse(hash, tag, payload)
	if signer != nil {
		if err := signer.SignResponse(resp); err != nil {
			return nil, err
		}
	}
	return artifact.EncodeResponse(resp), nil
}
