package ceremony

import (
	"context"
	"fmt"
	"slices"

	"github.com/giuliop/ceremony/artifact"
	"github.com/giuliop/ceremony/attest"
	"github.com/giuliop/ceremony/metrics"
)

const (
	modeDirect    = "direct"
	modeChallenge = "challenge"
)

// Contribute runs a contribution with the coordinator's own engine against
// the current artifact. The secret used is discarded by the engine.
func (c *Coordinator) Contribute(ctx context.Context, tag string) (Contribution, error) {
	c.op.Lock()
	defer c.op.Unlock()

	if err := c.allowed("contribute", contributionStages); err != nil {
		return Contribution{}, c.reject("contribute", err)
	}
	base, err := c.current(ctx)
	if err != nil {
		return Contribution{}, c.reject("contribute", err)
	}
	payload, err := timed("contribute", func() ([]byte, error) {
		return c.engine.Contribute(ctx, base.Kind, base.Payload)
	})
	if err != nil {
		return Contribution{}, c.reject("contribute", fmt.Errorf("error contributing: %w", err))
	}
	return c.accept(ctx, "contribute", modeDirect, base, payload, tag, "")
}

// AcceptContribution accepts an artifact a contributor derived from the
// artifact whose content hash is expectedPrior. It fails with ErrStaleBase
// if that is no longer the current artifact, and with ErrVerificationFailed
// if the candidate does not extend the current artifact with exactly one
// valid contribution. A zero expectedPrior skips the first check only.
func (c *Coordinator) AcceptContribution(ctx context.Context, candidate []byte, expectedPrior artifact.Hash) (Contribution, error) {
	c.op.Lock()
	defer c.op.Unlock()

	if err := c.allowed("accept", contributionStages); err != nil {
		return Contribution{}, c.reject("accept", err)
	}
	if !expectedPrior.IsZero() && expectedPrior != c.state.Current.Hash {
		return Contribution{}, c.reject("accept", fmt.Errorf("%w: built on %s, current is %s",
			ErrStaleBase, expectedPrior.Short(), c.state.Current.Hash.Short()))
	}
	base, err := c.current(ctx)
	if err != nil {
		return Contribution{}, c.reject("accept", err)
	}
	cand, err := artifact.Decode(candidate)
	if err != nil {
		return Contribution{}, c.reject("accept", verificationError("candidate: %v", err))
	}
	if err := extends(base, cand); err != nil {
		return Contribution{}, c.reject("accept", err)
	}
	last, _ := cand.Last()
	return c.accept(ctx, "accept", modeDirect, base, cand.Payload, last.Tag, "")
}

var contributionStages = []Stage{Initialized, AwaitingContribution}

// extends checks cand is base plus one random contribution.
func extends(base, cand *artifact.Artifact) error {
	switch {
	case cand.Kind != base.Kind, cand.Size != base.Size, cand.Variant != base.Variant,
		cand.Circuit != base.Circuit, cand.Accumulator != base.Accumulator, cand.Origin != base.Origin:
		return verificationError("candidate belongs to another ceremony")
	case cand.Seal != artifact.Open:
		return verificationError("candidate is sealed")
	case cand.Count() != base.Count()+1:
		return verificationError("candidate has %d contributions, expected %d", cand.Count(), base.Count()+1)
	case !slices.Equal(cand.History[:base.Count()], base.History):
		return verificationError("candidate history diverges from the current artifact")
	}
	if last, _ := cand.Last(); last.Entropy != artifact.Random {
		return verificationError("candidate contribution is not random")
	}
	return nil
}

// accept gates a new payload derived from base. The caller holds c.op.
func (c *Coordinator) accept(ctx context.Context, op, mode string, base *artifact.Artifact, payload []byte, tag, signer string) (Contribution, error) {
	seq := base.Count() + 1
	name := artifact.Contribution(c.state.Origin.Name, base.Kind, seq)
	next := base.Derive(artifact.Entry{Tag: tag, Entropy: artifact.Random, Name: name}, payload)
	b := artifact.Encode(next)
	contribution := Contribution{
		Sequence: seq,
		Entropy:  artifact.Random,
		Tag:      tag,
		Signer:   signer,
		Artifact: Ref{Name: name, Hash: artifact.Sum(b)},
		Accepted: c.now(),
	}

	t := &transition{
		op:   op,
		from: contributionStages,
		check: func(ctx context.Context) error {
			_, err := timed("verify", func() (struct{}, error) {
				return struct{}{}, c.engine.VerifyContribution(ctx, base.Kind, base.Payload, payload)
			})
			if err != nil {
				return verificationError("contribution %d: %v", seq, err)
			}
			return nil
		},
		apply: func(s *State) {
			s.History = append(s.History, contribution)
			s.Current = contribution.Artifact
			s.Stage = AwaitingContribution
			// any outstanding challenge was issued on the previous base
			s.Pending = nil
		},
	}
	if err := c.stage(ctx, t, name, b, false); err != nil {
		return Contribution{}, c.reject(op, err)
	}
	if c.signer != nil {
		receipt := &attest.Receipt{
			Ceremony:    c.state.ID,
			Instance:    c.state.Instance,
			Sequence:    seq,
			Tag:         tag,
			Contributor: signer,
			Artifact:    name,
			Hash:        contribution.Artifact.Hash,
			Accepted:    contribution.Accepted,
		}
		if err := c.signer.SignReceipt(receipt); err != nil {
			c.discard(t)
			return Contribution{}, c.reject(op, err)
		}
		if err := c.stage(ctx, t, attest.ReceiptName(name), attest.EncodeReceipt(receipt), false); err != nil {
			c.discard(t)
			return Contribution{}, c.reject(op, err)
		}
	}
	if err := c.admit(ctx, t); err != nil {
		return Contribution{}, err
	}
	metrics.Contributions.WithLabelValues(c.state.ID, mode).Inc()
	return contribution, nil
}
