package ceremony

import (
	"context"
	"fmt"
	"runtime"
	"slices"
	"sync"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/giuliop/ceremony/artifact"
)

// Report describes a verified artifact.
type Report struct {
	Name    string           `json:"name"`
	Hash    artifact.Hash    `json:"hash"`
	Kind    artifact.Kind    `json:"kind"`
	Seal    artifact.Seal    `json:"seal"`
	Count   uint64           `json:"count"`
	History []artifact.Entry `json:"history"`
}

// Verify checks the artifact stored under name: its structure, its origin,
// every contribution of its history (loading each predecessor from the
// store) and, for sealed artifacts, the beacon and final derivation. A zkey
// also has the accumulator it was created from verified. Verify does not
// modify anything and may run concurrently with other operations.
func (c *Coordinator) Verify(ctx context.Context, name string) (*Report, error) {
	a, h, err := c.load(ctx, name, artifact.Hash{})
	if err != nil {
		return nil, err
	}
	if a.Kind == artifact.ZKey {
		acc, _, err := c.load(ctx, a.Accumulator.Name, a.Accumulator.Digest)
		if err != nil {
			return nil, err
		}
		if err := c.verifyArtifact(ctx, acc, ""); err != nil {
			return nil, fmt.Errorf("accumulator %s: %w", a.Accumulator.Name, err)
		}
	}
	if err := c.verifyArtifact(ctx, a, ""); err != nil {
		return nil, err
	}
	return &Report{
		Name:    name,
		Hash:    h,
		Kind:    a.Kind,
		Seal:    a.Seal,
		Count:   a.Count(),
		History: a.History,
	}, nil
}

// verifyArtifact checks a against its full history.
func (c *Coordinator) verifyArtifact(ctx context.Context, a *artifact.Artifact, circuitName string) error {
	origin, err := c.verifyOrigin(ctx, a, circuitName)
	if err != nil {
		return err
	}
	payloads, err := c.chain(ctx, a)
	if err != nil {
		return err
	}
	if err := c.verifySteps(ctx, a.Kind, origin, payloads); err != nil {
		return err
	}
	if a.Seal == artifact.Open {
		return nil
	}

	if !c.beacon.matches(a.Beacon) {
		return verificationError("sealed with beacon %x/%d, expected %x/%d",
			a.Beacon.Seed, a.Beacon.Rounds, c.beacon.Seed, c.beacon.Rounds)
	}
	sealed, err := c.seal(ctx, a, payloads, circuitName)
	if err != nil {
		return err
	}
	last, _ := a.Last()
	if artifact.Sum(sealed) != last.Digest {
		return verificationError("beacon application is not reproducible")
	}
	if a.Seal == artifact.Final {
		_, err := timed("verify-prepared", func() (struct{}, error) {
			return struct{}{}, c.engine.VerifyPrepared(ctx, a.Kind, sealed, a.Payload)
		})
		if err != nil {
			return verificationError("final parameters: %v", err)
		}
	}
	return nil
}

// chain returns the payload after each random contribution of a, loading
// the intermediate artifacts from the store.
func (c *Coordinator) chain(ctx context.Context, a *artifact.Artifact) ([][]byte, error) {
	n := len(a.History)
	if a.Seal != artifact.Open {
		n--
	}
	payloads := make([][]byte, n)
	for i := 0; i < n; i++ {
		e := a.History[i]
		if a.Seal == artifact.Open && i == n-1 {
			payloads[i] = a.Payload
			continue
		}
		prev, _, err := c.load(ctx, e.Name, artifact.Hash{})
		if err != nil {
			return nil, fmt.Errorf("contribution %d: %w", e.Seq, err)
		}
		if prev.Seal != artifact.Open || prev.Kind != a.Kind || prev.Origin != a.Origin ||
			prev.PayloadDigest() != e.Digest || !slices.Equal(prev.History, a.History[:i+1]) {
			return nil, verificationError("contribution %d: %s is not part of this chain", e.Seq, e.Name)
		}
		payloads[i] = prev.Payload
	}
	return payloads, nil
}

// verifySteps checks every contribution against its predecessor. Steps are
// independent and checked concurrently; all failures are reported.
func (c *Coordinator) verifySteps(ctx context.Context, kind artifact.Kind, origin []byte, payloads [][]byte) error {
	var (
		mu     sync.Mutex
		result *multierror.Error
		g      errgroup.Group
	)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range payloads {
		prev := origin
		if i > 0 {
			prev = payloads[i-1]
		}
		next := payloads[i]
		g.Go(func() error {
			_, err := timed("verify", func() (struct{}, error) {
				return struct{}{}, c.engine.VerifyContribution(ctx, kind, prev, next)
			})
			if err != nil {
				mu.Lock()
				result = multierror.Append(result, fmt.Errorf("contribution %d: %v", i+1, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	return ctx.Err()
}

// seal applies the configured beacon to the chain of payloads.
func (c *Coordinator) seal(ctx context.Context, a *artifact.Artifact, payloads [][]byte, circuitName string) ([]byte, error) {
	challenge, err := c.beacon.Challenge()
	if err != nil {
		return nil, fmt.Errorf("invalid beacon: %w", err)
	}
	s := &Sealing{
		Kind:          a.Kind,
		Variant:       a.Variant,
		Size:          int(a.Size),
		Contributions: payloads,
		Beacon:        challenge,
	}
	if a.Kind == artifact.ZKey {
		if s.Circuit, s.Accumulator, err = c.inputs(ctx, a, circuitName); err != nil {
			return nil, err
		}
	}
	sealed, err := timed("seal", func() ([]byte, error) {
		return c.engine.Seal(ctx, s)
	})
	if err != nil {
		return nil, verificationError("applying beacon: %v", err)
	}
	return sealed, nil
}
