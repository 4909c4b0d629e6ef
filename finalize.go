package ceremony

import (
	"context"
	"fmt"

	"github.com/giuliop/ceremony/artifact"
)

// CloseParticipation stops accepting contributions. A ceremony nobody
// contributed to cannot be closed. An outstanding challenge is dropped.
func (c *Coordinator) CloseParticipation(ctx context.Context) error {
	c.op.Lock()
	defer c.op.Unlock()

	if c.state.Stage != Finalized && len(c.state.History) == 0 {
		return c.reject("close", ErrNoContributions)
	}
	t := &transition{
		op:   "close",
		from: contributionStages,
		check: func(ctx context.Context) error {
			_, err := c.current(ctx)
			return err
		},
		apply: func(s *State) {
			s.Stage = AwaitingBeacon
			s.Pending = nil
		},
	}
	return c.admit(ctx, t)
}

// Outcome lists what finalization produced.
type Outcome struct {
	Final   Ref
	Count   uint64
	Outputs []string
}

type finalizeOptions struct {
	circuit string
}

// FinalizeOption configures Finalize.
type FinalizeOption func(*finalizeOptions)

// WithCircuit reads the circuit of a zkey from name instead of the name
// recorded at creation. The circuit must still be the same.
func WithCircuit(name string) FinalizeOption {
	return func(o *finalizeOptions) { o.circuit = name }
}

// Finalize applies the beacon and derives the final parameters:
//
//  1. the current artifact is re-verified against its whole history;
//  2. the beacon is applied and the result staged as beacon_<name>;
//  3. the beacon application is re-derived independently and compared;
//  4. the final parameters are derived and checked, and for a zkey the
//     verification key and verifier contract are rendered;
//  5. the final artifacts are persisted and the beacon artifact deleted.
//
// A failure at any step leaves every persisted artifact untouched. Finalize
// resumes from BeaconApplied if a previous run stopped after step 3.
func (c *Coordinator) Finalize(ctx context.Context, opts ...FinalizeOption) (*Outcome, error) {
	c.op.Lock()
	defer c.op.Unlock()

	var o finalizeOptions
	for _, opt := range opts {
		opt(&o)
	}
	if err := c.allowed("finalize", []Stage{AwaitingBeacon, BeaconApplied}); err != nil {
		return nil, c.reject("finalize", err)
	}

	resumed := c.state.Stage == BeaconApplied
	if !resumed {
		if err := c.applyBeacon(ctx, o.circuit); err != nil {
			c.logger().Errorw("finalization aborted", "err", err)
			return nil, err
		}
	}
	sealed, err := c.current(ctx)
	if err != nil {
		return nil, c.reject("finalize", err)
	}
	if resumed {
		c.setVerifying(true)
		err := c.verifyArtifact(ctx, sealed, o.circuit)
		c.setVerifying(false)
		if err != nil {
			c.logger().Errorw("beacon artifact failed verification", "err", err)
			return nil, c.reject("finalize", err)
		}
	}
	return c.prepare(ctx, sealed, o.circuit)
}

// applyBeacon runs steps 1 to 3 and moves the ceremony to BeaconApplied.
func (c *Coordinator) applyBeacon(ctx context.Context, circuitName string) error {
	base, err := c.current(ctx)
	if err != nil {
		return c.reject("apply-beacon", err)
	}
	if err := c.verifyArtifact(ctx, base, circuitName); err != nil {
		return c.reject("apply-beacon", err)
	}
	payloads, err := c.chain(ctx, base)
	if err != nil {
		return c.reject("apply-beacon", err)
	}
	sealedPayload, err := c.seal(ctx, base, payloads, circuitName)
	if err != nil {
		return c.reject("apply-beacon", err)
	}

	name := c.naming.Beacon(c.state.Current.Name)
	sealed := base.Derive(artifact.Entry{Tag: "beacon", Entropy: artifact.Beacon, Name: name}, sealedPayload)
	sealed.Seal = artifact.Sealed
	sealed.Beacon = c.beacon.info()
	b := artifact.Encode(sealed)
	contribution := Contribution{
		Sequence: sealed.Count(),
		Entropy:  artifact.Beacon,
		Tag:      "beacon",
		Artifact: Ref{Name: name, Hash: artifact.Sum(b)},
		Accepted: c.now(),
	}

	t := &transition{
		op:   "apply-beacon",
		from: []Stage{AwaitingBeacon},
		check: func(ctx context.Context) error {
			decoded, err := artifact.Decode(b)
			if err != nil {
				return verificationError("beacon artifact: %v", err)
			}
			return c.verifyArtifact(ctx, decoded, circuitName)
		},
		apply: func(s *State) {
			s.History = append(s.History, contribution)
			s.Current = contribution.Artifact
			ref := contribution.Artifact
			s.Beacon = &ref
			s.Stage = BeaconApplied
		},
	}
	if err := c.stage(ctx, t, name, b, false); err != nil {
		return c.reject("apply-beacon", err)
	}
	return c.admit(ctx, t)
}

// prepare runs steps 4 and 5 from a verified sealed artifact.
func (c *Coordinator) prepare(ctx context.Context, sealed *artifact.Artifact, circuitName string) (*Outcome, error) {
	prepared, err := timed("prepare", func() ([]byte, error) {
		return c.engine.Prepare(ctx, sealed.Kind, sealed.Payload)
	})
	if err != nil {
		return nil, c.reject("finalize", fmt.Errorf("error preparing final parameters: %w", err))
	}
	final := *sealed
	final.Seal = artifact.Final
	final.Payload = prepared
	b := artifact.Encode(&final)

	beaconName := c.state.Current.Name
	name := c.naming.Final(sealed.Kind, c.state.History[len(c.state.History)-2].Artifact.Name)
	ref := Ref{Name: name, Hash: artifact.Sum(b)}
	outputs := []string{name}

	t := &transition{
		op:   "finalize",
		from: []Stage{BeaconApplied},
		check: func(ctx context.Context) error {
			decoded, err := artifact.Decode(b)
			if err != nil {
				return verificationError("final artifact: %v", err)
			}
			_, err = timed("verify-prepared", func() (struct{}, error) {
				return struct{}{}, c.engine.VerifyPrepared(ctx, decoded.Kind, sealed.Payload, decoded.Payload)
			})
			if err != nil {
				return verificationError("final parameters: %v", err)
			}
			return nil
		},
		apply: func(s *State) {
			s.Stage = Finalized
			s.Current = ref
			s.Final = &ref
			s.Beacon = nil
			s.Outputs = outputs
		},
		after: func(ctx context.Context) error {
			return c.store.Delete(ctx, beaconName)
		},
	}
	if err := c.stage(ctx, t, name, b, false); err != nil {
		return nil, c.reject("finalize", err)
	}

	if sealed.Kind == artifact.ZKey {
		exporter, ok := c.engine.(Exporter)
		if !ok {
			c.discard(t)
			return nil, c.reject("finalize", fmt.Errorf("engine cannot export keys"))
		}
		export, err := timed("export-key", func() (*KeyExport, error) {
			return exporter.ExportKey(ctx, sealed.Variant, prepared)
		})
		if err != nil {
			c.discard(t)
			return nil, c.reject("finalize", fmt.Errorf("error exporting key: %w", err))
		}
		for _, out := range []struct {
			name string
			data []byte
		}{
			{artifact.VerificationKeyName, export.VerificationKey},
			{artifact.VerifierName, export.Verifier},
		} {
			if err := c.stage(ctx, t, out.name, out.data, true); err != nil {
				c.discard(t)
				return nil, c.reject("finalize", err)
			}
			outputs = append(outputs, out.name)
		}
	}

	if err := c.admit(ctx, t); err != nil {
		return nil, err
	}
	return &Outcome{Final: ref, Count: final.Count(), Outputs: outputs}, nil
}

// DiscardBeacon drops a beacon application that could not be finalized,
// returning the ceremony to AwaitingBeacon.
func (c *Coordinator) DiscardBeacon(ctx context.Context) error {
	c.op.Lock()
	defer c.op.Unlock()

	if err := c.allowed("discard-beacon", []Stage{BeaconApplied}); err != nil {
		return c.reject("discard-beacon", err)
	}
	beaconName := c.state.Current.Name
	t := &transition{
		op:   "discard-beacon",
		from: []Stage{BeaconApplied},
		apply: func(s *State) {
			s.History = s.History[:len(s.History)-1]
			s.Current = s.History[len(s.History)-1].Artifact
			s.Beacon = nil
			s.Stage = AwaitingBeacon
		},
		after: func(ctx context.Context) error {
			return c.store.Delete(ctx, beaconName)
		},
	}
	return c.admit(ctx, t)
}
