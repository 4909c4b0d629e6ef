package ceremony

import (
	"bytes"
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/giuliop/ceremony/artifact"
)

// InitAccumulator creates the empty Powers-of-Tau accumulator of 2^size
// powers, named pot<size>.ptau.
func (c *Coordinator) InitAccumulator(ctx context.Context, size int) (Ref, error) {
	c.op.Lock()
	defer c.op.Unlock()

	if size < 1 || size > c.engine.MaxSize() || size > artifact.MaxSize {
		return Ref{}, c.reject("init-accumulator", fmt.Errorf("%w: %d is not between 1 and %d",
			ErrInvalidSizeParameter, size, c.engine.MaxSize()))
	}
	if err := c.allowed("init-accumulator", []Stage{Uninitialized}); err != nil {
		return Ref{}, c.reject("init-accumulator", err)
	}
	payload, err := timed("new-accumulator", func() ([]byte, error) {
		return c.engine.NewAccumulator(ctx, size)
	})
	if err != nil {
		return Ref{}, c.reject("init-accumulator", fmt.Errorf("error creating accumulator: %w", err))
	}
	name := artifact.InitialAccumulator(size)
	a := artifact.NewAccumulator(size, name, payload)
	return c.initialize(ctx, "init-accumulator", name, a, func(s *State) {
		s.Kind = artifact.PTau
		s.Size = size
	})
}

// InitKey creates the initial zkey of the circuit stored as circuitName
// from the finalized accumulator stored as accumulatorName. The
// accumulator is fully verified first.
func (c *Coordinator) InitKey(ctx context.Context, circuitName, accumulatorName string, variant artifact.Variant) (Ref, error) {
	c.op.Lock()
	defer c.op.Unlock()

	if err := c.allowed("init-key", []Stage{Uninitialized}); err != nil {
		return Ref{}, c.reject("init-key", err)
	}
	circuit, err := c.store.Get(ctx, circuitName)
	if err != nil {
		return Ref{}, c.reject("init-key", ioError("reading "+circuitName, err))
	}
	acc, accHash, err := c.load(ctx, accumulatorName, artifact.Hash{})
	if err != nil {
		return Ref{}, c.reject("init-key", err)
	}
	if acc.Kind != artifact.PTau || acc.Seal != artifact.Final {
		return Ref{}, c.reject("init-key", verificationError("%s is not a finalized accumulator", accumulatorName))
	}
	if err := c.verifyArtifact(ctx, acc, ""); err != nil {
		return Ref{}, c.reject("init-key", err)
	}

	payload, err := timed("new-key", func() ([]byte, error) {
		return c.engine.NewKey(ctx, variant, circuit, acc.Payload)
	})
	if err != nil {
		return Ref{}, c.reject("init-key", fmt.Errorf("error creating key: %w", err))
	}
	name := artifact.InitialKey(circuitName)
	a := artifact.NewKey(variant,
		artifact.Ref{Name: circuitName, Digest: artifact.Sum(circuit)},
		artifact.Ref{Name: accumulatorName, Digest: accHash},
		name, payload)
	return c.initialize(ctx, "init-key", name, a, func(s *State) {
		s.Kind = artifact.ZKey
		s.Variant = variant
	})
}

func (c *Coordinator) initialize(ctx context.Context, op, name string, a *artifact.Artifact, set func(*State)) (Ref, error) {
	b := artifact.Encode(a)
	ref := Ref{Name: name, Hash: artifact.Sum(b)}
	t := &transition{
		op:   op,
		from: []Stage{Uninitialized},
		check: func(ctx context.Context) error {
			if _, err := artifact.Decode(b); err != nil {
				return verificationError("%v", err)
			}
			_, err := c.verifyOrigin(ctx, a, "")
			return err
		},
		apply: func(s *State) {
			set(s)
			s.Instance = uuid.NewString()
			s.Stage = Initialized
			s.Origin = ref
			s.Current = ref
			s.Created = c.now()
		},
	}
	if err := c.stage(ctx, t, name, b, false); err != nil {
		return Ref{}, c.reject(op, err)
	}
	if err := c.admit(ctx, t); err != nil {
		return Ref{}, err
	}
	return ref, nil
}

// verifyOrigin re-derives the initial payload of a chain, compares it with
// the recorded origin digest and returns it.
func (c *Coordinator) verifyOrigin(ctx context.Context, a *artifact.Artifact, circuitName string) ([]byte, error) {
	var (
		payload []byte
		err     error
	)
	switch a.Kind {
	case artifact.PTau:
		payload, err = timed("new-accumulator", func() ([]byte, error) {
			return c.engine.NewAccumulator(ctx, int(a.Size))
		})
	case artifact.ZKey:
		var circuit, acc []byte
		circuit, acc, err = c.inputs(ctx, a, circuitName)
		if err != nil {
			return nil, err
		}
		payload, err = timed("new-key", func() ([]byte, error) {
			return c.engine.NewKey(ctx, a.Variant, circuit, acc)
		})
	}
	if err != nil {
		return nil, verificationError("re-deriving initial %s: %v", a.Kind, err)
	}
	if artifact.Sum(payload) != a.Origin.Digest {
		return nil, verificationError("initial %s does not match its re-derivation", a.Kind)
	}
	if len(a.History) == 0 && !bytes.Equal(payload, a.Payload) {
		return nil, verificationError("initial %s payload differs", a.Kind)
	}
	return payload, nil
}

// inputs loads the circuit and accumulator payload a zkey was created from.
// circuitName overrides the recorded circuit name.
func (c *Coordinator) inputs(ctx context.Context, a *artifact.Artifact, circuitName string) ([]byte, []byte, error) {
	if circuitName == "" {
		circuitName = a.Circuit.Name
	}
	circuit, err := c.store.Get(ctx, circuitName)
	if err != nil {
		return nil, nil, ioError("reading circuit "+circuitName, err)
	}
	if artifact.Sum(circuit) != a.Circuit.Digest {
		return nil, nil, verificationError("circuit %s is not the one the key was created for", circuitName)
	}
	acc, _, err := c.load(ctx, a.Accumulator.Name, a.Accumulator.Digest)
	if err != nil {
		return nil, nil, err
	}
	return circuit, acc.Payload, nil
}
