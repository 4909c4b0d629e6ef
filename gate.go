package ceremony

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/giuliop/ceremony/metrics"
	"github.com/giuliop/ceremony/store"
)

// promotion is a staged write made visible once a transition is admitted.
type promotion struct {
	staged  store.Staged
	replace bool
}

// transition is a candidate change of the ceremony state. Every mutating
// operation builds one and hands it to admit, which is the only place
// where state changes.
type transition struct {
	op   string
	from []Stage
	// staged writes, in promotion order.
	writes []promotion
	// check must succeed before anything is promoted. It must not touch
	// the state.
	check func(ctx context.Context) error
	// apply mutates a copy of the state.
	apply func(s *State)
	// after runs once the new state is in place. Failures are logged.
	after func(ctx context.Context) error
}

// stage writes data under a temporary location for name and records it in
// t for promotion.
func (c *Coordinator) stage(ctx context.Context, t *transition, name string, data []byte, replace bool) error {
	s, err := c.store.Stage(ctx, name, data)
	if err != nil {
		return ioError("staging "+name, err)
	}
	t.writes = append(t.writes, promotion{staged: s, replace: replace})
	return nil
}

func (c *Coordinator) discard(t *transition) {
	// the operation context may be the reason we are discarding
	ctx := context.Background()
	for _, w := range t.writes {
		if err := c.store.Discard(ctx, w.staged); err != nil {
			c.logger().Warnw("discarding staged artifact", "name", w.staged.Name, "err", err)
		}
	}
}

// admit runs the gate: stage precondition, verification, promotion,
// journal, and finally the in-memory swap. The caller holds c.op. On any
// failure before promotion nothing is left behind.
func (c *Coordinator) admit(ctx context.Context, t *transition) error {
	if err := c.allowed(t.op, t.from); err != nil {
		c.discard(t)
		return c.reject(t.op, err)
	}

	if t.check != nil {
		c.setVerifying(true)
		err := t.check(ctx)
		c.setVerifying(false)
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		if err != nil {
			c.discard(t)
			return c.reject(t.op, err)
		}
	}

	// past verification, cancellation no longer interrupts the commit
	ctx = context.WithoutCancel(ctx)
	for i, w := range t.writes {
		var err error
		if w.replace {
			err = c.store.Replace(ctx, w.staged)
		} else {
			err = c.store.Promote(ctx, w.staged)
		}
		if err != nil {
			if i == 0 && errors.Is(err, store.ErrExists) {
				c.discard(t)
				return c.reject(t.op, ioError("promoting "+w.staged.Name, err))
			}
			for _, rest := range t.writes[i+1:] {
				_ = c.store.Discard(context.Background(), rest.staged)
			}
			perr := &PromotionError{Name: w.staged.Name, Temp: w.staged.Temp, Err: err}
			c.logger().Errorw("promotion failed", "op", t.op, "err", perr)
			return perr
		}
	}

	next := c.state.Clone()
	t.apply(next)
	next.Updated = c.now()
	if c.journal != nil {
		if err := c.journal.Save(ctx, next); err != nil {
			err = fmt.Errorf("%w: journal not updated after %s, the store is ahead of the journal: %w",
				ErrArtifactIO, t.op, err)
			c.logger().Errorw("journal save failed", "op", t.op, "err", err)
			return err
		}
	}

	c.mu.Lock()
	c.state = next
	c.mu.Unlock()

	metrics.Stage.WithLabelValues(next.ID).Set(float64(next.Stage))
	c.logger().Infow("transition", "op", t.op, "stage", next.Stage, "count", next.Count(),
		"current", next.Current.Name, "hash", next.Current.Hash.Short())

	if t.after != nil {
		if err := t.after(ctx); err != nil {
			c.logger().Warnw("post transition cleanup", "op", t.op, "err", err)
		}
	}
	return nil
}

func (c *Coordinator) allowed(op string, from []Stage) error {
	stage := c.state.Stage
	if stage == Finalized {
		return fmt.Errorf("%w: %s", ErrFinalized, op)
	}
	if !slices.Contains(from, stage) {
		return fmt.Errorf("%w: %s in stage %s", ErrStage, op, stage)
	}
	return nil
}

func (c *Coordinator) setVerifying(v bool) {
	c.mu.Lock()
	c.verifying = v
	c.mu.Unlock()
}
