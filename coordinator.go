package ceremony

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/giuliop/ceremony/artifact"
	"github.com/giuliop/ceremony/attest"
	"github.com/giuliop/ceremony/log"
	"github.com/giuliop/ceremony/metrics"
	"github.com/giuliop/ceremony/store"
)

// Journal persists ceremony states.
type Journal interface {
	Save(ctx context.Context, s *State) error
}

// Coordinator owns the state of one ceremony instance. Mutating operations
// are serialized; Verify and the state accessors may run concurrently with
// them.
type Coordinator struct {
	// op is held for the whole duration of a mutating operation.
	op sync.Mutex

	mu        sync.RWMutex
	state     *State
	verifying bool

	engine  Engine
	store   store.Store
	journal Journal
	naming  artifact.Naming
	beacon  Beacon
	signer  *attest.Signer
	signed  bool
	clock   clockwork.Clock
	log     log.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithJournal persists every state change to j.
func WithJournal(j Journal) Option {
	return func(c *Coordinator) { c.journal = j }
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

// WithClock sets the clock used to timestamp records.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Coordinator) { c.clock = clock }
}

// WithNaming sets how derived artifacts are named.
func WithNaming(n artifact.Naming) Option {
	return func(c *Coordinator) { c.naming = n }
}

// WithBeacon sets the finalization beacon.
func WithBeacon(b Beacon) Option {
	return func(c *Coordinator) { c.beacon = b }
}

// WithSigner makes the coordinator write a signed receipt next to every
// accepted contribution.
func WithSigner(s *attest.Signer) Option {
	return func(c *Coordinator) { c.signer = s }
}

// RequireSignedResponses rejects responses without a valid contributor
// signature.
func RequireSignedResponses() Option {
	return func(c *Coordinator) { c.signed = true }
}

// New returns a coordinator for a new, uninitialized ceremony.
func New(id string, engine Engine, st store.Store, opts ...Option) *Coordinator {
	c := newCoordinator(engine, st, opts)
	c.state = &State{ID: id, Stage: Uninitialized}
	return c
}

// Resume returns a coordinator for a ceremony in the given state, as loaded
// from a journal.
func Resume(s *State, engine Engine, st store.Store, opts ...Option) (*Coordinator, error) {
	if s.Stage == Verifying || s.Stage > Finalized {
		return nil, fmt.Errorf("cannot resume ceremony %s in stage %s", s.ID, s.Stage)
	}
	for i, h := range s.History {
		if h.Sequence != uint64(i+1) {
			return nil, fmt.Errorf("cannot resume ceremony %s: history entry %d has sequence %d",
				s.ID, i, h.Sequence)
		}
	}
	c := newCoordinator(engine, st, opts)
	c.state = s.Clone()
	return c, nil
}

func newCoordinator(engine Engine, st store.Store, opts []Option) *Coordinator {
	c := &Coordinator{
		engine: engine,
		store:  st,
		naming: artifact.DefaultNaming(),
		beacon: DefaultBeacon(),
		clock:  clockwork.NewRealClock(),
		log:    log.DefaultLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ID of the ceremony.
func (c *Coordinator) ID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.ID
}

// State returns a copy of the current state.
func (c *Coordinator) State() *State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Clone()
}

// Stage returns the current stage, Verifying while a gated operation is
// checking its candidate.
func (c *Coordinator) Stage() Stage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.verifying {
		return Verifying
	}
	return c.state.Stage
}

// Naming returns the naming scheme in use.
func (c *Coordinator) Naming() artifact.Naming {
	return c.naming
}

func (c *Coordinator) logger() log.Logger {
	return c.log.With("ceremony", c.state.ID)
}

func (c *Coordinator) now() int64 {
	return c.clock.Now().Unix()
}

// current reads the current artifact and checks the store still holds the
// bytes that were accepted.
func (c *Coordinator) current(ctx context.Context) (*artifact.Artifact, error) {
	ref := c.state.Current
	a, _, err := c.load(ctx, ref.Name, ref.Hash)
	return a, err
}

// load reads and decodes name. A non zero want is compared with the content
// hash of the stored bytes.
func (c *Coordinator) load(ctx context.Context, name string, want artifact.Hash) (*artifact.Artifact, artifact.Hash, error) {
	b, err := c.store.Get(ctx, name)
	if err != nil {
		return nil, artifact.Hash{}, ioError("reading "+name, err)
	}
	h := artifact.Sum(b)
	if !want.IsZero() && h != want {
		return nil, h, verificationError("%s has hash %s, expected %s", name, h.Short(), want.Short())
	}
	a, err := artifact.Decode(b)
	if err != nil {
		return nil, h, verificationError("%s: %v", name, err)
	}
	return a, h, nil
}

// timed runs an engine call and records its duration.
func timed[T any](op string, f func() (T, error)) (T, error) {
	start := time.Now()
	defer metrics.ObserveEngine(op, start)
	return f()
}

func (c *Coordinator) reject(op string, err error) error {
	metrics.Rejections.WithLabelValues(c.state.ID, reason(err)).Inc()
	c.logger().Warnw("operation refused", "op", op, "stage", c.state.Stage, "err", err)
	return err
}
