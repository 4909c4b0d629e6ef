// Package testutils contains test helpers: a deterministic fake engine, an
// in-memory store and gnark circuits small enough for real ceremonies in
// tests.
package testutils

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/crypto/blake2b"

	"github.com/giuliop/ceremony"
	"github.com/giuliop/ceremony/artifact"
)

// FakeMaxSize is the largest size parameter the fake engine accepts.
const FakeMaxSize = 28

var (
	openMagic     = []byte("fake")
	preparedMagic = []byte("prep")
)

const (
	stateLen   = 32
	payloadLen = 4 + 2 + 2*stateLen
)

// ErrInjected is returned by the fake engine when a failure is switched on.
var ErrInjected = errors.New("injected failure")

// Engine is a fake ceremony engine. A payload carries a running state and
// the randomness of its last contribution, so a contribution is checked by
// recomputing the state from its predecessor. Everything but Contribute is
// deterministic.
//
// The exported switches inject failures; they may be flipped while the
// engine is in use.
type Engine struct {
	// FailVerify makes VerifyContribution fail.
	FailVerify atomic.Bool
	// FailSeal makes Seal fail.
	FailSeal atomic.Bool
	// RandomSeal makes Seal non deterministic.
	RandomSeal atomic.Bool
	// FailPrepared makes VerifyPrepared fail.
	FailPrepared atomic.Bool
	// FailExport makes ExportKey fail.
	FailExport atomic.Bool

	mu    sync.Mutex
	gate  chan struct{}
	calls map[string]int
}

// NewEngine returns a fake engine.
func NewEngine() *Engine {
	return &Engine{calls: map[string]int{}}
}

// Block makes VerifyContribution wait until Release is called.
func (e *Engine) Block() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gate = make(chan struct{})
}

// Release unblocks VerifyContribution.
func (e *Engine) Release() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gate != nil {
		close(e.gate)
		e.gate = nil
	}
}

// Calls returns how many times op was called.
func (e *Engine) Calls(op string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[op]
}

func (e *Engine) count(op string) {
	e.mu.Lock()
	e.calls[op]++
	e.mu.Unlock()
}

func (e *Engine) MaxSize() int { return FakeMaxSize }

func (e *Engine) NewAccumulator(ctx context.Context, size int) ([]byte, error) {
	e.count("new-accumulator")
	if size < 1 || size > FakeMaxSize {
		return nil, fmt.Errorf("%w: %d", ceremony.ErrInvalidSizeParameter, size)
	}
	state := blake2b.Sum256([]byte(fmt.Sprintf("powers of tau %d", size)))
	return encode(artifact.PTau, size, state[:], nil), nil
}

func (e *Engine) NewKey(ctx context.Context, variant artifact.Variant, circuit, accumulator []byte) ([]byte, error) {
	e.count("new-key")
	size, err := CircuitSize(circuit)
	if err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(accumulator, preparedMagic) || len(accumulator) != 6+stateLen {
		return nil, fmt.Errorf("accumulator is not finalized")
	}
	if int(accumulator[5]) < size {
		return nil, fmt.Errorf("%w: circuit needs 2^%d powers, accumulator has 2^%d",
			ceremony.ErrInvalidSizeParameter, size, accumulator[5])
	}
	h, _ := blake2b.New256(nil)
	h.Write([]byte{byte(variant)})
	h.Write(circuit)
	h.Write(accumulator)
	return encode(artifact.ZKey, size, h.Sum(nil), nil), nil
}

func (e *Engine) Contribute(ctx context.Context, kind artifact.Kind, payload []byte) ([]byte, error) {
	e.count("contribute")
	k, size, state, _, err := decode(payload)
	if err != nil {
		return nil, err
	}
	if k != kind {
		return nil, fmt.Errorf("payload is a %s, not a %s", k, kind)
	}
	r := make([]byte, stateLen)
	if _, err := rand.Read(r); err != nil {
		return nil, err
	}
	return encode(kind, size, step(state, r), r), nil
}

func (e *Engine) VerifyContribution(ctx context.Context, kind artifact.Kind, prev, next []byte) error {
	e.count("verify")
	e.mu.Lock()
	gate := e.gate
	e.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if e.FailVerify.Load() {
		return ErrInjected
	}
	return verify(kind, prev, next)
}

func (e *Engine) Seal(ctx context.Context, s *ceremony.Sealing) ([]byte, error) {
	e.count("seal")
	if e.FailSeal.Load() {
		return nil, ErrInjected
	}
	var (
		initial []byte
		err     error
	)
	if s.Kind == artifact.PTau {
		initial, err = e.NewAccumulator(ctx, s.Size)
	} else {
		initial, err = e.NewKey(ctx, s.Variant, s.Circuit, s.Accumulator)
	}
	if err != nil {
		return nil, err
	}
	if len(s.Contributions) == 0 {
		return nil, fmt.Errorf("nothing to seal")
	}
	prev := initial
	for i, next := range s.Contributions {
		if err := verify(s.Kind, prev, next); err != nil {
			return nil, fmt.Errorf("contribution %d: %v", i+1, err)
		}
		prev = next
	}
	_, size, state, _, _ := decode(prev)
	r := make([]byte, stateLen)
	copy(r, s.Beacon)
	if e.RandomSeal.Load() {
		if _, err := rand.Read(r); err != nil {
			return nil, err
		}
	}
	return encode(s.Kind, size, step(state, r), r), nil
}

func (e *Engine) Prepare(ctx context.Context, kind artifact.Kind, sealed []byte) ([]byte, error) {
	e.count("prepare")
	return prepare(kind, sealed)
}

func (e *Engine) VerifyPrepared(ctx context.Context, kind artifact.Kind, sealed, prepared []byte) error {
	e.count("verify-prepared")
	if e.FailPrepared.Load() {
		return ErrInjected
	}
	want, err := prepare(kind, sealed)
	if err != nil {
		return err
	}
	if !bytes.Equal(want, prepared) {
		return fmt.Errorf("prepared parameters do not match")
	}
	return nil
}

// ExportKey renders a fake verification key and verifier.
func (e *Engine) ExportKey(ctx context.Context, variant artifact.Variant, prepared []byte) (*ceremony.KeyExport, error) {
	e.count("export-key")
	if e.FailExport.Load() {
		return nil, ErrInjected
	}
	if !bytes.HasPrefix(prepared, preparedMagic) {
		return nil, fmt.Errorf("not a prepared key")
	}
	vk, err := json.Marshal(map[string]string{
		"protocol": strings.ToLower(variant.String()),
		"key":      fmt.Sprintf("%x", prepared[6:]),
	})
	if err != nil {
		return nil, err
	}
	verifier := fmt.Sprintf("# %s verifier for key %x\n", variant, prepared[6:14])
	return &ceremony.KeyExport{VerificationKey: vk, Verifier: []byte(verifier)}, nil
}

// Circuit returns a fake circuit needing 2^size powers.
func Circuit(size int) []byte {
	return []byte("circuit/" + strconv.Itoa(size))
}

// CircuitSize parses a circuit made by Circuit.
func CircuitSize(circuit []byte) (int, error) {
	s, ok := strings.CutPrefix(string(circuit), "circuit/")
	if !ok {
		return 0, fmt.Errorf("%w: not a circuit", ceremony.ErrInvalidSizeParameter)
	}
	size, err := strconv.Atoi(s)
	if err != nil || size < 1 || size > FakeMaxSize {
		return 0, fmt.Errorf("%w: circuit size %q", ceremony.ErrInvalidSizeParameter, s)
	}
	return size, nil
}

func encode(kind artifact.Kind, size int, state, r []byte) []byte {
	b := make([]byte, 0, payloadLen)
	b = append(b, openMagic...)
	b = append(b, byte(kind), byte(size))
	b = append(b, state...)
	if r == nil {
		r = make([]byte, stateLen)
	}
	return append(b, r...)
}

func decode(payload []byte) (kind artifact.Kind, size int, state, r []byte, err error) {
	if len(payload) != payloadLen || !bytes.HasPrefix(payload, openMagic) {
		return 0, 0, nil, nil, fmt.Errorf("malformed payload")
	}
	return artifact.Kind(payload[4]), int(payload[5]), payload[6 : 6+stateLen], payload[6+stateLen:], nil
}

func step(state, r []byte) []byte {
	h, _ := blake2b.New256(nil)
	h.Write(state)
	h.Write(r)
	return h.Sum(nil)
}

func verify(kind artifact.Kind, prev, next []byte) error {
	pk, psize, pstate, _, err := decode(prev)
	if err != nil {
		return fmt.Errorf("previous: %v", err)
	}
	nk, nsize, nstate, r, err := decode(next)
	if err != nil {
		return fmt.Errorf("next: %v", err)
	}
	if pk != kind || nk != kind || psize != nsize {
		return fmt.Errorf("parameters differ")
	}
	if !bytes.Equal(nstate, step(pstate, r)) {
		return fmt.Errorf("invalid contribution")
	}
	return nil
}

func prepare(kind artifact.Kind, sealed []byte) ([]byte, error) {
	k, size, state, _, err := decode(sealed)
	if err != nil {
		return nil, err
	}
	if k != kind {
		return nil, fmt.Errorf("payload is a %s, not a %s", k, kind)
	}
	h := blake2b.Sum256(append([]byte("prepare"), state...))
	b := append([]byte(nil), preparedMagic...)
	b = append(b, byte(kind), byte(size))
	return append(b, h[:]...), nil
}
