// Package artifact defines the on-store representation of ceremony
// artifacts and of the challenge/response envelopes exchanged with offline
// contributors.
//
// An artifact is a container around the opaque engine payload. The
// container records what kind of parameters the payload holds, what it
// was derived from and the ordered list of contributions baked into it.
// Containers are msgpack encoded and identified by the blake2b-512 digest
// of their encoding.
package artifact

import (
	"errors"
	"fmt"

	"github.com/algorand/go-algorand-sdk/v2/encoding/msgpack"
)

const (
	magic   = "ceremony"
	version = 1

	// MaxSize bounds the size parameter of an accumulator, as the beacon
	// round count and the snarkjs format do.
	MaxSize = 63
)

// ErrMalformed is returned when a container fails its structural checks.
var ErrMalformed = errors.New("malformed artifact")

// Kind of parameters held by an artifact.
type Kind uint8

const (
	PTau Kind = iota + 1
	ZKey
)

func (k Kind) String() string {
	switch k {
	case PTau:
		return "ptau"
	case ZKey:
		return "zkey"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Ext is the file extension used for artifacts of this kind.
func (k Kind) Ext() string {
	return "." + k.String()
}

// ParseKind parses "ptau" or "zkey".
func ParseKind(s string) (Kind, error) {
	switch s {
	case "ptau":
		return PTau, nil
	case "zkey":
		return ZKey, nil
	}
	return 0, fmt.Errorf("unknown artifact kind %q", s)
}

// Variant is the proving system a zkey is meant for.
type Variant uint8

const (
	Groth16 Variant = iota + 1
	Plonk
)

func (v Variant) String() string {
	switch v {
	case Groth16:
		return "groth16"
	case Plonk:
		return "plonk"
	default:
		return fmt.Sprintf("variant(%d)", uint8(v))
	}
}

// ParseVariant parses "groth16" or "plonk".
func ParseVariant(s string) (Variant, error) {
	switch s {
	case "groth16":
		return Groth16, nil
	case "plonk":
		return Plonk, nil
	}
	return 0, fmt.Errorf("unknown proving system %q", s)
}

// Entropy is the source of randomness of a contribution.
type Entropy uint8

const (
	Random Entropy = iota + 1
	Beacon
)

func (e Entropy) String() string {
	switch e {
	case Random:
		return "random"
	case Beacon:
		return "beacon"
	default:
		return fmt.Sprintf("entropy(%d)", uint8(e))
	}
}

// Seal tells how far along the finalization an artifact is.
type Seal uint8

const (
	Open Seal = iota
	Sealed
	Final
)

// Ref points at another artifact or input by name and digest.
type Ref struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	Name   string `codec:"name"`
	Digest Hash   `codec:"digest"`
}

func (r Ref) IsZero() bool {
	return r.Name == "" && r.Digest.IsZero()
}

// Entry is one contribution baked into an artifact. Digest is the payload
// digest of the artifact the contribution produced.
type Entry struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	Seq     uint64  `codec:"seq"`
	Tag     string  `codec:"tag"`
	Entropy Entropy `codec:"entropy"`
	Name    string  `codec:"name"`
	Digest  Hash    `codec:"digest"`
}

// Artifact is a ceremony artifact container.
type Artifact struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	Magic   string  `codec:"magic"`
	Version uint8   `codec:"v"`
	Kind    Kind    `codec:"kind"`
	Seal    Seal    `codec:"seal"`
	Size    uint8   `codec:"size"`
	Variant Variant `codec:"variant"`

	// Circuit and Accumulator are set for zkeys only.
	Circuit     Ref `codec:"circuit"`
	Accumulator Ref `codec:"acc"`

	Origin  Ref        `codec:"origin"`
	History []Entry    `codec:"hist"`
	Beacon  BeaconInfo `codec:"beacon"`
	Payload []byte     `codec:"payload"`
}

// BeaconInfo records the public beacon a sealed artifact was derived with.
type BeaconInfo struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	Seed   []byte `codec:"seed"`
	Rounds uint8  `codec:"rounds"`
}

// NewAccumulator returns an empty accumulator container of 2^size powers.
func NewAccumulator(size int, name string, payload []byte) *Artifact {
	return &Artifact{
		Magic:   magic,
		Version: version,
		Kind:    PTau,
		Size:    uint8(size),
		Origin:  Ref{Name: name, Digest: Sum(payload)},
		Payload: payload,
	}
}

// NewKey returns an empty zkey container bound to a circuit and to the
// finalized accumulator it was derived from.
func NewKey(variant Variant, circuit, accumulator Ref, name string, payload []byte) *Artifact {
	return &Artifact{
		Magic:       magic,
		Version:     version,
		Kind:        ZKey,
		Variant:     variant,
		Circuit:     circuit,
		Accumulator: accumulator,
		Origin:      Ref{Name: name, Digest: Sum(payload)},
		Payload:     payload,
	}
}

// Count is the number of contributions baked into the artifact, the beacon
// included.
func (a *Artifact) Count() uint64 {
	return uint64(len(a.History))
}

// PayloadDigest is the digest of the engine payload.
func (a *Artifact) PayloadDigest() Hash {
	return Sum(a.Payload)
}

// Last returns the last history entry, or false if the history is empty.
func (a *Artifact) Last() (Entry, bool) {
	if len(a.History) == 0 {
		return Entry{}, false
	}
	return a.History[len(a.History)-1], true
}

// Derive returns a copy of a carrying payload and one more history entry.
// The entry sequence and digest are filled in.
func (a *Artifact) Derive(e Entry, payload []byte) *Artifact {
	next := *a
	next.History = make([]Entry, len(a.History), len(a.History)+1)
	copy(next.History, a.History)
	e.Seq = a.Count() + 1
	e.Digest = Sum(payload)
	next.History = append(next.History, e)
	next.Payload = payload
	return &next
}

// Validate runs the structural checks of a container. It does not look at
// the payload beyond its digest.
func (a *Artifact) Validate() error {
	if a.Magic != magic {
		return fmt.Errorf("%w: bad magic %q", ErrMalformed, a.Magic)
	}
	if a.Version != version {
		return fmt.Errorf("%w: unsupported version %d", ErrMalformed, a.Version)
	}
	switch a.Kind {
	case PTau:
		if a.Size < 1 || a.Size > MaxSize {
			return fmt.Errorf("%w: size %d out of range", ErrMalformed, a.Size)
		}
	case ZKey:
		if a.Circuit.Digest.IsZero() || a.Accumulator.Digest.IsZero() {
			return fmt.Errorf("%w: zkey without circuit or accumulator", ErrMalformed)
		}
		if a.Variant != Groth16 && a.Variant != Plonk {
			return fmt.Errorf("%w: unknown variant %d", ErrMalformed, a.Variant)
		}
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrMalformed, a.Kind)
	}
	if len(a.Payload) == 0 {
		return fmt.Errorf("%w: empty payload", ErrMalformed)
	}
	if a.Origin.Digest.IsZero() {
		return fmt.Errorf("%w: missing origin", ErrMalformed)
	}
	for i, e := range a.History {
		if e.Seq != uint64(i+1) {
			return fmt.Errorf("%w: entry %d has sequence %d", ErrMalformed, i, e.Seq)
		}
		last := i == len(a.History)-1
		switch {
		case e.Entropy == Beacon && !(last && a.Seal != Open):
			return fmt.Errorf("%w: beacon entry at %d", ErrMalformed, e.Seq)
		case e.Entropy != Beacon && e.Entropy != Random:
			return fmt.Errorf("%w: entry %d has no entropy source", ErrMalformed, e.Seq)
		}
	}
	if a.Seal != Open {
		if e, ok := a.Last(); !ok || e.Entropy != Beacon {
			return fmt.Errorf("%w: sealed artifact without beacon entry", ErrMalformed)
		}
		if a.Count() < 2 {
			return fmt.Errorf("%w: sealed artifact without contributions", ErrMalformed)
		}
		if len(a.Beacon.Seed) == 0 || a.Beacon.Rounds == 0 {
			return fmt.Errorf("%w: sealed artifact without beacon parameters", ErrMalformed)
		}
	}
	if e, ok := a.Last(); ok && a.Seal != Final && e.Digest != a.PayloadDigest() {
		return fmt.Errorf("%w: payload does not match last entry", ErrMalformed)
	}
	if len(a.History) == 0 && a.Origin.Digest != a.PayloadDigest() {
		return fmt.Errorf("%w: payload does not match origin", ErrMalformed)
	}
	return nil
}

// Encode serializes the container.
func Encode(a *Artifact) []byte {
	return msgpack.Encode(a)
}

// Decode parses and validates a container.
func Decode(b []byte) (*Artifact, error) {
	var a Artifact
	if err := msgpack.Decode(b, &a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}
