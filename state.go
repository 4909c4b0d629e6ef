package ceremony

import (
	"github.com/giuliop/ceremony/artifact"
)

// Ref names an artifact in the store together with its content hash.
type Ref struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	Name string        `codec:"name" json:"name"`
	Hash artifact.Hash `codec:"hash" json:"hash"`
}

// Contribution is an accepted update of the ceremony.
type Contribution struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	Sequence uint64           `codec:"seq" json:"sequence"`
	Entropy  artifact.Entropy `codec:"entropy" json:"entropy"`
	Tag      string           `codec:"tag" json:"tag"`
	Signer   string           `codec:"signer" json:"signer,omitempty"`
	Artifact Ref              `codec:"artifact" json:"artifact"`
	Accepted int64            `codec:"accepted" json:"accepted"`
}

// Pending is an issued challenge still waiting for its response.
type Pending struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	Name   string        `codec:"name" json:"name"`
	Hash   artifact.Hash `codec:"hash" json:"hash"`
	Base   artifact.Hash `codec:"base" json:"base"`
	Issued int64         `codec:"issued" json:"issued"`
}

// State is everything the coordinator knows about one ceremony instance.
// It is owned by the Coordinator; callers get copies.
type State struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	ID       string           `codec:"id" json:"id"`
	Instance string           `codec:"instance" json:"instance"`
	Kind     artifact.Kind    `codec:"kind" json:"kind"`
	Variant  artifact.Variant `codec:"variant" json:"variant,omitempty"`
	Size     int              `codec:"size" json:"size,omitempty"`
	Stage    Stage            `codec:"stage" json:"stage"`

	Origin  Ref            `codec:"origin" json:"origin"`
	Current Ref            `codec:"current" json:"current"`
	Pending *Pending       `codec:"pending" json:"pending,omitempty"`
	History []Contribution `codec:"history" json:"history"`
	Beacon  *Ref           `codec:"beacon" json:"beacon,omitempty"`
	Final   *Ref           `codec:"final" json:"final,omitempty"`
	Outputs []string       `codec:"outputs" json:"outputs,omitempty"`

	Created int64 `codec:"created" json:"created"`
	Updated int64 `codec:"updated" json:"updated"`
}

// Count is the number of contributions accepted so far, the beacon
// included.
func (s *State) Count() uint64 {
	return uint64(len(s.History))
}

// Clone returns a deep copy of s.
func (s *State) Clone() *State {
	c := *s
	c.History = append([]Contribution(nil), s.History...)
	c.Outputs = append([]string(nil), s.Outputs...)
	if s.Pending != nil {
		p := *s.Pending
		c.Pending = &p
	}
	if s.Beacon != nil {
		b := *s.Beacon
		c.Beacon = &b
	}
	if s.Final != nil {
		f := *s.Final
		c.Final = &f
	}
	return &c
}

// Names lists every artifact name the state refers to.
func (s *State) Names() []string {
	names := []string{}
	add := func(n string) {
		if n != "" {
			names = append(names, n)
		}
	}
	add(s.Origin.Name)
	for _, c := range s.History {
		add(c.Artifact.Name)
	}
	if s.Pending != nil {
		add(s.Pending.Name)
	}
	if s.Beacon != nil {
		add(s.Beacon.Name)
	}
	if s.Final != nil {
		add(s.Final.Name)
	}
	for _, o := range s.Outputs {
		add(o)
	}
	return names
}
