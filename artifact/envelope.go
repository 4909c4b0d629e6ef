package artifact

import (
	"fmt"

	"github.com/algorand/go-algorand-sdk/v2/encoding/msgpack"
)

const (
	challengeMagic = "ceremony-challenge"
	responseMagic  = "ceremony-response"
)

// Challenge is what an offline contributor needs to contribute: the engine
// payload of the base artifact and enough metadata to name and check the
// answer. It is immutable once issued and identified by the digest of its
// encoding.
type Challenge struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	Magic    string `codec:"magic"`
	Kind     Kind   `codec:"kind"`
	Size     uint8  `codec:"size"`
	Circuit  Hash   `codec:"circuit"`
	Base     Ref    `codec:"base"`
	Sequence uint64 `codec:"seq"`
	Nonce    string `codec:"nonce"`
	Issued   int64  `codec:"issued"`
	Payload  []byte `codec:"payload"`
}

// NewChallenge strips base down to a challenge. baseHash is the content
// hash of the encoded base container.
func NewChallenge(base *Artifact, baseName string, baseHash Hash, nonce string, issued int64) *Challenge {
	return &Challenge{
		Magic:    challengeMagic,
		Kind:     base.Kind,
		Size:     base.Size,
		Circuit:  base.Circuit.Digest,
		Base:     Ref{Name: baseName, Digest: baseHash},
		Sequence: base.Count() + 1,
		Nonce:    nonce,
		Issued:   issued,
		Payload:  base.Payload,
	}
}

// EncodeChallenge serializes c and returns its identifying hash.
func EncodeChallenge(c *Challenge) ([]byte, Hash) {
	b := msgpack.Encode(c)
	return b, Sum(b)
}

// DecodeChallenge parses a challenge and returns its identifying hash.
func DecodeChallenge(b []byte) (*Challenge, Hash, error) {
	var c Challenge
	if err := msgpack.Decode(b, &c); err != nil {
		return nil, Hash{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if c.Magic != challengeMagic {
		return nil, Hash{}, fmt.Errorf("%w: not a challenge", ErrMalformed)
	}
	if c.Kind != PTau && c.Kind != ZKey {
		return nil, Hash{}, fmt.Errorf("%w: unknown kind %d", ErrMalformed, c.Kind)
	}
	if len(c.Payload) == 0 || c.Sequence == 0 {
		return nil, Hash{}, fmt.Errorf("%w: empty challenge", ErrMalformed)
	}
	return &c, Sum(b), nil
}

// Response answers the challenge whose hash it carries. Signer and
// Signature are optional; when set the signature covers SignedBytes.
type Response struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	Magic     string `codec:"magic"`
	Challenge Hash   `codec:"challenge"`
	Tag       string `codec:"tag"`
	Payload   []byte `codec:"payload"`
	Signer    string `codec:"signer"`
	Signature []byte `codec:"sig"`
}

// NewResponse builds an unsigned response.
func NewResponse(challenge Hash, tag string, payload []byte) *Response {
	return &Response{
		Magic:     responseMagic,
		Challenge: challenge,
		Tag:       tag,
		Payload:   payload,
	}
}

// SignedBytes is the message a contributor signs: the challenge hash
// followed by the payload digest.
func (r *Response) SignedBytes() []byte {
	d := Sum(r.Payload)
	msg := make([]byte, 0, 2*len(d))
	msg = append(msg, r.Challenge[:]...)
	return append(msg, d[:]...)
}

// EncodeResponse serializes r.
func EncodeResponse(r *Response) []byte {
	return msgpack.Encode(r)
}

// DecodeResponse parses a response.
func DecodeResponse(b []byte) (*Response, error) {
	var r Response
	if err := msgpack.Decode(b, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if r.Magic != responseMagic {
		return nil, fmt.Errorf("%w: not a response", ErrMalformed)
	}
	if r.Challenge.IsZero() || len(r.Payload) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrMalformed)
	}
	return &r, nil
}
