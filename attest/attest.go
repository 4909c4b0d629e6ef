// Package attest signs and checks statements about a ceremony with Algorand
// ed25519 accounts: receipts the coordinator hands out for accepted
// contributions, and the signature a contributor may attach to a response.
package attest

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/algorand/go-algorand-sdk/v2/crypto"
	"github.com/algorand/go-algorand-sdk/v2/encoding/msgpack"
	"github.com/algorand/go-algorand-sdk/v2/mnemonic"
	"github.com/algorand/go-algorand-sdk/v2/types"

	"github.com/giuliop/ceremony/artifact"
)

// ErrBadSignature is returned when a signature does not verify.
var ErrBadSignature = errors.New("bad signature")

// Signer holds an Algorand account.
type Signer struct {
	account crypto.Account
}

// NewSigner loads the account of a 25 words mnemonic.
func NewSigner(words string) (*Signer, error) {
	sk, err := mnemonic.ToPrivateKey(words)
	if err != nil {
		return nil, fmt.Errorf("error reading mnemonic: %v", err)
	}
	account, err := crypto.AccountFromPrivateKey(sk)
	if err != nil {
		return nil, fmt.Errorf("error loading account: %v", err)
	}
	return &Signer{account: account}, nil
}

// GenerateSigner creates a fresh account.
func GenerateSigner() *Signer {
	return &Signer{account: crypto.GenerateAccount()}
}

// Address is the Algorand address of the signer.
func (s *Signer) Address() string {
	return s.account.Address.String()
}

// Mnemonic exports the signer key.
func (s *Signer) Mnemonic() (string, error) {
	return mnemonic.FromPrivateKey(s.account.PrivateKey)
}

func (s *Signer) sign(msg []byte) ([]byte, error) {
	return crypto.SignBytes(s.account.PrivateKey, msg)
}

func verify(address string, msg, sig []byte) error {
	addr, err := types.DecodeAddress(address)
	if err != nil {
		return fmt.Errorf("%w: invalid signer address: %v", ErrBadSignature, err)
	}
	if !crypto.VerifyBytes(ed25519.PublicKey(addr[:]), msg, sig) {
		return fmt.Errorf("%w: from %s", ErrBadSignature, address)
	}
	return nil
}

// SignResponse sets the signer and signature fields of r.
func (s *Signer) SignResponse(r *artifact.Response) error {
	sig, err := s.sign(r.SignedBytes())
	if err != nil {
		return fmt.Errorf("error signing response: %v", err)
	}
	r.Signer = s.Address()
	r.Signature = sig
	return nil
}

// VerifyResponse checks the signature of a signed response.
func VerifyResponse(r *artifact.Response) error {
	if r.Signer == "" {
		return fmt.Errorf("%w: response is not signed", ErrBadSignature)
	}
	return verify(r.Signer, r.SignedBytes(), r.Signature)
}

// Receipt acknowledges that a contribution was accepted into a ceremony.
type Receipt struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	Ceremony    string        `codec:"ceremony"`
	Instance    string        `codec:"instance"`
	Sequence    uint64        `codec:"seq"`
	Tag         string        `codec:"tag"`
	Contributor string        `codec:"contributor"`
	Artifact    string        `codec:"artifact"`
	Hash        artifact.Hash `codec:"hash"`
	Accepted    int64         `codec:"accepted"`
	Coordinator string        `codec:"coordinator"`
	Signature   []byte        `codec:"sig"`
}

func (r *Receipt) message() []byte {
	unsigned := *r
	unsigned.Signature = nil
	return msgpack.Encode(&unsigned)
}

// SignReceipt stamps r with the signer address and signature.
func (s *Signer) SignReceipt(r *Receipt) error {
	r.Coordinator = s.Address()
	sig, err := s.sign(r.message())
	if err != nil {
		return fmt.Errorf("error signing receipt: %v", err)
	}
	r.Signature = sig
	return nil
}

// VerifyReceipt checks the coordinator signature of r.
func VerifyReceipt(r *Receipt) error {
	return verify(r.Coordinator, r.message(), r.Signature)
}

// EncodeReceipt serializes r.
func EncodeReceipt(r *Receipt) []byte {
	return msgpack.Encode(r)
}

// DecodeReceipt parses a receipt.
func DecodeReceipt(b []byte) (*Receipt, error) {
	var r Receipt
	if err := msgpack.Decode(b, &r); err != nil {
		return nil, fmt.Errorf("error decoding receipt: %v", err)
	}
	return &r, nil
}

// ReceiptName is the store name of the receipt for an artifact.
func ReceiptName(artifactName string) string {
	return artifact.Stem(artifactName) + ".receipt"
}
