// Package dleq provides a cross-group discrete logarithm equality proof:
// that the same scalar is committed on both secp256k1 and ed25519. The swap
// uses it so each party can check that the counterparty's adaptor secret
// really is a share of the monero spend key.
package dleq

import (
	"errors"

	dleq "github.com/athanorlabs/go-dleq"
	dleqed25519 "github.com/athanorlabs/go-dleq/ed25519"
	dleqsecp256k1 "github.com/athanorlabs/go-dleq/secp256k1"

	"github.com/jamen-marz/xmr-btc-swap/crypto/secp256k1"
)

// ErrInvalidProof is returned when verification of a DLEq proof fails.
var ErrInvalidProof = errors.New("invalid DLEq proof")

// DLEq is the straight cross-group prover/verifier.
type DLEq struct{}

// Proof represents a DLEq proof, and the proven secret if we generated it.
type Proof struct {
	secret [32]byte
	proof  []byte
}

// NewProofWithoutSecret returns a new Proof without a secret from the given proof slice
func NewProofWithoutSecret(p []byte) *Proof {
	return &Proof{
		proof: p,
	}
}

// NewProofWithSecret returns a new Proof with the given secret.
// Note that the returned proof actually lacks the `proof` field.
func NewProofWithSecret(s [32]byte) *Proof {
	return &Proof{
		secret: s,
	}
}

// Secret returns the proof's 32-byte secret
func (p *Proof) Secret() [32]byte {
	return p.secret
}

// Proof returns the encoded DLEq proof
func (p *Proof) Proof() []byte {
	return p.proof
}

// Prove generates a secret scalar valid in both groups and a proof that the
// commitments on both curves share it.
func (d *DLEq) Prove() (*Proof, error) {
	curveA := dleqsecp256k1.NewCurve()
	curveB := dleqed25519.NewCurve()

	x, err := dleq.GenerateSecretForCurves(curveA, curveB)
	if err != nil {
		return nil, err
	}

	proof, err := dleq.NewProof(curveA, curveB, x)
	if err != nil {
		return nil, err
	}

	return &Proof{
		secret: x,
		proof:  proof.Serialize(),
	}, nil
}

// Verify verifies the given proof, returning the commitments on both curves
// if it is sound.
func (d *DLEq) Verify(p *Proof) (*VerifyResult, error) {
	curveA := dleqsecp256k1.NewCurve()
	curveB := dleqed25519.NewCurve()

	proof := new(dleq.Proof)
	if err := proof.Deserialize(curveA, curveB, p.proof); err != nil {
		return nil, ErrInvalidProof
	}

	if err := proof.Verify(curveA, curveB); err != nil {
		return nil, ErrInvalidProof
	}

	secp256k1Pub, err := secp256k1.NewPublicKeyFromBytes(proof.CommitmentA.Encode())
	if err != nil {
		return nil, err
	}

	var ed25519Pub [32]byte
	copy(ed25519Pub[:], proof.CommitmentB.Encode())

	return &VerifyResult{
		ed25519Pub:   ed25519Pub,
		secp256k1Pub: secp256k1Pub,
	}, nil
}

// VerifyResult contains the public keys resulting from verifying a DLEq proof
type VerifyResult struct {
	ed25519Pub   [32]byte
	secp256k1Pub *secp256k1.PublicKey
}

// Secp256k1PublicKey returns the secp256k1 public key associated with the DLEq verification
func (r *VerifyResult) Secp256k1PublicKey() *secp256k1.PublicKey {
	return r.secp256k1Pub
}

// Ed25519PublicKey returns the ed25519 public key associated with the DLEq verification
func (r *VerifyResult) Ed25519PublicKey() [32]byte {
	return r.ed25519Pub
}
