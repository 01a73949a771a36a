// Package secp256k1 contains the Bitcoin-side key types used by the swap,
// as well as the ECDSA adaptor signature construction the protocol is built on.
package secp256k1

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// PublicKeyLength is the length of a serialized (compressed) public key.
const PublicKeyLength = 33

// SignatureLength is the length of a serialized compact signature (r || s).
const SignatureLength = 64

var (
	errInvalidPubkeyLength    = errors.New("public key must be 33 bytes")
	errInvalidSignatureLength = errors.New("signature must be 64 bytes")

	// ErrInvalidSignature is returned when a signature does not verify
	// against the expected public key and digest.
	ErrInvalidSignature = errors.New("signature verification failed")
)

// Keypair is a secp256k1 keypair.
type Keypair struct {
	private *secp256k1.PrivateKey
	public  *PublicKey
}

// PublicKey is a secp256k1 public key.
type PublicKey struct {
	key *secp256k1.PublicKey
}

// GenerateKeypair generates a new keypair from a cryptographically secure RNG.
func GenerateKeypair() (*Keypair, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	return &Keypair{
		private: priv,
		public:  &PublicKey{key: priv.PubKey()},
	}, nil
}

// NewKeypairFromBytes returns the Keypair for the given 32-byte secret.
func NewKeypairFromBytes(b []byte) (*Keypair, error) {
	if len(b) != 32 {
		return nil, errors.New("secret key must be 32 bytes")
	}

	priv := secp256k1.PrivKeyFromBytes(b)
	if priv.Key.IsZero() {
		return nil, errors.New("secret key is zero")
	}

	return &Keypair{
		private: priv,
		public:  &PublicKey{key: priv.PubKey()},
	}, nil
}

// Public returns the keypair's public key.
func (kp *Keypair) Public() *PublicKey {
	return kp.public
}

// Bytes returns the keypair's 32-byte secret.
func (kp *Keypair) Bytes() [32]byte {
	var b [32]byte
	copy(b[:], kp.private.Serialize())
	return b
}

// Sign signs the given 32-byte digest, returning a compact (r || s) signature.
func (kp *Keypair) Sign(digest [32]byte) *Signature {
	sig := ecdsa.Sign(kp.private, digest[:])
	r := sig.R()
	s := sig.S()
	return newSignature(&r, &s)
}

// NewPublicKeyFromBytes returns a PublicKey given its compressed serialization.
func NewPublicKeyFromBytes(b []byte) (*PublicKey, error) {
	if len(b) != PublicKeyLength {
		return nil, errInvalidPubkeyLength
	}

	pub, err := secp256k1.ParsePubKey(b)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	return &PublicKey{key: pub}, nil
}

// Compressed returns the public key's 33-byte compressed serialization.
func (k *PublicKey) Compressed() [PublicKeyLength]byte {
	var b [PublicKeyLength]byte
	copy(b[:], k.key.SerializeCompressed())
	return b
}

// Key returns the underlying secp256k1 public key.
func (k *PublicKey) Key() *secp256k1.PublicKey {
	return k.key
}

// String returns the hex encoding of the compressed public key.
func (k *PublicKey) String() string {
	return hex.EncodeToString(k.key.SerializeCompressed())
}

// Verify checks the compact signature against the digest, returning
// ErrInvalidSignature if it does not verify.
func (k *PublicKey) Verify(digest [32]byte, sig *Signature) error {
	if !sig.inner().Verify(digest[:], k.key) {
		return ErrInvalidSignature
	}
	return nil
}

// Signature is a compact (r || s) ECDSA signature.
type Signature struct {
	r, s secp256k1.ModNScalar
}

func newSignature(r, s *secp256k1.ModNScalar) *Signature {
	sig := &Signature{}
	sig.r.Set(r)
	sig.s.Set(s)
	return sig
}

// NewSignatureFromBytes parses a 64-byte compact signature.
func NewSignatureFromBytes(b []byte) (*Signature, error) {
	if len(b) != SignatureLength {
		return nil, errInvalidSignatureLength
	}

	sig := &Signature{}
	if overflow := sig.r.SetByteSlice(b[:32]); overflow {
		return nil, errors.New("signature r overflows the curve order")
	}
	if overflow := sig.s.SetByteSlice(b[32:]); overflow {
		return nil, errors.New("signature s overflows the curve order")
	}

	return sig, nil
}

// Bytes returns the 64-byte compact (r || s) serialization.
func (sig *Signature) Bytes() [SignatureLength]byte {
	var out [SignatureLength]byte
	r := sig.r.Bytes()
	s := sig.s.Bytes()
	copy(out[:32], r[:])
	copy(out[32:], s[:])
	return out
}

// NewSignatureFromDER parses a DER-encoded signature.
func NewSignatureFromDER(b []byte) (*Signature, error) {
	sig, err := ecdsa.ParseDERSignature(b)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DER signature: %w", err)
	}

	r := sig.R()
	s := sig.S()
	return newSignature(&r, &s), nil
}

// DER returns the DER serialization of the signature.
func (sig *Signature) DER() []byte {
	return sig.inner().Serialize()
}

func (sig *Signature) inner() *ecdsa.Signature {
	return ecdsa.NewSignature(&sig.r, &sig.s)
}
