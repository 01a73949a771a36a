// Package mcrypto contains the Monero-side key types: private spend and view
// keys, their public counterparts, and the key sums the shared swap account
// is built from.
package mcrypto

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/sha3"

	"github.com/jamen-marz/xmr-btc-swap/common"
)

const privateKeySize = 32

var errInvalidKeyLength = errors.New("monero keys must be 32 bytes")

// PrivateKeyPair represents a monero private spend and view key.
type PrivateKeyPair struct {
	sk *PrivateSpendKey
	vk *PrivateViewKey
}

// NewPrivateKeyPair returns a new PrivateKeyPair from the given PrivateSpendKey and PrivateViewKey.
func NewPrivateKeyPair(sk *PrivateSpendKey, vk *PrivateViewKey) *PrivateKeyPair {
	return &PrivateKeyPair{sk: sk, vk: vk}
}

// SpendKey returns the pair's private spend key.
func (kp *PrivateKeyPair) SpendKey() *PrivateSpendKey {
	return kp.sk
}

// ViewKey returns the pair's private view key.
func (kp *PrivateKeyPair) ViewKey() *PrivateViewKey {
	return kp.vk
}

// PublicKeyPair returns the pair's corresponding public keys.
func (kp *PrivateKeyPair) PublicKeyPair() *PublicKeyPair {
	return &PublicKeyPair{
		sk: kp.sk.Public(),
		vk: kp.vk.Public(),
	}
}

// Address returns the base58-encoded address derived from the pair's public keys.
func (kp *PrivateKeyPair) Address(env common.Environment) Address {
	return kp.PublicKeyPair().Address(env)
}

// PrivateSpendKey represents a monero private spend key.
type PrivateSpendKey struct {
	key *edwards25519.Scalar
}

// NewPrivateSpendKey returns a new PrivateSpendKey from the given canonical scalar bytes.
func NewPrivateSpendKey(b []byte) (*PrivateSpendKey, error) {
	if len(b) != privateKeySize {
		return nil, errInvalidKeyLength
	}

	sk, err := new(edwards25519.Scalar).SetCanonicalBytes(b)
	if err != nil {
		return nil, fmt.Errorf("invalid spend key: %w", err)
	}

	return &PrivateSpendKey{key: sk}, nil
}

// Public returns the public key corresponding to the private spend key.
func (k *PrivateSpendKey) Public() *PublicKey {
	return &PublicKey{key: new(edwards25519.Point).ScalarBaseMult(k.key)}
}

// View returns the private view key derived from the spend key, per the
// standard monero derivation view = H_s(spend).
func (k *PrivateSpendKey) View() (*PrivateViewKey, error) {
	hasher := sha3.NewLegacyKeccak256()
	hasher.Write(k.key.Bytes())
	var h [32]byte
	copy(h[:], hasher.Sum(nil))
	vk, err := scalarFromHash(h)
	if err != nil {
		return nil, err
	}
	return &PrivateViewKey{key: vk}, nil
}

// AsPrivateKeyPair returns the PrivateKeyPair with the view key derived from
// the spend key.
func (k *PrivateSpendKey) AsPrivateKeyPair() (*PrivateKeyPair, error) {
	vk, err := k.View()
	if err != nil {
		return nil, err
	}
	return &PrivateKeyPair{sk: k, vk: vk}, nil
}

// Bytes returns the canonical scalar encoding of the key.
func (k *PrivateSpendKey) Bytes() []byte {
	return k.key.Bytes()
}

// Hex returns the hex encoding of the key.
func (k *PrivateSpendKey) Hex() string {
	return hex.EncodeToString(k.key.Bytes())
}

// PrivateViewKey represents a monero private view key.
type PrivateViewKey struct {
	key *edwards25519.Scalar
}

// NewPrivateViewKey returns a new PrivateViewKey from the given canonical scalar bytes.
func NewPrivateViewKey(b []byte) (*PrivateViewKey, error) {
	if len(b) != privateKeySize {
		return nil, errInvalidKeyLength
	}

	vk, err := new(edwards25519.Scalar).SetCanonicalBytes(b)
	if err != nil {
		return nil, fmt.Errorf("invalid view key: %w", err)
	}

	return &PrivateViewKey{key: vk}, nil
}

// NewPrivateViewKeyFromHex returns a new PrivateViewKey from the given hex string.
func NewPrivateViewKeyFromHex(s string) (*PrivateViewKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return NewPrivateViewKey(b)
}

// Public returns the public key corresponding to the private view key.
func (k *PrivateViewKey) Public() *PublicKey {
	return &PublicKey{key: new(edwards25519.Point).ScalarBaseMult(k.key)}
}

// Bytes returns the canonical scalar encoding of the key.
func (k *PrivateViewKey) Bytes() []byte {
	return k.key.Bytes()
}

// Hex returns the hex encoding of the key.
func (k *PrivateViewKey) Hex() string {
	return hex.EncodeToString(k.key.Bytes())
}

// PublicKey represents a monero public spend or view key.
type PublicKey struct {
	key *edwards25519.Point
}

// NewPublicKey returns a new PublicKey from the given canonical point bytes.
func NewPublicKey(b []byte) (*PublicKey, error) {
	if len(b) != privateKeySize {
		return nil, errInvalidKeyLength
	}

	p, err := new(edwards25519.Point).SetBytes(b)
	if err != nil {
		return nil, fmt.Errorf("invalid public key: %w", err)
	}

	return &PublicKey{key: p}, nil
}

// Bytes returns the canonical point encoding of the key.
func (k *PublicKey) Bytes() []byte {
	return k.key.Bytes()
}

// Bytes32 returns the canonical point encoding as a fixed-size array.
func (k *PublicKey) Bytes32() [32]byte {
	var b [32]byte
	copy(b[:], k.key.Bytes())
	return b
}

// Hex returns the hex encoding of the key.
func (k *PublicKey) Hex() string {
	return hex.EncodeToString(k.key.Bytes())
}

// PublicKeyPair contains a public spend and view key.
type PublicKeyPair struct {
	sk *PublicKey
	vk *PublicKey
}

// NewPublicKeyPair returns a new PublicKeyPair from the given public spend and view keys.
func NewPublicKeyPair(sk, vk *PublicKey) *PublicKeyPair {
	return &PublicKeyPair{sk: sk, vk: vk}
}

// SpendKey returns the pair's public spend key.
func (kp *PublicKeyPair) SpendKey() *PublicKey {
	return kp.sk
}

// ViewKey returns the pair's public view key.
func (kp *PublicKeyPair) ViewKey() *PublicKey {
	return kp.vk
}

// GenerateKeys generates a new private spend key and derives the view key from it.
func GenerateKeys() (*PrivateKeyPair, error) {
	var seed [64]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return nil, err
	}

	sk, err := new(edwards25519.Scalar).SetUniformBytes(seed[:])
	if err != nil {
		return nil, err
	}

	return (&PrivateSpendKey{key: sk}).AsPrivateKeyPair()
}

// SumPrivateSpendKeys sums two private spend keys.
func SumPrivateSpendKeys(a, b *PrivateSpendKey) *PrivateSpendKey {
	return &PrivateSpendKey{
		key: new(edwards25519.Scalar).Add(a.key, b.key),
	}
}

// SumPrivateViewKeys sums two private view keys.
func SumPrivateViewKeys(a, b *PrivateViewKey) *PrivateViewKey {
	return &PrivateViewKey{
		key: new(edwards25519.Scalar).Add(a.key, b.key),
	}
}

// SumPublicKeys sums two public keys (points).
func SumPublicKeys(a, b *PublicKey) *PublicKey {
	return &PublicKey{
		key: new(edwards25519.Point).Add(a.key, b.key),
	}
}

// SumSpendAndViewKeys sums two public key pairs.
func SumSpendAndViewKeys(a, b *PublicKeyPair) *PublicKeyPair {
	return &PublicKeyPair{
		sk: SumPublicKeys(a.sk, b.sk),
		vk: SumPublicKeys(a.vk, b.vk),
	}
}

func scalarFromHash(h [32]byte) (*edwards25519.Scalar, error) {
	// reduce the hash into the scalar field
	var wide [64]byte
	copy(wide[:], h[:])
	return new(edwards25519.Scalar).SetUniformBytes(wide[:])
}
