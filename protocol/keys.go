// Package protocol contains helpers shared by both swap roles.
package protocol

import (
	"bytes"
	"errors"

	"github.com/jamen-marz/xmr-btc-swap/common"
	mcrypto "github.com/jamen-marz/xmr-btc-swap/crypto/monero"
	"github.com/jamen-marz/xmr-btc-swap/crypto/secp256k1"
	"github.com/jamen-marz/xmr-btc-swap/dleq"
)

var errProofKeyMismatch = errors.New("DLEq proof commitments do not match claimed keys")

// KeysAndProof bundles a party's swap secret: the cross-group scalar, its
// commitments on both curves, and the proof that they agree.
//
// The scalar is this party's share of the monero spend key; its secp256k1
// commitment is the encryption key the counterparty's adaptor signature is
// made under.
type KeysAndProof struct {
	DLEqProof        *dleq.Proof
	Secp256k1Keypair *secp256k1.Keypair
	PrivateKeyPair   *mcrypto.PrivateKeyPair
	PublicKeyPair    *mcrypto.PublicKeyPair
}

// GenerateKeysAndProof generates a fresh cross-group secret with its proof
// and derives the monero and bitcoin-side keys from it.
func GenerateKeysAndProof() (*KeysAndProof, error) {
	proof, err := (&dleq.DLEq{}).Prove()
	if err != nil {
		return nil, err
	}

	secret := proof.Secret()

	// the dleq secret is big-endian; ed25519 scalars are little-endian
	sk, err := mcrypto.NewPrivateSpendKey(common.Reverse(secret[:]))
	if err != nil {
		return nil, err
	}

	kp, err := sk.AsPrivateKeyPair()
	if err != nil {
		return nil, err
	}

	secpKp, err := secp256k1.NewKeypairFromBytes(secret[:])
	if err != nil {
		return nil, err
	}

	return &KeysAndProof{
		DLEqProof:        proof,
		Secp256k1Keypair: secpKp,
		PrivateKeyPair:   kp,
		PublicKeyPair:    kp.PublicKeyPair(),
	}, nil
}

// VerifiedKeys holds the counterparty keys vouched for by a DLEq proof.
type VerifiedKeys struct {
	Secp256k1PublicKey *secp256k1.PublicKey
	MoneroSpendKey     *mcrypto.PublicKey
}

// VerifyKeysAndProof verifies the counterparty's DLEq proof and checks that
// its commitments are exactly the keys they claimed alongside it.
func VerifyKeysAndProof(proofBytes, claimedSecp, claimedEd25519 []byte) (*VerifiedKeys, error) {
	res, err := (&dleq.DLEq{}).Verify(dleq.NewProofWithoutSecret(proofBytes))
	if err != nil {
		return nil, err
	}

	secpPub := res.Secp256k1PublicKey().Compressed()
	if !bytes.Equal(secpPub[:], claimedSecp) {
		return nil, errProofKeyMismatch
	}

	edPub := res.Ed25519PublicKey()
	if !bytes.Equal(edPub[:], claimedEd25519) {
		return nil, errProofKeyMismatch
	}

	spendKey, err := mcrypto.NewPublicKey(claimedEd25519)
	if err != nil {
		return nil, err
	}

	return &VerifiedKeys{
		Secp256k1PublicKey: res.Secp256k1PublicKey(),
		MoneroSpendKey:     spendKey,
	}, nil
}

// SumSpendKeys combines a revealed counterparty secret with our own spend key
// share into the private keypair of the shared account, attaching the summed
// view key.
func SumSpendKeys(theirs *mcrypto.PrivateSpendKey, ours *mcrypto.PrivateKeyPair,
	theirView *mcrypto.PrivateViewKey) *mcrypto.PrivateKeyPair {
	skAB := mcrypto.SumPrivateSpendKeys(theirs, ours.SpendKey())
	vkAB := mcrypto.SumPrivateViewKeys(theirView, ours.ViewKey())
	return mcrypto.NewPrivateKeyPair(skAB, vkAB)
}
