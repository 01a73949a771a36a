package dleq

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDLEq_ProveAndVerify(t *testing.T) {
	proof, err := (&DLEq{}).Prove()
	require.NoError(t, err)

	res, err := (&DLEq{}).Verify(proof)
	require.NoError(t, err)
	require.NotNil(t, res.Secp256k1PublicKey())
	require.NotEqual(t, [32]byte{}, res.Ed25519PublicKey())
}

func TestDLEq_VerifyMangledProofFails(t *testing.T) {
	proof, err := (&DLEq{}).Prove()
	require.NoError(t, err)

	mangled := make([]byte, len(proof.Proof()))
	copy(mangled, proof.Proof())
	mangled[7] ^= 0xff

	_, err = (&DLEq{}).Verify(NewProofWithoutSecret(mangled))
	require.ErrorIs(t, err, ErrInvalidProof)
}

func TestDLEq_VerifyGarbageFails(t *testing.T) {
	_, err := (&DLEq{}).Verify(NewProofWithoutSecret([]byte{0x1, 0x2, 0x3}))
	require.ErrorIs(t, err, ErrInvalidProof)
}
