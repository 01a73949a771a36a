package bitcoin

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/jamen-marz/xmr-btc-swap/common"
	"github.com/jamen-marz/xmr-btc-swap/crypto/secp256k1"
)

const (
	testCancelTimelock = uint32(10)
	testPunishTimelock = uint32(10)
	testLockAmount     = common.BitcoinAmount(1_000_000)
)

type testParties struct {
	a, b *secp256k1.Keypair
	lock *TxLock
	raw  []byte
}

func newTestParties(t *testing.T) *testParties {
	a, err := secp256k1.GenerateKeypair()
	require.NoError(t, err)
	b, err := secp256k1.GenerateKeypair()
	require.NoError(t, err)

	script, err := swapScript(a.Public(), b.Public(), testCancelTimelock)
	require.NoError(t, err)
	pkScript, err := witnessScriptHash(script)
	require.NoError(t, err)

	// a fake funding transaction with one spent input and the lock output
	tx := wire.NewMsgTx(2)
	prev := wire.OutPoint{Hash: chainhash.Hash{0x1}, Index: 0}
	tx.AddTxIn(wire.NewTxIn(&prev, nil, nil))
	tx.AddTxOut(wire.NewTxOut(int64(testLockAmount), pkScript))

	var buf bytes.Buffer
	require.NoError(t, tx.Serialize(&buf))
	raw := buf.Bytes()

	lock, err := NewTxLockFromRaw(raw, a.Public(), b.Public(), testCancelTimelock, testLockAmount)
	require.NoError(t, err)

	return &testParties{a: a, b: b, lock: lock, raw: raw}
}

func testAddress(t *testing.T) btcutil.Address {
	kp, err := secp256k1.GenerateKeypair()
	require.NoError(t, err)
	pub := kp.Public().Compressed()
	addr, err := btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(pub[:]), &chaincfg.RegressionNetParams)
	require.NoError(t, err)
	return addr
}

func TestNewTxLockFromRaw_RejectsWrongScriptOrValue(t *testing.T) {
	p := newTestParties(t)

	other, err := secp256k1.GenerateKeypair()
	require.NoError(t, err)

	_, err = NewTxLockFromRaw(p.raw, p.a.Public(), other.Public(), testCancelTimelock, testLockAmount)
	require.ErrorIs(t, err, errLockOutputNotFound)

	_, err = NewTxLockFromRaw(p.raw, p.a.Public(), p.b.Public(), testCancelTimelock, testLockAmount+1)
	require.ErrorIs(t, err, errLockOutputWrongValue)
}

func TestTemplates_Deterministic(t *testing.T) {
	p := newTestParties(t)
	addr := testAddress(t)

	// both parties derive the template family independently from the raw
	// lock transaction; everything must agree byte for byte
	build := func() ([32]byte, [32]byte, [32]byte, [32]byte) {
		lock, err := NewTxLockFromRaw(p.raw, p.a.Public(), p.b.Public(), testCancelTimelock, testLockAmount)
		require.NoError(t, err)

		cancel, err := NewTxCancel(lock, p.a.Public(), p.b.Public(), testCancelTimelock, testPunishTimelock)
		require.NoError(t, err)
		redeem, err := NewTxRedeem(lock, addr, p.a.Public(), p.b.Public(), testCancelTimelock)
		require.NoError(t, err)
		refund, err := NewTxRefund(cancel, addr)
		require.NoError(t, err)
		punish, err := NewTxPunish(cancel, addr, testPunishTimelock)
		require.NoError(t, err)

		return cancel.Digest(), redeem.Digest(), refund.Digest(), punish.Digest()
	}

	c1, r1, f1, u1 := build()
	c2, r2, f2, u2 := build()
	require.Equal(t, c1, c2)
	require.Equal(t, r1, r2)
	require.Equal(t, f1, f2)
	require.Equal(t, u1, u2)
}

func TestTxCancel_Complete(t *testing.T) {
	p := newTestParties(t)

	cancel, err := NewTxCancel(p.lock, p.a.Public(), p.b.Public(), testCancelTimelock, testPunishTimelock)
	require.NoError(t, err)
	require.Equal(t, testLockAmount.Sub(common.TxFee), cancel.Amount())

	sigA := p.a.Sign(cancel.Digest())
	sigB := p.b.Sign(cancel.Digest())

	raw, err := cancel.Complete(sigA, sigB)
	require.NoError(t, err)

	tx := wire.NewMsgTx(0)
	require.NoError(t, tx.Deserialize(bytes.NewReader(raw)))
	require.Len(t, tx.TxIn, 1)
	require.Equal(t, p.lock.OutPoint(), tx.TxIn[0].PreviousOutPoint)
	require.Equal(t, testCancelTimelock, tx.TxIn[0].Sequence)
	require.Len(t, tx.TxIn[0].Witness, 5)
}

func TestTxCancel_CompleteUnsatisfied(t *testing.T) {
	p := newTestParties(t)

	cancel, err := NewTxCancel(p.lock, p.a.Public(), p.b.Public(), testCancelTimelock, testPunishTimelock)
	require.NoError(t, err)

	sigA := p.a.Sign(cancel.Digest())
	wrong := p.b.Sign([32]byte{0xde, 0xad})

	_, err = cancel.Complete(sigA, wrong)
	require.ErrorIs(t, err, ErrUnsatisfied)

	_, err = cancel.Complete(wrong, sigA)
	require.ErrorIs(t, err, ErrUnsatisfied)
}

func TestTxRedeem_CompleteWithDecryptedAdaptor(t *testing.T) {
	p := newTestParties(t)
	addr := testAddress(t)

	redeem, err := NewTxRedeem(p.lock, addr, p.a.Public(), p.b.Public(), testCancelTimelock)
	require.NoError(t, err)

	// the adaptor secret plays the role of s_a
	adaptorKp, err := secp256k1.GenerateKeypair()
	require.NoError(t, err)
	secret := adaptorKp.Bytes()

	enc, err := secp256k1.EncSign(p.b, redeem.Digest(), adaptorKp.Public())
	require.NoError(t, err)
	require.NoError(t, enc.Verify(p.b.Public(), redeem.Digest()))

	sigB, err := enc.Decrypt(secret)
	require.NoError(t, err)
	sigA := p.a.Sign(redeem.Digest())

	raw, err := redeem.Complete(sigA, sigB)
	require.NoError(t, err)

	// the published witness leaks the decrypted signature, and with it the secret
	tx := wire.NewMsgTx(0)
	require.NoError(t, tx.Deserialize(bytes.NewReader(raw)))
	sigs, err := ExtractSignatures(tx)
	require.NoError(t, err)

	var recovered bool
	for _, sig := range sigs {
		s, err := enc.RecoverSecret(sig)
		if err == nil {
			require.Equal(t, secret, s)
			recovered = true
		}
	}
	require.True(t, recovered)
}

func TestTxRefundAndPunish_Complete(t *testing.T) {
	p := newTestParties(t)
	addr := testAddress(t)

	cancel, err := NewTxCancel(p.lock, p.a.Public(), p.b.Public(), testCancelTimelock, testPunishTimelock)
	require.NoError(t, err)

	refund, err := NewTxRefund(cancel, addr)
	require.NoError(t, err)
	_, err = refund.Complete(p.a.Sign(refund.Digest()), p.b.Sign(refund.Digest()))
	require.NoError(t, err)

	punish, err := NewTxPunish(cancel, addr, testPunishTimelock)
	require.NoError(t, err)
	raw, err := punish.Complete(p.a.Sign(punish.Digest()), p.b.Sign(punish.Digest()))
	require.NoError(t, err)

	tx := wire.NewMsgTx(0)
	require.NoError(t, tx.Deserialize(bytes.NewReader(raw)))
	require.Equal(t, cancel.OutPoint(), tx.TxIn[0].PreviousOutPoint)
	require.Equal(t, testPunishTimelock, tx.TxIn[0].Sequence)
}
