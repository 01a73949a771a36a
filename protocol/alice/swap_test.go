package alice

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/jamen-marz/xmr-btc-swap/bitcoin"
	"github.com/jamen-marz/xmr-btc-swap/common"
	"github.com/jamen-marz/xmr-btc-swap/crypto/secp256k1"
	"github.com/jamen-marz/xmr-btc-swap/db"
	"github.com/jamen-marz/xmr-btc-swap/net/message"
	"github.com/jamen-marz/xmr-btc-swap/protocol"
	pswap "github.com/jamen-marz/xmr-btc-swap/protocol/swap"
)

const (
	testBTC = common.BitcoinAmount(1_000_000)
	testXMR = common.MoneroAmount(1_000_000_000_000)
)

type fakeHandle struct {
	in  chan message.Message
	out chan message.Message
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{
		in:  make(chan message.Message, 16),
		out: make(chan message.Message, 16),
	}
}

func (h *fakeHandle) Send(ctx context.Context, msg message.Message) error {
	select {
	case h.out <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *fakeHandle) SendWithAck(ctx context.Context, msg message.Message) error {
	return h.Send(ctx, msg)
}

func (h *fakeHandle) Next(ctx context.Context) (message.Message, error) {
	select {
	case msg := <-h.in:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *fakeHandle) RemotePeer() string { return "test-peer" }
func (h *fakeHandle) Close()             {}

func (h *fakeHandle) sendIn(ctx context.Context, msg message.Message) error {
	select {
	case h.in <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type fakeWallet struct{}

func (w *fakeWallet) NewAddress() (btcutil.Address, error) {
	kp, err := secp256k1.GenerateKeypair()
	if err != nil {
		return nil, err
	}
	pub := kp.Public().Compressed()
	return btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(pub[:]), &chaincfg.RegressionNetParams)
}

func (w *fakeWallet) Balance() (common.BitcoinAmount, error) { return 0, nil }

func (w *fakeWallet) FundLockTransaction(pkScript []byte, amount common.BitcoinAmount) (*wire.MsgTx, error) {
	tx := wire.NewMsgTx(2)
	prev := wire.OutPoint{Hash: chainhash.Hash{0x9}, Index: 1}
	tx.AddTxIn(wire.NewTxIn(&prev, nil, nil))
	tx.AddTxOut(wire.NewTxOut(int64(amount), pkScript))
	return tx, nil
}

func (w *fakeWallet) Broadcast(_ context.Context, _ []byte) (*chainhash.Hash, error) {
	return &chainhash.Hash{}, nil
}

func (w *fakeWallet) BlockHeight(_ context.Context) (uint64, error) { return 100, nil }

func (w *fakeWallet) TxConfirmations(_ context.Context, _ chainhash.Hash) (uint64, error) {
	return 0, nil
}

func (w *fakeWallet) FindSpend(_ context.Context, _ wire.OutPoint, _ uint64) (*wire.MsgTx, bool, error) {
	return nil, false, nil
}

func newTestSwap(t *testing.T, handle *fakeHandle) *Swap {
	d, err := db.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	return &Swap{
		cfg:    common.DevelopmentConfig(),
		btc:    &fakeWallet{},
		handle: handle,
		db:     d,
		id:     uuid.New(),
		state:  Started,
	}
}

// bobActor plays Bob's side of the handshake inside the test.
type bobActor struct {
	t      *testing.T
	keys   *protocol.KeysAndProof
	b      *secp256k1.Keypair
	handle *fakeHandle

	encRefundA *secp256k1.EncSignature
	txRefund   *bitcoin.TxRefund
}

func newBobActor(t *testing.T, handle *fakeHandle) *bobActor {
	keys, err := protocol.GenerateKeysAndProof()
	require.NoError(t, err)
	b, err := secp256k1.GenerateKeypair()
	require.NoError(t, err)
	return &bobActor{t: t, keys: keys, b: b, handle: handle}
}

func (bo *bobActor) run(ctx context.Context) {
	t := bo.t

	// msg 0
	require.NoError(t, bo.handle.sendIn(ctx, &message.SwapRequest{
		BTC: testBTC.Uint64(),
		XMR: testXMR.Uint64(),
	}))

	// msg 1
	msg := <-bo.handle.out
	resp, ok := msg.(*message.SwapResponse)
	require.True(t, ok)

	a, err := secp256k1.NewPublicKeyFromBytes(resp.A)
	require.NoError(t, err)
	_, err = secp256k1.NewPublicKeyFromBytes(resp.SaBitcoin)
	require.NoError(t, err)

	// build the lock transaction exactly the way Bob's wallet would
	pkScript, err := bitcoin.LockScriptPubKey(a, bo.b.Public(), resp.CancelTimelock)
	require.NoError(t, err)
	w := &fakeWallet{}
	lockTx, err := w.FundLockTransaction(pkScript, testBTC)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, lockTx.Serialize(&buf))
	rawLock := buf.Bytes()

	refundAddr, err := w.NewAddress()
	require.NoError(t, err)

	lock, err := bitcoin.NewTxLockFromRaw(rawLock, a, bo.b.Public(), resp.CancelTimelock, testBTC)
	require.NoError(t, err)
	cancel, err := bitcoin.NewTxCancel(lock, a, bo.b.Public(), resp.CancelTimelock, resp.PunishTimelock)
	require.NoError(t, err)
	refund, err := bitcoin.NewTxRefund(cancel, refundAddr)
	require.NoError(t, err)
	punish, err := bitcoin.NewTxPunish(cancel, mustAddr(t, resp.PunishAddress), resp.PunishTimelock)
	require.NoError(t, err)
	bo.txRefund = refund

	// msg 2
	bPub := bo.b.Public().Compressed()
	sbB := bo.keys.Secp256k1Keypair.Public().Compressed()
	require.NoError(t, bo.handle.sendIn(ctx, &message.ExecutionSetupMsg2{
		B:             bPub[:],
		SbBitcoin:     sbB[:],
		SbMonero:      bo.keys.PublicKeyPair.SpendKey().Bytes(),
		Vb:            bo.keys.PrivateKeyPair.ViewKey().Bytes(),
		DLEqProof:     bo.keys.DLEqProof.Proof(),
		RefundAddress: refundAddr.EncodeAddress(),
		TxLock:        rawLock,
	}))

	// msg 3
	msg = <-bo.handle.out
	m3, ok := msg.(*message.ExecutionSetupMsg3)
	require.True(t, ok)

	sigCancelA, err := secp256k1.NewSignatureFromBytes(m3.SigCancelA)
	require.NoError(t, err)
	require.NoError(t, a.Verify(cancel.Digest(), sigCancelA))

	encRefundA, err := secp256k1.NewEncSignatureFromBytes(m3.EncRefundA)
	require.NoError(t, err)
	require.NoError(t, encRefundA.Verify(a, refund.Digest()))
	bo.encRefundA = encRefundA

	// msg 4
	sigCancelB := bo.b.Sign(cancel.Digest())
	sigPunishB := bo.b.Sign(punish.Digest())
	cb := sigCancelB.Bytes()
	pb := sigPunishB.Bytes()
	require.NoError(t, bo.handle.sendIn(ctx, &message.ExecutionSetupMsg4{
		SigCancelB: cb[:],
		SigPunishB: pb[:],
	}))
}

func mustAddr(t *testing.T, s string) btcutil.Address {
	addr, err := btcutil.DecodeAddress(s, &chaincfg.RegressionNetParams)
	require.NoError(t, err)
	return addr
}

func TestSwap_Negotiate(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*30)
	defer cancel()

	handle := newFakeHandle()
	s := newTestSwap(t, handle)
	bob := newBobActor(t, handle)

	done := make(chan struct{})
	go func() {
		defer close(done)
		bob.run(ctx)
	}()

	s3, err := s.negotiate(ctx)
	require.NoError(t, err)
	<-done

	require.Equal(t, testBTC, s3.btc)
	require.Equal(t, testXMR, s3.xmr)
	require.NotNil(t, s3.txLock)

	// Bob's setup signatures must verify over our derived digests
	require.NoError(t, s3.b.Verify(s3.txCancel.Digest(), s3.sigCancelB))
	require.NoError(t, s3.b.Verify(s3.txPunish.Digest(), s3.sigPunishB))

	// our refund adaptor, decrypted with s_b, must reveal s_b to us again —
	// the leak the refund path depends on
	sigA, err := bob.encRefundA.Decrypt(bob.keys.DLEqProof.Secret())
	require.NoError(t, err)
	recovered, err := s3.encRefundA.RecoverSecret(sigA)
	require.NoError(t, err)
	require.Equal(t, bob.keys.DLEqProof.Secret(), recovered)
}

func TestSwap_RunAbortsOnUnexpectedFirstMessage(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*30)
	defer cancel()

	handle := newFakeHandle()
	s := newTestSwap(t, handle)

	require.NoError(t, handle.sendIn(ctx, &message.EncryptedSignature{Ciphertext: []byte{0x1}}))

	final, err := s.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, SafelyAborted, final)

	rec, err := s.db.GetState(s.id)
	require.NoError(t, err)
	require.Equal(t, "safely_aborted", rec.StateTag)
}

func TestState3_MarshalRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*30)
	defer cancel()

	handle := newFakeHandle()
	s := newTestSwap(t, handle)
	bob := newBobActor(t, handle)
	go bob.run(ctx)

	s3, err := s.negotiate(ctx)
	require.NoError(t, err)
	s3.lockHeight = 7
	s3.cancelHeight = 19

	blob, err := s3.marshal(nil, nil)
	require.NoError(t, err)

	d := new(stateData)
	require.NoError(t, json.Unmarshal(blob, d))

	restored, encSig, err := newState3FromData(common.DevelopmentConfig(), d)
	require.NoError(t, err)
	require.Nil(t, encSig)

	require.Equal(t, s3.btc, restored.btc)
	require.Equal(t, s3.lockHeight, restored.lockHeight)
	require.Equal(t, s3.cancelHeight, restored.cancelHeight)
	require.Equal(t, s3.txLock.Txid(), restored.txLock.Txid())
	require.Equal(t, s3.txCancel.Digest(), restored.txCancel.Digest())
	require.Equal(t, s3.txRedeem.Digest(), restored.txRedeem.Digest())
	require.Equal(t, s3.sharedAddress(common.Development), restored.sharedAddress(common.Development))
}

func TestNewSwapFromDatabase_Resume(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*30)
	defer cancel()

	handle := newFakeHandle()
	s := newTestSwap(t, handle)
	bob := newBobActor(t, handle)
	go bob.run(ctx)

	s3, err := s.negotiate(ctx)
	require.NoError(t, err)
	s.s3 = s3
	s.state = BtcLocked
	require.NoError(t, s.persist())

	resumed, err := NewSwapFromDatabase(&Config{
		Env:         common.DevelopmentConfig(),
		Bitcoin:     &fakeWallet{},
		EventLoop:   newFakeHandle(),
		Database:    s.db,
		SwapManager: pswap.NewManager(),
		SwapID:      s.id,
	})
	require.NoError(t, err)
	require.Equal(t, BtcLocked, resumed.State())
	require.Equal(t, s3.txCancel.Txid(), resumed.s3.txCancel.Txid())
}
