package bob

import (
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
	mcrypto "github.com/jamen-marz/xmr-btc-swap/crypto/monero"
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

// fakeHandle is an in-memory net.Handle; the test plays the counterparty by
// reading from out and writing to in.
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

type fakeWallet struct{}

func (w *fakeWallet) NewAddress() (btcutil.Address, error) {
	kp, err := secp256k1.GenerateKeypair()
	if err != nil {
		return nil, err
	}
	pub := kp.Public().Compressed()
	return btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(pub[:]), &chaincfg.RegressionNetParams)
}

func (w *fakeWallet) Balance() (common.BitcoinAmount, error) { return testBTC * 10, nil }

func (w *fakeWallet) FundLockTransaction(pkScript []byte, amount common.BitcoinAmount) (*wire.MsgTx, error) {
	tx := wire.NewMsgTx(2)
	prev := wire.OutPoint{Hash: chainhash.Hash{0x9}, Index: 1}
	tx.AddTxIn(wire.NewTxIn(&prev, nil, nil))
	tx.AddTxOut(wire.NewTxOut(int64(amount), pkScript))
	return tx, nil
}

func (w *fakeWallet) Broadcast(_ context.Context, raw []byte) (*chainhash.Hash, error) {
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
		cfg:       common.DevelopmentConfig(),
		btc:       &fakeWallet{},
		handle:    handle,
		db:        d,
		id:        uuid.New(),
		btcAmount: testBTC,
		xmrAmount: testXMR,
		state:     Started,
	}
}

// aliceActor plays Alice's side of the handshake inside the test.
type aliceActor struct {
	t      *testing.T
	keys   *protocol.KeysAndProof
	a      *secp256k1.Keypair
	handle *fakeHandle
}

func newAliceActor(t *testing.T, handle *fakeHandle) *aliceActor {
	keys, err := protocol.GenerateKeysAndProof()
	require.NoError(t, err)
	a, err := secp256k1.GenerateKeypair()
	require.NoError(t, err)
	return &aliceActor{t: t, keys: keys, a: a, handle: handle}
}

func (al *aliceActor) addr() string {
	w := &fakeWallet{}
	addr, err := w.NewAddress()
	require.NoError(al.t, err)
	return addr.EncodeAddress()
}

func (al *aliceActor) run(ctx context.Context) {
	t := al.t

	// msg 0
	msg := <-al.handle.out
	_, ok := msg.(*message.SwapRequest)
	require.True(t, ok)

	// msg 1
	aPub := al.a.Public().Compressed()
	saB := al.keys.Secp256k1Keypair.Public().Compressed()
	require.NoError(t, al.handle.sendIn(ctx, &message.SwapResponse{
		A:              aPub[:],
		SaBitcoin:      saB[:],
		SaMonero:       al.keys.PublicKeyPair.SpendKey().Bytes(),
		Va:             al.keys.PrivateKeyPair.ViewKey().Bytes(),
		DLEqProof:      al.keys.DLEqProof.Proof(),
		RedeemAddress:  al.addr(),
		PunishAddress:  al.addr(),
		CancelTimelock: 10,
		PunishTimelock: 10,
	}))

	// msg 2
	msg = <-al.handle.out
	m2, ok := msg.(*message.ExecutionSetupMsg2)
	require.True(t, ok)

	b, err := secp256k1.NewPublicKeyFromBytes(m2.B)
	require.NoError(t, err)
	sbBitcoin, err := secp256k1.NewPublicKeyFromBytes(m2.SbBitcoin)
	require.NoError(t, err)

	lock, err := bitcoin.NewTxLockFromRaw(m2.TxLock, al.a.Public(), b, 10, testBTC)
	require.NoError(t, err)
	cancel, err := bitcoin.NewTxCancel(lock, al.a.Public(), b, 10, 10)
	require.NoError(t, err)

	refundAddr, err := btcutil.DecodeAddress(m2.RefundAddress, &chaincfg.RegressionNetParams)
	require.NoError(t, err)
	refund, err := bitcoin.NewTxRefund(cancel, refundAddr)
	require.NoError(t, err)

	// msg 3
	sigCancelA := al.a.Sign(cancel.Digest())
	encRefundA, err := secp256k1.EncSign(al.a, refund.Digest(), sbBitcoin)
	require.NoError(t, err)
	sigBytes := sigCancelA.Bytes()
	require.NoError(t, al.handle.sendIn(ctx, &message.ExecutionSetupMsg3{
		SigCancelA: sigBytes[:],
		EncRefundA: encRefundA.Bytes(),
	}))

	// msg 4
	msg = <-al.handle.out
	m4, ok := msg.(*message.ExecutionSetupMsg4)
	require.True(t, ok)

	sigCancelB, err := secp256k1.NewSignatureFromBytes(m4.SigCancelB)
	require.NoError(t, err)
	require.NoError(t, b.Verify(cancel.Digest(), sigCancelB))
}

func (h *fakeHandle) sendIn(ctx context.Context, msg message.Message) error {
	select {
	case h.in <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestSwap_Negotiate(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*30)
	defer cancel()

	handle := newFakeHandle()
	s := newTestSwap(t, handle)
	alice := newAliceActor(t, handle)

	done := make(chan struct{})
	go func() {
		defer close(done)
		alice.run(ctx)
	}()

	s2, err := s.negotiate(ctx)
	require.NoError(t, err)
	<-done

	require.Equal(t, testBTC, s2.btc)
	require.Equal(t, testXMR, s2.xmr)
	require.Equal(t, uint32(10), s2.cancelTimelock)
	require.NotNil(t, s2.txLock)
	require.NotNil(t, s2.sigCancelA)
	require.NotNil(t, s2.encRefundA)

	// Alice's signature must be valid over our derived cancel digest
	require.NoError(t, s2.a.Verify(s2.txCancel.Digest(), s2.sigCancelA))

	// the refund adaptor must decrypt with our secret into a valid signature
	sigA, err := s2.encRefundA.Decrypt(s2.secret)
	require.NoError(t, err)
	require.NoError(t, s2.a.Verify(s2.txRefund.Digest(), sigA))
}

func TestSwap_NegotiateBadProofAborts(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*30)
	defer cancel()

	handle := newFakeHandle()
	s := newTestSwap(t, handle)
	alice := newAliceActor(t, handle)

	go func() {
		<-handle.out // SwapRequest

		aPub := alice.a.Public().Compressed()
		saB := alice.keys.Secp256k1Keypair.Public().Compressed()
		proof := alice.keys.DLEqProof.Proof()
		mangled := make([]byte, len(proof))
		copy(mangled, proof)
		mangled[3] ^= 0xff

		_ = handle.sendIn(ctx, &message.SwapResponse{
			A:              aPub[:],
			SaBitcoin:      saB[:],
			SaMonero:       alice.keys.PublicKeyPair.SpendKey().Bytes(),
			Va:             alice.keys.PrivateKeyPair.ViewKey().Bytes(),
			DLEqProof:      mangled,
			RedeemAddress:  alice.addr(),
			PunishAddress:  alice.addr(),
			CancelTimelock: 10,
			PunishTimelock: 10,
		})
	}()

	// the driver must end in SafelyAborted without touching the chain
	final, err := s.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, SafelyAborted, final)

	rec, err := s.db.GetState(s.id)
	require.NoError(t, err)
	require.Equal(t, "safely_aborted", rec.StateTag)
}

func TestState2_MarshalRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*30)
	defer cancel()

	handle := newFakeHandle()
	s := newTestSwap(t, handle)
	alice := newAliceActor(t, handle)
	go alice.run(ctx)

	s2, err := s.negotiate(ctx)
	require.NoError(t, err)
	s2.lockHeight = 42

	encSig, err := secp256k1.EncSign(s2.b, s2.txRedeem.Digest(), s2.saBitcoin)
	require.NoError(t, err)

	blob, err := s2.marshal(encSig, nil)
	require.NoError(t, err)

	d := new(stateData)
	require.NoError(t, json.Unmarshal(blob, d))

	restored, restoredEncSig, err := newState2FromData(common.DevelopmentConfig(), d)
	require.NoError(t, err)
	require.NotNil(t, restoredEncSig)

	require.Equal(t, s2.btc, restored.btc)
	require.Equal(t, s2.xmr, restored.xmr)
	require.Equal(t, s2.lockHeight, restored.lockHeight)
	require.Equal(t, s2.txLock.Txid(), restored.txLock.Txid())
	require.Equal(t, s2.txCancel.Digest(), restored.txCancel.Digest())
	require.Equal(t, s2.txRedeem.Digest(), restored.txRedeem.Digest())
	require.Equal(t, s2.txRefund.Digest(), restored.txRefund.Digest())
	require.Equal(t, s2.txPunish.Digest(), restored.txPunish.Digest())
	require.Equal(t, s2.sharedAddress(common.Development), restored.sharedAddress(common.Development))
}

func TestNewSwapFromDatabase_Resume(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*30)
	defer cancel()

	handle := newFakeHandle()
	s := newTestSwap(t, handle)
	alice := newAliceActor(t, handle)
	go alice.run(ctx)

	s2, err := s.negotiate(ctx)
	require.NoError(t, err)
	s.s2 = s2
	s.state = XmrLocked
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
	require.Equal(t, XmrLocked, resumed.State())
	require.Equal(t, s2.txLock.Txid(), resumed.s2.txLock.Txid())
}

func TestNewSwapFromDatabase_WrongRole(t *testing.T) {
	d, err := db.Open(t.TempDir())
	require.NoError(t, err)
	defer d.Close() //nolint:errcheck

	id := uuid.New()
	require.NoError(t, d.InsertLatestState(&db.SwapRecord{
		ID: id, Role: db.RoleAlice, StateTag: "negotiated", State: []byte(`{}`),
	}))

	_, err = NewSwapFromDatabase(&Config{
		Env:         common.DevelopmentConfig(),
		Database:    d,
		SwapManager: pswap.NewManager(),
		SwapID:      id,
	})
	require.ErrorIs(t, err, errResumeWrongRole)
}

func TestSharedAddress_MatchesAcrossRoles(t *testing.T) {
	// the shared account must be derivable identically from both parties'
	// views; here we check Bob's two derivations agree
	keysA, err := protocol.GenerateKeysAndProof()
	require.NoError(t, err)
	keysB, err := protocol.GenerateKeysAndProof()
	require.NoError(t, err)

	pubSum := mcrypto.SumSpendAndViewKeys(
		mcrypto.NewPublicKeyPair(keysA.PublicKeyPair.SpendKey(), keysA.PrivateKeyPair.ViewKey().Public()),
		mcrypto.NewPublicKeyPair(keysB.PublicKeyPair.SpendKey(), keysB.PrivateKeyPair.ViewKey().Public()),
	)

	skSum := mcrypto.SumPrivateSpendKeys(keysA.PrivateKeyPair.SpendKey(), keysB.PrivateKeyPair.SpendKey())
	vkSum := mcrypto.SumPrivateViewKeys(keysA.PrivateKeyPair.ViewKey(), keysB.PrivateKeyPair.ViewKey())
	kpSum := mcrypto.NewPrivateKeyPair(skSum, vkSum)

	require.Equal(t, pubSum.Address(common.Development), kpSum.Address(common.Development))
}
