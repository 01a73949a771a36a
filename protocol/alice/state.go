package alice

import (
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"

	"github.com/jamen-marz/xmr-btc-swap/bitcoin"
	"github.com/jamen-marz/xmr-btc-swap/common"
	mcrypto "github.com/jamen-marz/xmr-btc-swap/crypto/monero"
	"github.com/jamen-marz/xmr-btc-swap/crypto/secp256k1"
)

// State is the tag of Alice's position in the swap.
type State byte

const (
	Started State = iota //nolint
	Negotiated
	BtcLocked
	XmrLocked
	EncSigLearned
	BtcRedeemed
	BtcCancelled
	BtcRefunded
	BtcPunishable
	BtcPunished
	XmrRefunded
	SafelyAborted
)

// String ...
func (s State) String() string {
	switch s {
	case Started:
		return "started"
	case Negotiated:
		return "negotiated"
	case BtcLocked:
		return "btc_locked"
	case XmrLocked:
		return "xmr_locked"
	case EncSigLearned:
		return "encsig_learned"
	case BtcRedeemed:
		return "btc_redeemed"
	case BtcCancelled:
		return "btc_cancelled"
	case BtcRefunded:
		return "btc_refunded"
	case BtcPunishable:
		return "btc_punishable"
	case BtcPunished:
		return "btc_punished"
	case XmrRefunded:
		return "xmr_refunded"
	case SafelyAborted:
		return "safely_aborted"
	default:
		return "unknown"
	}
}

// IsComplete returns true if the state is terminal.
func IsComplete(s State) bool {
	switch s {
	case BtcRedeemed, XmrRefunded, BtcPunished, SafelyAborted:
		return true
	default:
		return false
	}
}

func stateFromTag(tag string) (State, error) {
	for s := Started; s <= SafelyAborted; s++ {
		if s.String() == tag {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown state tag %q", tag)
}

// State3 carries everything Alice needs after a successful execution setup:
// her own secrets, the counterparty's verified public data, and the derived
// transaction family. All later states share it.
type State3 struct {
	// our secrets
	a      *secp256k1.Keypair
	secret [32]byte // s_a, big-endian
	kp     *mcrypto.PrivateKeyPair

	// swap parameters
	btc            common.BitcoinAmount
	xmr            common.MoneroAmount
	cancelTimelock uint32
	punishTimelock uint32
	redeemAddress  btcutil.Address
	punishAddress  btcutil.Address

	// Bob's data
	b             *secp256k1.PublicKey
	sbBitcoin     *secp256k1.PublicKey
	sbMonero      *mcrypto.PublicKey
	vb            *mcrypto.PrivateViewKey
	refundAddress btcutil.Address

	// the transaction family, derived deterministically from the raw lock tx
	txLockRaw []byte
	txLock    *bitcoin.TxLock
	txCancel  *bitcoin.TxCancel
	txRedeem  *bitcoin.TxRedeem
	txRefund  *bitcoin.TxRefund
	txPunish  *bitcoin.TxPunish

	// signatures collected during setup
	sigCancelA *secp256k1.Signature
	encRefundA *secp256k1.EncSignature
	sigCancelB *secp256k1.Signature
	sigPunishB *secp256k1.Signature

	// chain bookkeeping
	lockHeight   uint64
	cancelHeight uint64
}

// sharedAddress returns the address of the shared account S_a + S_b,
// viewable with v_a + v_b.
func (s3 *State3) sharedAddress(env common.Environment) mcrypto.Address {
	pub := mcrypto.SumSpendAndViewKeys(
		mcrypto.NewPublicKeyPair(s3.kp.SpendKey().Public(), s3.kp.ViewKey().Public()),
		mcrypto.NewPublicKeyPair(s3.sbMonero, s3.vb.Public()),
	)
	return pub.Address(env)
}

// sharedViewKey returns v_a + v_b.
func (s3 *State3) sharedViewKey() *mcrypto.PrivateViewKey {
	return mcrypto.SumPrivateViewKeys(s3.kp.ViewKey(), s3.vb)
}

// stateData is the JSON shape State3 persists as. The raw lock transaction
// is stored instead of the derived templates, which are re-derived on load;
// the templates are deterministic so this is lossless.
type stateData struct {
	A      []byte `json:"a"`
	Secret []byte `json:"secret"`

	BTC            uint64 `json:"btc"`
	XMR            uint64 `json:"xmr"`
	CancelTimelock uint32 `json:"cancelTimelock"`
	PunishTimelock uint32 `json:"punishTimelock"`
	RedeemAddress  string `json:"redeemAddress"`
	PunishAddress  string `json:"punishAddress"`
	RefundAddress  string `json:"refundAddress"`

	B         []byte `json:"B"`
	SbBitcoin []byte `json:"sbBitcoin"`
	SbMonero  []byte `json:"sbMonero"`
	Vb        []byte `json:"vb"`

	TxLock []byte `json:"txLock"`

	SigCancelA []byte `json:"sigCancelA"`
	EncRefundA []byte `json:"encRefundA"`
	SigCancelB []byte `json:"sigCancelB"`
	SigPunishB []byte `json:"sigPunishB"`

	LockHeight   uint64 `json:"lockHeight,omitempty"`
	CancelHeight uint64 `json:"cancelHeight,omitempty"`

	// per-tag payloads
	EncSig   []byte `json:"encSig,omitempty"`
	SpendKey []byte `json:"spendKey,omitempty"`
}

func (s3 *State3) marshal(encSig *secp256k1.EncSignature, spendKey []byte) (json.RawMessage, error) {
	aSecret := s3.a.Bytes()
	sigA := s3.sigCancelA.Bytes()
	sigB := s3.sigCancelB.Bytes()
	sigP := s3.sigPunishB.Bytes()

	d := &stateData{
		A:              aSecret[:],
		Secret:         s3.secret[:],
		BTC:            s3.btc.Uint64(),
		XMR:            s3.xmr.Uint64(),
		CancelTimelock: s3.cancelTimelock,
		PunishTimelock: s3.punishTimelock,
		RedeemAddress:  s3.redeemAddress.EncodeAddress(),
		PunishAddress:  s3.punishAddress.EncodeAddress(),
		RefundAddress:  s3.refundAddress.EncodeAddress(),
		B:              compressed(s3.b),
		SbBitcoin:      compressed(s3.sbBitcoin),
		SbMonero:       s3.sbMonero.Bytes(),
		Vb:             s3.vb.Bytes(),
		TxLock:         s3.txLockRaw,
		SigCancelA:     sigA[:],
		EncRefundA:     s3.encRefundA.Bytes(),
		SigCancelB:     sigB[:],
		SigPunishB:     sigP[:],
		LockHeight:     s3.lockHeight,
		CancelHeight:   s3.cancelHeight,
		SpendKey:       spendKey,
	}

	if encSig != nil {
		d.EncSig = encSig.Bytes()
	}

	return json.Marshal(d)
}

func compressed(k *secp256k1.PublicKey) []byte {
	b := k.Compressed()
	return b[:]
}

// newState3FromData rebuilds a State3, re-deriving the transaction family
// from the persisted lock transaction.
func newState3FromData(cfg common.Config, d *stateData) (*State3, *secp256k1.EncSignature, error) {
	a, err := secp256k1.NewKeypairFromBytes(d.A)
	if err != nil {
		return nil, nil, err
	}

	var secret [32]byte
	copy(secret[:], d.Secret)
	sk, err := mcrypto.NewPrivateSpendKey(common.Reverse(d.Secret))
	if err != nil {
		return nil, nil, err
	}
	kp, err := sk.AsPrivateKeyPair()
	if err != nil {
		return nil, nil, err
	}

	b, err := secp256k1.NewPublicKeyFromBytes(d.B)
	if err != nil {
		return nil, nil, err
	}
	sbBitcoin, err := secp256k1.NewPublicKeyFromBytes(d.SbBitcoin)
	if err != nil {
		return nil, nil, err
	}
	sbMonero, err := mcrypto.NewPublicKey(d.SbMonero)
	if err != nil {
		return nil, nil, err
	}
	vb, err := mcrypto.NewPrivateViewKey(d.Vb)
	if err != nil {
		return nil, nil, err
	}

	redeemAddress, err := btcutil.DecodeAddress(d.RedeemAddress, cfg.BitcoinNet)
	if err != nil {
		return nil, nil, err
	}
	punishAddress, err := btcutil.DecodeAddress(d.PunishAddress, cfg.BitcoinNet)
	if err != nil {
		return nil, nil, err
	}
	refundAddress, err := btcutil.DecodeAddress(d.RefundAddress, cfg.BitcoinNet)
	if err != nil {
		return nil, nil, err
	}

	sigCancelA, err := secp256k1.NewSignatureFromBytes(d.SigCancelA)
	if err != nil {
		return nil, nil, err
	}
	encRefundA, err := secp256k1.NewEncSignatureFromBytes(d.EncRefundA)
	if err != nil {
		return nil, nil, err
	}
	sigCancelB, err := secp256k1.NewSignatureFromBytes(d.SigCancelB)
	if err != nil {
		return nil, nil, err
	}
	sigPunishB, err := secp256k1.NewSignatureFromBytes(d.SigPunishB)
	if err != nil {
		return nil, nil, err
	}

	s3 := &State3{
		a:              a,
		secret:         secret,
		kp:             kp,
		btc:            common.BitcoinAmount(d.BTC),
		xmr:            common.MoneroAmount(d.XMR),
		cancelTimelock: d.CancelTimelock,
		punishTimelock: d.PunishTimelock,
		redeemAddress:  redeemAddress,
		punishAddress:  punishAddress,
		refundAddress:  refundAddress,
		b:              b,
		sbBitcoin:      sbBitcoin,
		sbMonero:       sbMonero,
		vb:             vb,
		txLockRaw:      d.TxLock,
		sigCancelA:     sigCancelA,
		encRefundA:     encRefundA,
		sigCancelB:     sigCancelB,
		sigPunishB:     sigPunishB,
		lockHeight:     d.LockHeight,
		cancelHeight:   d.CancelHeight,
	}

	if err := s3.deriveTransactions(); err != nil {
		return nil, nil, err
	}

	var encSig *secp256k1.EncSignature
	if len(d.EncSig) != 0 {
		encSig, err = secp256k1.NewEncSignatureFromBytes(d.EncSig)
		if err != nil {
			return nil, nil, err
		}
	}

	return s3, encSig, nil
}

// deriveTransactions builds the template family from the raw lock transaction.
func (s3 *State3) deriveTransactions() error {
	lock, err := bitcoin.NewTxLockFromRaw(s3.txLockRaw, s3.a.Public(), s3.b, s3.cancelTimelock, s3.btc)
	if err != nil {
		return err
	}

	cancel, err := bitcoin.NewTxCancel(lock, s3.a.Public(), s3.b, s3.cancelTimelock, s3.punishTimelock)
	if err != nil {
		return err
	}

	redeem, err := bitcoin.NewTxRedeem(lock, s3.redeemAddress, s3.a.Public(), s3.b, s3.cancelTimelock)
	if err != nil {
		return err
	}

	refund, err := bitcoin.NewTxRefund(cancel, s3.refundAddress)
	if err != nil {
		return err
	}

	punish, err := bitcoin.NewTxPunish(cancel, s3.punishAddress, s3.punishTimelock)
	if err != nil {
		return err
	}

	s3.txLock = lock
	s3.txCancel = cancel
	s3.txRedeem = redeem
	s3.txRefund = refund
	s3.txPunish = punish
	return nil
}
