package bob

import (
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"

	"github.com/jamen-marz/xmr-btc-swap/bitcoin"
	"github.com/jamen-marz/xmr-btc-swap/common"
	mcrypto "github.com/jamen-marz/xmr-btc-swap/crypto/monero"
	"github.com/jamen-marz/xmr-btc-swap/crypto/secp256k1"
)

// State is the tag of Bob's position in the swap.
type State byte

const (
	Started State = iota //nolint
	Negotiated
	BtcLocked
	XmrLocked
	EncSigSent
	BtcRedeemed
	Cancelled
	BtcRefunded
	XmrRedeemed
	Punished
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
	case EncSigSent:
		return "encsig_sent"
	case BtcRedeemed:
		return "btc_redeemed"
	case Cancelled:
		return "cancelled"
	case BtcRefunded:
		return "btc_refunded"
	case XmrRedeemed:
		return "xmr_redeemed"
	case Punished:
		return "punished"
	case SafelyAborted:
		return "safely_aborted"
	default:
		return "unknown"
	}
}

// IsComplete returns true if the state is terminal.
func IsComplete(s State) bool {
	switch s {
	case BtcRefunded, XmrRedeemed, Punished, SafelyAborted:
		return true
	default:
		return false
	}
}

// IsEncSigSent ...
func IsEncSigSent(s State) bool {
	return s == EncSigSent
}

// IsXmrLocked ...
func IsXmrLocked(s State) bool {
	return s == XmrLocked
}

func stateFromTag(tag string) (State, error) {
	for s := Started; s <= SafelyAborted; s++ {
		if s.String() == tag {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown state tag %q", tag)
}

// State2 carries everything Bob needs after a successful execution setup.
// All later states share it.
type State2 struct {
	// our secrets
	b      *secp256k1.Keypair
	secret [32]byte // s_b, big-endian
	kp     *mcrypto.PrivateKeyPair

	// swap parameters (timelocks and addresses proposed by Alice)
	btc            common.BitcoinAmount
	xmr            common.MoneroAmount
	cancelTimelock uint32
	punishTimelock uint32
	redeemAddress  btcutil.Address
	punishAddress  btcutil.Address
	refundAddress  btcutil.Address

	// Alice's data
	a         *secp256k1.PublicKey
	saBitcoin *secp256k1.PublicKey
	saMonero  *mcrypto.PublicKey
	va        *mcrypto.PrivateViewKey

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

	// chain bookkeeping
	lockHeight   uint64
	cancelHeight uint64
}

// sharedAddress returns the address of the shared account S_a + S_b,
// viewable with v_a + v_b.
func (s2 *State2) sharedAddress(env common.Environment) mcrypto.Address {
	pub := mcrypto.SumSpendAndViewKeys(
		mcrypto.NewPublicKeyPair(s2.saMonero, s2.va.Public()),
		mcrypto.NewPublicKeyPair(s2.kp.SpendKey().Public(), s2.kp.ViewKey().Public()),
	)
	return pub.Address(env)
}

// sharedViewKey returns v_a + v_b.
func (s2 *State2) sharedViewKey() *mcrypto.PrivateViewKey {
	return mcrypto.SumPrivateViewKeys(s2.va, s2.kp.ViewKey())
}

// stateData is the JSON shape State2 persists as; templates re-derive from
// the raw lock transaction on load.
type stateData struct {
	B      []byte `json:"b"`
	Secret []byte `json:"secret"`

	BTC            uint64 `json:"btc"`
	XMR            uint64 `json:"xmr"`
	CancelTimelock uint32 `json:"cancelTimelock"`
	PunishTimelock uint32 `json:"punishTimelock"`
	RedeemAddress  string `json:"redeemAddress"`
	PunishAddress  string `json:"punishAddress"`
	RefundAddress  string `json:"refundAddress"`

	A         []byte `json:"A"`
	SaBitcoin []byte `json:"saBitcoin"`
	SaMonero  []byte `json:"saMonero"`
	Va        []byte `json:"va"`

	TxLock []byte `json:"txLock"`

	SigCancelA []byte `json:"sigCancelA"`
	EncRefundA []byte `json:"encRefundA"`

	LockHeight   uint64 `json:"lockHeight,omitempty"`
	CancelHeight uint64 `json:"cancelHeight,omitempty"`

	// per-tag payloads
	EncSig   []byte `json:"encSig,omitempty"`   // our adaptor signature, from EncSigSent on
	SaSecret []byte `json:"saSecret,omitempty"` // recovered s_a, from BtcRedeemed on
}

func (s2 *State2) marshal(encSig *secp256k1.EncSignature, saSecret []byte) (json.RawMessage, error) {
	bSecret := s2.b.Bytes()
	sigA := s2.sigCancelA.Bytes()

	d := &stateData{
		B:              bSecret[:],
		Secret:         s2.secret[:],
		BTC:            s2.btc.Uint64(),
		XMR:            s2.xmr.Uint64(),
		CancelTimelock: s2.cancelTimelock,
		PunishTimelock: s2.punishTimelock,
		RedeemAddress:  s2.redeemAddress.EncodeAddress(),
		PunishAddress:  s2.punishAddress.EncodeAddress(),
		RefundAddress:  s2.refundAddress.EncodeAddress(),
		A:              compressed(s2.a),
		SaBitcoin:      compressed(s2.saBitcoin),
		SaMonero:       s2.saMonero.Bytes(),
		Va:             s2.va.Bytes(),
		TxLock:         s2.txLockRaw,
		SigCancelA:     sigA[:],
		EncRefundA:     s2.encRefundA.Bytes(),
		LockHeight:     s2.lockHeight,
		CancelHeight:   s2.cancelHeight,
		SaSecret:       saSecret,
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

// newState2FromData rebuilds a State2, re-deriving the transaction family
// from the persisted lock transaction.
func newState2FromData(cfg common.Config, d *stateData) (*State2, *secp256k1.EncSignature, error) {
	b, err := secp256k1.NewKeypairFromBytes(d.B)
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

	a, err := secp256k1.NewPublicKeyFromBytes(d.A)
	if err != nil {
		return nil, nil, err
	}
	saBitcoin, err := secp256k1.NewPublicKeyFromBytes(d.SaBitcoin)
	if err != nil {
		return nil, nil, err
	}
	saMonero, err := mcrypto.NewPublicKey(d.SaMonero)
	if err != nil {
		return nil, nil, err
	}
	va, err := mcrypto.NewPrivateViewKey(d.Va)
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

	s2 := &State2{
		b:              b,
		secret:         secret,
		kp:             kp,
		btc:            common.BitcoinAmount(d.BTC),
		xmr:            common.MoneroAmount(d.XMR),
		cancelTimelock: d.CancelTimelock,
		punishTimelock: d.PunishTimelock,
		redeemAddress:  redeemAddress,
		punishAddress:  punishAddress,
		refundAddress:  refundAddress,
		a:              a,
		saBitcoin:      saBitcoin,
		saMonero:       saMonero,
		va:             va,
		txLockRaw:      d.TxLock,
		sigCancelA:     sigCancelA,
		encRefundA:     encRefundA,
		lockHeight:     d.LockHeight,
		cancelHeight:   d.CancelHeight,
	}

	if err := s2.deriveTransactions(); err != nil {
		return nil, nil, err
	}

	var encSig *secp256k1.EncSignature
	if len(d.EncSig) != 0 {
		encSig, err = secp256k1.NewEncSignatureFromBytes(d.EncSig)
		if err != nil {
			return nil, nil, err
		}
	}

	return s2, encSig, nil
}

// deriveTransactions builds the template family from the raw lock transaction.
func (s2 *State2) deriveTransactions() error {
	lock, err := bitcoin.NewTxLockFromRaw(s2.txLockRaw, s2.a, s2.b.Public(), s2.cancelTimelock, s2.btc)
	if err != nil {
		return err
	}

	cancel, err := bitcoin.NewTxCancel(lock, s2.a, s2.b.Public(), s2.cancelTimelock, s2.punishTimelock)
	if err != nil {
		return err
	}

	redeem, err := bitcoin.NewTxRedeem(lock, s2.redeemAddress, s2.a, s2.b.Public(), s2.cancelTimelock)
	if err != nil {
		return err
	}

	refund, err := bitcoin.NewTxRefund(cancel, s2.refundAddress)
	if err != nil {
		return err
	}

	punish, err := bitcoin.NewTxPunish(cancel, s2.punishAddress, s2.punishTimelock)
	if err != nil {
		return err
	}

	s2.txLock = lock
	s2.txCancel = cancel
	s2.txRedeem = redeem
	s2.txRefund = refund
	s2.txPunish = punish
	return nil
}
