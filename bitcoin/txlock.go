package bitcoin

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/jamen-marz/xmr-btc-swap/common"
	"github.com/jamen-marz/xmr-btc-swap/crypto/secp256k1"
)

// TxLock is the funding transaction of a swap: a transaction built and
// signed by Bob's wallet carrying one output guarded by the shared swap
// script over (A, B) with the cancel timelock branch.
//
// Only Bob can construct it, but both parties derive the identical TxLock
// from its serialization, so all downstream templates are byte-identical on
// both sides.
type TxLock struct {
	tx     *wire.MsgTx
	script []byte
	vout   uint32
	amount common.BitcoinAmount
}

// NewTxLockFromRaw deserializes a lock transaction and checks that it pays
// the expected amount to the shared swap script for (a, b, cancelTimelock).
func NewTxLockFromRaw(raw []byte, a, b *secp256k1.PublicKey, cancelTimelock uint32, amount common.BitcoinAmount) (*TxLock, error) {
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("failed to deserialize lock transaction: %w", err)
	}

	script, err := swapScript(a, b, cancelTimelock)
	if err != nil {
		return nil, err
	}

	pkScript, err := witnessScriptHash(script)
	if err != nil {
		return nil, err
	}

	vout := -1
	for i, out := range tx.TxOut {
		if bytes.Equal(out.PkScript, pkScript) {
			vout = i
			break
		}
	}
	if vout == -1 {
		return nil, errLockOutputNotFound
	}

	if tx.TxOut[vout].Value != int64(amount) {
		return nil, errLockOutputWrongValue
	}

	return &TxLock{
		tx:     tx,
		script: script,
		vout:   uint32(vout),
		amount: amount,
	}, nil
}

// Txid returns the lock transaction's ID.
func (l *TxLock) Txid() chainhash.Hash {
	return l.tx.TxHash()
}

// OutPoint returns the outpoint of the shared swap output.
func (l *TxLock) OutPoint() wire.OutPoint {
	return wire.OutPoint{Hash: l.Txid(), Index: l.vout}
}

// Amount returns the value of the shared swap output.
func (l *TxLock) Amount() common.BitcoinAmount {
	return l.amount
}

// Tx returns the underlying wire transaction.
func (l *TxLock) Tx() *wire.MsgTx {
	return l.tx
}

// Serialize returns the wire serialization of the lock transaction.
func (l *TxLock) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	if err := l.tx.Serialize(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
