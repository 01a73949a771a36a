package bitcoin

import (
	"bytes"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/jamen-marz/xmr-btc-swap/common"
	"github.com/jamen-marz/xmr-btc-swap/crypto/secp256k1"
)

// TxRefund spends the cancel output back to Bob's refund address through the
// immediate branch. Alice only ever signs it as an adaptor signature
// encrypted to S_b, so Bob's broadcast reveals s_b to her and lets her sweep
// the locked monero.
type TxRefund struct {
	tx     *wire.MsgTx
	digest [32]byte

	cancelScript []byte
	a, b         *secp256k1.PublicKey
}

// NewTxRefund builds the refund transaction spending the given cancel output
// to the refund address.
func NewTxRefund(cancel *TxCancel, refundAddress btcutil.Address) (*TxRefund, error) {
	pkScript, err := txscript.PayToAddrScript(refundAddress)
	if err != nil {
		return nil, err
	}

	tx := wire.NewMsgTx(2)
	outpoint := cancel.OutPoint()
	in := wire.NewTxIn(&outpoint, nil, nil)
	in.Sequence = wire.MaxTxInSequenceNum
	tx.AddTxIn(in)
	tx.AddTxOut(wire.NewTxOut(int64(cancel.Amount().Sub(common.TxFee)), pkScript))

	digest, err := sigHash(tx, 0, cancel.script, int64(cancel.Amount()))
	if err != nil {
		return nil, err
	}

	return &TxRefund{
		tx:           tx,
		digest:       digest,
		cancelScript: cancel.script,
		a:            cancel.a,
		b:            cancel.b,
	}, nil
}

// Digest returns the signature hash of the refund transaction.
func (r *TxRefund) Digest() [32]byte {
	return r.digest
}

// Txid returns the refund transaction's ID.
func (r *TxRefund) Txid() chainhash.Hash {
	return r.tx.TxHash()
}

// Complete fills in the witness with both signatures; sigA must be the
// decryption of Alice's adaptor signature. It fails with ErrUnsatisfied if
// either signature does not verify against the digest.
func (r *TxRefund) Complete(sigA, sigB *secp256k1.Signature) ([]byte, error) {
	if err := r.a.Verify(r.digest, sigA); err != nil {
		return nil, ErrUnsatisfied
	}
	if err := r.b.Verify(r.digest, sigB); err != nil {
		return nil, ErrUnsatisfied
	}

	aPub := r.a.Compressed()
	bPub := r.b.Compressed()
	r.tx.TxIn[0].Witness = spendWitness(
		r.cancelScript, aPub[:], bPub[:], encodeSig(sigA), encodeSig(sigB), false,
	)

	var buf bytes.Buffer
	if err := r.tx.Serialize(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
