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

// TxRedeem spends the lock output to Alice's redeem address through the
// immediate branch. Bob only ever signs it as an adaptor signature encrypted
// to S_a, so Alice's broadcast of the completed transaction necessarily
// reveals s_a to him.
type TxRedeem struct {
	tx     *wire.MsgTx
	digest [32]byte

	lockScript []byte
	a, b       *secp256k1.PublicKey
}

// NewTxRedeem builds the redeem transaction spending the given lock output
// to the redeem address.
func NewTxRedeem(lock *TxLock, redeemAddress btcutil.Address, a, b *secp256k1.PublicKey, cancelTimelock uint32) (*TxRedeem, error) {
	lockScript, err := swapScript(a, b, cancelTimelock)
	if err != nil {
		return nil, err
	}

	pkScript, err := txscript.PayToAddrScript(redeemAddress)
	if err != nil {
		return nil, err
	}

	tx := wire.NewMsgTx(2)
	outpoint := lock.OutPoint()
	in := wire.NewTxIn(&outpoint, nil, nil)
	in.Sequence = wire.MaxTxInSequenceNum
	tx.AddTxIn(in)
	tx.AddTxOut(wire.NewTxOut(int64(lock.Amount().Sub(common.TxFee)), pkScript))

	digest, err := sigHash(tx, 0, lockScript, int64(lock.Amount()))
	if err != nil {
		return nil, err
	}

	return &TxRedeem{
		tx:         tx,
		digest:     digest,
		lockScript: lockScript,
		a:          a,
		b:          b,
	}, nil
}

// Digest returns the signature hash of the redeem transaction.
func (r *TxRedeem) Digest() [32]byte {
	return r.digest
}

// Txid returns the redeem transaction's ID.
func (r *TxRedeem) Txid() chainhash.Hash {
	return r.tx.TxHash()
}

// Complete fills in the witness with both signatures; sigB must be the
// decryption of Bob's adaptor signature. It fails with ErrUnsatisfied if
// either signature does not verify against the digest.
func (r *TxRedeem) Complete(sigA, sigB *secp256k1.Signature) ([]byte, error) {
	if err := r.a.Verify(r.digest, sigA); err != nil {
		return nil, ErrUnsatisfied
	}
	if err := r.b.Verify(r.digest, sigB); err != nil {
		return nil, ErrUnsatisfied
	}

	aPub := r.a.Compressed()
	bPub := r.b.Compressed()
	r.tx.TxIn[0].Witness = spendWitness(
		r.lockScript, aPub[:], bPub[:], encodeSig(sigA), encodeSig(sigB), false,
	)

	var buf bytes.Buffer
	if err := r.tx.Serialize(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
