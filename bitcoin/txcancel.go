package bitcoin

import (
	"bytes"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/jamen-marz/xmr-btc-swap/common"
	"github.com/jamen-marz/xmr-btc-swap/crypto/secp256k1"
)

// TxCancel spends the lock output through its timelocked branch and recreates
// the same two-party guard, this time with the punish timelock. Publishing it
// is the first rung of the recovery ladder; it is pre-signed by both parties
// during setup so either can publish it alone.
type TxCancel struct {
	tx     *wire.MsgTx
	digest [32]byte

	// the script of the output being spent and of the new output
	lockScript []byte
	script     []byte

	a, b   *secp256k1.PublicKey
	amount common.BitcoinAmount
}

// NewTxCancel builds the cancel transaction spending the given lock output.
func NewTxCancel(lock *TxLock, a, b *secp256k1.PublicKey, cancelTimelock, punishTimelock uint32) (*TxCancel, error) {
	script, err := swapScript(a, b, punishTimelock)
	if err != nil {
		return nil, err
	}

	pkScript, err := witnessScriptHash(script)
	if err != nil {
		return nil, err
	}

	lockScript, err := swapScript(a, b, cancelTimelock)
	if err != nil {
		return nil, err
	}

	tx := wire.NewMsgTx(2)
	outpoint := lock.OutPoint()
	in := wire.NewTxIn(&outpoint, nil, nil)
	in.Sequence = cancelTimelock
	tx.AddTxIn(in)

	amount := lock.Amount().Sub(common.TxFee)
	tx.AddTxOut(wire.NewTxOut(int64(amount), pkScript))

	digest, err := sigHash(tx, 0, lockScript, int64(lock.Amount()))
	if err != nil {
		return nil, err
	}

	return &TxCancel{
		tx:         tx,
		digest:     digest,
		lockScript: lockScript,
		script:     script,
		a:          a,
		b:          b,
		amount:     amount,
	}, nil
}

// Digest returns the signature hash both parties sign during setup.
func (c *TxCancel) Digest() [32]byte {
	return c.digest
}

// Txid returns the cancel transaction's ID.
func (c *TxCancel) Txid() chainhash.Hash {
	return c.tx.TxHash()
}

// OutPoint returns the outpoint of the cancel transaction's guarded output.
func (c *TxCancel) OutPoint() wire.OutPoint {
	return wire.OutPoint{Hash: c.Txid(), Index: 0}
}

// Amount returns the value of the cancel transaction's output.
func (c *TxCancel) Amount() common.BitcoinAmount {
	return c.amount
}

// Complete fills in the witness with both signatures, returning the
// serialized transaction ready for broadcast. It fails with ErrUnsatisfied
// if either signature does not verify against the digest.
func (c *TxCancel) Complete(sigA, sigB *secp256k1.Signature) ([]byte, error) {
	if err := c.a.Verify(c.digest, sigA); err != nil {
		return nil, ErrUnsatisfied
	}
	if err := c.b.Verify(c.digest, sigB); err != nil {
		return nil, ErrUnsatisfied
	}

	aPub := c.a.Compressed()
	bPub := c.b.Compressed()
	c.tx.TxIn[0].Witness = spendWitness(
		c.lockScript, aPub[:], bPub[:], encodeSig(sigA), encodeSig(sigB), true,
	)

	var buf bytes.Buffer
	if err := c.tx.Serialize(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
