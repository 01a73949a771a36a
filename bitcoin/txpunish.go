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

// TxPunish spends the cancel output to Alice's punish address through the
// punish-timelock branch. Bob pre-signs it during setup; if he cancels but
// never refunds, Alice claims the bitcoin once the timelock elapses.
type TxPunish struct {
	tx     *wire.MsgTx
	digest [32]byte

	cancelScript []byte
	a, b         *secp256k1.PublicKey
}

// NewTxPunish builds the punish transaction spending the given cancel output
// to the punish address.
func NewTxPunish(cancel *TxCancel, punishAddress btcutil.Address, punishTimelock uint32) (*TxPunish, error) {
	pkScript, err := txscript.PayToAddrScript(punishAddress)
	if err != nil {
		return nil, err
	}

	tx := wire.NewMsgTx(2)
	outpoint := cancel.OutPoint()
	in := wire.NewTxIn(&outpoint, nil, nil)
	in.Sequence = punishTimelock
	tx.AddTxIn(in)
	tx.AddTxOut(wire.NewTxOut(int64(cancel.Amount().Sub(common.TxFee)), pkScript))

	digest, err := sigHash(tx, 0, cancel.script, int64(cancel.Amount()))
	if err != nil {
		return nil, err
	}

	return &TxPunish{
		tx:           tx,
		digest:       digest,
		cancelScript: cancel.script,
		a:            cancel.a,
		b:            cancel.b,
	}, nil
}

// Digest returns the signature hash Bob signs during setup.
func (p *TxPunish) Digest() [32]byte {
	return p.digest
}

// Txid returns the punish transaction's ID.
func (p *TxPunish) Txid() chainhash.Hash {
	return p.tx.TxHash()
}

// Complete fills in the witness with both signatures. It fails with
// ErrUnsatisfied if either signature does not verify against the digest.
func (p *TxPunish) Complete(sigA, sigB *secp256k1.Signature) ([]byte, error) {
	if err := p.a.Verify(p.digest, sigA); err != nil {
		return nil, ErrUnsatisfied
	}
	if err := p.b.Verify(p.digest, sigB); err != nil {
		return nil, ErrUnsatisfied
	}

	aPub := p.a.Compressed()
	bPub := p.b.Compressed()
	p.tx.TxIn[0].Witness = spendWitness(
		p.cancelScript, aPub[:], bPub[:], encodeSig(sigA), encodeSig(sigB), true,
	)

	var buf bytes.Buffer
	if err := p.tx.Serialize(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
