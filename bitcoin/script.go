// Package bitcoin implements the Bitcoin side of the swap: the shared output
// script, the five transaction templates built on it, a bitcoind wallet
// client, and the chain watchers the state machines block on.
package bitcoin

import (
	"bytes"
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/jamen-marz/xmr-btc-swap/crypto/secp256k1"
)

// swapScript builds the witness script guarding a swap output. Both branches
// require both signatures; the second is additionally encumbered by a
// relative timelock so the recovery transaction only becomes valid once the
// timelock has elapsed since the output confirmed.
//
//	OP_IF
//	    2 <A> <B> 2 OP_CHECKMULTISIG
//	OP_ELSE
//	    <timelock> OP_CHECKSEQUENCEVERIFY OP_DROP
//	    2 <A> <B> 2 OP_CHECKMULTISIG
//	OP_ENDIF
func swapScript(a, b *secp256k1.PublicKey, timelock uint32) ([]byte, error) {
	aPub := a.Compressed()
	bPub := b.Compressed()
	first, second := sortPubkeys(aPub[:], bPub[:])

	bldr := txscript.NewScriptBuilder()
	bldr.AddOp(txscript.OP_IF)
	bldr.AddOp(txscript.OP_2)
	bldr.AddData(first)
	bldr.AddData(second)
	bldr.AddOp(txscript.OP_2)
	bldr.AddOp(txscript.OP_CHECKMULTISIG)
	bldr.AddOp(txscript.OP_ELSE)
	bldr.AddInt64(int64(timelock))
	bldr.AddOp(txscript.OP_CHECKSEQUENCEVERIFY)
	bldr.AddOp(txscript.OP_DROP)
	bldr.AddOp(txscript.OP_2)
	bldr.AddData(first)
	bldr.AddData(second)
	bldr.AddOp(txscript.OP_2)
	bldr.AddOp(txscript.OP_CHECKMULTISIG)
	bldr.AddOp(txscript.OP_ENDIF)
	return bldr.Script()
}

// sortPubkeys orders two serialized pubkeys the way the multisig script
// expects them; signatures must appear on the stack in the same order.
func sortPubkeys(aPub, bPub []byte) (first, second []byte) {
	if bytes.Compare(aPub, bPub) == 1 {
		return bPub, aPub
	}
	return aPub, bPub
}

// witnessScriptHash generates a pay-to-witness-script-hash public key script
// paying to the passed witness script.
func witnessScriptHash(script []byte) ([]byte, error) {
	bldr := txscript.NewScriptBuilder()
	bldr.AddOp(txscript.OP_0)
	scriptHash := sha256.Sum256(script)
	bldr.AddData(scriptHash[:])
	return bldr.Script()
}

// swapScriptAddress returns the P2WSH address of a swap script, used when the
// node wallet funds the lock transaction.
func swapScriptAddress(script []byte, net *chaincfg.Params) (btcutil.Address, error) {
	scriptHash := sha256.Sum256(script)
	return btcutil.NewAddressWitnessScriptHash(scriptHash[:], net)
}

// LockScriptPubKey returns the P2WSH output script paying to the swap script
// for (a, b, timelock); it is what the lock transaction's funded output must
// carry.
func LockScriptPubKey(a, b *secp256k1.PublicKey, timelock uint32) ([]byte, error) {
	script, err := swapScript(a, b, timelock)
	if err != nil {
		return nil, err
	}
	return witnessScriptHash(script)
}

// spendWitness assembles the witness stack spending a swap output. The branch
// selector sits directly under the witness script so OP_IF pops it first;
// signatures are ordered to match the sorted pubkeys inside the script.
func spendWitness(script []byte, aPub, bPub, sigA, sigB []byte, timelockBranch bool) wire.TxWitness {
	witness := make(wire.TxWitness, 5)

	// nil first element eats CHECKMULTISIG's extra pop
	witness[0] = nil
	if bytes.Compare(aPub, bPub) == -1 {
		witness[1] = sigA
		witness[2] = sigB
	} else {
		witness[1] = sigB
		witness[2] = sigA
	}

	if timelockBranch {
		witness[3] = nil // empty selector takes the OP_ELSE branch
	} else {
		witness[3] = []byte{0x01}
	}

	witness[4] = script
	return witness
}

// sigHash computes the BIP-143 signature hash for the given input of tx,
// spending a previous output with the given witness script and value.
func sigHash(tx *wire.MsgTx, idx int, script []byte, value int64) ([32]byte, error) {
	pkScript, err := witnessScriptHash(script)
	if err != nil {
		return [32]byte{}, err
	}

	fetcher := txscript.NewCannedPrevOutputFetcher(pkScript, value)
	hashes := txscript.NewTxSigHashes(tx, fetcher)
	h, err := txscript.CalcWitnessSigHash(script, hashes, txscript.SigHashAll, tx, idx, value)
	if err != nil {
		return [32]byte{}, err
	}

	var digest [32]byte
	copy(digest[:], h)
	return digest, nil
}

// encodeSig serializes a compact signature into the DER-plus-sighash-type
// form the script interpreter expects.
func encodeSig(sig *secp256k1.Signature) []byte {
	der := sig.DER()
	return append(der, byte(txscript.SigHashAll))
}
