package bob

import (
	"bytes"
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"

	"github.com/jamen-marz/xmr-btc-swap/bitcoin"
	mcrypto "github.com/jamen-marz/xmr-btc-swap/crypto/monero"
	"github.com/jamen-marz/xmr-btc-swap/crypto/secp256k1"
	"github.com/jamen-marz/xmr-btc-swap/net/message"
	"github.com/jamen-marz/xmr-btc-swap/protocol"
)

// negotiate runs Bob's half of the execution setup. Bob proposes the
// amounts, builds and signs the lock transaction against Alice's keys, and
// collects her signatures over the recovery family. The lock transaction is
// not broadcast here.
func (s *Swap) negotiate(ctx context.Context) (*State2, error) {
	keys, err := protocol.GenerateKeysAndProof()
	if err != nil {
		return nil, err
	}

	b, err := secp256k1.GenerateKeypair()
	if err != nil {
		return nil, err
	}

	refundAddress, err := s.btc.NewAddress()
	if err != nil {
		return nil, err
	}

	req := &message.SwapRequest{
		BTC: s.btcAmount.Uint64(),
		XMR: s.xmrAmount.Uint64(),
	}
	if err := s.handle.Send(ctx, req); err != nil {
		return nil, err
	}

	msg, err := s.handle.Next(ctx)
	if err != nil {
		return nil, err
	}

	resp, ok := msg.(*message.SwapResponse)
	if !ok {
		return nil, fmt.Errorf("%w: expected SwapResponse, got %s", errUnexpectedMessageType, msg.Type())
	}

	if resp.CancelTimelock == 0 || resp.PunishTimelock == 0 {
		return nil, errInvalidTimelocks
	}

	verified, err := protocol.VerifyKeysAndProof(resp.DLEqProof, resp.SaBitcoin, resp.SaMonero)
	if err != nil {
		return nil, fmt.Errorf("counterparty DLEq proof rejected: %w", err)
	}

	a, err := secp256k1.NewPublicKeyFromBytes(resp.A)
	if err != nil {
		return nil, err
	}

	va, err := mcrypto.NewPrivateViewKey(resp.Va)
	if err != nil {
		return nil, err
	}

	redeemAddress, err := btcutil.DecodeAddress(resp.RedeemAddress, s.cfg.BitcoinNet)
	if err != nil {
		return nil, fmt.Errorf("invalid redeem address: %w", err)
	}
	punishAddress, err := btcutil.DecodeAddress(resp.PunishAddress, s.cfg.BitcoinNet)
	if err != nil {
		return nil, fmt.Errorf("invalid punish address: %w", err)
	}

	s2 := &State2{
		b:              b,
		secret:         keys.DLEqProof.Secret(),
		kp:             keys.PrivateKeyPair,
		btc:            s.btcAmount,
		xmr:            s.xmrAmount,
		cancelTimelock: resp.CancelTimelock,
		punishTimelock: resp.PunishTimelock,
		redeemAddress:  redeemAddress,
		punishAddress:  punishAddress,
		refundAddress:  refundAddress,
		a:              a,
		saBitcoin:      verified.Secp256k1PublicKey,
		saMonero:       verified.MoneroSpendKey,
		va:             va,
	}

	// fund the lock transaction against the shared script; signing happens
	// in the node wallet, broadcasting only after setup completes
	rawLock, err := s.fundLock(a, b.Public(), resp.CancelTimelock)
	if err != nil {
		return nil, err
	}
	s2.txLockRaw = rawLock

	if err := s2.deriveTransactions(); err != nil {
		return nil, err
	}

	m2 := &message.ExecutionSetupMsg2{
		B:             compressed(b.Public()),
		SbBitcoin:     compressed(keys.Secp256k1Keypair.Public()),
		SbMonero:      keys.PublicKeyPair.SpendKey().Bytes(),
		Vb:            keys.PrivateKeyPair.ViewKey().Bytes(),
		DLEqProof:     keys.DLEqProof.Proof(),
		RefundAddress: refundAddress.EncodeAddress(),
		TxLock:        rawLock,
	}
	if err := s.handle.Send(ctx, m2); err != nil {
		return nil, err
	}

	msg, err = s.handle.Next(ctx)
	if err != nil {
		return nil, err
	}

	m3, ok := msg.(*message.ExecutionSetupMsg3)
	if !ok {
		return nil, fmt.Errorf("%w: expected ExecutionSetupMsg3, got %s", errUnexpectedMessageType, msg.Type())
	}

	sigCancelA, err := secp256k1.NewSignatureFromBytes(m3.SigCancelA)
	if err != nil {
		return nil, err
	}
	if err := a.Verify(s2.txCancel.Digest(), sigCancelA); err != nil {
		return nil, fmt.Errorf("counterparty cancel signature rejected: %w", err)
	}

	encRefundA, err := secp256k1.NewEncSignatureFromBytes(m3.EncRefundA)
	if err != nil {
		return nil, err
	}
	if err := encRefundA.Verify(a, s2.txRefund.Digest()); err != nil {
		return nil, fmt.Errorf("counterparty refund adaptor rejected: %w", err)
	}

	// the adaptor must be encrypted to our S_b, otherwise completing the
	// refund later would not be possible (or would leak the wrong secret)
	encKey := encRefundA.EncryptionKey().Compressed()
	ourKey := keys.Secp256k1Keypair.Public().Compressed()
	if !bytes.Equal(encKey[:], ourKey[:]) {
		return nil, errEncSigWrongKey
	}

	s2.sigCancelA = sigCancelA
	s2.encRefundA = encRefundA

	sigCancelB := b.Sign(s2.txCancel.Digest())
	sigPunishB := b.Sign(s2.txPunish.Digest())
	cancelBytes := sigCancelB.Bytes()
	punishBytes := sigPunishB.Bytes()

	m4 := &message.ExecutionSetupMsg4{
		SigCancelB: cancelBytes[:],
		SigPunishB: punishBytes[:],
	}
	if err := s.handle.Send(ctx, m4); err != nil {
		return nil, err
	}

	log.Infof("execution setup complete, lock tx %s", s2.txLock.Txid())
	return s2, nil
}

// fundLock has the node wallet fund and sign a transaction paying the swap
// amount to the shared script.
func (s *Swap) fundLock(a, b *secp256k1.PublicKey, cancelTimelock uint32) ([]byte, error) {
	pkScript, err := bitcoin.LockScriptPubKey(a, b, cancelTimelock)
	if err != nil {
		return nil, err
	}

	tx, err := s.btc.FundLockTransaction(pkScript, s.btcAmount)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
