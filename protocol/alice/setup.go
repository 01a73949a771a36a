package alice

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"

	"github.com/jamen-marz/xmr-btc-swap/common"
	mcrypto "github.com/jamen-marz/xmr-btc-swap/crypto/monero"
	"github.com/jamen-marz/xmr-btc-swap/crypto/secp256k1"
	"github.com/jamen-marz/xmr-btc-swap/net/message"
	"github.com/jamen-marz/xmr-btc-swap/protocol"
)

// negotiate runs Alice's half of the execution setup: it consumes Bob's swap
// request, exchanges keys and proofs, signs the recovery family, and returns
// the long-lived State3. No transaction is published here; any verification
// failure aborts with nothing at stake.
func (s *Swap) negotiate(ctx context.Context) (*State3, error) {
	msg, err := s.handle.Next(ctx)
	if err != nil {
		return nil, err
	}

	req, ok := msg.(*message.SwapRequest)
	if !ok {
		return nil, fmt.Errorf("%w: expected SwapRequest, got %s", errUnexpectedMessageType, msg.Type())
	}

	btcAmount := common.BitcoinAmount(req.BTC)
	xmrAmount := common.MoneroAmount(req.XMR)
	log.Infof("got swap request: btc=%s xmr=%s", btcAmount, xmrAmount)

	keys, err := protocol.GenerateKeysAndProof()
	if err != nil {
		return nil, err
	}

	a, err := secp256k1.GenerateKeypair()
	if err != nil {
		return nil, err
	}

	redeemAddress, err := s.btc.NewAddress()
	if err != nil {
		return nil, err
	}
	punishAddress, err := s.btc.NewAddress()
	if err != nil {
		return nil, err
	}

	saMonero := keys.PublicKeyPair.SpendKey()
	resp := &message.SwapResponse{
		A:              compressed(a.Public()),
		SaBitcoin:      compressed(keys.Secp256k1Keypair.Public()),
		SaMonero:       saMonero.Bytes(),
		Va:             keys.PrivateKeyPair.ViewKey().Bytes(),
		DLEqProof:      keys.DLEqProof.Proof(),
		RedeemAddress:  redeemAddress.EncodeAddress(),
		PunishAddress:  punishAddress.EncodeAddress(),
		CancelTimelock: s.cfg.CancelTimelock,
		PunishTimelock: s.cfg.PunishTimelock,
	}
	if err := s.handle.Send(ctx, resp); err != nil {
		return nil, err
	}

	msg, err = s.handle.Next(ctx)
	if err != nil {
		return nil, err
	}

	m2, ok := msg.(*message.ExecutionSetupMsg2)
	if !ok {
		return nil, fmt.Errorf("%w: expected ExecutionSetupMsg2, got %s", errUnexpectedMessageType, msg.Type())
	}

	verified, err := protocol.VerifyKeysAndProof(m2.DLEqProof, m2.SbBitcoin, m2.SbMonero)
	if err != nil {
		return nil, fmt.Errorf("counterparty DLEq proof rejected: %w", err)
	}

	b, err := secp256k1.NewPublicKeyFromBytes(m2.B)
	if err != nil {
		return nil, err
	}

	vb, err := mcrypto.NewPrivateViewKey(m2.Vb)
	if err != nil {
		return nil, err
	}

	refundAddress, err := btcutil.DecodeAddress(m2.RefundAddress, s.cfg.BitcoinNet)
	if err != nil {
		return nil, fmt.Errorf("invalid refund address: %w", err)
	}

	s3 := &State3{
		a:              a,
		secret:         keys.DLEqProof.Secret(),
		kp:             keys.PrivateKeyPair,
		btc:            btcAmount,
		xmr:            xmrAmount,
		cancelTimelock: s.cfg.CancelTimelock,
		punishTimelock: s.cfg.PunishTimelock,
		redeemAddress:  redeemAddress,
		punishAddress:  punishAddress,
		b:              b,
		sbBitcoin:      verified.Secp256k1PublicKey,
		sbMonero:       verified.MoneroSpendKey,
		vb:             vb,
		refundAddress:  refundAddress,
		txLockRaw:      m2.TxLock,
	}

	// the lock transaction is validated against the shared script and
	// amount here; the template family falls out of it deterministically
	if err := s3.deriveTransactions(); err != nil {
		return nil, fmt.Errorf("rejecting lock transaction: %w", err)
	}

	sigCancelA := a.Sign(s3.txCancel.Digest())
	encRefundA, err := secp256k1.EncSign(a, s3.txRefund.Digest(), s3.sbBitcoin)
	if err != nil {
		return nil, err
	}
	s3.sigCancelA = sigCancelA
	s3.encRefundA = encRefundA

	sigBytes := sigCancelA.Bytes()
	m3 := &message.ExecutionSetupMsg3{
		SigCancelA: sigBytes[:],
		EncRefundA: encRefundA.Bytes(),
	}
	if err := s.handle.Send(ctx, m3); err != nil {
		return nil, err
	}

	msg, err = s.handle.Next(ctx)
	if err != nil {
		return nil, err
	}

	m4, ok := msg.(*message.ExecutionSetupMsg4)
	if !ok {
		return nil, fmt.Errorf("%w: expected ExecutionSetupMsg4, got %s", errUnexpectedMessageType, msg.Type())
	}

	sigCancelB, err := secp256k1.NewSignatureFromBytes(m4.SigCancelB)
	if err != nil {
		return nil, err
	}
	if err := b.Verify(s3.txCancel.Digest(), sigCancelB); err != nil {
		return nil, fmt.Errorf("counterparty cancel signature rejected: %w", err)
	}

	sigPunishB, err := secp256k1.NewSignatureFromBytes(m4.SigPunishB)
	if err != nil {
		return nil, err
	}
	if err := b.Verify(s3.txPunish.Digest(), sigPunishB); err != nil {
		return nil, fmt.Errorf("counterparty punish signature rejected: %w", err)
	}

	s3.sigCancelB = sigCancelB
	s3.sigPunishB = sigPunishB

	log.Infof("execution setup complete, lock tx %s", s3.txLock.Txid())
	return s3, nil
}
