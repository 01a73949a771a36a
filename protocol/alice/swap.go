package alice

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/wire"
	"github.com/fatih/color" //nolint:misspell

	"github.com/jamen-marz/xmr-btc-swap/bitcoin"
	"github.com/jamen-marz/xmr-btc-swap/common"
	mcrypto "github.com/jamen-marz/xmr-btc-swap/crypto/monero"
	"github.com/jamen-marz/xmr-btc-swap/crypto/secp256k1"
	"github.com/jamen-marz/xmr-btc-swap/monero"
	"github.com/jamen-marz/xmr-btc-swap/net/message"
	pswap "github.com/jamen-marz/xmr-btc-swap/protocol/swap"
)

// Run drives the swap to a terminal state.
func (s *Swap) Run(ctx context.Context) (State, error) {
	return s.RunUntil(ctx, IsComplete)
}

// RunUntil drives the swap forward until the predicate is satisfied or a
// terminal state is reached. After every transition the new state is
// persisted before the loop re-enters, so a crashed swap resumes at the tag
// it last completed.
func (s *Swap) RunUntil(ctx context.Context, until func(State) bool) (State, error) {
	for {
		log.Infof("swap %s: %s", s.id, s.state)
		if s.info != nil {
			s.info.SetStateTag(s.state.String())
		}

		if until(s.state) || IsComplete(s.state) {
			s.finish()
			return s.state, nil
		}

		next, err := s.step(ctx)
		if err != nil {
			if s.state == Started {
				// nothing at stake yet; abort safely
				log.Warnf("aborting swap before any funds locked: %s", err)
				s.state = SafelyAborted
				if perr := s.persist(); perr != nil {
					log.Errorf("failed to persist abort: %s", perr)
				}
				continue
			}
			return s.state, err
		}

		s.state = next
		if err := s.persist(); err != nil {
			return s.state, fmt.Errorf("failed to persist state %s: %w", s.state, err)
		}
	}
}

func (s *Swap) step(ctx context.Context) (State, error) {
	switch s.state {
	case Started:
		s3, err := s.negotiate(ctx)
		if err != nil {
			return 0, err
		}
		s.s3 = s3
		return Negotiated, nil

	case Negotiated:
		return s.stepNegotiated(ctx)
	case BtcLocked:
		return s.stepBtcLocked(ctx)
	case XmrLocked:
		return s.stepXmrLocked(ctx)
	case EncSigLearned:
		return s.stepEncSigLearned(ctx)
	case BtcCancelled:
		return s.stepBtcCancelled(ctx)
	case BtcPunishable:
		return s.stepBtcPunishable(ctx)
	default:
		return 0, fmt.Errorf("no transition out of state %s", s.state)
	}
}

// stepNegotiated waits for Bob's lock transaction to confirm. Bob broadcasts
// it himself; Alice only ever observes.
func (s *Swap) stepNegotiated(ctx context.Context) (State, error) {
	if s.s3 == nil {
		return 0, errNilSwapState
	}

	err := bitcoin.WaitForConfirmations(ctx, s.btc, s.s3.txLock.Txid(), s.cfg.ConfirmationsBTC)
	if err != nil {
		return 0, err
	}

	height, err := s.btc.BlockHeight(ctx)
	if err != nil {
		return 0, err
	}
	s.s3.lockHeight = height

	log.Infof("bitcoin lock confirmed: %s at height %d", s.s3.txLock.Txid(), height)
	return BtcLocked, nil
}

// stepBtcLocked locks the monero into the shared account and notifies Bob.
// The state is persisted only after the transfer returns, so a crash after
// this step resumes past it.
func (s *Swap) stepBtcLocked(ctx context.Context) (State, error) {
	address := s.s3.sharedAddress(s.cfg.Env)

	proof, err := s.lockXMR(ctx, address)
	if err != nil {
		return 0, err
	}

	if err := s.handle.SendWithAck(ctx, proof); err != nil {
		// Bob not acknowledging is not fatal: he watches the chain too,
		// and our recovery path does not depend on him
		log.Warnf("transfer proof not acknowledged: %s", err)
	}

	log.Infof("monero locked at shared address %s", address)
	return XmrLocked, nil
}

func (s *Swap) lockXMR(ctx context.Context, address mcrypto.Address) (*message.TransferProof, error) {
	s.xmr.LockClient()
	defer s.xmr.UnlockClient()

	balance, err := s.xmr.GetBalance(0)
	if err != nil {
		return nil, err
	}
	log.Debug("unlocked XMR balance: ", balance.UnlockedBalance)

	transfer, err := s.xmr.Transfer(address, 0, s.s3.xmr)
	if err != nil {
		return nil, err
	}
	log.Infof("locked XMR, txHash=%s fee=%d", transfer.TxHash, transfer.Fee)

	if _, err := monero.WaitForBlocks(ctx, s.xmr, s.cfg.ConfirmationsXMR); err != nil {
		return nil, err
	}

	return &message.TransferProof{
		TxHash: []byte(transfer.TxHash),
		TxKey:  []byte(transfer.TxKey),
	}, nil
}

// stepXmrLocked races Bob's encrypted signature against the cancel timelock.
func (s *Swap) stepXmrLocked(ctx context.Context) (State, error) {
	// if the cancel transaction is already on chain (e.g. after a restart),
	// the chain is further along than the database; adopt its view
	confs, err := s.btc.TxConfirmations(ctx, s.s3.txCancel.Txid())
	if err == nil && confs > 0 {
		log.Warnf("cancel transaction already on chain, adopting chain state")
		return BtcCancelled, nil
	}

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type encSigResult struct {
		encSig *secp256k1.EncSignature
		err    error
	}

	encSigCh := make(chan encSigResult, 1)
	timeoutCh := make(chan error, 1)

	go func() {
		for {
			msg, err := s.handle.Next(raceCtx)
			if err != nil {
				encSigCh <- encSigResult{err: err}
				return
			}

			m, ok := msg.(*message.EncryptedSignature)
			if !ok {
				// funds are locked; an unexpected message must not kill the
				// swap, the timelock ladder protects us regardless
				log.Warnf("ignoring unexpected message %s while waiting for encrypted signature", msg.Type())
				continue
			}

			encSig, err := secp256k1.NewEncSignatureFromBytes(m.Ciphertext)
			if err != nil {
				encSigCh <- encSigResult{err: err}
				return
			}
			encSigCh <- encSigResult{encSig: encSig}
			return
		}
	}()

	go func() {
		timeoutCh <- bitcoin.WaitUntilHeight(raceCtx, s.btc, s.s3.lockHeight+uint64(s.s3.cancelTimelock))
	}()

	select {
	case res := <-encSigCh:
		if res.err != nil {
			log.Warnf("waiting for encrypted signature failed: %s, falling back to timelock", res.err)
			if err := bitcoin.WaitUntilHeight(ctx, s.btc, s.s3.lockHeight+uint64(s.s3.cancelTimelock)); err != nil {
				return 0, err
			}
			return BtcCancelled, nil
		}

		if err := res.encSig.Verify(s.s3.b, s.s3.txRedeem.Digest()); err != nil {
			log.Warnf("rejecting invalid encrypted signature: %s", err)
			if err := bitcoin.WaitUntilHeight(ctx, s.btc, s.s3.lockHeight+uint64(s.s3.cancelTimelock)); err != nil {
				return 0, err
			}
			return BtcCancelled, nil
		}

		s.encSig = res.encSig
		return EncSigLearned, nil

	case err := <-timeoutCh:
		if err != nil {
			return 0, err
		}
		log.Infof("cancel timelock expired before encrypted signature arrived")
		return BtcCancelled, nil
	}
}

// stepEncSigLearned decrypts Bob's adaptor signature with s_a and publishes
// the redeem transaction, taking the bitcoin.
func (s *Swap) stepEncSigLearned(ctx context.Context) (State, error) {
	if s.encSig == nil {
		return 0, errNoEncryptedSignature
	}

	sigB, err := s.encSig.Decrypt(s.s3.secret)
	if err != nil {
		return 0, err
	}

	sigA := s.s3.a.Sign(s.s3.txRedeem.Digest())
	raw, err := s.s3.txRedeem.Complete(sigA, sigB)
	if err != nil {
		return 0, err
	}

	if _, err := s.btc.Broadcast(ctx, raw); err != nil {
		return 0, err
	}

	if err := bitcoin.WaitForConfirmations(ctx, s.btc, s.s3.txRedeem.Txid(), 1); err != nil {
		return 0, err
	}

	log.Infof("redeemed bitcoin: %s", s.s3.txRedeem.Txid())
	return BtcRedeemed, nil
}

// stepBtcCancelled publishes the cancel transaction if it isn't on chain yet,
// then races the refund spend against the punish timelock.
func (s *Swap) stepBtcCancelled(ctx context.Context) (State, error) {
	raw, err := s.s3.txCancel.Complete(s.s3.sigCancelA, s.s3.sigCancelB)
	if err != nil {
		return 0, err
	}

	// idempotent: already-known transactions are success
	if _, err := s.btc.Broadcast(ctx, raw); err != nil {
		return 0, err
	}

	if err := bitcoin.WaitForConfirmations(ctx, s.btc, s.s3.txCancel.Txid(), 1); err != nil {
		return 0, err
	}

	if s.s3.cancelHeight == 0 {
		height, err := s.btc.BlockHeight(ctx)
		if err != nil {
			return 0, err
		}
		s.s3.cancelHeight = height
	}

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type spendResult struct {
		tx  *wire.MsgTx
		err error
	}

	spendCh := make(chan spendResult, 1)
	timeoutCh := make(chan error, 1)

	go func() {
		tx, err := bitcoin.WaitForSpend(raceCtx, s.btc, s.s3.txCancel.OutPoint(), s.s3.cancelHeight)
		spendCh <- spendResult{tx: tx, err: err}
	}()

	go func() {
		timeoutCh <- bitcoin.WaitUntilHeight(raceCtx, s.btc, s.s3.cancelHeight+uint64(s.s3.punishTimelock))
	}()

	select {
	case res := <-spendCh:
		if res.err != nil {
			return 0, res.err
		}
		if res.tx.TxHash() == s.s3.txPunish.Txid() {
			// our own punish transaction from a previous run
			return BtcPunished, nil
		}
		return s.handleRefundSeen(res.tx)

	case err := <-timeoutCh:
		if err != nil {
			return 0, err
		}
		log.Infof("punish timelock expired without a refund")
		return BtcPunishable, nil
	}
}

// handleRefundSeen recovers s_b from the refund transaction's witness and
// sweeps the shared monero account.
func (s *Swap) handleRefundSeen(tx *wire.MsgTx) (State, error) {
	sigs, err := bitcoin.ExtractSignatures(tx)
	if err != nil {
		return 0, err
	}

	var secret [32]byte
	var found bool
	for _, sig := range sigs {
		recovered, err := s.s3.encRefundA.RecoverSecret(sig)
		if err == nil {
			secret = recovered
			found = true
			break
		}
	}
	if !found {
		return 0, errSecretNotInWitness
	}

	log.Infof("bitcoin refunded by counterparty, recovered their key share")

	skB, err := mcrypto.NewPrivateSpendKey(common.Reverse(secret[:]))
	if err != nil {
		return 0, err
	}

	kpAB := mcrypto.NewPrivateKeyPair(
		mcrypto.SumPrivateSpendKeys(skB, s.s3.kp.SpendKey()),
		s.s3.sharedViewKey(),
	)
	s.spendKey = kpAB.SpendKey().Bytes()

	addr, err := monero.CreateMoneroWallet("alice-swap-wallet", s.cfg.Env, s.xmr, kpAB)
	if err != nil {
		return 0, err
	}

	ownAddress, err := s.xmr.GetAddress(0)
	if err != nil {
		log.Warnf("could not fetch primary address, leaving funds in recovered wallet %s: %s", addr, err)
		return XmrRefunded, nil
	}

	if _, err := s.xmr.SweepAll(mcrypto.Address(ownAddress.Address), 0); err != nil {
		log.Warnf("sweep of recovered wallet failed, keys are persisted: %s", err)
	}

	return XmrRefunded, nil
}

// stepBtcPunishable publishes the punish transaction.
func (s *Swap) stepBtcPunishable(ctx context.Context) (State, error) {
	sigA := s.s3.a.Sign(s.s3.txPunish.Digest())
	raw, err := s.s3.txPunish.Complete(sigA, s.s3.sigPunishB)
	if err != nil {
		return 0, err
	}

	if _, err := s.btc.Broadcast(ctx, raw); err != nil {
		return 0, err
	}

	if err := bitcoin.WaitForConfirmations(ctx, s.btc, s.s3.txPunish.Txid(), 1); err != nil {
		return 0, err
	}

	log.Infof("punished counterparty: %s", s.s3.txPunish.Txid())
	return BtcPunished, nil
}

// Cancel force-publishes the pre-signed cancel transaction without waiting
// for the timelock race, then continues the swap from BtcCancelled. The
// operator invokes this through the CLI.
func (s *Swap) Cancel(ctx context.Context) (State, error) {
	if s.s3 == nil {
		return s.state, errNilSwapState
	}

	switch s.state {
	case BtcRedeemed, XmrRefunded, BtcPunished, SafelyAborted:
		return s.state, nil
	default:
	}

	s.state = BtcCancelled
	if err := s.persist(); err != nil {
		return s.state, err
	}

	return s.Run(ctx)
}

func (s *Swap) finish() {
	if s.info == nil {
		return
	}

	var status pswap.Status
	switch s.state {
	case BtcRedeemed:
		status = pswap.Success
		str := color.New(color.Bold).Sprintf("**swap completed successfully! id=%s**", s.id)
		log.Info(str)
	case XmrRefunded:
		status = pswap.Refunded
		str := color.New(color.Bold).Sprintf("**swap refunded successfully: id=%s**", s.id)
		log.Info(str)
	case BtcPunished:
		status = pswap.Punished
	case SafelyAborted:
		status = pswap.Aborted
	default:
		return
	}

	if s.manager != nil {
		if err := s.manager.CompleteOngoingSwap(s.id, status); err != nil {
			log.Warnf("failed to mark swap %s as completed: %s", s.id, err)
		}
	}
}
