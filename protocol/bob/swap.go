package bob

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
// persisted before the loop re-enters.
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
		s2, err := s.negotiate(ctx)
		if err != nil {
			return 0, err
		}
		s.s2 = s2
		return Negotiated, nil

	case Negotiated:
		return s.stepNegotiated(ctx)
	case BtcLocked:
		return s.stepBtcLocked(ctx)
	case XmrLocked:
		return s.stepXmrLocked(ctx)
	case EncSigSent:
		return s.stepEncSigSent(ctx)
	case BtcRedeemed:
		return s.stepBtcRedeemed(ctx)
	case Cancelled:
		return s.stepCancelled(ctx)
	default:
		return 0, fmt.Errorf("no transition out of state %s", s.state)
	}
}

// stepNegotiated broadcasts the lock transaction and waits for it to
// confirm. Re-broadcasting a transaction the network already knows is a
// no-op, so this step is safe to repeat.
func (s *Swap) stepNegotiated(ctx context.Context) (State, error) {
	if s.s2 == nil {
		return 0, errNilSwapState
	}

	if _, err := s.btc.Broadcast(ctx, s.s2.txLockRaw); err != nil {
		return 0, err
	}

	err := bitcoin.WaitForConfirmations(ctx, s.btc, s.s2.txLock.Txid(), s.cfg.ConfirmationsBTC)
	if err != nil {
		return 0, err
	}

	height, err := s.btc.BlockHeight(ctx)
	if err != nil {
		return 0, err
	}
	s.s2.lockHeight = height

	log.Infof("bitcoin locked: %s at height %d", s.s2.txLock.Txid(), height)
	return BtcLocked, nil
}

// stepBtcLocked waits for Alice's transfer proof and verifies the monero
// lock, racing against the cancel timelock.
func (s *Swap) stepBtcLocked(ctx context.Context) (State, error) {
	if next, ok, err := s.adoptChainState(ctx); err != nil || ok {
		return next, err
	}

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	proofCh := make(chan *message.TransferProof, 1)
	errCh := make(chan error, 1)
	timeoutCh := make(chan error, 1)

	go func() {
		for {
			msg, err := s.handle.Next(raceCtx)
			if err != nil {
				errCh <- err
				return
			}

			m, ok := msg.(*message.TransferProof)
			if !ok {
				log.Warnf("ignoring unexpected message %s while waiting for transfer proof", msg.Type())
				continue
			}
			proofCh <- m
			return
		}
	}()

	go func() {
		timeoutCh <- bitcoin.WaitUntilHeight(raceCtx, s.btc, s.s2.lockHeight+uint64(s.s2.cancelTimelock))
	}()

	select {
	case proof := <-proofCh:
		log.Infof("got transfer proof, verifying lock at %s", s.s2.sharedAddress(s.cfg.Env))
		err := monero.WatchForLockedFunds(
			ctx, s.xmr, s.s2.sharedViewKey(), s.s2.sharedAddress(s.cfg.Env),
			s.s2.xmr, s.cfg.ConfirmationsXMR,
		)
		if err != nil {
			return 0, err
		}
		_ = proof // the view wallet, not the proof, is what we trust
		return XmrLocked, nil

	case err := <-errCh:
		log.Warnf("waiting for transfer proof failed: %s, falling back to timelock", err)
		if err := bitcoin.WaitUntilHeight(ctx, s.btc, s.s2.lockHeight+uint64(s.s2.cancelTimelock)); err != nil {
			return 0, err
		}
		return s.publishCancel(ctx)

	case err := <-timeoutCh:
		if err != nil {
			return 0, err
		}
		log.Infof("cancel timelock expired before monero was locked")
		return s.publishCancel(ctx)
	}
}

// stepXmrLocked sends the encrypted signature over the redeem transaction,
// handing Alice the ability to take the bitcoin and, with it, reveal s_a.
func (s *Swap) stepXmrLocked(ctx context.Context) (State, error) {
	if s.encSig == nil {
		encSig, err := secp256k1.EncSign(s.s2.b, s.s2.txRedeem.Digest(), s.s2.saBitcoin)
		if err != nil {
			return 0, err
		}
		s.encSig = encSig
	}

	msg := &message.EncryptedSignature{Ciphertext: s.encSig.Bytes()}
	if err := s.handle.SendWithAck(ctx, msg); err != nil {
		// delivery failure is not fatal: if Alice never got it she cannot
		// redeem, and the cancel path returns our bitcoin
		log.Warnf("encrypted signature not acknowledged: %s", err)
	}

	return EncSigSent, nil
}

// stepEncSigSent watches for the lock output to be spent, racing against the
// cancel timelock.
func (s *Swap) stepEncSigSent(ctx context.Context) (State, error) {
	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type spendResult struct {
		tx  *wire.MsgTx
		err error
	}

	spendCh := make(chan spendResult, 1)
	timeoutCh := make(chan error, 1)

	go func() {
		tx, err := bitcoin.WaitForSpend(raceCtx, s.btc, s.s2.txLock.OutPoint(), s.s2.lockHeight)
		spendCh <- spendResult{tx: tx, err: err}
	}()

	go func() {
		timeoutCh <- bitcoin.WaitUntilHeight(raceCtx, s.btc, s.s2.lockHeight+uint64(s.s2.cancelTimelock))
	}()

	select {
	case res := <-spendCh:
		if res.err != nil {
			return 0, res.err
		}

		if res.tx.TxHash() == s.s2.txCancel.Txid() {
			log.Infof("lock output spent by the cancel transaction")
			return Cancelled, nil
		}

		return s.handleRedeemSeen(res.tx)

	case err := <-timeoutCh:
		if err != nil {
			return 0, err
		}
		log.Infof("cancel timelock expired without a redeem")
		return s.publishCancel(ctx)
	}
}

// handleRedeemSeen recovers s_a from the redeem transaction's witness.
func (s *Swap) handleRedeemSeen(tx *wire.MsgTx) (State, error) {
	if s.encSig == nil {
		return 0, errNoEncSignature
	}

	sigs, err := bitcoin.ExtractSignatures(tx)
	if err != nil {
		return 0, err
	}

	for _, sig := range sigs {
		secret, err := s.encSig.RecoverSecret(sig)
		if err == nil {
			s.saSecret = secret[:]
			log.Infof("bitcoin redeemed by counterparty, recovered their key share")
			return BtcRedeemed, nil
		}
	}

	return 0, errSecretNotInWitness
}

// stepBtcRedeemed combines s_a with s_b and sweeps the shared account.
func (s *Swap) stepBtcRedeemed(_ context.Context) (State, error) {
	skA, err := mcrypto.NewPrivateSpendKey(common.Reverse(s.saSecret))
	if err != nil {
		return 0, err
	}

	kpAB := mcrypto.NewPrivateKeyPair(
		mcrypto.SumPrivateSpendKeys(skA, s.s2.kp.SpendKey()),
		s.s2.sharedViewKey(),
	)

	addr, err := monero.CreateMoneroWallet("bob-swap-wallet", s.cfg.Env, s.xmr, kpAB)
	if err != nil {
		return 0, err
	}

	ownAddress, err := s.xmr.GetAddress(0)
	if err != nil {
		log.Warnf("could not fetch primary address, leaving funds in claimed wallet %s: %s", addr, err)
		return XmrRedeemed, nil
	}

	if _, err := s.xmr.SweepAll(mcrypto.Address(ownAddress.Address), 0); err != nil {
		log.Warnf("sweep of claimed wallet failed, keys are persisted: %s", err)
	}

	log.Infof("redeemed monero from shared address %s", addr)
	return XmrRedeemed, nil
}

// stepCancelled refunds within the punish window, or concedes punishment.
func (s *Swap) stepCancelled(ctx context.Context) (State, error) {
	if err := bitcoin.WaitForConfirmations(ctx, s.btc, s.s2.txCancel.Txid(), 1); err != nil {
		return 0, err
	}

	if s.s2.cancelHeight == 0 {
		height, err := s.btc.BlockHeight(ctx)
		if err != nil {
			return 0, err
		}
		s.s2.cancelHeight = height
	}

	tip, err := s.btc.BlockHeight(ctx)
	if err != nil {
		return 0, err
	}

	if tip >= s.s2.cancelHeight+uint64(s.s2.punishTimelock) {
		// the punish window has opened; if Alice already punished there is
		// nothing left to spend
		spender, found, err := s.btc.FindSpend(ctx, s.s2.txCancel.OutPoint(), s.s2.cancelHeight)
		if err != nil {
			return 0, err
		}
		if found && spender.TxHash() == s.s2.txPunish.Txid() {
			log.Warnf("refund window missed; counterparty punished us")
			return Punished, nil
		}
	}

	sigA, err := s.s2.encRefundA.Decrypt(s.s2.secret)
	if err != nil {
		return 0, err
	}
	sigB := s.s2.b.Sign(s.s2.txRefund.Digest())

	raw, err := s.s2.txRefund.Complete(sigA, sigB)
	if err != nil {
		return 0, err
	}

	if _, err := s.btc.Broadcast(ctx, raw); err != nil {
		// losing the race to the punish transaction surfaces here
		spender, found, ferr := s.btc.FindSpend(ctx, s.s2.txCancel.OutPoint(), s.s2.cancelHeight)
		if ferr == nil && found && spender.TxHash() == s.s2.txPunish.Txid() {
			log.Warnf("refund window missed; counterparty punished us")
			return Punished, nil
		}
		return 0, err
	}

	if err := bitcoin.WaitForConfirmations(ctx, s.btc, s.s2.txRefund.Txid(), 1); err != nil {
		return 0, err
	}

	log.Infof("refunded bitcoin: %s", s.s2.txRefund.Txid())
	return BtcRefunded, nil
}

// publishCancel publishes the pre-signed cancel transaction; it tolerates
// the transaction already being on chain.
func (s *Swap) publishCancel(ctx context.Context) (State, error) {
	sigB := s.s2.b.Sign(s.s2.txCancel.Digest())
	raw, err := s.s2.txCancel.Complete(s.s2.sigCancelA, sigB)
	if err != nil {
		return 0, err
	}

	if _, err := s.btc.Broadcast(ctx, raw); err != nil {
		return 0, err
	}

	return Cancelled, nil
}

// adoptChainState checks whether the chain is already further along than the
// database said and adopts its view.
func (s *Swap) adoptChainState(ctx context.Context) (State, bool, error) {
	confs, err := s.btc.TxConfirmations(ctx, s.s2.txCancel.Txid())
	if err == nil && confs > 0 {
		log.Warnf("cancel transaction already on chain, adopting chain state")
		return Cancelled, true, nil
	}
	return 0, false, nil
}

// Cancel force-publishes the pre-signed cancel transaction without waiting
// for the timelock race, then continues the swap from Cancelled. The
// operator invokes this through the CLI.
func (s *Swap) Cancel(ctx context.Context) (State, error) {
	if s.s2 == nil {
		return s.state, errNilSwapState
	}

	switch s.state {
	case BtcRefunded, XmrRedeemed, Punished, SafelyAborted:
		return s.state, nil
	default:
	}

	next, err := s.publishCancel(ctx)
	if err != nil {
		return s.state, err
	}

	s.state = next
	if err := s.persist(); err != nil {
		return s.state, err
	}

	return s.Run(ctx)
}

// Refund cancels if necessary and then drives the swap until the bitcoin is
// refunded (or a terminal state is reached first).
func (s *Swap) Refund(ctx context.Context) (State, error) {
	if s.s2 == nil {
		return s.state, errNilSwapState
	}

	if s.state != Cancelled {
		return s.Cancel(ctx)
	}
	return s.Run(ctx)
}

func (s *Swap) finish() {
	if s.info == nil {
		return
	}

	var status pswap.Status
	switch s.state {
	case XmrRedeemed:
		status = pswap.Success
		str := color.New(color.Bold).Sprintf("**swap completed successfully! id=%s**", s.id)
		log.Info(str)
	case BtcRefunded:
		status = pswap.Refunded
		str := color.New(color.Bold).Sprintf("**swap refunded successfully: id=%s**", s.id)
		log.Info(str)
	case Punished:
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
