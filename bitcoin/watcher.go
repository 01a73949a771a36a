package bitcoin

import (
	"context"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/cenkalti/backoff/v4"

	"github.com/jamen-marz/xmr-btc-swap/common"
)

// blockPollInterval is the duration between chain polls. Block targets are
// minutes apart on mainnet; polling faster only matters on regtest.
var blockPollInterval = time.Second

const maxRPCRetries = 10

// WaitForConfirmations blocks until txid has at least n confirmations. It is
// idempotent: calling it on an already-deep transaction returns immediately.
func WaitForConfirmations(ctx context.Context, chain Chain, txid chainhash.Hash, n uint64) error {
	for {
		confs, err := withRetries(ctx, func() (uint64, error) {
			return chain.TxConfirmations(ctx, txid)
		})
		if err != nil {
			return err
		}

		if confs >= n {
			return nil
		}

		if err := common.SleepWithContext(ctx, blockPollInterval); err != nil {
			return err
		}
	}
}

// WaitForSpend blocks until a transaction spending the given outpoint
// confirms, scanning blocks from fromHeight, and returns the spender.
func WaitForSpend(ctx context.Context, chain Chain, op wire.OutPoint, fromHeight uint64) (*wire.MsgTx, error) {
	for {
		res, err := withRetries(ctx, func() (txFound, error) {
			tx, found, err := chain.FindSpend(ctx, op, fromHeight)
			return txFound{tx, found}, err
		})
		if err != nil {
			return nil, err
		}

		if res.found {
			return res.tx, nil
		}

		if err := common.SleepWithContext(ctx, blockPollInterval); err != nil {
			return nil, err
		}
	}
}

// WaitUntilHeight blocks until the chain reaches the given height.
func WaitUntilHeight(ctx context.Context, chain Chain, height uint64) error {
	for {
		tip, err := withRetries(ctx, func() (uint64, error) {
			return chain.BlockHeight(ctx)
		})
		if err != nil {
			return err
		}

		if tip >= height {
			return nil
		}

		if err := common.SleepWithContext(ctx, blockPollInterval); err != nil {
			return err
		}
	}
}

type txFound struct {
	tx    *wire.MsgTx
	found bool
}

// withRetries runs the call with bounded exponential backoff, so transient
// node errors don't surface into the state machine. Liveness is bounded by
// timelocks, not by retries; once the retries exhaust the error is returned.
func withRetries[T any](ctx context.Context, call func() (T, error)) (T, error) {
	var out T
	op := func() error {
		var err error
		out, err = call()
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRPCRetries), ctx,
	)
	err := backoff.Retry(op, policy)
	return out, err
}
