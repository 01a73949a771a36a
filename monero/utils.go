package monero

import (
	"context"
	"fmt"
	"time"

	"github.com/jamen-marz/xmr-btc-swap/common"
	mcrypto "github.com/jamen-marz/xmr-btc-swap/crypto/monero"
)

// blockSleepDuration is the duration that we sleep between checks for new blocks.
var blockSleepDuration = time.Second * 10

// WaitForBlocks waits for `count` new blocks to arrive.
// It returns the height of the chain.
func WaitForBlocks(ctx context.Context, c Client, count uint64) (uint64, error) {
	startHeight, err := c.GetHeight()
	if err != nil {
		return 0, fmt.Errorf("failed to get height: %w", err)
	}
	prevHeight := startHeight - 1 // prevHeight is only for logging
	endHeight := startHeight + count

	for {
		height, err := c.GetHeight()
		if err != nil {
			return 0, err
		}

		if height >= endHeight {
			if err := c.Refresh(); err != nil {
				return 0, err
			}
			return height, nil
		}

		if height > prevHeight {
			log.Debugf("waiting for next block, current height %d (target height %d)", height, endHeight)
			prevHeight = height
		}

		if err := common.SleepWithContext(ctx, blockSleepDuration); err != nil {
			return 0, err
		}
	}
}

// WatchForLockedFunds opens a view-only wallet over the shared address and
// blocks until it holds at least `amount` with `conf` additional blocks on
// top of the transfer. It never reports funds that aren't actually visible
// to the view key.
func WatchForLockedFunds(ctx context.Context, c Client, vk *mcrypto.PrivateViewKey,
	address mcrypto.Address, amount common.MoneroAmount, conf uint64) error {
	c.LockClient()
	defer c.UnlockClient()

	walletName := fmt.Sprintf("swap-view-%s", address[:8])
	if err := c.GenerateViewOnlyWalletFromKeys(vk, address, walletName, ""); err != nil {
		return fmt.Errorf("failed to generate view-only wallet: %w", err)
	}

	if err := c.OpenWallet(walletName, ""); err != nil {
		return err
	}

	for {
		if err := c.Refresh(); err != nil {
			return err
		}

		balance, err := c.GetBalance(0)
		if err != nil {
			return err
		}

		if balance.Balance >= amount.Uint64() {
			break
		}

		if err := common.SleepWithContext(ctx, blockSleepDuration); err != nil {
			return err
		}
	}

	log.Infof("lock transfer seen at shared address %s, waiting for %d confirmations", address, conf)

	if _, err := WaitForBlocks(ctx, c, conf); err != nil {
		return err
	}

	// re-check after the confirmation window in case of a reorg
	balance, err := c.GetBalance(0)
	if err != nil {
		return err
	}
	if balance.Balance < amount.Uint64() {
		return fmt.Errorf("shared address balance dropped below expected amount: got %d, expected %s",
			balance.Balance, amount)
	}

	return nil
}
