// Package tests contains end-to-end swap scenarios against regtest bitcoind,
// monerod, and two monero-wallet-rpc instances. They are skipped unless
// TESTS=integration is set.
package tests

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/btcsuite/btcd/rpcclient"
	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/require"

	"github.com/jamen-marz/xmr-btc-swap/bitcoin"
	"github.com/jamen-marz/xmr-btc-swap/common"
	"github.com/jamen-marz/xmr-btc-swap/db"
	"github.com/jamen-marz/xmr-btc-swap/monero"
	"github.com/jamen-marz/xmr-btc-swap/net"
	"github.com/jamen-marz/xmr-btc-swap/protocol/alice"
	"github.com/jamen-marz/xmr-btc-swap/protocol/bob"
	pswap "github.com/jamen-marz/xmr-btc-swap/protocol/swap"
)

const (
	testsEnv        = "TESTS"
	integrationMode = "integration"

	btcToSwap = common.BitcoinAmount(1_000_000)
	xmrToSwap = common.MoneroAmount(1_000_000_000_000)

	swapTimeout = time.Minute * 5
)

func TestMain(m *testing.M) {
	if os.Getenv(testsEnv) != integrationMode {
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

type party struct {
	cfg  common.Config
	btc  bitcoin.Wallet
	xmr  monero.Client
	db   *db.Database
	sm   *pswap.Manager
	host *net.Host
}

func newParty(t *testing.T, ctx context.Context, btcWallet, xmrEndpoint string) *party {
	cfg := common.DevelopmentConfig()

	w, err := bitcoin.NewWallet(bitcoin.Config{
		Endpoint: envOr("BITCOIN_ENDPOINT", "127.0.0.1:18443") + "/wallet/" + btcWallet,
		User:     envOr("BITCOIN_USER", "swap"),
		Password: envOr("BITCOIN_PASS", "swap"),
		Net:      cfg.BitcoinNet,
	})
	require.NoError(t, err)

	d, err := db.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	host, err := net.NewHost(&net.Config{
		Ctx:      ctx,
		ListenIP: "127.0.0.1",
		Port:     0,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = host.Stop() })

	return &party{
		cfg:  cfg,
		btc:  w,
		xmr:  monero.NewClient(xmrEndpoint),
		db:   d,
		sm:   pswap.NewManager(),
		host: host,
	}
}

// mineBitcoin keeps regtest blocks coming so confirmations and timelocks advance.
func mineBitcoin(t *testing.T, ctx context.Context) {
	client, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         envOr("BITCOIN_ENDPOINT", "127.0.0.1:18443") + "/wallet/miner",
		User:         envOr("BITCOIN_USER", "swap"),
		Pass:         envOr("BITCOIN_PASS", "swap"),
		HTTPPostMode: true,
		DisableTLS:   true,
	}, nil)
	require.NoError(t, err)

	addr, err := client.GetNewAddress("")
	require.NoError(t, err)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
				_, _ = client.GenerateToAddress(1, addr, nil)
			}
		}
	}()
}

// mineMonero keeps regtest monero blocks coming.
func mineMonero(t *testing.T, ctx context.Context, wallet monero.Client) {
	daemon := monero.NewDaemonClient(envOr("MONERO_DAEMON", common.DefaultMoneroDaemonEndpoint))
	addr, err := wallet.GetAddress(0)
	require.NoError(t, err)

	// initial funds for the monero holder
	require.NoError(t, daemon.GenerateBlocks(addr.Address, 121))

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
				_ = daemon.GenerateBlocks(addr.Address, 1)
				_ = wallet.Refresh()
			}
		}
	}()
}

func addrInfo(t *testing.T, h *net.Host) peer.AddrInfo {
	addrs := h.Addresses()
	require.NotEmpty(t, addrs)
	maddr, err := ma.NewMultiaddr(addrs[0])
	require.NoError(t, err)
	info, err := peer.AddrInfoFromP2pAddr(maddr)
	require.NoError(t, err)
	return *info
}

type scenario struct {
	t     *testing.T
	ctx   context.Context
	al    *party
	bo    *party
	alice *alice.Swap
	bob   *bob.Swap

	aliceDone chan aliceResult
}

type aliceResult struct {
	state alice.State
	err   error
}

// startScenario wires both parties together and starts Alice's driver.
func startScenario(t *testing.T, ctx context.Context) *scenario {
	al := newParty(t, ctx, "alice", envOr("ALICE_MONERO", common.DefaultAliceMoneroEndpoint))
	bo := newParty(t, ctx, "bob", envOr("BOB_MONERO", common.DefaultBobMoneroEndpoint))

	mineBitcoin(t, ctx)
	mineMonero(t, ctx, al.xmr)

	sc := &scenario{
		t:         t,
		ctx:       ctx,
		al:        al,
		bo:        bo,
		aliceDone: make(chan aliceResult, 1),
	}

	al.host.Start(func(handle *net.EventLoop) {
		s, err := alice.NewSwap(&alice.Config{
			Env:         al.cfg,
			Bitcoin:     al.btc,
			Monero:      al.xmr,
			EventLoop:   handle,
			Database:    al.db,
			SwapManager: al.sm,
			SwapID:      uuid.New(),
		})
		if err != nil {
			sc.aliceDone <- aliceResult{err: err}
			return
		}
		sc.alice = s

		state, err := s.Run(ctx)
		sc.aliceDone <- aliceResult{state: state, err: err}
	})
	bo.host.Start(nil)

	handle, err := bo.host.Initiate(ctx, addrInfo(t, al.host))
	require.NoError(t, err)

	s, err := bob.NewSwap(&bob.Config{
		Env:         bo.cfg,
		Bitcoin:     bo.btc,
		Monero:      bo.xmr,
		EventLoop:   handle,
		Database:    bo.db,
		SwapManager: bo.sm,
		SwapID:      uuid.New(),
		BTC:         btcToSwap,
		XMR:         xmrToSwap,
	})
	require.NoError(t, err)
	sc.bob = s

	return sc
}

func (sc *scenario) waitForAlice() aliceResult {
	select {
	case res := <-sc.aliceDone:
		return res
	case <-sc.ctx.Done():
		sc.t.Fatal("timed out waiting for alice to finish")
		return aliceResult{}
	}
}

func (sc *scenario) resumeBob() *bob.Swap {
	s, err := bob.NewSwapFromDatabase(&bob.Config{
		Env:         sc.bo.cfg,
		Bitcoin:     sc.bo.btc,
		Monero:      sc.bo.xmr,
		EventLoop:   net.DisconnectedHandle{},
		Database:    sc.bo.db,
		SwapManager: pswap.NewManager(),
		SwapID:      sc.bob.ID(),
	})
	require.NoError(sc.t, err)
	return s
}

// TestHappyPath is the straight-through swap: Bob ends with the monero,
// Alice with the bitcoin minus the transaction fee.
func TestHappyPath(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), swapTimeout)
	defer cancel()

	sc := startScenario(t, ctx)

	aliceBalanceBefore, err := sc.al.btc.Balance()
	require.NoError(t, err)

	final, err := sc.bob.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, bob.XmrRedeemed, final)

	res := sc.waitForAlice()
	require.NoError(t, res.err)
	require.Equal(t, alice.BtcRedeemed, res.state)

	aliceBalanceAfter, err := sc.al.btc.Balance()
	require.NoError(t, err)
	require.Equal(t,
		uint64(btcToSwap.Sub(common.TxFee)),
		uint64(aliceBalanceAfter.Sub(aliceBalanceBefore)),
	)
}

// TestBobRestartAfterEncSigSent drops Bob's driver right after the encrypted
// signature is sent and resumes from the database.
func TestBobRestartAfterEncSigSent(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), swapTimeout)
	defer cancel()

	sc := startScenario(t, ctx)

	state, err := sc.bob.RunUntil(ctx, bob.IsEncSigSent)
	require.NoError(t, err)
	require.Equal(t, bob.EncSigSent, state)

	resumed := sc.resumeBob()
	require.Equal(t, bob.EncSigSent, resumed.State())

	final, err := resumed.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, bob.XmrRedeemed, final)

	res := sc.waitForAlice()
	require.NoError(t, res.err)
	require.Equal(t, alice.BtcRedeemed, res.state)
}

// TestBobRestartAfterXmrLocked drops Bob's driver after the monero lock is
// verified and resumes it without a peer; both sides must still reach a
// terminal state.
func TestBobRestartAfterXmrLocked(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), swapTimeout)
	defer cancel()

	sc := startScenario(t, ctx)

	state, err := sc.bob.RunUntil(ctx, bob.IsXmrLocked)
	require.NoError(t, err)
	require.Equal(t, bob.XmrLocked, state)

	// resuming with a dead stream: the encrypted signature cannot be
	// delivered, so this swap completes through the refund path instead
	resumed := sc.resumeBob()
	final, err := resumed.Run(ctx)
	require.NoError(t, err)
	require.Contains(t, []bob.State{bob.XmrRedeemed, bob.BtcRefunded}, final)

	res := sc.waitForAlice()
	require.NoError(t, res.err)
	require.Contains(t, []alice.State{alice.BtcRedeemed, alice.XmrRefunded}, res.state)
}

// TestBobGoesSilentAfterBtcLock kills Bob's stream after the bitcoin lock;
// both sides must recover through the cancel/refund ladder.
func TestBobGoesSilentAfterBtcLock(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), swapTimeout)
	defer cancel()

	sc := startScenario(t, ctx)

	state, err := sc.bob.RunUntil(ctx, func(s bob.State) bool { return s == bob.BtcLocked })
	require.NoError(t, err)
	require.Equal(t, bob.BtcLocked, state)

	// Bob continues with no peer: he waits out the cancel timelock,
	// cancels, and refunds within the punish window
	resumed := sc.resumeBob()
	final, err := resumed.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, bob.BtcRefunded, final)

	// Alice observes the refund and recovers the monero via the adaptor
	res := sc.waitForAlice()
	require.NoError(t, res.err)
	require.Equal(t, alice.XmrRefunded, res.state)
}

