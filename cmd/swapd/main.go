// Package main provides the entrypoint of swapd, an executable for running
// trustless BTC/XMR atomic swaps from the command line.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/urfave/cli/v2"

	"github.com/jamen-marz/xmr-btc-swap/bitcoin"
	"github.com/jamen-marz/xmr-btc-swap/common"
	"github.com/jamen-marz/xmr-btc-swap/db"
	"github.com/jamen-marz/xmr-btc-swap/monero"
	"github.com/jamen-marz/xmr-btc-swap/net"
	"github.com/jamen-marz/xmr-btc-swap/protocol/alice"
	"github.com/jamen-marz/xmr-btc-swap/protocol/bob"
	pswap "github.com/jamen-marz/xmr-btc-swap/protocol/swap"
	recovery "github.com/jamen-marz/xmr-btc-swap/recover"
	"github.com/jamen-marz/xmr-btc-swap/rpc"
)

var log = logging.Logger("cmd")

const (
	flagEnv             = "env"
	flagDataDir         = "data-dir"
	flagMoneroEndpoint  = "monero-endpoint"
	flagBitcoinEndpoint = "bitcoin-endpoint"
	flagBitcoinUser     = "bitcoin-user"
	flagBitcoinPass     = "bitcoin-pass"
	flagLibp2pPort      = "libp2p-port"
	flagRPCPort         = "rpc-port"
	flagPeer            = "peer"
	flagSwapID          = "swap-id"
	flagBTC             = "btc"
	flagXMR             = "xmr"
)

func main() {
	if err := app().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func app() *cli.App {
	commonFlags := []cli.Flag{
		&cli.StringFlag{
			Name:  flagEnv,
			Usage: "Environment to run in: one of [mainnet, stagenet, dev]",
			Value: "dev",
		},
		&cli.StringFlag{
			Name:  flagDataDir,
			Usage: "Directory for the swap database",
			Value: defaultDataDir(),
		},
		&cli.StringFlag{
			Name:  flagMoneroEndpoint,
			Usage: "monero-wallet-rpc endpoint",
			Value: common.DefaultBobMoneroEndpoint,
		},
		&cli.StringFlag{
			Name:  flagBitcoinEndpoint,
			Usage: "bitcoind RPC endpoint",
			Value: common.DefaultBitcoinEndpoint,
		},
		&cli.StringFlag{
			Name:  flagBitcoinUser,
			Usage: "bitcoind RPC username",
		},
		&cli.StringFlag{
			Name:  flagBitcoinPass,
			Usage: "bitcoind RPC password",
		},
		&cli.UintFlag{
			Name:  flagLibp2pPort,
			Usage: "libp2p listening port",
			Value: common.DefaultLibp2pPort,
		},
		&cli.UintFlag{
			Name:  flagRPCPort,
			Usage: "websocket RPC listening port; 0 disables the server",
			Value: 0,
		},
	}

	return &cli.App{
		Name:  "swapd",
		Usage: "Daemon for trustless BTC/XMR atomic swaps",
		Commands: []*cli.Command{
			{
				Name:   "buy-xmr",
				Usage:  "Swap bitcoin for a peer's monero",
				Action: runBuyXMR,
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:     flagPeer,
						Usage:    "Multiaddress of the selling peer, including /p2p/ suffix",
						Required: true,
					},
					&cli.Float64Flag{
						Name:     flagBTC,
						Usage:    "Amount of BTC to swap",
						Required: true,
					},
					&cli.Float64Flag{
						Name:     flagXMR,
						Usage:    "Amount of XMR to receive",
						Required: true,
					},
				}, commonFlags...),
			},
			{
				Name:   "sell-xmr",
				Usage:  "Serve a single swap selling monero for bitcoin",
				Action: runSellXMR,
				Flags:  commonFlags,
			},
			{
				Name:   "resume",
				Usage:  "Resume a swap from its persisted state",
				Action: runResume,
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:     flagSwapID,
						Usage:    "UUID of the swap to resume",
						Required: true,
					},
					&cli.StringFlag{
						Name:  flagPeer,
						Usage: "Multiaddress of the counterparty, if reachable",
					},
				}, commonFlags...),
			},
			{
				Name:   "history",
				Usage:  "List all swaps and their latest states",
				Action: runHistory,
				Flags:  commonFlags,
			},
			{
				Name:   "cancel",
				Usage:  "Force-publish the cancel transaction of a swap",
				Action: runCancel,
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:     flagSwapID,
						Usage:    "UUID of the swap to cancel",
						Required: true,
					},
				}, commonFlags...),
			},
			{
				Name:   "recover",
				Usage:  "Rebuild the shared monero wallet from revealed secrets",
				Action: runRecover,
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:  "alice-secret",
						Usage: "Alice's secret scalar, hex",
					},
					&cli.StringFlag{
						Name:  "bob-secret",
						Usage: "Bob's secret scalar, hex",
					},
					&cli.StringFlag{
						Name:  "spend-key",
						Usage: "Combined spend key, hex (alternative to the two secrets)",
					},
					&cli.StringFlag{
						Name:  "view-key",
						Usage: "Combined view key, hex (required with --spend-key)",
					},
				}, commonFlags...),
			},
			{
				Name:   "refund",
				Usage:  "Refund the bitcoin of a cancelled swap",
				Action: runRefund,
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:     flagSwapID,
						Usage:    "UUID of the swap to refund",
						Required: true,
					},
				}, commonFlags...),
			},
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".swapd"
	}
	return filepath.Join(home, ".swapd")
}

// daemon holds the collaborators every subcommand needs.
type daemon struct {
	ctx    context.Context
	cancel context.CancelFunc

	cfg    common.Config
	btc    bitcoin.Wallet
	xmr    monero.Client
	db     *db.Database
	sm     *pswap.Manager
	host   *net.Host
	rpcSrv *rpc.Server
}

func newDaemon(c *cli.Context, withNetwork bool) (*daemon, error) {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	var cfg common.Config
	switch c.String(flagEnv) {
	case "mainnet":
		cfg = common.MainnetConfig()
	case "stagenet":
		cfg = common.StagenetConfig()
	case "dev":
		cfg = common.DevelopmentConfig()
	default:
		cancel()
		return nil, fmt.Errorf("unknown environment %q", c.String(flagEnv))
	}

	btcWallet, err := bitcoin.NewWallet(bitcoin.Config{
		Endpoint: c.String(flagBitcoinEndpoint),
		User:     c.String(flagBitcoinUser),
		Password: c.String(flagBitcoinPass),
		Net:      cfg.BitcoinNet,
	})
	if err != nil {
		cancel()
		return nil, err
	}

	database, err := db.Open(filepath.Join(c.String(flagDataDir), "db"))
	if err != nil {
		cancel()
		return nil, err
	}

	d := &daemon{
		ctx:    ctx,
		cancel: cancel,
		cfg:    cfg,
		btc:    btcWallet,
		xmr:    monero.NewClient(c.String(flagMoneroEndpoint)),
		db:     database,
		sm:     pswap.NewManager(),
	}

	if withNetwork {
		host, err := net.NewHost(&net.Config{
			Ctx:      ctx,
			ListenIP: "0.0.0.0",
			Port:     uint16(c.Uint(flagLibp2pPort)),
		})
		if err != nil {
			d.close()
			return nil, err
		}
		d.host = host
	}

	if port := c.Uint(flagRPCPort); port != 0 {
		d.rpcSrv = rpc.NewServer(&rpc.Config{
			Ctx:         ctx,
			Port:        uint16(port),
			SwapManager: d.sm,
			Database:    database,
		})
		go func() {
			if err := d.rpcSrv.Start(); err != nil {
				log.Errorf("rpc server exited: %s", err)
			}
		}()
	}

	return d, nil
}

func (d *daemon) close() {
	if d.rpcSrv != nil {
		_ = d.rpcSrv.Stop()
	}
	if d.host != nil {
		_ = d.host.Stop()
	}
	_ = d.db.Close()
	d.cancel()
}

// exitForState maps a terminal state tag onto the process exit code: swaps
// that end with our funds safe exit 0.
func exitForState(tag string) error {
	switch tag {
	case "btc_redeemed", "xmr_redeemed", "xmr_refunded", "btc_refunded", "safely_aborted":
		return nil
	default:
		return cli.Exit(fmt.Sprintf("swap ended in state %s", tag), 1)
	}
}

func runBuyXMR(c *cli.Context) error {
	d, err := newDaemon(c, true)
	if err != nil {
		return err
	}
	defer d.close()

	d.host.Start(nil)

	addrInfo, err := parsePeer(c.String(flagPeer))
	if err != nil {
		return err
	}

	handle, err := d.host.Initiate(d.ctx, *addrInfo)
	if err != nil {
		return err
	}
	defer handle.Close()

	swapID := uuid.New()
	log.Infof("starting swap %s", swapID)

	s, err := bob.NewSwap(&bob.Config{
		Env:         d.cfg,
		Bitcoin:     d.btc,
		Monero:      d.xmr,
		EventLoop:   handle,
		Database:    d.db,
		SwapManager: d.sm,
		SwapID:      swapID,
		BTC:         common.BitcoinToSatoshi(c.Float64(flagBTC)),
		XMR:         common.MoneroToPiconero(c.Float64(flagXMR)),
	})
	if err != nil {
		return err
	}

	final, err := s.Run(d.ctx)
	if err != nil {
		return err
	}
	return exitForState(final.String())
}

func runSellXMR(c *cli.Context) error {
	d, err := newDaemon(c, true)
	if err != nil {
		return err
	}
	defer d.close()

	type result struct {
		state alice.State
		err   error
	}
	done := make(chan result, 1)

	d.host.Start(func(handle *net.EventLoop) {
		swapID := uuid.New()
		log.Infof("starting swap %s", swapID)

		s, err := alice.NewSwap(&alice.Config{
			Env:         d.cfg,
			Bitcoin:     d.btc,
			Monero:      d.xmr,
			EventLoop:   handle,
			Database:    d.db,
			SwapManager: d.sm,
			SwapID:      swapID,
		})
		if err != nil {
			done <- result{err: err}
			return
		}

		state, err := s.Run(d.ctx)
		done <- result{state: state, err: err}
	})

	for _, addr := range d.host.Addresses() {
		fmt.Println("listening on", addr)
	}

	select {
	case res := <-done:
		if res.err != nil {
			return res.err
		}
		return exitForState(res.state.String())
	case <-d.ctx.Done():
		return nil
	}
}

func runResume(c *cli.Context) error {
	d, err := newDaemon(c, c.String(flagPeer) != "")
	if err != nil {
		return err
	}
	defer d.close()

	swapID, err := uuid.Parse(c.String(flagSwapID))
	if err != nil {
		return fmt.Errorf("invalid swap ID: %w", err)
	}

	rec, err := d.db.GetState(swapID)
	if err != nil {
		return err
	}

	var handle net.Handle = net.DisconnectedHandle{}
	if d.host != nil {
		d.host.Start(nil)
		addrInfo, err := parsePeer(c.String(flagPeer))
		if err != nil {
			return err
		}
		eventLoop, err := d.host.Initiate(d.ctx, *addrInfo)
		if err != nil {
			log.Warnf("could not re-establish stream, continuing via the chain: %s", err)
		} else {
			handle = eventLoop
			defer eventLoop.Close()
		}
	}

	switch rec.Role {
	case db.RoleAlice:
		s, err := alice.NewSwapFromDatabase(&alice.Config{
			Env:         d.cfg,
			Bitcoin:     d.btc,
			Monero:      d.xmr,
			EventLoop:   handle,
			Database:    d.db,
			SwapManager: d.sm,
			SwapID:      swapID,
		})
		if err != nil {
			return err
		}
		final, err := s.Run(d.ctx)
		if err != nil {
			return err
		}
		return exitForState(final.String())

	case db.RoleBob:
		s, err := bob.NewSwapFromDatabase(&bob.Config{
			Env:         d.cfg,
			Bitcoin:     d.btc,
			Monero:      d.xmr,
			EventLoop:   handle,
			Database:    d.db,
			SwapManager: d.sm,
			SwapID:      swapID,
		})
		if err != nil {
			return err
		}
		final, err := s.Run(d.ctx)
		if err != nil {
			return err
		}
		return exitForState(final.String())

	default:
		return errors.New("corrupt swap record: unknown role")
	}
}

func runHistory(c *cli.Context) error {
	d, err := newDaemon(c, false)
	if err != nil {
		return err
	}
	defer d.close()

	recs, err := d.db.ListSwaps()
	if err != nil {
		return err
	}

	for _, rec := range recs {
		fmt.Printf("%s\trole=%s\tstate=%s\n", rec.ID, rec.Role, rec.StateTag)
	}
	return nil
}

func runCancel(c *cli.Context) error {
	d, err := newDaemon(c, false)
	if err != nil {
		return err
	}
	defer d.close()

	swapID, err := uuid.Parse(c.String(flagSwapID))
	if err != nil {
		return fmt.Errorf("invalid swap ID: %w", err)
	}

	rec, err := d.db.GetState(swapID)
	if err != nil {
		return err
	}

	switch rec.Role {
	case db.RoleAlice:
		s, err := alice.NewSwapFromDatabase(d.aliceConfig(swapID))
		if err != nil {
			return err
		}
		final, err := s.Cancel(d.ctx)
		if err != nil {
			return err
		}
		return exitForState(final.String())

	case db.RoleBob:
		s, err := bob.NewSwapFromDatabase(d.bobConfig(swapID))
		if err != nil {
			return err
		}
		final, err := s.Cancel(d.ctx)
		if err != nil {
			return err
		}
		return exitForState(final.String())

	default:
		return errors.New("corrupt swap record: unknown role")
	}
}

func runRecover(c *cli.Context) error {
	var env common.Environment
	switch c.String(flagEnv) {
	case "mainnet":
		env = common.Mainnet
	case "stagenet":
		env = common.Stagenet
	default:
		env = common.Development
	}

	r := recovery.NewRecoverer(env, c.String(flagMoneroEndpoint))

	if spendKey := c.String("spend-key"); spendKey != "" {
		addr, err := r.WalletFromSharedKeys(spendKey, c.String("view-key"))
		if err != nil {
			return err
		}
		fmt.Println("recovered wallet with address", addr)
		return nil
	}

	addr, err := r.WalletFromSecrets(c.String("alice-secret"), c.String("bob-secret"))
	if err != nil {
		return err
	}
	fmt.Println("recovered wallet with address", addr)
	return nil
}

func runRefund(c *cli.Context) error {
	d, err := newDaemon(c, false)
	if err != nil {
		return err
	}
	defer d.close()

	swapID, err := uuid.Parse(c.String(flagSwapID))
	if err != nil {
		return fmt.Errorf("invalid swap ID: %w", err)
	}

	rec, err := d.db.GetState(swapID)
	if err != nil {
		return err
	}

	if rec.Role != db.RoleBob {
		return errors.New("refund is a bitcoin-holder operation; the monero side recovers by observing the refund on chain")
	}

	s, err := bob.NewSwapFromDatabase(d.bobConfig(swapID))
	if err != nil {
		return err
	}

	final, err := s.Refund(d.ctx)
	if err != nil {
		return err
	}
	return exitForState(final.String())
}

func (d *daemon) aliceConfig(id uuid.UUID) *alice.Config {
	return &alice.Config{
		Env:         d.cfg,
		Bitcoin:     d.btc,
		Monero:      d.xmr,
		EventLoop:   net.DisconnectedHandle{},
		Database:    d.db,
		SwapManager: d.sm,
		SwapID:      id,
	}
}

func (d *daemon) bobConfig(id uuid.UUID) *bob.Config {
	return &bob.Config{
		Env:         d.cfg,
		Bitcoin:     d.btc,
		Monero:      d.xmr,
		EventLoop:   net.DisconnectedHandle{},
		Database:    d.db,
		SwapManager: d.sm,
		SwapID:      id,
	}
}

func parsePeer(s string) (*peer.AddrInfo, error) {
	maddr, err := ma.NewMultiaddr(s)
	if err != nil {
		return nil, fmt.Errorf("invalid peer multiaddress: %w", err)
	}
	return peer.AddrInfoFromP2pAddr(maddr)
}
