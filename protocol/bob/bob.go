// Package bob implements the bitcoin-holding role of the swap: Bob funds
// and broadcasts the lock transaction, reveals his adaptor signature once
// the monero is locked, and redeems the monero when Alice takes the bitcoin.
package bob

import (
	"encoding/json"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log"

	"github.com/jamen-marz/xmr-btc-swap/bitcoin"
	"github.com/jamen-marz/xmr-btc-swap/common"
	"github.com/jamen-marz/xmr-btc-swap/crypto/secp256k1"
	"github.com/jamen-marz/xmr-btc-swap/db"
	"github.com/jamen-marz/xmr-btc-swap/monero"
	"github.com/jamen-marz/xmr-btc-swap/net"
	pswap "github.com/jamen-marz/xmr-btc-swap/protocol/swap"
)

var log = logging.Logger("bob")

// Swap drives one swap in the role of Bob. It is owned by exactly one
// goroutine; all chain and network calls happen from its Run loop.
type Swap struct {
	cfg common.Config

	btc    bitcoin.Wallet
	xmr    monero.Client
	handle net.Handle
	db     *db.Database

	id      uuid.UUID
	info    *pswap.Info
	manager *pswap.Manager

	// amounts of a fresh swap; carried into State2 by the handshake
	btcAmount common.BitcoinAmount
	xmrAmount common.MoneroAmount

	state    State
	s2       *State2
	encSig   *secp256k1.EncSignature
	saSecret []byte // recovered s_a, set at BtcRedeemed
}

// Config bundles the collaborators a Swap needs.
type Config struct {
	Env         common.Config
	Bitcoin     bitcoin.Wallet
	Monero      monero.Client
	EventLoop   net.Handle
	Database    *db.Database
	SwapManager *pswap.Manager
	SwapID      uuid.UUID

	// amounts for a fresh swap
	BTC common.BitcoinAmount
	XMR common.MoneroAmount
}

// NewSwap returns a Swap ready to initiate a fresh swap with a peer.
func NewSwap(cfg *Config) (*Swap, error) {
	info := pswap.NewInfo(cfg.SwapID, "btc")
	if err := cfg.SwapManager.AddSwap(info); err != nil {
		return nil, err
	}

	return &Swap{
		cfg:       cfg.Env,
		btc:       cfg.Bitcoin,
		xmr:       cfg.Monero,
		handle:    cfg.EventLoop,
		db:        cfg.Database,
		id:        cfg.SwapID,
		info:      info,
		manager:   cfg.SwapManager,
		btcAmount: cfg.BTC,
		xmrAmount: cfg.XMR,
		state:     Started,
	}, nil
}

// NewSwapFromDatabase reloads a persisted swap so it can be resumed.
func NewSwapFromDatabase(cfg *Config) (*Swap, error) {
	rec, err := cfg.Database.GetState(cfg.SwapID)
	if err != nil {
		return nil, err
	}
	if rec.Role != db.RoleBob {
		return nil, errResumeWrongRole
	}

	state, err := stateFromTag(rec.StateTag)
	if err != nil {
		return nil, err
	}

	s := &Swap{
		cfg:    cfg.Env,
		btc:    cfg.Bitcoin,
		xmr:    cfg.Monero,
		handle: cfg.EventLoop,
		db:     cfg.Database,
		id:     cfg.SwapID,
		state:  state,
	}

	if state != Started && state != SafelyAborted {
		d := new(stateData)
		if err := json.Unmarshal(rec.State, d); err != nil {
			return nil, err
		}

		s2, encSig, err := newState2FromData(cfg.Env, d)
		if err != nil {
			return nil, err
		}
		s.s2 = s2
		s.encSig = encSig
		s.saSecret = d.SaSecret
	}

	info := pswap.NewInfo(cfg.SwapID, "btc")
	if err := cfg.SwapManager.AddSwap(info); err != nil {
		return nil, err
	}
	s.info = info
	s.manager = cfg.SwapManager

	log.Infof("resuming swap %s from state %s", s.id, s.state)
	return s, nil
}

// ID returns the swap's ID.
func (s *Swap) ID() uuid.UUID {
	return s.id
}

// State returns the swap's current state tag.
func (s *Swap) State() State {
	return s.state
}

// persist writes the current state to the database. It must only be called
// after the transition's side effects are durable or safely repeatable.
func (s *Swap) persist() error {
	rec := &db.SwapRecord{
		ID:       s.id,
		Role:     db.RoleBob,
		StateTag: s.state.String(),
	}

	if s.s2 != nil {
		blob, err := s.s2.marshal(s.encSig, s.saSecret)
		if err != nil {
			return err
		}
		rec.State = blob
	} else {
		rec.State = json.RawMessage(`{}`)
	}

	if s.handle != nil {
		rec.PeerID = s.handle.RemotePeer()
	}

	return s.db.InsertLatestState(rec)
}
