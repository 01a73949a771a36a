// Package alice implements the monero-holding role of the swap: Alice locks
// XMR, receives BTC via the redeem transaction, and walks the
// cancel/refund/punish ladder if the counterparty disappears.
package alice

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

var log = logging.Logger("alice")

// Swap drives one swap in the role of Alice. It is owned by exactly one
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

	state  State
	s3     *State3
	encSig *secp256k1.EncSignature

	// set when the swap ends refunded; the recovered shared spend key
	spendKey []byte
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
}

// NewSwap returns a Swap ready to serve a fresh inbound swap request.
func NewSwap(cfg *Config) (*Swap, error) {
	info := pswap.NewInfo(cfg.SwapID, "xmr")
	if err := cfg.SwapManager.AddSwap(info); err != nil {
		return nil, err
	}

	return &Swap{
		cfg:     cfg.Env,
		btc:     cfg.Bitcoin,
		xmr:     cfg.Monero,
		handle:  cfg.EventLoop,
		db:      cfg.Database,
		id:      cfg.SwapID,
		info:    info,
		manager: cfg.SwapManager,
		state:   Started,
	}, nil
}

// NewSwapFromDatabase reloads a persisted swap so it can be resumed.
func NewSwapFromDatabase(cfg *Config) (*Swap, error) {
	rec, err := cfg.Database.GetState(cfg.SwapID)
	if err != nil {
		return nil, err
	}
	if rec.Role != db.RoleAlice {
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

		s3, encSig, err := newState3FromData(cfg.Env, d)
		if err != nil {
			return nil, err
		}
		s.s3 = s3
		s.encSig = encSig
		s.spendKey = d.SpendKey
	}

	info := pswap.NewInfo(cfg.SwapID, "xmr")
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
		Role:     db.RoleAlice,
		StateTag: s.state.String(),
	}

	if s.s3 != nil {
		blob, err := s.s3.marshal(s.encSig, s.spendKey)
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
