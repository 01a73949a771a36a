// Package net provides the peer-to-peer layer of the swap daemon: a libp2p
// host carrying one framed, authenticated stream per swap, and the event
// loop the state machines talk to.
package net

import (
	"context"
	"fmt"

	"github.com/libp2p/go-libp2p"
	libp2phost "github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	logging "github.com/ipfs/go-log"

	"github.com/jamen-marz/xmr-btc-swap/common"
)

var log = logging.Logger("net")

// Config contains the parameters for the p2p host.
type Config struct {
	Ctx      context.Context
	ListenIP string
	Port     uint16
}

// Host wraps the libp2p host. Inbound swap streams are handed to the
// registered handler; outbound streams are opened with Initiate.
type Host struct {
	ctx context.Context
	h   libp2phost.Host

	handler func(*EventLoop)
}

// NewHost returns a new Host listening on the configured address.
func NewHost(cfg *Config) (*Host, error) {
	h, err := libp2p.New(
		libp2p.ListenAddrStrings(
			fmt.Sprintf("/ip4/%s/tcp/%d", cfg.ListenIP, cfg.Port),
		),
	)
	if err != nil {
		return nil, err
	}

	host := &Host{
		ctx: cfg.Ctx,
		h:   h,
	}
	return host, nil
}

// Start registers the swap stream handler and begins accepting streams.
func (h *Host) Start(handler func(*EventLoop)) {
	h.handler = handler
	h.h.SetStreamHandler(protocol.ID(common.SwapProtocolID), h.handleStream)
	log.Infof("listening on %s with peer ID %s", h.h.Addrs(), h.h.ID())
}

// Stop shuts the host down.
func (h *Host) Stop() error {
	return h.h.Close()
}

// PeerID returns our own peer ID.
func (h *Host) PeerID() peer.ID {
	return h.h.ID()
}

// Addresses returns the host's listen addresses, with the peer ID appended.
func (h *Host) Addresses() []string {
	var addrs []string
	for _, ma := range h.h.Addrs() {
		addrs = append(addrs, fmt.Sprintf("%s/p2p/%s", ma, h.h.ID()))
	}
	return addrs
}

// Connect dials the given peer.
func (h *Host) Connect(ctx context.Context, who peer.AddrInfo) error {
	return h.h.Connect(ctx, who)
}

// Initiate opens a new swap stream to the given peer and returns its event loop.
func (h *Host) Initiate(ctx context.Context, who peer.AddrInfo) (*EventLoop, error) {
	if err := h.h.Connect(ctx, who); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", who.ID, err)
	}

	stream, err := h.h.NewStream(ctx, who.ID, protocol.ID(common.SwapProtocolID))
	if err != nil {
		return nil, fmt.Errorf("failed to open swap stream: %w", err)
	}

	log.Debugf("opened swap stream with %s", who.ID)
	return newEventLoop(h.ctx, stream), nil
}

func (h *Host) handleStream(stream network.Stream) {
	log.Debugf("incoming swap stream from %s", stream.Conn().RemotePeer())
	if h.handler == nil {
		_ = stream.Reset()
		return
	}
	h.handler(newEventLoop(h.ctx, stream))
}
