package net

import (
	"context"
	"errors"
	"time"

	"github.com/libp2p/go-libp2p/core/network"

	"github.com/jamen-marz/xmr-btc-swap/common"
	"github.com/jamen-marz/xmr-btc-swap/net/message"
)

const (
	// inboundBufferSize bounds the channel between the reader goroutine and
	// the state machine; the protocol never has more than a couple of
	// messages in flight.
	inboundBufferSize = 16

	ackTimeout = time.Second * common.MessageTimeout
)

var (
	// ErrStreamClosed is returned when the peer closed the swap stream.
	ErrStreamClosed = errors.New("swap stream closed")

	errAckTimeout = errors.New("timed out waiting for message acknowledgement")
)

// Handle is the narrow interface the state machines drive the event loop
// through; it exists so they can be exercised against an in-memory peer.
type Handle interface {
	Send(ctx context.Context, msg message.Message) error
	SendWithAck(ctx context.Context, msg message.Message) error
	Next(ctx context.Context) (message.Message, error)
	RemotePeer() string
	Close()
}

var _ Handle = (*EventLoop)(nil)

// DisconnectedHandle is a Handle with no peer behind it. Every operation
// fails with ErrStreamClosed, which sends the state machines down their
// timelock recovery paths. It is used when resuming a swap whose stream
// cannot be re-established.
type DisconnectedHandle struct{}

// Send implements Handle.
func (DisconnectedHandle) Send(context.Context, message.Message) error { return ErrStreamClosed }

// SendWithAck implements Handle.
func (DisconnectedHandle) SendWithAck(context.Context, message.Message) error {
	return ErrStreamClosed
}

// Next implements Handle.
func (DisconnectedHandle) Next(context.Context) (message.Message, error) {
	return nil, ErrStreamClosed
}

// RemotePeer implements Handle.
func (DisconnectedHandle) RemotePeer() string { return "" }

// Close implements Handle.
func (DisconnectedHandle) Close() {}

// EventLoop owns one swap stream. A single reader goroutine and a single
// writer goroutine give the two ordering guarantees the state machines rely
// on: messages sent via the handle arrive in call order, and inbound
// messages surface in arrival order.
type EventLoop struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream network.Stream

	inbound  chan message.Message
	outbound chan message.Message
	acks     chan message.Type

	done chan struct{}
}

func newEventLoop(ctx context.Context, stream network.Stream) *EventLoop {
	ctx, cancel := context.WithCancel(ctx)
	e := &EventLoop{
		ctx:      ctx,
		cancel:   cancel,
		stream:   stream,
		inbound:  make(chan message.Message, inboundBufferSize),
		outbound: make(chan message.Message, inboundBufferSize),
		acks:     make(chan message.Type, 1),
		done:     make(chan struct{}),
	}

	go e.readLoop()
	go e.writeLoop()
	return e
}

// RemotePeer returns the peer on the other end of the stream.
func (e *EventLoop) RemotePeer() string {
	return e.stream.Conn().RemotePeer().String()
}

// Close tears the stream down; pending watchers are unblocked with ErrStreamClosed.
func (e *EventLoop) Close() {
	e.cancel()
	_ = e.stream.Reset()
}

// Send enqueues a message for the writer goroutine. Messages enqueued by
// successive calls are written to the stream in call order.
func (e *EventLoop) Send(ctx context.Context, msg message.Message) error {
	select {
	case e.outbound <- msg:
		return nil
	case <-e.done:
		return ErrStreamClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendWithAck sends the message and blocks until the peer acknowledges it,
// or the protocol timeout elapses.
func (e *EventLoop) SendWithAck(ctx context.Context, msg message.Message) error {
	if err := e.Send(ctx, msg); err != nil {
		return err
	}

	timer := time.NewTimer(ackTimeout)
	defer timer.Stop()

	for {
		select {
		case acked := <-e.acks:
			if acked == msg.Type() {
				return nil
			}
			log.Debugf("ignoring stale ack for %s", acked)
		case <-timer.C:
			return errAckTimeout
		case <-e.done:
			return ErrStreamClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Next returns the next inbound protocol message.
func (e *EventLoop) Next(ctx context.Context) (message.Message, error) {
	select {
	case msg, ok := <-e.inbound:
		if !ok {
			return nil, ErrStreamClosed
		}
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *EventLoop) readLoop() {
	defer close(e.inbound)

	for {
		msg, err := readStreamMessage(e.stream)
		if err != nil {
			log.Debugf("read loop exiting: %s", err)
			e.cancel()
			return
		}

		log.Debugf("received message %s from %s", msg.Type(), e.RemotePeer())

		switch m := msg.(type) {
		case *message.Ack:
			select {
			case e.acks <- m.For:
			default:
				log.Warnf("dropping unrequested ack for %s", m.For)
			}
		case *message.TransferProof, *message.EncryptedSignature:
			// these two sub-protocols complete with an empty response
			if err := e.Send(e.ctx, &message.Ack{For: msg.Type()}); err != nil {
				log.Warnf("failed to ack %s: %s", msg.Type(), err)
			}
			e.deliver(msg)
		default:
			e.deliver(msg)
		}
	}
}

func (e *EventLoop) deliver(msg message.Message) {
	select {
	case e.inbound <- msg:
	case <-e.ctx.Done():
	}
}

func (e *EventLoop) writeLoop() {
	defer close(e.done)

	for {
		select {
		case msg := <-e.outbound:
			if err := writeStreamMessage(e.stream, msg); err != nil {
				log.Debugf("write loop exiting: %s", err)
				e.cancel()
				return
			}
			log.Debugf("sent message %s to %s", msg.Type(), e.RemotePeer())
		case <-e.ctx.Done():
			return
		}
	}
}
