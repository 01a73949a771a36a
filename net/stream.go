package net

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/jamen-marz/xmr-btc-swap/net/message"
)

// maxMessageSize bounds a single frame; the largest legitimate message is
// Bob's setup message carrying the serialized lock transaction.
const maxMessageSize = 1 << 20

var errMessageTooLarge = errors.New("message exceeds maximum size")

// writeStreamMessage writes a length-prefixed encoded message to the stream.
func writeStreamMessage(w io.Writer, msg message.Message) error {
	enc, err := msg.Encode()
	if err != nil {
		return err
	}

	if len(enc) > maxMessageSize {
		return errMessageTooLarge
	}

	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(enc)))
	if _, err := w.Write(length[:]); err != nil {
		return err
	}
	if _, err := w.Write(enc); err != nil {
		return err
	}
	return nil
}

// readStreamMessage reads a length-prefixed message from the stream.
func readStreamMessage(r io.Reader) (message.Message, error) {
	var length [4]byte
	if _, err := io.ReadFull(r, length[:]); err != nil {
		return nil, err
	}

	size := binary.BigEndian.Uint32(length[:])
	if size == 0 || size > maxMessageSize {
		return nil, errMessageTooLarge
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("failed to read message body: %w", err)
	}

	return message.DecodeMessage(buf)
}
