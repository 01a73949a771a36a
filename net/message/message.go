// Package message provides the types for messages that are sent between swap daemons.
package message

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Type represents the type of a network message
type Type byte

const (
	SwapRequestType Type = iota //nolint
	SwapResponseType
	ExecutionSetupMsg2Type
	ExecutionSetupMsg3Type
	ExecutionSetupMsg4Type
	TransferProofType
	EncryptedSignatureType
	AckType
	NilType
)

func (t Type) String() string {
	switch t {
	case SwapRequestType:
		return "SwapRequest"
	case SwapResponseType:
		return "SwapResponse"
	case ExecutionSetupMsg2Type:
		return "ExecutionSetupMsg2"
	case ExecutionSetupMsg3Type:
		return "ExecutionSetupMsg3"
	case ExecutionSetupMsg4Type:
		return "ExecutionSetupMsg4"
	case TransferProofType:
		return "TransferProof"
	case EncryptedSignatureType:
		return "EncryptedSignature"
	case AckType:
		return "Ack"
	default:
		return "unknown"
	}
}

// Message must be implemented by all network messages
type Message interface {
	String() string
	Encode() ([]byte, error)
	Type() Type
}

// ErrUnexpectedMessage is returned (never panicked) when a peer sends a
// message the protocol does not expect in the current state.
var ErrUnexpectedMessage = errors.New("unexpected message type")

// DecodeMessage decodes the given bytes into a Message
func DecodeMessage(b []byte) (Message, error) {
	if len(b) == 0 {
		return nil, errors.New("invalid message bytes")
	}

	var msg Message
	switch Type(b[0]) {
	case SwapRequestType:
		msg = new(SwapRequest)
	case SwapResponseType:
		msg = new(SwapResponse)
	case ExecutionSetupMsg2Type:
		msg = new(ExecutionSetupMsg2)
	case ExecutionSetupMsg3Type:
		msg = new(ExecutionSetupMsg3)
	case ExecutionSetupMsg4Type:
		msg = new(ExecutionSetupMsg4)
	case TransferProofType:
		msg = new(TransferProof)
	case EncryptedSignatureType:
		msg = new(EncryptedSignature)
	case AckType:
		msg = new(Ack)
	default:
		return nil, fmt.Errorf("invalid message type=%d", b[0])
	}

	if err := cbor.Unmarshal(b[1:], msg); err != nil {
		return nil, fmt.Errorf("failed to decode %s message: %w", Type(b[0]), err)
	}
	return msg, nil
}

func encode(t Type, msg Message) ([]byte, error) {
	b, err := cbor.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return append([]byte{byte(t)}, b...), nil
}

// SwapRequest is sent by Bob to Alice to initiate the swap.
type SwapRequest struct {
	BTC uint64 `cbor:"btc"` // satoshi
	XMR uint64 `cbor:"xmr"` // piconero
}

// String ...
func (m *SwapRequest) String() string {
	return fmt.Sprintf("SwapRequest BTC=%d XMR=%d", m.BTC, m.XMR)
}

// Encode ...
func (m *SwapRequest) Encode() ([]byte, error) {
	return encode(SwapRequestType, m)
}

// Type ...
func (m *SwapRequest) Type() Type {
	return SwapRequestType
}

// SwapResponse is Alice's reply: her public keys, cross-group proof,
// addresses and the timelock parameters of the swap.
type SwapResponse struct {
	A              []byte `cbor:"A"`   // secp256k1, compressed
	SaBitcoin      []byte `cbor:"SaB"` // secp256k1 commitment of s_a
	SaMonero       []byte `cbor:"SaM"` // ed25519 commitment of s_a
	Va             []byte `cbor:"vA"`  // Alice's private view key share
	DLEqProof      []byte `cbor:"dleq"`
	RedeemAddress  string `cbor:"redeem"`
	PunishAddress  string `cbor:"punish"`
	CancelTimelock uint32 `cbor:"cancelTimelock"`
	PunishTimelock uint32 `cbor:"punishTimelock"`
}

// String ...
func (m *SwapResponse) String() string {
	return fmt.Sprintf("SwapResponse A=%x SaBitcoin=%x SaMonero=%x RedeemAddress=%s PunishAddress=%s CancelTimelock=%d PunishTimelock=%d", //nolint:lll
		m.A,
		m.SaBitcoin,
		m.SaMonero,
		m.RedeemAddress,
		m.PunishAddress,
		m.CancelTimelock,
		m.PunishTimelock,
	)
}

// Encode ...
func (m *SwapResponse) Encode() ([]byte, error) {
	return encode(SwapResponseType, m)
}

// Type ...
func (m *SwapResponse) Type() Type {
	return SwapResponseType
}

// ExecutionSetupMsg2 is sent by Bob: his public keys and proof, his refund
// address, and the unpublished lock transaction.
type ExecutionSetupMsg2 struct {
	B             []byte `cbor:"B"`
	SbBitcoin     []byte `cbor:"SbB"`
	SbMonero      []byte `cbor:"SbM"`
	Vb            []byte `cbor:"vB"`
	DLEqProof     []byte `cbor:"dleq"`
	RefundAddress string `cbor:"refund"`
	TxLock        []byte `cbor:"txLock"`
}

// String ...
func (m *ExecutionSetupMsg2) String() string {
	return fmt.Sprintf("ExecutionSetupMsg2 B=%x SbBitcoin=%x SbMonero=%x RefundAddress=%s",
		m.B,
		m.SbBitcoin,
		m.SbMonero,
		m.RefundAddress,
	)
}

// Encode ...
func (m *ExecutionSetupMsg2) Encode() ([]byte, error) {
	return encode(ExecutionSetupMsg2Type, m)
}

// Type ...
func (m *ExecutionSetupMsg2) Type() Type {
	return ExecutionSetupMsg2Type
}

// ExecutionSetupMsg3 is sent by Alice: her plain signature on TxCancel and
// her adaptor signature on TxRefund, encrypted to S_b.
type ExecutionSetupMsg3 struct {
	SigCancelA []byte `cbor:"sigCancelA"`
	EncRefundA []byte `cbor:"encRefundA"`
}

// String ...
func (m *ExecutionSetupMsg3) String() string {
	return fmt.Sprintf("ExecutionSetupMsg3 SigCancelA=%x EncRefundA=%x", m.SigCancelA, m.EncRefundA)
}

// Encode ...
func (m *ExecutionSetupMsg3) Encode() ([]byte, error) {
	return encode(ExecutionSetupMsg3Type, m)
}

// Type ...
func (m *ExecutionSetupMsg3) Type() Type {
	return ExecutionSetupMsg3Type
}

// ExecutionSetupMsg4 is sent by Bob: his plain signatures on TxCancel and TxPunish.
type ExecutionSetupMsg4 struct {
	SigCancelB []byte `cbor:"sigCancelB"`
	SigPunishB []byte `cbor:"sigPunishB"`
}

// String ...
func (m *ExecutionSetupMsg4) String() string {
	return fmt.Sprintf("ExecutionSetupMsg4 SigCancelB=%x SigPunishB=%x", m.SigCancelB, m.SigPunishB)
}

// Encode ...
func (m *ExecutionSetupMsg4) Encode() ([]byte, error) {
	return encode(ExecutionSetupMsg4Type, m)
}

// Type ...
func (m *ExecutionSetupMsg4) Type() Type {
	return ExecutionSetupMsg4Type
}

// TransferProof is sent by Alice to Bob after locking the monero.
type TransferProof struct {
	TxHash []byte `cbor:"txHash"`
	TxKey  []byte `cbor:"txKey"`
}

// String ...
func (m *TransferProof) String() string {
	return fmt.Sprintf("TransferProof TxHash=%x", m.TxHash)
}

// Encode ...
func (m *TransferProof) Encode() ([]byte, error) {
	return encode(TransferProofType, m)
}

// Type ...
func (m *TransferProof) Type() Type {
	return TransferProofType
}

// EncryptedSignature is sent by Bob to Alice: his adaptor signature over
// TxRedeem, encrypted to S_a.
type EncryptedSignature struct {
	Ciphertext []byte `cbor:"ciphertext"`
}

// String ...
func (m *EncryptedSignature) String() string {
	return fmt.Sprintf("EncryptedSignature Ciphertext=%x", m.Ciphertext)
}

// Encode ...
func (m *EncryptedSignature) Encode() ([]byte, error) {
	return encode(EncryptedSignatureType, m)
}

// Type ...
func (m *EncryptedSignature) Type() Type {
	return EncryptedSignatureType
}

// Ack acknowledges a message that expects one; For names the type of the
// acknowledged message, so the body is not empty.
type Ack struct {
	For Type `cbor:"for"`
}

// String ...
func (m *Ack) String() string {
	return fmt.Sprintf("Ack For=%s", m.For)
}

// Encode ...
func (m *Ack) Encode() ([]byte, error) {
	return encode(AckType, m)
}

// Type ...
func (m *Ack) Type() Type {
	return AckType
}
