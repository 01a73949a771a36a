package mcrypto

import (
	"errors"

	"golang.org/x/crypto/sha3"

	"github.com/jamen-marz/xmr-btc-swap/common"
)

// Address is a base58-encoded monero address.
type Address string

const (
	addressPrefixMainnet  byte = 18
	addressPrefixStagenet byte = 24

	addressChecksumSize = 4
)

// monero's base58 alphabet; the encoding is block-based, unlike bitcoin's.
const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

var errInvalidAddressLength = errors.New("monero address has invalid length")

// Address returns the standard monero address encoding the pair's public
// spend and view keys for the given environment.
func (kp *PublicKeyPair) Address(env common.Environment) Address {
	payload := make([]byte, 0, 1+32+32+addressChecksumSize)
	payload = append(payload, addressPrefix(env))
	payload = append(payload, kp.sk.Bytes()...)
	payload = append(payload, kp.vk.Bytes()...)

	hasher := sha3.NewLegacyKeccak256()
	hasher.Write(payload)
	checksum := hasher.Sum(nil)
	payload = append(payload, checksum[:addressChecksumSize]...)

	return Address(encodeMoneroBase58(payload))
}

func addressPrefix(env common.Environment) byte {
	switch env {
	case common.Stagenet:
		return addressPrefixStagenet
	default:
		// monero regtest uses mainnet address prefixes
		return addressPrefixMainnet
	}
}

// encodeMoneroBase58 encodes data using monero's block-based base58: full
// 8-byte blocks become exactly 11 characters, the final partial block a
// fixed, size-dependent count.
func encodeMoneroBase58(data []byte) string {
	var encodedBlockSizes = [9]int{0, 2, 3, 5, 6, 7, 9, 10, 11}

	var out []byte
	for i := 0; i < len(data); i += 8 {
		end := i + 8
		if end > len(data) {
			end = len(data)
		}
		block := data[i:end]

		var num uint64
		for _, b := range block {
			num = num<<8 | uint64(b)
		}

		encLen := encodedBlockSizes[len(block)]
		enc := make([]byte, encLen)
		for j := encLen - 1; j >= 0; j-- {
			enc[j] = base58Alphabet[num%58]
			num /= 58
		}
		out = append(out, enc...)
	}

	return string(out)
}
