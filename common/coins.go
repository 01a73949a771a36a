package common

import (
	"fmt"
	"math"

	"github.com/btcsuite/btcd/btcutil"
)

var (
	numBitcoinUnits = math.Pow(10, 8)
	numMoneroUnits  = math.Pow(10, 12)
)

// TxFee is the fee, in satoshi, attached to every spend transaction in the
// swap (redeem, cancel, refund, punish). Both parties must derive identical
// transactions, so the fee is a protocol constant rather than an estimate.
const TxFee = BitcoinAmount(10_000)

// MoneroAmount represents some amount of piconero (the smallest denomination of monero)
type MoneroAmount uint64

// MoneroToPiconero converts an amount of standard monero and returns it as a MoneroAmount
func MoneroToPiconero(amount float64) MoneroAmount {
	return MoneroAmount(math.Round(amount * numMoneroUnits))
}

// Uint64 ...
func (a MoneroAmount) Uint64() uint64 {
	return uint64(a)
}

// AsMonero converts the piconero MoneroAmount into standard units
func (a MoneroAmount) AsMonero() float64 {
	return float64(a) / numMoneroUnits
}

// String ...
func (a MoneroAmount) String() string {
	return fmt.Sprintf("%d", uint64(a))
}

// BitcoinAmount represents some amount of bitcoin in the smallest denomination (satoshi)
type BitcoinAmount uint64

// BitcoinToSatoshi converts an amount of standard bitcoin and returns it as a BitcoinAmount
func BitcoinToSatoshi(amount float64) BitcoinAmount {
	return BitcoinAmount(amount * numBitcoinUnits)
}

// Uint64 ...
func (a BitcoinAmount) Uint64() uint64 {
	return uint64(a)
}

// AsBitcoin converts the satoshi BitcoinAmount into standard units
func (a BitcoinAmount) AsBitcoin() float64 {
	return float64(a) / numBitcoinUnits
}

// AsBTCUtil returns the amount as a btcutil.Amount
func (a BitcoinAmount) AsBTCUtil() btcutil.Amount {
	return btcutil.Amount(a)
}

// Sub returns a - b, or 0 if b > a.
func (a BitcoinAmount) Sub(b BitcoinAmount) BitcoinAmount {
	if b > a {
		return 0
	}
	return a - b
}

// String ...
func (a BitcoinAmount) String() string {
	return fmt.Sprintf("%d", uint64(a))
}
