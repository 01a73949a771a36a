package common

import (
	"github.com/btcsuite/btcd/chaincfg"
)

// Environment represents the environment the swap will run in (ie. mainnet, stagenet, or development)
type Environment byte

const (
	Mainnet Environment = iota //nolint
	Stagenet
	Development
)

// String ...
func (env Environment) String() string {
	switch env {
	case Mainnet:
		return "mainnet"
	case Stagenet:
		return "stagenet"
	case Development:
		return "dev"
	}
	return "unknown"
}

const (
	// DefaultMoneroDaemonEndpoint is the default endpoint of a monerod instance
	DefaultMoneroDaemonEndpoint = "http://127.0.0.1:18081/json_rpc"
	// DefaultAliceMoneroEndpoint is the default endpoint of Alice's monero-wallet-rpc instance
	DefaultAliceMoneroEndpoint = "http://127.0.0.1:18084/json_rpc"
	// DefaultBobMoneroEndpoint is the default endpoint of Bob's monero-wallet-rpc instance
	DefaultBobMoneroEndpoint = "http://127.0.0.1:18083/json_rpc"
	// DefaultBitcoinEndpoint is the default endpoint of a bitcoind regtest instance
	DefaultBitcoinEndpoint = "127.0.0.1:18443"

	// DefaultLibp2pPort is the default port the swap daemon listens on
	DefaultLibp2pPort = 9933

	// SwapProtocolID is the libp2p protocol ID for swap messages
	SwapProtocolID = "/xmr-btc-swap/0"

	// MessageTimeout is the duration a party waits for the response to a
	// protocol message before giving up on the peer.
	MessageTimeout = 60 // seconds
)

// Config contains the chain and protocol parameters a swap runs with.
// Confirmation counts are policy decisions, not protocol constants, so they
// live here and differ per environment.
type Config struct {
	Env                  Environment
	BitcoinNet           *chaincfg.Params
	MoneroDaemonEndpoint string

	// number of confirmations before the BTC lock output is considered final
	ConfirmationsBTC uint64
	// number of confirmations before the XMR lock output is considered spendable
	ConfirmationsXMR uint64

	// blocks after TxLock confirmation until TxCancel is spendable
	CancelTimelock uint32
	// blocks after TxCancel confirmation until TxPunish is spendable
	PunishTimelock uint32
}

// MainnetConfig ...
func MainnetConfig() Config {
	return Config{
		Env:                  Mainnet,
		BitcoinNet:           &chaincfg.MainNetParams,
		MoneroDaemonEndpoint: DefaultMoneroDaemonEndpoint,
		ConfirmationsBTC:     3,
		ConfirmationsXMR:     10,
		CancelTimelock:       72,
		PunishTimelock:       72,
	}
}

// StagenetConfig ...
func StagenetConfig() Config {
	return Config{
		Env:                  Stagenet,
		BitcoinNet:           &chaincfg.TestNet3Params,
		MoneroDaemonEndpoint: DefaultMoneroDaemonEndpoint,
		ConfirmationsBTC:     2,
		ConfirmationsXMR:     10,
		CancelTimelock:       24,
		PunishTimelock:       24,
	}
}

// DevelopmentConfig ...
func DevelopmentConfig() Config {
	return Config{
		Env:                  Development,
		BitcoinNet:           &chaincfg.RegressionNetParams,
		MoneroDaemonEndpoint: DefaultMoneroDaemonEndpoint,
		ConfirmationsBTC:     1,
		ConfirmationsXMR:     1,
		CancelTimelock:       10,
		PunishTimelock:       10,
	}
}

// ConfigFromEnv returns the Config for the given environment.
func ConfigFromEnv(env Environment) Config {
	switch env {
	case Mainnet:
		return MainnetConfig()
	case Stagenet:
		return StagenetConfig()
	default:
		return DevelopmentConfig()
	}
}
