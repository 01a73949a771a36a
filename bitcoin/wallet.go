package bitcoin

import (
	"bytes"
	"context"
	"strings"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
	logging "github.com/ipfs/go-log"

	"github.com/jamen-marz/xmr-btc-swap/common"
	"github.com/jamen-marz/xmr-btc-swap/crypto/secp256k1"
)

var log = logging.Logger("bitcoin")

// Wallet wraps the wallet operations the swap needs from a bitcoind node.
// Implementations must serialize their own internal operations; callers
// assume individual calls are atomic.
type Wallet interface {
	Chain

	NewAddress() (btcutil.Address, error)
	Balance() (common.BitcoinAmount, error)

	// FundLockTransaction builds and signs, but does not broadcast, a
	// transaction paying amount to the given output script.
	FundLockTransaction(pkScript []byte, amount common.BitcoinAmount) (*wire.MsgTx, error)

	// Broadcast submits a raw transaction. It is idempotent: a transaction
	// already in the mempool or the chain is success.
	Broadcast(ctx context.Context, raw []byte) (*chainhash.Hash, error)
}

// Chain is the read-only view of the bitcoin chain the watchers poll.
type Chain interface {
	BlockHeight(ctx context.Context) (uint64, error)
	TxConfirmations(ctx context.Context, txid chainhash.Hash) (uint64, error)

	// FindSpend scans for a transaction spending the given outpoint in
	// blocks from fromHeight up to the tip. The boolean reports whether a
	// spend was found.
	FindSpend(ctx context.Context, op wire.OutPoint, fromHeight uint64) (*wire.MsgTx, bool, error)
}

// Config contains the connection parameters for a bitcoind wallet.
type Config struct {
	Endpoint string
	User     string
	Password string
	Net      *chaincfg.Params
}

type walletClient struct {
	client *rpcclient.Client
	net    *chaincfg.Params
}

// NewWallet connects to the configured bitcoind instance over HTTP POST.
func NewWallet(cfg Config) (Wallet, error) {
	client, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         cfg.Endpoint,
		User:         cfg.User,
		Pass:         cfg.Password,
		HTTPPostMode: true,
		DisableTLS:   true,
	}, nil)
	if err != nil {
		return nil, err
	}

	return &walletClient{
		client: client,
		net:    cfg.Net,
	}, nil
}

func (w *walletClient) NewAddress() (btcutil.Address, error) {
	return w.client.GetNewAddress("")
}

func (w *walletClient) Balance() (common.BitcoinAmount, error) {
	amt, err := w.client.GetBalance("*")
	if err != nil {
		return 0, err
	}
	return common.BitcoinAmount(amt), nil
}

func (w *walletClient) FundLockTransaction(pkScript []byte, amount common.BitcoinAmount) (*wire.MsgTx, error) {
	tx := wire.NewMsgTx(2)
	tx.AddTxOut(wire.NewTxOut(int64(amount), pkScript))

	funded, err := w.client.FundRawTransaction(tx, btcjson.FundRawTransactionOpts{}, nil)
	if err != nil {
		return nil, err
	}

	signed, complete, err := w.client.SignRawTransactionWithWallet(funded.Transaction)
	if err != nil {
		return nil, err
	}
	if !complete {
		return nil, errSignLockIncomplete
	}

	return signed, nil
}

func (w *walletClient) Broadcast(_ context.Context, raw []byte) (*chainhash.Hash, error) {
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, err
	}

	hash, err := w.client.SendRawTransaction(tx, false)
	if err != nil {
		if isAlreadyBroadcastErr(err) {
			log.Debugf("transaction already known to the network: %s", tx.TxHash())
			h := tx.TxHash()
			return &h, nil
		}
		return nil, err
	}

	return hash, nil
}

func (w *walletClient) BlockHeight(_ context.Context) (uint64, error) {
	height, err := w.client.GetBlockCount()
	if err != nil {
		return 0, err
	}
	return uint64(height), nil
}

func (w *walletClient) TxConfirmations(_ context.Context, txid chainhash.Hash) (uint64, error) {
	res, err := w.client.GetRawTransactionVerbose(&txid)
	if err != nil {
		if isTxNotFoundErr(err) {
			return 0, nil
		}
		return 0, err
	}
	return res.Confirmations, nil
}

func (w *walletClient) FindSpend(ctx context.Context, op wire.OutPoint, fromHeight uint64) (*wire.MsgTx, bool, error) {
	tip, err := w.BlockHeight(ctx)
	if err != nil {
		return nil, false, err
	}

	for height := fromHeight; height <= tip; height++ {
		hash, err := w.client.GetBlockHash(int64(height))
		if err != nil {
			return nil, false, err
		}

		block, err := w.client.GetBlock(hash)
		if err != nil {
			return nil, false, err
		}

		for _, tx := range block.Transactions {
			for _, in := range tx.TxIn {
				if in.PreviousOutPoint == op {
					return tx, true, nil
				}
			}
		}
	}

	return nil, false, nil
}

// bitcoind error strings for transactions the network already knows about.
func isAlreadyBroadcastErr(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "already in block chain") ||
		strings.Contains(msg, "txn-already-in-mempool") ||
		strings.Contains(msg, "txn-already-known")
}

func isTxNotFoundErr(err error) bool {
	return strings.Contains(err.Error(), "No such mempool or blockchain transaction")
}

// ExtractSignatures pulls every ECDSA signature out of a transaction's
// witnesses. The recovery paths use it to find the counterparty's decrypted
// adaptor signature inside an observed spend.
func ExtractSignatures(tx *wire.MsgTx) ([]*secp256k1.Signature, error) {
	var sigs []*secp256k1.Signature
	for _, in := range tx.TxIn {
		for _, item := range in.Witness {
			if len(item) < 9 {
				continue
			}

			// strip the sighash-type byte before DER parsing
			sig, err := secp256k1.NewSignatureFromDER(item[:len(item)-1])
			if err != nil {
				continue
			}
			sigs = append(sigs, sig)
		}
	}

	if len(sigs) == 0 {
		return nil, errNoSignaturesInSpend
	}
	return sigs, nil
}
