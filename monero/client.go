// Package monero provides clients for monero-wallet-rpc and monerod, plus
// the helpers the swap uses to create and watch shared wallets.
package monero

import (
	"fmt"
	"sync"

	logging "github.com/ipfs/go-log"

	"github.com/jamen-marz/xmr-btc-swap/common"
	mcrypto "github.com/jamen-marz/xmr-btc-swap/crypto/monero"
)

var log = logging.Logger("monero")

// Client represents a monero-wallet-rpc client.
type Client interface {
	LockClient() // can't use Lock/Unlock due to name conflict
	UnlockClient()
	GetAddress(idx uint) (*GetAddressResponse, error)
	GetBalance(idx uint) (*GetBalanceResponse, error)
	Transfer(to mcrypto.Address, accountIdx uint, amount common.MoneroAmount) (*TransferResponse, error)
	SweepAll(to mcrypto.Address, accountIdx uint) (*SweepAllResponse, error)
	GenerateFromKeys(kp *mcrypto.PrivateKeyPair, filename, password string, env common.Environment) error
	GenerateViewOnlyWalletFromKeys(vk *mcrypto.PrivateViewKey, address mcrypto.Address, filename, password string) error
	GetHeight() (uint64, error)
	Refresh() error
	CreateWallet(filename, password string) error
	OpenWallet(filename, password string) error
	CloseWallet() error
}

// GetAddressResponse ...
type GetAddressResponse struct {
	Address string `json:"address"`
}

// GetBalanceResponse ...
type GetBalanceResponse struct {
	Balance         uint64 `json:"balance"`
	UnlockedBalance uint64 `json:"unlocked_balance"`
	BlocksToUnlock  uint64 `json:"blocks_to_unlock"`
}

// TransferResponse ...
type TransferResponse struct {
	TxHash string `json:"tx_hash"`
	TxKey  string `json:"tx_key"`
	Amount uint64 `json:"amount"`
	Fee    uint64 `json:"fee"`
}

// SweepAllResponse ...
type SweepAllResponse struct {
	TxHashList []string `json:"tx_hash_list"`
	AmountList []uint64 `json:"amount_list"`
	FeeList    []uint64 `json:"fee_list"`
}

// Destination ...
type Destination struct {
	Amount  uint64 `json:"amount"`
	Address string `json:"address"`
}

type client struct {
	sync.Mutex
	endpoint string
}

// NewClient returns a new monero-wallet-rpc client.
func NewClient(endpoint string) Client {
	return &client{
		endpoint: endpoint,
	}
}

func (c *client) LockClient() {
	c.Lock()
}

func (c *client) UnlockClient() {
	c.Unlock()
}

func (c *client) GetAddress(idx uint) (*GetAddressResponse, error) {
	params := struct {
		AccountIndex uint `json:"account_index"`
	}{
		AccountIndex: idx,
	}

	resp := new(GetAddressResponse)
	if err := postRPC(c.endpoint, "get_address", params, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *client) GetBalance(idx uint) (*GetBalanceResponse, error) {
	params := struct {
		AccountIndex uint `json:"account_index"`
	}{
		AccountIndex: idx,
	}

	resp := new(GetBalanceResponse)
	if err := postRPC(c.endpoint, "get_balance", params, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *client) Transfer(to mcrypto.Address, accountIdx uint, amount common.MoneroAmount) (*TransferResponse, error) {
	params := struct {
		Destinations []Destination `json:"destinations"`
		AccountIndex uint          `json:"account_index"`
		GetTxKey     bool          `json:"get_tx_key"`
	}{
		Destinations: []Destination{{
			Amount:  amount.Uint64(),
			Address: string(to),
		}},
		AccountIndex: accountIdx,
		GetTxKey:     true,
	}

	resp := new(TransferResponse)
	if err := postRPC(c.endpoint, "transfer", params, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *client) SweepAll(to mcrypto.Address, accountIdx uint) (*SweepAllResponse, error) {
	params := struct {
		Address      string `json:"address"`
		AccountIndex uint   `json:"account_index"`
	}{
		Address:      string(to),
		AccountIndex: accountIdx,
	}

	resp := new(SweepAllResponse)
	if err := postRPC(c.endpoint, "sweep_all", params, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *client) GenerateFromKeys(kp *mcrypto.PrivateKeyPair, filename, password string, env common.Environment) error {
	return c.callGenerateFromKeys(kp.SpendKey(), kp.ViewKey(), kp.Address(env), filename, password)
}

func (c *client) GenerateViewOnlyWalletFromKeys(vk *mcrypto.PrivateViewKey, address mcrypto.Address, filename, password string) error {
	return c.callGenerateFromKeys(nil, vk, address, filename, password)
}

func (c *client) callGenerateFromKeys(sk *mcrypto.PrivateSpendKey, vk *mcrypto.PrivateViewKey,
	address mcrypto.Address, filename, password string) error {
	spendKey := ""
	if sk != nil {
		spendKey = sk.Hex()
	}

	params := struct {
		Filename string `json:"filename"`
		Address  string `json:"address"`
		SpendKey string `json:"spendkey,omitempty"`
		ViewKey  string `json:"viewkey"`
		Password string `json:"password"`
	}{
		Filename: filename,
		Address:  string(address),
		SpendKey: spendKey,
		ViewKey:  vk.Hex(),
		Password: password,
	}

	resp := struct {
		Info string `json:"info"`
	}{}
	if err := postRPC(c.endpoint, "generate_from_keys", params, &resp); err != nil {
		return err
	}

	log.Debugf("generate_from_keys: %s", resp.Info)
	return nil
}

func (c *client) GetHeight() (uint64, error) {
	resp := struct {
		Height uint64 `json:"height"`
	}{}
	if err := postRPC(c.endpoint, "get_height", struct{}{}, &resp); err != nil {
		return 0, err
	}
	return resp.Height, nil
}

func (c *client) Refresh() error {
	return postRPC(c.endpoint, "refresh", struct{}{}, nil)
}

func (c *client) CreateWallet(filename, password string) error {
	params := struct {
		Filename string `json:"filename"`
		Password string `json:"password"`
		Language string `json:"language"`
	}{
		Filename: filename,
		Password: password,
		Language: "English",
	}
	return postRPC(c.endpoint, "create_wallet", params, nil)
}

func (c *client) OpenWallet(filename, password string) error {
	params := struct {
		Filename string `json:"filename"`
		Password string `json:"password"`
	}{
		Filename: filename,
		Password: password,
	}
	return postRPC(c.endpoint, "open_wallet", params, nil)
}

func (c *client) CloseWallet() error {
	return postRPC(c.endpoint, "close_wallet", struct{}{}, nil)
}

// DaemonClient represents a monerod client, used on development networks to
// mine blocks on demand.
type DaemonClient interface {
	GenerateBlocks(address string, amount uint64) error
}

type daemonClient struct {
	endpoint string
}

// NewDaemonClient returns a new monerod client.
func NewDaemonClient(endpoint string) DaemonClient {
	return &daemonClient{
		endpoint: endpoint,
	}
}

func (c *daemonClient) GenerateBlocks(address string, amount uint64) error {
	params := struct {
		AmountOfBlocks uint64 `json:"amount_of_blocks"`
		WalletAddress  string `json:"wallet_address"`
	}{
		AmountOfBlocks: amount,
		WalletAddress:  address,
	}

	resp := struct {
		Height uint64 `json:"height"`
	}{}
	if err := postRPC(c.endpoint, "generateblocks", params, &resp); err != nil {
		return err
	}

	log.Debugf("generated %d blocks, new height %d", amount, resp.Height)
	return nil
}

// CreateMoneroWallet creates a wallet from a private keypair on the given
// wallet-rpc instance and returns its address.
func CreateMoneroWallet(name string, env common.Environment, c Client, kp *mcrypto.PrivateKeyPair) (mcrypto.Address, error) {
	c.LockClient()
	defer c.UnlockClient()

	address := kp.Address(env)
	walletName := fmt.Sprintf("%s-%s", name, address[:8])
	if err := c.GenerateFromKeys(kp, walletName, "", env); err != nil {
		return "", err
	}

	if err := c.OpenWallet(walletName, ""); err != nil {
		return "", err
	}

	if err := c.Refresh(); err != nil {
		return "", err
	}

	log.Infof("created wallet %s for address %s", walletName, address)
	return address, nil
}
