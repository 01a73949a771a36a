// Package recovery rebuilds access to swap funds outside the state
// machines, for operators holding raw key material from a broken swap.
package recovery

import (
	"encoding/hex"
	"fmt"

	"github.com/jamen-marz/xmr-btc-swap/common"
	mcrypto "github.com/jamen-marz/xmr-btc-swap/crypto/monero"
	"github.com/jamen-marz/xmr-btc-swap/monero"
)

type recoverer struct {
	env    common.Environment
	client monero.Client
}

// NewRecoverer ...
func NewRecoverer(env common.Environment, moneroEndpoint string) *recoverer { //nolint:revive
	return &recoverer{
		env:    env,
		client: monero.NewClient(moneroEndpoint),
	}
}

// WalletFromSecrets generates a monero wallet from the given Alice and Bob
// secrets, as revealed on chain by the adaptor mechanism.
func (r *recoverer) WalletFromSecrets(aliceSecret, bobSecret string) (mcrypto.Address, error) {
	as, err := hex.DecodeString(aliceSecret)
	if err != nil {
		return "", fmt.Errorf("failed to decode alice's secret: %w", err)
	}

	bs, err := hex.DecodeString(bobSecret)
	if err != nil {
		return "", fmt.Errorf("failed to decode bob's secret: %w", err)
	}

	ak, err := mcrypto.NewPrivateSpendKey(common.Reverse(as))
	if err != nil {
		return "", err
	}

	bk, err := mcrypto.NewPrivateSpendKey(common.Reverse(bs))
	if err != nil {
		return "", err
	}

	sk := mcrypto.SumPrivateSpendKeys(ak, bk)
	kp, err := sk.AsPrivateKeyPair()
	if err != nil {
		return "", err
	}

	return monero.CreateMoneroWallet("recovered-wallet", r.env, r.client, kp)
}

// WalletFromSharedKeys generates a monero wallet from an already-combined
// spend key and the shared view key, e.g. as persisted by a refunded swap.
// The view key must be supplied: the shared account's view key is the sum of
// both parties' view shares, not the standard derivation from the spend key.
func (r *recoverer) WalletFromSharedKeys(spendKeyHex, viewKeyHex string) (mcrypto.Address, error) {
	skBytes, err := hex.DecodeString(spendKeyHex)
	if err != nil {
		return "", fmt.Errorf("failed to decode spend key: %w", err)
	}

	sk, err := mcrypto.NewPrivateSpendKey(skBytes)
	if err != nil {
		return "", err
	}

	vk, err := mcrypto.NewPrivateViewKeyFromHex(viewKeyHex)
	if err != nil {
		return "", err
	}

	kp := mcrypto.NewPrivateKeyPair(sk, vk)
	return monero.CreateMoneroWallet("recovered-wallet", r.env, r.client, kp)
}
