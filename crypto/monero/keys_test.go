package mcrypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jamen-marz/xmr-btc-swap/common"
)

func TestGenerateKeys(t *testing.T) {
	kp, err := GenerateKeys()
	require.NoError(t, err)
	require.NotNil(t, kp.SpendKey())
	require.NotNil(t, kp.ViewKey())

	// view key must be the standard derivation from the spend key
	vk, err := kp.SpendKey().View()
	require.NoError(t, err)
	require.Equal(t, kp.ViewKey().Hex(), vk.Hex())
}

func TestPrivateSpendKey_RoundTrip(t *testing.T) {
	kp, err := GenerateKeys()
	require.NoError(t, err)

	sk2, err := NewPrivateSpendKey(kp.SpendKey().Bytes())
	require.NoError(t, err)
	require.Equal(t, kp.SpendKey().Hex(), sk2.Hex())
	require.Equal(t, kp.SpendKey().Public().Hex(), sk2.Public().Hex())
}

func TestSumPrivateSpendKeys(t *testing.T) {
	a, err := GenerateKeys()
	require.NoError(t, err)
	b, err := GenerateKeys()
	require.NoError(t, err)

	sum := SumPrivateSpendKeys(a.SpendKey(), b.SpendKey())

	// the public key of the sum is the sum of the public keys
	pubSum := SumPublicKeys(a.SpendKey().Public(), b.SpendKey().Public())
	require.Equal(t, pubSum.Hex(), sum.Public().Hex())
}

func TestSumSpendAndViewKeys(t *testing.T) {
	a, err := GenerateKeys()
	require.NoError(t, err)
	b, err := GenerateKeys()
	require.NoError(t, err)

	sumPub := SumSpendAndViewKeys(a.PublicKeyPair(), b.PublicKeyPair())

	skSum := SumPrivateSpendKeys(a.SpendKey(), b.SpendKey())
	vkSum := SumPrivateViewKeys(a.ViewKey(), b.ViewKey())
	require.Equal(t, sumPub.SpendKey().Hex(), skSum.Public().Hex())
	require.Equal(t, sumPub.ViewKey().Hex(), vkSum.Public().Hex())
}

func TestAddress(t *testing.T) {
	kp, err := GenerateKeys()
	require.NoError(t, err)

	addr := kp.Address(common.Development)
	// mainnet/regtest addresses are 95 characters and start with '4'
	require.Equal(t, 95, len(addr))
	require.True(t, strings.HasPrefix(string(addr), "4"))

	stagenet := kp.Address(common.Stagenet)
	require.Equal(t, 95, len(stagenet))
	require.True(t, strings.HasPrefix(string(stagenet), "5"))
}

func TestNewPrivateViewKeyFromHex(t *testing.T) {
	kp, err := GenerateKeys()
	require.NoError(t, err)

	vk, err := NewPrivateViewKeyFromHex(kp.ViewKey().Hex())
	require.NoError(t, err)
	require.Equal(t, kp.ViewKey().Public().Hex(), vk.Public().Hex())
}
