package crypto

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Well-known test vector key (hardhat account #0). Never funded on mainnet.
const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
const testAddr = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"

func TestSignerAddress(t *testing.T) {
	s, err := NewSigner(testKey, 137, 0)
	require.NoError(t, err)
	assert.Equal(t, testAddr, s.Address().Hex())

	// 0x prefix is accepted too.
	s2, err := NewSigner("0x"+testKey, 137, 0)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), s2.Address())
}

func TestSignerRejectsBadKey(t *testing.T) {
	_, err := NewSigner("not-hex", 137, 0)
	assert.Error(t, err)
}

func TestSignAuthMessage(t *testing.T) {
	s, err := NewSigner(testKey, 137, 0)
	require.NoError(t, err)

	sig, err := s.SignAuthMessage(s.Address().Hex(), 1700000000, 0)
	require.NoError(t, err)

	raw, err := hex.DecodeString(sig[2:])
	require.NoError(t, err)
	assert.Len(t, raw, 65)
	assert.Contains(t, []byte{27, 28}, raw[64])

	// Deterministic for fixed inputs.
	sig2, err := s.SignAuthMessage(s.Address().Hex(), 1700000000, 0)
	require.NoError(t, err)
	assert.Equal(t, sig, sig2)
}

func TestSignOrderAmounts(t *testing.T) {
	s, err := NewSigner(testKey, 137, 0)
	require.NoError(t, err)

	buy, err := s.SignOrder(OrderArgs{TokenID: "123456", Side: "buy", Price: 0.40, Size: 10})
	require.NoError(t, err)
	assert.Equal(t, "4000000", buy.MakerAmount) // 0.40 * 10 USDC at 6 decimals
	assert.Equal(t, "10000000", buy.TakerAmount)
	assert.Equal(t, "BUY", buy.Side)
	assert.Equal(t, testAddr, buy.Maker)
	assert.NotEmpty(t, buy.Signature)

	sell, err := s.SignOrder(OrderArgs{TokenID: "123456", Side: "sell", Price: 0.55, Size: 10})
	require.NoError(t, err)
	assert.Equal(t, "10000000", sell.MakerAmount)
	assert.Equal(t, "5500000", sell.TakerAmount)
	assert.Equal(t, "SELL", sell.Side)
}

func TestSignOrderRejectsInvalidArgs(t *testing.T) {
	s, err := NewSigner(testKey, 137, 0)
	require.NoError(t, err)

	_, err = s.SignOrder(OrderArgs{TokenID: "1", Side: "hold", Price: 0.5, Size: 1})
	assert.Error(t, err)

	_, err = s.SignOrder(OrderArgs{TokenID: "1", Side: "buy", Price: 0, Size: 1})
	assert.Error(t, err)
}

func TestL2HeadersDeterministic(t *testing.T) {
	auth := &HMACAuth{
		Key:        "key-id",
		Secret:     "c2VjcmV0LWJ5dGVz", // base64("secret-bytes")
		Passphrase: "pass",
	}

	h1 := auth.L2HeadersAt(testAddr, "POST", "/order", `{"x":1}`, 1700000000)
	h2 := auth.L2HeadersAt(testAddr, "POST", "/order", `{"x":1}`, 1700000000)
	assert.Equal(t, h1, h2)

	assert.Equal(t, testAddr, h1["POLY_ADDRESS"])
	assert.Equal(t, "key-id", h1["POLY_API_KEY"])
	assert.Equal(t, "1700000000", h1["POLY_TIMESTAMP"])
	assert.NotEmpty(t, h1["POLY_SIGNATURE"])

	// Different body, different signature.
	h3 := auth.L2HeadersAt(testAddr, "POST", "/order", `{"x":2}`, 1700000000)
	assert.NotEqual(t, h1["POLY_SIGNATURE"], h3["POLY_SIGNATURE"])
}

func TestHMACConfigured(t *testing.T) {
	assert.False(t, (*HMACAuth)(nil).Configured())
	assert.False(t, (&HMACAuth{Key: "k"}).Configured())
	assert.True(t, (&HMACAuth{Key: "k", Secret: "s", Passphrase: "p"}).Configured())
}

func TestHMACStringRedacts(t *testing.T) {
	auth := &HMACAuth{Key: "keykeykey", Secret: "secretsecret"}
	s := auth.String()
	assert.NotContains(t, s, "keykeykey")
	assert.NotContains(t, s, "secretsecret")
}

func TestKeyRoundTrip(t *testing.T) {
	blob, err := EncryptKey("0x"+testKey, "hunter2")
	require.NoError(t, err)

	got, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, testKey, got)

	_, err = DecryptKey(blob, "wrong")
	assert.Error(t, err)
}

func TestLoadKeyPrefersRaw(t *testing.T) {
	got, err := LoadKey(KeyConfig{RawPrivateKey: "0x" + testKey})
	require.NoError(t, err)
	assert.Equal(t, testKey, got)

	_, err = LoadKey(KeyConfig{})
	assert.Error(t, err)
}
