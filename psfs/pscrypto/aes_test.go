package pscrypto

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCbcRoundTrip(t *testing.T) {
	iv := bytes.Repeat([]byte{0x22}, BlockSize)
	plain := []byte("0123456789abcdef0123456789ABCDEF")

	encrypted, err := EncryptAes128Cbc(plain, testKey, iv)
	require.NoError(t, err)
	assert.NotEqual(t, plain, encrypted)

	decrypted, err := DecryptAes128Cbc(encrypted, testKey, iv)
	require.NoError(t, err)
	assert.Equal(t, plain, decrypted)
}

func TestCbcRejectsPartialBlocks(t *testing.T) {
	iv := bytes.Repeat([]byte{0x22}, BlockSize)
	_, err := DecryptAes128Cbc([]byte("short"), testKey, iv)
	assert.Error(t, err)
	_, err = EncryptAes128Cbc([]byte("short"), testKey, iv)
	assert.Error(t, err)
	_, err = NewCBCReader(bytes.NewReader(nil), testKey, []byte{1, 2, 3})
	assert.Error(t, err)
}

func TestEcbRoundTrip(t *testing.T) {
	plain := bytes.Repeat([]byte{0x5A}, 2*BlockSize)
	encrypted, err := EncryptAes128Ecb(plain, testKey)
	require.NoError(t, err)
	// identical blocks encrypt identically
	assert.Equal(t, encrypted[:BlockSize], encrypted[BlockSize:])

	decrypted, err := DecryptAes128Ecb(encrypted, testKey)
	require.NoError(t, err)
	assert.Equal(t, plain, decrypted)
}

func TestHmacSha256(t *testing.T) {
	mac := HmacSha256([]byte("key"), []byte("The quick brown fox jumps over the lazy dog"))
	assert.Equal(t, "f7bc83f430538424b13298e6aa6fb143ef4d59a14946175997479dbc2d1a3cd8", hex.EncodeToString(mac))
}
