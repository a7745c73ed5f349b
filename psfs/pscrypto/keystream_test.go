package pscrypto

import (
	"bytes"
	"crypto/aes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testKey = []byte{0x2e, 0x7b, 0x71, 0xd7, 0xc9, 0xc9, 0xa1, 0x4e, 0xa3, 0x22, 0x1f, 0x18, 0x88, 0x28, 0xb8, 0xf8}
	testRiv = [BlockSize]byte{0x10, 0x11, 0x12, 0x13, 0x14, 0x15, 0x16, 0x17, 0x18, 0x19, 0x1a, 0x1b, 0x1c, 0x1d, 0x1e, 0xff}
)

const testDataOffset = 0x140

func TestAddCounterCarries(t *testing.T) {
	var allFF [BlockSize]byte
	for i := range allFF {
		allFF[i] = 0xFF
	}
	assert.Equal(t, [BlockSize]byte{}, AddCounter(allFF, 1))

	seed := [BlockSize]byte{15: 0xFF}
	assert.Equal(t, [BlockSize]byte{14: 0x01, 15: 0x00}, AddCounter(seed, 1))
	assert.Equal(t, [BlockSize]byte{13: 0x01, 14: 0x00, 15: 0xFF}, AddCounter(seed, 0x10000))
	assert.Equal(t, seed, AddCounter(seed, 0))
}

func TestNextMultipleOf16(t *testing.T) {
	assert.Equal(t, 0, NextMultipleOf16(0))
	assert.Equal(t, 16, NextMultipleOf16(1))
	assert.Equal(t, 16, NextMultipleOf16(16))
	assert.Equal(t, 32, NextMultipleOf16(17))
}

func TestRetailKeystreamDeterministic(t *testing.T) {
	ks, err := NewRetailKeystream(testRiv, testDataOffset, testKey)
	require.NoError(t, err)

	first, err := ks.Generate(testDataOffset+0x35, 100, nil)
	require.NoError(t, err)
	second, err := ks.Generate(testDataOffset+0x35, 100, nil)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, first, NextMultipleOf16(5+100))
}

func TestRetailKeystreamFirstBlock(t *testing.T) {
	ks, err := NewRetailKeystream(testRiv, testDataOffset, testKey)
	require.NoError(t, err)
	stream, err := ks.Generate(testDataOffset, BlockSize, nil)
	require.NoError(t, err)

	block, err := aes.NewCipher(testKey)
	require.NoError(t, err)
	expected := make([]byte, BlockSize)
	block.Encrypt(expected, testRiv[:])
	assert.Equal(t, expected, stream)

	// the second counter carries into byte 14
	next, err := ks.Generate(testDataOffset+BlockSize, BlockSize, nil)
	require.NoError(t, err)
	counter := AddCounter(testRiv, 1)
	block.Encrypt(expected, counter[:])
	assert.Equal(t, expected, next)
}

func TestKeystreamBlockAlignment(t *testing.T) {
	ks, err := NewRetailKeystream(testRiv, testDataOffset, testKey)
	require.NoError(t, err)
	full, err := ks.Generate(testDataOffset, 0x80, nil)
	require.NoError(t, err)

	for _, c := range []struct {
		offset int64
		n      int
	}{
		{5, 20},
		{0x15, 10},
		{0x20, 16},
		{0x3F, 1},
		{0x41, 0x30},
	} {
		part, err := ks.Generate(testDataOffset+c.offset, c.n, nil)
		require.NoError(t, err)
		start := int(c.offset) &^ 0xF
		assert.Equal(t, full[start:start+len(part)], part, "offset 0x%X", c.offset)
	}
}

func TestXORKeyStreamRoundTrip(t *testing.T) {
	ks, err := NewRetailKeystream(testRiv, testDataOffset, testKey)
	require.NoError(t, err)
	plain := bytes.Repeat([]byte("PS3 package data"), 5)
	data := append([]byte{}, plain...)

	require.NoError(t, ks.XORKeyStream(data, testDataOffset+7, nil))
	assert.NotEqual(t, plain, data)
	require.NoError(t, ks.XORKeyStream(data, testDataOffset+7, nil))
	assert.Equal(t, plain, data)
}

func TestXORKeyStreamMatchesWholeRead(t *testing.T) {
	ks, err := NewRetailKeystream(testRiv, testDataOffset, testKey)
	require.NoError(t, err)
	plain := bytes.Repeat([]byte{0xAB}, 0x60)
	whole := append([]byte{}, plain...)
	require.NoError(t, ks.XORKeyStream(whole, testDataOffset, nil))

	piece := append([]byte{}, plain[0x13:0x31]...)
	require.NoError(t, ks.XORKeyStream(piece, testDataOffset+0x13, nil))
	assert.Equal(t, whole[0x13:0x31], piece)
}

func TestAlternateKey(t *testing.T) {
	ks, err := NewRetailKeystream(testRiv, testDataOffset, testKey)
	require.NoError(t, err)
	other := bytes.Repeat([]byte{0x42}, BlockSize)

	defaultStream, err := ks.Generate(testDataOffset, 32, nil)
	require.NoError(t, err)
	otherStream, err := ks.Generate(testDataOffset, 32, other)
	require.NoError(t, err)
	assert.NotEqual(t, defaultStream, otherStream)

	again, err := ks.Generate(testDataOffset, 32, other)
	require.NoError(t, err)
	assert.Equal(t, otherStream, again)

	same, err := ks.Generate(testDataOffset, 32, testKey)
	require.NoError(t, err)
	assert.Equal(t, defaultStream, same)
}

func TestDebugKeystreamUsesRawCounters(t *testing.T) {
	digest := [BlockSize]byte{0: 0xAA, 15: 0x01}
	ks := NewDebugKeystream(digest, testDataOffset)
	assert.True(t, ks.IsDebug())

	stream, err := ks.Generate(testDataOffset, 2*BlockSize, nil)
	require.NoError(t, err)
	assert.Equal(t, digest[:], stream[:BlockSize])
	next := AddCounter(digest, 1)
	assert.Equal(t, next[:], stream[BlockSize:])
}

func TestKeystreamErrors(t *testing.T) {
	_, err := NewRetailKeystream(testRiv, testDataOffset, nil)
	assert.ErrorIs(t, err, ErrMissingKey)

	ks, err := NewRetailKeystream(testRiv, testDataOffset, testKey)
	require.NoError(t, err)
	_, err = ks.Generate(testDataOffset-1, 16, nil)
	assert.Error(t, err)
}
