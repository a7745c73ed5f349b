package pscrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"sync"
)

const BlockSize = 0x10

var ErrMissingKey = errors.New("missing key for retail keystream")

// AddCounter adds k to a 128 bit big endian counter.
func AddCounter(seed [BlockSize]byte, k uint64) [BlockSize]byte {
	result := seed
	carry := k
	for i := BlockSize - 1; i >= 0 && carry != 0; i-- {
		sum := uint64(result[i]) + carry&0xFF
		result[i] = byte(sum)
		carry = carry>>8 + sum>>8
	}
	return result
}

func incrementCounter(counter *[BlockSize]byte) {
	for i := BlockSize - 1; i >= 0; i-- {
		counter[i]++
		if counter[i] != 0 {
			return
		}
	}
}

func NextMultipleOf16(n int) int {
	return (n + 0xF) &^ 0xF
}

// Keystream derives the PKG XOR stream. It holds no position: every call
// rebuilds the counters from the seed and the block index of the request.
type Keystream struct {
	seed       [BlockSize]byte
	dataOffset int64
	debug      bool
	key        []byte
	block      cipher.Block

	mu         sync.Mutex
	alternates map[string]cipher.Block
}

// NewRetailKeystream seeds the counters with pkg_data_riv and encrypts them
// with AES-128-ECB under key.
func NewRetailKeystream(riv [BlockSize]byte, dataOffset int64, key []byte) (*Keystream, error) {
	if len(key) == 0 {
		return nil, ErrMissingKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return &Keystream{
		seed:       riv,
		dataOffset: dataOffset,
		key:        append([]byte{}, key...),
		block:      block,
		alternates: map[string]cipher.Block{},
	}, nil
}

// NewDebugKeystream seeds the counters with the header digest and uses them
// unencrypted.
func NewDebugKeystream(digest [BlockSize]byte, dataOffset int64) *Keystream {
	return &Keystream{
		seed:       digest,
		dataOffset: dataOffset,
		debug:      true,
		alternates: map[string]cipher.Block{},
	}
}

func (k *Keystream) Key() []byte {
	return k.key
}

func (k *Keystream) IsDebug() bool {
	return k.debug
}

func (k *Keystream) cipherFor(key []byte) (cipher.Block, error) {
	if key == nil || string(key) == string(k.key) {
		return k.block, nil
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if block, ok := k.alternates[string(key)]; ok {
		return block, nil
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	k.alternates[string(key)] = block
	return block, nil
}

// Generate returns the keystream covering [offset, offset+n). The buffer
// starts at the 16 byte block holding offset, so the first
// (offset-dataOffset)%16 bytes belong to data before the request.
func (k *Keystream) Generate(offset int64, n int, key []byte) ([]byte, error) {
	if offset < k.dataOffset {
		return nil, errors.New("keystream offset is before the data offset")
	}
	relative := offset - k.dataOffset
	blockIndex := uint64(relative / BlockSize)
	skip := int(relative % BlockSize)
	size := NextMultipleOf16(skip + n)

	stream := make([]byte, size)
	counter := AddCounter(k.seed, blockIndex)
	for i := 0; i < size; i += BlockSize {
		copy(stream[i:i+BlockSize], counter[:])
		incrementCounter(&counter)
	}
	if k.debug {
		return stream, nil
	}

	block, err := k.cipherFor(key)
	if err != nil {
		return nil, err
	}
	for i := 0; i < size; i += BlockSize {
		block.Encrypt(stream[i:i+BlockSize], stream[i:i+BlockSize])
	}
	return stream, nil
}

// XORKeyStream decrypts data read from absolute file position offset in place.
func (k *Keystream) XORKeyStream(data []byte, offset int64, key []byte) error {
	stream, err := k.Generate(offset, len(data), key)
	if err != nil {
		return err
	}
	skip := int((offset - k.dataOffset) % BlockSize)
	for i := range data {
		data[i] ^= stream[i+skip]
	}
	return nil
}
