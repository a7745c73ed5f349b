package pscrypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"io"

	"github.com/connesc/cipherio"
)

func EncryptAes128Ecb(data, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(data)%BlockSize != 0 {
		return nil, errors.New("ecb input is not a multiple of the block size")
	}
	out := make([]byte, len(data))
	for i := 0; i < len(data); i += BlockSize {
		block.Encrypt(out[i:i+BlockSize], data[i:i+BlockSize])
	}
	return out, nil
}

func DecryptAes128Ecb(data, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(data)%BlockSize != 0 {
		return nil, errors.New("ecb input is not a multiple of the block size")
	}
	out := make([]byte, len(data))
	for i := 0; i < len(data); i += BlockSize {
		block.Decrypt(out[i:i+BlockSize], data[i:i+BlockSize])
	}
	return out, nil
}

// NewCBCReader decrypts src on the fly with AES-128-CBC.
func NewCBCReader(src io.Reader, key, iv []byte) (io.Reader, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != block.BlockSize() {
		return nil, errors.New("invalid iv size")
	}
	return cipherio.NewBlockReader(src, cipher.NewCBCDecrypter(block, iv)), nil
}

func DecryptAes128Cbc(data, key, iv []byte) ([]byte, error) {
	if len(data)%BlockSize != 0 {
		return nil, errors.New("cbc input is not a multiple of the block size")
	}
	r, err := NewCBCReader(bytes.NewReader(data), key, iv)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}

func EncryptAes128Cbc(data, key, iv []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(data)%BlockSize != 0 {
		return nil, errors.New("cbc input is not a multiple of the block size")
	}
	out := make([]byte, len(data))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, data)
	return out, nil
}

// HmacSha256 is the PFD v4 real key derivation.
func HmacSha256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}
