package data_portal

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

// The backend shares one fixed key/IV with every client and uses it to
// obfuscate path query parameters. This is not a security boundary, just the
// wire format the existing backend expects; tokens derived from it are only as
// secret as the paths they encode.
const (
	defaultPathKeyHex = "603deb1015ca71be2b73aef0857d7781f352c073b6108d72d9810a30914dff4f"
	defaultPathIVHex  = "000102030405060708090a0b0c0d0e0f"
)

var (
	ErrBadCiphertext = errors.New("malformed ciphertext")
)

// A PathCipher produces the AES-256-CBC/PKCS#7, base64-encoded form of a
// remote path that the backend expects in `path` query parameters and
// download-token requests.
type PathCipher struct {
	block cipher.Block
	iv    []byte
}

// NewPathCipher creates a PathCipher from hex-encoded key and IV. The key must
// be a valid AES key length and the IV one block long.
func NewPathCipher(keyHex, ivHex string) (*PathCipher, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid key: %w", err)
	}
	iv, err := hex.DecodeString(ivHex)
	if err != nil {
		return nil, fmt.Errorf("invalid IV: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != block.BlockSize() {
		return nil, fmt.Errorf("IV must be %d bytes, got %d", block.BlockSize(), len(iv))
	}
	return &PathCipher{block: block, iv: iv}, nil
}

// DefaultPathCipher returns a cipher using the key/IV baked into the deployed
// backend.
func DefaultPathCipher() *PathCipher {
	c, err := NewPathCipher(defaultPathKeyHex, defaultPathIVHex)
	if err != nil {
		panic(err)
	}
	return c
}

// Encrypt returns the base64 ciphertext of text.
func (c *PathCipher) Encrypt(text string) string {
	padded := pkcs7Pad([]byte(text), c.block.BlockSize())
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(c.block, c.iv).CryptBlocks(out, padded)
	return base64.StdEncoding.EncodeToString(out)
}

// Decrypt reverses Encrypt. The backend is the usual consumer of ciphertexts;
// this exists for diagnostics and tests.
func (c *PathCipher) Decrypt(s string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadCiphertext, err)
	}
	if len(data) == 0 || len(data)%c.block.BlockSize() != 0 {
		return "", ErrBadCiphertext
	}
	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(c.block, c.iv).CryptBlocks(out, data)
	return pkcs7Unpad(out, c.block.BlockSize())
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) (string, error) {
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return "", ErrBadCiphertext
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return "", ErrBadCiphertext
		}
	}
	return string(data[:len(data)-n]), nil
}
