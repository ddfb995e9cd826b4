// Package cryptox implements the symmetric primitives used by the drive
// protocol: AES in CBC mode with PKCS#7 padding, plus a secure random source.
// All functions are pure over their inputs and safe for concurrent use.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
)

// ErrDecryption indicates a failed decryption: wrong key or IV, a truncated
// ciphertext, or invalid padding. Match with errors.Is.
var ErrDecryption = errors.New("decryption failed")

// EncryptCBC encrypts plaintext with AES-CBC and PKCS#7 padding.
//
// The key must be 16, 24 or 32 bytes; the iv must be exactly one AES block
// (16 bytes). The inputs are not modified.
func EncryptCBC(plaintext, iv, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cbc encrypt: %w", err)
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("cbc encrypt: iv must be %d bytes, got %d", aes.BlockSize, len(iv))
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out, nil
}

// DecryptCBC reverses EncryptCBC. It returns ErrDecryption when the key or
// IV is the wrong length, the ciphertext is not block-aligned, or the
// padding does not verify.
func DecryptCBC(ciphertext, iv, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("%w: iv must be %d bytes, got %d", ErrDecryption, aes.BlockSize, len(iv))
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d is not block-aligned", ErrDecryption, len(ciphertext))
	}

	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ciphertext)
	return pkcs7Unpad(padded, aes.BlockSize)
}

// RandomBytes returns n cryptographically secure random bytes.
func RandomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand is documented never to fail on supported platforms.
		panic(fmt.Sprintf("cryptox: reading random bytes: %v", err))
	}
	return b
}

// Wipe zeroes a sensitive buffer (passwords, derived keys) once it is no
// longer needed.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	pad := blockSize - len(data)%blockSize
	out := make([]byte, len(data)+pad)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(pad)
	}
	return out
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("%w: invalid padded length %d", ErrDecryption, len(data))
	}
	pad := int(data[len(data)-1])
	if pad == 0 || pad > blockSize {
		return nil, fmt.Errorf("%w: invalid padding", ErrDecryption)
	}
	for _, b := range data[len(data)-pad:] {
		if int(b) != pad {
			return nil, fmt.Errorf("%w: invalid padding", ErrDecryption)
		}
	}
	return data[:len(data)-pad], nil
}
