// Package cryptoutil encrypts upstream OAuth tokens at rest using AES-256-CBC
// with an scrypt-derived key, in the same "{iv_hex}:{ciphertext_hex}" wire
// format the Mira-AI desktop app uses so an on-disk account store can be
// shared between the two.
package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/scrypt"
)

// Box derives and caches per-salt AES keys from a single master passphrase.
type Box struct {
	masterKey string
	mu        sync.RWMutex
	derived   map[string][]byte
}

func NewBox(masterKey string) *Box {
	return &Box{
		masterKey: masterKey,
		derived:   make(map[string][]byte),
	}
}

// DeriveKey derives an AES-256 key via scrypt for the given salt, caching the result.
func (b *Box) DeriveKey(salt string) ([]byte, error) {
	b.mu.RLock()
	if key, ok := b.derived[salt]; ok {
		b.mu.RUnlock()
		return key, nil
	}
	b.mu.RUnlock()

	key, err := scrypt.Key([]byte(b.masterKey), []byte(salt), 32768, 8, 1, 32)
	if err != nil {
		return nil, fmt.Errorf("scrypt derive: %w", err)
	}

	b.mu.Lock()
	b.derived[salt] = key
	b.mu.Unlock()

	return key, nil
}

// Encrypt encrypts plaintext with AES-256-CBC and a random IV, salt-scoped.
func (b *Box) Encrypt(plaintext, salt string) (string, error) {
	key, err := b.DeriveKey(salt)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("aes cipher: %w", err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("rand iv: %w", err)
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(ciphertext), nil
}

// Decrypt reverses Encrypt.
func (b *Box) Decrypt(encrypted, salt string) (string, error) {
	key, err := b.DeriveKey(salt)
	if err != nil {
		return "", err
	}

	parts := strings.SplitN(encrypted, ":", 2)
	if len(parts) != 2 {
		return "", errors.New("cryptoutil: invalid encrypted format, missing ':'")
	}

	iv, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("decode iv: %w", err)
	}
	if len(iv) != aes.BlockSize {
		return "", fmt.Errorf("invalid iv length: %d", len(iv))
	}

	ciphertext, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	if len(ciphertext)%aes.BlockSize != 0 {
		return "", fmt.Errorf("ciphertext not block-aligned: %d", len(ciphertext))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("aes cipher: %w", err)
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	unpadded, err := pkcs7Unpad(plaintext, aes.BlockSize)
	if err != nil {
		return "", fmt.Errorf("unpad: %w", err)
	}

	return string(unpadded), nil
}

// HashAPIKey returns SHA-256(apiKey + masterKey), used to store API keys as
// lookup hashes rather than plaintext.
func (b *Box) HashAPIKey(apiKey string) string {
	h := sha256.Sum256([]byte(apiKey + b.masterKey))
	return hex.EncodeToString(h[:])
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	pad := make([]byte, padding)
	for i := range pad {
		pad[i] = byte(padding)
	}
	return append(data, pad...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("empty data")
	}
	padding := int(data[len(data)-1])
	if padding == 0 || padding > blockSize || padding > len(data) {
		return nil, fmt.Errorf("invalid padding: %d", padding)
	}
	for i := len(data) - padding; i < len(data); i++ {
		if data[i] != byte(padding) {
			return nil, errors.New("invalid padding bytes")
		}
	}
	return data[:len(data)-padding], nil
}
