// Package crypto encrypts credentials at rest. The chat OAuth token and its
// refresh token are the only secrets the bot persists; they are sealed with
// AES-256-GCM before they touch the database.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

// Cipher seals and opens small secrets. Implementations must authenticate the
// ciphertext so a tampered row fails loudly instead of yielding garbage.
type Cipher interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(ciphertext []byte) ([]byte, error)
}

// AESCipher is AES-256-GCM. Output layout is nonce || ciphertext || tag, with
// a fresh random nonce per call.
type AESCipher struct {
	key []byte
}

// NewAES builds a cipher from a base64-encoded 32-byte key, the kind
// `openssl rand -base64 32` produces.
func NewAES(base64Key string) (*AESCipher, error) {
	if base64Key == "" {
		return nil, fmt.Errorf("crypto: empty key")
	}
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("crypto: key is not valid base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("crypto: key must decode to 32 bytes, got %d", len(key))
	}
	return &AESCipher{key: key}, nil
}

func (c *AESCipher) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("crypto: new cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// Seal encrypts and authenticates plaintext.
func (c *AESCipher) Seal(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("crypto: empty plaintext")
	}
	gcm, err := c.gcm()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("crypto: nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Open authenticates and decrypts ciphertext produced by Seal.
func (c *AESCipher) Open(ciphertext []byte) ([]byte, error) {
	gcm, err := c.gcm()
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("crypto: ciphertext shorter than nonce")
	}
	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		// Deliberately vague: the distinction between corruption and a
		// wrong key is not useful to callers and could leak.
		return nil, fmt.Errorf("crypto: authentication failed")
	}
	return plaintext, nil
}

// SealString seals a string and base64-encodes the result for storage in a
// text column. Empty input passes through untouched.
func SealString(c Cipher, plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	sealed, err := c.Seal([]byte(plaintext))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// OpenString reverses SealString.
func OpenString(c Cipher, encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("crypto: ciphertext is not valid base64: %w", err)
	}
	plaintext, err := c.Open(sealed)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
