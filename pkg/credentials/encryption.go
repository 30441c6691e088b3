// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrInvalidCiphertext is returned when ciphertext cannot be decrypted.
	ErrInvalidCiphertext = errors.New("invalid ciphertext")

	// ErrInvalidKey is returned when the encryption key is invalid.
	ErrInvalidKey = errors.New("invalid encryption key")
)

// aesEncryptor implements credential encryption using AES-256-GCM. Unlike a
// self-describing ciphertext blob, the nonce is returned separately so it
// can be persisted in the Key row's own IV column (§4.D's Key shape), not
// prepended to the ciphertext.
type aesEncryptor struct {
	aead cipher.AEAD
}

// newAESEncryptor builds an AES-256-GCM encryptor. masterKey must be
// exactly 32 bytes.
func newAESEncryptor(masterKey []byte) (*aesEncryptor, error) {
	if len(masterKey) != 32 {
		return nil, fmt.Errorf("%w: key must be 32 bytes for AES-256, got %d bytes", ErrInvalidKey, len(masterKey))
	}
	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM cipher: %w", err)
	}
	return &aesEncryptor{aead: aead}, nil
}

// encrypt returns base64 ciphertext and base64 nonce for plaintext.
func (e *aesEncryptor) encrypt(plaintext string) (ciphertext, iv string, err error) {
	if plaintext == "" {
		return "", "", errors.New("plaintext cannot be empty")
	}
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := e.aead.Seal(nil, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), base64.StdEncoding.EncodeToString(nonce), nil
}

// decrypt reverses encrypt given the same base64 ciphertext and nonce.
func (e *aesEncryptor) decrypt(ciphertext, iv string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(iv)
	if err != nil {
		return "", fmt.Errorf("decode iv: %w", err)
	}
	if len(nonce) != e.aead.NonceSize() {
		return "", fmt.Errorf("%w: unexpected nonce size %d", ErrInvalidCiphertext, len(nonce))
	}
	plaintext, err := e.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	return string(plaintext), nil
}

// generateKey returns a cryptographically secure random 32-byte AES-256 key.
func generateKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generate random key: %w", err)
	}
	return key, nil
}
