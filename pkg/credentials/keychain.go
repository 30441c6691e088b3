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
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/hkdf"
)

const (
	// keychainService is the service name for this engine's keychain entries.
	keychainService = "workflow-engine"

	// masterKeyName is the keychain key for a directly-provisioned master key.
	masterKeyName = "credential-master-key"

	// masterSeedName is the keychain key for the HKDF seed, used when no
	// direct master key has been provisioned.
	masterSeedName = "credential-master-key-seed"

	// masterKeyEnvVar is the environment variable fallback for a
	// directly-provisioned master key (§4.D).
	masterKeyEnvVar = "ENGINE_MASTER_KEY"

	hkdfInfo = "workflow-engine credential master key v1"
)

var (
	// ErrKeychainUnavailable is returned when the system keychain is not accessible.
	ErrKeychainUnavailable = errors.New("system keychain unavailable")

	// ErrMasterKeyNotFound is returned when no master key or seed is configured.
	ErrMasterKeyNotFound = errors.New("master key not found in keychain or environment")

	generatedSeedCache   []byte
	generatedSeedCacheMu sync.Mutex
)

// KeyProvider resolves the 32-byte AES-256 master key used to encrypt every
// Key row, per §4.D's resolution order:
//
//  1. System keychain direct key (OS keychain via zalando/go-keyring)
//  2. ENGINE_MASTER_KEY environment variable (headless/CI fallback)
//  3. An HKDF-derived key from a seed stored in the keychain (or generated
//     and reported once if the keychain is unavailable)
type KeyProvider struct {
	keychainAvailable bool
}

// NewKeyProvider probes keychain availability without failing if absent.
func NewKeyProvider() *KeyProvider {
	p := &KeyProvider{keychainAvailable: true}
	_, err := keyring.Get(keychainService, "__availability_probe__")
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		p.keychainAvailable = false
	}
	return p
}

// GetMasterKey returns a directly-provisioned key from the keychain or
// ENGINE_MASTER_KEY, without falling back to HKDF derivation.
func (p *KeyProvider) GetMasterKey() ([]byte, error) {
	if p.keychainAvailable {
		keyStr, err := keyring.Get(keychainService, masterKeyName)
		if err == nil {
			return decodeKey(keyStr, "keychain master key")
		}
		if !errors.Is(err, keyring.ErrNotFound) {
			p.keychainAvailable = false
		}
	}

	if envKey := os.Getenv(masterKeyEnvVar); envKey != "" {
		return decodeKey(envKey, masterKeyEnvVar)
	}

	return nil, ErrMasterKeyNotFound
}

// GetOrCreateMasterKey resolves the master key, falling back to deriving
// one via HKDF from a seed (stored in the keychain, or generated fresh if the
// keychain is unavailable, in which case the derived key is printed to
// stderr as an ENGINE_MASTER_KEY value) when no direct key is configured
// anywhere.
func (p *KeyProvider) GetOrCreateMasterKey() ([]byte, error) {
	if key, err := p.GetMasterKey(); err == nil {
		return key, nil
	} else if !errors.Is(err, ErrMasterKeyNotFound) {
		return nil, err
	}

	seed, err := p.getOrCreateSeed()
	if err != nil {
		return nil, err
	}
	return deriveMasterKey(seed)
}

func (p *KeyProvider) getOrCreateSeed() ([]byte, error) {
	if p.keychainAvailable {
		seedStr, err := keyring.Get(keychainService, masterSeedName)
		if err == nil {
			return decodeKey(seedStr, "keychain master key seed")
		}
		if !errors.Is(err, keyring.ErrNotFound) {
			p.keychainAvailable = false
		}
	}

	generatedSeedCacheMu.Lock()
	defer generatedSeedCacheMu.Unlock()
	if generatedSeedCache != nil {
		return generatedSeedCache, nil
	}

	seed, err := generateKey()
	if err != nil {
		return nil, fmt.Errorf("generate master key seed: %w", err)
	}
	seedStr := base64.StdEncoding.EncodeToString(seed)

	if p.keychainAvailable {
		if err := keyring.Set(keychainService, masterSeedName, seedStr); err == nil {
			return seed, nil
		}
		p.keychainAvailable = false
	}

	generatedSeedCache = seed
	derived, err := deriveMasterKey(seed)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(os.Stderr, "\n"+
		"System keychain unavailable. To persist the credential master key, set:\n\n"+
		"export %s=%s\n\n"+
		"WARNING: store this value securely. If lost, encrypted credentials cannot be recovered.\n\n",
		masterKeyEnvVar, base64.StdEncoding.EncodeToString(derived))

	return seed, nil
}

// deriveMasterKey expands seed into a 32-byte AES-256 key via HKDF-SHA256.
func deriveMasterKey(seed []byte) ([]byte, error) {
	reader := hkdf.New(sha256.New, seed, nil, []byte(hkdfInfo))
	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("derive master key: %w", err)
	}
	return key, nil
}

func decodeKey(encoded, source string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", source, err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid %s length: expected 32 bytes, got %d", source, len(key))
	}
	return key, nil
}

// IsKeychainAvailable reports whether the system keychain is accessible.
func (p *KeyProvider) IsKeychainAvailable() bool { return p.keychainAvailable }
