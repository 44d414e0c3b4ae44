package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
)

var (
	ErrKeyNotFound = errors.New("encryption key not found")
	ErrKeyNotReady = errors.New("key manager not initialized")
)

// maxVersions bounds how many rotated keys are probed.
const maxVersions = 10

// KeyManager holds every loaded key version and encrypts with the newest one.
type KeyManager struct {
	mu         sync.RWMutex
	currentVer int
	encryptors map[int]*Encryptor
}

// LoadKeyManager reads base64 keys through lookup: name is version 1, name_V2.. name_V10
// are rotations. Returns ErrKeyNotFound when the primary key is absent.
func LoadKeyManager(name string, lookup func(string) string) (*KeyManager, error) {
	km := &KeyManager{encryptors: make(map[int]*Encryptor)}

	if err := km.add(1, lookup(name)); err != nil {
		return nil, fmt.Errorf("load primary key: %w", err)
	}
	for v := 2; v <= maxVersions; v++ {
		raw := lookup(fmt.Sprintf("%s_V%d", name, v))
		if raw == "" {
			continue
		}
		if err := km.add(v, raw); err != nil {
			return nil, fmt.Errorf("load key v%d: %w", v, err)
		}
	}
	return km, nil
}

func (km *KeyManager) add(version int, keyBase64 string) error {
	if keyBase64 == "" {
		return ErrKeyNotFound
	}
	key, err := base64.StdEncoding.DecodeString(keyBase64)
	if err != nil {
		return fmt.Errorf("decode key: %w", err)
	}
	enc, err := NewEncryptor(key, version)
	if err != nil {
		return err
	}
	km.mu.Lock()
	defer km.mu.Unlock()
	km.encryptors[version] = enc
	if version > km.currentVer {
		km.currentVer = version
	}
	return nil
}

// Encrypt seals plaintext with the newest key.
func (km *KeyManager) Encrypt(plaintext string) (string, error) {
	km.mu.RLock()
	enc, ok := km.encryptors[km.currentVer]
	km.mu.RUnlock()
	if !ok {
		return "", ErrKeyNotReady
	}
	return enc.Encrypt(plaintext)
}

// Decrypt opens ciphertext with the key version it was sealed with.
func (km *KeyManager) Decrypt(ciphertext string) (string, error) {
	version := ParseVersion(ciphertext)
	if version == 0 {
		return "", ErrInvalidCiphertext
	}
	km.mu.RLock()
	enc, ok := km.encryptors[version]
	km.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("key version %d not available", version)
	}
	return enc.Decrypt(ciphertext)
}

// ReEncrypt moves a ciphertext onto the newest key.
func (km *KeyManager) ReEncrypt(ciphertext string) (string, error) {
	plaintext, err := km.Decrypt(ciphertext)
	if err != nil {
		return "", fmt.Errorf("decrypt for re-encryption: %w", err)
	}
	return km.Encrypt(plaintext)
}

// CurrentVersion returns the newest loaded key version.
func (km *KeyManager) CurrentVersion() int {
	km.mu.RLock()
	defer km.mu.RUnlock()
	return km.currentVer
}

// GenerateKey returns a new random base64 AES-256 key.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("generate random key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
