// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

// Package vault protects a node's Ed25519 signing seed at rest with a
// passphrase, so the seed file on disk is not usable by itself if
// copied. Owner-only (0600/0700) file permissions remain the baseline
// when no passphrase is configured; the vault is opt-in hardening.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

var (
	ErrKeyNotFound       = errors.New("vault: key not found")
	ErrInvalidPassphrase = errors.New("vault: invalid passphrase")
	ErrInvalidKeyID      = errors.New("vault: invalid key id")
)

// SecureVault stores and retrieves passphrase-encrypted signing seeds.
type SecureVault interface {
	StoreEncrypted(keyID string, seed []byte, passphrase string) error
	LoadDecrypted(keyID string, passphrase string) ([]byte, error)
	Delete(keyID string) error
	Exists(keyID string) bool
	ListKeys() []string
}

// EncryptedKeyData is the on-disk envelope for one sealed seed.
type EncryptedKeyData struct {
	Version    string    `json:"version"`
	KeyID      string    `json:"key_id"`
	Algorithm  string    `json:"algorithm"`
	Salt       string    `json:"salt"`
	IV         string    `json:"iv"`
	Ciphertext string    `json:"ciphertext"`
	CreatedAt  time.Time `json:"created_at"`
}

// FileVault implements SecureVault on the filesystem with AES-256-GCM,
// keyed by PBKDF2(passphrase, salt, 100000, SHA-256).
type FileVault struct {
	basePath string
	mu       sync.RWMutex
}

// NewFileVault opens (creating if absent) a vault directory with
// owner-only permissions.
func NewFileVault(basePath string) (*FileVault, error) {
	if err := os.MkdirAll(basePath, 0700); err != nil {
		return nil, fmt.Errorf("vault: create directory: %w", err)
	}
	return &FileVault{basePath: basePath}, nil
}

// StoreEncrypted seals seed under passphrase and writes it as keyID.json.
func (v *FileVault) StoreEncrypted(keyID string, seed []byte, passphrase string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if keyID == "" {
		return ErrInvalidKeyID
	}

	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("vault: generate salt: %w", err)
	}
	derivedKey := pbkdf2.Key([]byte(passphrase), salt, 100000, 32, sha256.New)

	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return fmt.Errorf("vault: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("vault: create gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("vault: generate nonce: %w", err)
	}
	ciphertext := gcm.Seal(nil, nonce, seed, nil)

	encData := EncryptedKeyData{
		Version:    "1.0",
		KeyID:      keyID,
		Algorithm:  "AES-256-GCM",
		Salt:       base64.StdEncoding.EncodeToString(salt),
		IV:         base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		CreatedAt:  time.Now(),
	}

	jsonData, err := json.MarshalIndent(encData, "", "  ")
	if err != nil {
		return fmt.Errorf("vault: marshal envelope: %w", err)
	}

	return os.WriteFile(v.keyPath(keyID), jsonData, 0600)
}

// LoadDecrypted reads keyID.json and unseals it with passphrase.
func (v *FileVault) LoadDecrypted(keyID string, passphrase string) ([]byte, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if keyID == "" {
		return nil, ErrInvalidKeyID
	}

	jsonData, err := os.ReadFile(v.keyPath(keyID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("vault: read envelope: %w", err)
	}

	var encData EncryptedKeyData
	if err := json.Unmarshal(jsonData, &encData); err != nil {
		return nil, fmt.Errorf("vault: unmarshal envelope: %w", err)
	}

	salt, err := base64.StdEncoding.DecodeString(encData.Salt)
	if err != nil {
		return nil, fmt.Errorf("vault: decode salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(encData.IV)
	if err != nil {
		return nil, fmt.Errorf("vault: decode iv: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(encData.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("vault: decode ciphertext: %w", err)
	}

	derivedKey := pbkdf2.Key([]byte(passphrase), salt, 100000, 32, sha256.New)
	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return nil, fmt.Errorf("vault: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: create gcm: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrInvalidPassphrase
	}
	return plaintext, nil
}

// SetPermissions changes the stored envelope's file mode, for operators
// who store a multi-agent node's keys under one vault directory and
// want to loosen permissions for a backup job, say.
func (v *FileVault) SetPermissions(keyID string, mode os.FileMode) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if keyID == "" {
		return ErrInvalidKeyID
	}
	if err := os.Chmod(v.keyPath(keyID), mode); err != nil {
		if os.IsNotExist(err) {
			return ErrKeyNotFound
		}
		return fmt.Errorf("vault: set permissions: %w", err)
	}
	return nil
}

// ListKeys returns every key ID with an envelope in this vault.
func (v *FileVault) ListKeys() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()

	var ids []string
	entries, err := os.ReadDir(v.basePath)
	if err != nil {
		return ids
	}
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".json" {
			ids = append(ids, entry.Name()[:len(entry.Name())-len(".json")])
		}
	}
	return ids
}

// Delete removes keyID's envelope.
func (v *FileVault) Delete(keyID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if keyID == "" {
		return ErrInvalidKeyID
	}
	if err := os.Remove(v.keyPath(keyID)); err != nil {
		if os.IsNotExist(err) {
			return ErrKeyNotFound
		}
		return fmt.Errorf("vault: delete: %w", err)
	}
	return nil
}

// Exists reports whether keyID has a stored envelope.
func (v *FileVault) Exists(keyID string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if keyID == "" {
		return false
	}
	_, err := os.Stat(v.keyPath(keyID))
	return err == nil
}

// keyPath sanitizes keyID against path traversal before joining it to
// the vault's base directory.
func (v *FileVault) keyPath(keyID string) string {
	safeKeyID := filepath.Base(keyID)
	return filepath.Join(v.basePath, safeKeyID+".json")
}

// MemoryVault implements SecureVault in memory, for tests that need a
// SecureVault without touching the filesystem.
type MemoryVault struct {
	mu   sync.RWMutex
	data map[string]EncryptedKeyData
}

// NewMemoryVault creates an empty in-memory vault.
func NewMemoryVault() *MemoryVault {
	return &MemoryVault{
		data: make(map[string]EncryptedKeyData),
	}
}

// StoreEncrypted seals seed with the same AES-256-GCM scheme as
// FileVault, keeping the envelope in memory instead of on disk.
func (m *MemoryVault) StoreEncrypted(keyID string, seed []byte, passphrase string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if keyID == "" {
		return ErrInvalidKeyID
	}

	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("vault: generate salt: %w", err)
	}
	derivedKey := pbkdf2.Key([]byte(passphrase), salt, 100000, 32, sha256.New)
	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return fmt.Errorf("vault: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("vault: create gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("vault: generate nonce: %w", err)
	}
	ciphertext := gcm.Seal(nil, nonce, seed, nil)

	m.data[keyID] = EncryptedKeyData{Salt: base64.StdEncoding.EncodeToString(salt), IV: base64.StdEncoding.EncodeToString(nonce), Ciphertext: base64.StdEncoding.EncodeToString(ciphertext)}
	return nil
}

// LoadDecrypted unseals keyID's in-memory envelope.
func (m *MemoryVault) LoadDecrypted(keyID string, passphrase string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if keyID == "" {
		return nil, ErrInvalidKeyID
	}
	encData, ok := m.data[keyID]
	if !ok {
		return nil, ErrKeyNotFound
	}

	salt, err := base64.StdEncoding.DecodeString(encData.Salt)
	if err != nil {
		return nil, fmt.Errorf("vault: decode salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(encData.IV)
	if err != nil {
		return nil, fmt.Errorf("vault: decode iv: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(encData.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("vault: decode ciphertext: %w", err)
	}

	derivedKey := pbkdf2.Key([]byte(passphrase), salt, 100000, 32, sha256.New)
	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return nil, fmt.Errorf("vault: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: create gcm: %w", err)
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrInvalidPassphrase
	}
	return plaintext, nil
}

// Delete removes keyID from memory.
func (m *MemoryVault) Delete(keyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.data[keyID]; !ok {
		return ErrKeyNotFound
	}
	delete(m.data, keyID)
	return nil
}

// Exists reports whether keyID has an in-memory envelope.
func (m *MemoryVault) Exists(keyID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[keyID]
	return ok
}

// ListKeys returns every key ID currently stored.
func (m *MemoryVault) ListKeys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.data))
	for id := range m.data {
		ids = append(ids, id)
	}
	return ids
}
