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

package keys

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	swarmcrypto "github.com/swarmproto/swarmd/crypto"
)

// ed25519KeyPair implements the KeyPair interface for Ed25519 keys.
type ed25519KeyPair struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	id         string
}

// GenerateEd25519KeyPair generates a new Ed25519 key pair.
func GenerateEd25519KeyPair() (swarmcrypto.KeyPair, error) {
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return newEd25519KeyPair(privateKey, publicKey), nil
}

// LoadEd25519KeyPair reconstructs a key pair from a 32-byte seed, the form
// the node's identity directory persists on disk.
func LoadEd25519KeyPair(seed []byte) (swarmcrypto.KeyPair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: ed25519 seed must be %d bytes, got %d", swarmcrypto.ErrInvalidKeyFormat, ed25519.SeedSize, len(seed))
	}
	privateKey := ed25519.NewKeyFromSeed(seed)
	publicKey := privateKey.Public().(ed25519.PublicKey)
	return newEd25519KeyPair(privateKey, publicKey), nil
}

// LoadEd25519PublicKey wraps a bare 32-byte Ed25519 public key for
// verification only, used for cached peer keys fetched over /swarm/info.
func LoadEd25519PublicKey(pub []byte) (swarmcrypto.KeyPair, error) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: ed25519 public key must be %d bytes, got %d", swarmcrypto.ErrInvalidKeyFormat, ed25519.PublicKeySize, len(pub))
	}
	publicKey := ed25519.PublicKey(pub)
	hash := sha256.Sum256(publicKey)
	return &ed25519KeyPair{
		publicKey: publicKey,
		id:        hex.EncodeToString(hash[:8]),
	}, nil
}

func newEd25519KeyPair(privateKey ed25519.PrivateKey, publicKey ed25519.PublicKey) *ed25519KeyPair {
	hash := sha256.Sum256(publicKey)
	return &ed25519KeyPair{
		privateKey: privateKey,
		publicKey:  publicKey,
		id:         hex.EncodeToString(hash[:8]),
	}
}

// PublicKey returns the public key.
func (kp *ed25519KeyPair) PublicKey() crypto.PublicKey {
	return kp.publicKey
}

// PrivateKey returns the private key, or nil if this is a public-key-only handle.
func (kp *ed25519KeyPair) PrivateKey() crypto.PrivateKey {
	if kp.privateKey == nil {
		return nil
	}
	return kp.privateKey
}

// Type returns the key type.
func (kp *ed25519KeyPair) Type() swarmcrypto.KeyType {
	return swarmcrypto.KeyTypeEd25519
}

// Sign signs the given message.
func (kp *ed25519KeyPair) Sign(message []byte) ([]byte, error) {
	if kp.privateKey == nil {
		return nil, fmt.Errorf("cannot sign with a public-key-only handle")
	}
	return ed25519.Sign(kp.privateKey, message), nil
}

// Verify verifies the signature.
func (kp *ed25519KeyPair) Verify(message, signature []byte) error {
	if !ed25519.Verify(kp.publicKey, message, signature) {
		return swarmcrypto.ErrInvalidSignature
	}
	return nil
}

// ID returns a unique identifier for this key pair.
func (kp *ed25519KeyPair) ID() string {
	return kp.id
}

// Seed returns the 32-byte seed backing this key pair, for persistence.
func (kp *ed25519KeyPair) Seed() []byte {
	if kp.privateKey == nil {
		return nil
	}
	return kp.privateKey.Seed()
}
