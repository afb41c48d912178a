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

package crypto

import (
	"crypto"
	"errors"
)

// KeyType identifies a key algorithm. The swarm protocol signs everything
// with Ed25519; the type exists so stored keys are self-describing.
type KeyType string

const (
	KeyTypeEd25519 KeyType = "Ed25519"
)

// Common errors
var (
	ErrKeyNotFound      = errors.New("key not found")
	ErrInvalidKeyType   = errors.New("invalid key type")
	ErrInvalidKeyFormat = errors.New("invalid key format")
	ErrKeyExists        = errors.New("key already exists")
	ErrInvalidSignature = errors.New("invalid signature")
)

// KeyPair represents a cryptographic key pair belonging to one agent.
type KeyPair interface {
	// PublicKey returns the public key.
	PublicKey() crypto.PublicKey

	// PrivateKey returns the private key.
	PrivateKey() crypto.PrivateKey

	// Type returns the key type.
	Type() KeyType

	// Sign signs the given message.
	Sign(message []byte) ([]byte, error)

	// Verify verifies the signature against this key pair's public key.
	Verify(message, signature []byte) error

	// ID returns a unique identifier for this key pair.
	ID() string
}

// KeyStorage provides secure storage for keys, keyed by agent_id.
type KeyStorage interface {
	Store(id string, keyPair KeyPair) error
	Load(id string) (KeyPair, error)
	Delete(id string) error
	List() ([]string, error)
	Exists(id string) bool
}
