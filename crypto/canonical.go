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

import "bytes"

// CanonicalFields holds the envelope fields that feed the canonical
// signing payload, in signing order. Keeping this as a narrow struct
// (rather than passing the whole envelope) keeps the crypto package free
// of a dependency on the envelope package.
type CanonicalFields struct {
	MessageID string
	Timestamp string // ISO-8601 UTC, ms precision, as it appears on the wire
	SwarmID   string
	Recipient string
	Type      string
	Content   string
}

// CanonicalPayload builds the exact byte string that gets signed:
//
//	message_id || "\0" || timestamp || "\0" || swarm_id || "\0" || recipient || "\0" || type || "\0" || content
//
// A null byte cannot appear in any of the UUID/timestamp/identifier
// fields, and content is the last field so an embedded null byte in it
// cannot be mistaken for a field separator.
func CanonicalPayload(f CanonicalFields) []byte {
	var buf bytes.Buffer
	buf.WriteString(f.MessageID)
	buf.WriteByte(0)
	buf.WriteString(f.Timestamp)
	buf.WriteByte(0)
	buf.WriteString(f.SwarmID)
	buf.WriteByte(0)
	buf.WriteString(f.Recipient)
	buf.WriteByte(0)
	buf.WriteString(f.Type)
	buf.WriteByte(0)
	buf.WriteString(f.Content)
	return buf.Bytes()
}

// Sign signs the canonical payload with the given key pair.
func Sign(f CanonicalFields, key KeyPair) ([]byte, error) {
	return key.Sign(CanonicalPayload(f))
}

// Verify checks the signature over the canonical payload against the
// given key pair's public key. It returns ErrInvalidSignature on mismatch.
func Verify(f CanonicalFields, signature []byte, key KeyPair) error {
	return key.Verify(CanonicalPayload(f), signature)
}
