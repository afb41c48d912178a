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

// Package invite generates and validates the EdDSA JWT invite tokens that
// grant join rights to a swarm. Token-use metering (max_uses,
// revocation) is store state, not a JWT claim the library can enforce, so
// this package stops at cryptographic and URL-binding validation; callers
// combine Validate's result with a store lookup on TokenHash to apply
// exhaustion and revocation rules.
package invite

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"

	swarmcrypto "github.com/swarmproto/swarmd/crypto"
	"github.com/swarmproto/swarmd/internal/swarmerr"
)

// Claims is the invite token payload.
type Claims struct {
	SwarmID   string `json:"swarm_id"`
	Master    string `json:"master"`
	Endpoint  string `json:"endpoint"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt *int64 `json:"expires_at,omitempty"`
	MaxUses   *int   `json:"max_uses,omitempty"`
}

var _ jwt.Claims = Claims{}

func (c Claims) GetExpirationTime() (*jwt.NumericDate, error) {
	if c.ExpiresAt == nil {
		return nil, nil
	}
	return jwt.NewNumericDate(time.Unix(*c.ExpiresAt, 0)), nil
}

func (c Claims) GetIssuedAt() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(c.IssuedAt, 0)), nil
}

func (c Claims) GetNotBefore() (*jwt.NumericDate, error) { return nil, nil }
func (c Claims) GetIssuer() (string, error)              { return c.Master, nil }
func (c Claims) GetSubject() (string, error)             { return c.SwarmID, nil }
func (c Claims) GetAudience() (jwt.ClaimStrings, error)  { return nil, nil }

// clockSkew is the validation tolerance for invite JWT timestamps.
const clockSkew = 60 * time.Second

// Generate signs a new invite token for swarmID/master/endpoint, expiring
// after expiresIn (zero means never) and usable up to maxUses times (zero
// means unlimited). It returns the signed JWT, its SHA-256 hash (the key
// the store uses to meter usage), and the swarm:// invite URL.
func Generate(swarmID, master, endpoint string, signer swarmcrypto.KeyPair, expiresIn time.Duration, maxUses int) (token, tokenHash, inviteURL string, err error) {
	priv, ok := signer.PrivateKey().(ed25519.PrivateKey)
	if !ok || priv == nil {
		return "", "", "", fmt.Errorf("invite: signer has no usable Ed25519 private key")
	}

	claims := Claims{
		SwarmID:  swarmID,
		Master:   master,
		Endpoint: endpoint,
		IssuedAt: time.Now().Unix(),
	}
	if expiresIn > 0 {
		exp := time.Now().Add(expiresIn).Unix()
		claims.ExpiresAt = &exp
	}
	if maxUses > 0 {
		claims.MaxUses = &maxUses
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(priv)
	if err != nil {
		return "", "", "", fmt.Errorf("invite: sign token: %w", err)
	}

	host, err := endpointHost(endpoint)
	if err != nil {
		return "", "", "", fmt.Errorf("invite: %w", err)
	}

	hash := sha256.Sum256([]byte(signed))
	return signed, hex.EncodeToString(hash[:]), fmt.Sprintf("swarm://%s@%s?token=%s", swarmID, host, signed), nil
}

// Validate runs the JWT-level checks in a fixed order: parse,
// verify alg is EdDSA, verify signature, check not expired, check swarm_id
// and host in inviteURL match the payload. It returns the parsed claims and
// the token's SHA-256 hash for the caller's store-backed exhaustion and
// revocation check.
func Validate(token, inviteURL string, masterPub swarmcrypto.KeyPair) (*Claims, string, error) {
	urlSwarmID, urlHost, urlToken, err := ParseInviteURL(inviteURL)
	if err != nil {
		return nil, "", swarmerr.Wrap(swarmerr.KindInvalidToken, "malformed invite URL", err)
	}
	if urlToken != token {
		return nil, "", swarmerr.New(swarmerr.KindInvalidToken, "invite URL token does not match presented token")
	}

	pub, ok := masterPub.PublicKey().(ed25519.PublicKey)
	if !ok {
		return nil, "", swarmerr.New(swarmerr.KindInvalidToken, "master key is not Ed25519")
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return pub, nil
	}, jwt.WithValidMethods([]string{"EdDSA"}), jwt.WithLeeway(clockSkew))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, "", swarmerr.Wrap(swarmerr.KindTokenExpired, "invite token expired", err)
		}
		return nil, "", swarmerr.Wrap(swarmerr.KindInvalidToken, "invite token signature invalid", err)
	}
	if !parsed.Valid {
		return nil, "", swarmerr.New(swarmerr.KindInvalidToken, "invite token invalid")
	}

	if claims.SwarmID != urlSwarmID {
		return nil, "", swarmerr.New(swarmerr.KindInvalidToken, "invite URL swarm_id does not match token payload")
	}
	payloadHost, err := endpointHost(claims.Endpoint)
	if err != nil {
		return nil, "", swarmerr.Wrap(swarmerr.KindInvalidToken, "invite token endpoint is malformed", err)
	}
	if payloadHost != urlHost {
		return nil, "", swarmerr.New(swarmerr.KindInvalidToken, "invite URL host does not match token payload endpoint")
	}

	hash := sha256.Sum256([]byte(token))
	return claims, hex.EncodeToString(hash[:]), nil
}

// TokenHash returns the store key for a raw token string.
func TokenHash(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// ParseInviteURL splits a swarm://<swarm_id>@<host>?token=<jwt> invite URL
// into its parts.
func ParseInviteURL(raw string) (swarmID, host, token string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", "", fmt.Errorf("parse invite URL: %w", err)
	}
	if u.Scheme != "swarm" {
		return "", "", "", fmt.Errorf("invite URL scheme must be swarm://, got %q", u.Scheme)
	}
	if u.User == nil || u.User.Username() == "" {
		return "", "", "", fmt.Errorf("invite URL missing swarm_id")
	}
	token = u.Query().Get("token")
	if token == "" {
		return "", "", "", fmt.Errorf("invite URL missing token query parameter")
	}
	return u.User.Username(), u.Host, token, nil
}

func endpointHost(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid endpoint %q", endpoint)
	}
	return u.Host, nil
}

