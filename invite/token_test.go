package invite

import (
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"github.com/swarmproto/swarmd/crypto/keys"
)

func TestGenerateValidate_RoundTrip(t *testing.T) {
	master, err := keys.GenerateEd25519KeyPair()
	require.NoError(t, err)

	token, hash, url, err := Generate("s1", "agent-m", "https://m.example.com", master, time.Hour, 1)
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.NotEmpty(t, hash)
	require.Equal(t, hash, TokenHash(token))

	t.Run("validates a correctly bound token", func(t *testing.T) {
		claims, gotHash, err := Validate(token, url, master)
		require.NoError(t, err)
		require.Equal(t, "s1", claims.SwarmID)
		require.Equal(t, "agent-m", claims.Master)
		require.Equal(t, hash, gotHash)
	})

	t.Run("rejects a token signed by a different key", func(t *testing.T) {
		other, err := keys.GenerateEd25519KeyPair()
		require.NoError(t, err)
		_, _, err = Validate(token, url, other)
		require.Error(t, err)
	})

	t.Run("rejects a swarm_id mismatch between URL and payload", func(t *testing.T) {
		tamperedURL := "swarm://other-swarm@m.example.com?token=" + token
		_, _, err := Validate(token, tamperedURL, master)
		require.Error(t, err)
	})

	t.Run("rejects a host mismatch between URL and payload endpoint", func(t *testing.T) {
		tamperedURL := "swarm://s1@evil.example.com?token=" + token
		_, _, err := Validate(token, tamperedURL, master)
		require.Error(t, err)
	})
}

// TestGenerate_ExpiredToken constructs an already-expired token directly
// (rather than via Generate's short-duration path) since Validate's clock
// skew leeway would otherwise paper over an expiry only moments in the past.
func TestGenerate_ExpiredToken(t *testing.T) {
	master, err := keys.GenerateEd25519KeyPair()
	require.NoError(t, err)
	priv := master.PrivateKey().(ed25519.PrivateKey)

	exp := time.Now().Add(-2 * time.Hour).Unix()
	claims := Claims{
		SwarmID:   "s1",
		Master:    "agent-m",
		Endpoint:  "https://m.example.com",
		IssuedAt:  time.Now().Add(-3 * time.Hour).Unix(),
		ExpiresAt: &exp,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(priv)
	require.NoError(t, err)

	inviteURL := "swarm://s1@m.example.com?token=" + token
	_, _, err = Validate(token, inviteURL, master)
	require.Error(t, err)
}

func TestParseInviteURL(t *testing.T) {
	swarmID, host, token, err := ParseInviteURL("swarm://s1@host.example.com?token=abc.def.ghi")
	require.NoError(t, err)
	require.Equal(t, "s1", swarmID)
	require.Equal(t, "host.example.com", host)
	require.Equal(t, "abc.def.ghi", token)

	t.Run("rejects non-swarm scheme", func(t *testing.T) {
		_, _, _, err := ParseInviteURL("https://s1@host.example.com?token=abc")
		require.Error(t, err)
	})

	t.Run("rejects missing token", func(t *testing.T) {
		_, _, _, err := ParseInviteURL("swarm://s1@host.example.com")
		require.Error(t, err)
	})
}
