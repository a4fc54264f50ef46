package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func sign(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func validClaims(exp time.Time) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "8f14e45f-ceea-467f-a0e6-1e5c3a8a0c1b",
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Email: "a@b.com",
		Role:  "authenticated",
	}
}

func TestParser_Verified(t *testing.T) {
	p := NewParser("secret")
	exp := time.Now().Add(time.Hour).Truncate(time.Second)

	id, err := p.Parse(sign(t, "secret", validClaims(exp)))
	require.NoError(t, err)
	require.Equal(t, "8f14e45f-ceea-467f-a0e6-1e5c3a8a0c1b", id.UserID)
	require.Equal(t, "a@b.com", id.Email)
	require.True(t, id.ExpiresAt.Equal(exp))
	require.True(t, p.Verifies())
}

func TestParser_WrongSecret(t *testing.T) {
	p := NewParser("secret")

	_, err := p.Parse(sign(t, "other", validClaims(time.Now().Add(time.Hour))))
	require.Error(t, err)
}

func TestParser_Expired(t *testing.T) {
	p := NewParser("secret")

	_, err := p.Parse(sign(t, "secret", validClaims(time.Now().Add(-time.Hour))))
	require.Error(t, err)
}

func TestParser_Unverified(t *testing.T) {
	p := NewParser("")
	require.False(t, p.Verifies())

	id, err := p.Parse(sign(t, "anything", validClaims(time.Now().Add(time.Hour))))
	require.NoError(t, err)
	require.Equal(t, "a@b.com", id.Email)
}

func TestParser_MissingSubject(t *testing.T) {
	p := NewParser("secret")
	c := validClaims(time.Now().Add(time.Hour))
	c.Subject = ""

	_, err := p.Parse(sign(t, "secret", c))
	require.Error(t, err)
}

func TestParser_Garbage(t *testing.T) {
	_, err := NewParser("").Parse("not-a-jwt")
	require.Error(t, err)
}
