package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func TestCodec_IssueVerifyRoundTrip(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	codec := NewCodec("secret", time.Hour).WithClock(clock.Now)

	token, expiresAt, err := codec.Issue("user-1", RoleAdmin)
	require.NoError(t, err)
	require.True(t, expiresAt.Equal(clock.t.Add(time.Hour)))

	cred, err := codec.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "user-1", cred.SubjectID)
	require.Equal(t, RoleAdmin, cred.Role)
	require.True(t, cred.ExpiresAt.Equal(expiresAt))
}

func TestCodec_Expiry(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	codec := NewCodec("secret", time.Hour).WithClock(clock.Now)

	token, _, err := codec.Issue("user-1", RoleClient)
	require.NoError(t, err)

	clock.t = clock.t.Add(59 * time.Minute)
	_, err = codec.Verify(token)
	require.NoError(t, err)

	clock.t = clock.t.Add(time.Minute)
	_, err = codec.Verify(token)
	require.ErrorIs(t, err, ErrExpired)

	clock.t = clock.t.Add(24 * time.Hour)
	_, err = codec.Verify(token)
	require.ErrorIs(t, err, ErrExpired)
}

func TestCodec_Tampering(t *testing.T) {
	codec := NewCodec("secret", time.Hour)
	token, _, err := codec.Issue("user-1", RoleClient)
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)

	forged, _, err := NewCodec("other-secret", time.Hour).Issue("user-1", RoleAdmin)
	require.NoError(t, err)
	forgedParts := strings.Split(forged, ".")

	cases := map[string]string{
		"empty":             "",
		"garbage":           "not-a-token",
		"swapped payload":   parts[0] + "." + forgedParts[1] + "." + parts[2],
		"wrong secret":      forged,
		"truncated":         parts[0] + "." + parts[1],
		"flipped signature": parts[0] + "." + parts[1] + "." + flip(parts[2]),
	}
	for name, tok := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := codec.Verify(tok)
			require.ErrorIs(t, err, ErrMalformed)
			require.False(t, errors.Is(err, ErrExpired))
		})
	}
}

func TestCodec_RejectsOtherAlgorithmsAndClaims(t *testing.T) {
	codec := NewCodec("secret", time.Hour)
	now := time.Now()

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{
		Role: RoleClient,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = codec.Verify(hs512)
	require.ErrorIs(t, err, ErrMalformed)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role:             RoleClient,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"},
	}).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = codec.Verify(noExp)
	require.ErrorIs(t, err, ErrMalformed)

	badRole, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: "root",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = codec.Verify(badRole)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestCodec_IssueRejectsBadInput(t *testing.T) {
	codec := NewCodec("secret", 0)
	_, _, err := codec.Issue("", RoleClient)
	require.Error(t, err)
	_, _, err = codec.Issue("user-1", "root")
	require.Error(t, err)
}

func flip(sig string) string {
	b := []byte(sig)
	if b[0] == 'A' {
		b[0] = 'B'
	} else {
		b[0] = 'A'
	}
	return string(b)
}
