package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL is the credential lifetime when none is configured.
const DefaultTokenTTL = 24 * time.Hour

var (
	// ErrExpired signals a credential used at or after its expiry.
	ErrExpired = errors.New("auth: credential expired")
	// ErrMalformed covers bad structure, bad signature and unexpected claims.
	ErrMalformed = errors.New("auth: malformed credential")
)

// Claims is the signed payload of a session credential.
type Claims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

// Credential is a verified session credential.
type Credential struct {
	SubjectID string
	Role      Role
	ExpiresAt time.Time
}

// Codec issues and verifies HS256 session credentials.
type Codec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewCodec(secret string, ttl time.Duration) *Codec {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Codec{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

func (c *Codec) WithClock(now func() time.Time) *Codec {
	c.now = now
	return c
}

// Issue signs a credential for subjectID valid for the configured TTL.
func (c *Codec) Issue(subjectID string, role Role) (string, time.Time, error) {
	if subjectID == "" {
		return "", time.Time{}, fmt.Errorf("auth: issue credential: empty subject")
	}
	if !role.Valid() {
		return "", time.Time{}, fmt.Errorf("auth: issue credential: invalid role %q", role)
	}

	now := c.now().UTC()
	expiresAt := now.Add(c.ttl)
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign credential: %w", err)
	}
	return token, expiresAt.Truncate(time.Second), nil
}

// Verify checks signature and expiry and returns the embedded subject and role.
func (c *Codec) Verify(token string) (Credential, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (interface{}, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Credential{}, ErrExpired
		}
		return Credential{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !parsed.Valid {
		return Credential{}, ErrMalformed
	}
	if claims.Subject == "" {
		return Credential{}, fmt.Errorf("%w: missing subject", ErrMalformed)
	}
	role, err := ParseRole(string(claims.Role))
	if err != nil {
		return Credential{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	return Credential{
		SubjectID: claims.Subject,
		Role:      role,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
