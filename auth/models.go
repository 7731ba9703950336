package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"

	"signaldesk/subscription"
)

// MinPasswordLength applies to registration and password resets.
const MinPasswordLength = 8

type Role string

const (
	RoleClient Role = "client"
	RoleAdmin  Role = "admin"
)

// ParseRole rejects anything outside the closed role set.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("auth: invalid role %q", s)
	}
	return r, nil
}

func (r Role) Valid() bool {
	return r == RoleClient || r == RoleAdmin
}

// User is the domain representation of an identity.
// It mirrors the users table and should not include JSON annotations so it
// can be reused by different presentation layers.
type User struct {
	ID           string
	Name         string
	Surname      string
	Email        string
	PasswordHash string
	Role         Role
	Account      subscription.Account
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Approved reports whether an administrator accepted the identity.
func (u User) Approved() bool {
	return u.Account.Approved
}

// RegisterRequest contains user registration data supplied by callers.
type RegisterRequest struct {
	Name     string `json:"name"`
	Surname  string `json:"surname"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r RegisterRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required, validation.Length(1, 120)),
		validation.Field(&r.Surname, validation.Length(0, 120)),
		validation.Field(&r.Email, validation.Required, validation.Length(3, 200), is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(MinPasswordLength, 128)),
	)
}

// LoginRequest contains user login credentials. Role selects the admin login
// path when set to admin; empty means client.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     Role   `json:"role"`
}

func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required),
		validation.Field(&r.Password, validation.Required),
		validation.Field(&r.Role, validation.By(knownRole)),
	)
}

// knownRole accepts an empty role, which means client.
func knownRole(value interface{}) error {
	role, _ := value.(Role)
	if role == "" {
		return nil
	}
	if _, err := ParseRole(string(role)); err != nil {
		return errors.New("must be client or admin")
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
