// Package reset implements single-use password reset tokens.
package reset

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/jackc/pgx/v5"

	"signaldesk/auth"
	"signaldesk/db"
	"signaldesk/mail"
)

// DefaultTTL is how long an issued token stays redeemable.
const DefaultTTL = 30 * time.Minute

const tokenBytes = 32

// ErrInvalidOrExpiredToken covers unknown, consumed, superseded and expired tokens alike.
var ErrInvalidOrExpiredToken = errors.New("reset: invalid or expired token")

// Users is the identity surface a reset needs.
type Users interface {
	GetUserByEmail(ctx context.Context, email string) (auth.User, error)
	UpdatePasswordTx(ctx context.Context, tx pgx.Tx, userID, passwordHash string) error
}

// Notifier delivers the reset link without blocking the request.
type Notifier interface {
	Dispatch(ctx context.Context, to string, msg mail.Message)
}

// Service issues and redeems reset tokens.
type Service struct {
	pool     db.TxBeginner
	repo     Repository
	users    Users
	notifier Notifier
	linkBase string
	team     string
	ttl      time.Duration
	now      func() time.Time
	random   io.Reader
	logger   *slog.Logger
}

func NewService(pool db.TxBeginner, repo Repository, users Users, notifier Notifier, linkBase string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		pool:     pool,
		repo:     repo,
		users:    users,
		notifier: notifier,
		linkBase: linkBase,
		team:     "NARI",
		ttl:      DefaultTTL,
		now:      time.Now,
		random:   rand.Reader,
		logger:   logger,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) WithTTL(ttl time.Duration) *Service {
	if ttl > 0 {
		s.ttl = ttl
	}
	return s
}

func (s *Service) WithTeamName(team string) *Service {
	if team != "" {
		s.team = team
	}
	return s
}

// WithRandom replaces the entropy source for token generation.
func (s *Service) WithRandom(r io.Reader) *Service {
	s.random = r
	return s
}

// RequestReset issues a token for email and mails the link. The result is the
// same whether or not the email belongs to an identity.
func (s *Service) RequestReset(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := validation.Validate(email, validation.Required, is.Email); err != nil {
		return validation.Errors{"email": err}
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			return nil
		}
		return fmt.Errorf("reset: lookup identity: %w", err)
	}

	token, err := s.newToken()
	if err != nil {
		s.logger.ErrorContext(ctx, "reset token generation failed", slog.Any("error", err))
		return nil
	}

	entry := Entry{
		UserID:    user.ID,
		TokenHash: HashToken(token),
		ExpiresAt: s.now().UTC().Add(s.ttl),
	}
	if err := s.repo.Upsert(ctx, entry); err != nil {
		s.logger.ErrorContext(ctx, "reset token not stored", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil
	}

	s.notifier.Dispatch(ctx, user.Email, mail.PasswordResetMessage(s.team, s.link(token), s.ttl))
	s.logger.InfoContext(ctx, "password reset issued", slog.String("user_id", user.ID))
	return nil
}

// ConsumeReset redeems token and sets newPassword. A token can succeed at most once.
func (s *Service) ConsumeReset(ctx context.Context, token, newPassword string) error {
	if err := validation.Validate(newPassword, validation.Required, validation.Length(auth.MinPasswordLength, 128)); err != nil {
		return validation.Errors{"password": err}
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrInvalidOrExpiredToken
	}

	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("reset: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	entry, err := s.repo.TakeTx(ctx, tx, HashToken(token))
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return ErrInvalidOrExpiredToken
		}
		return err
	}

	if !s.now().Before(entry.ExpiresAt) {
		// keep the deletion so an expired token cannot linger
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("reset: commit tx: %w", err)
		}
		return ErrInvalidOrExpiredToken
	}

	if err := s.users.UpdatePasswordTx(ctx, tx, entry.UserID, hash); err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			return ErrInvalidOrExpiredToken
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("reset: commit tx: %w", err)
	}
	s.logger.InfoContext(ctx, "password reset completed", slog.String("user_id", entry.UserID))
	return nil
}

// Purge removes expired tokens.
func (s *Service) Purge(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpired(ctx, s.now().UTC())
}

// HashToken is the stored form of a token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (s *Service) newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := io.ReadFull(s.random, buf); err != nil {
		return "", fmt.Errorf("reset: read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func (s *Service) link(token string) string {
	sep := "?"
	if strings.Contains(s.linkBase, "?") {
		sep = "&"
	}
	return s.linkBase + sep + "token=" + url.QueryEscape(token)
}
