// Package payment initiates hosted payments and applies the provider's
// completion callbacks.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"signaldesk/db"
	"signaldesk/subscription"
)

// StatusComplete is the only callback status that grants a plan.
const StatusComplete = "Complete"

var (
	// ErrNotComplete signals a callback for a payment that did not succeed.
	ErrNotComplete = errors.New("payment: payment not complete")
	// ErrTestPayment signals a sandbox callback while sandbox payments are disabled.
	ErrTestPayment = errors.New("payment: test payments are not accepted")
	// ErrUnknownProvider signals a provider name other than the configured one.
	ErrUnknownProvider = errors.New("payment: unknown provider")
)

// Config describes the hosted payment provider.
type Config struct {
	Provider        string
	RedirectURL     string
	ReferencePrefix string
	AllowTest       bool
	Credentials
}

// Activator grants a plan inside a transaction owned by the caller.
type Activator interface {
	ActivateTx(ctx context.Context, tx pgx.Tx, userID string, plan subscription.Plan) (subscription.Account, error)
}

// Request is what the client forwards to the provider's hosted page.
type Request struct {
	RedirectURL          string `json:"redirectUrl"`
	SiteCode             string `json:"SiteCode"`
	Amount               int64  `json:"Amount"`
	TransactionReference string `json:"TransactionReference"`
	HashCheck            string `json:"HashCheck"`
	Plan                 string `json:"Plan"`
}

// Outcome reports what a callback did.
type Outcome struct {
	Reference string
	UserID    string
	Plan      subscription.Plan
	// Replayed is true when the reference had already been processed.
	Replayed bool
	End      time.Time
}

type Service struct {
	pool      db.TxBeginner
	repo      Repository
	activator Activator
	cfg       Config
	now       func() time.Time
	logger    *slog.Logger
}

func NewService(pool db.TxBeginner, repo Repository, activator Activator, cfg Config, logger *slog.Logger) *Service {
	if cfg.ReferencePrefix == "" {
		cfg.ReferencePrefix = DefaultReferencePrefix
	}
	if cfg.Provider == "" {
		cfg.Provider = "ozow"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		pool:      pool,
		repo:      repo,
		activator: activator,
		cfg:       cfg,
		now:       time.Now,
		logger:    logger,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Provider is the provider name routes are served under.
func (s *Service) Provider() string {
	return s.cfg.Provider
}

// CheckProvider rejects a provider path segment that is not the configured one.
func (s *Service) CheckProvider(name string) error {
	if name != s.cfg.Provider {
		return fmt.Errorf("%w %q", ErrUnknownProvider, name)
	}
	return nil
}

// Initiate builds a signed payment request for acct. Nothing is persisted.
func (s *Service) Initiate(ctx context.Context, acct subscription.Account, planName string) (Request, error) {
	plan, err := subscription.ParsePlan(planName)
	if err != nil {
		return Request{}, err
	}
	if !acct.Approved {
		return Request{}, fmt.Errorf("%w: account is not approved", subscription.ErrInvalidTransition)
	}
	price, err := Price(plan)
	if err != nil {
		return Request{}, err
	}

	ref := NewReference(s.cfg.ReferencePrefix, acct.UserID, s.now()).String()
	amount := strconv.FormatInt(price, 10)

	s.logger.InfoContext(ctx, "payment initiated",
		slog.String("user_id", acct.UserID),
		slog.String("reference", ref),
		slog.String("plan", plan.String()),
	)

	return Request{
		RedirectURL:          s.cfg.RedirectURL,
		SiteCode:             s.cfg.SiteCode,
		Amount:               price,
		TransactionReference: ref,
		HashCheck:            RequestHash(s.cfg.Credentials, ref, amount),
		Plan:                 plan.String(),
	}, nil
}

// HandleCallback verifies cb and grants the paid plan once per reference.
// Replays of a processed reference succeed without changing anything.
func (s *Service) HandleCallback(ctx context.Context, cb Callback) (Outcome, error) {
	if err := VerifyCallback(cb, s.cfg.PrivateKey); err != nil {
		return Outcome{}, err
	}
	if cb.Status != StatusComplete {
		return Outcome{}, fmt.Errorf("%w: status %q", ErrNotComplete, cb.Status)
	}
	if cb.Test() && !s.cfg.AllowTest {
		return Outcome{}, ErrTestPayment
	}

	ref, err := ParseReference(s.cfg.ReferencePrefix, cb.TransactionReference)
	if err != nil {
		return Outcome{}, err
	}
	plan, amount, err := PlanForAmount(cb.Amount)
	if err != nil {
		return Outcome{}, err
	}

	out := Outcome{Reference: cb.TransactionReference, UserID: ref.UserID, Plan: plan}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("payment: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	err = s.repo.InsertProcessedTx(ctx, tx, Transaction{
		Reference:   cb.TransactionReference,
		UserID:      ref.UserID,
		Provider:    s.cfg.Provider,
		Plan:        plan,
		Amount:      amount,
		ProcessedAt: s.now().UTC(),
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateReference) {
			s.logger.InfoContext(ctx, "payment callback replayed", slog.String("reference", cb.TransactionReference))
			out.Replayed = true
			return out, nil
		}
		return Outcome{}, err
	}

	acct, err := s.activator.ActivateTx(ctx, tx, ref.UserID, plan)
	if err != nil {
		if errors.Is(err, subscription.ErrNotFound) {
			return Outcome{}, fmt.Errorf("%w: no client %s", ErrUnknownReference, ref.UserID)
		}
		return Outcome{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Outcome{}, fmt.Errorf("payment: commit tx: %w", err)
	}

	if acct.End != nil {
		out.End = *acct.End
	}
	s.logger.InfoContext(ctx, "subscription paid",
		slog.String("user_id", ref.UserID),
		slog.String("reference", cb.TransactionReference),
		slog.String("plan", plan.String()),
		slog.Time("end", out.End),
	)
	return out, nil
}

// History lists processed payments of a user, newest first.
func (s *Service) History(ctx context.Context, userID string) ([]Transaction, error) {
	return s.repo.ListByUser(ctx, userID)
}
