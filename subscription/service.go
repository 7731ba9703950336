package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"signaldesk/db"
)

// ErrSelfServiceDisabled is returned by Subscribe when plans can only be bought.
var ErrSelfServiceDisabled = errors.New("subscription: self-service plan selection disabled")

// Service owns every mutation of approval and subscription state.
type Service struct {
	pool        db.TxBeginner
	repo        Repository
	machine     *Machine
	selfService bool
	logger      *slog.Logger
}

func NewService(pool db.TxBeginner, repo Repository, machine *Machine, logger *slog.Logger) *Service {
	if machine == nil {
		machine = NewMachine()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		pool:        pool,
		repo:        repo,
		machine:     machine,
		selfService: true,
		logger:      logger,
	}
}

func (s *Service) WithSelfService(enabled bool) *Service {
	s.selfService = enabled
	return s
}

// Now is the reference time for read-time expiry checks.
func (s *Service) Now() time.Time {
	return s.machine.Now()
}

func (s *Service) Approve(ctx context.Context, userID string) (Account, error) {
	acct, err := s.transition(ctx, userID, s.machine.Approve)
	if err != nil {
		return Account{}, err
	}
	s.logger.InfoContext(ctx, "account approved", slog.String("user_id", userID))
	return acct, nil
}

func (s *Service) Deactivate(ctx context.Context, userID string) (Account, error) {
	acct, err := s.transition(ctx, userID, s.machine.Deactivate)
	if err != nil {
		return Account{}, err
	}
	s.logger.InfoContext(ctx, "account deactivated", slog.String("user_id", userID))
	return acct, nil
}

// Reject destroys a pending client identity. Approved accounts must be deactivated instead.
func (s *Service) Reject(ctx context.Context, userID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("subscription: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	acct, err := s.repo.GetForUpdate(ctx, tx, userID)
	if err != nil {
		return err
	}
	if acct.Approved {
		return fmt.Errorf("%w: only pending accounts can be rejected", ErrInvalidTransition)
	}
	if err := s.repo.Delete(ctx, tx, userID); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("subscription: commit tx: %w", err)
	}
	s.logger.InfoContext(ctx, "account rejected", slog.String("user_id", userID))
	return nil
}

// Subscribe is the self-service plan selection path.
func (s *Service) Subscribe(ctx context.Context, userID, planName string) (Account, error) {
	if !s.selfService {
		return Account{}, ErrSelfServiceDisabled
	}
	plan, err := ParsePlan(planName)
	if err != nil {
		return Account{}, err
	}

	acct, err := s.transition(ctx, userID, func(a Account) (Account, error) {
		return s.machine.Activate(a, plan)
	})
	if err != nil {
		return Account{}, err
	}
	s.logger.InfoContext(ctx, "plan selected",
		slog.String("user_id", userID),
		slog.String("plan", plan.String()),
		slog.Time("end", *acct.End),
	)
	return acct, nil
}

// ActivateTx grants plan inside a transaction owned by the caller.
func (s *Service) ActivateTx(ctx context.Context, tx pgx.Tx, userID string, plan Plan) (Account, error) {
	acct, err := s.repo.GetForUpdate(ctx, tx, userID)
	if err != nil {
		return Account{}, err
	}
	next, err := s.machine.Activate(acct, plan)
	if err != nil {
		return Account{}, err
	}
	if err := s.repo.Save(ctx, tx, next); err != nil {
		return Account{}, err
	}
	return next, nil
}

// ListPending returns clients awaiting approval.
func (s *Service) ListPending(ctx context.Context) ([]Member, error) {
	return s.repo.ListMembers(ctx, false)
}

// ListApproved returns approved clients with their subscription details.
func (s *Service) ListApproved(ctx context.Context) ([]Member, error) {
	return s.repo.ListMembers(ctx, true)
}

// SubscriberEmails lists clients with a running subscription to plan.
func (s *Service) SubscriberEmails(ctx context.Context, plan Plan) ([]string, error) {
	return s.repo.SubscriberEmails(ctx, plan, s.Now())
}

func (s *Service) transition(ctx context.Context, userID string, fn func(Account) (Account, error)) (Account, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Account{}, fmt.Errorf("subscription: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	acct, err := s.repo.GetForUpdate(ctx, tx, userID)
	if err != nil {
		return Account{}, err
	}
	next, err := fn(acct)
	if err != nil {
		return Account{}, err
	}
	if err := s.repo.Save(ctx, tx, next); err != nil {
		return Account{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Account{}, fmt.Errorf("subscription: commit tx: %w", err)
	}
	return next, nil
}
