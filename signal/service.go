// Package signal manages trade signals and their plan-gated visibility.
package signal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"signaldesk/db"
	"signaldesk/mail"
	"signaldesk/subscription"
)

// ErrEmptyUpdate signals an update request that changes nothing.
var ErrEmptyUpdate = errors.New("signal: no fields to update")

// Subscribers lists the addresses to notify about a new signal of plan.
type Subscribers interface {
	SubscriberEmails(ctx context.Context, plan subscription.Plan) ([]string, error)
}

// Broadcaster fans a message out without blocking the caller.
type Broadcaster interface {
	Broadcast(ctx context.Context, to []string, msg mail.Message)
}

type Service struct {
	pool   db.TxBeginner
	repo   Repository
	subs   Subscribers
	mailer Broadcaster
	team   string
	logger *slog.Logger
}

func NewService(pool db.TxBeginner, repo Repository, subs Subscribers, mailer Broadcaster, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		pool:   pool,
		repo:   repo,
		subs:   subs,
		mailer: mailer,
		team:   "NARI",
		logger: logger,
	}
}

func (s *Service) WithTeamName(team string) *Service {
	if team != "" {
		s.team = team
	}
	return s
}

// Create stores a signal with its lots and tells the plan's subscribers.
func (s *Service) Create(ctx context.Context, req CreateRequest) (Signal, error) {
	req.Pair = strings.TrimSpace(req.Pair)
	if err := req.Validate(); err != nil {
		return Signal{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Signal{}, fmt.Errorf("signal: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	created, err := s.repo.InsertTx(ctx, tx, Signal{
		Pair:       req.Pair,
		Entry:      req.Entry,
		TakeProfit: req.TakeProfit,
		StopLoss:   req.StopLoss,
		Plan:       subscription.Plan(req.Plan),
		Lots:       toLots(req.Lots),
	})
	if err != nil {
		return Signal{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Signal{}, fmt.Errorf("signal: commit tx: %w", err)
	}

	s.logger.InfoContext(ctx, "signal created",
		slog.String("signal_id", created.ID),
		slog.String("plan", created.Plan.String()),
		slog.Int("lots", len(created.Lots)),
	)
	s.notify(ctx, created)
	return created, nil
}

// Update applies the fields present in req.
func (s *Service) Update(ctx context.Context, id string, req UpdateRequest) (Signal, error) {
	if err := req.Validate(); err != nil {
		return Signal{}, err
	}
	if req.empty() {
		return Signal{}, ErrEmptyUpdate
	}

	patch := Patch{
		Pair:       req.Pair,
		Entry:      req.Entry,
		TakeProfit: req.TakeProfit,
		StopLoss:   req.StopLoss,
		Lots:       toLots(req.Lots),
	}
	if req.Plan != nil {
		plan := subscription.Plan(*req.Plan)
		patch.Plan = &plan
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Signal{}, fmt.Errorf("signal: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	updated, err := s.repo.UpdateTx(ctx, tx, id, patch)
	if err != nil {
		return Signal{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Signal{}, fmt.Errorf("signal: commit tx: %w", err)
	}
	s.logger.InfoContext(ctx, "signal updated", slog.String("signal_id", id))
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "signal deleted", slog.String("signal_id", id))
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (Signal, error) {
	return s.repo.Get(ctx, id)
}

// List returns every signal, newest first.
func (s *Service) List(ctx context.Context) ([]Signal, error) {
	return s.repo.List(ctx, nil)
}

// ListForAccount returns the signals of the plan acct is entitled to at now.
// Accounts without a running subscription see nothing.
func (s *Service) ListForAccount(ctx context.Context, acct subscription.Account, now time.Time) ([]Signal, error) {
	plan, ok := acct.CurrentPlan(now)
	if !ok {
		return []Signal{}, nil
	}
	return s.repo.List(ctx, &plan)
}

func (s *Service) notify(ctx context.Context, sig Signal) {
	if s.subs == nil || s.mailer == nil {
		return
	}
	emails, err := s.subs.SubscriberEmails(ctx, sig.Plan)
	if err != nil {
		s.logger.WarnContext(ctx, "signal notification skipped", slog.String("signal_id", sig.ID), slog.Any("error", err))
		return
	}
	s.mailer.Broadcast(ctx, emails, mail.NewSignalMessage(s.team))
}
