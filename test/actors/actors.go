package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"signaldesk/payment"
	"signaldesk/reset"
	sig "signaldesk/signal"
	"signaldesk/subscription"
)

// ReplayCallback delivers the same callback n times at once and reports how
// many deliveries granted a plan. Anything but a clean replay is an error.
func ReplayCallback(ctx context.Context, svc *payment.Service, cb payment.Callback, n int) (int, error) {
	var granted atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			out, err := svc.HandleCallback(gctx, cb)
			if err != nil {
				return fmt.Errorf("callback %s: %w", cb.TransactionReference, err)
			}
			if !out.Replayed {
				granted.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return int(granted.Load()), nil
}

// RaceReset redeems one token from n goroutines and reports how many won.
func RaceReset(ctx context.Context, svc *reset.Service, token, password string, n int) (int, error) {
	var won atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			err := svc.ConsumeReset(gctx, token, password)
			switch {
			case err == nil:
				won.Add(1)
			case errors.Is(err, reset.ErrInvalidOrExpiredToken):
			default:
				return fmt.Errorf("consume reset: %w", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return int(won.Load()), nil
}

// Publisher keeps creating signals for random plans. rng must not be shared
// with other goroutines.
func Publisher(ctx context.Context, svc *sig.Service, rng *rand.Rand, stop <-chan struct{}) error {
	plans := subscription.Plans()
	for n := 0; ; n++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		size, win, loss := 0.01*float64(1+rng.Intn(10)), 10.0, 5.0
		_, err := svc.Create(ctx, sig.CreateRequest{
			Pair:       fmt.Sprintf("EURUSD-%d", n),
			Entry:      "1.0850",
			TakeProfit: "1.0900",
			StopLoss:   "1.0800",
			Plan:       plans[rng.Intn(len(plans))].String(),
			Lots:       []sig.LotInput{{LotSize: &size, WinAmount: &win, LossAmount: &loss}},
		})
		if err != nil {
			return fmt.Errorf("publisher create: %w", err)
		}
		time.Sleep(time.Duration(5+rng.Intn(10)) * time.Millisecond)
	}
}

// Reader lists signals as acct would see them and fails on any signal outside
// the account's current plan.
func Reader(ctx context.Context, svc *sig.Service, acct subscription.Account, rng *rand.Rand, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		now := time.Now()
		signals, err := svc.ListForAccount(ctx, acct, now)
		if err != nil {
			return fmt.Errorf("reader list: %w", err)
		}
		plan, ok := acct.CurrentPlan(now)
		for _, s := range signals {
			if !ok || s.Plan != plan {
				return fmt.Errorf("reader saw %s signal %s", s.Plan, s.ID)
			}
		}
		time.Sleep(time.Duration(5+rng.Intn(10)) * time.Millisecond)
	}
}

// Subscriber keeps switching the plan of userID through self service.
func Subscriber(ctx context.Context, svc *subscription.Service, userID string, rng *rand.Rand, stop <-chan struct{}) error {
	plans := subscription.Plans()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if _, err := svc.Subscribe(ctx, userID, plans[rng.Intn(len(plans))].String()); err != nil {
			return fmt.Errorf("subscriber: %w", err)
		}
		time.Sleep(time.Duration(10+rng.Intn(20)) * time.Millisecond)
	}
}
