package mail

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	defaultSendTimeout      = 15 * time.Second
	defaultBroadcastWorkers = 4
)

// Dispatcher sends mail in the background so callers never wait on the relay.
type Dispatcher struct {
	sender  Sender
	logger  *slog.Logger
	timeout time.Duration
	workers int
	wg      sync.WaitGroup
}

func NewDispatcher(sender Sender, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		sender:  sender,
		logger:  logger,
		timeout: defaultSendTimeout,
		workers: defaultBroadcastWorkers,
	}
}

func (d *Dispatcher) WithTimeout(timeout time.Duration) *Dispatcher {
	if timeout > 0 {
		d.timeout = timeout
	}
	return d
}

func (d *Dispatcher) WithWorkers(n int) *Dispatcher {
	if n > 0 {
		d.workers = n
	}
	return d
}

// Dispatch queues msg for a single recipient. ctx only contributes values;
// its cancellation does not abort delivery.
func (d *Dispatcher) Dispatch(ctx context.Context, to string, msg Message) {
	base := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.send(base, to, msg); err != nil {
			d.logger.WarnContext(base, "mail delivery failed",
				slog.String("subject", msg.Subject),
				slog.Any("error", err),
			)
		}
	}()
}

// Broadcast sends msg to every recipient separately so addresses are never
// disclosed to each other.
func (d *Dispatcher) Broadcast(ctx context.Context, to []string, msg Message) {
	if len(to) == 0 {
		return
	}
	recipients := append([]string(nil), to...)
	base := context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		var (
			mu     sync.Mutex
			failed int
		)
		g := new(errgroup.Group)
		g.SetLimit(d.workers)
		for _, rcpt := range recipients {
			g.Go(func() error {
				if err := d.send(base, rcpt, msg); err != nil {
					mu.Lock()
					failed++
					mu.Unlock()
					d.logger.DebugContext(base, "broadcast recipient failed", slog.Any("error", err))
				}
				return nil
			})
		}
		_ = g.Wait()

		level := slog.LevelInfo
		if failed > 0 {
			level = slog.LevelWarn
		}
		d.logger.Log(base, level, "broadcast finished",
			slog.String("subject", msg.Subject),
			slog.Int("recipients", len(recipients)),
			slog.Int("failed", failed),
		)
	}()
}

// Wait blocks until every queued message has been attempted.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) send(ctx context.Context, to string, msg Message) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return d.sender.Send(ctx, []string{to}, msg.Subject, msg.Body)
}
