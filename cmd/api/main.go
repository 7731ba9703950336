package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"signaldesk/auth"
	"signaldesk/config"
	"signaldesk/db"
	"signaldesk/logging"
	"signaldesk/mail"
	"signaldesk/payment"
	"signaldesk/ratelimit"
	"signaldesk/reset"
	sig "signaldesk/signal"
	"signaldesk/subscription"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("signaldesk: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stdout)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	pool, err := db.NewPool(ctx, cfg.Database.URL, db.PoolOptions{
		MaxConns:        int32(cfg.Database.MaxConns),
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("bootstrap database pool: %w", err)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool, logger); err != nil {
		return err
	}

	dispatcher, err := newDispatcher(cfg.Mail, logger)
	if err != nil {
		return err
	}
	defer dispatcher.Wait()

	limiter, closeLimiter, err := newLimiter(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeLimiter()

	codec := auth.NewCodec(cfg.Auth.SecretKey, cfg.Auth.TokenTTL)
	userRepo := auth.NewRepository(pool)
	identity := auth.NewService(userRepo, codec, logger)
	if err := provisionAdmins(ctx, identity, cfg.Auth); err != nil {
		return err
	}

	accounts := subscription.NewService(pool, subscription.NewRepository(pool), subscription.NewMachine(), logger).
		WithSelfService(cfg.SelfServiceSubscribe)

	resets := reset.NewService(pool, reset.NewRepository(pool), userRepo, dispatcher, cfg.Reset.URLBase, logger).
		WithTTL(cfg.Reset.TTL).
		WithTeamName(cfg.TeamName)

	payments := payment.NewService(pool, payment.NewRepository(pool), accounts, payment.Config{
		Provider:        cfg.Payment.Provider,
		RedirectURL:     cfg.Payment.RedirectURL,
		ReferencePrefix: cfg.Payment.ReferencePrefix,
		AllowTest:       cfg.Payment.AllowTest,
		Credentials: payment.Credentials{
			SiteCode:   cfg.Payment.SiteCode,
			APIKey:     cfg.Payment.APIKey,
			PrivateKey: cfg.Payment.PrivateKey,
		},
	}, logger)
	if cfg.Payment.PrivateKey == "" {
		logger.Warn("payment private key not set, every callback will be rejected")
	}

	signals := sig.NewService(pool, sig.NewRepository(pool), accounts, dispatcher, logger).
		WithTeamName(cfg.TeamName)

	proxies, err := ratelimit.ParseTrustedProxies(cfg.HTTP.TrustedProxies)
	if err != nil {
		return err
	}

	guard := auth.NewGuard(codec, identity, logger)
	server := NewServer(Services{
		Identity: identity,
		Accounts: accounts,
		Resets:   resets,
		Payments: payments,
		Signals:  signals,
	}, guard, limiter, logger).WithTrustedProxies(proxies)

	go purgeResets(ctx, resets, cfg.Reset.PurgeInterval, logger)

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      server.Routes(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", srv.Addr), slog.String("env", cfg.Env))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced shutdown", slog.Any("error", err))
	}
	return nil
}

func newDispatcher(cfg config.MailConfig, logger *slog.Logger) (*mail.Dispatcher, error) {
	var sender mail.Sender
	if cfg.Enabled() {
		smtpSender, err := mail.NewSMTPSender(mail.SMTPConfig{
			Host:       cfg.Host,
			Port:       cfg.Port,
			Username:   cfg.Username,
			Password:   cfg.Password,
			From:       cfg.From,
			FromName:   cfg.FromName,
			Encryption: cfg.Encryption,
			Timeout:    cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		sender = smtpSender
	} else {
		logger.Warn("SMTP_HOST not set, outgoing mail is only logged")
		sender = mail.NewLogSender(logger)
	}
	return mail.NewDispatcher(sender, logger).
		WithTimeout(cfg.Timeout).
		WithWorkers(cfg.Workers), nil
}

// newLimiter shares counters through Redis when configured, otherwise keeps
// them in process.
func newLimiter(ctx context.Context, cfg *config.Config, logger *slog.Logger) (ratelimit.Limiter, func(), error) {
	if cfg.Redis.URL == "" {
		mem := ratelimit.NewMemoryLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
		go mem.Run(ctx, cfg.RateLimit.Window)
		return mem, func() {}, nil
	}

	client, err := ratelimit.NewRedisClient(ctx, cfg.Redis.URL)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("rate limiter backed by redis")
	limiter := ratelimit.NewRedisLimiter(client, "signaldesk:ratelimit", cfg.RateLimit.Requests, cfg.RateLimit.Window)
	return limiter, func() { _ = client.Close() }, nil
}

func provisionAdmins(ctx context.Context, identity *auth.Service, cfg config.AuthConfig) error {
	seeds, err := auth.LoadAdminSeeds(cfg.AdminSeedFile)
	if err != nil {
		return err
	}
	if cfg.AdminEmail != "" && cfg.AdminPassword != "" {
		seeds = append(seeds, auth.AdminSeed{Email: cfg.AdminEmail, Password: cfg.AdminPassword})
	}
	return identity.EnsureAdmins(ctx, seeds)
}

func purgeResets(ctx context.Context, resets *reset.Service, every time.Duration, logger *slog.Logger) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := resets.Purge(ctx)
			if err != nil {
				logger.Warn("reset token purge failed", slog.Any("error", err))
				continue
			}
			if n > 0 {
				logger.Info("expired reset tokens purged", slog.Int64("count", n))
			}
		}
	}
}
