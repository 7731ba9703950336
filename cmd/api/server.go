package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"signaldesk/apperror"
	"signaldesk/auth"
	"signaldesk/payment"
	"signaldesk/ratelimit"
	sig "signaldesk/signal"
	"signaldesk/subscription"
)

const maxBodyBytes = 1 << 20

type identityService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
}

type accountService interface {
	Now() time.Time
	Approve(ctx context.Context, userID string) (subscription.Account, error)
	Deactivate(ctx context.Context, userID string) (subscription.Account, error)
	Reject(ctx context.Context, userID string) error
	Subscribe(ctx context.Context, userID, planName string) (subscription.Account, error)
	ListPending(ctx context.Context) ([]subscription.Member, error)
	ListApproved(ctx context.Context) ([]subscription.Member, error)
}

type resetService interface {
	RequestReset(ctx context.Context, email string) error
	ConsumeReset(ctx context.Context, token, newPassword string) error
}

type paymentService interface {
	CheckProvider(name string) error
	Initiate(ctx context.Context, acct subscription.Account, planName string) (payment.Request, error)
	HandleCallback(ctx context.Context, cb payment.Callback) (payment.Outcome, error)
	History(ctx context.Context, userID string) ([]payment.Transaction, error)
}

type signalService interface {
	Create(ctx context.Context, req sig.CreateRequest) (sig.Signal, error)
	Update(ctx context.Context, id string, req sig.UpdateRequest) (sig.Signal, error)
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (sig.Signal, error)
	List(ctx context.Context) ([]sig.Signal, error)
	ListForAccount(ctx context.Context, acct subscription.Account, now time.Time) ([]sig.Signal, error)
}

// Server exposes the HTTP API. Handlers hold no per-request state.
type Server struct {
	identity identityService
	accounts accountService
	resets   resetService
	payments paymentService
	signals  signalService
	guard    *auth.Guard
	limiter  ratelimit.Limiter
	clientIP ratelimit.KeyFunc
	logger   *slog.Logger
}

type Services struct {
	Identity identityService
	Accounts accountService
	Resets   resetService
	Payments paymentService
	Signals  signalService
}

func NewServer(svc Services, guard *auth.Guard, limiter ratelimit.Limiter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		identity: svc.Identity,
		accounts: svc.Accounts,
		resets:   svc.Resets,
		payments: svc.Payments,
		signals:  svc.Signals,
		guard:    guard,
		limiter:  limiter,
		clientIP: ratelimit.ClientIP(nil),
		logger:   logger,
	}
	guard.WithErrorWriter(s.writeError)
	return s
}

// WithTrustedProxies lets peers inside nets name the client through forwarding headers.
func (s *Server) WithTrustedProxies(nets []*net.IPNet) *Server {
	s.clientIP = ratelimit.ClientIP(nets)
	return s
}

// Routes registers every endpoint under /api.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	limited := func(scope string, h http.HandlerFunc) http.Handler {
		return ratelimit.Middleware(s.limiter, scope, s.clientIP, s.tooManyRequests, s.logger)(h)
	}
	client := func(h auth.HandlerFunc) http.Handler { return s.guard.Require(auth.RoleClient, h) }
	admin := func(h auth.HandlerFunc) http.Handler { return s.guard.Require(auth.RoleAdmin, h) }

	mux.HandleFunc("GET /api/ping", s.handlePing)

	mux.Handle("POST /api/register", limited("register", s.handleRegister))
	mux.Handle("POST /api/login", limited("login", s.handleLogin))
	mux.Handle("POST /api/forgot-password", limited("forgot-password", s.handleForgotPassword))
	mux.Handle("POST /api/reset-password", limited("reset-password", s.handleResetPassword))

	mux.Handle("GET /api/me", s.guard.Authenticated(s.handleMe))
	mux.Handle("POST /api/subscribe", client(s.handleSubscribe))
	mux.Handle("GET /api/signals", client(s.handleClientSignals))

	mux.Handle("POST /api/pay/{provider}", client(s.handleInitiatePayment))
	mux.HandleFunc("POST /api/pay/{provider}/callback", s.handlePaymentCallback)
	mux.Handle("GET /api/payments", client(s.handlePaymentHistory))

	mux.Handle("GET /api/admin/signals", admin(s.handleAdminSignals))
	mux.Handle("POST /api/admin/signals", admin(s.handleCreateSignal))
	mux.Handle("GET /api/admin/signals/{id}", admin(s.handleAdminSignal))
	mux.Handle("PUT /api/admin/signals/{id}", admin(s.handleUpdateSignal))
	mux.Handle("DELETE /api/admin/signals/{id}", admin(s.handleDeleteSignal))

	mux.Handle("GET /api/admin/users/pending", admin(s.handlePendingUsers))
	mux.Handle("GET /api/admin/users/active", admin(s.handleApprovedUsers))
	mux.Handle("PUT /api/admin/users/{id}/approve", admin(s.handleApproveUser))
	mux.Handle("PUT /api/admin/users/{id}/deactivate", admin(s.handleDeactivateUser))
	mux.Handle("DELETE /api/admin/users/{id}/reject", admin(s.handleRejectUser))

	return requestID(s.requestLogger(s.recovery(mux)))
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) tooManyRequests(w http.ResponseWriter, r *http.Request) {
	s.writeError(w, r, apperror.NewTooManyRequests())
}

type messageResponse struct {
	Message string `json:"message"`
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, messageResponse{Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

// decodeJSON reads a single JSON object from the request body.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperror.NewValidation("Request body is required", nil)
		}
		return apperror.NewValidation("Invalid JSON body", nil).WithInternal(err)
	}
	return nil
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

// currentPlanName is the plan acct may use at now, null once it expired.
func currentPlanName(acct subscription.Account, now time.Time) *string {
	plan, ok := acct.CurrentPlan(now)
	if !ok {
		return nil
	}
	return planName(&plan)
}

func planName(p *subscription.Plan) *string {
	if p == nil {
		return nil
	}
	s := p.String()
	return &s
}
