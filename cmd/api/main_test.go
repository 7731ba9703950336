package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"signaldesk/apperror"
	"signaldesk/auth"
	"signaldesk/db/dbtest"
	"signaldesk/payment"
	"signaldesk/ratelimit"
	"signaldesk/reset"
	sig "signaldesk/signal"
	"signaldesk/subscription"
)

// memStore backs both the identity and the subscription services so
// approvals are visible to later logins.
type memStore struct {
	mu    sync.Mutex
	users map[string]auth.User
}

func newMemStore() *memStore {
	return &memStore{users: map[string]auth.User{}}
}

func (m *memStore) CreateUser(_ context.Context, p auth.CreateUserParams) (auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, p.Email) {
			return auth.User{}, auth.ErrDuplicateEmail
		}
	}
	id := uuid.NewString()
	u := auth.User{
		ID:           id,
		Name:         p.Name,
		Surname:      p.Surname,
		Email:        p.Email,
		PasswordHash: p.PasswordHash,
		Role:         auth.RoleClient,
		Account:      subscription.Account{UserID: id, Email: p.Email, Name: p.Name},
		CreatedAt:    time.Now(),
	}
	m.users[id] = u
	return u, nil
}

func (m *memStore) GetUserByEmail(_ context.Context, email string) (auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return auth.User{}, auth.ErrUserNotFound
}

func (m *memStore) GetUserByID(_ context.Context, id string) (auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return auth.User{}, auth.ErrUserNotFound
	}
	return u, nil
}

func (m *memStore) UpsertAdmin(ctx context.Context, p auth.CreateUserParams) (auth.User, error) {
	u, err := m.GetUserByEmail(ctx, p.Email)
	if errors.Is(err, auth.ErrUserNotFound) {
		u, err = m.CreateUser(ctx, p)
	}
	if err != nil {
		return auth.User{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u.Role = auth.RoleAdmin
	u.PasswordHash = p.PasswordHash
	u.Account.Approved = true
	m.users[u.ID] = u
	return u, nil
}

func (m *memStore) UpdatePasswordTx(_ context.Context, _ pgx.Tx, id, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return auth.ErrUserNotFound
	}
	u.PasswordHash = hash
	m.users[id] = u
	return nil
}

func (m *memStore) GetForUpdate(_ context.Context, _ pgx.Tx, id string) (subscription.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok || u.Role != auth.RoleClient {
		return subscription.Account{}, subscription.ErrNotFound
	}
	return u.Account, nil
}

func (m *memStore) Save(_ context.Context, _ pgx.Tx, acct subscription.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[acct.UserID]
	if !ok {
		return subscription.ErrNotFound
	}
	u.Account = acct
	m.users[acct.UserID] = u
	return nil
}

func (m *memStore) Delete(_ context.Context, _ pgx.Tx, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return subscription.ErrNotFound
	}
	delete(m.users, id)
	return nil
}

func (m *memStore) ListMembers(_ context.Context, approved bool) ([]subscription.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []subscription.Member{}
	for _, u := range m.users {
		if u.Role == auth.RoleClient && u.Account.Approved == approved {
			out = append(out, subscription.Member{Account: u.Account, Surname: u.Surname, CreatedAt: u.CreatedAt})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (m *memStore) SubscriberEmails(_ context.Context, plan subscription.Plan, now time.Time) ([]string, error) {
	return nil, nil
}

type stubResets struct {
	requested  []string
	consumeErr error
}

func (s *stubResets) RequestReset(_ context.Context, email string) error {
	s.requested = append(s.requested, email)
	return nil
}

func (s *stubResets) ConsumeReset(_ context.Context, _, _ string) error {
	return s.consumeErr
}

type stubPayments struct {
	callbackErr error
	outcome     payment.Outcome
	callbacks   []payment.Callback
}

func (s *stubPayments) CheckProvider(name string) error {
	if name != "ozow" {
		return payment.ErrUnknownProvider
	}
	return nil
}

func (s *stubPayments) Initiate(_ context.Context, acct subscription.Account, plan string) (payment.Request, error) {
	if _, err := subscription.ParsePlan(plan); err != nil {
		return payment.Request{}, err
	}
	return payment.Request{TransactionReference: "NARI-" + acct.UserID + "-1", Plan: plan}, nil
}

func (s *stubPayments) HandleCallback(_ context.Context, cb payment.Callback) (payment.Outcome, error) {
	s.callbacks = append(s.callbacks, cb)
	return s.outcome, s.callbackErr
}

func (s *stubPayments) History(context.Context, string) ([]payment.Transaction, error) {
	return nil, nil
}

type stubSignals struct {
	listed    []sig.Signal
	getErr    error
	createErr error
}

func (s *stubSignals) Create(_ context.Context, req sig.CreateRequest) (sig.Signal, error) {
	if s.createErr != nil {
		return sig.Signal{}, s.createErr
	}
	return sig.Signal{ID: uuid.NewString(), Pair: req.Pair, Plan: subscription.Plan(req.Plan)}, nil
}

func (s *stubSignals) Update(_ context.Context, id string, _ sig.UpdateRequest) (sig.Signal, error) {
	return sig.Signal{ID: id}, nil
}

func (s *stubSignals) Delete(context.Context, string) error { return nil }

func (s *stubSignals) Get(_ context.Context, id string) (sig.Signal, error) {
	return sig.Signal{ID: id}, s.getErr
}

func (s *stubSignals) List(context.Context) ([]sig.Signal, error) { return s.listed, nil }

func (s *stubSignals) ListForAccount(_ context.Context, acct subscription.Account, now time.Time) ([]sig.Signal, error) {
	plan, ok := acct.CurrentPlan(now)
	if !ok {
		return []sig.Signal{}, nil
	}
	out := []sig.Signal{}
	for _, item := range s.listed {
		if item.Plan == plan {
			out = append(out, item)
		}
	}
	return out, nil
}

type testEnv struct {
	store    *memStore
	identity *auth.Service
	codec    *auth.Codec
	resets   *stubResets
	payments *stubPayments
	signals  *stubSignals
	handler  http.Handler
}

func newTestEnv(t *testing.T, limiter ratelimit.Limiter) *testEnv {
	t.Helper()
	if limiter == nil {
		limiter = ratelimit.NewMemoryLimiter(1000, time.Minute)
	}
	env := &testEnv{
		store:    newMemStore(),
		codec:    auth.NewCodec("test-secret", time.Hour),
		resets:   &stubResets{},
		payments: &stubPayments{},
		signals:  &stubSignals{},
	}
	env.identity = auth.NewService(env.store, env.codec, nil)
	accounts := subscription.NewService(&dbtest.Pool{}, env.store, nil, nil)

	server := NewServer(Services{
		Identity: env.identity,
		Accounts: accounts,
		Resets:   env.resets,
		Payments: env.payments,
		Signals:  env.signals,
	}, auth.NewGuard(env.codec, env.identity, nil), limiter, nil)
	env.handler = server.Routes()
	return env
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		r = strings.NewReader(string(raw))
	}
	req := httptest.NewRequest(method, path, r)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) adminToken(t *testing.T) string {
	t.Helper()
	_, err := e.identity.EnsureAdmin(context.Background(), auth.AdminSeed{Email: "root@example.com", Password: "rootpass1"})
	if err != nil {
		t.Fatalf("ensure admin: %v", err)
	}
	rec := e.do(t, http.MethodPost, "/api/login", "", map[string]string{"email": "root@example.com", "password": "rootpass1", "role": "admin"})
	if rec.Code != http.StatusOK {
		t.Fatalf("admin login: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	decode(t, rec, &resp)
	return resp.Token
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func TestRegisterApproveLogin(t *testing.T) {
	env := newTestEnv(t, nil)
	creds := map[string]string{"email": "alice@example.com", "password": "supersafe"}

	rec := env.do(t, http.MethodPost, "/api/register", "", map[string]string{
		"name": "Alice", "surname": "Trader", "email": "alice@example.com", "password": "supersafe",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/api/login", "", creds)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("login before approval: expected 403, got %d", rec.Code)
	}
	var pending apperror.AppError
	decode(t, rec, &pending)
	if pending.Message != "Account pending approval" {
		t.Fatalf("unexpected pending message %q", pending.Message)
	}

	admin := env.adminToken(t)
	rec = env.do(t, http.MethodGet, "/api/admin/users/pending", admin, nil)
	var queue []pendingUserResponse
	decode(t, rec, &queue)
	if len(queue) != 1 || queue[0].Email != "alice@example.com" {
		t.Fatalf("unexpected pending queue %+v", queue)
	}

	rec = env.do(t, http.MethodPut, "/api/admin/users/"+queue[0].ID+"/approve", admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("approve: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/api/login", "", creds)
	if rec.Code != http.StatusOK {
		t.Fatalf("login after approval: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var login struct {
		Token string         `json:"token"`
		User  map[string]any `json:"user"`
	}
	decode(t, rec, &login)
	if login.User["role"] != "client" {
		t.Fatalf("expected client profile, got %+v", login.User)
	}
	if _, ok := login.User["subscription_end"]; !ok {
		t.Fatal("client profile must carry subscription_end")
	}
	cred, err := env.codec.Verify(login.Token)
	if err != nil {
		t.Fatalf("verify issued token: %v", err)
	}
	if cred.Role != auth.RoleClient || cred.SubjectID != queue[0].ID {
		t.Fatalf("unexpected credential %+v", cred)
	}

	rec = env.do(t, http.MethodGet, "/api/me", login.Token, nil)
	var me meResponse
	decode(t, rec, &me)
	if me.State != string(subscription.StateInactive) || me.Plan != nil {
		t.Fatalf("unexpected profile %+v", me)
	}

	rec = env.do(t, http.MethodPost, "/api/subscribe", login.Token, map[string]string{"plan": "Standard"})
	if rec.Code != http.StatusOK {
		t.Fatalf("subscribe: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = env.do(t, http.MethodGet, "/api/me", login.Token, nil)
	decode(t, rec, &me)
	if me.State != string(subscription.StateActive) || me.Plan == nil || *me.Plan != "Standard" {
		t.Fatalf("expected active Standard subscription, got %+v", me)
	}
}

func TestAdminLogin_ClientIdentityIsForbidden(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, http.MethodPost, "/api/register", "", map[string]string{"name": "Bob", "email": "bob@example.com", "password": "supersafe"})

	rec := env.do(t, http.MethodPost, "/api/login", "", map[string]string{"email": "bob@example.com", "password": "supersafe", "role": "admin"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/login", "", map[string]string{"email": "bob@example.com", "password": "wrong-password"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodPost, "/api/login", "", map[string]string{"email": "nobody@example.com", "password": "wrong-password"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRegister_Validation(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/register", "", map[string]string{"name": "Al", "email": "not-an-email", "password": "short"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var resp apperror.AppError
	decode(t, rec, &resp)
	if resp.Type != apperror.TypeValidation {
		t.Fatalf("expected validation error, got %q", resp.Type)
	}
	for _, field := range []string{"email", "password"} {
		if _, ok := resp.Fields[field]; !ok {
			t.Fatalf("expected field error for %s, got %v", field, resp.Fields)
		}
	}

	env.do(t, http.MethodPost, "/api/register", "", map[string]string{"name": "Al", "email": "al@example.com", "password": "supersafe"})
	rec = env.do(t, http.MethodPost, "/api/register", "", map[string]string{"name": "Al", "email": "AL@example.com", "password": "supersafe"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("duplicate email: expected 400, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/register", strings.NewReader("{"))
	out := httptest.NewRecorder()
	env.handler.ServeHTTP(out, req)
	if out.Code != http.StatusBadRequest {
		t.Fatalf("malformed json: expected 400, got %d", out.Code)
	}
}

func TestGuard_RoleMatrix(t *testing.T) {
	env := newTestEnv(t, nil)
	admin := env.adminToken(t)

	rec := env.do(t, http.MethodGet, "/api/admin/signals", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: expected 401, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/api/admin/signals", "garbage", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: expected 401, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/login", "", map[string]string{"email": "root@example.com", "password": "rootpass1"})
	var clientSession struct {
		Token string `json:"token"`
	}
	decode(t, rec, &clientSession)

	rec = env.do(t, http.MethodGet, "/api/admin/signals", clientSession.Token, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("client session on admin route: expected 403, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/api/signals", admin, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("admin session on client route: expected 403, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/api/admin/signals", admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin session on admin route: expected 200, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/api/me", admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("me: expected 200, got %d", rec.Code)
	}
}

func TestClientSignals_PlanFiltered(t *testing.T) {
	env := newTestEnv(t, nil)
	env.signals.listed = []sig.Signal{
		{
			ID: "s1", Pair: "EURUSD", Entry: "1.0850", TakeProfit: "1.0900", StopLoss: "1.0800", Plan: subscription.PlanStandard,
			Lots: []sig.Lot{{LotSize: 0.01, WinAmount: 5, LossAmount: 3}, {LotSize: 0.05, WinAmount: 25, LossAmount: 15}},
		},
		{ID: "s2", Pair: "GBPUSD", Plan: subscription.PlanPremium},
	}

	env.do(t, http.MethodPost, "/api/register", "", map[string]string{"name": "Cy", "email": "cy@example.com", "password": "supersafe"})
	user, _ := env.store.GetUserByEmail(context.Background(), "cy@example.com")
	start := time.Now().Add(-time.Hour)
	end := start.Add(subscription.Term)
	plan := subscription.PlanStandard
	_ = env.store.Save(context.Background(), nil, subscription.Account{UserID: user.ID, Approved: true, Active: true, Plan: &plan, Start: &start, End: &end})

	rec := env.do(t, http.MethodPost, "/api/login", "", map[string]string{"email": "cy@example.com", "password": "supersafe"})
	var session struct {
		Token string `json:"token"`
	}
	decode(t, rec, &session)

	rec = env.do(t, http.MethodGet, "/api/signals", session.Token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var items []signalResponse
	decode(t, rec, &items)
	if len(items) != 1 || items[0].ID != "s1" || items[0].TP != "1.0900" || len(items[0].Lots) != 2 {
		t.Fatalf("unexpected signals %+v", items)
	}
}

func TestExpiredPlanIsNotReported(t *testing.T) {
	env := newTestEnv(t, nil)

	env.do(t, http.MethodPost, "/api/register", "", map[string]string{"name": "Di", "email": "di@example.com", "password": "supersafe"})
	user, _ := env.store.GetUserByEmail(context.Background(), "di@example.com")
	start := time.Now().Add(-2 * subscription.Term)
	end := start.Add(subscription.Term)
	plan := subscription.PlanPremium
	_ = env.store.Save(context.Background(), nil, subscription.Account{UserID: user.ID, Approved: true, Active: true, Plan: &plan, Start: &start, End: &end})

	rec := env.do(t, http.MethodPost, "/api/login", "", map[string]string{"email": "di@example.com", "password": "supersafe"})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d", rec.Code)
	}
	var session struct {
		Token string `json:"token"`
		User  struct {
			Plan            *string `json:"plan"`
			SubscriptionEnd *string `json:"subscription_end"`
		} `json:"user"`
	}
	decode(t, rec, &session)
	if session.User.Plan != nil {
		t.Fatalf("login: expected null plan after expiry, got %q", *session.User.Plan)
	}
	if session.User.SubscriptionEnd == nil {
		t.Fatalf("login: expected subscription_end to stay visible")
	}

	rec = env.do(t, http.MethodGet, "/api/me", session.Token, nil)
	var me meResponse
	decode(t, rec, &me)
	if me.Plan != nil || me.State != string(subscription.StateExpired) {
		t.Fatalf("me: expected expired without plan, got state %q plan %v", me.State, me.Plan)
	}
}

func TestAdminSignal_InvalidID(t *testing.T) {
	env := newTestEnv(t, nil)
	admin := env.adminToken(t)

	rec := env.do(t, http.MethodGet, "/api/admin/signals/42", admin, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	env.signals.getErr = sig.ErrNotFound
	rec = env.do(t, http.MethodGet, "/api/admin/signals/"+uuid.NewString(), admin, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	env.signals.createErr = sig.ErrEmptyUpdate
	rec = env.do(t, http.MethodPost, "/api/admin/signals", admin, map[string]string{"pair": "EURUSD"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestForgotPassword_Uniform(t *testing.T) {
	env := newTestEnv(t, nil)

	var bodies []string
	for _, email := range []string{"known@example.com", "unknown@example.com"} {
		rec := env.do(t, http.MethodPost, "/api/forgot-password", "", map[string]string{"email": email})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		bodies = append(bodies, rec.Body.String())
	}
	if bodies[0] != bodies[1] {
		t.Fatalf("responses differ: %q vs %q", bodies[0], bodies[1])
	}

	env.resets.consumeErr = reset.ErrInvalidOrExpiredToken
	rec := env.do(t, http.MethodPost, "/api/reset-password", "", map[string]string{"token": "t", "password": "newpassword"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var resp apperror.AppError
	decode(t, rec, &resp)
	if resp.Type != apperror.TypeInvalidToken {
		t.Fatalf("expected invalid token type, got %q", resp.Type)
	}
}

func TestPaymentCallback_PlainText(t *testing.T) {
	cases := []struct {
		name     string
		path     string
		err      error
		wantCode int
		wantBody string
	}{
		{name: "accepted", path: "/api/pay/ozow/callback", wantCode: http.StatusOK, wantBody: "OK"},
		{name: "not complete", path: "/api/pay/ozow/callback", err: payment.ErrNotComplete, wantCode: http.StatusBadRequest, wantBody: "FAILED"},
		{name: "bad signature", path: "/api/pay/ozow/callback", err: payment.ErrInvalidSignature, wantCode: http.StatusBadRequest, wantBody: "FAILED"},
		{name: "unknown reference", path: "/api/pay/ozow/callback", err: payment.ErrUnknownReference, wantCode: http.StatusNotFound, wantBody: "FAILED"},
		{name: "unknown provider", path: "/api/pay/paypal/callback", wantCode: http.StatusNotFound, wantBody: "FAILED"},
		{name: "storage failure", path: "/api/pay/ozow/callback", err: errors.New("db down"), wantCode: http.StatusInternalServerError, wantBody: "FAILED"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			env.payments.callbackErr = tc.err

			form := url.Values{"Status": {"Complete"}, "TransactionReference": {"NARI-x-1"}, "Amount": {"2000.00"}}
			req := httptest.NewRequest(http.MethodPost, tc.path, strings.NewReader(form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			rec := httptest.NewRecorder()
			env.handler.ServeHTTP(rec, req)

			if rec.Code != tc.wantCode {
				t.Fatalf("expected %d, got %d", tc.wantCode, rec.Code)
			}
			if rec.Body.String() != tc.wantBody {
				t.Fatalf("expected body %q, got %q", tc.wantBody, rec.Body.String())
			}
		})
	}
}

func TestPaymentCallback_ParsesForm(t *testing.T) {
	env := newTestEnv(t, nil)
	form := url.Values{"Status": {"Complete"}, "TransactionReference": {"NARI-x-1"}, "Amount": {"3500.00"}, "Hash": {"abc"}}
	req := httptest.NewRequest(http.MethodPost, "/api/pay/ozow/callback", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	env.handler.ServeHTTP(httptest.NewRecorder(), req)

	if len(env.payments.callbacks) != 1 {
		t.Fatalf("expected one callback, got %d", len(env.payments.callbacks))
	}
	cb := env.payments.callbacks[0]
	if cb.Amount != "3500.00" || cb.Hash != "abc" || cb.TransactionReference != "NARI-x-1" {
		t.Fatalf("unexpected callback %+v", cb)
	}
}

func TestInitiatePayment(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, http.MethodPost, "/api/register", "", map[string]string{"name": "Di", "email": "di@example.com", "password": "supersafe"})
	user, _ := env.store.GetUserByEmail(context.Background(), "di@example.com")
	_ = env.store.Save(context.Background(), nil, subscription.Account{UserID: user.ID, Approved: true})

	rec := env.do(t, http.MethodPost, "/api/login", "", map[string]string{"email": "di@example.com", "password": "supersafe"})
	var session struct {
		Token string `json:"token"`
	}
	decode(t, rec, &session)

	rec = env.do(t, http.MethodPost, "/api/pay/ozow", session.Token, map[string]string{"plan": "Premium"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var out payment.Request
	decode(t, rec, &out)
	if out.Plan != "Premium" || !strings.Contains(out.TransactionReference, user.ID) {
		t.Fatalf("unexpected payment request %+v", out)
	}

	rec = env.do(t, http.MethodPost, "/api/pay/ozow", session.Token, map[string]string{"plan": "Gold"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid plan: expected 400, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodPost, "/api/pay/stripe", session.Token, map[string]string{"plan": "Basic"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown provider: expected 404, got %d", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, ratelimit.NewMemoryLimiter(2, time.Minute))

	for i := 0; i < 2; i++ {
		rec := env.do(t, http.MethodPost, "/api/login", "", map[string]string{"email": "x@example.com", "password": "whatever1"})
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i, rec.Code)
		}
	}
	rec := env.do(t, http.MethodPost, "/api/login", "", map[string]string{"email": "x@example.com", "password": "whatever1"})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/forgot-password", "", map[string]string{"email": "x@example.com"})
	if rec.Code != http.StatusOK {
		t.Fatalf("limits are per endpoint: expected 200, got %d", rec.Code)
	}
}

func TestRateLimit_SpoofedForwardedFor(t *testing.T) {
	env := newTestEnv(t, ratelimit.NewMemoryLimiter(1, time.Minute))

	limited := 0
	for i := 0; i < 20; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/forgot-password", strings.NewReader(`{"email":"x@example.com"}`))
		req.Header.Set("X-Forwarded-For", "203.0.113."+strconv.Itoa(i))
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			limited++
		}
	}
	if limited != 19 {
		t.Fatalf("untrusted peer rotating X-Forwarded-For: expected 19 throttled, got %d", limited)
	}
}

func TestRequestID(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/api/ping", "", nil)
	if _, err := uuid.Parse(rec.Header().Get(headerRequestID)); err != nil {
		t.Fatalf("expected generated request id, got %q", rec.Header().Get(headerRequestID))
	}

	id := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	req.Header.Set(headerRequestID, id)
	out := httptest.NewRecorder()
	env.handler.ServeHTTP(out, req)
	if out.Header().Get(headerRequestID) != id {
		t.Fatalf("expected inbound request id to be kept")
	}
}
