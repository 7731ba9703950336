package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiter_FixedWindow(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	l := NewMemoryLimiter(2, time.Minute).WithClock(func() time.Time { return now })
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "1.2.3.4")
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, _ := l.Allow(ctx, "1.2.3.4")
	require.False(t, ok)

	ok, _ = l.Allow(ctx, "5.6.7.8")
	require.True(t, ok, "keys are independent")

	now = now.Add(time.Minute)
	ok, _ = l.Allow(ctx, "1.2.3.4")
	require.True(t, ok, "new window")
}

func TestMemoryLimiter_Sweep(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	l := NewMemoryLimiter(1, time.Minute).WithClock(func() time.Time { return now })

	_, _ = l.Allow(context.Background(), "a")
	now = now.Add(30 * time.Second)
	_, _ = l.Allow(context.Background(), "b")
	now = now.Add(40 * time.Second)

	require.Equal(t, 1, l.Sweep())
	require.Len(t, l.entries, 1)
}

type errLimiter struct{}

func (errLimiter) Allow(context.Context, string) (bool, error) { return false, errors.New("down") }

func TestMiddleware(t *testing.T) {
	l := NewMemoryLimiter(1, time.Minute)
	deny := func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTooManyRequests) }
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	trusted, err := ParseTrustedProxies([]string{"10.0.0.0/8"})
	require.NoError(t, err)
	h := Middleware(l, "login", ClientIP(trusted), deny, nil)(ok)

	do := func(remote, fwd string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/login", nil)
		req.RemoteAddr = remote
		if fwd != "" {
			req.Header.Set("X-Forwarded-For", fwd)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	require.Equal(t, http.StatusOK, do("10.0.0.1:1234", ""))
	require.Equal(t, http.StatusTooManyRequests, do("10.0.0.1:9999", ""))
	require.Equal(t, http.StatusOK, do("10.0.0.1:1234", "203.0.113.9, 10.0.0.1"))
	require.Equal(t, http.StatusTooManyRequests, do("10.0.0.2:1", "203.0.113.9"))

	open := Middleware(errLimiter{}, "login", ClientIP(nil), deny, nil)(ok)
	rec := httptest.NewRecorder()
	open.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddleware_UntrustedPeerCannotRotateForwardedFor(t *testing.T) {
	l := NewMemoryLimiter(1, time.Hour)
	deny := func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTooManyRequests) }
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	trusted, err := ParseTrustedProxies([]string{"10.0.0.0/8"})
	require.NoError(t, err)
	h := Middleware(l, "login", ClientIP(trusted), deny, nil)(ok)

	allowed := 0
	for i := 0; i < 50; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/login", nil)
		req.RemoteAddr = "198.51.100.7:4242"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i))
		req.Header.Set("X-Real-IP", fmt.Sprintf("192.0.2.%d", i))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code == http.StatusOK {
			allowed++
		}
	}
	require.Equal(t, 1, allowed)
}

func TestClientIP(t *testing.T) {
	trusted, err := ParseTrustedProxies([]string{"10.0.0.0/8", "::1/128"})
	require.NoError(t, err)
	key := ClientIP(trusted)

	cases := []struct {
		name   string
		remote string
		header map[string]string
		want   string
	}{
		{"untrusted peer ignores headers", "198.51.100.7:1", map[string]string{"X-Forwarded-For": "203.0.113.1"}, "198.51.100.7"},
		{"trusted peer uses first hop", "10.1.2.3:1", map[string]string{"X-Forwarded-For": "203.0.113.1, 10.1.2.3"}, "203.0.113.1"},
		{"real ip wins", "10.1.2.3:1", map[string]string{"X-Real-IP": "203.0.113.2", "X-Forwarded-For": "203.0.113.1"}, "203.0.113.2"},
		{"trusted peer without headers", "[::1]:80", nil, "::1"},
		{"unparsable remote", "pipe", nil, "pipe"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remote
			for k, v := range tc.header {
				req.Header.Set(k, v)
			}
			require.Equal(t, tc.want, key(req))
		})
	}

	_, err = ParseTrustedProxies([]string{"not-a-cidr"})
	require.Error(t, err)
}

func TestRedisLimiter(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	client, err := NewRedisClient(context.Background(), url)
	require.NoError(t, err)
	defer client.Close()

	l := NewRedisLimiter(client, "test-"+uuid.NewString(), 2, time.Minute)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "k")
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, err := l.Allow(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}
