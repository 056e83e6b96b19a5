package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hongminglow/pipeline-crm/internal/auth"
	"github.com/hongminglow/pipeline-crm/internal/models"
)

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func TestAuthenticate(t *testing.T) {
	tokens := auth.NewTokenManager("secret", "crm-test", time.Hour)
	token, err := tokens.Generate(models.User{ID: 3, Role: models.MemberRole})
	require.NoError(t, err)

	var seen auth.Identity
	h := Authenticate(tokens)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = IdentityFrom(r.Context())
	}))

	cases := []struct {
		name    string
		header  string
		want    int
		wantErr string
	}{
		{"missing", "", http.StatusUnauthorized, "missing bearer token"},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, "missing bearer token"},
		{"garbage", "Bearer nope", http.StatusUnauthorized, "invalid or expired token"},
		{"valid", "Bearer " + token, http.StatusOK, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
			if tc.wantErr != "" {
				assert.JSONEq(t, `{"error":"`+tc.wantErr+`"}`, rec.Body.String())
			}
		})
	}
	assert.Equal(t, int64(3), seen.UserID)
}

type fakeChecker struct {
	allow bool
	err   error
}

func (f fakeChecker) Allowed(string, string) (bool, error) { return f.allow, f.err }

func TestRequirePermission(t *testing.T) {
	withID := func(r *http.Request) *http.Request {
		return r.WithContext(WithIdentity(r.Context(), auth.Identity{UserID: 1, Role: models.MemberRole}))
	}

	cases := []struct {
		name    string
		checker fakeChecker
		req     *http.Request
		want    int
	}{
		{"allowed", fakeChecker{allow: true}, withID(httptest.NewRequest(http.MethodPost, "/", nil)), http.StatusOK},
		{"denied", fakeChecker{}, withID(httptest.NewRequest(http.MethodPost, "/", nil)), http.StatusForbidden},
		{"checker error", fakeChecker{err: errors.New("boom")}, withID(httptest.NewRequest(http.MethodPost, "/", nil)), http.StatusInternalServerError},
		{"no identity", fakeChecker{allow: true}, httptest.NewRequest(http.MethodPost, "/", nil), http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reached := false
			h := RequirePermission(tc.checker, models.PermInvitationsManage, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				reached = true
			}))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, tc.req)
			assert.Equal(t, tc.want, rec.Code)
			assert.Equal(t, tc.want == http.StatusOK, reached)
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	as := func(role string) *http.Request {
		r := httptest.NewRequest(http.MethodPost, "/", nil)
		return r.WithContext(WithIdentity(r.Context(), auth.Identity{UserID: 1, Role: role}))
	}

	cases := []struct {
		name string
		req  *http.Request
		want int
	}{
		{"admin", as(models.AdminRole), http.StatusOK},
		{"member", as(models.MemberRole), http.StatusForbidden},
		{"custom role", as("Manager"), http.StatusForbidden},
		{"no identity", httptest.NewRequest(http.MethodPost, "/", nil), http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			RequireAdmin(http.HandlerFunc(okHandler)).ServeHTTP(rec, tc.req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestRateLimiter(t *testing.T) {
	h := NewRateLimiter(1, 2, nil).Middleware(http.HandlerFunc(okHandler))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	other := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	other.RemoteAddr = "10.0.0.2:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, other)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiterIgnoresForwardedForFromUntrustedPeer(t *testing.T) {
	h := NewRateLimiter(1, 5, nil).Middleware(http.HandlerFunc(okHandler))

	allowed := 0
	for i := 0; i < 50; i++ {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.RemoteAddr = "203.0.113.9:4000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code == http.StatusOK {
			allowed++
		}
	}
	assert.Equal(t, 5, allowed)
}

func TestClientIP(t *testing.T) {
	trusted := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}
	cases := []struct {
		name    string
		remote  string
		fwd     string
		trusted []netip.Prefix
		want    string
	}{
		{name: "no proxies configured", remote: "10.1.1.1:80", fwd: "1.2.3.4", want: "10.1.1.1"},
		{name: "untrusted peer", remote: "8.8.8.8:80", fwd: "1.2.3.4", trusted: trusted, want: "8.8.8.8"},
		{name: "trusted peer", remote: "10.1.1.1:80", fwd: "1.2.3.4", trusted: trusted, want: "1.2.3.4"},
		{name: "spoofed left-most hop", remote: "10.1.1.1:80", fwd: "6.6.6.6, 1.2.3.4, 10.2.2.2", trusted: trusted, want: "1.2.3.4"},
		{name: "garbage header", remote: "10.1.1.1:80", fwd: "nonsense", trusted: trusted, want: "10.1.1.1"},
		{name: "no header", remote: "10.1.1.1:80", trusted: trusted, want: "10.1.1.1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remote
			if tc.fwd != "" {
				req.Header.Set("X-Forwarded-For", tc.fwd)
			}
			assert.Equal(t, tc.want, clientIP(req, tc.trusted))
		})
	}
}

func TestRateLimiterEvictsIdleClients(t *testing.T) {
	rl := NewRateLimiter(60, 1, nil)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	for i := 0; i < 100; i++ {
		rl.limiter(fmt.Sprintf("192.0.2.%d", i))
	}
	assert.Equal(t, 100, rl.Len())

	now = now.Add(2 * time.Minute)
	rl.limiter("192.0.2.200")
	assert.Equal(t, 1, rl.Len())
}

func TestLoggingSetsRequestID(t *testing.T) {
	var fromCtx string
	h := Logging(zap.NewNop(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fromCtx = RequestIDFrom(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
	assert.Equal(t, rec.Header().Get(RequestIDHeader), fromCtx)

	const given = "7f1a6c52-1e1b-4f32-9b57-6f7a1f6d2c11"
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, given)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, given, rec.Header().Get(RequestIDHeader))
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://app.example"})(http.HandlerFunc(okHandler))

	req := httptest.NewRequest(http.MethodOptions, "/funnels", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "600", rec.Header().Get("Access-Control-Max-Age"))

	req = httptest.NewRequest(http.MethodGet, "/funnels", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestIdentityFromEmptyContext(t *testing.T) {
	_, ok := IdentityFrom(context.Background())
	assert.False(t, ok)
}
