package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/pribylovaa/accounts-auth/internal/access"
	"github.com/pribylovaa/accounts-auth/internal/metrics"
	"github.com/pribylovaa/accounts-auth/internal/models"
	"github.com/pribylovaa/accounts-auth/internal/pkg/log"
	"github.com/pribylovaa/accounts-auth/internal/tokens"
)

// capHandler — тестовый slog.Handler, который копит attrs последней записи.
type capHandler struct {
	base    []slog.Attr
	lastMsg string
	attrs   map[string]any
	count   int
}

func (h *capHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *capHandler) Handle(_ context.Context, r slog.Record) error {
	out := make(map[string]any, len(h.base)+8)
	for _, a := range h.base {
		out[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		out[a.Key] = a.Value.Any()
		return true
	})
	h.count++
	h.lastMsg = r.Message
	h.attrs = out
	return nil
}

func (h *capHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h.base = append(h.base, attrs...)
	return h
}

func (h *capHandler) WithGroup(string) slog.Handler { return h }

func makeReq(target string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.RemoteAddr = (&net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 12345}).String()
	return req
}

type errEnvelope struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"request_id"`
	} `json:"error"`
}

func decodeErr(t *testing.T, rr *httptest.ResponseRecorder) errEnvelope {
	t.Helper()
	var env errEnvelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	return env
}

func TestChain_Order(t *testing.T) {
	order := []string{}
	mw := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name+"-begin")
				next.ServeHTTP(w, r)
				order = append(order, name+"-end")
			})
		}
	}
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
		w.WriteHeader(http.StatusTeapot)
	})

	rr := httptest.NewRecorder()
	Chain(final, mw("m1"), mw("m2")).ServeHTTP(rr, makeReq("/chain"))

	require.Equal(t, []string{"m1-begin", "m2-begin", "handler", "m2-end", "m1-end"}, order)
	require.Equal(t, http.StatusTeapot, rr.Code)
}

func TestRequestID_GenerateAndPropagate(t *testing.T) {
	var seenHeader, seenCtx string
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenHeader = r.Header.Get("X-Request-Id")
		seenCtx = RequestIDFrom(r.Context())
	})

	rr := httptest.NewRecorder()
	Chain(h, RequestID()).ServeHTTP(rr, makeReq("/rid"))

	id := rr.Header().Get("X-Request-Id")
	require.Len(t, id, 32)
	require.Equal(t, id, seenHeader)
	require.Equal(t, id, seenCtx)
}

func TestRequestID_UseExisting(t *testing.T) {
	const given = "abc123-existing-id"
	var seenCtx string
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenCtx = RequestIDFrom(r.Context())
	})

	req := makeReq("/rid")
	req.Header.Set("X-Request-Id", given)
	rr := httptest.NewRecorder()
	Chain(h, RequestID()).ServeHTTP(rr, req)

	require.Equal(t, given, rr.Header().Get("X-Request-Id"))
	require.Equal(t, given, seenCtx)
}

func TestTimeout_SetsDeadline_WhenAbsent(t *testing.T) {
	var hasDeadline bool
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hasDeadline = r.Context().Deadline()
	})

	Chain(h, Timeout(50*time.Millisecond)).ServeHTTP(httptest.NewRecorder(), makeReq("/t"))
	require.True(t, hasDeadline)
}

func TestTimeout_DoesNotOverrideExistingDeadline(t *testing.T) {
	var childDL time.Time
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		childDL, _ = r.Context().Deadline()
	})

	parent, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	Chain(h, Timeout(time.Second)).ServeHTTP(httptest.NewRecorder(), makeReq("/t").WithContext(parent))

	parentDL, _ := parent.Deadline()
	require.WithinDuration(t, parentDL, childDL, time.Millisecond)
}

func TestTimeout_ZeroIsNoop(t *testing.T) {
	var hasDeadline bool
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hasDeadline = r.Context().Deadline()
	})

	Chain(h, Timeout(0)).ServeHTTP(httptest.NewRecorder(), makeReq("/t"))
	require.False(t, hasDeadline)
}

func TestRecover_ConvertsPanicTo500(t *testing.T) {
	capture := &capHandler{}
	panicky := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	req := makeReq("/panic")
	req = req.WithContext(log.Into(req.Context(), slog.New(capture)))
	rr := httptest.NewRecorder()
	Chain(panicky, Recover()).ServeHTTP(rr, req)

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	env := decodeErr(t, rr)
	require.Equal(t, "internal", env.Error.Code)
	require.NotContains(t, env.Error.Message, "boom")
	require.Equal(t, "panic_recovered", capture.lastMsg)
}

func TestLogging_WritesRecord(t *testing.T) {
	capture := &capHandler{}

	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("0123456789"))
	})

	req := makeReq("/log")
	req.Header.Set("X-Request-Id", "rid-456")
	rr := httptest.NewRecorder()
	Chain(final, Logging(slog.New(capture))).ServeHTTP(rr, req)

	require.Equal(t, 1, capture.count)
	require.Equal(t, "http", capture.lastMsg)
	require.Equal(t, "rid-456", capture.attrs["request_id"])
	require.Equal(t, int64(http.StatusOK), capture.attrs["status"])
	require.Equal(t, int64(10), capture.attrs["bytes"])
	require.Equal(t, "/log", capture.attrs["path"])
}

func TestLogging_PutsLoggerIntoContext(t *testing.T) {
	capture := &capHandler{}
	logger := slog.New(capture)

	var fromCtx *slog.Logger
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fromCtx = log.From(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	Chain(final, Logging(logger)).ServeHTTP(httptest.NewRecorder(), makeReq("/ctx"))
	require.Equal(t, logger, fromCtx)
	require.Equal(t, int64(http.StatusNoContent), capture.attrs["status"])
}

// stubAuth — Authenticator с заданным результатом.
type stubAuth struct {
	claims *models.Claims
	err    error
	got    string
}

func (s *stubAuth) Authenticate(token string) (*models.Claims, error) {
	s.got = token
	return s.claims, s.err
}

func TestAuthenticate(t *testing.T) {
	uid := uuid.New()
	ok := &stubAuth{claims: &models.Claims{UserID: uid, Role: models.RoleUser}}

	var seen *models.Claims
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ClaimsFrom(r.Context())
	})

	req := makeReq("/me")
	req.Header.Set("Authorization", "Bearer tok-123")
	rr := httptest.NewRecorder()
	Chain(final, Authenticate(ok)).ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "tok-123", ok.got)
	require.NotNil(t, seen)
	require.Equal(t, uid, seen.UserID)
}

func TestAuthenticate_Rejects(t *testing.T) {
	cases := []struct {
		name   string
		header string
		err    error
		code   string
	}{
		{"missing", "", access.ErrUnauthenticated, "unauthenticated"},
		{"basic", "Basic abc", access.ErrUnauthenticated, "unauthenticated"},
		{"expired", "Bearer x", errors.Join(access.ErrUnauthenticated, tokens.ErrTokenExpired), "token_expired"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stub := &stubAuth{err: tc.err}
			called := false
			final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

			req := makeReq("/me")
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			Chain(final, Authenticate(stub)).ServeHTTP(rr, req)

			require.False(t, called)
			require.Equal(t, http.StatusUnauthorized, rr.Code)
			require.Equal(t, tc.code, decodeErr(t, rr).Error.Code)
		})
	}
}

func TestRequireRole(t *testing.T) {
	cases := []struct {
		name   string
		role   models.Role
		status int
	}{
		{"admin_passes", models.RoleAdmin, http.StatusOK},
		{"user_forbidden", models.RoleUser, http.StatusForbidden},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stub := &stubAuth{claims: &models.Claims{UserID: uuid.New(), Role: tc.role}}
			final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

			req := makeReq("/admin")
			req.Header.Set("Authorization", "Bearer t")
			rr := httptest.NewRecorder()
			Chain(final, Authenticate(stub), RequireRole(models.RoleAdmin)).ServeHTTP(rr, req)

			require.Equal(t, tc.status, rr.Code)
		})
	}

	// Без Authenticate claims отсутствуют.
	rr := httptest.NewRecorder()
	Chain(http.NotFoundHandler(), RequireRole(models.RoleUser)).ServeHTTP(rr, makeReq("/admin"))
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestMetrics_UsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Metrics())
	r.Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	before := testutil.CollectAndCount(metrics.HTTPDuration, "http_request_duration_seconds")

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/items/"+uuid.NewString(), nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/items/"+uuid.NewString(), nil))

	// Один ряд на шаблон маршрута, а не на каждый id.
	after := testutil.CollectAndCount(metrics.HTTPDuration, "http_request_duration_seconds")
	require.LessOrEqual(t, after-before, 1)
}
