package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/chewtoys/kentcdodds.com/internal/metrics"
	"github.com/chewtoys/kentcdodds.com/internal/middleware"
	"github.com/chewtoys/kentcdodds.com/internal/model"
)

type mockSessionFinder struct {
	findByIDFunc func(ctx context.Context, id string) (*model.Session, error)
}

func (m *mockSessionFinder) FindByID(ctx context.Context, id string) (*model.Session, error) {
	return m.findByIDFunc(ctx, id)
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	sessions := &mockSessionFinder{
		findByIDFunc: func(ctx context.Context, id string) (*model.Session, error) {
			if id == "valid-session" {
				return &model.Session{ID: id, UserID: "user-1", ExpiresAt: time.Now().Add(time.Hour)}, nil
			}
			return nil, nil
		},
	}
	users := &mockUserFinder{
		findByIDFunc: func(ctx context.Context, id string) (*model.User, error) {
			return &model.User{ID: id, Email: "user@example.com", FirstName: "Kent"}, nil
		},
	}

	deps := &RouterDeps{
		Logger:        slog.New(slog.NewJSONHandler(io.Discard, nil)),
		SessionFinder: sessions,
		UserFinder:    users,
		RateLimiter:   rl,
		AuthService: &mockAuthService{
			sessionFromMagicLinkFunc: func(ctx context.Context, rawURL string) (*model.Session, error) {
				return nil, model.NewInvalidMagicLinkError("署名が不正です")
			},
		},
		AccountService: &mockAccountService{},
		Users:          users,
		SessionCounter: &mockSessionCounter{countFunc: func(ctx context.Context, userID string) (int, error) { return 1, nil }},
		PostReads: &mockPostReadLister{listFunc: func(ctx context.Context, userID string) ([]*model.PostRead, error) {
			return nil, nil
		}},
		LinkGenerator: &mockLinkGenerator{generateFunc: func(email string) (string, error) {
			return "https://kentcdodds.com/magic?token=qr", nil
		}},
		Mailer:          &mockMailer{sendFunc: func(to, magicLink string) error { return nil }},
		SessionCodec:    testCodec(),
		Metrics:         collector,
		MetricsGatherer: reg,
		MagicConfig:     testMagicConfig(),
		MeConfig:        MeHandlerConfig{},
	}

	return NewRouter(deps)
}

func TestRouter_HealthEndpoint(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestRouter_MetricsEndpoint(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestRouter_MagicRouteIsPublic(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/magic?token=bad", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	// 検証失敗はログインページへのリダイレクトになる（401ではない）
	if rec.Code != http.StatusTemporaryRedirect {
		t.Errorf("status = %d, want 307", rec.Code)
	}
	if got := rec.Header().Get("Location"); got != "/login" {
		t.Errorf("Location = %s, want /login", got)
	}
}

func TestRouter_MeRequiresAuthentication(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusTemporaryRedirect {
		t.Errorf("status = %d, want 307", rec.Code)
	}
	if got := rec.Header().Get("Location"); got != "/login" {
		t.Errorf("Location = %s, want /login", got)
	}
}

func TestRouter_MeWithValidSession(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "valid-session"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestRouter_SecurityHeadersApplied(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %s, want nosniff", got)
	}
}
