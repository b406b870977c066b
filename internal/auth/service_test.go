package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chewtoys/kentcdodds.com/internal/magiclink"
	"github.com/chewtoys/kentcdodds.com/internal/model"
)

// --- モック ---

type mockVerifier struct {
	verifyFn  func(rawURL string) (*magiclink.Payload, error)
	consumeFn func(nonce string, expiresAt time.Time) bool

	consumed []string
}

func (m *mockVerifier) Verify(rawURL string) (*magiclink.Payload, error) {
	return m.verifyFn(rawURL)
}

func (m *mockVerifier) Consume(nonce string, expiresAt time.Time) bool {
	m.consumed = append(m.consumed, nonce)
	if m.consumeFn != nil {
		return m.consumeFn(nonce, expiresAt)
	}
	return true
}

type mockUserRepo struct {
	findByEmailFn func(ctx context.Context, email string) (*model.User, error)
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	return nil, nil
}
func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	if m.findByEmailFn != nil {
		return m.findByEmailFn(ctx, email)
	}
	return nil, nil
}
func (m *mockUserRepo) Create(ctx context.Context, user *model.User) error     { return nil }
func (m *mockUserRepo) UpdateFirstName(ctx context.Context, id, n string) error { return nil }
func (m *mockUserRepo) ClearDiscordID(ctx context.Context, id string) error     { return nil }
func (m *mockUserRepo) DeleteByID(ctx context.Context, id string) error         { return nil }

type mockSessionRepo struct {
	createFn             func(ctx context.Context, session *model.Session) error
	deleteByIDFn         func(ctx context.Context, id string) error
	deleteByUserExceptFn func(ctx context.Context, userID, keep string) (int64, error)
}

func (m *mockSessionRepo) Create(ctx context.Context, session *model.Session) error {
	if m.createFn != nil {
		return m.createFn(ctx, session)
	}
	return nil
}
func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	return nil, nil
}
func (m *mockSessionRepo) CountByUserID(ctx context.Context, userID string) (int, error) {
	return 0, nil
}
func (m *mockSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if m.deleteByIDFn != nil {
		return m.deleteByIDFn(ctx, id)
	}
	return nil
}
func (m *mockSessionRepo) DeleteByUserIDExcept(ctx context.Context, userID, keep string) (int64, error) {
	if m.deleteByUserExceptFn != nil {
		return m.deleteByUserExceptFn(ctx, userID, keep)
	}
	return 0, nil
}
func (m *mockSessionRepo) DeleteByUserID(ctx context.Context, userID string) error { return nil }

type mockPostReadRepo struct {
	mergeFn func(ctx context.Context, clientID, userID string) (int64, error)
}

func (m *mockPostReadRepo) Create(ctx context.Context, read *model.PostRead) error { return nil }
func (m *mockPostReadRepo) MergeClientToUser(ctx context.Context, clientID, userID string) (int64, error) {
	if m.mergeFn != nil {
		return m.mergeFn(ctx, clientID, userID)
	}
	return 0, nil
}
func (m *mockPostReadRepo) CountByClientID(ctx context.Context, clientID string) (int, error) {
	return 0, nil
}
func (m *mockPostReadRepo) ListByUserID(ctx context.Context, userID string) ([]*model.PostRead, error) {
	return nil, nil
}

func newTestService(v *mockVerifier, u *mockUserRepo, s *mockSessionRepo, p *mockPostReadRepo) *Service {
	return NewService(v, u, s, p, ServiceConfig{SessionMaxAge: 86400})
}

// --- テスト ---

func TestSessionFromMagicLink_KnownUser_CreatesSession(t *testing.T) {
	var createdSession *model.Session

	verifier := &mockVerifier{
		verifyFn: func(rawURL string) (*magiclink.Payload, error) {
			return &magiclink.Payload{Email: "me@example.com", Nonce: "n1"}, nil
		},
	}
	userRepo := &mockUserRepo{
		findByEmailFn: func(ctx context.Context, email string) (*model.User, error) {
			return &model.User{ID: "user-1", Email: email}, nil
		},
	}
	sessionRepo := &mockSessionRepo{
		createFn: func(ctx context.Context, session *model.Session) error {
			createdSession = session
			return nil
		},
	}

	svc := newTestService(verifier, userRepo, sessionRepo, &mockPostReadRepo{})

	session, err := svc.SessionFromMagicLink(context.Background(), "https://kcd.test/magic?token=x")
	if err != nil {
		t.Fatalf("SessionFromMagicLink returned error: %v", err)
	}
	if session == nil {
		t.Fatal("expected a session")
	}
	if session.UserID != "user-1" {
		t.Errorf("UserID = %q, want %q", session.UserID, "user-1")
	}
	if createdSession == nil {
		t.Fatal("expected session to be persisted")
	}
	if len(session.ID) != 64 {
		t.Errorf("session ID length = %d, want 64 hex chars", len(session.ID))
	}
	if len(verifier.consumed) != 1 || verifier.consumed[0] != "n1" {
		t.Errorf("consumed nonces = %v, want [n1]", verifier.consumed)
	}
}

func TestSessionFromMagicLink_UnknownEmail_ReturnsNilSession(t *testing.T) {
	verifier := &mockVerifier{
		verifyFn: func(rawURL string) (*magiclink.Payload, error) {
			return &magiclink.Payload{Email: "new@example.com", Nonce: "n1"}, nil
		},
	}
	userRepo := &mockUserRepo{
		findByEmailFn: func(ctx context.Context, email string) (*model.User, error) {
			return nil, nil
		},
	}

	svc := newTestService(verifier, userRepo, &mockSessionRepo{}, &mockPostReadRepo{})

	session, err := svc.SessionFromMagicLink(context.Background(), "https://kcd.test/magic?token=x")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if session != nil {
		t.Error("expected nil session for unregistered email")
	}

	// サインアップ継続用に保存されるリンクが生きたままであること:
	// ユーザー未登録の場合はノンスを消費しない
	if len(verifier.consumed) != 0 {
		t.Errorf("consumed nonces = %v, want none for unregistered email", verifier.consumed)
	}
}

func TestSessionFromMagicLink_AlreadyConsumed_ReturnsTypedError(t *testing.T) {
	verifier := &mockVerifier{
		verifyFn: func(rawURL string) (*magiclink.Payload, error) {
			return &magiclink.Payload{Email: "me@example.com", Nonce: "n1"}, nil
		},
		consumeFn: func(nonce string, expiresAt time.Time) bool {
			return false
		},
	}
	userRepo := &mockUserRepo{
		findByEmailFn: func(ctx context.Context, email string) (*model.User, error) {
			return &model.User{ID: "user-1", Email: email}, nil
		},
	}
	sessionCreated := false
	sessionRepo := &mockSessionRepo{
		createFn: func(ctx context.Context, session *model.Session) error {
			sessionCreated = true
			return nil
		},
	}

	svc := newTestService(verifier, userRepo, sessionRepo, &mockPostReadRepo{})

	session, err := svc.SessionFromMagicLink(context.Background(), "https://kcd.test/magic?token=x")
	if session != nil {
		t.Error("expected nil session for consumed link")
	}
	if sessionCreated {
		t.Error("session must not be persisted for a consumed link")
	}

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError, got %T", err)
	}
	if apiErr.Code != model.ErrCodeInvalidMagicLink {
		t.Errorf("Code = %q, want %q", apiErr.Code, model.ErrCodeInvalidMagicLink)
	}
}

func TestSessionFromMagicLink_InvalidLink_PropagatesTypedError(t *testing.T) {
	verifier := &mockVerifier{
		verifyFn: func(rawURL string) (*magiclink.Payload, error) {
			return nil, model.NewInvalidMagicLinkError("署名が不正です")
		},
	}

	svc := newTestService(verifier, &mockUserRepo{}, &mockSessionRepo{}, &mockPostReadRepo{})

	_, err := svc.SessionFromMagicLink(context.Background(), "https://kcd.test/magic?token=bad")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeInvalidMagicLink {
		t.Errorf("expected INVALID_MAGIC_LINK error, got %v", err)
	}
}

func TestMergeClientReads_DelegatesToBulkUpdate(t *testing.T) {
	var gotClientID, gotUserID string
	postReadRepo := &mockPostReadRepo{
		mergeFn: func(ctx context.Context, clientID, userID string) (int64, error) {
			gotClientID = clientID
			gotUserID = userID
			return 3, nil
		},
	}

	svc := newTestService(&mockVerifier{}, &mockUserRepo{}, &mockSessionRepo{}, postReadRepo)

	merged, err := svc.MergeClientReads(context.Background(), "client-1", "user-1")
	if err != nil {
		t.Fatalf("MergeClientReads returned error: %v", err)
	}
	if merged != 3 {
		t.Errorf("merged = %d, want 3", merged)
	}
	if gotClientID != "client-1" || gotUserID != "user-1" {
		t.Errorf("merge called with (%q, %q)", gotClientID, gotUserID)
	}
}

func TestMergeClientReads_EmptyClientID_IsNoop(t *testing.T) {
	called := false
	postReadRepo := &mockPostReadRepo{
		mergeFn: func(ctx context.Context, clientID, userID string) (int64, error) {
			called = true
			return 0, nil
		},
	}

	svc := newTestService(&mockVerifier{}, &mockUserRepo{}, &mockSessionRepo{}, postReadRepo)

	merged, err := svc.MergeClientReads(context.Background(), "", "user-1")
	if err != nil {
		t.Fatalf("MergeClientReads returned error: %v", err)
	}
	if merged != 0 || called {
		t.Error("expected no-op for empty client ID")
	}
}

func TestDeleteOtherSessions_KeepsCurrentSession(t *testing.T) {
	var gotKeep string
	sessionRepo := &mockSessionRepo{
		deleteByUserExceptFn: func(ctx context.Context, userID, keep string) (int64, error) {
			gotKeep = keep
			return 2, nil
		},
	}

	svc := newTestService(&mockVerifier{}, &mockUserRepo{}, sessionRepo, &mockPostReadRepo{})

	deleted, err := svc.DeleteOtherSessions(context.Background(), "user-1", "current-session")
	if err != nil {
		t.Fatalf("DeleteOtherSessions returned error: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}
	if gotKeep != "current-session" {
		t.Errorf("keep = %q, want %q", gotKeep, "current-session")
	}
}

func TestLogout_EmptySessionID_ReturnsError(t *testing.T) {
	svc := newTestService(&mockVerifier{}, &mockUserRepo{}, &mockSessionRepo{}, &mockPostReadRepo{})

	if err := svc.Logout(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty session ID")
	}
}
