// Package auth はマジックリンク認証とセッション管理のビジネスロジックを提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/chewtoys/kentcdodds.com/internal/magiclink"
	"github.com/chewtoys/kentcdodds.com/internal/model"
	"github.com/chewtoys/kentcdodds.com/internal/repository"
)

// LinkVerifier はマジックリンクの検証と消費のインターフェース。
// magiclink.Serviceの部分集合として定義する。
type LinkVerifier interface {
	// Verify はリンクを検証する。ノンスの消費は行わない。
	Verify(rawURL string) (*magiclink.Payload, error)
	// Consume はノンスを使用済みとして記録する。すでに使用済みの場合はfalseを返す。
	Consume(nonce string, expiresAt time.Time) bool
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	verifier     LinkVerifier
	userRepo     repository.UserRepository
	sessionRepo  repository.SessionRepository
	postReadRepo repository.PostReadRepository
	config       ServiceConfig
}

// NewService はServiceを生成する。
func NewService(
	verifier LinkVerifier,
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	postReadRepo repository.PostReadRepository,
	config ServiceConfig,
) *Service {
	return &Service{
		verifier:     verifier,
		userRepo:     userRepo,
		sessionRepo:  sessionRepo,
		postReadRepo: postReadRepo,
		config:       config,
	}
}

// SessionFromMagicLink はマジックリンクURLを検証し、セッションを発行する。
// リンクは有効だが該当ユーザーが未登録の場合は (nil, nil) を返す
// （サインアップ継続パス）。この場合ノンスは消費されず、保存されたリンクは
// 期限内であればサインアップ完了時に再検証できる。
// リンクが無効な場合は型付きエラーを返す。
func (s *Service) SessionFromMagicLink(ctx context.Context, rawURL string) (*model.Session, error) {
	payload, err := s.verifier.Verify(rawURL)
	if err != nil {
		return nil, err
	}

	user, err := s.userRepo.FindByEmail(ctx, payload.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if user == nil {
		// 有効なリンクだがユーザー未登録: サインアップへ
		slog.Info("magic link verified for unregistered email")
		return nil, nil
	}

	// セッションを発行する時点でリンクを消費する。
	// 並行リクエストで同じリンクからセッションを作れるのは1回だけ。
	if !s.verifier.Consume(payload.Nonce, payload.ExpiresAt) {
		return nil, model.NewInvalidMagicLinkError("このリンクは使用済みです")
	}

	session, err := s.CreateSession(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	slog.Info("user logged in via magic link",
		slog.String("user_id", user.ID),
		slog.String("session_id", session.ID),
	)

	return session, nil
}

// CreateSession はセッションを作成し永続化する。
func (s *Service) CreateSession(ctx context.Context, userID string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: time.Now().Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: time.Now(),
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// MergeClientReads は匿名クライアントの閲覧記録を認証済みユーザーに付け替える。
// 単一の一括UPDATEに委譲するため、同一クライアントに対する並行実行でも
// 二重マージは起きない（2回目は0件更新）。付け替えた件数を返す。
func (s *Service) MergeClientReads(ctx context.Context, clientID, userID string) (int64, error) {
	if clientID == "" {
		return 0, nil
	}

	merged, err := s.postReadRepo.MergeClientToUser(ctx, clientID, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to merge client reads: %w", err)
	}

	if merged > 0 {
		slog.Info("merged anonymous post reads",
			slog.String("user_id", userID),
			slog.Int64("merged_count", merged),
		)
	}

	return merged, nil
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out", slog.String("session_id", sessionID))
	return nil
}

// DeleteOtherSessions は現在のセッションを除く全セッションを破棄する。
// 削除件数を返す。
func (s *Service) DeleteOtherSessions(ctx context.Context, userID, currentSessionID string) (int64, error) {
	deleted, err := s.sessionRepo.DeleteByUserIDExcept(ctx, userID, currentSessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete other sessions: %w", err)
	}

	slog.Info("deleted other sessions",
		slog.String("user_id", userID),
		slog.Int64("deleted_count", deleted),
	)

	return deleted, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
