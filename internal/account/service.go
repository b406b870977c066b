// Package account はアカウント管理操作のビジネスロジックを提供する。
// 表示名の変更、Discord連携の解除、アカウント削除、Gravatarの再取得を扱う。
package account

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/chewtoys/kentcdodds.com/internal/model"
	"github.com/chewtoys/kentcdodds.com/internal/repository"
)

// GravatarRefresher はGravatarキャッシュの強制再取得インターフェース。
type GravatarRefresher interface {
	ExistsForEmail(ctx context.Context, email string, forceFresh bool) (bool, error)
}

// DiscordPurger はDiscordプロフィールキャッシュの破棄インターフェース。
type DiscordPurger interface {
	PurgeCache(discordID string)
}

// KitPurger はKit購読者キャッシュの破棄インターフェース。
type KitPurger interface {
	Purge(kitID string)
}

// Service はアカウント管理のビジネスロジックを提供する。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	gravatar    GravatarRefresher
	discord     DiscordPurger
	kit         KitPurger
	sanitizer   *bluemonday.Policy
}

// NewService はServiceを生成する。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	gravatar GravatarRefresher,
	discord DiscordPurger,
	kit KitPurger,
) *Service {
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		gravatar:    gravatar,
		discord:     discord,
		kit:         kit,
		sanitizer:   bluemonday.StrictPolicy(),
	}
}

// ChangeDetails はユーザーの表示名を更新する。
// HTMLタグを除去したうえで空文字を拒否し、現在値と同じ場合は更新しない。
func (s *Service) ChangeDetails(ctx context.Context, user *model.User, firstName string) error {
	cleaned := strings.TrimSpace(s.sanitizer.Sanitize(firstName))
	if cleaned == "" {
		return model.NewValidationError("firstName", "表示名は必須です")
	}

	if cleaned == user.FirstName {
		return nil
	}

	if err := s.userRepo.UpdateFirstName(ctx, user.ID, cleaned); err != nil {
		return fmt.Errorf("failed to update first name: %w", err)
	}

	slog.Info("user changed details",
		slog.String("user_id", user.ID),
	)
	return nil
}

// DisconnectDiscord はDiscord連携を解除する。
// キャッシュ済みプロフィールを破棄したうえでdiscord_idをクリアする。
// 未連携の場合は何もしない。
func (s *Service) DisconnectDiscord(ctx context.Context, user *model.User) error {
	if user.DiscordID == "" {
		return nil
	}

	s.discord.PurgeCache(user.DiscordID)

	if err := s.userRepo.ClearDiscordID(ctx, user.ID); err != nil {
		return fmt.Errorf("failed to clear discord connection: %w", err)
	}

	slog.Info("user disconnected discord",
		slog.String("user_id", user.ID),
	)
	return nil
}

// DeleteAccount はアカウントを完全に削除する。
// 現在のセッションを削除し、外部サービスのキャッシュを破棄したうえで
// ユーザー行を削除する。sessions、post_readsはDBのCASCADEで消える。
func (s *Service) DeleteAccount(ctx context.Context, user *model.User, currentSessionID string) error {
	if currentSessionID != "" {
		if err := s.sessionRepo.DeleteByID(ctx, currentSessionID); err != nil {
			return fmt.Errorf("failed to delete current session: %w", err)
		}
	}

	if user.DiscordID != "" {
		s.discord.PurgeCache(user.DiscordID)
	}
	if user.KitID != "" {
		s.kit.Purge(user.KitID)
	}

	if err := s.userRepo.DeleteByID(ctx, user.ID); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	slog.Info("user deleted account",
		slog.String("user_id", user.ID),
	)
	return nil
}

// RefreshGravatar はGravatarの存在チェックをキャッシュを無視して再実行する。
// 取得失敗はアカウント操作の失敗にしない（ログのみ）。
func (s *Service) RefreshGravatar(ctx context.Context, user *model.User) {
	if _, err := s.gravatar.ExistsForEmail(ctx, user.Email, true); err != nil {
		slog.Warn("failed to refresh gravatar",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}
}
