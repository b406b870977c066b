// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/chewtoys/kentcdodds.com/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。
	Create(ctx context.Context, user *model.User) error

	// UpdateFirstName はユーザーの表示名を更新する。
	UpdateFirstName(ctx context.Context, id, firstName string) error

	// ClearDiscordID はDiscord連携を解除する（discord_idをNULLにする）。
	ClearDiscordID(ctx context.Context, id string) error

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するsessions、post_readsはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error

	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)

	// CountByUserID は指定ユーザーの有効なセッション数を返す。
	CountByUserID(ctx context.Context, userID string) (int, error)

	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error

	// DeleteByUserIDExcept は指定ユーザーのセッションのうち、
	// keepSessionID以外をすべて削除する。削除件数を返す。
	DeleteByUserIDExcept(ctx context.Context, userID, keepSessionID string) (int64, error)

	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// PostReadRepository は記事閲覧記録の永続化インターフェース。
type PostReadRepository interface {
	// Create は閲覧記録を作成する。
	Create(ctx context.Context, read *model.PostRead) error

	// MergeClientToUser は指定クライアントIDの全閲覧記録をユーザーに付け替える。
	// 単一の一括UPDATEで user_id を設定し client_id をNULLにする。
	// 同一クライアントIDに対する再実行は0件更新となり冪等。付け替えた件数を返す。
	MergeClientToUser(ctx context.Context, clientID, userID string) (int64, error)

	// CountByClientID は指定クライアントIDの閲覧記録数を返す。
	CountByClientID(ctx context.Context, clientID string) (int, error)

	// ListByUserID は指定ユーザーの閲覧記録一覧を返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.PostRead, error)
}
