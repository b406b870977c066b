// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// メールアドレスはマジックリンク認証の宛先として使用される。
type User struct {
	ID        string
	Email     string
	FirstName string
	// DiscordID はDiscord連携済みの場合のみ設定される。未連携の場合は空文字列。
	DiscordID string
	// KitID はメーリングリスト（Kit）の購読者ID。未購読の場合は空文字列。
	KitID     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Session はユーザーのログインセッションを表す。
// マジックリンクの検証成功時に発行され、HTTP Only Cookieで識別される。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// PostRead は記事の閲覧記録を表す。
// 未ログイン時はClientID（匿名クライアント識別子）に、
// ログイン後はUserIDに紐付く。両方が同時に設定されることはない。
// ClientIDからUserIDへの付け替えは一括UPDATEで一度だけ行われる。
type PostRead struct {
	ID       string
	PostSlug string
	// ClientID は匿名クライアント識別子。ユーザーへのマージ後はnil。
	ClientID *string
	// UserID は認証済みユーザーのID。マージ前はnil。
	UserID    *string
	CreatedAt time.Time
}
