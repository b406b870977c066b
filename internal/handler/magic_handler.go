// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/chewtoys/kentcdodds.com/internal/metrics"
	"github.com/chewtoys/kentcdodds.com/internal/model"
	"github.com/chewtoys/kentcdodds.com/internal/session"
)

// AuthServiceInterface はマジックリンク認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	// SessionFromMagicLink はマジックリンクURLを検証しセッションを発行する。
	// 有効なリンクだがユーザー未登録の場合は (nil, nil) を返す。
	SessionFromMagicLink(ctx context.Context, rawURL string) (*model.Session, error)
	// MergeClientReads は匿名クライアントの閲覧記録をユーザーに付け替える。
	MergeClientReads(ctx context.Context, clientID, userID string) (int64, error)
	// Logout はセッションを破棄する。
	Logout(ctx context.Context, sessionID string) error
	// DeleteOtherSessions は現在のセッションを除く全セッションを破棄する。
	DeleteOtherSessions(ctx context.Context, userID, currentSessionID string) (int64, error)
}

// UserFinderInterface はユーザー検索のインターフェース。
// repository.UserRepositoryの部分集合として定義する。
type UserFinderInterface interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// MagicHandlerConfig はマジックリンクハンドラーの設定。
type MagicHandlerConfig struct {
	BaseURL       string
	SessionMaxAge int
	CookieSecure  bool
	CookieDomain  string
}

// MagicHandler はマジックリンクコールバックのHTTPハンドラー。
type MagicHandler struct {
	auth    AuthServiceInterface
	users   UserFinderInterface
	codec   *session.Codec
	metrics metrics.MetricsCollector
	config  MagicHandlerConfig
}

// NewMagicHandler はMagicHandlerを生成する。
func NewMagicHandler(
	auth AuthServiceInterface,
	users UserFinderInterface,
	codec *session.Codec,
	collector metrics.MetricsCollector,
	config MagicHandlerConfig,
) *MagicHandler {
	return &MagicHandler{
		auth:    auth,
		users:   users,
		codec:   codec,
		metrics: collector,
		config:  config,
	}
}

// HandleMagic はマジックリンクのコールバックを処理する。
// GET /magic?token=...
//
// 処理の流れ:
//  1. 検証を試みた事実をログイン情報セッションに記録する（結果を問わず）
//  2. セッションが発行された場合: ログイン情報セッションを消去し、
//     セッションCookieを発行し、匿名閲覧記録をユーザーに付け替えて /me へ
//  3. リンクは有効だがユーザー未登録の場合: リンクURLを保存して /signup へ
//  4. 検証失敗の場合: エラーメッセージをフラッシュして /login へ
//
// いずれの経路でも必ず1つのリダイレクトを返す。途中で発生した
// RedirectErrorは失敗ではなく制御の移譲であり、変換せずそのまま返す。
func (h *MagicHandler) HandleMagic(w http.ResponseWriter, r *http.Request) {
	loginInfo := session.GetLoginInfoSession(h.codec, r)
	loginInfo.SetMagicLinkVerified(true)

	rawURL := h.config.BaseURL + r.URL.RequestURI()

	sess, err := h.auth.SessionFromMagicLink(r.Context(), rawURL)
	if err != nil {
		redirectErr := &model.RedirectError{}
		if errors.As(err, &redirectErr) {
			// 意図的なリダイレクトはそのまま通す
			http.Redirect(w, r, redirectErr.Location, redirectErr.Status)
			return
		}

		h.metrics.RecordMagicLinkFailure(failureReason(err))
		h.handleInvalidLink(w, r, loginInfo, err)
		return
	}

	if sess == nil {
		// 有効なリンクだがユーザー未登録: リンクを保存してサインアップへ
		loginInfo.SetMagicLink(rawURL)
		if err := loginInfo.WriteHeaders(w); err != nil {
			slog.Error("failed to write login info headers",
				slog.String("error", err.Error()),
			)
		}
		h.metrics.RecordSignupRedirect()
		http.Redirect(w, r, "/signup", http.StatusTemporaryRedirect)
		return
	}

	loginInfo.Clean()
	h.setSessionCookie(w, sess.ID)
	h.metrics.RecordMagicLinkSuccess()
	h.metrics.RecordLogin()

	user, err := h.users.FindByID(r.Context(), sess.UserID)
	if err != nil || user == nil {
		// 発行直後のセッションに所有ユーザーがいないのはデータ不整合。
		// 致命とせずマージを諦めてアカウントページへ進む
		slog.Error("session issued for missing user",
			slog.String("session_id", sess.ID),
			slog.String("user_id", sess.UserID),
		)
	} else {
		h.mergeClientReads(w, r, user)
	}

	if err := loginInfo.WriteHeaders(w); err != nil {
		slog.Error("failed to write login info headers",
			slog.String("error", err.Error()),
		)
	}
	http.Redirect(w, r, "/me", http.StatusTemporaryRedirect)
}

// mergeClientReads は匿名クライアントの閲覧記録を認証済みユーザーに付け替え、
// クライアントセッションにユーザーを紐付ける。
// マージの失敗はログインを妨げない（ログのみ）。
func (h *MagicHandler) mergeClientReads(w http.ResponseWriter, r *http.Request, user *model.User) {
	client := session.GetClientSession(h.codec, r)

	if clientID := client.ClientID(); clientID != "" {
		merged, err := h.auth.MergeClientReads(r.Context(), clientID, user.ID)
		if err != nil {
			slog.Error("failed to merge client reads",
				slog.String("error", err.Error()),
				slog.String("user_id", user.ID),
			)
		} else {
			h.metrics.RecordReadsMerged(merged)
		}
	}

	client.SetUserID(user.ID)
	if err := client.WriteHeaders(w); err != nil {
		slog.Error("failed to write client session headers",
			slog.String("error", err.Error()),
		)
	}
}

// handleInvalidLink は検証失敗時の共通処理。
// ログイン情報セッションを消去し、エラーをフラッシュしてログインページへ送る。
func (h *MagicHandler) handleInvalidLink(w http.ResponseWriter, r *http.Request, loginInfo *session.LoginInfoSession, err error) {
	slog.Warn("magic link verification failed",
		slog.String("error", err.Error()),
	)

	loginInfo.Clean()
	loginInfo.FlashError(flashMessage(err))
	if err := loginInfo.WriteHeaders(w); err != nil {
		slog.Error("failed to write login info headers",
			slog.String("error", err.Error()),
		)
	}
	http.Redirect(w, r, "/login", http.StatusTemporaryRedirect)
}

// setSessionCookie はログインセッションIDのCookieを発行する。
func (h *MagicHandler) setSessionCookie(w http.ResponseWriter, sessionID string) {
	writeSessionCookie(w, sessionID, h.config.SessionMaxAge, h.config.CookieSecure, h.config.CookieDomain)
}

// flashMessage はユーザーに提示するエラーメッセージを返す。
// 型付きエラーはそのメッセージを、それ以外は汎用メッセージを使う。
func flashMessage(err error) string {
	apiErr := &model.APIError{}
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return "サインインリンクが無効です。新しいリンクをリクエストしてください。"
}

// failureReason はメトリクス用の失敗理由ラベルを返す。
func failureReason(err error) string {
	apiErr := &model.APIError{}
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return "unexpected"
}
