package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/chewtoys/kentcdodds.com/internal/metrics"
	"github.com/chewtoys/kentcdodds.com/internal/middleware"
	"github.com/chewtoys/kentcdodds.com/internal/model"
	"github.com/chewtoys/kentcdodds.com/internal/qrcode"
)

// ActionID はアカウント管理操作の識別子。
// フォームの文字列値を閉じた列挙に変換して網羅的に分岐する。
type ActionID int

const (
	// ActionUnknown は未知の操作。何もせずアカウントページへ戻す。
	ActionUnknown ActionID = iota
	// ActionLogout は現在のセッションを破棄する。
	ActionLogout
	// ActionChangeDetails はプロフィール（表示名）を更新する。
	ActionChangeDetails
	// ActionDeleteDiscordConnection はDiscord連携を解除する。
	ActionDeleteDiscordConnection
	// ActionDeleteAccount はアカウントを完全に削除する。
	ActionDeleteAccount
	// ActionDeleteSessions は現在以外の全セッションを破棄する。
	ActionDeleteSessions
	// ActionRefreshGravatar はGravatarキャッシュを強制再取得する。
	ActionRefreshGravatar
)

// ParseActionID はフォームのactionId値をActionIDに変換する。
// 未知の値はActionUnknownになる。
func ParseActionID(s string) ActionID {
	switch s {
	case "logout":
		return ActionLogout
	case "change details":
		return ActionChangeDetails
	case "delete discord connection":
		return ActionDeleteDiscordConnection
	case "delete account":
		return ActionDeleteAccount
	case "delete sessions":
		return ActionDeleteSessions
	case "refresh gravatar":
		return ActionRefreshGravatar
	default:
		return ActionUnknown
	}
}

// String はメトリクスラベル用の表記を返す。
func (a ActionID) String() string {
	switch a {
	case ActionLogout:
		return "logout"
	case ActionChangeDetails:
		return "change details"
	case ActionDeleteDiscordConnection:
		return "delete discord connection"
	case ActionDeleteAccount:
		return "delete account"
	case ActionDeleteSessions:
		return "delete sessions"
	case ActionRefreshGravatar:
		return "refresh gravatar"
	default:
		return "unknown"
	}
}

// AccountServiceInterface はアカウント管理ハンドラーが必要とするサービスインターフェース。
type AccountServiceInterface interface {
	// ChangeDetails はユーザーの表示名を更新する。
	ChangeDetails(ctx context.Context, user *model.User, firstName string) error
	// DisconnectDiscord はDiscord連携を解除する。
	DisconnectDiscord(ctx context.Context, user *model.User) error
	// DeleteAccount はアカウントを完全に削除する。
	DeleteAccount(ctx context.Context, user *model.User, currentSessionID string) error
	// RefreshGravatar はGravatarキャッシュを強制再取得する。
	RefreshGravatar(ctx context.Context, user *model.User)
}

// SessionCounterInterface はセッション数の取得インターフェース。
// repository.SessionRepositoryの部分集合として定義する。
type SessionCounterInterface interface {
	CountByUserID(ctx context.Context, userID string) (int, error)
}

// LinkGeneratorInterface はQRコード用マジックリンクの生成インターフェース。
type LinkGeneratorInterface interface {
	GenerateLink(email string) (string, error)
}

// defaultMeCacheMaxAge はアカウントページのキャッシュ有効期間の上限（秒）。
const defaultMeCacheMaxAge = 3600

// MeHandlerConfig はアカウントハンドラーの設定。
type MeHandlerConfig struct {
	CookieSecure bool
	CookieDomain string

	// MagicLinkMaxAge はQRコードに埋め込むマジックリンクの有効期間。
	// レスポンスのキャッシュ有効期間はこれを超えない。
	MagicLinkMaxAge time.Duration
}

// cacheMaxAge はCache-Controlのmax-age値（秒）を返す。
// キャッシュされたQRコードが期限切れのリンクを指さないよう、
// マジックリンクの有効期間を上限とする。
func (c MeHandlerConfig) cacheMaxAge() int {
	maxAge := defaultMeCacheMaxAge
	if c.MagicLinkMaxAge > 0 && int(c.MagicLinkMaxAge.Seconds()) < maxAge {
		maxAge = int(c.MagicLinkMaxAge.Seconds())
	}
	return maxAge
}

// MeHandler はアカウント管理ページのHTTPハンドラー。
type MeHandler struct {
	auth     AuthServiceInterface
	account  AccountServiceInterface
	sessions SessionCounterInterface
	links    LinkGeneratorInterface
	metrics  metrics.MetricsCollector
	config   MeHandlerConfig
}

// NewMeHandler はMeHandlerを生成する。
func NewMeHandler(
	auth AuthServiceInterface,
	account AccountServiceInterface,
	sessions SessionCounterInterface,
	links LinkGeneratorInterface,
	collector metrics.MetricsCollector,
	config MeHandlerConfig,
) *MeHandler {
	return &MeHandler{
		auth:     auth,
		account:  account,
		sessions: sessions,
		links:    links,
		metrics:  collector,
		config:   config,
	}
}

// meResponse はアカウントページのレスポンス。
type meResponse struct {
	User         meUserResponse `json:"user"`
	SessionCount int            `json:"sessionCount"`
	QRLoginCode  string         `json:"qrLoginCode"`
}

// meUserResponse はアカウントページに表示するユーザー情報。
// メールアドレスと連携IDは表示専用で、このエンドポイントからは変更できない。
type meUserResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	DiscordID string `json:"discordId,omitempty"`
	KitID     string `json:"kitId,omitempty"`
}

// actionErrorFields はフォーム再表示用の送信値。
type actionErrorFields struct {
	FirstName *string `json:"firstName"`
}

// actionErrors はフィールド別エラーと汎用エラーのスロット。
type actionErrors struct {
	GeneralError *string `json:"generalError"`
	FirstName    *string `json:"firstName"`
}

// actionErrorResponse はフォーム検証失敗・サーバーエラー時のレスポンス。
type actionErrorResponse struct {
	Fields actionErrorFields `json:"fields"`
	Errors actionErrors      `json:"errors"`
}

// HandleGet はアカウントページの表示データを返す。
// GET /me
func (h *MeHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	sessionCount, err := h.sessions.CountByUserID(r.Context(), user.ID)
	if err != nil {
		slog.Error("failed to count sessions",
			slog.String("error", err.Error()),
			slog.String("user_id", user.ID),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	// ログイン用QRコード: 本人のメールアドレス宛マジックリンクを画像化する
	qrLoginCode := ""
	link, err := h.links.GenerateLink(user.Email)
	if err == nil {
		qrLoginCode, err = qrcode.DataURL(link)
	}
	if err != nil {
		slog.Error("failed to generate QR login code",
			slog.String("error", err.Error()),
			slog.String("user_id", user.ID),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", fmt.Sprintf("private, max-age=%d", h.config.cacheMaxAge()))
	w.Header().Set("Vary", "Cookie")
	json.NewEncoder(w).Encode(meResponse{
		User: meUserResponse{
			ID:        user.ID,
			Email:     user.Email,
			FirstName: user.FirstName,
			DiscordID: user.DiscordID,
			KitID:     user.KitID,
		},
		SessionCount: sessionCount,
		QRLoginCode:  qrLoginCode,
	})
}

// HandleAction はアカウント管理操作を処理する。
// POST /me
//
// フォームのactionIdで操作を選択する。検証エラーはフィールド別の
// 構造化レスポンスとして返し、それ以外の失敗は汎用エラーの500に
// 変換する（内部構造は漏らさない）。
func (h *MeHandler) HandleAction(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}
	sessionID, err := middleware.SessionIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	if err := r.ParseForm(); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "フォームの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいフォーム形式でリクエストしてください。",
		})
		return
	}

	actionID := ParseActionID(r.PostForm.Get("actionId"))
	h.metrics.RecordAccountAction(actionID.String())

	if err := h.dispatch(w, r, user, sessionID, actionID); err != nil {
		h.handleActionError(w, err)
	}
}

// dispatch はactionIdごとの分岐本体。
// 検証エラーとサーバーエラーはerrorとして返し、成功時は自身で応答を書く。
func (h *MeHandler) dispatch(w http.ResponseWriter, r *http.Request, user *model.User, sessionID string, actionID ActionID) error {
	switch actionID {
	case ActionLogout:
		if err := h.auth.Logout(r.Context(), sessionID); err != nil {
			return err
		}
		clearSessionCookie(w, h.config.CookieSecure, h.config.CookieDomain)
		h.redirectWithMessage(w, r, "/", "👋 See you again soon!")
		return nil

	case ActionDeleteDiscordConnection:
		if err := h.account.DisconnectDiscord(r.Context(), user); err != nil {
			return err
		}
		h.redirectWithMessage(w, r, "/me", "✅ Connection deleted")
		return nil

	case ActionChangeDetails:
		firstName := r.PostForm.Get("firstName")
		if err := h.account.ChangeDetails(r.Context(), user, firstName); err != nil {
			apiErr := &model.APIError{}
			if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeValidationFailed {
				h.writeValidationError(w, firstName, apiErr)
				return nil
			}
			return err
		}
		h.redirectWithMessage(w, r, "/me", "✅ Sucessfully saved your info")
		return nil

	case ActionDeleteSessions:
		if _, err := h.auth.DeleteOtherSessions(r.Context(), user.ID, sessionID); err != nil {
			return err
		}
		h.redirectWithMessage(w, r, "/me", "✅ Sucessfully signed out of other sessions")
		return nil

	case ActionDeleteAccount:
		if err := h.account.DeleteAccount(r.Context(), user, sessionID); err != nil {
			return err
		}
		clearSessionCookie(w, h.config.CookieSecure, h.config.CookieDomain)
		h.redirectWithMessage(w, r, "/", "✅ Your KCD account and all associated data has been completely deleted from the KCD database.")
		return nil

	case ActionRefreshGravatar:
		h.account.RefreshGravatar(r.Context(), user)
		http.Redirect(w, r, "/me", http.StatusSeeOther)
		return nil

	case ActionUnknown:
		// 未知のactionIdは何もしない。アカウントページへ戻すだけで安全
		http.Redirect(w, r, "/me", http.StatusSeeOther)
		return nil

	default:
		http.Redirect(w, r, "/me", http.StatusSeeOther)
		return nil
	}
}

// redirectWithMessage はmessageクエリパラメータ付きの303リダイレクトを書く。
func (h *MeHandler) redirectWithMessage(w http.ResponseWriter, r *http.Request, path, message string) {
	params := url.Values{}
	params.Set("message", message)
	http.Redirect(w, r, path+"?"+params.Encode(), http.StatusSeeOther)
}

// writeValidationError は検証失敗を送信値込みの構造化レスポンスで返す。
// フォームの再表示に使えるよう、送信されたfirstNameをそのまま返す。
func (h *MeHandler) writeValidationError(w http.ResponseWriter, firstName string, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	message := apiErr.Message
	json.NewEncoder(w).Encode(actionErrorResponse{
		Fields: actionErrorFields{FirstName: &firstName},
		Errors: actionErrors{FirstName: &message},
	})
}

// handleActionError は分岐中の予期しない失敗を汎用エラーの500に変換する。
// 内部の例外構造はレスポンスに含めない。
func (h *MeHandler) handleActionError(w http.ResponseWriter, err error) {
	slog.Error("account action failed",
		slog.String("error", err.Error()),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	message := "アカウント操作に失敗しました。しばらく待ってから再度お試しください。"
	json.NewEncoder(w).Encode(actionErrorResponse{
		Fields: actionErrorFields{},
		Errors: actionErrors{GeneralError: &message},
	})
}
