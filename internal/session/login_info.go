package session

import (
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// loginInfoCookieName はログイン情報セッションのCookie名。
	loginInfoCookieName = "KCD_login_info"

	// loginInfoMaxAge はログイン情報Cookieの有効期間。
	// サインアップ継続とフラッシュメッセージの受け渡しに足る短い期間にする。
	loginInfoMaxAge = 10 * time.Minute
)

// loginInfoClaims はログイン情報CookieのJWTクレーム。
type loginInfoClaims struct {
	MagicLinkVerified bool   `json:"mlv,omitempty"`
	MagicLink         string `json:"ml,omitempty"`
	ErrorFlash        string `json:"err,omitempty"`
	jwt.RegisteredClaims
}

// LoginInfoSession はマジックリンク検証の結果・保留中リンク・
// エラーフラッシュを運ぶリクエストスコープの一時セッション。
// 共有されず、ハンドラー内で値として完結する。
type LoginInfoSession struct {
	codec *Codec

	magicLinkVerified bool
	magicLink         string
	errorFlash        string
	dirty             bool
}

// GetLoginInfoSession はリクエストのCookieからLoginInfoSessionを復元する。
// Cookieが存在しない・検証に失敗した場合は空のセッションを返す。
func GetLoginInfoSession(codec *Codec, r *http.Request) *LoginInfoSession {
	s := &LoginInfoSession{codec: codec}

	cookie, err := r.Cookie(loginInfoCookieName)
	if err != nil || cookie.Value == "" {
		return s
	}

	claims := &loginInfoClaims{}
	if err := codec.decode(cookie.Value, claims); err != nil {
		// 改ざん・期限切れCookieは黙って捨てる
		return s
	}

	s.magicLinkVerified = claims.MagicLinkVerified
	s.magicLink = claims.MagicLink
	s.errorFlash = claims.ErrorFlash
	return s
}

// SetMagicLinkVerified はマジックリンク検証を試行済みとして記録する。
// 「未試行」と「試行して失敗」を下流のUXで区別するために使う。
func (s *LoginInfoSession) SetMagicLinkVerified(verified bool) {
	s.magicLinkVerified = verified
	s.dirty = true
}

// SetMagicLink はサインアップ継続用に元のマジックリンクURLを保存する。
func (s *LoginInfoSession) SetMagicLink(rawURL string) {
	s.magicLink = rawURL
	s.dirty = true
}

// MagicLink は保存されたマジックリンクURLを返す。
func (s *LoginInfoSession) MagicLink() string {
	return s.magicLink
}

// MagicLinkVerified はマジックリンク検証が試行済みかどうかを返す。
func (s *LoginInfoSession) MagicLinkVerified() bool {
	return s.magicLinkVerified
}

// FlashError はユーザー向けエラーメッセージを1回限りの表示用に記録する。
func (s *LoginInfoSession) FlashError(message string) {
	s.errorFlash = message
	s.dirty = true
}

// ErrorFlash は記録されたエラーメッセージを返す。
func (s *LoginInfoSession) ErrorFlash() string {
	return s.errorFlash
}

// Clean はセッションの内容をすべて破棄する。役目を終えたときに呼ぶ。
func (s *LoginInfoSession) Clean() {
	s.magicLinkVerified = false
	s.magicLink = ""
	s.errorFlash = ""
	s.dirty = true
}

// WriteHeaders はセッションの現在の状態をSet-Cookieヘッダーとして書き出す。
// 変更がない場合は何も書かない。既存ヘッダーに追記し、上書きはしない。
func (s *LoginInfoSession) WriteHeaders(w http.ResponseWriter) error {
	if !s.dirty {
		return nil
	}

	if !s.magicLinkVerified && s.magicLink == "" && s.errorFlash == "" {
		s.codec.clearCookie(w, loginInfoCookieName)
		return nil
	}

	now := time.Now()
	claims := &loginInfoClaims{
		MagicLinkVerified: s.magicLinkVerified,
		MagicLink:         s.magicLink,
		ErrorFlash:        s.errorFlash,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(loginInfoMaxAge)),
		},
	}

	value, err := s.codec.encode(claims)
	if err != nil {
		return err
	}
	s.codec.setCookie(w, loginInfoCookieName, value, loginInfoMaxAge)
	return nil
}
