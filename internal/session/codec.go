// Package session はリクエストスコープの一時セッションをCookieとして提供する。
//
// LoginInfoSession はマジックリンク検証の結果・保留中リンク・エラーフラッシュを運び、
// ClientSession は匿名クライアント識別子と認証済みユーザーの紐付けを運ぶ。
// どちらもHS256署名付きJWTとしてCookieにエンコードされ、サーバー側には永続化されない。
// リクエスト間で共有される可変状態は持たず、値としてハンドラーに渡される。
package session

import (
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Config はCookieコーデックの設定。
type Config struct {
	Secret       string
	CookieSecure bool
	CookieDomain string
}

// Codec はセッションCookieの署名付きエンコード・デコードを行う。
type Codec struct {
	cfg Config
}

// NewCodec はCodecを生成する。
func NewCodec(cfg Config) *Codec {
	return &Codec{cfg: cfg}
}

// encode はクレームをHS256署名付きJWT文字列にエンコードする。
func (c *Codec) encode(claims jwt.Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(c.cfg.Secret))
}

// decode はJWT文字列を検証しクレームへデコードする。
func (c *Codec) decode(tokenString string, claims jwt.Claims) error {
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(c.cfg.Secret), nil
	})
	if err != nil {
		return err
	}
	if !parsed.Valid {
		return jwt.ErrSignatureInvalid
	}
	return nil
}

// setCookie は署名済みの値をCookieとしてレスポンスヘッダーに追加する。
func (c *Codec) setCookie(w http.ResponseWriter, name, value string, maxAge time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   c.cfg.CookieDomain,
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   c.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// clearCookie は指定Cookieを失効させるヘッダーを追加する。
func (c *Codec) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   c.cfg.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
