package session

import (
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// clientCookieName は匿名クライアントセッションのCookie名。
	clientCookieName = "KCD_client_id"

	// clientMaxAge は匿名クライアントCookieの有効期間。
	// 閲覧記録をログイン時までまたいで保持するため長めにとる。
	clientMaxAge = 365 * 24 * time.Hour
)

// clientClaims は匿名クライアントCookieのJWTクレーム。
type clientClaims struct {
	ClientID string `json:"cid"`
	UserID   string `json:"uid,omitempty"`
	jwt.RegisteredClaims
}

// ClientSession は匿名クライアント識別子と、判明した時点での
// 認証済みユーザーを運ぶリクエストスコープの一時セッション。
type ClientSession struct {
	codec *Codec

	clientID string
	userID   string
	dirty    bool
}

// GetClientSession はリクエストのCookieからClientSessionを復元する。
// Cookieが存在しない・検証に失敗した場合は新しい匿名識別子を発行する。
func GetClientSession(codec *Codec, r *http.Request) *ClientSession {
	s := &ClientSession{codec: codec}

	cookie, err := r.Cookie(clientCookieName)
	if err == nil && cookie.Value != "" {
		claims := &clientClaims{}
		if decodeErr := codec.decode(cookie.Value, claims); decodeErr == nil && claims.ClientID != "" {
			s.clientID = claims.ClientID
			s.userID = claims.UserID
			return s
		}
	}

	// 新規発行
	s.clientID = uuid.New().String()
	s.dirty = true
	return s
}

// ClientID は匿名クライアント識別子を返す。
func (s *ClientSession) ClientID() string {
	return s.clientID
}

// UserID は紐付け済みユーザーのIDを返す。未紐付けの場合は空文字列。
func (s *ClientSession) UserID() string {
	return s.userID
}

// SetUserID は認証済みユーザーをこのクライアントに紐付ける。
func (s *ClientSession) SetUserID(userID string) {
	s.userID = userID
	s.dirty = true
}

// WriteHeaders はセッションの現在の状態をSet-Cookieヘッダーとして書き出す。
// 変更がない場合は何も書かない。
func (s *ClientSession) WriteHeaders(w http.ResponseWriter) error {
	if !s.dirty {
		return nil
	}

	now := time.Now()
	claims := &clientClaims{
		ClientID: s.clientID,
		UserID:   s.userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(clientMaxAge)),
		},
	}

	value, err := s.codec.encode(claims)
	if err != nil {
		return err
	}
	s.codec.setCookie(w, clientCookieName, value, clientMaxAge)
	return nil
}
