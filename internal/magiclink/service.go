// Package magiclink はパスワードレス認証用のマジックリンクの発行と検証を提供する。
// リンクはHS256で署名されたJWTをtokenクエリパラメータに埋め込んだURLであり、
// 有効期限付き・単回使用。検証失敗は型付きエラーとして返す。
package magiclink

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/chewtoys/kentcdodds.com/internal/model"
)

// callbackPath はマジックリンクのコールバックパス。
const callbackPath = "/magic"

// Claims はマジックリンクJWTのクレーム。
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Config はマジックリンクサービスの設定。
type Config struct {
	Secret  string
	MaxAge  time.Duration
	BaseURL string // リンクが有効なオリジン（発行者検証に使用）
}

// Payload は検証済みマジックリンクの内容。
type Payload struct {
	Email     string
	Nonce     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Service はマジックリンクの発行・検証を行う。
// 使用済みノンスをプロセス内で保持し、複数goroutineから安全に利用できる。
type Service struct {
	cfg Config

	mu   sync.Mutex
	used map[string]time.Time // nonce -> 有効期限（掃除用）
}

// NewService はServiceを生成する。
func NewService(cfg Config) *Service {
	return &Service{
		cfg:  cfg,
		used: make(map[string]time.Time),
	}
}

// GenerateLink は指定メールアドレス宛のマジックリンクURLを生成する。
func (s *Service) GenerateLink(email string) (string, error) {
	if email == "" {
		return "", fmt.Errorf("email is required")
	}

	nonce, err := generateNonce()
	if err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	now := time.Now()
	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.BaseURL,
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.MaxAge)),
			ID:        nonce,
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign magic link token: %w", err)
	}

	return fmt.Sprintf("%s%s?token=%s", s.cfg.BaseURL, callbackPath, url.QueryEscape(token)), nil
}

// Verify はマジックリンクURLを検証し、検証済みペイロードを返す。
// 署名不正・期限切れ・発行者不一致・使用済みの場合は
// model.ErrCodeInvalidMagicLink の *model.APIError を返す。
// ノンスは使用済みとして記録しない。サインアップ継続のために保存された
// リンクを期限内に再検証できるようにするため、消費はセッション発行時に
// Consumeで行う。
func (s *Service) Verify(rawURL string) (*Payload, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, model.NewInvalidMagicLinkError("URLを解釈できません")
	}

	tokenString := parsed.Query().Get("token")
	if tokenString == "" {
		return nil, model.NewInvalidMagicLinkError("トークンがありません")
	}

	parsedToken, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(s.cfg.Secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, model.NewInvalidMagicLinkError("リンクの有効期限が切れています")
		}
		return nil, model.NewInvalidMagicLinkError("署名が不正です")
	}

	claims, ok := parsedToken.Claims.(*Claims)
	if !ok || !parsedToken.Valid {
		return nil, model.NewInvalidMagicLinkError("トークンが不正です")
	}

	if claims.Issuer != s.cfg.BaseURL {
		return nil, model.NewInvalidMagicLinkError("リンクの発行元が一致しません")
	}
	if claims.Email == "" || claims.ID == "" {
		return nil, model.NewInvalidMagicLinkError("トークンの内容が不完全です")
	}

	if s.isUsed(claims.ID) {
		return nil, model.NewInvalidMagicLinkError("このリンクは使用済みです")
	}

	return &Payload{
		Email:     claims.Email,
		Nonce:     claims.ID,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Consume はノンスを使用済みとして記録する（単回使用）。
// すでに使用済みの場合はfalseを返す。同一リンクで並行してセッション発行を
// 試みた場合、成功するのは1リクエストだけになる。
// 記録時に期限切れエントリを掃除する。
func (s *Service) Consume(nonce string, expiresAt time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for n, exp := range s.used {
		if exp.Before(now) {
			delete(s.used, n)
		}
	}

	if _, seen := s.used[nonce]; seen {
		return false
	}
	s.used[nonce] = expiresAt
	return true
}

// isUsed はノンスがすでに消費済みかを返す。
func (s *Service) isUsed(nonce string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, seen := s.used[nonce]
	return seen
}

// generateNonce は暗号的に安全なノンスを生成する。
func generateNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
