package userinfo

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// defaultGravatarEndpoint はGravatarアバター画像のエンドポイント。
const defaultGravatarEndpoint = "https://gravatar.com/avatar"

// GravatarChecker はメールアドレスに対応するGravatarアバターの
// 存在チェックをTTLキャッシュ付きで行う。
type GravatarChecker struct {
	httpClient *http.Client
	logger     *slog.Logger
	cache      *ttlCache
	endpoint   string // テスト用にエンドポイントを差し替え可能
}

// NewGravatarChecker はGravatarCheckerを生成する。
// httpClientにはSSRF防止機能付きのクライアントを渡すことを想定している。
func NewGravatarChecker(httpClient *http.Client, logger *slog.Logger, ttl time.Duration) *GravatarChecker {
	return &GravatarChecker{
		httpClient: httpClient,
		logger:     logger,
		cache:      newTTLCache(ttl),
		endpoint:   defaultGravatarEndpoint,
	}
}

// ExistsForEmail は指定メールアドレスのGravatarが存在するかを返す。
// forceFreshがtrueの場合はキャッシュを無視して再取得し、キャッシュを置き換える。
// 取得失敗時は存在しない扱いでエラーを返す（呼び出し元が無視を判断する）。
func (g *GravatarChecker) ExistsForEmail(ctx context.Context, email string, forceFresh bool) (bool, error) {
	key := "gravatar:" + hashEmail(email)

	if !forceFresh {
		if cached, ok := g.cache.get(key); ok {
			return cached.(bool), nil
		}
	}

	// d=404 により未登録メールには404が返る
	reqURL := fmt.Sprintf("%s/%s?d=404&s=1", g.endpoint, hashEmail(email))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return false, fmt.Errorf("failed to build gravatar request: %w", err)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		g.logger.Error("gravatar request failed",
			slog.String("error", err.Error()),
		)
		return false, fmt.Errorf("gravatar request failed: %w", err)
	}
	defer resp.Body.Close()

	exists := resp.StatusCode == http.StatusOK
	g.cache.set(key, exists)

	return exists, nil
}

// hashEmail はGravatarの仕様に従いメールアドレスをハッシュ化する。
// 前後の空白を除去し小文字化したうえでMD5を取る。
func hashEmail(email string) string {
	normalized := strings.ToLower(strings.TrimSpace(email))
	sum := md5.Sum([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
