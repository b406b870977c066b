package userinfo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// defaultDiscordEndpoint はDiscord APIのベースURL。
const defaultDiscordEndpoint = "https://discord.com/api/v10"

// DiscordProfile はDiscordユーザーのプロフィール情報。
type DiscordProfile struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

// DiscordClient はDiscordプロフィールの取得とキャッシュを行う。
type DiscordClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	botToken   string
	cache      *ttlCache
	endpoint   string // テスト用にエンドポイントを差し替え可能
}

// NewDiscordClient はDiscordClientを生成する。
func NewDiscordClient(httpClient *http.Client, logger *slog.Logger, botToken string, ttl time.Duration) *DiscordClient {
	return &DiscordClient{
		httpClient: httpClient,
		logger:     logger,
		botToken:   botToken,
		cache:      newTTLCache(ttl),
		endpoint:   defaultDiscordEndpoint,
	}
}

// GetProfile は指定DiscordユーザーIDのプロフィールをキャッシュ付きで取得する。
func (d *DiscordClient) GetProfile(ctx context.Context, discordID string) (*DiscordProfile, error) {
	key := "discord:" + discordID

	if cached, ok := d.cache.get(key); ok {
		return cached.(*DiscordProfile), nil
	}

	reqURL := fmt.Sprintf("%s/users/%s", d.endpoint, discordID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build discord request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+d.botToken)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		d.logger.Error("discord request failed",
			slog.String("error", err.Error()),
			slog.String("discord_id", discordID),
		)
		return nil, fmt.Errorf("discord request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		d.logger.Error("discord API returned error status",
			slog.Int("http_status", resp.StatusCode),
			slog.String("discord_id", discordID),
		)
		return nil, fmt.Errorf("discord API returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read discord response: %w", err)
	}

	profile := &DiscordProfile{}
	if err := json.Unmarshal(body, profile); err != nil {
		return nil, fmt.Errorf("failed to parse discord response: %w", err)
	}

	d.cache.set(key, profile)
	return profile, nil
}

// PurgeCache は指定DiscordユーザーIDのキャッシュ済みプロフィールを破棄する。
// 連携解除やアカウント削除の際に呼ばれる。
func (d *DiscordClient) PurgeCache(discordID string) {
	d.cache.delete("discord:" + discordID)
	d.logger.Info("purged discord profile cache",
		slog.String("discord_id", discordID),
	)
}
