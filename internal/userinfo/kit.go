package userinfo

import (
	"log/slog"
	"time"
)

// KitCache はメール配信プラットフォーム側の購読者情報キャッシュ。
// サイト本体は購読者情報を保持せず、表示時に取得してここに載せる。
type KitCache struct {
	logger *slog.Logger
	cache  *ttlCache
}

// NewKitCache はKitCacheを生成する。
func NewKitCache(logger *slog.Logger, ttl time.Duration) *KitCache {
	return &KitCache{
		logger: logger,
		cache:  newTTLCache(ttl),
	}
}

// Get はキャッシュ済みの購読者情報を返す。
func (k *KitCache) Get(kitID string) (any, bool) {
	return k.cache.get("kit:" + kitID)
}

// Set は購読者情報をキャッシュに載せる。
func (k *KitCache) Set(kitID string, value any) {
	k.cache.set("kit:"+kitID, value)
}

// Purge は指定購読者IDのキャッシュを破棄する。
// アカウント削除の際に呼ばれる。
func (k *KitCache) Purge(kitID string) {
	k.cache.delete("kit:" + kitID)
	k.logger.Info("purged kit subscriber cache",
		slog.String("kit_id", kitID),
	)
}
