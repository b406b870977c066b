// Package userinfo は外部サービス由来のユーザープロフィール情報の
// 取得とキャッシュを提供する。Gravatarのアバター存在チェック、
// Discordプロフィール、Kit（メーリングリスト）購読者情報を扱う。
package userinfo

import (
	"sync"
	"time"
)

// cacheEntry はTTL付きのキャッシュ値。
type cacheEntry struct {
	value     interface{}
	expiresAt time.Time
}

// ttlCache は有効期限付きのプロセス内キャッシュ。
// 複数goroutineから安全に利用できる。対象はユーザーごとの少数エントリで、
// 取得時に期限切れを破棄するため明示的な掃除は不要。
type ttlCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
}

// newTTLCache はttlCacheを生成する。
func newTTLCache(ttl time.Duration) *ttlCache {
	return &ttlCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
	}
}

// get はキャッシュ値を返す。未登録・期限切れの場合は (nil, false)。
func (c *ttlCache) get(key string) (interface{}, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.value, true
}

// set はキャッシュ値を登録する。
func (c *ttlCache) set(key string, value interface{}) {
	c.mu.Lock()
	c.entries[key] = cacheEntry{
		value:     value,
		expiresAt: time.Now().Add(c.ttl),
	}
	c.mu.Unlock()
}

// delete はキャッシュ値を破棄する。
func (c *ttlCache) delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}
