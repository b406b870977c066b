package userinfo

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestHashEmail(t *testing.T) {
	// Gravatar仕様のリファレンス値
	got := hashEmail(" MyEmailAddress@example.com ")
	want := "0bc83cb571cd1c50ba6f3e8a78ef1346"
	if got != want {
		t.Errorf("hashEmail() = %s, want %s", got, want)
	}
}

func TestGravatarChecker_ExistsForEmail(t *testing.T) {
	var requestCount int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requestCount, 1)
		if r.URL.Query().Get("d") != "404" {
			t.Errorf("expected d=404 query parameter, got %s", r.URL.RawQuery)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	checker := NewGravatarChecker(server.Client(), testLogger(), time.Minute)
	checker.endpoint = server.URL

	exists, err := checker.ExistsForEmail(context.Background(), "user@example.com", false)
	if err != nil {
		t.Fatalf("ExistsForEmail() error = %v", err)
	}
	if !exists {
		t.Error("expected gravatar to exist")
	}

	// 2回目はキャッシュから返り、リクエストは増えない
	exists, err = checker.ExistsForEmail(context.Background(), "user@example.com", false)
	if err != nil {
		t.Fatalf("ExistsForEmail() second call error = %v", err)
	}
	if !exists {
		t.Error("expected cached gravatar to exist")
	}
	if got := atomic.LoadInt32(&requestCount); got != 1 {
		t.Errorf("expected 1 upstream request, got %d", got)
	}
}

func TestGravatarChecker_ExistsForEmail_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	checker := NewGravatarChecker(server.Client(), testLogger(), time.Minute)
	checker.endpoint = server.URL

	exists, err := checker.ExistsForEmail(context.Background(), "nobody@example.com", false)
	if err != nil {
		t.Fatalf("ExistsForEmail() error = %v", err)
	}
	if exists {
		t.Error("expected gravatar to not exist")
	}
}

func TestGravatarChecker_ForceFreshBypassesCache(t *testing.T) {
	var requestCount int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&requestCount, 1)
		if n == 1 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	checker := NewGravatarChecker(server.Client(), testLogger(), time.Minute)
	checker.endpoint = server.URL

	exists, err := checker.ExistsForEmail(context.Background(), "user@example.com", false)
	if err != nil {
		t.Fatalf("ExistsForEmail() error = %v", err)
	}
	if exists {
		t.Error("expected gravatar to not exist on first fetch")
	}

	// forceFresh指定でキャッシュを無視して再取得する
	exists, err = checker.ExistsForEmail(context.Background(), "user@example.com", true)
	if err != nil {
		t.Fatalf("ExistsForEmail() forceFresh error = %v", err)
	}
	if !exists {
		t.Error("expected refreshed gravatar to exist")
	}

	// 再取得結果がキャッシュを置き換えている
	exists, err = checker.ExistsForEmail(context.Background(), "user@example.com", false)
	if err != nil {
		t.Fatalf("ExistsForEmail() cached call error = %v", err)
	}
	if !exists {
		t.Error("expected cache to hold refreshed value")
	}
	if got := atomic.LoadInt32(&requestCount); got != 2 {
		t.Errorf("expected 2 upstream requests, got %d", got)
	}
}

func TestDiscordClient_GetProfile(t *testing.T) {
	var requestCount int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requestCount, 1)
		if got := r.Header.Get("Authorization"); got != "Bot test-token" {
			t.Errorf("expected bot authorization header, got %q", got)
		}
		if r.URL.Path != "/users/123456789" {
			t.Errorf("unexpected request path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(DiscordProfile{
			ID:       "123456789",
			Username: "testuser",
			Avatar:   "abcdef",
		})
	}))
	defer server.Close()

	client := NewDiscordClient(server.Client(), testLogger(), "test-token", time.Minute)
	client.endpoint = server.URL

	profile, err := client.GetProfile(context.Background(), "123456789")
	if err != nil {
		t.Fatalf("GetProfile() error = %v", err)
	}
	if profile.Username != "testuser" {
		t.Errorf("Username = %s, want testuser", profile.Username)
	}

	// キャッシュヒット
	profile, err = client.GetProfile(context.Background(), "123456789")
	if err != nil {
		t.Fatalf("GetProfile() second call error = %v", err)
	}
	if profile.ID != "123456789" {
		t.Errorf("ID = %s, want 123456789", profile.ID)
	}
	if got := atomic.LoadInt32(&requestCount); got != 1 {
		t.Errorf("expected 1 upstream request, got %d", got)
	}
}

func TestDiscordClient_GetProfile_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewDiscordClient(server.Client(), testLogger(), "bad-token", time.Minute)
	client.endpoint = server.URL

	if _, err := client.GetProfile(context.Background(), "123456789"); err == nil {
		t.Error("expected error for non-200 response")
	}
}

func TestDiscordClient_PurgeCache(t *testing.T) {
	var requestCount int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requestCount, 1)
		json.NewEncoder(w).Encode(DiscordProfile{ID: "123456789"})
	}))
	defer server.Close()

	client := NewDiscordClient(server.Client(), testLogger(), "test-token", time.Minute)
	client.endpoint = server.URL

	if _, err := client.GetProfile(context.Background(), "123456789"); err != nil {
		t.Fatalf("GetProfile() error = %v", err)
	}

	client.PurgeCache("123456789")

	// 破棄後は再取得になる
	if _, err := client.GetProfile(context.Background(), "123456789"); err != nil {
		t.Fatalf("GetProfile() after purge error = %v", err)
	}
	if got := atomic.LoadInt32(&requestCount); got != 2 {
		t.Errorf("expected 2 upstream requests, got %d", got)
	}
}

func TestKitCache(t *testing.T) {
	kit := NewKitCache(testLogger(), time.Minute)

	if _, ok := kit.Get("sub-1"); ok {
		t.Error("expected miss for empty cache")
	}

	kit.Set("sub-1", map[string]string{"state": "active"})
	value, ok := kit.Get("sub-1")
	if !ok {
		t.Fatal("expected cache hit after Set")
	}
	if value.(map[string]string)["state"] != "active" {
		t.Error("unexpected cached value")
	}

	kit.Purge("sub-1")
	if _, ok := kit.Get("sub-1"); ok {
		t.Error("expected miss after Purge")
	}
}

func TestTTLCache_Expiry(t *testing.T) {
	cache := newTTLCache(10 * time.Millisecond)
	cache.set("key", "value")

	if _, ok := cache.get("key"); !ok {
		t.Fatal("expected hit before expiry")
	}

	time.Sleep(20 * time.Millisecond)
	if _, ok := cache.get("key"); ok {
		t.Error("expected miss after expiry")
	}
}
