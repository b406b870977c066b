package handler

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/chewtoys/kentcdodds.com/internal/metrics"
	"github.com/chewtoys/kentcdodds.com/internal/middleware"
	"github.com/chewtoys/kentcdodds.com/internal/session"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger        *slog.Logger
	SessionFinder middleware.SessionFinder
	UserFinder    middleware.UserFinder
	RateLimiter   *middleware.RateLimiter

	// 認証・アカウント管理
	AuthService    AuthServiceInterface
	AccountService AccountServiceInterface
	Users          UserFinderInterface
	SessionCounter SessionCounterInterface
	PostReads      PostReadListerInterface
	LinkGenerator  LinkGeneratorInterface
	Mailer         MagicLinkSenderInterface
	SessionCodec   *session.Codec

	// 観測
	Metrics         metrics.MetricsCollector
	MetricsGatherer prometheus.Gatherer

	// ヘルスチェック
	DB *sql.DB

	MagicConfig MagicHandlerConfig
	MeConfig    MeHandlerConfig
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Logging → RateLimit(General)
//
// マジックリンク発行（POST /login）にはメール送信を伴うため
// 専用のより厳しいレート制限を追加する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger, deps.Metrics))
	r.Use(deps.RateLimiter.GeneralMiddleware())

	magicHandler := NewMagicHandler(deps.AuthService, deps.Users, deps.SessionCodec, deps.Metrics, deps.MagicConfig)
	loginHandler := NewLoginHandler(deps.LinkGenerator, deps.Mailer, deps.Metrics)
	meHandler := NewMeHandler(deps.AuthService, deps.AccountService, deps.SessionCounter, deps.LinkGenerator, deps.Metrics, deps.MeConfig)
	downloadHandler := NewDownloadHandler(deps.PostReads)

	// --- 認証不要のルート ---

	r.Get("/magic", magicHandler.HandleMagic)
	r.With(deps.RateLimiter.MagicLinkMiddleware()).Post("/login", loginHandler.HandleLogin)

	r.Get("/health", newHealthHandler(deps.DB))
	r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.MetricsGatherer))

	// --- 認証が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewRequireUserMiddleware(deps.SessionFinder, deps.UserFinder))

		r.Route("/me", func(r chi.Router) {
			r.Get("/", meHandler.HandleGet)
			r.Post("/", meHandler.HandleAction)
			r.Get("/download", downloadHandler.HandleDownload)
		})
	})

	return r
}

// newHealthHandler はDB疎通を確認するヘルスチェックハンドラーを返す。
func newHealthHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "ok"
		statusCode := http.StatusOK

		if db != nil {
			if err := db.PingContext(r.Context()); err != nil {
				slog.Error("health check failed",
					slog.String("error", err.Error()),
				)
				status = "unavailable"
				statusCode = http.StatusServiceUnavailable
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		json.NewEncoder(w).Encode(map[string]string{"status": status})
	}
}
