package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/newsscraper/internal/metrics"
	"github.com/hitoshi/newsscraper/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// ハンドラー依存
	Scraper          ScrapeRunner
	Lister           NewsLister
	HealthChecker    HealthChecker
	ListDefaultLimit int

	// Gatherer がnilの場合 /metrics は公開しない。
	Gatherer prometheus.Gatherer
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Logging → Recovery → SecurityHeaders → CORS
//
// POST /scrape にのみクライアント単位のレート制限と、
// panic時もスクレイプ結果の形で応答するRecoveryを追加する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware(logger, nil))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	newsHandler := NewNewsHandler(deps.Scraper, deps.Lister, deps.HealthChecker, deps.ListDefaultLimit, logger)

	r.Get("/", newsHandler.Root)
	r.Get("/health", newsHandler.Health)
	r.Get("/news", newsHandler.ListNews)

	scrapeMW := []func(http.Handler) http.Handler{
		middleware.NewRecoveryMiddleware(logger, newsHandler.ScrapePanicResponder),
	}
	if deps.RateLimiter != nil {
		scrapeMW = append([]func(http.Handler) http.Handler{deps.RateLimiter.Middleware()}, scrapeMW...)
	}
	r.With(scrapeMW...).Post("/scrape", newsHandler.Scrape)

	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	return r
}
