package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/newsscraper/internal/config"
	"github.com/hitoshi/newsscraper/internal/database"
	"github.com/hitoshi/newsscraper/internal/extract"
	"github.com/hitoshi/newsscraper/internal/handler"
	"github.com/hitoshi/newsscraper/internal/logger"
	"github.com/hitoshi/newsscraper/internal/metrics"
	"github.com/hitoshi/newsscraper/internal/middleware"
	"github.com/hitoshi/newsscraper/internal/news"
	"github.com/hitoshi/newsscraper/internal/repository"
	"github.com/hitoshi/newsscraper/internal/scrape"
	"github.com/hitoshi/newsscraper/internal/security"
	fetchpkg "github.com/hitoshi/newsscraper/internal/worker/fetch"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, *slog.Logger, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel)), nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		writeUsage(w)
		return err
	}
	if cmd == CommandHelp {
		writeUsage(w)
		return nil
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, log, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	log.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("store", string(cfg.StoreDriver)),
		slog.String("target_url", cfg.TargetURL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandScrape:
		return runScrape(ctx, cfg, log)
	case CommandMigrate:
		return runMigrate(cfg, log)
	default:
		return runServe(ctx, cfg, log)
	}
}

// components はストアからパイプラインまでの組み立て済み依存関係。
type components struct {
	db       *sql.DB
	store    *news.Store
	service  *scrape.Service
	registry *prometheus.Registry
}

// Close はDB接続を閉じる。
func (c *components) Close() error {
	return c.db.Close()
}

// buildComponents はマイグレーションを適用したうえでDB接続を開き、
// リポジトリ・ストア・フェッチャー・抽出器・パイプラインをワイヤリングする。
func buildComponents(ctx context.Context, cfg *config.Config, log *slog.Logger) (*components, error) {
	// 1. スキーマを最新にする
	if err := migrate(cfg, log); err != nil {
		return nil, err
	}

	// 2. DB接続とリポジトリ
	db, repo, err := openRepository(cfg)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Info("database connection established", slog.String("store", string(cfg.StoreDriver)))

	// 3. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mc := metrics.NewCollector(registry)

	// 4. セキュリティサービス
	ssrfGuard := security.NewSSRFGuard(cfg.FetchAllowPrivate)
	sanitizer := security.NewTitleSanitizer()

	// 5. サイトプロファイルと抽出器
	profile, err := config.LoadSiteProfile(cfg.SiteProfilePath)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load site profile: %w", err)
	}
	extractor := extract.NewExtractor(profile, sanitizer, log)

	// 6. フェッチャー
	fetcher := fetchpkg.NewFetcher(ssrfGuard, mc, log, fetchpkg.Config{
		MaxAttempts: cfg.FetchMaxAttempts,
		Timeout:     cfg.FetchTimeout,
		MaxBodySize: cfg.FetchMaxSize,
		UserAgent:   cfg.FetchUserAgent,
		Backoff: fetchpkg.Backoff{
			Base:   cfg.FetchBackoffBase,
			Factor: cfg.FetchBackoffFactor,
			Max:    cfg.FetchBackoffMax,
			Jitter: cfg.FetchBackoffJitter,
		},
	})

	// 7. ストアとパイプライン
	store := news.NewStore(repo, log)
	service, err := scrape.NewService(fetcher, extractor, store, mc, log, scrape.Options{
		TargetURL:    cfg.TargetURL,
		MaxListLimit: cfg.ListMaxLimit,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to build scrape service: %w", err)
	}

	log.Info("pipeline ready",
		slog.String("profile", profile.Name),
		slog.Int("selectors", len(profile.Selectors)),
	)

	return &components{
		db:       db,
		store:    store,
		service:  service,
		registry: registry,
	}, nil
}

// openRepository は設定されたドライバーでDB接続を開き、対応するリポジトリを返す。
func openRepository(cfg *config.Config) (*sql.DB, repository.NewsRepository, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return db, repository.NewPostgresNewsRepo(db), nil
	case config.StoreDriverSQLite:
		db, err := database.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return db, repository.NewSQLiteNewsRepo(db), nil
	default:
		return nil, nil, fmt.Errorf("unsupported store driver: %q", cfg.StoreDriver)
	}
}

// runServe はAPIサーバーモードで起動する。
// ctxがキャンセルされる（SIGINT/SIGTERM）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	comps, err := buildComponents(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer comps.Close()

	rateLimiter := middleware.NewRateLimiter(middleware.PerMinuteRateLimiterConfig(cfg.RateLimitScrape))
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            log,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Scraper:           comps.service,
		Lister:            comps.service,
		HealthChecker:     comps.store,
		ListDefaultLimit:  cfg.ListDefaultLimit,
		Gatherer:          comps.registry,
	})

	// スクレイプ要求は取得のリトライを含むため、WriteTimeoutは最悪ケースの取得時間より長くとる
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout(cfg),
		IdleTimeout:  60 * time.Second,
	}

	return serve(ctx, server, log)
}

// serve はserverを起動し、ctxの終了でグレースフルシャットダウンする。
func serve(ctx context.Context, server *http.Server, log *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Info("API server stopped gracefully")
	return nil
}

// writeTimeout はPOST /scrapeが最悪ケースでも書き込めるWriteTimeoutを返す。
func writeTimeout(cfg *config.Config) time.Duration {
	worst := time.Duration(cfg.FetchMaxAttempts)*cfg.FetchTimeout +
		time.Duration(cfg.FetchMaxAttempts-1)*cfg.FetchBackoffMax
	if d := worst + 30*time.Second; d > 60*time.Second {
		return d
	}
	return 60 * time.Second
}

// runScrape はパイプラインを1回実行して終了する。
// 失敗した場合は結果メッセージをエラーとして返す。
func runScrape(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	comps, err := buildComponents(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer comps.Close()

	result := comps.service.RunScrape(ctx)
	if !result.Succeeded {
		return fmt.Errorf("scrape run %s failed: %s", result.RunID, result.Message)
	}

	log.Info("scrape run finished",
		slog.String("run_id", result.RunID),
		slog.Int("news_added", result.AddedCount),
		slog.String("message", result.Message),
	)
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
func runMigrate(cfg *config.Config, log *slog.Logger) error {
	if err := migrate(cfg, log); err != nil {
		return err
	}
	log.Info("database migrations completed successfully")
	return nil
}

// migrate は設定されたドライバーのマイグレーションをすべて適用する。
func migrate(cfg *config.Config, log *slog.Logger) error {
	dialect, migrationURL, err := migrationTarget(cfg)
	if err != nil {
		return err
	}

	log.Info("running database migrations",
		slog.String("dialect", string(dialect)),
		slog.String("database_url", maskDatabaseURL(migrationURL)),
	)

	if err := database.RunMigrations(dialect, migrationURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// migrationTarget はドライバーに対応するマイグレーション方言と接続URLを返す。
func migrationTarget(cfg *config.Config) (database.Dialect, string, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		return database.DialectPostgres, cfg.DatabaseURL, nil
	case config.StoreDriverSQLite:
		return database.DialectSQLite, database.SQLiteMigrationURL(cfg.SQLitePath), nil
	default:
		return "", "", fmt.Errorf("unsupported store driver: %q", cfg.StoreDriver)
	}
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	endpoint := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return "***"
	}
	return u.Redacted()
}
