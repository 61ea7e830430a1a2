package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/newsscraper/internal/middleware"
	"github.com/hitoshi/newsscraper/internal/model"
	"github.com/hitoshi/newsscraper/internal/scrape"
)

// serviceName は GET / と /health で返すサービス名。
const serviceName = "newsscraper"

// ScrapeRunner はスクレイプパイプラインを1回実行するインターフェース。
type ScrapeRunner interface {
	RunScrape(ctx context.Context) model.ScrapeResult
}

// NewsLister は保存済み記事の一覧を返すインターフェース。
type NewsLister interface {
	// ListNews は新しい順に記事を返す。limit/offsetが不正な場合はscrape.ErrInvalidPaginationを返す。
	ListNews(ctx context.Context, limit, offset int) ([]model.NewsItem, error)
}

// HealthChecker はストアの疎通確認を行うインターフェース。
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// NewsHandler は記事一覧・スクレイプ実行・ヘルスチェックのHTTPハンドラー。
type NewsHandler struct {
	scraper      ScrapeRunner
	lister       NewsLister
	health       HealthChecker
	defaultLimit int
	logger       *slog.Logger
}

// NewNewsHandler はNewsHandlerを生成する。
// defaultLimitはlimitクエリ省略時の取得件数。
func NewNewsHandler(scraper ScrapeRunner, lister NewsLister, health HealthChecker, defaultLimit int, logger *slog.Logger) *NewsHandler {
	if defaultLimit <= 0 {
		defaultLimit = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NewsHandler{
		scraper:      scraper,
		lister:       lister,
		health:       health,
		defaultLimit: defaultLimit,
		logger:       logger,
	}
}

// --- レスポンス型 ---

// serviceInfoResponse は GET / のレスポンス。
type serviceInfoResponse struct {
	Service   string   `json:"service"`
	Status    string   `json:"status"`
	Endpoints []string `json:"endpoints"`
}

// healthResponse は GET /health のレスポンス。
type healthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// newsResponse は記事1件のレスポンス。
type newsResponse struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}

// scrapeResponse は POST /scrape のレスポンス。
// 失敗時もnews_addedには失敗前までに追加された件数が入る。
type scrapeResponse struct {
	Success     bool                          `json:"success"`
	NewsAdded   int                           `json:"news_added"`
	Message     string                        `json:"message"`
	RunID       string                        `json:"run_id"`
	Skipped     int                           `json:"skipped"`
	Candidates  int                           `json:"candidates"`
	Dropped     int                           `json:"dropped"`
	DurationMs  int64                         `json:"duration_ms"`
	FailedPhase string                        `json:"failed_phase,omitempty"`
	Error       *middleware.ErrorResponseBody `json:"error,omitempty"`
}

// Root はサービス情報を返す。
// GET /
func (h *NewsHandler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, serviceInfoResponse{
		Service:   serviceName,
		Status:    "running",
		Endpoints: []string{"/news", "/scrape", "/health", "/metrics"},
	})
}

// Health はストアへの疎通を確認する。
// GET /health
func (h *NewsHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		if err := h.health.Ping(ctx); err != nil {
			h.logger.Error("health check failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unhealthy", Service: serviceName})
			return
		}
	}

	writeJSON(w, http.StatusOK, healthResponse{Status: "healthy", Service: serviceName})
}

// ListNews は保存済み記事を新しい順に返す。
// GET /news?limit=100&offset=0
func (h *NewsHandler) ListNews(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit", h.defaultLimit)
	if err != nil {
		middleware.WriteError(w, r, model.NewInvalidPaginationError("limitが整数ではありません"))
		return
	}
	offset, err := intQuery(r, "offset", 0)
	if err != nil {
		middleware.WriteError(w, r, model.NewInvalidPaginationError("offsetが整数ではありません"))
		return
	}

	items, err := h.lister.ListNews(r.Context(), limit, offset)
	if err != nil {
		if errors.Is(err, scrape.ErrInvalidPagination) {
			middleware.WriteError(w, r, model.NewInvalidPaginationError(err.Error()))
			return
		}
		h.logger.Error("failed to list news", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w, r)
		return
	}

	resp := make([]newsResponse, 0, len(items))
	for _, item := range items {
		resp = append(resp, newsResponse{
			ID:        item.ID,
			Title:     item.Title,
			URL:       item.URL,
			CreatedAt: item.CreatedAt,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// Scrape はパイプラインを1回実行し、結果サマリーを返す。
// POST /scrape
func (h *NewsHandler) Scrape(w http.ResponseWriter, r *http.Request) {
	result := h.scraper.RunScrape(r.Context())

	resp := scrapeResponse{
		Success:    result.Succeeded,
		NewsAdded:  result.AddedCount,
		Message:    result.Message,
		RunID:      result.RunID,
		Skipped:    result.SkippedCount,
		Candidates: result.CandidateCount,
		Dropped:    result.DroppedCount,
		DurationMs: result.Duration.Milliseconds(),
	}

	if result.Succeeded {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	apiErr := mapFailedPhase(result)
	resp.FailedPhase = string(result.FailedPhase)
	resp.Error = middleware.NewErrorBody(r, apiErr)
	writeJSON(w, middleware.StatusFor(apiErr.Code), resp)
}

// ScrapePanicResponder は POST /scrape 実行中のpanicをスクレイプ結果の形で応答する。
// 途中で追加された件数は分からないため、news_addedは0とする。
func (h *NewsHandler) ScrapePanicResponder(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusInternalServerError, scrapeResponse{
		Success: false,
		Message: "scrape run aborted unexpectedly",
		Error:   middleware.NewErrorBody(r, model.NewInternalError()),
	})
}

// mapFailedPhase は失敗した状態に対応するAPIErrorを決定する。
func mapFailedPhase(result model.ScrapeResult) *model.APIError {
	switch result.FailedPhase {
	case model.ScrapePhaseFetching:
		return model.NewFetchFailedError(result.Message)
	case model.ScrapePhasePersisting:
		return model.NewPersistFailedError(result.Message)
	default:
		return model.NewInternalError()
	}
}

// intQuery はクエリパラメータを整数として取得する。省略時はdefを返す。
func intQuery(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}
