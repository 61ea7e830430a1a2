// Package scrape はニュース取得パイプライン（取得→抽出→保存）の実行を提供する。
package scrape

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/newsscraper/internal/extract"
	"github.com/hitoshi/newsscraper/internal/metrics"
	"github.com/hitoshi/newsscraper/internal/model"
	"github.com/hitoshi/newsscraper/internal/news"
)

// ErrInvalidPagination はlimit/offsetが不正な場合のエラー。
var ErrInvalidPagination = errors.New("invalid pagination")

// PageFetcher はニュース一覧ページを取得するインターフェース。
type PageFetcher interface {
	Fetch(ctx context.Context, target string) ([]byte, error)
}

// CandidateExtractor はページ本文から記事候補を抽出するインターフェース。
type CandidateExtractor interface {
	Extract(body []byte, base *url.URL) extract.Result
}

// NewsStore は記事の保存と一覧取得のインターフェース。
type NewsStore interface {
	PersistIfNew(ctx context.Context, c model.Candidate) (model.PersistOutcome, *model.NewsItem, error)
	ListRecent(ctx context.Context, limit, offset int) ([]model.NewsItem, error)
}

// Options はServiceの動作設定。
type Options struct {
	TargetURL string
	// MaxListLimit を超えるlimitはMaxListLimitに切り詰める。0以下なら制限しない。
	MaxListLimit int
}

// Service はパイプラインを実行する。
// 実行間で状態を持たないため、RunScrapeは並行に呼び出してよい。
type Service struct {
	fetcher   PageFetcher
	extractor CandidateExtractor
	store     NewsStore
	metrics   metrics.MetricsCollector
	logger    *slog.Logger

	target       *url.URL
	maxListLimit int
	newRunID     func() string
}

// NewService はServiceの新しいインスタンスを生成する。
// TargetURLが絶対URLでない場合はエラーを返す。
func NewService(
	fetcher PageFetcher,
	extractor CandidateExtractor,
	store NewsStore,
	mc metrics.MetricsCollector,
	logger *slog.Logger,
	opts Options,
) (*Service, error) {
	target, err := url.Parse(opts.TargetURL)
	if err != nil || !target.IsAbs() || target.Host == "" {
		return nil, fmt.Errorf("invalid target URL: %q", opts.TargetURL)
	}
	if mc == nil {
		mc = metrics.Nop{}
	}

	return &Service{
		fetcher:      fetcher,
		extractor:    extractor,
		store:        store,
		metrics:      mc,
		logger:       logger,
		target:       target,
		maxListLimit: opts.MaxListLimit,
		newRunID:     func() string { return uuid.NewString() },
	}, nil
}

// run は1回の実行中の状態を保持する。
type run struct {
	result model.ScrapeResult
	phase  model.ScrapePhase
	logger *slog.Logger
	start  time.Time
}

func (r *run) enter(phase model.ScrapePhase) {
	r.logger.Debug("状態が遷移しました",
		slog.String("from", string(r.phase)),
		slog.String("to", string(phase)),
	)
	r.phase = phase
}

// RunScrape はパイプラインを1回実行し、結果を返す。
// 失敗もすべてScrapeResultで表現し、エラーは返さない。
func (s *Service) RunScrape(ctx context.Context) model.ScrapeResult {
	r := &run{
		phase: model.ScrapePhaseIdle,
		start: time.Now(),
	}
	r.result.RunID = s.newRunID()
	r.logger = s.logger.With(slog.String("run_id", r.result.RunID))

	r.logger.Info("スクレイピングを開始します", slog.String("target_url", s.target.String()))

	// Fetching
	r.enter(model.ScrapePhaseFetching)
	body, err := s.fetcher.Fetch(ctx, s.target.String())
	if err != nil {
		return s.fail(r, fmt.Sprintf("failed to fetch news page: %v", err))
	}

	// Extracting
	r.enter(model.ScrapePhaseExtracting)
	extracted := s.extractor.Extract(body, s.target)
	r.result.CandidateCount = len(extracted.Candidates)
	r.result.DroppedCount = extracted.Dropped
	s.metrics.RecordCandidates(len(extracted.Candidates), extracted.Dropped)
	r.logger.Info("記事候補を抽出しました",
		slog.String("format", string(extracted.Format)),
		slog.Int("candidates", len(extracted.Candidates)),
		slog.Int("dropped", extracted.Dropped),
		slog.Int("body_bytes", len(body)),
	)

	// Persisting: 開始した保存は呼び出し元のキャンセルに影響されない
	r.enter(model.ScrapePhasePersisting)
	persistCtx := context.WithoutCancel(ctx)
	for _, c := range extracted.Candidates {
		outcome, _, err := s.store.PersistIfNew(persistCtx, c)
		if errors.Is(err, news.ErrInvalidCandidate) {
			r.result.DroppedCount++
			r.logger.Warn("保存条件を満たさない候補を除外しました",
				slog.String("url", c.URL),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err != nil {
			s.metrics.RecordItemsPersisted(r.result.AddedCount, r.result.SkippedCount)
			return s.fail(r, fmt.Sprintf("failed to persist articles (%d added before failure): %v", r.result.AddedCount, err))
		}
		switch outcome {
		case model.PersistInserted:
			r.result.AddedCount++
		case model.PersistSkipped:
			r.result.SkippedCount++
		}
	}
	s.metrics.RecordItemsPersisted(r.result.AddedCount, r.result.SkippedCount)

	// Completed
	r.enter(model.ScrapePhaseCompleted)
	r.result.Succeeded = true
	r.result.Message = fmt.Sprintf("%d new articles added", r.result.AddedCount)
	r.result.Duration = time.Since(r.start)
	s.metrics.RecordRun(true, r.result.Duration)

	r.logger.Info("スクレイピングが完了しました",
		slog.Int("added", r.result.AddedCount),
		slog.Int("skipped", r.result.SkippedCount),
		slog.Int("dropped", r.result.DroppedCount),
		slog.Float64("duration_ms", float64(r.result.Duration.Milliseconds())),
	)
	return r.result
}

// fail は現在の状態で実行を失敗として終了する。
func (s *Service) fail(r *run, message string) model.ScrapeResult {
	r.result.FailedPhase = r.phase
	r.enter(model.ScrapePhaseFailed)
	r.result.Succeeded = false
	r.result.Message = message
	r.result.Duration = time.Since(r.start)
	s.metrics.RecordRun(false, r.result.Duration)

	r.logger.Error("スクレイピングに失敗しました",
		slog.String("failed_phase", string(r.result.FailedPhase)),
		slog.Int("added", r.result.AddedCount),
		slog.String("message", message),
		slog.Float64("duration_ms", float64(r.result.Duration.Milliseconds())),
	)
	return r.result
}

// ListNews は新しい順に記事を返す。
// limitは1以上、offsetは0以上でなければならない。
func (s *Service) ListNews(ctx context.Context, limit, offset int) ([]model.NewsItem, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive, got %d", ErrInvalidPagination, limit)
	}
	if offset < 0 {
		return nil, fmt.Errorf("%w: offset must not be negative, got %d", ErrInvalidPagination, offset)
	}
	if s.maxListLimit > 0 && limit > s.maxListLimit {
		limit = s.maxListLimit
	}

	return s.store.ListRecent(ctx, limit, offset)
}
