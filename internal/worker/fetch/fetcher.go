// Package fetch はニュース一覧ページのHTTP取得とリトライ制御を提供する。
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/newsscraper/internal/metrics"
)

// SSRFValidator はSSRF検証のインターフェース。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration) *http.Client
}

// Config はFetcherの動作設定。
type Config struct {
	MaxAttempts int           // 1回の取得での最大試行回数
	Timeout     time.Duration // 1試行あたりのタイムアウト
	MaxBodySize int64         // レスポンスボディの最大読み取りサイズ
	UserAgent   string
	Backoff     Backoff
}

// Fetcher はニュース一覧ページをHTTPで取得する。
// SSRF検証、試行ごとのタイムアウト、一時的な失敗に対する指数バックオフ付きリトライを行う。
type Fetcher struct {
	ssrfGuard SSRFValidator
	client    *http.Client
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
	cfg       Config

	// sleep はリトライ待機に使う関数。テストで差し替える。
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewFetcher はFetcherの新しいインスタンスを生成する。
func NewFetcher(ssrfGuard SSRFValidator, mc metrics.MetricsCollector, logger *slog.Logger, cfg Config) *Fetcher {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Fetcher{
		ssrfGuard: ssrfGuard,
		client:    ssrfGuard.NewSafeClient(cfg.Timeout),
		metrics:   mc,
		logger:    logger,
		cfg:       cfg,
		sleep:     sleepContext,
		now:       time.Now,
	}
}

// Fetch はtargetのページ本文を取得する。
// 失敗した場合は*FetchErrorを返す。
func (f *Fetcher) Fetch(ctx context.Context, target string) ([]byte, error) {
	if err := f.ssrfGuard.ValidateURL(target); err != nil {
		f.logger.Error("取得先URLの検証に失敗しました",
			slog.String("url", target),
			slog.String("error", err.Error()),
		)
		fe := &FetchError{URL: target, Err: err}
		f.metrics.RecordFetchFailure(fe.reason())
		return nil, fe
	}

	var last *FetchError
	for attempt := 1; attempt <= f.cfg.MaxAttempts; attempt++ {
		body, statusCode, retryAfter, err := f.attempt(ctx, target)
		if err == nil {
			if attempt > 1 {
				f.logger.Info("リトライ後に取得に成功しました",
					slog.String("url", target),
					slog.Int("attempt", attempt),
				)
			}
			return body, nil
		}

		last = &FetchError{
			URL:        target,
			Attempts:   attempt,
			StatusCode: statusCode,
			Transient:  isRetryable(statusCode, err),
			Err:        err,
		}

		// 呼び出し元のキャンセルはリトライしない
		if ctx.Err() != nil {
			last.Transient = false
			last.Err = fmt.Errorf("%w (%v)", ctx.Err(), err)
			break
		}
		if !last.Transient {
			f.logger.Warn("リトライ不可能なエラーのため取得を中止します",
				slog.String("url", target),
				slog.Int("attempt", attempt),
				slog.Int("http_status", statusCode),
				slog.String("error", err.Error()),
			)
			break
		}
		if attempt == f.cfg.MaxAttempts {
			break
		}

		delay := f.cfg.Backoff.WithRetryAfter(f.cfg.Backoff.Delay(attempt), retryAfter)
		f.logger.Warn("一時的なエラーのため取得をリトライします",
			slog.String("url", target),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", f.cfg.MaxAttempts),
			slog.Int("http_status", statusCode),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
		f.metrics.RecordFetchRetry()
		if err := f.sleep(ctx, delay); err != nil {
			last.Transient = false
			last.Err = fmt.Errorf("%w (%v)", err, last.Err)
			break
		}
	}

	f.logger.Error("ページの取得に失敗しました",
		slog.String("url", target),
		slog.Int("attempts", last.Attempts),
		slog.Int("http_status", last.StatusCode),
		slog.String("error", last.Err.Error()),
	)
	f.metrics.RecordFetchFailure(last.reason())
	return nil, last
}

// attempt は1回分のHTTP取得を行う。
// 成功時はボディを、失敗時はステータスコード（あれば）とRetry-Afterの待機時間を返す。
func (f *Fetcher) attempt(ctx context.Context, target string) ([]byte, int, time.Duration, error) {
	f.metrics.RecordFetchAttempt()
	start := time.Now()
	defer func() { f.metrics.RecordFetchLatency(time.Since(start)) }()

	attemptCtx := ctx
	if f.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, f.cfg.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, target, nil)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "pt-BR,pt;q=0.9,en;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("HTTPリクエスト失敗: %w", err)
	}
	defer resp.Body.Close()

	f.metrics.RecordHTTPStatus(resp.StatusCode)

	if ClassifyHTTPStatus(resp.StatusCode) != FetchResultOK {
		// 接続を再利用できるよう残りを読み捨てる
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"), f.now())
		return nil, resp.StatusCode, retryAfter, ErrUnexpectedStatus
	}

	limit := f.cfg.MaxBodySize
	if limit <= 0 {
		limit = 5 * 1024 * 1024
	}
	// 1バイト余分に読み、上限超過を切り詰めと区別する
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, resp.StatusCode, 0, fmt.Errorf("レスポンス読み取り失敗: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, resp.StatusCode, 0, fmt.Errorf("%w: exceeds %d bytes", ErrBodyTooLarge, limit)
	}
	return body, resp.StatusCode, 0, nil
}

// isRetryable は失敗がリトライ対象かを判定する。
// 失敗ステータスを受け取った場合はその分類に、そうでなければネットワークエラーの種類に従う。
func isRetryable(statusCode int, err error) bool {
	if statusCode != 0 && ClassifyHTTPStatus(statusCode) != FetchResultOK {
		return ClassifyHTTPStatus(statusCode) == FetchResultRetry
	}
	return isTransientNetError(err)
}

// sleepContext はdだけ待機する。ctxがキャンセルされた場合はその時点でエラーを返す。
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsTransient はerrがリトライ上限に達した一時的な取得失敗かを返す。
func IsTransient(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Transient
}
