package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net"
	"net/http"
	"strconv"
	"syscall"
	"time"
)

// FetchResult はHTTPステータスコードに基づく取得結果の分類。
type FetchResult int

const (
	// FetchResultOK は取得成功（2xx）。
	FetchResultOK FetchResult = iota
	// FetchResultRetry は一時的な失敗でリトライ対象のステータス（408/425/429/5xx）。
	FetchResultRetry
	// FetchResultStop はリトライしても結果が変わらないステータス（その他の4xxなど）。
	FetchResultStop
)

// ClassifyHTTPStatus はHTTPステータスコードを取得結果に分類する。
func ClassifyHTTPStatus(statusCode int) FetchResult {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return FetchResultOK
	case statusCode == http.StatusRequestTimeout,
		statusCode == http.StatusTooEarly,
		statusCode == http.StatusTooManyRequests:
		return FetchResultRetry
	case statusCode >= 500:
		return FetchResultRetry
	default:
		return FetchResultStop
	}
}

// Backoff は指数バックオフの設定。
type Backoff struct {
	Base   time.Duration // 初回遅延
	Factor float64       // 試行ごとの倍率
	Max    time.Duration // 遅延の上限
	Jitter float64       // 0〜1。遅延に対するランダム幅の割合
}

// Delay はattempt回目（1始まり）の失敗後に待つ時間を計算する。
// Base * Factor^(attempt-1) にジッターを加え、Maxで打ち切る。
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(b.Base) * math.Pow(b.Factor, float64(attempt-1))
	if b.Jitter > 0 {
		// [-Jitter, +Jitter] の範囲で揺らす
		delay += delay * b.Jitter * (2*rand.Float64() - 1)
	}
	if b.Max > 0 && delay > float64(b.Max) {
		return b.Max
	}
	if delay < 0 {
		return 0
	}
	return time.Duration(delay)
}

// WithRetryAfter はRetry-Afterヘッダの値が計算済みの遅延より長い場合にそれを採用する。
// 結果はMaxで打ち切る。
func (b Backoff) WithRetryAfter(delay, retryAfter time.Duration) time.Duration {
	if retryAfter > delay {
		delay = retryAfter
	}
	if b.Max > 0 && delay > b.Max {
		return b.Max
	}
	return delay
}

// parseRetryAfter はRetry-Afterヘッダ（秒数またはHTTP日付）を解釈する。
// 解釈できない場合は0を返す。
func parseRetryAfter(value string, now time.Time) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// isTransientNetError はネットワークエラーが一時的なものかを判定する。
// タイムアウト、接続拒否・リセット、DNS解決失敗、途中切断をリトライ対象とする。
func isTransientNetError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

var (
	// ErrUnexpectedStatus は2xx以外のステータスを受け取ったことを表す。
	// ステータスコード自体はFetchError.StatusCodeに入る。
	ErrUnexpectedStatus = errors.New("unexpected HTTP status")
	// ErrBodyTooLarge は本文が最大読み取りサイズを超えたことを表す。リトライしない。
	ErrBodyTooLarge = errors.New("response body too large")
)

// FetchError は取得の最終的な失敗を表す。
type FetchError struct {
	URL        string
	Attempts   int   // 実行した試行回数（事前検証で失敗した場合は0）
	StatusCode int   // 最後に受け取ったHTTPステータス（なければ0）
	Transient  bool  // 一時的な失敗のままリトライ上限に達した場合true
	Err        error // 最後の原因
}

// Error はerrorインターフェースを実装する。
func (e *FetchError) Error() string {
	if e.StatusCode != 0 && ClassifyHTTPStatus(e.StatusCode) != FetchResultOK {
		return fmt.Sprintf("fetch %s failed after %d attempt(s): HTTP %d: %v", e.URL, e.Attempts, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

// Unwrap は原因エラーを返す。
func (e *FetchError) Unwrap() error {
	return e.Err
}

// reason はメトリクス用の失敗理由ラベルを返す。
func (e *FetchError) reason() string {
	switch {
	case e.Attempts == 0:
		return "invalid_target"
	case e.Transient:
		return "transient"
	default:
		return "permanent"
	}
}
