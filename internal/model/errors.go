// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, scrape, rate_limit, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidPagination = "INVALID_PAGINATION"
	ErrCodeFetchFailed       = "FETCH_FAILED"
	ErrCodePersistFailed     = "PERSIST_FAILED"
	ErrCodeRateLimited       = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal          = "INTERNAL_ERROR"
)

// NewInvalidPaginationError はlimit/offsetが不正な場合のエラーを生成する。
func NewInvalidPaginationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPagination,
		Message:  fmt.Sprintf("ページネーションのパラメータが不正です: %s", reason),
		Category: "validation",
		Action:   "limitには1以上、offsetには0以上の整数を指定してください。",
	}
}

// NewFetchFailedError はニュースページの取得に失敗した場合のエラーを生成する。
func NewFetchFailedError(detail string) *APIError {
	return &APIError{
		Code:     ErrCodeFetchFailed,
		Message:  fmt.Sprintf("ニュースページの取得に失敗しました: %s", detail),
		Category: "scrape",
		Action:   "取得先サイトの状態を確認し、しばらく待ってから再度お試しください。",
	}
}

// NewPersistFailedError は記事の保存に失敗した場合のエラーを生成する。
func NewPersistFailedError(detail string) *APIError {
	return &APIError{
		Code:     ErrCodePersistFailed,
		Message:  fmt.Sprintf("記事の保存に失敗しました: %s", detail),
		Category: "system",
		Action:   "データベースの状態を確認してください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewRateLimitedError はスクレイプ要求がレート制限を超えた場合のエラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "rate_limit",
		Action:   "Retry-Afterヘッダーの秒数だけ待ってから再度お試しください。",
	}
}
