package middleware

import (
	"encoding/json"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/newsscraper/internal/model"
)

// ErrorResponseBody はAPIエラーの統一フォーマット。
// POST /scrape の失敗レスポンスにも error フィールドとして埋め込まれる。
type ErrorResponseBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Category  string `json:"category"`
	Action    string `json:"action"`
	RequestID string `json:"request_id,omitempty"`
}

// StatusFor はエラーコードに対応するHTTPステータスを返す。
// 取得先サイトの障害は上流の問題として502、未知のコードは500とする。
func StatusFor(code string) int {
	switch code {
	case model.ErrCodeInvalidPagination:
		return http.StatusBadRequest
	case model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case model.ErrCodeFetchFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// NewErrorBody はapiErrにリクエストIDを添えたレスポンスボディを生成する。
// ログのrequest_idと突き合わせられるようにする。
func NewErrorBody(r *http.Request, apiErr *model.APIError) *ErrorResponseBody {
	return &ErrorResponseBody{
		Code:      apiErr.Code,
		Message:   apiErr.Message,
		Category:  apiErr.Category,
		Action:    apiErr.Action,
		RequestID: chimw.GetReqID(r.Context()),
	}
}

// WriteError はapiErrのコードから決まるステータスで統一エラーレスポンスを書き込む。
func WriteError(w http.ResponseWriter, r *http.Request, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(StatusFor(apiErr.Code))
	json.NewEncoder(w).Encode(NewErrorBody(r, apiErr))
}

// WriteInternalServerError は内部エラーを書き込む。詳細はログのみに記録する。
func WriteInternalServerError(w http.ResponseWriter, r *http.Request) {
	WriteError(w, r, model.NewInternalError())
}
