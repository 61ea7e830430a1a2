package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// PanicResponder はpanic回復後のレスポンスを書き込む。
type PanicResponder func(w http.ResponseWriter, r *http.Request)

// NewRecoveryMiddleware はハンドラーのpanicを回復してログに記録し、respondで応答する。
// respondがnilの場合は統一フォーマットの500を返す。
// POST /scrape ではスクレイプ結果の形を保った応答を渡す。
// http.ErrAbortHandler は接続を切るための意図的なpanicなので再送出する。
func NewRecoveryMiddleware(logger *slog.Logger, respond PanicResponder) func(next http.Handler) http.Handler {
	if respond == nil {
		respond = WriteInternalServerError
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Error("panic recovered",
					slog.Any("panic", rec),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("request_id", chimw.GetReqID(r.Context())),
					slog.String("stack", string(debug.Stack())),
				)
				respond(w, r)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
