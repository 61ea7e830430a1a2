package middleware

import "net/http"

// corsMaxAge はプリフライト結果をブラウザがキャッシュする秒数。
const corsMaxAge = "600"

// NewCORSMiddleware は一覧取得とスクレイプ要求をallowedOriginのフロントエンドに許可する。
//
// Cookieや認証ヘッダーは扱わないため credentials は許可しない。
// allowedOriginが "*" の場合は任意のオリジンを許可する。
// それ以外はOriginヘッダーが一致した場合のみ許可ヘッダーを返す。
// レート制限時の待機秒数をフロントエンドが読めるよう Retry-After を公開する。
//
// Access-Control-Request-Method を伴うOPTIONSのみをプリフライトとして204で応答し、
// それ以外のOPTIONSはルーターに渡す。
func NewCORSMiddleware(allowedOrigin string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			origin := r.Header.Get("Origin")

			allowed := false
			switch {
			case allowedOrigin == "*":
				h.Set("Access-Control-Allow-Origin", "*")
				allowed = true
			case origin != "":
				h.Add("Vary", "Origin")
				if origin == allowedOrigin {
					h.Set("Access-Control-Allow-Origin", origin)
					allowed = true
				}
			}
			if allowed {
				h.Set("Access-Control-Expose-Headers", "Retry-After")
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				if allowed {
					h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
					h.Set("Access-Control-Allow-Headers", "Content-Type")
					h.Set("Access-Control-Max-Age", corsMaxAge)
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
