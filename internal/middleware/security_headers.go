package middleware

import "net/http"

// NewSecurityHeadersMiddleware はJSON APIのレスポンス用ヘッダーを付与する。
// 応答はブラウザで描画されないため、CSPで全リソースの読み込みとフレーム埋め込みを禁止する。
// スクレイプ結果と一覧は実行ごとに変わるのでキャッシュさせない。
func NewSecurityHeadersMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Cache-Control", "no-store")
			next.ServeHTTP(w, r)
		})
	}
}
