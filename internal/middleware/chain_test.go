package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/newsscraper/internal/model"
)

func newChainLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// TestMiddlewareChain_PanicIsRecovered は
// RequestID -> Logging -> Recovery -> SecurityHeaders の順でpanicが500に変換されることを検証する。
func TestMiddlewareChain_PanicIsRecovered(t *testing.T) {
	var buf bytes.Buffer
	logger := newChainLogger(&buf)

	handler := chimw.RequestID(
		NewLoggingMiddleware(logger)(
			NewRecoveryMiddleware(logger, nil)(
				NewSecurityHeadersMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					panic("boom")
				})),
			),
		),
	)

	req := httptest.NewRequest(http.MethodGet, "/news", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusInternalServerError)
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Code != model.ErrCodeInternal {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeInternal)
	}
	if body.RequestID == "" {
		t.Error("error body should carry request_id")
	}

	// panicログとアクセスログの両方が同じrequest_idを持つ
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("log lines = %d, want 2\nraw: %s", len(lines), buf.String())
	}
	for _, line := range lines {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("failed to parse JSON log: %v\nraw: %s", err, line)
		}
		if entry["level"] != "ERROR" {
			t.Errorf("level = %v, want ERROR", entry["level"])
		}
		if entry["request_id"] != body.RequestID {
			t.Errorf("request_id = %v, want %q", entry["request_id"], body.RequestID)
		}
	}
}

// TestRecoveryMiddleware_CustomResponder はルート固有の応答でpanicを返せることを検証する。
func TestRecoveryMiddleware_CustomResponder(t *testing.T) {
	var buf bytes.Buffer
	responder := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"success":false,"news_added":0}`))
	}

	handler := NewRecoveryMiddleware(newChainLogger(&buf), responder)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(errors.New("extractor bug"))
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/scrape", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if got := w.Body.String(); got != `{"success":false,"news_added":0}` {
		t.Errorf("body = %s", got)
	}
	if !strings.Contains(buf.String(), "extractor bug") {
		t.Errorf("panic value should be logged: %s", buf.String())
	}
}

// TestRecoveryMiddleware_AbortHandlerIsRepanicked は接続中断用のpanicを握りつぶさないことを検証する。
func TestRecoveryMiddleware_AbortHandlerIsRepanicked(t *testing.T) {
	var buf bytes.Buffer
	handler := NewRecoveryMiddleware(newChainLogger(&buf), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	defer func() {
		if rec := recover(); rec != http.ErrAbortHandler {
			t.Errorf("recovered %v, want http.ErrAbortHandler", rec)
		}
		if buf.Len() != 0 {
			t.Errorf("abort should not be logged as panic: %s", buf.String())
		}
	}()
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/news", nil))
}

// TestSecurityHeadersMiddleware_JSONAPI はJSON API向けのヘッダーが付与されることを検証する。
func TestSecurityHeadersMiddleware_JSONAPI(t *testing.T) {
	w := httptest.NewRecorder()
	NewSecurityHeadersMiddleware()(okHandler()).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/scrape", nil))

	want := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
		"Referrer-Policy":         "no-referrer",
		"Cache-Control":           "no-store",
	}
	for header, value := range want {
		if got := w.Header().Get(header); got != value {
			t.Errorf("%s = %q, want %q", header, got, value)
		}
	}
}
