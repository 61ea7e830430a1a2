package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/hitoshi/newsscraper/internal/middleware"
	"github.com/hitoshi/newsscraper/internal/model"
	"github.com/hitoshi/newsscraper/internal/scrape"
)

// --- モック定義 ---

// mockScrapeRunner はScrapeRunnerのモック実装。
type mockScrapeRunner struct {
	runFn func(ctx context.Context) model.ScrapeResult
	calls int
}

func (m *mockScrapeRunner) RunScrape(ctx context.Context) model.ScrapeResult {
	m.calls++
	if m.runFn != nil {
		return m.runFn(ctx)
	}
	return model.ScrapeResult{Succeeded: true, Message: "0 new articles added"}
}

// mockNewsLister はNewsListerのモック実装。
type mockNewsLister struct {
	listFn func(ctx context.Context, limit, offset int) ([]model.NewsItem, error)
}

func (m *mockNewsLister) ListNews(ctx context.Context, limit, offset int) ([]model.NewsItem, error) {
	if m.listFn != nil {
		return m.listFn(ctx, limit, offset)
	}
	return nil, nil
}

// mockHealthChecker はHealthCheckerのモック実装。
type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) Ping(ctx context.Context) error {
	return m.err
}

func newTestHandler(runner ScrapeRunner, lister NewsLister, health HealthChecker) *NewsHandler {
	return NewNewsHandler(runner, lister, health, 100, nil)
}

// --- GET / ---

func TestNewsHandler_Root(t *testing.T) {
	h := newTestHandler(&mockScrapeRunner{}, &mockNewsLister{}, nil)

	w := httptest.NewRecorder()
	h.Root(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var body serviceInfoResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Status != "running" {
		t.Errorf("status = %q, want running", body.Status)
	}
	if diff := cmp.Diff([]string{"/news", "/scrape", "/health", "/metrics"}, body.Endpoints); diff != "" {
		t.Errorf("endpoints mismatch (-want +got):\n%s", diff)
	}
}

// --- GET /health ---

func TestNewsHandler_Health(t *testing.T) {
	tests := []struct {
		name       string
		health     HealthChecker
		wantStatus int
		wantBody   string
	}{
		{"no checker", nil, http.StatusOK, "healthy"},
		{"store reachable", &mockHealthChecker{}, http.StatusOK, "healthy"},
		{"store unreachable", &mockHealthChecker{err: errors.New("connection refused")}, http.StatusServiceUnavailable, "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(&mockScrapeRunner{}, &mockNewsLister{}, tt.health)

			w := httptest.NewRecorder()
			h.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var body healthResponse
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode: %v", err)
			}
			if body.Status != tt.wantBody {
				t.Errorf("body status = %q, want %q", body.Status, tt.wantBody)
			}
			if body.Service != serviceName {
				t.Errorf("service = %q, want %q", body.Service, serviceName)
			}
		})
	}
}

// --- GET /news ---

func TestNewsHandler_ListNews_Success(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	lister := &mockNewsLister{
		listFn: func(ctx context.Context, limit, offset int) ([]model.NewsItem, error) {
			if limit != 20 || offset != 40 {
				t.Errorf("limit/offset = %d/%d, want 20/40", limit, offset)
			}
			return []model.NewsItem{
				{ID: 2, Title: "Segunda notícia do dia", URL: "https://g1.globo.com/b", CreatedAt: created.Add(time.Second)},
				{ID: 1, Title: "Primeira notícia do dia", URL: "https://g1.globo.com/a", CreatedAt: created},
			}, nil
		},
	}
	h := newTestHandler(&mockScrapeRunner{}, lister, nil)

	w := httptest.NewRecorder()
	h.ListNews(w, httptest.NewRequest(http.MethodGet, "/news?limit=20&offset=40", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var got []newsResponse
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	want := []newsResponse{
		{ID: 2, Title: "Segunda notícia do dia", URL: "https://g1.globo.com/b", CreatedAt: created.Add(time.Second)},
		{ID: 1, Title: "Primeira notícia do dia", URL: "https://g1.globo.com/a", CreatedAt: created},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("news mismatch (-want +got):\n%s", diff)
	}
}

// TestNewsHandler_ListNews_DefaultsAndEmpty はクエリ省略時にデフォルト値が使われ、空配列が返ることを検証する。
func TestNewsHandler_ListNews_DefaultsAndEmpty(t *testing.T) {
	lister := &mockNewsLister{
		listFn: func(ctx context.Context, limit, offset int) ([]model.NewsItem, error) {
			if limit != 100 || offset != 0 {
				t.Errorf("limit/offset = %d/%d, want 100/0", limit, offset)
			}
			return nil, nil
		},
	}
	h := newTestHandler(&mockScrapeRunner{}, lister, nil)

	w := httptest.NewRecorder()
	h.ListNews(w, httptest.NewRequest(http.MethodGet, "/news", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := w.Body.String(); got != "[]\n" {
		t.Errorf("body = %q, want empty JSON array", got)
	}
}

func TestNewsHandler_ListNews_BadRequest(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{"non-numeric limit", "?limit=abc"},
		{"non-numeric offset", "?offset=1.5"},
		{"zero limit", "?limit=0"},
		{"negative offset", "?offset=-1"},
	}

	lister := &mockNewsLister{
		listFn: func(ctx context.Context, limit, offset int) ([]model.NewsItem, error) {
			if limit <= 0 {
				return nil, fmt.Errorf("%w: limit must be positive, got %d", scrape.ErrInvalidPagination, limit)
			}
			if offset < 0 {
				return nil, fmt.Errorf("%w: offset must not be negative, got %d", scrape.ErrInvalidPagination, offset)
			}
			return nil, nil
		},
	}
	h := newTestHandler(&mockScrapeRunner{}, lister, nil)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.ListNews(w, httptest.NewRequest(http.MethodGet, "/news"+tt.query, nil))

			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			var body middleware.ErrorResponseBody
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode: %v", err)
			}
			if body.Code != model.ErrCodeInvalidPagination {
				t.Errorf("code = %q, want %q", body.Code, model.ErrCodeInvalidPagination)
			}
		})
	}
}

func TestNewsHandler_ListNews_StoreError_Returns500(t *testing.T) {
	lister := &mockNewsLister{
		listFn: func(ctx context.Context, limit, offset int) ([]model.NewsItem, error) {
			return nil, errors.New("database is locked")
		},
	}
	h := newTestHandler(&mockScrapeRunner{}, lister, nil)

	w := httptest.NewRecorder()
	h.ListNews(w, httptest.NewRequest(http.MethodGet, "/news", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Code != model.ErrCodeInternal {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeInternal)
	}
}

// --- POST /scrape ---

func TestNewsHandler_Scrape_Success(t *testing.T) {
	runner := &mockScrapeRunner{
		runFn: func(ctx context.Context) model.ScrapeResult {
			return model.ScrapeResult{
				RunID:          "run-1",
				Succeeded:      true,
				AddedCount:     3,
				SkippedCount:   2,
				CandidateCount: 5,
				DroppedCount:   1,
				Message:        "3 new articles added",
				Duration:       1500 * time.Millisecond,
			}
		},
	}
	h := newTestHandler(runner, &mockNewsLister{}, nil)

	w := httptest.NewRecorder()
	h.Scrape(w, httptest.NewRequest(http.MethodPost, "/scrape", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var got scrapeResponse
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	want := scrapeResponse{
		Success:    true,
		NewsAdded:  3,
		Message:    "3 new articles added",
		RunID:      "run-1",
		Skipped:    2,
		Candidates: 5,
		Dropped:    1,
		DurationMs: 1500,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("response mismatch (-want +got):\n%s", diff)
	}
}

func TestNewsHandler_Scrape_Failure(t *testing.T) {
	tests := []struct {
		name       string
		phase      model.ScrapePhase
		added      int
		wantStatus int
		wantCode   string
	}{
		{"fetch failed", model.ScrapePhaseFetching, 0, http.StatusBadGateway, model.ErrCodeFetchFailed},
		{"persist failed after partial insert", model.ScrapePhasePersisting, 2, http.StatusInternalServerError, model.ErrCodePersistFailed},
		{"unknown phase", "", 0, http.StatusInternalServerError, model.ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &mockScrapeRunner{
				runFn: func(ctx context.Context) model.ScrapeResult {
					return model.ScrapeResult{
						RunID:       "run-2",
						Succeeded:   false,
						AddedCount:  tt.added,
						Message:     "failed",
						FailedPhase: tt.phase,
					}
				},
			}
			h := newTestHandler(runner, &mockNewsLister{}, nil)

			w := httptest.NewRecorder()
			h.Scrape(w, httptest.NewRequest(http.MethodPost, "/scrape", nil))

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}

			var got scrapeResponse
			if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
				t.Fatalf("failed to decode: %v", err)
			}
			if got.Success {
				t.Error("success should be false")
			}
			if got.NewsAdded != tt.added {
				t.Errorf("news_added = %d, want %d", got.NewsAdded, tt.added)
			}
			if got.FailedPhase != string(tt.phase) {
				t.Errorf("failed_phase = %q, want %q", got.FailedPhase, tt.phase)
			}
			if got.Error == nil {
				t.Fatal("expected error detail")
			}
			if got.Error.Code != tt.wantCode {
				t.Errorf("error.code = %q, want %q", got.Error.Code, tt.wantCode)
			}
		})
	}
}
