package news

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/newsscraper/internal/database"
	"github.com/hitoshi/newsscraper/internal/model"
	"github.com/hitoshi/newsscraper/internal/repository"
)

// --- テスト用モック ---

// mockNewsRepo はNewsRepositoryのインメモリモック。
type mockNewsRepo struct {
	mu        sync.Mutex
	byURL     map[string]*model.NewsItem
	order     []*model.NewsItem
	nextID    int64
	insertErr error
	listErr   error
	stamps    []time.Time
}

func newMockNewsRepo() *mockNewsRepo {
	return &mockNewsRepo{byURL: make(map[string]*model.NewsItem)}
}

func (m *mockNewsRepo) InsertIfAbsent(_ context.Context, title, url string, createdAt time.Time) (*model.NewsItem, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.insertErr != nil {
		return nil, false, m.insertErr
	}
	m.stamps = append(m.stamps, createdAt)
	if _, ok := m.byURL[url]; ok {
		return nil, false, nil
	}
	m.nextID++
	item := &model.NewsItem{ID: m.nextID, Title: title, URL: url, CreatedAt: createdAt}
	m.byURL[url] = item
	m.order = append(m.order, item)
	return item, true, nil
}

func (m *mockNewsRepo) ListRecent(_ context.Context, limit, offset int) ([]model.NewsItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []model.NewsItem
	for i := len(m.order) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, *m.order[i])
	}
	return out, nil
}

func (m *mockNewsRepo) Ping(_ context.Context) error {
	return nil
}

func newTestStore(repo repository.NewsRepository) (*Store, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return NewStore(repo, logger), &buf
}

// --- テスト ---

func TestPersistIfNew_InsertsThenSkips(t *testing.T) {
	repo := newMockNewsRepo()
	s, _ := newTestStore(repo)
	ctx := context.Background()
	c := model.Candidate{Title: "Headline", URL: "https://example.com/a"}

	outcome, item, err := s.PersistIfNew(ctx, c)
	if err != nil {
		t.Fatalf("PersistIfNew() error: %v", err)
	}
	if outcome != model.PersistInserted {
		t.Errorf("outcome = %v, want inserted", outcome)
	}
	if item == nil || item.URL != c.URL || item.Title != c.Title {
		t.Errorf("item = %+v", item)
	}

	outcome, item, err = s.PersistIfNew(ctx, model.Candidate{Title: "Different title", URL: c.URL})
	if err != nil {
		t.Fatalf("PersistIfNew(dup) error: %v", err)
	}
	if outcome != model.PersistSkipped {
		t.Errorf("outcome = %v, want skipped", outcome)
	}
	if item != nil {
		t.Errorf("スキップ時はitemがnilであるべき, got %+v", item)
	}
	if got := repo.byURL[c.URL].Title; got != "Headline" {
		t.Errorf("既存行のタイトルが変更された: %q", got)
	}
}

// TestPersistIfNew_StorageFailure はストレージ障害がPersistErrorとして返されることを検証する。
func TestPersistIfNew_StorageFailure(t *testing.T) {
	repo := newMockNewsRepo()
	repo.insertErr = errors.New("disk I/O error")
	s, buf := newTestStore(repo)

	_, _, err := s.PersistIfNew(context.Background(), model.Candidate{Title: "Headline", URL: "https://example.com/a"})
	if err == nil {
		t.Fatal("ストレージ障害時はエラーを返すべき")
	}

	var pe *PersistError
	if !errors.As(err, &pe) {
		t.Fatalf("エラーは*PersistErrorであるべき, got %T", err)
	}
	if pe.URL != "https://example.com/a" {
		t.Errorf("URL = %q", pe.URL)
	}
	if !errors.Is(err, repo.insertErr) {
		t.Error("原因エラーを辿れるべき")
	}
	if !strings.Contains(buf.String(), "記事の保存に失敗しました") {
		t.Errorf("失敗がログに記録されるべき: %s", buf.String())
	}
}

func TestPersistIfNew_InvalidCandidate(t *testing.T) {
	tests := []struct {
		name string
		c    model.Candidate
	}{
		{"empty title", model.Candidate{Title: "", URL: "https://example.com/a"}},
		{"blank title", model.Candidate{Title: "   ", URL: "https://example.com/a"}},
		{"empty url", model.Candidate{Title: "Headline", URL: ""}},
		{"long title", model.Candidate{Title: strings.Repeat("t", model.MaxTitleLength+1), URL: "https://example.com/a"}},
		{"long url", model.Candidate{Title: "Headline", URL: "https://example.com/" + strings.Repeat("u", model.MaxURLLength)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMockNewsRepo()
			s, _ := newTestStore(repo)

			_, _, err := s.PersistIfNew(context.Background(), tt.c)
			if !errors.Is(err, ErrInvalidCandidate) {
				t.Errorf("err = %v, want ErrInvalidCandidate", err)
			}
			if len(repo.stamps) != 0 {
				t.Error("不正な候補でリポジトリを呼び出してはならない")
			}
		})
	}
}

// TestPersistIfNew_TitleAtLimit は上限ちょうどのタイトルが保存できることを検証する。
func TestPersistIfNew_TitleAtLimit(t *testing.T) {
	s, _ := newTestStore(newMockNewsRepo())
	title := strings.Repeat("ã", model.MaxTitleLength)

	outcome, _, err := s.PersistIfNew(context.Background(), model.Candidate{Title: title, URL: "https://example.com/a"})
	if err != nil {
		t.Fatalf("PersistIfNew() error: %v", err)
	}
	if outcome != model.PersistInserted {
		t.Errorf("outcome = %v, want inserted", outcome)
	}
}

// TestPersistIfNew_ConcurrentSameURL は同一URLを並行に保存しても1件だけ挿入されることを検証する。
func TestPersistIfNew_ConcurrentSameURL(t *testing.T) {
	repo := newMockNewsRepo()
	s, _ := newTestStore(repo)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inserted int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, _, err := s.PersistIfNew(context.Background(), model.Candidate{Title: "Headline", URL: "https://example.com/race"})
			if err != nil {
				t.Errorf("PersistIfNew() error: %v", err)
				return
			}
			if outcome == model.PersistInserted {
				mu.Lock()
				inserted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if inserted != 1 {
		t.Errorf("inserted = %d, want 1", inserted)
	}
}

// TestPersistIfNew_ConcurrentStampsFollowInsertOrder は並行保存でも
// リポジトリに届く時刻が到着順に非減少であることを検証する。
func TestPersistIfNew_ConcurrentStampsFollowInsertOrder(t *testing.T) {
	repo := newMockNewsRepo()
	s, _ := newTestStore(repo)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				c := model.Candidate{Title: "Headline", URL: fmt.Sprintf("https://example.com/%d/%d", g, i)}
				if _, _, err := s.PersistIfNew(context.Background(), c); err != nil {
					t.Errorf("PersistIfNew() error: %v", err)
				}
			}
		}(g)
	}
	wg.Wait()

	for i := 1; i < len(repo.stamps); i++ {
		if repo.stamps[i].Before(repo.stamps[i-1]) {
			t.Fatalf("stamps[%d] = %v is earlier than stamps[%d] = %v", i, repo.stamps[i], i-1, repo.stamps[i-1])
		}
	}
}

func TestListRecent_DelegatesToRepository(t *testing.T) {
	repo := newMockNewsRepo()
	s, _ := newTestStore(repo)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		if _, _, err := s.PersistIfNew(ctx, model.Candidate{Title: fmt.Sprintf("Headline %d", i), URL: fmt.Sprintf("https://example.com/%d", i)}); err != nil {
			t.Fatalf("PersistIfNew() error: %v", err)
		}
	}

	items, err := s.ListRecent(ctx, 2, 0)
	if err != nil {
		t.Fatalf("ListRecent() error: %v", err)
	}
	if len(items) != 2 || items[0].URL != "https://example.com/3" || items[1].URL != "https://example.com/2" {
		t.Errorf("items = %+v", items)
	}

	repo.listErr = errors.New("connection lost")
	if _, err := s.ListRecent(ctx, 2, 0); !errors.Is(err, repo.listErr) {
		t.Errorf("err = %v, want wrapped listErr", err)
	}
}

// TestMonotonicClock_NeverGoesBackwards は壁時計が巻き戻っても時刻が減少しないことを検証する。
func TestMonotonicClock_NeverGoesBackwards(t *testing.T) {
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	ticks := []time.Time{
		base,
		base.Add(time.Second),
		base.Add(-time.Hour), // 巻き戻り
		base.Add(2 * time.Second),
	}
	i := 0
	c := newMonotonicClock(func() time.Time {
		tm := ticks[i]
		i++
		return tm
	})

	want := []time.Time{base, base.Add(time.Second), base.Add(time.Second), base.Add(2 * time.Second)}
	for j, w := range want {
		if got := c.Now(); !got.Equal(w) {
			t.Errorf("Now()[%d] = %v, want %v", j, got, w)
		}
	}
}

func TestMonotonicClock_TruncatesToMicroseconds(t *testing.T) {
	c := newMonotonicClock(func() time.Time {
		return time.Date(2025, 1, 1, 0, 0, 0, 123456789, time.FixedZone("BRT", -3*60*60))
	})
	got := c.Now()
	if got.Nanosecond() != 123456000 {
		t.Errorf("Nanosecond = %d, want 123456000", got.Nanosecond())
	}
	if got.Location() != time.UTC {
		t.Errorf("Location = %v, want UTC", got.Location())
	}
}

// TestStore_SQLite はSQLiteバックエンドで挿入・スキップ・一覧が動作することを検証する。
func TestStore_SQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "news.db")
	if err := database.RunMigrations(database.DialectSQLite, database.SQLiteMigrationURL(path)); err != nil {
		t.Fatalf("マイグレーション実行に失敗: %v", err)
	}
	db, err := database.OpenSQLite(path)
	if err != nil {
		t.Fatalf("SQLiteのオープンに失敗: %v", err)
	}
	defer db.Close()

	s, _ := newTestStore(repository.NewSQLiteNewsRepo(db))
	ctx := context.Background()

	candidates := []model.Candidate{
		{Title: "Primeira", URL: "https://g1.globo.com/1"},
		{Title: "Segunda", URL: "https://g1.globo.com/2"},
		{Title: "Primeira de novo", URL: "https://g1.globo.com/1"},
	}
	var outcomes []model.PersistOutcome
	for _, c := range candidates {
		outcome, _, err := s.PersistIfNew(ctx, c)
		if err != nil {
			t.Fatalf("PersistIfNew(%s) error: %v", c.URL, err)
		}
		outcomes = append(outcomes, outcome)
	}
	want := []model.PersistOutcome{model.PersistInserted, model.PersistInserted, model.PersistSkipped}
	for i := range want {
		if outcomes[i] != want[i] {
			t.Errorf("outcomes[%d] = %v, want %v", i, outcomes[i], want[i])
		}
	}

	items, err := s.ListRecent(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListRecent() error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len(items) = %d, want 2", len(items))
	}
	// 挿入順の逆
	if items[0].URL != "https://g1.globo.com/2" || items[1].URL != "https://g1.globo.com/1" {
		t.Errorf("items = %+v", items)
	}
	if items[0].CreatedAt.Before(items[1].CreatedAt) {
		t.Error("created_atは挿入順に非減少であるべき")
	}
}

// TestStore_SQLite_ConcurrentRunsKeepOrder は複数の実行が重なっても
// idの順序とcreated_atの順序が一致することを検証する。
func TestStore_SQLite_ConcurrentRunsKeepOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "news.db")
	if err := database.RunMigrations(database.DialectSQLite, database.SQLiteMigrationURL(path)); err != nil {
		t.Fatalf("マイグレーション実行に失敗: %v", err)
	}
	db, err := database.OpenSQLite(path)
	if err != nil {
		t.Fatalf("SQLiteのオープンに失敗: %v", err)
	}
	defer db.Close()

	s, _ := newTestStore(repository.NewSQLiteNewsRepo(db))
	ctx := context.Background()

	const workers, perWorker = 16, 50
	var wg sync.WaitGroup
	for g := 0; g < workers; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				c := model.Candidate{Title: fmt.Sprintf("Notícia %d-%d", g, i), URL: fmt.Sprintf("https://g1.globo.com/%d/%d", g, i)}
				if _, _, err := s.PersistIfNew(ctx, c); err != nil {
					t.Errorf("PersistIfNew() error: %v", err)
				}
			}
		}(g)
	}
	wg.Wait()

	rows, err := db.QueryContext(ctx, "SELECT id FROM news ORDER BY id")
	if err != nil {
		t.Fatalf("id一覧の取得に失敗: %v", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			t.Fatalf("scan: %v", err)
		}
		ids = append(ids, id)
	}
	rows.Close()

	items, err := s.ListRecent(ctx, workers*perWorker, 0)
	if err != nil {
		t.Fatalf("ListRecent() error: %v", err)
	}
	if len(items) != workers*perWorker || len(ids) != len(items) {
		t.Fatalf("len(items) = %d, len(ids) = %d, want %d", len(items), len(ids), workers*perWorker)
	}

	// 新しい順の一覧はidの降順と一致する
	for i, item := range items {
		if want := ids[len(ids)-1-i]; item.ID != want {
			t.Fatalf("items[%d].ID = %d, want %d (created_at %v)", i, item.ID, want, item.CreatedAt)
		}
		if i > 0 && item.CreatedAt.After(items[i-1].CreatedAt) {
			t.Fatalf("id %d created_at %v is later than id %d created_at %v", item.ID, item.CreatedAt, items[i-1].ID, items[i-1].CreatedAt)
		}
	}
}
