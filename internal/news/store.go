// Package news は記事の重複排除付き保存と一覧取得を提供する。
package news

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/newsscraper/internal/model"
	"github.com/hitoshi/newsscraper/internal/repository"
)

// ErrInvalidCandidate はタイトルまたはURLが保存条件を満たさない候補を表す。
var ErrInvalidCandidate = errors.New("invalid candidate")

// PersistError はストレージ障害による保存失敗を表す。
// 重複による挿入見送りはPersistErrorにならない。
type PersistError struct {
	URL string
	Err error
}

// Error はerrorインターフェースを実装する。
func (e *PersistError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.URL, e.Err)
}

// Unwrap は原因エラーを返す。
func (e *PersistError) Unwrap() error {
	return e.Err
}

// Store はURLをキーに記事を重複なく保存する。
// 存在確認と挿入はリポジトリ側の1文で原子的に行うため、
// 複数のStoreや並行実行の間で同一URLが二重に挿入されることはない。
// 同一Store内の書き込みは直列化し、採番順とcreated_atの順序を一致させる。
type Store struct {
	repo   repository.NewsRepository
	logger *slog.Logger
	clock  *monotonicClock

	writeMu sync.Mutex
}

// NewStore はStoreの新しいインスタンスを生成する。
func NewStore(repo repository.NewsRepository, logger *slog.Logger) *Store {
	return &Store{
		repo:   repo,
		logger: logger,
		clock:  newMonotonicClock(time.Now),
	}
}

// PersistIfNew は候補のURLが未登録の場合のみ保存する。
// 登録済みの場合はPersistSkippedを返し、既存の記事は変更しない。
func (s *Store) PersistIfNew(ctx context.Context, c model.Candidate) (model.PersistOutcome, *model.NewsItem, error) {
	if err := validateCandidate(c); err != nil {
		return model.PersistSkipped, nil, err
	}

	item, inserted, err := s.insert(ctx, c)
	if err != nil {
		s.logger.Error("記事の保存に失敗しました",
			slog.String("url", c.URL),
			slog.String("error", err.Error()),
		)
		return model.PersistSkipped, nil, &PersistError{URL: c.URL, Err: err}
	}
	if !inserted {
		s.logger.Debug("登録済みの記事をスキップしました", slog.String("url", c.URL))
		return model.PersistSkipped, nil, nil
	}

	return model.PersistInserted, item, nil
}

// insert は時刻の採取と挿入を同じロック内で行う。
// ロック外で採取すると、待機中の書き込みが接続を得る順序次第で
// 後の時刻を持つ行が先に採番されることがある。
func (s *Store) insert(ctx context.Context, c model.Candidate) (*model.NewsItem, bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.repo.InsertIfAbsent(ctx, c.Title, c.URL, s.clock.Now())
}

// ListRecent は新しい順に記事を返す。
func (s *Store) ListRecent(ctx context.Context, limit, offset int) ([]model.NewsItem, error) {
	items, err := s.repo.ListRecent(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("記事一覧の取得に失敗: %w", err)
	}
	return items, nil
}

// Ping はストレージへの疎通を確認する。
func (s *Store) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// validateCandidate は候補がNewsItemの制約を満たすかを検証する。
func validateCandidate(c model.Candidate) error {
	switch {
	case strings.TrimSpace(c.Title) == "":
		return fmt.Errorf("%w: empty title", ErrInvalidCandidate)
	case strings.TrimSpace(c.URL) == "":
		return fmt.Errorf("%w: empty url", ErrInvalidCandidate)
	case utf8.RuneCountInString(c.Title) > model.MaxTitleLength:
		return fmt.Errorf("%w: title exceeds %d characters", ErrInvalidCandidate, model.MaxTitleLength)
	case utf8.RuneCountInString(c.URL) > model.MaxURLLength:
		return fmt.Errorf("%w: url exceeds %d characters", ErrInvalidCandidate, model.MaxURLLength)
	}
	return nil
}

// monotonicClock は前回より過去に戻らない時刻を返す。
// 壁時計が巻き戻っても挿入順とcreated_atの順序が食い違わない。
type monotonicClock struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

func newMonotonicClock(now func() time.Time) *monotonicClock {
	return &monotonicClock{now: now}
}

// Now はUTCのマイクロ秒精度で時刻を返す。
// PostgreSQLのtimestamptzと同じ精度に揃える。
func (c *monotonicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now().UTC().Truncate(time.Microsecond)
	if t.Before(c.last) {
		t = c.last
	}
	c.last = t
	return t
}
