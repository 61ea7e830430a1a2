package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/hitoshi/newsscraper/internal/model"
)

// SQLiteNewsRepo はSQLiteを使用した記事リポジトリ。
// created_atは固定幅のUTC文字列で保存する。
type SQLiteNewsRepo struct {
	db      *sql.DB
	queries newsQueries
}

// NewSQLiteNewsRepo はSQLiteNewsRepoを生成する。
func NewSQLiteNewsRepo(db *sql.DB) *SQLiteNewsRepo {
	return &SQLiteNewsRepo{db: db, queries: newNewsQueries(sq.Question)}
}

// InsertIfAbsent はurlが未登録の場合のみ記事を挿入する。
func (r *SQLiteNewsRepo) InsertIfAbsent(ctx context.Context, title, url string, createdAt time.Time) (*model.NewsItem, bool, error) {
	query, args, err := r.queries.insertIfAbsent(title, url, formatSQLiteTime(createdAt))
	if err != nil {
		return nil, false, fmt.Errorf("記事挿入クエリの生成に失敗しました: %w", err)
	}

	item := &model.NewsItem{Title: title, URL: url}
	var created string
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&item.ID, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if isSQLiteUniqueViolation(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("記事の挿入に失敗しました: %w", err)
	}

	if item.CreatedAt, err = parseSQLiteTime(created); err != nil {
		return nil, false, fmt.Errorf("created_atの解析に失敗しました: %w", err)
	}
	return item, true, nil
}

// ListRecent はcreated_atの降順で記事を返す。
func (r *SQLiteNewsRepo) ListRecent(ctx context.Context, limit, offset int) ([]model.NewsItem, error) {
	query, args, err := r.queries.listRecent(limit, offset)
	if err != nil {
		return nil, fmt.Errorf("記事一覧クエリの生成に失敗しました: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("記事一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	items := make([]model.NewsItem, 0, limit)
	for rows.Next() {
		var item model.NewsItem
		var created string
		if err := rows.Scan(&item.ID, &item.Title, &item.URL, &created); err != nil {
			return nil, fmt.Errorf("記事のスキャンに失敗しました: %w", err)
		}
		if item.CreatedAt, err = parseSQLiteTime(created); err != nil {
			return nil, fmt.Errorf("created_atの解析に失敗しました: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("記事一覧の読み取りに失敗しました: %w", err)
	}

	return items, nil
}

// Ping はデータベースへの疎通を確認する。
func (r *SQLiteNewsRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// isSQLiteUniqueViolation はerrがユニーク制約違反かを判定する。
func isSQLiteUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}
