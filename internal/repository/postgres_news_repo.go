package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/hitoshi/newsscraper/internal/model"
)

// pgUniqueViolation はPostgreSQLのunique_violationエラーコード。
const pgUniqueViolation = "23505"

// PostgresNewsRepo はPostgreSQLを使用した記事リポジトリ。
type PostgresNewsRepo struct {
	db      *sql.DB
	queries newsQueries
}

// NewPostgresNewsRepo はPostgresNewsRepoを生成する。
func NewPostgresNewsRepo(db *sql.DB) *PostgresNewsRepo {
	return &PostgresNewsRepo{db: db, queries: newNewsQueries(sq.Dollar)}
}

// InsertIfAbsent はurlが未登録の場合のみ記事を挿入する。
func (r *PostgresNewsRepo) InsertIfAbsent(ctx context.Context, title, url string, createdAt time.Time) (*model.NewsItem, bool, error) {
	query, args, err := r.queries.insertIfAbsent(title, url, createdAt.UTC())
	if err != nil {
		return nil, false, fmt.Errorf("記事挿入クエリの生成に失敗しました: %w", err)
	}

	item := &model.NewsItem{Title: title, URL: url}
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&item.ID, &item.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		// ON CONFLICT DO NOTHING: 既存行があり挿入されなかった
		return nil, false, nil
	}
	if isPgUniqueViolation(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("記事の挿入に失敗しました: %w", err)
	}

	item.CreatedAt = item.CreatedAt.UTC()
	return item, true, nil
}

// ListRecent はcreated_atの降順で記事を返す。
func (r *PostgresNewsRepo) ListRecent(ctx context.Context, limit, offset int) ([]model.NewsItem, error) {
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
		if err := rows.Scan(&item.ID, &item.Title, &item.URL, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("記事のスキャンに失敗しました: %w", err)
		}
		item.CreatedAt = item.CreatedAt.UTC()
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("記事一覧の読み取りに失敗しました: %w", err)
	}

	return items, nil
}

// Ping はデータベースへの疎通を確認する。
func (r *PostgresNewsRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// isPgUniqueViolation はerrがユニーク制約違反かを判定する。
func isPgUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation
}
