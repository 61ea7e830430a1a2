package repository

import (
	"time"

	sq "github.com/Masterminds/squirrel"
)

// newsColumns はnewsテーブルから読み出すカラム。
var newsColumns = []string{"id", "title", "url", "created_at"}

// newsQueries はバックエンドごとのプレースホルダ形式でnewsテーブルのSQLを組み立てる。
type newsQueries struct {
	builder sq.StatementBuilderType
}

func newNewsQueries(format sq.PlaceholderFormat) newsQueries {
	return newsQueries{builder: sq.StatementBuilder.PlaceholderFormat(format)}
}

// insertIfAbsent はurl重複時に何もしないINSERT文を返す。
// 挿入された場合のみRETURNINGで1行が返る。
func (q newsQueries) insertIfAbsent(title, url string, createdAt any) (string, []any, error) {
	return q.builder.
		Insert("news").
		Columns("title", "url", "created_at").
		Values(title, url, createdAt).
		Suffix("ON CONFLICT (url) DO NOTHING RETURNING id, created_at").
		ToSql()
}

// listRecent は新しい順の一覧取得SELECT文を返す。
func (q newsQueries) listRecent(limit, offset int) (string, []any, error) {
	return q.builder.
		Select(newsColumns...).
		From("news").
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(limit)).
		Offset(uint64(offset)).
		ToSql()
}

// sqliteTimeLayout はSQLiteのTEXT列に保存する時刻の書式。
// 固定幅のため文字列比較と時刻順序が一致する。
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseSQLiteTime(s string) (time.Time, error) {
	return time.Parse(sqliteTimeLayout, s)
}
