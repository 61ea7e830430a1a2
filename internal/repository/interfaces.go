// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/newsscraper/internal/model"
)

// NewsRepository は記事の永続化インターフェース。
// 記事は挿入のみで、更新・削除は行わない。
type NewsRepository interface {
	// InsertIfAbsent はurlが未登録の場合のみ記事を挿入する。
	// 挿入した場合は採番済みの記事とtrueを、既に登録済みの場合はnilとfalseを返す。
	// 判定と挿入はurlのユニーク制約により1文で原子的に行う。
	InsertIfAbsent(ctx context.Context, title, url string, createdAt time.Time) (*model.NewsItem, bool, error)

	// ListRecent はcreated_atの降順（同時刻はidの降順）で記事を返す。
	ListRecent(ctx context.Context, limit, offset int) ([]model.NewsItem, error)

	// Ping はストレージへの疎通を確認する。
	Ping(ctx context.Context) error
}
