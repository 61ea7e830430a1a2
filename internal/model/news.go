// Package model はドメインモデルを定義する。
package model

import "time"

const (
	// MaxTitleLength はタイトルの最大文字数（rune単位）。
	MaxTitleLength = 500
	// MaxURLLength はURLの最大文字数（rune単位）。
	MaxURLLength = 1000
)

// NewsItem は永続化済みのニュース記事を表す。
// URLがグローバルに一意な重複判定キーとなる。
// 一度作成されたNewsItemは更新も削除もされない。
type NewsItem struct {
	ID        int64     // ストアが採番するサロゲートID
	Title     string
	URL       string
	CreatedAt time.Time // 挿入時にストアが付与する
}

// Candidate は抽出直後の未検証・未保存の記事候補を表す。
// Extractorが生成し、Storeが即座に消費する。
type Candidate struct {
	Title string
	URL   string
}

// PersistOutcome はストアへの保存結果の分類。
type PersistOutcome int

const (
	// PersistInserted は新規に挿入されたことを示す。
	PersistInserted PersistOutcome = iota
	// PersistSkipped は同一URLの記事が既に存在したため挿入しなかったことを示す。
	PersistSkipped
)

// String はログ出力用の文字列表現を返す。
func (o PersistOutcome) String() string {
	switch o {
	case PersistInserted:
		return "inserted"
	case PersistSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}
