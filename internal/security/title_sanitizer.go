package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hitoshi/newsscraper/internal/model"
)

// TitleSanitizerService は見出しテキストを正規化するインターフェース。
type TitleSanitizerService interface {
	// Clean はタグを除去し、空白を1つに畳み込んだプレーンテキストを返す。
	// model.MaxTitleLength を超える部分は切り詰める。
	Clean(raw string) string
}

// TitleSanitizer はbluemondayのStrictPolicyで見出しからHTMLを除去する。
// フィード形式のページではタイトルにマークアップが混入することがあるため、
// 抽出経路によらず同じ正規化を適用する。
type TitleSanitizer struct {
	policy *bluemonday.Policy
}

// NewTitleSanitizer はTitleSanitizerの新しいインスタンスを生成する。
func NewTitleSanitizer() *TitleSanitizer {
	return &TitleSanitizer{policy: bluemonday.StrictPolicy()}
}

// Clean はTitleSanitizerServiceを実装する。
func (s *TitleSanitizer) Clean(raw string) string {
	if raw == "" {
		return ""
	}

	// StrictPolicyはテキストをエスケープして返すため、プレーンテキストに戻す
	text := html.UnescapeString(s.policy.Sanitize(raw))
	text = strings.Join(strings.Fields(text), " ")

	return truncateRunes(text, model.MaxTitleLength)
}

// truncateRunes はsをrune単位でmax文字に切り詰める。
func truncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	n := 0
	for i := range s {
		if n == max {
			return strings.TrimSpace(s[:i])
		}
		n++
	}
	return s
}
