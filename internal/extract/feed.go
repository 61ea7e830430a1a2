package extract

import (
	"bytes"
	"log/slog"
	"strings"

	"github.com/mmcdole/gofeed"
)

// isRSSOrAtomXML は本文の先頭部分を解析してRSS/Atomフィードかを判定する。
func isRSSOrAtomXML(body []byte) bool {
	// 先頭4KBを検査（XMLプロローグ + ルート要素が含まれるのに十分）
	checkSize := 4096
	if len(body) < checkSize {
		checkSize = len(body)
	}
	prefix := strings.ToLower(string(body[:checkSize]))

	// HTMLページ内の<link rel="alternate" type="application/rss+xml">などを誤検出しない
	if strings.Contains(prefix, "<html") {
		return false
	}

	if strings.Contains(prefix, "<rss") {
		return true
	}
	if strings.Contains(prefix, "<rdf:rdf") {
		return true
	}
	if strings.Contains(prefix, "<feed") && strings.Contains(prefix, "http://www.w3.org/2005/atom") {
		return true
	}
	return false
}

// feedCandidates はRSS/Atomの記事から見出しとリンクを取り出す。
// リンクがなくGUIDがURL形式の場合はGUIDをリンクとして使う。
func (e *Extractor) feedCandidates(body []byte) []rawCandidate {
	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		e.logger.Warn("フィードの解析に失敗しました", slog.String("error", err.Error()))
		return nil
	}

	out := make([]rawCandidate, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		if item == nil {
			continue
		}
		link := item.Link
		if link == "" && (strings.HasPrefix(item.GUID, "http://") || strings.HasPrefix(item.GUID, "https://")) {
			link = item.GUID
		}
		out = append(out, rawCandidate{title: item.Title, href: link})
	}
	return out
}
