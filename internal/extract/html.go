package extract

import (
	"bytes"
	"log/slog"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// htmlCandidates はHTML本文からセレクタに一致するリンク要素を文書順で取り出す。
func (e *Extractor) htmlCandidates(body []byte) []rawCandidate {
	// html.Parseは壊れたマークアップも可能な限り木に組み立てる
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		e.logger.Warn("HTMLの解析に失敗しました", slog.String("error", err.Error()))
		return nil
	}
	doc := goquery.NewDocumentFromNode(root)

	var out []rawCandidate
	doc.Find(e.selector).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		out = append(out, rawCandidate{
			title: s.Text(),
			href:  href,
		})
	})
	return out
}
