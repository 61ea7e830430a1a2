// Package extract はニュース一覧ページから見出しとURLの候補を抽出する。
package extract

import (
	"bytes"
	"log/slog"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/hitoshi/newsscraper/internal/config"
	"github.com/hitoshi/newsscraper/internal/model"
	"github.com/hitoshi/newsscraper/internal/security"
)

// Format は抽出元ページの形式を表す。
type Format string

const (
	// FormatEmpty は本文が空だったことを表す。
	FormatEmpty Format = "empty"
	// FormatHTML はHTMLページからセレクタで抽出したことを表す。
	FormatHTML Format = "html"
	// FormatFeed はRSS/Atomフィードの記事から抽出したことを表す。
	FormatFeed Format = "feed"
)

// Result は1ページ分の抽出結果。
type Result struct {
	Candidates []model.Candidate // 文書順。ページ内の重複は除去しない
	Dropped    int               // 検証で除外した要素数
	Format     Format
}

// Extractor はSiteProfileに従って候補を抽出する。
// 抽出はエラーを返さない。解析できない本文は候補0件として扱う。
type Extractor struct {
	profile   config.SiteProfile
	selector  string
	sanitizer security.TitleSanitizerService
	logger    *slog.Logger
}

// NewExtractor はExtractorの新しいインスタンスを生成する。
func NewExtractor(profile config.SiteProfile, sanitizer security.TitleSanitizerService, logger *slog.Logger) *Extractor {
	// 複数セレクタに一致した要素も文書順で1回だけ走査される
	return &Extractor{
		profile:   profile,
		selector:  strings.Join(profile.Selectors, ", "),
		sanitizer: sanitizer,
		logger:    logger,
	}
}

// Extract はbodyから候補を抽出する。相対URLはbaseを基準に解決する。
func (e *Extractor) Extract(body []byte, base *url.URL) Result {
	if len(bytes.TrimSpace(body)) == 0 {
		return Result{Format: FormatEmpty}
	}

	var (
		raws   []rawCandidate
		format Format
	)
	if isRSSOrAtomXML(body) {
		raws = e.feedCandidates(body)
		format = FormatFeed
	} else {
		raws = e.htmlCandidates(body)
		format = FormatHTML
	}

	res := Result{Format: format, Candidates: make([]model.Candidate, 0, len(raws))}
	for _, raw := range raws {
		c, reason, ok := e.validate(raw, base)
		if !ok {
			res.Dropped++
			e.logger.Debug("候補を除外しました",
				slog.String("reason", reason),
				slog.String("href", raw.href),
			)
			continue
		}
		res.Candidates = append(res.Candidates, c)
	}

	return res
}

// rawCandidate は検証前の見出しテキストとリンク。
type rawCandidate struct {
	title string
	href  string
}

// validate は候補を正規化し、保存対象として妥当かを判定する。
// 除外する場合は理由を返す。
func (e *Extractor) validate(raw rawCandidate, base *url.URL) (model.Candidate, string, bool) {
	title := e.sanitizer.Clean(raw.title)
	if title == "" {
		return model.Candidate{}, "empty_title", false
	}
	if utf8.RuneCountInString(title) < e.profile.MinTitleLength {
		return model.Candidate{}, "short_title", false
	}

	resolved, ok := resolveURL(raw.href, base)
	if !ok {
		return model.Candidate{}, "invalid_url", false
	}
	if utf8.RuneCountInString(resolved.String()) > model.MaxURLLength {
		return model.Candidate{}, "url_too_long", false
	}
	if !e.hostAllowed(resolved.Hostname()) {
		return model.Candidate{}, "host_not_allowed", false
	}

	return model.Candidate{Title: title, URL: resolved.String()}, "", true
}

// resolveURL はhrefをbaseに対して絶対URLへ解決する。
// 空、フラグメントのみ、http/https以外のスキームは解決できないものとして扱う。
func resolveURL(href string, base *url.URL) (*url.URL, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return nil, false
	}

	ref, err := url.Parse(href)
	if err != nil {
		return nil, false
	}
	if !ref.IsAbs() {
		if base == nil {
			return nil, false
		}
		ref = base.ResolveReference(ref)
	}

	scheme := strings.ToLower(ref.Scheme)
	if (scheme != "http" && scheme != "https") || ref.Host == "" {
		return nil, false
	}
	ref.Fragment = ""
	ref.RawFragment = ""
	return ref, true
}

// hostAllowed はホストがプロファイルの許可リストに含まれるかを判定する。
// 許可リストが空の場合はすべて許可する。サブドメインも許可する。
func (e *Extractor) hostAllowed(host string) bool {
	if len(e.profile.AllowedHosts) == 0 {
		return true
	}
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	for _, allowed := range e.profile.AllowedHosts {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}
