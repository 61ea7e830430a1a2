package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/andybalholm/cascadia"
	"gopkg.in/yaml.v3"
)

// SiteProfile は取得先サイトごとの抽出ルールを表す。
// SITE_PROFILE_PATHでYAMLファイルを指定した場合はその内容を、
// 未指定の場合はDefaultSiteProfileを使用する。
type SiteProfile struct {
	Name string `yaml:"name"`
	// Selectors は見出しリンク要素を指すCSSセレクタ。
	// いずれかに一致した要素を文書順で抽出する。
	Selectors      []string `yaml:"selectors"`
	MinTitleLength int      `yaml:"min_title_length"`
	// AllowedHosts が空でない場合、解決後URLのホストがいずれか（またはそのサブドメイン）に
	// 一致する候補のみを残す。
	AllowedHosts []string `yaml:"allowed_hosts"`
}

// DefaultSiteProfile はG1（g1.globo.com）トップページ用の抽出ルールを返す。
func DefaultSiteProfile() SiteProfile {
	return SiteProfile{
		Name: "g1",
		Selectors: []string{
			"a.feed-post-link",
			"a.bastian-feed-item",
			"a.feed-media-wrapper",
		},
		MinTitleLength: 10,
		AllowedHosts:   []string{"g1.globo.com"},
	}
}

// LoadSiteProfile はpathのYAMLファイルからSiteProfileを読み込む。
// pathが空の場合はDefaultSiteProfileを返す。
func LoadSiteProfile(path string) (SiteProfile, error) {
	if path == "" {
		return DefaultSiteProfile(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return SiteProfile{}, fmt.Errorf("failed to read site profile: %w", err)
	}

	return ParseSiteProfile(data)
}

// ParseSiteProfile はYAMLバイト列からSiteProfileを生成し、検証する。
func ParseSiteProfile(data []byte) (SiteProfile, error) {
	var p SiteProfile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return SiteProfile{}, fmt.Errorf("failed to parse site profile: %w", err)
	}

	selectors := make([]string, 0, len(p.Selectors))
	for _, s := range p.Selectors {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		// 抽出時は全セレクタを1つに連結するため、1件の不正で全件が一致しなくなる
		if _, err := cascadia.Compile(s); err != nil {
			return SiteProfile{}, fmt.Errorf("site profile %q: invalid selector %q: %w", p.Name, s, err)
		}
		selectors = append(selectors, s)
	}
	p.Selectors = selectors

	if len(p.Selectors) == 0 {
		return SiteProfile{}, fmt.Errorf("site profile %q has no selectors", p.Name)
	}
	if p.MinTitleLength < 0 {
		return SiteProfile{}, fmt.Errorf("site profile %q: min_title_length must not be negative", p.Name)
	}

	for i, h := range p.AllowedHosts {
		p.AllowedHosts[i] = strings.ToLower(strings.TrimSpace(h))
	}

	return p, nil
}
