package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizer は外部レシピAPIから受け取ったHTMLを表示用に無害化する。
type ContentSanitizer interface {
	// SanitizeSummary はレシピ概要のHTMLを許可リストのタグだけに絞り込む。
	// 許可タグ: p, br, b, strong, i, em, ul, ol, li, a(href)
	// リンクは絶対URLのみ許可し、target="_blank" と rel="noopener noreferrer" を付与する。
	SanitizeSummary(rawHTML string) string

	// PlainText はタグを全て取り除いたテキストを返す。
	// 材料や手順のようにテキストとして扱うフィールドに使う。
	PlainText(raw string) string
}

type contentSanitizer struct {
	summary *bluemonday.Policy
	strict  *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerを生成する。
// bluemondayのポリシーは生成後の並行利用が安全なので、アプリケーション全体で1つを共有する。
func NewContentSanitizer() ContentSanitizer {
	p := bluemonday.NewPolicy()
	p.AllowElements("p", "br", "b", "strong", "i", "em", "ul", "ol", "li")
	p.AllowAttrs("href").OnElements("a")
	p.AllowURLSchemes("http", "https")
	p.AllowRelativeURLs(false)
	p.RequireParseableURLs(true)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	return &contentSanitizer{
		summary: p,
		strict:  bluemonday.StrictPolicy(),
	}
}

func (s *contentSanitizer) SanitizeSummary(rawHTML string) string {
	return strings.TrimSpace(s.summary.Sanitize(rawHTML))
}

// StrictPolicyは実体参照をエスケープしたまま返すため、テキスト用途では元に戻す。
func (s *contentSanitizer) PlainText(raw string) string {
	return strings.TrimSpace(html.UnescapeString(s.strict.Sanitize(raw)))
}
