// Package security はゲートウェイ応答のサニタイズ機能を提供する。
//
// ストアはサーバーが返した値をそのまま保持し、ビューへ渡す直前に
// ユーザー投稿のテキスト（スポットの説明・名前、コメント）をサニタイズする。
// bluemondayの許可リストベースのポリシーを使用する。
package security

import (
	"html"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hitoshi/campusmap/internal/model"
)

// ContentSanitizer はユーザー投稿テキストのサニタイズ機能のインターフェース。
type ContentSanitizer interface {
	// SanitizeRichText はスポットの説明をサニタイズして安全なHTMLを返す。
	// 許可タグ（p, br, a, ul, ol, li, strong, em）のみを通過させ、
	// aタグには target="_blank" と rel="noopener noreferrer" を付与する。
	SanitizeRichText(raw string) string

	// SanitizePlainText はすべてのタグを除去したテキストを返す。
	// 実体参照は元の文字に戻すため、ビューはテキストとして描画すること。
	SanitizePlainText(raw string) string
}

// contentSanitizer はContentSanitizerの実装。ポリシーはスレッドセーフ。
type contentSanitizer struct {
	rich   *bluemonday.Policy
	strict *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerを生成する。
func NewContentSanitizer() *contentSanitizer {
	p := bluemonday.NewPolicy()

	// script, iframe, style や on* 属性は許可リストにないため除去される
	p.AllowElements(
		"p", "br", "ul", "ol", "li",
		"strong", "em",
	)

	p.AllowAttrs("href").OnElements("a")
	p.AllowURLSchemes("http", "https")
	p.AllowRelativeURLs(false)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	return &contentSanitizer{
		rich:   p,
		strict: bluemonday.StrictPolicy(),
	}
}

// SanitizeRichText はスポットの説明をサニタイズする。
func (s *contentSanitizer) SanitizeRichText(raw string) string {
	return s.rich.Sanitize(raw)
}

// SanitizePlainText はタグを除去したテキストを返す。
func (s *contentSanitizer) SanitizePlainText(raw string) string {
	return html.UnescapeString(s.strict.Sanitize(raw))
}

// SanitizePlace はスポットの表示用コピーを返す。元の値は変更しない。
func SanitizePlace(s ContentSanitizer, p model.Place) model.Place {
	p.Name = s.SanitizePlainText(p.Name)
	p.Description = s.SanitizeRichText(p.Description)
	if p.Comments != nil {
		comments := make([]model.Comment, len(p.Comments))
		for i, c := range p.Comments {
			comments[i] = SanitizeComment(s, c)
		}
		p.Comments = comments
	}
	return p
}

// SanitizePlaces はSanitizePlaceを一覧に適用した新しいスライスを返す。
func SanitizePlaces(s ContentSanitizer, places []model.Place) []model.Place {
	out := make([]model.Place, len(places))
	for i, p := range places {
		out[i] = SanitizePlace(s, p)
	}
	return out
}

// SanitizeComment はコメントの表示用コピーを返す。
func SanitizeComment(s ContentSanitizer, c model.Comment) model.Comment {
	c.Content = s.SanitizePlainText(c.Content)
	return c
}
