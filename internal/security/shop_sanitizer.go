// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ShopSanitizer は販売者が入力したショップ情報をUIへ渡す前に無害化する。
// bluemondayの許可リストベースのポリシーで、ショップ名はプレーンテキストに、
// 説明文は最小限の書式タグのみに制限する。
package security

import (
	"html"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hitoshi/sellerdesk/internal/model"
)

// ShopSanitizer はショップ情報のサニタイズを行う。スレッドセーフ。
type ShopSanitizer struct {
	text        *bluemonday.Policy
	description *bluemonday.Policy
}

// NewShopSanitizer はShopSanitizerを生成する。
// ポリシーの内容:
//   - ショップ名: 全タグを除去したプレーンテキスト
//   - 説明文: p, br, ul, ol, li, strong, em のみ許可。属性はすべて除去
//   - ロゴURL: httpsの絶対URLのみ許可。それ以外は空文字列
func NewShopSanitizer() *ShopSanitizer {
	desc := bluemonday.NewPolicy()
	desc.AllowElements("p", "br", "ul", "ol", "li", "strong", "em")

	return &ShopSanitizer{
		text:        bluemonday.StrictPolicy(),
		description: desc,
	}
}

// Text はタグを除去したプレーンテキストを返す。
// bluemondayがエスケープした文字実体は元に戻す（JSONで返すため）。
func (s *ShopSanitizer) Text(raw string) string {
	return strings.TrimSpace(html.UnescapeString(s.text.Sanitize(raw)))
}

// Description は許可タグのみを残した説明文を返す。
func (s *ShopSanitizer) Description(raw string) string {
	return strings.TrimSpace(s.description.Sanitize(raw))
}

// LogoURL はhttpsの絶対URLのみを返す。
func (s *ShopSanitizer) LogoURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return ""
	}
	return u.String()
}

// Shop はショップの表示用フィールドをサニタイズしたコピーを返す。
func (s *ShopSanitizer) Shop(shop model.Shop) model.Shop {
	out := shop.Clone()
	out.Name = s.Text(shop.Name)
	out.Description = s.Description(shop.Description)
	out.LogoURL = s.LogoURL(shop.LogoURL)
	return out
}
