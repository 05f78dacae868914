package security

import (
	"strings"
	"testing"

	"github.com/hitoshi/sellerdesk/internal/model"
)

func TestShopSanitizer_Text(t *testing.T) {
	s := NewShopSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"プレーンテキストはそのまま", "Boutique Paris", "Boutique Paris"},
		{"タグは除去される", "<b>Bold</b> Shop", "Bold Shop"},
		{"scriptは内容ごと除去される", "Shop<script>alert(1)</script>", "Shop"},
		{"アンパサンドはエスケープされない", "Tom & Jerry", "Tom & Jerry"},
		{"前後の空白は除去される", "  Shop  ", "Shop"},
		{"空文字列", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Text(tt.input); got != tt.want {
				t.Errorf("Text(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestShopSanitizer_Description(t *testing.T) {
	s := NewShopSanitizer()

	tests := []struct {
		name            string
		input           string
		wantContains    []string
		wantNotContains []string
	}{
		{
			name:         "許可タグは残る",
			input:        "<p><strong>New</strong> collection</p>",
			wantContains: []string{"<p>", "<strong>New</strong>"},
		},
		{
			name:            "イベント属性は除去される",
			input:           `<p onclick="alert(1)">Hello</p>`,
			wantContains:    []string{"<p>Hello</p>"},
			wantNotContains: []string{"onclick"},
		},
		{
			name:            "iframeは除去される",
			input:           `Hi<iframe src="https://evil.example"></iframe>`,
			wantContains:    []string{"Hi"},
			wantNotContains: []string{"iframe"},
		},
		{
			name:            "リンクは許可されない",
			input:           `<a href="https://example.com">link</a>`,
			wantContains:    []string{"link"},
			wantNotContains: []string{"<a", "href"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.Description(tt.input)
			for _, want := range tt.wantContains {
				if !strings.Contains(got, want) {
					t.Errorf("Description() = %q, should contain %q", got, want)
				}
			}
			for _, unwanted := range tt.wantNotContains {
				if strings.Contains(got, unwanted) {
					t.Errorf("Description() = %q, should not contain %q", got, unwanted)
				}
			}
		})
	}
}

func TestShopSanitizer_LogoURL(t *testing.T) {
	s := NewShopSanitizer()

	tests := []struct {
		input string
		want  string
	}{
		{"https://cdn.example.com/logo.png", "https://cdn.example.com/logo.png"},
		{"http://cdn.example.com/logo.png", ""},
		{"javascript:alert(1)", ""},
		{"/relative/logo.png", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := s.LogoURL(tt.input); got != tt.want {
				t.Errorf("LogoURL(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestShopSanitizer_Shop_DoesNotModifyInput(t *testing.T) {
	s := NewShopSanitizer()
	in := model.Shop{
		ID:      "shop-1",
		Name:    "<em>Shop</em>",
		LogoURL: "http://insecure.example/logo.png",
		Types:   []model.StoreType{model.StoreTypeMen},
	}

	out := s.Shop(in)

	if out.Name != "Shop" {
		t.Errorf("Name = %q, want Shop", out.Name)
	}
	if out.LogoURL != "" {
		t.Errorf("LogoURL = %q, want empty", out.LogoURL)
	}
	if in.Name != "<em>Shop</em>" {
		t.Errorf("input was modified: %q", in.Name)
	}
	out.Types[0] = model.StoreTypeKids
	if in.Types[0] != model.StoreTypeMen {
		t.Error("output shares Types slice with input")
	}
}
