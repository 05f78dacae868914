package session

import (
	"testing"
	"time"

	"github.com/hitoshi/sellerdesk/internal/model"
)

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  Owner@Example.COM ", "owner@example.com"},
		{"owner@bücher.example", "owner@xn--bcher-kva.example"},
		{"owner@xn--bcher-kva.example", "owner@xn--bcher-kva.example"},
		{"no-at-sign", "no-at-sign"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := normalizeEmail(tt.in); got != tt.want {
			t.Errorf("normalizeEmail(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSuppression_Matches(t *testing.T) {
	s := newSuppression("Owner@Bücher.example", time.Now())

	tests := []struct {
		name string
		sess *model.Session
		want bool
	}{
		{"nil session", nil, false},
		{"same user in punycode", &model.Session{User: model.SessionUser{Email: "owner@xn--bcher-kva.example"}}, true},
		{"different user", &model.Session{User: model.SessionUser{Email: "other@example.com"}}, false},
		{"session without email", &model.Session{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.matches(tt.sess); got != tt.want {
				t.Errorf("matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSuppression_Expired(t *testing.T) {
	armed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := newSuppression("owner@example.com", armed)

	if s.expired(armed.Add(10*time.Second), 10*time.Second) {
		t.Error("token should still be valid at the window boundary")
	}
	if !s.expired(armed.Add(11*time.Second), 10*time.Second) {
		t.Error("token should expire after the window")
	}
	if s.expired(armed.Add(time.Hour), 0) {
		t.Error("zero window never expires")
	}
}
