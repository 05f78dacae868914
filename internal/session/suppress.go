package session

import (
	"strings"
	"time"

	"github.com/hitoshi/sellerdesk/internal/model"
	"golang.org/x/net/idna"
)

// suppression は明示的なログイン・登録の直後にIdPから届くSIGNED_INを
// 1回だけ読み飛ばすためのトークン。
// 対象ユーザー（メールアドレス）と有効期限を持ち、別ユーザーのイベントや
// 期限切れ後のイベントは抑止しない。
type suppression struct {
	email      string
	armedAt    time.Time
	generation uint64 // トークンを設定した操作の世代
}

func newSuppression(email string, now time.Time) *suppression {
	return &suppression{email: normalizeEmail(email), armedAt: now}
}

func (s *suppression) expired(now time.Time, window time.Duration) bool {
	return window > 0 && now.Sub(s.armedAt) > window
}

// matches はイベントのセッションがトークンの対象ユーザーのものかを判定する。
// セッションにメールアドレスが含まれない場合は一致とみなす。
func (s *suppression) matches(sess *model.Session) bool {
	if sess == nil {
		return false
	}
	email := normalizeEmail(sess.User.Email)
	return email == "" || email == s.email
}

// normalizeEmail は比較用にメールアドレスを正規化する。
// IdPは国際化ドメインをPunycodeで返すことがあるため、ドメイン部をASCII形式に揃える。
func normalizeEmail(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	at := strings.LastIndexByte(email, '@')
	if at < 0 {
		return email
	}
	domain, err := idna.Lookup.ToASCII(email[at+1:])
	if err != nil {
		return email
	}
	return email[:at+1] + domain
}
