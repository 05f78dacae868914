package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hitoshi/sellerdesk/internal/model"
)

// RunAutoRefresh は一定間隔でセッションの有効期限を確認し、期限が近ければトークンを更新する。
// コンテキストがキャンセルされるまで実行を継続する。
func (c *GoTrueClient) RunAutoRefresh(ctx context.Context) {
	ticker := time.NewTicker(c.config.RefreshInterval)
	defer ticker.Stop()

	c.logger.Info("トークン自動更新を開始しました",
		slog.Duration("interval", c.config.RefreshInterval),
		slog.Duration("margin", c.config.RefreshMargin),
	)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("トークン自動更新を停止しました")
			return
		case <-ticker.C:
			c.RefreshIfNeeded(ctx)
		}
	}
}

// RefreshIfNeeded は有効期限が近いセッションを1回だけ更新する。更新した場合はtrueを返す。
// 一時的な失敗は次回の確認で再試行する。
func (c *GoTrueClient) RefreshIfNeeded(ctx context.Context) bool {
	sess := c.current()
	if sess == nil || sess.Pending() || sess.RefreshToken == "" {
		return false
	}
	if !sess.ExpiresWithin(c.now(), c.config.RefreshMargin) {
		return false
	}

	if _, err := c.refresh(ctx, sess); err != nil {
		if errors.Is(err, model.ErrInvalidCredentials) {
			return false
		}
		c.logger.Warn("トークンの更新に失敗しました。次回の確認で再試行します",
			slog.String("user_id", sess.User.ID),
			slog.String("error", err.Error()),
		)
		return false
	}

	c.logger.Info("トークンを更新しました", slog.String("user_id", sess.User.ID))
	return true
}
