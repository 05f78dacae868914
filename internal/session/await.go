package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/sellerdesk/internal/model"
)

// awaitWithin はfnを待機上限付きで実行する。
// 上限を超えた場合はfnの完了を待たずにmodel.ErrTimeoutを返し、遅れて届いた結果は破棄する。
// fnに渡すコンテキストも同じ期限でキャンセルされる。
func awaitWithin[T any](ctx context.Context, limit time.Duration, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	ctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)

	go func() {
		v, err := fn(ctx)
		done <- result{value: v, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && errors.Is(res.err, context.DeadlineExceeded) {
			return zero, fmt.Errorf("%s: %w (%s)", op, model.ErrTimeout, limit)
		}
		return res.value, res.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%s: %w (%s)", op, model.ErrTimeout, limit)
		}
		return zero, fmt.Errorf("%s: %w: %w", op, model.ErrNetwork, ctx.Err())
	}
}
