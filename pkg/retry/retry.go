package retry

import (
	"context"
	"time"
)

// Do 以指数退避重试 fn，最多 maxAttempts 次
// 第一次成功立即返回 nil，全部失败返回最后一次的错误
// 重试间隔期间响应 context 取消（交易所调用不能卡死整个周期）
func Do(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	var err error
	delay := baseDelay

	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		// 最后一次失败后不再等待
		if attempt < maxAttempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	return err
}
