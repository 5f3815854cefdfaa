package retry

import (
	"context"
	"time"
)

// Policy 重试策略：最多 MaxAttempts 次，每次失败后等待时间翻倍
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// IsRetryable 为 nil 时所有错误都重试
	IsRetryable func(error) bool
}

// Default 3 次尝试，首次等待 500ms
func Default(isRetryable func(error) bool) Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		IsRetryable: isRetryable,
	}
}

// Delay 第 attempt 次（从 1 开始）失败后的等待时间
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return p.BaseDelay << (attempt - 1)
}

// Do 执行 fn，遇到可重试错误按策略重试，返回最后一次的错误
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 1; i <= attempts; i++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if i == attempts || (p.IsRetryable != nil && !p.IsRetryable(err)) {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Delay(i)):
		}
	}
	return err
}
