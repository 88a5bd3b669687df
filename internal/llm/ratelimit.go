package llm

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Limited 为底层客户端加上速率限制与单次调用超时。
type Limited struct {
	next    Client
	limiter *rate.Limiter
	timeout time.Duration
}

// NewRateLimited 包装 client。requestsPerMinute <= 0 表示不限速，timeout <= 0 表示不设超时。
func NewRateLimited(client Client, requestsPerMinute, burst int, timeout time.Duration) *Limited {
	l := &Limited{next: client, timeout: timeout}
	if requestsPerMinute > 0 {
		if burst <= 0 {
			burst = 1
		}
		l.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), burst)
	}
	return l
}

// Chat 等待令牌后调用底层客户端。
func (l *Limited) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			// 令牌来不及在截止时间前发放时，limiter 不会返回 DeadlineExceeded
			if _, ok := ctx.Deadline(); ok && ctx.Err() != context.Canceled {
				return nil, fmt.Errorf("等待限流令牌: %w: %w", context.DeadlineExceeded, err)
			}
			return nil, err
		}
	}
	return l.next.Chat(ctx, req)
}
