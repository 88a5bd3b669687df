package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	xerrors "OnChainAgents/internal/errors"
	"OnChainAgents/internal/events"
)

// RunOptions 调整一次调度。
type RunOptions struct {
	// IdentityID 非空时要求目标代理持有该身份。
	IdentityID string
}

// Dispatcher 把提示词交给代理池中的指定代理执行。
type Dispatcher struct {
	pool *Pool
}

// NewDispatcher 创建调度器，事件与指标沿用代理池的配置。
func NewDispatcher(pool *Pool) *Dispatcher {
	return &Dispatcher{pool: pool}
}

// Run 在下标为 index 的代理上执行 prompt。代理查找失败等结构性错误直接返回；
// 推理过程本身失败时返回描述文本，错误为 nil。
func (d *Dispatcher) Run(ctx context.Context, index int, prompt string, opts RunOptions) (string, error) {
	a, err := d.pool.AgentAt(index)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(prompt) == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "提示词不能为空")
	}
	if opts.IdentityID != "" && opts.IdentityID != a.Wallet.ID() {
		return "", xerrors.New(xerrors.CodeConflict, "代理身份与请求不一致",
			xerrors.WithMetadata("identity_id", opts.IdentityID),
			xerrors.WithMetadata("agent", a.Name))
	}

	start := time.Now()
	result, runErr := a.binding.Run(ctx, prompt)
	elapsed := time.Since(start)

	status := "ok"
	if runErr != nil {
		status = string(xerrors.CodeOf(runErr))
		d.pool.log.Warn("agent run failed", slog.String("agent", a.Name), slog.Any("error", runErr))
		result = fmt.Sprintf("%s could not complete the request: %s", a.Name, describe(runErr))
	}
	d.pool.metrics.ObserveRun(status, elapsed)

	event := events.New(events.TypeAgentRun)
	event.Version = a.Version
	idx := a.Index
	event.AgentIndex = &idx
	event.IdentityID = a.Wallet.ID()
	event.Attributes = map[string]string{"outcome": status, "duration_ms": fmt.Sprint(elapsed.Milliseconds())}
	d.pool.publish(ctx, event)

	return result, nil
}
