package planner

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"OnChainAgents/internal/capability"
	xerrors "OnChainAgents/internal/errors"
	"OnChainAgents/pkg/logger"
)

// SubTask 是推理引擎返回的一个子任务，Capabilities 为未经校验的能力名称。
type SubTask struct {
	Task         string
	Flow         string
	Capabilities []string
}

// Oracle 负责把任务描述拆分为有序的子任务列表。实现必须返回结构化结果，
// 无法得到合法结构时返回错误。
type Oracle interface {
	Decompose(ctx context.Context, description string, catalog []capability.Descriptor) ([]SubTask, error)
}

// Step 是一个经过校验的子任务，对应一个 Agent。
type Step struct {
	Rank         int
	Task         string
	Flow         string
	Capabilities capability.Set
	Dropped      []string
}

// Planner 调用 Oracle 并校验结果。
type Planner struct {
	oracle  Oracle
	timeout time.Duration
	log     *slog.Logger
}

// Option 配置 Planner。
type Option func(*Planner)

// WithTimeout 限制单次规划的耗时。
func WithTimeout(d time.Duration) Option {
	return func(p *Planner) {
		p.timeout = d
	}
}

// WithLogger 替换默认日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(p *Planner) {
		if l != nil {
			p.log = l
		}
	}
}

// New 创建 Planner。
func New(oracle Oracle, opts ...Option) *Planner {
	p := &Planner{oracle: oracle, log: logger.Named("planner")}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Plan 返回按排名排序的步骤。未知能力名称会被丢弃并记录告警，能力集合为空的
// 子任务不会生成步骤；没有任何适用子任务时返回空切片且不报错。
func (p *Planner) Plan(ctx context.Context, description string) ([]Step, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "任务描述不能为空")
	}
	if p.oracle == nil {
		return nil, xerrors.New(xerrors.CodePlanningUnavailable, "未配置规划引擎")
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	subtasks, err := p.oracle.Decompose(ctx, description, capability.Catalog())
	if err != nil {
		return nil, classify(ctx, err)
	}

	steps := make([]Step, 0, len(subtasks))
	for i, sub := range subtasks {
		set, dropped := capability.NewSet(sub.Capabilities...)
		if len(dropped) > 0 {
			p.log.Warn("丢弃未知能力", "subtask", i, "task", sub.Task, "dropped", dropped)
		}
		if set.Empty() {
			p.log.Info("子任务没有可用能力，已跳过", "subtask", i, "task", sub.Task)
			continue
		}
		steps = append(steps, Step{
			Rank:         len(steps),
			Task:         strings.TrimSpace(sub.Task),
			Flow:         strings.TrimSpace(sub.Flow),
			Capabilities: set,
			Dropped:      dropped,
		})
	}
	p.log.Info("规划完成", "subtasks", len(subtasks), "steps", len(steps))
	return steps, nil
}

func classify(ctx context.Context, err error) error {
	switch {
	case xerrors.HasCode(err, xerrors.CodePlanningUnavailable), xerrors.HasCode(err, xerrors.CodeTimeout):
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return xerrors.Wrap(xerrors.CodeTimeout, err, "规划超时")
	default:
		return xerrors.Wrap(xerrors.CodePlanningUnavailable, err, "规划引擎不可用")
	}
}
