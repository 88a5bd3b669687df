package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	xerrors "OnChainAgents/internal/errors"
	"OnChainAgents/internal/events"
	"OnChainAgents/internal/observability/metrics"
	"OnChainAgents/internal/planner"
	"OnChainAgents/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// Planner 把任务描述拆分为带能力集合的步骤。
type Planner interface {
	Plan(ctx context.Context, description string) ([]planner.Step, error)
}

// Pool 持有当前的代理版本。CreateAgents 与 Reset 串行执行，读取方只会看到
// 某一个完整的版本。
type Pool struct {
	planner     Planner
	identities  Identities
	binding     BindingConfig
	events      events.Publisher
	metrics     *metrics.Metrics
	log         *slog.Logger
	now         func() time.Time
	concurrency int

	writeMu sync.Mutex
	version uint64

	mu      sync.RWMutex
	current *Generation
}

// PoolOption 定义可选配置。
type PoolOption func(*Pool)

// WithEvents 设置事件发布器。
func WithEvents(p events.Publisher) PoolOption {
	return func(pool *Pool) { pool.events = p }
}

// WithMetrics 设置指标收集器。
func WithMetrics(m *metrics.Metrics) PoolOption {
	return func(pool *Pool) { pool.metrics = m }
}

// WithLogger 设置日志记录器。
func WithLogger(l *slog.Logger) PoolOption {
	return func(pool *Pool) {
		if l != nil {
			pool.log = l
		}
	}
}

// WithClock 替换时间来源。
func WithClock(now func() time.Time) PoolOption {
	return func(pool *Pool) {
		if now != nil {
			pool.now = now
		}
	}
}

// WithProvisionConcurrency 限制并发创建钱包的数量。
func WithProvisionConcurrency(n int) PoolOption {
	return func(pool *Pool) {
		if n > 0 {
			pool.concurrency = n
		}
	}
}

// NewPool 创建代理池。
func NewPool(p Planner, identities Identities, binding BindingConfig, opts ...PoolOption) *Pool {
	pool := &Pool{
		planner:     p,
		identities:  identities,
		binding:     binding,
		log:         logger.Named("pool"),
		now:         time.Now,
		concurrency: 4,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(pool)
		}
	}
	if pool.binding.Metrics == nil {
		pool.binding.Metrics = pool.metrics
	}
	pool.current = &Generation{CreatedAt: pool.now().UTC()}
	return pool
}

type createOptions struct {
	identityID string
}

// CreateOption 调整一次 CreateAgents 调用。
type CreateOption func(*createOptions)

// WithIdentity 让本次生成的所有代理共用已存在的身份，而不是各自创建新钱包。
func WithIdentity(id string) CreateOption {
	return func(o *createOptions) { o.identityID = id }
}

// CreateAgents 规划任务并用新的代理集合整体替换当前版本。任何一步失败时
// 当前版本保持不变；已持久化的新身份保留在存储中。
func (p *Pool) CreateAgents(ctx context.Context, description string, opts ...CreateOption) ([]*Agent, error) {
	if p.planner == nil || p.identities == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "代理池未初始化")
	}
	var co createOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&co)
		}
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	start := time.Now()
	steps, err := p.planner.Plan(ctx, description)
	if err != nil {
		p.metrics.ObservePlan(string(xerrors.CodeOf(err)), time.Since(start))
		return nil, err
	}
	p.metrics.ObservePlan("ok", time.Since(start))

	wallets, err := p.wallets(ctx, len(steps), co.identityID)
	if err != nil {
		return nil, err
	}

	version := p.version + 1
	agents := make([]*Agent, len(steps))
	for i, step := range steps {
		a := &Agent{
			Index:        i,
			Name:         fmt.Sprintf("agent%d", i+1),
			Wallet:       wallets[i],
			Capabilities: step.Capabilities,
			Task:         step.Task,
			Flow:         step.Flow,
			Version:      version,
		}
		a.binding = newBinding(p.binding, a)
		agents[i] = a
	}

	p.version = version
	gen := &Generation{Version: version, Task: description, CreatedAt: p.now().UTC(), agents: agents}
	p.mu.Lock()
	p.current = gen
	p.mu.Unlock()

	p.metrics.ObservePool(gen.Version, len(agents))
	p.log.Info("agent pool replaced", slog.Uint64("version", gen.Version), slog.Int("agents", len(agents)))
	event := events.New(events.TypePoolReplaced)
	event.Version = gen.Version
	event.Attributes = map[string]string{"agent_count": strconv.Itoa(len(agents)), "task": description}
	p.publish(ctx, event)

	return gen.Agents(), nil
}

// wallets 为每个步骤准备钱包：指定身份时共用，否则并发创建新身份。
func (p *Pool) wallets(ctx context.Context, n int, identityID string) ([]Wallet, error) {
	out := make([]Wallet, n)
	if n == 0 {
		return out, nil
	}
	if identityID != "" {
		w, err := p.identities.Load(ctx, identityID)
		p.metrics.ObserveIdentity("load", outcome(err))
		if err != nil {
			return nil, err
		}
		for i := range out {
			out[i] = w
		}
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i := range out {
		g.Go(func() error {
			w, err := p.identities.Provision(gctx)
			p.metrics.ObserveIdentity("provision", outcome(err))
			if err != nil {
				return err
			}
			out[i] = w
			event := events.New(events.TypeIdentityProvisioned)
			event.IdentityID = w.ID()
			p.publish(ctx, event)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Agents 返回当前版本的代理列表。
func (p *Pool) Agents() []*Agent {
	return p.Generation().Agents()
}

// Generation 返回当前版本。
func (p *Pool) Generation() *Generation {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// AgentAt 返回当前版本中下标为 index 的代理。
func (p *Pool) AgentAt(index int) (*Agent, error) {
	gen := p.Generation()
	if index < 0 || index >= gen.Len() {
		return nil, xerrors.New(xerrors.CodeIndexOutOfRange,
			fmt.Sprintf("代理下标 %d 超出范围 [0, %d)", index, gen.Len()),
			xerrors.WithMetadata("version", strconv.FormatUint(gen.Version, 10)))
	}
	return gen.agents[index], nil
}

// Reset 清空代理池。
func (p *Pool) Reset(ctx context.Context) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	p.version++
	gen := &Generation{Version: p.version, CreatedAt: p.now().UTC()}
	p.mu.Lock()
	p.current = gen
	p.mu.Unlock()

	p.metrics.ObservePool(gen.Version, 0)
	event := events.New(events.TypePoolReset)
	event.Version = gen.Version
	p.publish(ctx, event)
}

func (p *Pool) publish(ctx context.Context, event events.Event) {
	if p.events == nil {
		return
	}
	if err := p.events.Publish(context.WithoutCancel(ctx), event); err != nil {
		p.log.Warn("publish event failed", slog.String("type", string(event.Type)), slog.Any("error", err))
	}
}

func outcome(err error) string {
	if err != nil {
		return string(xerrors.CodeOf(err))
	}
	return "ok"
}
