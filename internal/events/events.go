// Package events 发布代理池与调度的生命周期事件。发布失败不会影响业务流程，
// 调用方只记录日志。
package events

import (
	"context"
	"fmt"
	"time"

	"OnChainAgents/internal/config"

	"github.com/google/uuid"
)

// Type 表示事件类型。
type Type string

const (
	TypePoolReplaced       Type = "pool.replaced"
	TypePoolReset          Type = "pool.reset"
	TypeIdentityProvisioned Type = "identity.provisioned"
	TypeAgentRun           Type = "agent.run"
)

// Event 是一条生命周期事件。
type Event struct {
	ID         string            `json:"id"`
	Type       Type              `json:"type"`
	OccurredAt time.Time         `json:"occurred_at"`
	Version    uint64            `json:"version,omitempty"`
	AgentIndex *int              `json:"agent_index,omitempty"`
	IdentityID string            `json:"identity_id,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// New 创建带有 ID 与时间戳的事件。
func New(typ Type) Event {
	return Event{ID: uuid.NewString(), Type: typ, OccurredAt: time.Now().UTC()}
}

// Publisher 负责投递事件。
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Open 根据配置创建发布器。
func Open(ctx context.Context, cfg config.EventsConfig) (Publisher, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryPublisher(int(cfg.MaxLen)), nil
	case "redis":
		return NewRedisPublisher(ctx, RedisConfig{
			Address:  cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			List:     cfg.RedisList,
			MaxLen:   cfg.MaxLen,
		})
	case "rabbitmq":
		return NewRabbitMQPublisher(RabbitMQConfig{
			URL:        cfg.AMQPURL,
			Exchange:   cfg.Exchange,
			RoutingKey: cfg.RoutingKey,
		})
	default:
		return nil, fmt.Errorf("未知的事件驱动 %s", cfg.Driver)
	}
}
