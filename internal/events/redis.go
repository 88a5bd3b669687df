package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisConfig 描述 Redis 事件列表的连接参数。
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	List     string
	MaxLen   int64
}

// RedisPublisher 使用 Redis list 保存最近的事件，最新的在表头。
type RedisPublisher struct {
	client redis.UniversalClient
	list   string
	maxLen int64
}

// NewRedisPublisher 创建 Redis 发布器。
func NewRedisPublisher(ctx context.Context, cfg RedisConfig) (*RedisPublisher, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return NewRedisPublisherWithClient(client, cfg.List, cfg.MaxLen), nil
}

// NewRedisPublisherWithClient 复用已有客户端。
func NewRedisPublisherWithClient(client redis.UniversalClient, list string, maxLen int64) *RedisPublisher {
	if list == "" {
		list = "onchain:events"
	}
	if maxLen <= 0 {
		maxLen = 1000
	}
	return &RedisPublisher{client: client, list: list, maxLen: maxLen}
}

// Publish 将事件写入列表头部并裁剪列表长度。
func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}
	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, p.list, payload)
		pipe.LTrim(ctx, p.list, 0, p.maxLen-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("Redis 发布事件失败: %w", err)
	}
	return nil
}

// Recent 读取最近 n 条事件，最新的在前。
func (p *RedisPublisher) Recent(ctx context.Context, n int64) ([]Event, error) {
	if n <= 0 {
		n = p.maxLen
	}
	raw, err := p.client.LRange(ctx, p.list, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("Redis 读取事件失败: %w", err)
	}
	out := make([]Event, 0, len(raw))
	for _, item := range raw {
		var event Event
		if err := json.Unmarshal([]byte(item), &event); err != nil {
			return nil, fmt.Errorf("解析事件失败: %w", err)
		}
		out = append(out, event)
	}
	return out, nil
}

// Close 关闭 Redis 连接。
func (p *RedisPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
