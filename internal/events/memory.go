package events

import (
	"context"
	"errors"
	"sync"
)

// MemoryPublisher 在内存中保留最近的事件，主要用于测试与单机部署。
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
	max    int
	closed bool
}

// NewMemoryPublisher 创建内存发布器，size <= 0 时保留 256 条。
func NewMemoryPublisher(size int) *MemoryPublisher {
	if size <= 0 {
		size = 256
	}
	return &MemoryPublisher{max: size}
}

// Publish 记录事件，超出容量时丢弃最旧的事件。
func (p *MemoryPublisher) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("事件发布器已关闭")
	}
	p.events = append(p.events, event)
	if over := len(p.events) - p.max; over > 0 {
		p.events = append([]Event(nil), p.events[over:]...)
	}
	return nil
}

// Events 返回已记录事件的副本，按发布顺序排列。
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}

// Close 关闭发布器。
func (p *MemoryPublisher) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}
