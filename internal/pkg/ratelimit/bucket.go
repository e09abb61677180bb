package ratelimit

import (
	"sync"
	"time"
)

// bucket 令牌桶
// 按 refill 间隔补充令牌，上限 capacity；lastRefill 同时作为空闲回收的依据
type bucket struct {
	mu         sync.Mutex
	tokens     int
	capacity   int
	refill     time.Duration
	lastRefill time.Time
}

func newBucket(capacity int, refill time.Duration, now time.Time) *bucket {
	return &bucket{
		tokens:     capacity,
		capacity:   capacity,
		refill:     refill,
		lastRefill: now,
	}
}

// allow 补充经过时间对应的令牌后尝试扣减一个
// 拒绝时除补充外不改变已消费的状态
func (b *bucket) allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := now.Sub(b.lastRefill)
	if add := int(elapsed / b.refill); add > 0 {
		b.tokens = min(b.capacity, b.tokens+add)
		b.lastRefill = now
	}

	if b.tokens > 0 {
		b.tokens--
		return true
	}
	return false
}

// idleSince 最后一次补充的时间点
func (b *bucket) idleSince() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastRefill
}
