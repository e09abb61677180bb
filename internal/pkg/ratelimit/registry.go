package ratelimit

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Policy 限流策略
// Window 内最多允许 MaxRequests 次请求，即每 Window/MaxRequests 补充一个令牌。
// CoarseHint 为 true 时，拒绝响应的重试提示为整个窗口而非单个补充间隔
type Policy struct {
	Name        string
	MaxRequests int
	Window      time.Duration
	CoarseHint  bool
}

// RefillInterval 单个令牌的补充间隔
func (p Policy) RefillInterval() time.Duration {
	return p.Window / time.Duration(p.MaxRequests)
}

// RetryAfter 拒绝时给调用方的重试等待提示
func (p Policy) RetryAfter() time.Duration {
	if p.CoarseHint {
		return p.Window
	}
	return p.RefillInterval()
}

// Registry 按身份标识管理令牌桶
// 每个进程显式构造一次，由 server 持有并传给各适配器；
// 桶在首次请求时惰性创建，空闲超过两个窗口后被周期清扫回收
type Registry struct {
	policy Policy

	mu      sync.RWMutex
	buckets map[string]*bucket

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRegistry 创建限流注册表
func NewRegistry(policy Policy) *Registry {
	return &Registry{
		policy:  policy,
		buckets: make(map[string]*bucket),
		stopCh:  make(chan struct{}),
	}
}

// Policy 返回注册表的策略
func (r *Registry) Policy() Policy {
	return r.policy
}

// Allow 检查 identity 的一次请求是否放行
func (r *Registry) Allow(identity string) bool {
	return r.allowAt(identity, time.Now())
}

func (r *Registry) allowAt(identity string, now time.Time) bool {
	r.mu.RLock()
	b, exists := r.buckets[identity]
	r.mu.RUnlock()

	if !exists {
		r.mu.Lock()
		// 拿到写锁后再检查一次，避免同一身份的首次并发请求创建两个桶
		if b, exists = r.buckets[identity]; !exists {
			b = newBucket(r.policy.MaxRequests, r.policy.RefillInterval(), now)
			r.buckets[identity] = b
		}
		r.mu.Unlock()
	}

	return b.allow(now)
}

// RetryAfter 拒绝时的重试等待提示
func (r *Registry) RetryAfter() time.Duration {
	return r.policy.RetryAfter()
}

// StartSweeper 启动周期清扫，interval 通常为一小时
func (r *Registry) StartSweeper(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				removed := r.sweepOnce(time.Now())
				if removed > 0 {
					log.Debug().
						Str("policy", r.policy.Name).
						Int("removed", removed).
						Msg("swept idle rate limit buckets")
				}
			case <-r.stopCh:
				return
			}
		}
	}()
}

// sweepOnce 移除空闲超过两个窗口的桶，返回移除数量
func (r *Registry) sweepOnce(now time.Time) int {
	maxIdle := 2 * r.policy.Window

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for identity, b := range r.buckets {
		if now.Sub(b.idleSince()) > maxIdle {
			delete(r.buckets, identity)
			removed++
		}
	}
	return removed
}

// Stop 停止清扫协程
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
}

// Len 当前桶数量（用于测试和监控）
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.buckets)
}
