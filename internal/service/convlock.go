package service

import (
	"hash/fnv"
	"sync"
)

const lockShards = 64

// convLocker 按会话 ID 分片的互斥锁
// 同一会话的交换串行执行，不同会话互不阻塞
type convLocker struct {
	shards [lockShards]sync.Mutex
}

func (l *convLocker) lock(conversationID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(conversationID))
	mu := &l.shards[h.Sum32()%lockShards]
	mu.Lock()
	return mu
}
